package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo-go/pkg/consolidation"
	"github.com/mnemo-ai/mnemo-go/pkg/core"
	"github.com/mnemo-ai/mnemo-go/pkg/decay"
	"github.com/mnemo-ai/mnemo-go/pkg/forgetting"
	"github.com/mnemo-ai/mnemo-go/pkg/schedule"
	"github.com/mnemo-ai/mnemo-go/pkg/scoring"
	"github.com/mnemo-ai/mnemo-go/pkg/services"
	openaisvc "github.com/mnemo-ai/mnemo-go/pkg/services/openai"
	"github.com/mnemo-ai/mnemo-go/pkg/storage"
	"github.com/mnemo-ai/mnemo-go/pkg/storage/memstore"
	"github.com/mnemo-ai/mnemo-go/pkg/storage/mysql"
	"github.com/mnemo-ai/mnemo-go/pkg/storage/postgres"
	"github.com/mnemo-ai/mnemo-go/pkg/storage/sqlite"
)

// Engine bundles every lifecycle component over one store and runs the
// maintenance pipeline: decay, then consolidation when triggered, then
// forgetting, then the purge pass.
type Engine struct {
	cfg    *Config
	store  storage.Store
	locks  *core.LockMap
	logger *zap.Logger

	scorer        *scoring.Scorer
	decay         *decay.Engine
	consolidation *consolidation.Engine
	forgetting    *forgetting.Engine
	scheduler     *schedule.Scheduler

	auditClose func() error

	mu      sync.Mutex
	lastRun time.Time
}

// EngineOption customizes engine construction.
type EngineOption func(*engineDeps)

type engineDeps struct {
	logger     *zap.Logger
	store      storage.Store
	summarizer services.Summarizer
	salience   services.SalienceScorer
	audit      forgetting.AuditSink
}

// WithLogger sets the logger used by every component.
func WithLogger(l *zap.Logger) EngineOption {
	return func(d *engineDeps) { d.logger = l }
}

// WithStore injects a store, overriding the configured provider. Used by
// tests and by callers that manage their own connections.
func WithStore(s storage.Store) EngineOption {
	return func(d *engineDeps) { d.store = s }
}

// WithSummarizer injects a summarization service, overriding the
// configured endpoint.
func WithSummarizer(s services.Summarizer) EngineOption {
	return func(d *engineDeps) { d.summarizer = s }
}

// WithSalienceScorer injects a salience service, overriding the configured
// endpoint.
func WithSalienceScorer(s services.SalienceScorer) EngineOption {
	return func(d *engineDeps) { d.salience = s }
}

// WithAuditSink injects an audit sink, overriding the configured log path.
func WithAuditSink(s forgetting.AuditSink) EngineOption {
	return func(d *engineDeps) { d.audit = s }
}

// NewEngine validates the configuration and wires every component.
func NewEngine(cfg *Config, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	deps := &engineDeps{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(deps)
	}

	e := &Engine{
		cfg:    cfg,
		locks:  core.NewLockMap(),
		logger: deps.logger,
	}

	store := deps.store
	if store == nil {
		var err error
		store, err = openStore(cfg.Store)
		if err != nil {
			return nil, err
		}
	}
	e.store = store

	summarizer := deps.summarizer
	salience := deps.salience
	if (summarizer == nil || salience == nil) && cfg.Services.APIKey != "" {
		client, err := openaisvc.NewClient(&openaisvc.Config{
			APIKey:  cfg.Services.APIKey,
			Model:   cfg.Services.Model,
			BaseURL: cfg.Services.BaseURL,
		}, openaisvc.WithLogger(deps.logger))
		if err != nil {
			return nil, err
		}
		if summarizer == nil {
			summarizer = client
		}
		if salience == nil {
			salience = client
		}
	}

	audit := deps.audit
	if audit == nil {
		if cfg.AuditLogPath != "" {
			sink, err := forgetting.NewFileAuditSink(cfg.AuditLogPath)
			if err != nil {
				return nil, err
			}
			audit = sink
			e.auditClose = sink.Close
		} else {
			audit = forgetting.NewLogAuditSink(deps.logger)
		}
	}

	scorerOpts := []scoring.Option{scoring.WithLogger(deps.logger)}
	if salience != nil {
		scorerOpts = append(scorerOpts, scoring.WithSalienceScorer(salience))
	}
	scorer, err := scoring.NewScorer(cfg.Importance, scorerOpts...)
	if err != nil {
		return nil, err
	}
	e.scorer = scorer

	e.decay = decay.NewEngine(cfg.Decay, store,
		decay.WithLogger(deps.logger), decay.WithLockMap(e.locks))

	cons, err := consolidation.NewEngine(cfg.Consolidation, store, summarizer,
		consolidation.WithLogger(deps.logger), consolidation.WithLockMap(e.locks))
	if err != nil {
		return nil, err
	}
	e.consolidation = cons

	forg, err := forgetting.NewEngine(cfg.Forgetting, store, audit,
		forgetting.WithLogger(deps.logger), forgetting.WithLockMap(e.locks))
	if err != nil {
		return nil, err
	}
	e.forgetting = forg

	e.scheduler = schedule.NewScheduler(cfg.Schedule, store,
		schedule.WithLogger(deps.logger), schedule.WithLockMap(e.locks))

	return e, nil
}

func openStore(cfg StoreConfig) (storage.Store, error) {
	switch cfg.Provider {
	case "memory":
		return memstore.New(), nil
	case "sqlite":
		return sqlite.NewClient(&sqlite.Config{DBPath: cfg.DBPath, Table: cfg.Table})
	case "postgres":
		return postgres.NewClient(&postgres.Config{DSN: cfg.DSN, Table: cfg.Table})
	case "mysql":
		return mysql.NewClient(&mysql.Config{DSN: cfg.DSN, Table: cfg.Table})
	default:
		return nil, core.NewLifecycleError("openStore",
			fmt.Errorf("%w: unknown store provider %q", core.ErrInvalidConfig, cfg.Provider))
	}
}

// Store returns the underlying store.
func (e *Engine) Store() storage.Store { return e.store }

// Scorer returns the importance scorer.
func (e *Engine) Scorer() *scoring.Scorer { return e.scorer }

// Decay returns the decay engine.
func (e *Engine) Decay() *decay.Engine { return e.decay }

// Consolidation returns the consolidation engine.
func (e *Engine) Consolidation() *consolidation.Engine { return e.consolidation }

// Forgetting returns the forgetting engine.
func (e *Engine) Forgetting() *forgetting.Engine { return e.forgetting }

// Scheduler returns the spaced-repetition scheduler.
func (e *Engine) Scheduler() *schedule.Scheduler { return e.scheduler }

// MaintenanceResult aggregates the outcomes of one pipeline run.
type MaintenanceResult struct {
	Decay         *decay.SweepResult      `json:"decay"`
	Consolidation *consolidation.Result   `json:"consolidation,omitempty"`
	Forgetting    *forgetting.SweepResult `json:"forgetting"`
	Purged        int                     `json:"purged"`
}

// RunMaintenance executes the batch pipeline for a user (or all users when
// userID is empty): decay first, consolidation when the trigger conditions
// hold, forgetting, then the purge pass for records past their grace
// period.
func (e *Engine) RunMaintenance(ctx context.Context, userID string, now time.Time) (*MaintenanceResult, error) {
	res := &MaintenanceResult{}

	decayRes, err := e.decay.Sweep(ctx, userID, now)
	if err != nil {
		return res, err
	}
	res.Decay = decayRes

	triggered, err := e.consolidationDue(ctx, userID, now)
	if err != nil {
		return res, err
	}
	if triggered {
		consRes, err := e.consolidation.Run(ctx, userID, now)
		if err != nil {
			return res, err
		}
		res.Consolidation = consRes
		e.mu.Lock()
		e.lastRun = now
		e.mu.Unlock()
	}

	forgRes, err := e.forgetting.Sweep(ctx, userID, now)
	if err != nil {
		return res, err
	}
	res.Forgetting = forgRes

	purged, err := e.forgetting.Purge(ctx, now)
	if err != nil {
		return res, err
	}
	res.Purged = purged

	e.logger.Info("maintenance pipeline complete",
		zap.String("user_id", userID),
		zap.Bool("consolidated", res.Consolidation != nil),
		zap.Int("purged", purged),
	)
	return res, nil
}

// consolidationDue combines the count/utilization trigger with the
// scheduled-time trigger. Utilization is the active count relative to the
// configured ceiling.
func (e *Engine) consolidationDue(ctx context.Context, userID string, now time.Time) (bool, error) {
	count, err := e.store.Count(ctx, &storage.Filter{UserID: userID})
	if err != nil {
		return false, core.NewLifecycleError("lifecycle.trigger", err)
	}

	utilization := 0.0
	if e.cfg.Consolidation.MaxMemories > 0 {
		utilization = float64(count) / float64(e.cfg.Consolidation.MaxMemories) * 100
	}
	if e.cfg.Consolidation.ShouldTrigger(count, utilization) {
		return true, nil
	}

	e.mu.Lock()
	lastRun := e.lastRun
	e.mu.Unlock()
	return e.cfg.Consolidation.IsScheduledTime(lastRun, now), nil
}

// Stats summarizes the state of a user's memories.
type Stats struct {
	Active        int     `json:"active"`
	Archived      int     `json:"archived"`
	AvgImportance float64 `json:"avg_importance"`
	AvgStrength   float64 `json:"avg_strength"`
	Due           int     `json:"due"`
}

// Stats computes aggregate counts and averages over the user's active and
// archived memories.
func (e *Engine) Stats(ctx context.Context, userID string, now time.Time) (*Stats, error) {
	mems, err := e.store.Query(ctx, &storage.Filter{
		UserID:          userID,
		IncludeArchived: true,
	})
	if err != nil {
		return nil, core.NewLifecycleError("lifecycle.stats", err)
	}

	st := &Stats{}
	var impSum, strSum float64
	for _, m := range mems {
		switch m.Status {
		case core.StatusActive:
			st.Active++
		case core.StatusArchived:
			st.Archived++
		}
		impSum += m.ImportanceScore
		strSum += m.Strength
		if e.cfg.Schedule.IsDue(m, now) {
			st.Due++
		}
	}
	if len(mems) > 0 {
		st.AvgImportance = impSum / float64(len(mems))
		st.AvgStrength = strSum / float64(len(mems))
	}
	return st, nil
}

// RepairLinks restores link symmetry for a user's memories: when A links
// to B but not the reverse, the missing direction is added and the repair
// is logged. Dangling links to missing memories are dropped.
func (e *Engine) RepairLinks(ctx context.Context, userID string) (int, error) {
	mems, err := e.store.Query(ctx, &storage.Filter{
		UserID:          userID,
		IncludeArchived: true,
	})
	if err != nil {
		return 0, core.NewLifecycleError("lifecycle.repair", err)
	}

	byID := make(map[string]*core.Memory, len(mems))
	for _, m := range mems {
		byID[m.ID] = m
	}

	repaired := 0
	dirty := make(map[string]*core.Memory)
	for _, m := range mems {
		kept := m.Links[:0]
		for _, target := range m.Links {
			other, ok := byID[target]
			if !ok {
				e.logger.Warn("dropping dangling link",
					zap.String("from", m.ID), zap.String("to", target))
				dirty[m.ID] = m
				repaired++
				continue
			}
			kept = append(kept, target)
			if !other.HasLink(m.ID) {
				other.Links = append(other.Links, m.ID)
				e.logger.Warn("restored asymmetric link",
					zap.String("from", target), zap.String("to", m.ID))
				dirty[other.ID] = other
				repaired++
			}
		}
		m.Links = kept
	}

	for _, m := range dirty {
		unlock := e.locks.Lock(m.ID)
		err := e.store.Put(ctx, m)
		unlock()
		if err != nil {
			return repaired, core.NewLifecycleError("lifecycle.repair", err)
		}
	}
	return repaired, nil
}

// Close releases the store and the audit log.
func (e *Engine) Close() error {
	var firstErr error
	if e.auditClose != nil {
		if err := e.auditClose(); err != nil {
			firstErr = err
		}
	}
	if err := e.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
