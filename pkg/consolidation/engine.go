package consolidation

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo-go/pkg/core"
	"github.com/mnemo-ai/mnemo-go/pkg/services"
	"github.com/mnemo-ai/mnemo-go/pkg/storage"
)

// Engine runs consolidation passes over a store.
type Engine struct {
	cfg        Config
	store      storage.Store
	summarizer services.Summarizer
	retry      services.RetryConfig
	node       *snowflake.Node
	locks      *core.LockMap
	logger     *zap.Logger
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithLockMap shares a lock map with other components mutating the same
// store.
func WithLockMap(lm *core.LockMap) EngineOption {
	return func(e *Engine) { e.locks = lm }
}

// WithRetryConfig sets the bounds on summarization calls.
func WithRetryConfig(rc services.RetryConfig) EngineOption {
	return func(e *Engine) { e.retry = rc }
}

// NewEngine creates a consolidation engine. The summarizer is required for
// the summarize strategies; pure link passes work without one.
func NewEngine(cfg Config, store storage.Store, summarizer services.Summarizer, opts ...EngineOption) (*Engine, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, core.NewLifecycleError("consolidation.new", err)
	}
	e := &Engine{
		cfg:        cfg,
		store:      store,
		summarizer: summarizer,
		retry:      services.DefaultRetryConfig(),
		node:       node,
		locks:      core.NewLockMap(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// Result summarizes a consolidation pass.
type Result struct {
	Clusters   int `json:"clusters"`
	Skipped    int `json:"skipped"`
	Linked     int `json:"linked"`
	Summarized int `json:"summarized"`
	Kept       int `json:"kept"`
	Created    int `json:"created"`
	Failed     int `json:"failed"`
}

// Run clusters the user's active memories and executes the selected
// strategy per cluster. Each cluster's mutations commit together through a
// single batch write; a summarization failure aborts that cluster only,
// leaving its members active for the next pass.
func (e *Engine) Run(ctx context.Context, userID string, now time.Time) (*Result, error) {
	mems, err := e.store.Query(ctx, &storage.Filter{UserID: userID})
	if err != nil {
		return nil, core.NewLifecycleError("consolidation.run", err)
	}

	clusters := e.cfg.ClusterMemories(mems)
	res := &Result{Clusters: len(clusters)}

	for _, cl := range clusters {
		if err := ctx.Err(); err != nil {
			return res, core.NewLifecycleError("consolidation.run", err)
		}

		strategy := e.cfg.SelectStrategy(cl)
		switch strategy {
		case StrategySkip:
			res.Skipped++
		case StrategyLink:
			if err := e.linkCluster(ctx, cl, now); err != nil {
				res.Failed++
				e.logger.Warn("link merge failed",
					zap.String("seed_id", cl.Members[0].ID), zap.Error(err))
				continue
			}
			res.Linked++
		default:
			kept, summarized, err := e.summarizeCluster(ctx, cl, strategy, now)
			if err != nil {
				res.Failed++
				e.logger.Warn("cluster summarization aborted",
					zap.String("seed_id", cl.Members[0].ID),
					zap.String("strategy", string(strategy)),
					zap.Error(err))
				continue
			}
			res.Summarized += summarized
			res.Kept += kept
			if summarized > 0 {
				res.Created++
			}
		}
	}

	e.logger.Info("consolidation pass complete",
		zap.String("user_id", userID),
		zap.Int("clusters", res.Clusters),
		zap.Int("linked", res.Linked),
		zap.Int("created", res.Created),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// linkCluster adds bidirectional links between all members and commits them
// as one batch.
func (e *Engine) linkCluster(ctx context.Context, cl *Cluster, now time.Time) error {
	unlockAll := e.lockMembers(cl)
	defer unlockAll()

	for i := 0; i < len(cl.Members); i++ {
		for j := i + 1; j < len(cl.Members); j++ {
			core.Link(cl.Members[i], cl.Members[j])
		}
	}
	for _, m := range cl.Members {
		m.UpdatedAt = now
	}
	return e.store.PutBatch(ctx, cl.Members)
}

// summarizeCluster invokes the summarization service for the cluster's
// non-kept members, builds the replacement memory, and commits the new
// memory together with the archival of the summarized members. Returns the
// kept and summarized member counts.
func (e *Engine) summarizeCluster(ctx context.Context, cl *Cluster, strategy Strategy, now time.Time) (int, int, error) {
	if e.summarizer == nil {
		return 0, 0, core.NewLifecycleError("consolidation.summarize",
			fmt.Errorf("no summarizer configured"))
	}

	kept, summarized := e.cfg.Partition(cl, strategy)
	if len(summarized) < 2 {
		// Nothing worth merging once the kept members are removed.
		return len(kept), 0, nil
	}

	mode := services.ModeSummarize
	if strategy == StrategyNarrative {
		mode = services.ModeNarrative
	}

	req := &services.SummaryRequest{Mode: mode}
	for _, m := range summarized {
		req.Contents = append(req.Contents, m.Content)
		req.MemoryIDs = append(req.MemoryIDs, m.ID)
	}

	var summary *services.Summary
	err := services.WithRetry(ctx, e.retry, func(ctx context.Context) error {
		var callErr error
		summary, callErr = e.summarizer.Summarize(ctx, req)
		return callErr
	})
	if err != nil {
		return 0, 0, core.NewLifecycleError("consolidation.summarize", err)
	}

	unlockAll := e.lockMembers(cl)
	defer unlockAll()

	merged := e.buildSummaryMemory(cl, summarized, summary, now)
	batch := make([]*core.Memory, 0, len(summarized)+1)
	batch = append(batch, merged)
	for _, m := range summarized {
		m.Status = core.StatusArchived
		m.ConsolidatedInto = merged.ID
		m.UpdatedAt = now
		batch = append(batch, m)
	}

	if err := e.store.PutBatch(ctx, batch); err != nil {
		return 0, 0, core.NewLifecycleError("consolidation.commit", err)
	}
	return len(kept), len(summarized), nil
}

// buildSummaryMemory constructs the replacement memory for a summarized
// set: the cluster's earliest creation time (kept members included), the
// cluster centroid as its embedding, the union of the summarized members'
// tags plus the consolidated marker, the summarized member ids in
// consolidated_from, and the maximum summarized-member importance.
func (e *Engine) buildSummaryMemory(cl *Cluster, summarized []*core.Memory, summary *services.Summary, now time.Time) *core.Memory {
	earliest := cl.EarliestCreatedAt()
	maxImportance := summarized[0].ImportanceScore
	seen := make(map[string]bool)
	tags := make([]string, 0)
	ids := make([]string, 0, len(summarized))

	for _, m := range summarized {
		if m.ImportanceScore > maxImportance {
			maxImportance = m.ImportanceScore
		}
		for _, t := range m.Tags {
			if !seen[t] {
				seen[t] = true
				tags = append(tags, t)
			}
		}
		ids = append(ids, m.ID)
	}
	if !seen[core.TagConsolidated] {
		tags = append(tags, core.TagConsolidated)
	}

	merged := &core.Memory{
		ID:               e.node.Generate().String(),
		UserID:           summarized[0].UserID,
		Content:          summary.Text,
		Embedding:        cl.Centroid,
		Type:             core.TypeSemantic,
		Status:           core.StatusActive,
		Tags:             tags,
		CreatedAt:        earliest,
		UpdatedAt:        now,
		ConsolidatedFrom: ids,
		ImportanceScore:  core.Clamp01(maxImportance),
		Strength:         1.0,
	}
	if summarized[0].EmbeddingModel != "" {
		merged.EmbeddingModel = summarized[0].EmbeddingModel
	}
	return merged
}

func (e *Engine) lockMembers(cl *Cluster) func() {
	unlocks := make([]func(), 0, len(cl.Members))
	for _, m := range cl.Members {
		unlocks = append(unlocks, e.locks.Lock(m.ID))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}
