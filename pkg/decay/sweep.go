package decay

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo-go/pkg/core"
	"github.com/mnemo-ai/mnemo-go/pkg/storage"
)

// Engine runs batch decay passes over a store.
type Engine struct {
	cfg    Config
	store  storage.Store
	locks  *core.LockMap
	logger *zap.Logger
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

// NewEngine creates a decay engine over the given store.
func NewEngine(cfg Config, store storage.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		cfg:    cfg,
		store:  store,
		locks:  core.NewLockMap(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// SweepResult summarizes a single decay pass.
type SweepResult struct {
	Examined   int `json:"examined"`
	Decayed    int `json:"decayed"`
	Archived   int `json:"archived"`
	Reverted   int `json:"reverted"`
	Conflicted int `json:"conflicted"`
}

// Sweep applies decay to every active and archived memory of a user (or all
// users when userID is empty) and advances lifecycle states. Each memory is
// mutated under its own lock; a version conflict means another writer got
// there first and the record is simply skipped.
func (e *Engine) Sweep(ctx context.Context, userID string, now time.Time) (*SweepResult, error) {
	mems, err := e.store.Query(ctx, &storage.Filter{
		UserID:          userID,
		IncludeArchived: true,
	})
	if err != nil {
		return nil, core.NewLifecycleError("decay.sweep", err)
	}

	res := &SweepResult{}
	for _, m := range mems {
		if err := ctx.Err(); err != nil {
			return res, core.NewLifecycleError("decay.sweep", err)
		}
		res.Examined++
		if err := e.sweepOne(ctx, m.ID, now, res); err != nil {
			if errors.Is(err, core.ErrVersionConflict) || errors.Is(err, core.ErrNotFound) {
				res.Conflicted++
				continue
			}
			return res, err
		}
	}

	e.logger.Info("decay sweep complete",
		zap.String("user_id", userID),
		zap.Int("examined", res.Examined),
		zap.Int("decayed", res.Decayed),
		zap.Int("archived", res.Archived),
	)
	return res, nil
}

func (e *Engine) sweepOne(ctx context.Context, id string, now time.Time, res *SweepResult) error {
	unlock := e.locks.Lock(id)
	defer unlock()

	m, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}

	elapsed := now.Sub(m.UpdatedAt)
	before := m.Strength
	statusBefore := m.Status

	e.cfg.Apply(m, elapsed, now)
	changed := e.cfg.Transition(m, now)

	if m.Strength == before && !changed {
		return nil
	}
	m.UpdatedAt = now

	if err := e.store.Put(ctx, m); err != nil {
		return err
	}

	if m.Strength < before {
		res.Decayed++
	}
	if changed {
		switch {
		case m.Status == core.StatusArchived:
			res.Archived++
		case statusBefore == core.StatusArchived && m.Status == core.StatusActive:
			res.Reverted++
		}
	}
	return nil
}

// Access reinforces a memory on retrieval: strength is boosted, access
// counters advance, and an archived memory that recovers above the soft
// threshold returns to active. The updated record is persisted and returned.
func (e *Engine) Access(ctx context.Context, id string, now time.Time) (*core.Memory, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	m, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, core.NewLifecycleError("decay.access", err)
	}
	e.cfg.Reinforce(m, now)
	if err := e.store.Put(ctx, m); err != nil {
		return nil, core.NewLifecycleError("decay.access", err)
	}
	return m, nil
}
