// Package schedule implements spaced-repetition review scheduling for
// memories, derived from the SM-2 family of algorithms. Important memories
// earn a higher easiness factor and therefore longer gaps between reviews;
// weak or overdue memories float to the top of the review queue.
package schedule

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo-go/pkg/core"
	"github.com/mnemo-ai/mnemo-go/pkg/scoring"
	"github.com/mnemo-ai/mnemo-go/pkg/storage"
)

// Config holds the scheduler's numeric parameters.
type Config struct {
	// InitialIntervalDays is the gap after the first review.
	InitialIntervalDays float64 `json:"initial_interval_days"`

	// SecondIntervalDays is the gap after the second review.
	SecondIntervalDays float64 `json:"second_interval_days"`

	// QueueCap caps the size of each review queue.
	QueueCap int `json:"queue_cap"`

	// RecallBoost is added to strength on a successful recall.
	RecallBoost float64 `json:"recall_boost"`

	// RecallPenalty is subtracted from strength on a failed recall.
	RecallPenalty float64 `json:"recall_penalty"`

	// RelevanceFloor is the minimum context relevance for surfacing.
	RelevanceFloor float64 `json:"relevance_floor"`

	// DueBoost multiplies the blended surfacing score of a memory whose
	// review is due.
	DueBoost float64 `json:"due_boost"`

	// OverdueHorizonDays normalizes the overdue factor; the log-scaled
	// factor saturates around this many days late.
	OverdueHorizonDays float64 `json:"overdue_horizon_days"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		InitialIntervalDays: 1,
		SecondIntervalDays:  6,
		QueueCap:            20,
		RecallBoost:         0.2,
		RecallPenalty:       0.2,
		RelevanceFloor:      0.6,
		DueBoost:            1.5,
		OverdueHorizonDays:  30,
	}
}

// Easiness maps importance to an SM-2 easiness factor in [1.3, 3.0].
// Unimportant memories sit at the SM-2 floor of 1.3; a maximally important
// memory reaches 3.0 and spaces its reviews widest.
func Easiness(importance float64) float64 {
	return 1.3 + core.Clamp01(importance)*1.7
}

// IntervalDays returns the review interval after the given number of
// completed reviews. The first two intervals are fixed; each one after
// grows by the easiness factor.
func (c Config) IntervalDays(reviewCount int, importance float64) float64 {
	switch {
	case reviewCount <= 0:
		return c.InitialIntervalDays
	case reviewCount == 1:
		return c.SecondIntervalDays
	default:
		interval := c.SecondIntervalDays
		ease := Easiness(importance)
		for i := 2; i <= reviewCount; i++ {
			interval *= ease
		}
		return interval
	}
}

// NextReview computes the next review time for a memory based on its
// review count and importance.
func (c Config) NextReview(m *core.Memory, now time.Time) time.Time {
	days := c.IntervalDays(m.ReviewCount, m.ImportanceScore)
	return now.Add(time.Duration(days * 24 * float64(time.Hour)))
}

// IsDue reports whether a memory's review is due. A memory with no
// scheduled review is never due.
func (c Config) IsDue(m *core.Memory, now time.Time) bool {
	return m.NextReviewAt != nil && !m.NextReviewAt.After(now)
}

// Priority scores how urgently a memory needs review:
//
//	0.4*overdue + 0.3*importance + 0.3*(1 - strength)
//
// where overdue = ln(1 + daysOverdue) / ln(horizon), clamped to [0, 1].
// A memory that is not due has overdue 0 but can still carry priority from
// importance and weakness.
func (c Config) Priority(m *core.Memory, now time.Time) float64 {
	overdue := 0.0
	if m.NextReviewAt != nil && now.After(*m.NextReviewAt) {
		daysLate := now.Sub(*m.NextReviewAt).Hours() / 24.0
		overdue = math.Log(1+daysLate) / math.Log(c.OverdueHorizonDays)
		overdue = core.Clamp01(overdue)
	}
	return 0.4*overdue + 0.3*core.Clamp01(m.ImportanceScore) + 0.3*(1-core.Clamp01(m.Strength))
}

// Scheduler builds review queues and records recall outcomes against a
// store.
type Scheduler struct {
	cfg    Config
	store  storage.Store
	locks  *core.LockMap
	logger *zap.Logger
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler's logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithLockMap shares a lock map with other components mutating the same
// store.
func WithLockMap(lm *core.LockMap) Option {
	return func(s *Scheduler) { s.locks = lm }
}

// NewScheduler creates a scheduler over the given store.
func NewScheduler(cfg Config, store storage.Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:    cfg,
		store:  store,
		locks:  core.NewLockMap(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the scheduler's configuration.
func (s *Scheduler) Config() Config { return s.cfg }

// QueueEntry pairs a due memory with its computed priority.
type QueueEntry struct {
	Memory   *core.Memory `json:"memory"`
	Priority float64      `json:"priority"`
}

// ReviewQueue returns the user's due memories ordered by descending
// priority, capped at the configured queue size. Newly created memories
// that were never scheduled get their first review stamped as due now so
// they enter the rotation.
func (s *Scheduler) ReviewQueue(ctx context.Context, userID string, now time.Time) ([]QueueEntry, error) {
	mems, err := s.store.Query(ctx, &storage.Filter{UserID: userID})
	if err != nil {
		return nil, core.NewLifecycleError("schedule.queue", err)
	}

	entries := make([]QueueEntry, 0, len(mems))
	for _, m := range mems {
		if m.NextReviewAt == nil {
			if err := s.scheduleFirst(ctx, m.ID, now); err != nil {
				s.logger.Warn("initial review scheduling failed",
					zap.String("memory_id", m.ID), zap.Error(err))
			}
			continue
		}
		if !s.cfg.IsDue(m, now) {
			continue
		}
		entries = append(entries, QueueEntry{Memory: m, Priority: s.cfg.Priority(m, now)})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Priority > entries[j].Priority
	})
	if s.cfg.QueueCap > 0 && len(entries) > s.cfg.QueueCap {
		entries = entries[:s.cfg.QueueCap]
	}
	return entries, nil
}

func (s *Scheduler) scheduleFirst(ctx context.Context, id string, now time.Time) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	m, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if m.NextReviewAt != nil {
		return nil
	}
	due := now
	m.NextReviewAt = &due
	m.UpdatedAt = now
	return s.store.Put(ctx, m)
}

// RecordRecall updates a memory after a review attempt.
//
// On success the strength is boosted, the review count advances, and the
// next review is spaced out by the SM-2 interval. On failure the strength
// drops, the review count resets to zero, the memory is re-queued for
// tomorrow, and it is tagged for attention.
func (s *Scheduler) RecordRecall(ctx context.Context, id string, success bool, now time.Time) (*core.Memory, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	m, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, core.NewLifecycleError("schedule.recall", err)
	}

	if success {
		m.Strength = core.Clamp01(m.Strength + s.cfg.RecallBoost)
		m.ReviewCount++
		next := s.cfg.NextReview(m, now)
		m.NextReviewAt = &next
	} else {
		m.Strength = core.Clamp01(m.Strength - s.cfg.RecallPenalty)
		m.ReviewCount = 0
		next := now.Add(24 * time.Hour)
		m.NextReviewAt = &next
		m.AddTag(core.TagNeedsReview)
	}

	t := now
	m.LastAccessedAt = &t
	m.AccessCount++
	m.UpdatedAt = now

	if err := s.store.Put(ctx, m); err != nil {
		return nil, core.NewLifecycleError("schedule.recall", err)
	}
	return m, nil
}

// Surfaced pairs a memory with the score that put it in a context
// surfacing result.
type Surfaced struct {
	Memory    *core.Memory `json:"memory"`
	Relevance float64      `json:"relevance"`
	Score     float64      `json:"score"`
}

// SurfaceByContext returns memories relevant to the given context
// embedding, blended with review priority so memories that are both
// relevant and due rank highest:
//
//	score = 0.6*relevance + 0.4*priority, multiplied by DueBoost when due
//
// Memories below the relevance floor are excluded regardless of priority.
func (s *Scheduler) SurfaceByContext(ctx context.Context, userID string, contextEmbedding []float64, limit int, now time.Time) ([]Surfaced, error) {
	mems, err := s.store.Query(ctx, &storage.Filter{UserID: userID})
	if err != nil {
		return nil, core.NewLifecycleError("schedule.surface", err)
	}

	out := make([]Surfaced, 0, len(mems))
	for _, m := range mems {
		if len(m.Embedding) == 0 {
			continue
		}
		sim, err := scoring.CosineSimilarity(contextEmbedding, m.Embedding)
		if err != nil {
			continue
		}
		rel := scoring.RemapSimilarity(sim)
		if rel < s.cfg.RelevanceFloor {
			continue
		}
		score := 0.6*rel + 0.4*s.cfg.Priority(m, now)
		if s.cfg.IsDue(m, now) {
			score *= s.cfg.DueBoost
		}
		out = append(out, Surfaced{Memory: m, Relevance: rel, Score: score})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
