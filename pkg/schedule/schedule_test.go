package schedule_test

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-ai/mnemo-go/pkg/core"
	"github.com/mnemo-ai/mnemo-go/pkg/schedule"
	"github.com/mnemo-ai/mnemo-go/pkg/storage/memstore"
)

func TestEasinessRange(t *testing.T) {
	assert.InDelta(t, 1.3, schedule.Easiness(0), 1e-9)
	assert.InDelta(t, 3.0, schedule.Easiness(1), 1e-9)
	assert.InDelta(t, 2.15, schedule.Easiness(0.5), 1e-9)
	// Out-of-range importance is clamped.
	assert.InDelta(t, 1.3, schedule.Easiness(-2), 1e-9)
	assert.InDelta(t, 3.0, schedule.Easiness(5), 1e-9)
}

func TestIntervalDaysSequence(t *testing.T) {
	cfg := schedule.DefaultConfig()

	assert.InDelta(t, 1, cfg.IntervalDays(0, 0.5), 1e-9)
	assert.InDelta(t, 6, cfg.IntervalDays(1, 0.5), 1e-9)

	ease := schedule.Easiness(0.5)
	assert.InDelta(t, 6*ease, cfg.IntervalDays(2, 0.5), 1e-9)
	assert.InDelta(t, 6*ease*ease, cfg.IntervalDays(3, 0.5), 1e-9)

	// High importance spaces reviews wider than low importance.
	assert.Greater(t, cfg.IntervalDays(3, 0.9), cfg.IntervalDays(3, 0.1))
}

func TestPriority(t *testing.T) {
	cfg := schedule.DefaultConfig()
	now := time.Now()

	// Not yet scheduled: the overdue term is zero.
	m := &core.Memory{ImportanceScore: 0.5, Strength: 0.5}
	assert.InDelta(t, 0.3*0.5+0.3*0.5, cfg.Priority(m, now), 1e-9)

	// Five days late: overdue = ln(6)/ln(30).
	partial := now.AddDate(0, 0, -5)
	m.NextReviewAt = &partial
	wantOverdue := math.Log(6) / math.Log(30)
	assert.InDelta(t, 0.4*wantOverdue+0.3*0.5+0.3*0.5, cfg.Priority(m, now), 1e-3)

	// At the horizon the overdue term saturates.
	late := now.AddDate(0, 0, -30)
	m.NextReviewAt = &late
	assert.InDelta(t, 0.4+0.3*0.5+0.3*0.5, cfg.Priority(m, now), 1e-3)

	// Way past the horizon it stays clamped at 1.
	ancient := now.AddDate(0, 0, -900)
	m.NextReviewAt = &ancient
	assert.InDelta(t, 0.4+0.3*0.5+0.3*0.5, cfg.Priority(m, now), 1e-9)

	// Weak, important, overdue memories approach the maximum.
	urgent := &core.Memory{ImportanceScore: 1, Strength: 0, NextReviewAt: &ancient}
	assert.InDelta(t, 1.0, cfg.Priority(urgent, now), 1e-9)
}

func seedScheduled(t *testing.T, store *memstore.Store, id string, imp, strength float64, due time.Time) {
	t.Helper()
	m := core.Memory{
		ID: id, UserID: "u", Type: core.TypeSemantic, Status: core.StatusActive,
		Content:   "note " + id,
		CreatedAt: due.AddDate(0, 0, -30), UpdatedAt: due,
		ImportanceScore: imp, Strength: strength,
		NextReviewAt: &due,
	}
	require.NoError(t, store.Put(context.Background(), &m))
}

func TestReviewQueueOrderingAndCap(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	now := time.Now()

	// Overdue and weak beats merely due and strong.
	seedScheduled(t, store, "weak-overdue", 0.5, 0.1, now.AddDate(0, 0, -10))
	seedScheduled(t, store, "strong-due", 0.5, 0.9, now.Add(-time.Minute))
	seedScheduled(t, store, "future", 0.9, 0.1, now.Add(48*time.Hour))

	sched := schedule.NewScheduler(schedule.DefaultConfig(), store)
	queue, err := sched.ReviewQueue(ctx, "u", now)
	require.NoError(t, err)

	require.Len(t, queue, 2)
	assert.Equal(t, "weak-overdue", queue[0].Memory.ID)
	assert.Equal(t, "strong-due", queue[1].Memory.ID)
	assert.Greater(t, queue[0].Priority, queue[1].Priority)
}

func TestReviewQueueCap(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 30; i++ {
		seedScheduled(t, store, fmt.Sprintf("m-%02d", i), 0.5, 0.5, now.Add(-time.Duration(i+1)*time.Hour))
	}

	sched := schedule.NewScheduler(schedule.DefaultConfig(), store)
	queue, err := sched.ReviewQueue(ctx, "u", now)
	require.NoError(t, err)
	assert.Len(t, queue, 20)
}

func TestReviewQueueStampsFirstReview(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	now := time.Now()

	m := core.Memory{
		ID: "fresh", UserID: "u", Type: core.TypeEpisodic, Status: core.StatusActive,
		Content:   "never scheduled",
		CreatedAt: now, UpdatedAt: now,
		ImportanceScore: 0.5, Strength: 1,
	}
	require.NoError(t, store.Put(ctx, &m))

	sched := schedule.NewScheduler(schedule.DefaultConfig(), store)

	// First pass stamps the initial review as due now but does not queue it.
	queue, err := sched.ReviewQueue(ctx, "u", now)
	require.NoError(t, err)
	assert.Empty(t, queue)

	got, err := store.Get(ctx, "fresh")
	require.NoError(t, err)
	require.NotNil(t, got.NextReviewAt)
	assert.False(t, got.NextReviewAt.After(now))

	// Second pass sees it as due.
	queue, err = sched.ReviewQueue(ctx, "u", now)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, "fresh", queue[0].Memory.ID)
}

func TestRecordRecallSuccess(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	now := time.Now()

	seedScheduled(t, store, "rec", 0.5, 0.5, now.Add(-time.Hour))

	sched := schedule.NewScheduler(schedule.DefaultConfig(), store)
	m, err := sched.RecordRecall(ctx, "rec", true, now)
	require.NoError(t, err)

	assert.InDelta(t, 0.7, m.Strength, 1e-9)
	assert.Equal(t, 1, m.ReviewCount)
	assert.Equal(t, 1, m.AccessCount)
	require.NotNil(t, m.NextReviewAt)
	// One completed review puts the next one six days out.
	assert.InDelta(t, 6*24, m.NextReviewAt.Sub(now).Hours(), 1e-6)
	assert.False(t, m.HasTag(core.TagNeedsReview))

	// The update is persisted.
	got, err := store.Get(ctx, "rec")
	require.NoError(t, err)
	assert.InDelta(t, 0.7, got.Strength, 1e-9)
}

func TestRecordRecallFailure(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	now := time.Now()

	seedScheduled(t, store, "rec", 0.5, 0.5, now.Add(-time.Hour))
	// Pretend it already survived several reviews.
	m, err := store.Get(ctx, "rec")
	require.NoError(t, err)
	m.ReviewCount = 4
	require.NoError(t, store.Put(ctx, m))

	sched := schedule.NewScheduler(schedule.DefaultConfig(), store)
	got, err := sched.RecordRecall(ctx, "rec", false, now)
	require.NoError(t, err)

	assert.InDelta(t, 0.3, got.Strength, 1e-9)
	assert.Equal(t, 0, got.ReviewCount)
	require.NotNil(t, got.NextReviewAt)
	assert.InDelta(t, 24, got.NextReviewAt.Sub(now).Hours(), 1e-6)
	assert.True(t, got.HasTag(core.TagNeedsReview))
}

func TestRecordRecallStrengthStaysClamped(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	now := time.Now()

	seedScheduled(t, store, "hi", 0.5, 0.95, now.Add(-time.Hour))
	seedScheduled(t, store, "lo", 0.5, 0.05, now.Add(-time.Hour))

	sched := schedule.NewScheduler(schedule.DefaultConfig(), store)

	hi, err := sched.RecordRecall(ctx, "hi", true, now)
	require.NoError(t, err)
	assert.Equal(t, 1.0, hi.Strength)

	lo, err := sched.RecordRecall(ctx, "lo", false, now)
	require.NoError(t, err)
	assert.Equal(t, 0.0, lo.Strength)
}

func seedEmbedded(t *testing.T, store *memstore.Store, id string, embedding []float64, due *time.Time) {
	t.Helper()
	now := time.Now()
	m := core.Memory{
		ID: id, UserID: "u", Type: core.TypeSemantic, Status: core.StatusActive,
		Content: "note " + id, Embedding: embedding,
		CreatedAt: now.AddDate(0, 0, -1), UpdatedAt: now,
		ImportanceScore: 0.5, Strength: 0.5,
		NextReviewAt: due,
	}
	require.NoError(t, store.Put(context.Background(), &m))
}

func TestSurfaceByContextRelevanceFloor(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	now := time.Now()

	seedEmbedded(t, store, "aligned", []float64{1, 0}, nil)
	seedEmbedded(t, store, "orthogonal", []float64{0, 1}, nil) // relevance 0.5, below the floor
	seedEmbedded(t, store, "opposite", []float64{-1, 0}, nil)  // relevance 0
	seedEmbedded(t, store, "no-embedding", nil, nil)

	sched := schedule.NewScheduler(schedule.DefaultConfig(), store)
	out, err := sched.SurfaceByContext(ctx, "u", []float64{1, 0}, 10, now)
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Equal(t, "aligned", out[0].Memory.ID)
	assert.InDelta(t, 1.0, out[0].Relevance, 1e-9)
}

func TestSurfaceByContextDueBoost(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	now := time.Now()

	due := now.Add(-time.Minute)
	later := now.Add(48 * time.Hour)
	seedEmbedded(t, store, "due", []float64{1, 0}, &due)
	seedEmbedded(t, store, "later", []float64{1, 0}, &later)

	sched := schedule.NewScheduler(schedule.DefaultConfig(), store)
	out, err := sched.SurfaceByContext(ctx, "u", []float64{1, 0}, 10, now)
	require.NoError(t, err)

	require.Len(t, out, 2)
	assert.Equal(t, "due", out[0].Memory.ID)
	assert.Greater(t, out[0].Score, out[1].Score)
}
