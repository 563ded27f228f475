package lifecycle_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-ai/mnemo-go/pkg/core"
	"github.com/mnemo-ai/mnemo-go/pkg/forgetting"
	"github.com/mnemo-ai/mnemo-go/pkg/lifecycle"
	"github.com/mnemo-ai/mnemo-go/pkg/services"
	"github.com/mnemo-ai/mnemo-go/pkg/storage"
	"github.com/mnemo-ai/mnemo-go/pkg/storage/memstore"
)

type fakeSummarizer struct {
	calls int
}

func (f *fakeSummarizer) Summarize(ctx context.Context, req *services.SummaryRequest) (*services.Summary, error) {
	f.calls++
	return &services.Summary{
		Text:      "merged summary",
		SourceIDs: req.MemoryIDs,
	}, nil
}

// fixedNow keeps the maintenance pipeline away from the consolidation
// schedule hour so tests control triggering through utilization alone.
func fixedNow() time.Time {
	return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
}

func TestRunMaintenancePipeline(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	now := fixedNow()
	sink := forgetting.NewMemoryAuditSink()

	engine, err := lifecycle.NewEngine(lifecycle.DefaultConfig(),
		lifecycle.WithStore(store),
		lifecycle.WithSummarizer(&fakeSummarizer{}),
		lifecycle.WithAuditSink(sink),
	)
	require.NoError(t, err)
	defer engine.Close()

	// A healthy memory: untouched by every stage.
	healthy := core.Memory{
		ID: "healthy", UserID: "u", Type: core.TypeSemantic, Status: core.StatusActive,
		Content:   "likes hiking",
		CreatedAt: now.AddDate(0, 0, -2), UpdatedAt: now,
		ImportanceScore: 0.7, Strength: 0.9,
	}
	// Weak from long neglect: decay archives it this pass.
	fading := core.Memory{
		ID: "fading", UserID: "u", Type: core.TypeWorking, Status: core.StatusActive,
		Content:   "scratch note",
		CreatedAt: now.AddDate(0, 0, -20), UpdatedAt: now.AddDate(0, 0, -10),
		ImportanceScore: 0.3, Strength: 0.35,
	}
	// Old, unimportant, never recalled: forgetting schedules its deletion.
	stale := core.Memory{
		ID: "stale", UserID: "u", Type: core.TypeEpisodic, Status: core.StatusActive,
		Content:   "stale",
		CreatedAt: now.AddDate(0, 0, -120), UpdatedAt: now,
		ImportanceScore: 0.1, Strength: 0.04,
	}
	// Past its grace period: the purge pass removes it.
	purgeDue := now.Add(-time.Hour)
	condemned := core.Memory{
		ID: "condemned", UserID: "u", Type: core.TypeEpisodic, Status: core.StatusDeleted,
		Content:   "condemned",
		CreatedAt: now.AddDate(0, 0, -60), UpdatedAt: now,
		ImportanceScore: 0.1, Strength: 0, PurgeAt: &purgeDue,
	}
	for _, m := range []*core.Memory{&healthy, &fading, &stale, &condemned} {
		require.NoError(t, store.Put(ctx, m))
	}

	res, err := engine.RunMaintenance(ctx, "u", now)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Decay.Examined)
	assert.GreaterOrEqual(t, res.Decay.Archived, 1)
	assert.Nil(t, res.Consolidation)
	assert.Equal(t, 1, res.Forgetting.Scheduled)
	assert.Equal(t, 1, res.Purged)

	got, err := store.GetAny(ctx, "fading")
	require.NoError(t, err)
	assert.Equal(t, core.StatusArchived, got.Status)

	got, err = store.GetAny(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, core.StatusDeleted, got.Status)
	require.NotNil(t, got.PurgeAt)

	_, err = store.GetAny(ctx, "condemned")
	assert.ErrorIs(t, err, core.ErrNotFound)

	untouched, err := store.Get(ctx, "healthy")
	require.NoError(t, err)
	assert.Equal(t, core.StatusActive, untouched.Status)
}

func TestRunMaintenanceTriggersConsolidationOnUtilization(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	now := fixedNow()
	summarizer := &fakeSummarizer{}

	cfg := lifecycle.DefaultConfig()
	cfg.Consolidation.MaxMemories = 5

	engine, err := lifecycle.NewEngine(cfg,
		lifecycle.WithStore(store),
		lifecycle.WithSummarizer(summarizer),
		lifecycle.WithAuditSink(forgetting.NewMemoryAuditSink()),
	)
	require.NoError(t, err)
	defer engine.Close()

	// Four near-duplicates: 80% utilization trips the trigger and the
	// low-importance cluster collapses into one summary.
	for i := 0; i < 4; i++ {
		m := core.Memory{
			ID: fmt.Sprintf("dup-%d", i), UserID: "u",
			Type: core.TypeEpisodic, Status: core.StatusActive,
			Content:   fmt.Sprintf("coffee order %d", i),
			Embedding: []float64{1, 0},
			CreatedAt: now.Add(-time.Duration(i+1) * time.Minute), UpdatedAt: now,
			ImportanceScore: 0.2, Strength: 0.9,
		}
		require.NoError(t, store.Put(ctx, &m))
	}

	res, err := engine.RunMaintenance(ctx, "u", now)
	require.NoError(t, err)

	require.NotNil(t, res.Consolidation)
	assert.Equal(t, 1, res.Consolidation.Created)
	assert.Equal(t, 4, res.Consolidation.Summarized)
	assert.Equal(t, 1, summarizer.calls)

	active, err := store.Query(ctx, &storage.Filter{UserID: "u"})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "merged summary", active[0].Content)
	assert.True(t, active[0].HasTag(core.TagConsolidated))
}

func TestStats(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	now := fixedNow()

	engine, err := lifecycle.NewEngine(lifecycle.DefaultConfig(),
		lifecycle.WithStore(store),
		lifecycle.WithAuditSink(forgetting.NewMemoryAuditSink()),
	)
	require.NoError(t, err)
	defer engine.Close()

	due := now.Add(-time.Hour)
	seed := []*core.Memory{
		{ID: "a", UserID: "u", Type: core.TypeSemantic, Status: core.StatusActive,
			CreatedAt: now, UpdatedAt: now, ImportanceScore: 0.8, Strength: 1.0, NextReviewAt: &due},
		{ID: "b", UserID: "u", Type: core.TypeSemantic, Status: core.StatusActive,
			CreatedAt: now, UpdatedAt: now, ImportanceScore: 0.4, Strength: 0.6},
		{ID: "c", UserID: "u", Type: core.TypeEpisodic, Status: core.StatusArchived,
			CreatedAt: now, UpdatedAt: now, ImportanceScore: 0.3, Strength: 0.2},
	}
	for _, m := range seed {
		require.NoError(t, store.Put(ctx, m))
	}

	st, err := engine.Stats(ctx, "u", now)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Active)
	assert.Equal(t, 1, st.Archived)
	assert.Equal(t, 1, st.Due)
	assert.InDelta(t, 0.5, st.AvgImportance, 1e-9)
	assert.InDelta(t, 0.6, st.AvgStrength, 1e-9)
}

func TestRepairLinks(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	now := fixedNow()

	engine, err := lifecycle.NewEngine(lifecycle.DefaultConfig(),
		lifecycle.WithStore(store),
		lifecycle.WithAuditSink(forgetting.NewMemoryAuditSink()),
	)
	require.NoError(t, err)
	defer engine.Close()

	a := core.Memory{
		ID: "a", UserID: "u", Type: core.TypeSemantic, Status: core.StatusActive,
		CreatedAt: now, UpdatedAt: now, Strength: 1,
		Links: []string{"b", "ghost"},
	}
	b := core.Memory{
		ID: "b", UserID: "u", Type: core.TypeSemantic, Status: core.StatusActive,
		CreatedAt: now, UpdatedAt: now, Strength: 1,
	}
	require.NoError(t, store.Put(ctx, &a))
	require.NoError(t, store.Put(ctx, &b))

	repaired, err := engine.RepairLinks(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 2, repaired)

	gotA, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, gotA.Links)

	gotB, err := store.Get(ctx, "b")
	require.NoError(t, err)
	assert.True(t, gotB.HasLink("a"))
}

func TestConfigValidate(t *testing.T) {
	t.Run("default is valid", func(t *testing.T) {
		assert.NoError(t, lifecycle.DefaultConfig().Validate())
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := lifecycle.DefaultConfig()
		cfg.Store.Provider = "cassandra"
		assert.ErrorIs(t, cfg.Validate(), core.ErrInvalidConfig)
	})

	t.Run("sqlite without path", func(t *testing.T) {
		cfg := lifecycle.DefaultConfig()
		cfg.Store.Provider = "sqlite"
		assert.ErrorIs(t, cfg.Validate(), core.ErrInvalidConfig)
	})

	t.Run("postgres without dsn", func(t *testing.T) {
		cfg := lifecycle.DefaultConfig()
		cfg.Store.Provider = "postgres"
		assert.ErrorIs(t, cfg.Validate(), core.ErrInvalidConfig)
	})

	t.Run("negative weight", func(t *testing.T) {
		cfg := lifecycle.DefaultConfig()
		cfg.Importance.Weights.Recency = -1
		assert.ErrorIs(t, cfg.Validate(), core.ErrInvalidWeights)
	})

	t.Run("misordered thresholds", func(t *testing.T) {
		cfg := lifecycle.DefaultConfig()
		cfg.Decay.ArchiveThreshold = cfg.Decay.SoftThreshold + 0.1
		assert.ErrorIs(t, cfg.Validate(), core.ErrInvalidConfig)
	})
}

func TestRunnerStartStop(t *testing.T) {
	engine, err := lifecycle.NewEngine(lifecycle.DefaultConfig(),
		lifecycle.WithStore(memstore.New()),
		lifecycle.WithAuditSink(forgetting.NewMemoryAuditSink()),
	)
	require.NoError(t, err)
	defer engine.Close()

	runner := lifecycle.NewRunner(engine, time.Minute)
	runner.Stop() // stopping before starting is a no-op

	runner.Start()
	runner.Start() // idempotent
	runner.Stop()
	runner.Stop()
}
