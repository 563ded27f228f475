package forgetting_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-ai/mnemo-go/pkg/core"
	"github.com/mnemo-ai/mnemo-go/pkg/forgetting"
	"github.com/mnemo-ai/mnemo-go/pkg/storage/memstore"
)

func newEngine(t *testing.T, store *memstore.Store) (*forgetting.Engine, *forgetting.MemoryAuditSink) {
	t.Helper()
	sink := forgetting.NewMemoryAuditSink()
	engine, err := forgetting.NewEngine(forgetting.DefaultConfig(), store, sink)
	require.NoError(t, err)
	return engine, sink
}

func stale(now time.Time) core.Memory {
	// Old, unimportant, never accessed: past the retention gate.
	return core.Memory{
		UserID: "u", Type: core.TypeEpisodic, Status: core.StatusActive,
		Content:   "stale memory",
		CreatedAt: now.AddDate(0, 0, -120), UpdatedAt: now.AddDate(0, 0, -120),
		ImportanceScore: 0.1,
	}
}

func TestEvaluateStrengthTiers(t *testing.T) {
	cfg := forgetting.DefaultConfig()
	now := time.Now()

	cases := []struct {
		strength float64
		want     forgetting.Tier
	}{
		{0.04, forgetting.TierPermanent},
		{0.10, forgetting.TierArchive},
		{0.25, forgetting.TierSoft},
		{0.50, forgetting.TierNone},
	}
	for _, tc := range cases {
		m := stale(now)
		m.Strength = tc.strength
		got := cfg.Evaluate(&m, now)
		assert.Equal(t, tc.want, got.Tier, "strength %.2f", tc.strength)
	}
}

func TestEvaluateRetentionGateBlocksTiering(t *testing.T) {
	cfg := forgetting.DefaultConfig()
	now := time.Now()

	// Weak but young: retained.
	young := stale(now)
	young.CreatedAt = now.AddDate(0, 0, -5)
	young.Strength = 0.04
	assert.Equal(t, forgetting.TierNone, cfg.Evaluate(&young, now).Tier)

	// Weak but frequently accessed: retained.
	used := stale(now)
	used.Strength = 0.04
	used.AccessCount = 10
	assert.Equal(t, forgetting.TierNone, cfg.Evaluate(&used, now).Tier)
}

func TestEvaluateLegalTagProtected(t *testing.T) {
	cfg := forgetting.DefaultConfig()
	now := time.Now()

	m := stale(now)
	m.Strength = 0.0
	m.PrivacyRisk = 1.0
	m.Tags = []string{"legal"}

	got := cfg.Evaluate(&m, now)
	assert.Equal(t, forgetting.TierNone, got.Tier)
}

func TestEvaluatePrivacyOutranksStrength(t *testing.T) {
	cfg := forgetting.DefaultConfig()
	now := time.Now()

	// High risk, held past its 30-day limit, otherwise healthy.
	m := core.Memory{
		UserID: "u", Type: core.TypeEpisodic, Status: core.StatusActive,
		CreatedAt: now.AddDate(0, 0, -31), UpdatedAt: now,
		ImportanceScore: 0.5, Strength: 1.0, PrivacyRisk: 0.9,
	}
	got := cfg.Evaluate(&m, now)
	assert.Equal(t, forgetting.TierPermanent, got.Tier)
	assert.Equal(t, forgetting.ReasonPrivacy, got.Reason)

	// Same risk but still within the limit.
	m.CreatedAt = now.AddDate(0, 0, -10)
	assert.Equal(t, forgetting.TierNone, cfg.Evaluate(&m, now).Tier)
}

func TestEvaluateExplicitExpiration(t *testing.T) {
	cfg := forgetting.DefaultConfig()
	now := time.Now()

	expired := now.Add(-time.Hour)
	m := core.Memory{
		UserID: "u", Type: core.TypeEpisodic, Status: core.StatusActive,
		CreatedAt: now.AddDate(0, 0, -2), UpdatedAt: now,
		ImportanceScore: 0.5, Strength: 1.0, ExpiresAt: &expired,
	}
	got := cfg.Evaluate(&m, now)
	assert.Equal(t, forgetting.TierPermanent, got.Tier)
	assert.Equal(t, forgetting.ReasonExpired, got.Reason)
}

func TestSweepSoftTierCompressesEmbedding(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	now := time.Now()

	m := stale(now)
	m.ID = "soft"
	m.Strength = 0.25
	m.Embedding = []float64{1, 2, 3, 4}
	require.NoError(t, store.Put(ctx, &m))

	engine, _ := newEngine(t, store)
	res, err := engine.Sweep(ctx, "u", now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Soft)

	got, err := store.GetAny(ctx, "soft")
	require.NoError(t, err)
	assert.Equal(t, core.StatusArchived, got.Status)
	assert.Equal(t, []float64{1.5, 3.5}, got.Embedding)
	assert.Equal(t, "stale memory", got.Content)
}

func TestSweepArchiveTierTruncatesContent(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	now := time.Now()

	m := stale(now)
	m.ID = "arch"
	m.Strength = 0.10
	m.Embedding = []float64{1, 2, 3, 4, 5, 6, 7, 8}
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	m.Content = string(long)
	require.NoError(t, store.Put(ctx, &m))

	engine, _ := newEngine(t, store)
	res, err := engine.Sweep(ctx, "u", now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Archive)

	got, err := store.GetAny(ctx, "arch")
	require.NoError(t, err)
	assert.Equal(t, core.StatusArchived, got.Status)
	assert.Len(t, got.Embedding, 2)
	assert.Len(t, got.Content, 203) // 200 runes plus the ellipsis marker
}

func TestSweepPermanentNonPrivacyGetsGracePeriod(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	now := time.Now()

	m := stale(now)
	m.ID = "perm"
	m.Strength = 0.01
	require.NoError(t, store.Put(ctx, &m))

	engine, sink := newEngine(t, store)
	res, err := engine.Sweep(ctx, "u", now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scheduled)
	assert.Equal(t, 0, res.Deleted)

	// The record survives with deleted status and a purge time one grace
	// period out; only the purge pass removes it.
	got, err := store.GetAny(ctx, "perm")
	require.NoError(t, err)
	assert.Equal(t, core.StatusDeleted, got.Status)
	require.NotNil(t, got.PurgeAt)
	assert.Equal(t, now.Add(7*24*time.Hour).Unix(), got.PurgeAt.Unix())

	records := sink.Records()
	require.Len(t, records, 1)
	assert.Equal(t, forgetting.ReasonDecayed, records[0].Reason)
	assert.True(t, records[0].Recoverable)
}

func TestSweepPrivacyDeletionIsImmediate(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	now := time.Now()

	m := core.Memory{
		ID: "risky", UserID: "u", Type: core.TypeEpisodic, Status: core.StatusActive,
		Content:   "pii",
		CreatedAt: now.AddDate(0, 0, -40), UpdatedAt: now,
		ImportanceScore: 0.5, Strength: 1.0, PrivacyRisk: 0.95,
	}
	require.NoError(t, store.Put(ctx, &m))

	engine, sink := newEngine(t, store)
	res, err := engine.Sweep(ctx, "u", now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)

	_, err = store.GetAny(ctx, "risky")
	assert.ErrorIs(t, err, core.ErrNotFound)

	records := sink.Records()
	require.Len(t, records, 1)
	assert.Equal(t, forgetting.ReasonPrivacy, records[0].Reason)
	assert.False(t, records[0].Recoverable)
}

func TestPurgeRemovesOnlyElapsedGracePeriods(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	now := time.Now()

	due := stale(now)
	due.ID = "due"
	due.Status = core.StatusDeleted
	past := now.Add(-time.Hour)
	due.PurgeAt = &past
	require.NoError(t, store.Put(ctx, &due))

	pending := stale(now)
	pending.ID = "pending"
	pending.Status = core.StatusDeleted
	future := now.Add(24 * time.Hour)
	pending.PurgeAt = &future
	require.NoError(t, store.Put(ctx, &pending))

	engine, sink := newEngine(t, store)
	purged, err := engine.Purge(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = store.GetAny(ctx, "due")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = store.GetAny(ctx, "pending")
	assert.NoError(t, err)

	records := sink.Records()
	require.Len(t, records, 1)
	assert.Equal(t, forgetting.ReasonPurged, records[0].Reason)
}

func TestEraseUserAnonymizesLegalAndSchedulesRest(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	now := time.Now()

	legal := core.Memory{
		ID: "legal", UserID: "u", Type: core.TypeSemantic, Status: core.StatusActive,
		Content:   "Contract signed, contact jane.doe@example.com or +1 555-123-4567",
		Tags:      []string{"legal"},
		CreatedAt: now.AddDate(0, 0, -10), UpdatedAt: now,
		ImportanceScore: 0.7, Strength: 0.9,
	}
	plain := core.Memory{
		ID: "plain", UserID: "u", Type: core.TypeEpisodic, Status: core.StatusActive,
		Content:   "likes jazz",
		CreatedAt: now.AddDate(0, 0, -10), UpdatedAt: now,
		ImportanceScore: 0.4, Strength: 0.9,
	}
	require.NoError(t, store.Put(ctx, &legal))
	require.NoError(t, store.Put(ctx, &plain))

	engine, sink := newEngine(t, store)
	report, err := engine.EraseUser(ctx, "u", now)
	require.NoError(t, err)

	assert.Equal(t, "u", report.UserID)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Anonymized)
	assert.Equal(t, 1, report.Scheduled)

	anon, err := store.GetAny(ctx, "legal")
	require.NoError(t, err)
	assert.Empty(t, anon.UserID)
	assert.NotContains(t, anon.Content, "jane.doe@example.com")
	assert.NotContains(t, anon.Content, "555-123-4567")
	assert.Contains(t, anon.Content, "[redacted]")
	assert.True(t, anon.HasTag(core.TagAnonymized))

	scheduled, err := store.GetAny(ctx, "plain")
	require.NoError(t, err)
	assert.Equal(t, core.StatusDeleted, scheduled.Status)
	require.NotNil(t, scheduled.PurgeAt)

	// One audit record per memory; the anonymization record keeps the
	// original user id.
	records := sink.Records()
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, "u", rec.UserID)
	}
}

func TestCompressEmbedding(t *testing.T) {
	assert.Equal(t, []float64{1.5, 3.5}, forgetting.CompressEmbedding([]float64{1, 2, 3, 4}, 2))
	assert.Equal(t, []float64{2.5}, forgetting.CompressEmbedding([]float64{1, 2, 3, 4}, 4))
	// Uneven tail is averaged over its actual length.
	assert.Equal(t, []float64{1.5, 3}, forgetting.CompressEmbedding([]float64{1, 2, 3}, 2))
	// Too short or degenerate factors pass through.
	short := []float64{1}
	assert.Equal(t, short, forgetting.CompressEmbedding(short, 2))
	assert.Equal(t, short, forgetting.CompressEmbedding(short, 1))
}

func TestTruncateContent(t *testing.T) {
	assert.Equal(t, "short", forgetting.TruncateContent("short", 10))
	assert.Equal(t, "abc...", forgetting.TruncateContent("abcdef", 3))
}
