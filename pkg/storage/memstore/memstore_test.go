package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-ai/mnemo-go/pkg/core"
	"github.com/mnemo-ai/mnemo-go/pkg/storage"
	"github.com/mnemo-ai/mnemo-go/pkg/storage/memstore"
)

func mem(id, userID string, typ core.MemoryType, status core.MemoryStatus, createdAt time.Time) *core.Memory {
	return &core.Memory{
		ID: id, UserID: userID, Type: typ, Status: status,
		Content:   "content " + id,
		CreatedAt: createdAt, UpdatedAt: createdAt,
		ImportanceScore: 0.5, Strength: 1,
	}
}

func TestPutBumpsVersionAndDetectsConflict(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	now := time.Now()

	m := mem("a", "u", core.TypeSemantic, core.StatusActive, now)
	require.NoError(t, store.Put(ctx, m))
	assert.Equal(t, int64(1), m.Version)

	// Two readers pick up the same version; the second writer loses.
	first, err := store.Get(ctx, "a")
	require.NoError(t, err)
	second, err := store.Get(ctx, "a")
	require.NoError(t, err)

	first.Content = "winner"
	require.NoError(t, store.Put(ctx, first))

	second.Content = "loser"
	err = store.Put(ctx, second)
	assert.ErrorIs(t, err, core.ErrVersionConflict)

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "winner", got.Content)
	assert.Equal(t, int64(2), got.Version)
}

func TestGetHidesDeleted(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	m := mem("a", "u", core.TypeSemantic, core.StatusDeleted, time.Now())
	require.NoError(t, store.Put(ctx, m))

	_, err := store.Get(ctx, "a")
	assert.ErrorIs(t, err, core.ErrNotFound)

	got, err := store.GetAny(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, core.StatusDeleted, got.Status)
}

func TestGetReturnsIsolatedCopy(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	m := mem("a", "u", core.TypeSemantic, core.StatusActive, time.Now())
	m.Tags = []string{"original"}
	require.NoError(t, store.Put(ctx, m))

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	got.Tags[0] = "mutated"
	got.Content = "mutated"

	again, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"original"}, again.Tags)
	assert.Equal(t, "content a", again.Content)
}

func TestQueryFilters(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	base := time.Now().Add(-10 * time.Hour)

	seed := []*core.Memory{
		mem("a", "u1", core.TypeSemantic, core.StatusActive, base),
		mem("b", "u1", core.TypeEpisodic, core.StatusActive, base.Add(time.Hour)),
		mem("c", "u1", core.TypeEpisodic, core.StatusArchived, base.Add(2*time.Hour)),
		mem("d", "u2", core.TypeSemantic, core.StatusActive, base.Add(3*time.Hour)),
		mem("e", "u1", core.TypeSemantic, core.StatusDeleted, base.Add(4*time.Hour)),
	}
	seed[0].Tags = []string{"work"}
	seed[3].ImportanceScore = 0.9
	for _, m := range seed {
		require.NoError(t, store.Put(ctx, m))
	}

	ids := func(ms []*core.Memory) []string {
		out := make([]string, len(ms))
		for i, m := range ms {
			out[i] = m.ID
		}
		return out
	}

	// Default: active only, deleted never visible.
	got, err := store.Query(ctx, &storage.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "d"}, ids(got))

	got, err = store.Query(ctx, &storage.Filter{IncludeArchived: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(got))

	got, err = store.Query(ctx, &storage.Filter{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(got))

	got, err = store.Query(ctx, &storage.Filter{Types: []core.MemoryType{core.TypeEpisodic}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(got))

	got, err = store.Query(ctx, &storage.Filter{Tags: []string{"work"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(got))

	min := 0.8
	got, err = store.Query(ctx, &storage.Filter{MinImportance: &min})
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, ids(got))

	after := base.Add(30 * time.Minute)
	got, err = store.Query(ctx, &storage.Filter{CreatedAfter: &after})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "d"}, ids(got))

	got, err = store.Query(ctx, &storage.Filter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(got))

	got, err = store.Query(ctx, &storage.Filter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCount(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Put(ctx, mem("a", "u1", core.TypeSemantic, core.StatusActive, now)))
	require.NoError(t, store.Put(ctx, mem("b", "u2", core.TypeSemantic, core.StatusActive, now)))

	n, err := store.Count(ctx, &storage.Filter{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDelete(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, mem("a", "u", core.TypeSemantic, core.StatusActive, time.Now())))
	require.NoError(t, store.Delete(ctx, "a"))

	_, err := store.GetAny(ctx, "a")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "a"), core.ErrNotFound)
}

func TestGetBatchSkipsMissingAndDeleted(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Put(ctx, mem("a", "u", core.TypeSemantic, core.StatusActive, now)))
	require.NoError(t, store.Put(ctx, mem("b", "u", core.TypeSemantic, core.StatusDeleted, now)))

	got, err := store.GetBatch(ctx, []string{"a", "b", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func TestPutBatchIsAtomic(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	now := time.Now()

	a := mem("a", "u", core.TypeSemantic, core.StatusActive, now)
	require.NoError(t, store.Put(ctx, a))

	fresh := mem("b", "u", core.TypeSemantic, core.StatusActive, now)
	stale := a.Clone()
	stale.Version = 99
	stale.Content = "stale write"

	err := store.PutBatch(ctx, []*core.Memory{fresh, stale})
	assert.ErrorIs(t, err, core.ErrVersionConflict)

	// Nothing from the failed batch landed.
	_, err = store.Get(ctx, "b")
	assert.ErrorIs(t, err, core.ErrNotFound)
	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "content a", got.Content)
}

func TestListPurgeable(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	now := time.Now()

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	due := mem("due", "u", core.TypeSemantic, core.StatusDeleted, now)
	due.PurgeAt = &past
	pending := mem("pending", "u", core.TypeSemantic, core.StatusDeleted, now)
	pending.PurgeAt = &future
	active := mem("active", "u", core.TypeSemantic, core.StatusActive, now)
	active.PurgeAt = &past

	for _, m := range []*core.Memory{due, pending, active} {
		require.NoError(t, store.Put(ctx, m))
	}

	ids, err := store.ListPurgeable(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"due"}, ids)
}
