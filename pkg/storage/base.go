// Package storage defines the Store interface the lifecycle engines consume,
// along with the Filter type used by queries.
//
// The engines never own persistence: every read and write goes through a
// Store. Implementations are provided for SQLite, PostgreSQL, and MySQL,
// plus an in-memory store for tests and examples.
package storage

import (
	"context"
	"time"

	"github.com/mnemo-ai/mnemo-go/pkg/core"
)

// Filter restricts a Query to matching memories.
//
// Zero-valued fields are ignored. Deleted memories are never returned
// regardless of the filter; archived memories are returned only when
// IncludeArchived is set or Statuses names them explicitly.
type Filter struct {
	// Statuses restricts results to the given lifecycle states.
	// When empty, only active memories are returned.
	Statuses []core.MemoryStatus

	// IncludeArchived additionally returns archived memories when
	// Statuses is empty.
	IncludeArchived bool

	// Types restricts results to the given memory types.
	Types []core.MemoryType

	// UserID restricts results to a specific user.
	UserID string

	// ConversationID restricts results to a specific conversation.
	ConversationID string

	// MinImportance / MaxImportance bound the importance score.
	MinImportance *float64
	MaxImportance *float64

	// Tags requires membership of at least one of the given tags.
	Tags []string

	// CreatedAfter / CreatedBefore bound the creation time.
	CreatedAfter  *time.Time
	CreatedBefore *time.Time

	// Limit caps the number of results (0 means no cap).
	Limit int

	// Offset skips the first N results, for pagination.
	Offset int
}

// EffectiveStatuses returns the effective status set for the filter.
func (f *Filter) EffectiveStatuses() []core.MemoryStatus {
	if len(f.Statuses) > 0 {
		out := make([]core.MemoryStatus, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			// The deleted state is unreachable through queries.
			if s != core.StatusDeleted {
				out = append(out, s)
			}
		}
		return out
	}
	if f.IncludeArchived {
		return []core.MemoryStatus{core.StatusActive, core.StatusArchived}
	}
	return []core.MemoryStatus{core.StatusActive}
}

// Store is the persistence interface consumed by every lifecycle component.
//
// Put performs a compare-and-swap on Memory.Version: the write succeeds only
// when the stored version matches the version the caller read, and the
// persisted record has Version incremented by one. A mismatch returns
// core.ErrVersionConflict.
type Store interface {
	// Get retrieves a memory by id. Returns core.ErrNotFound for missing
	// or deleted records unless includeDeleted is requested via GetAny.
	Get(ctx context.Context, id string) (*core.Memory, error)

	// GetAny retrieves a memory by id regardless of status. Used by the
	// purge pass and audit tooling.
	GetAny(ctx context.Context, id string) (*core.Memory, error)

	// Put inserts or updates a memory with compare-and-swap semantics.
	Put(ctx context.Context, m *core.Memory) error

	// Query returns memories matching the filter. Deleted memories are
	// never returned.
	Query(ctx context.Context, f *Filter) ([]*core.Memory, error)

	// Delete physically removes a memory record.
	Delete(ctx context.Context, id string) error

	// GetBatch retrieves multiple memories by id. Missing or deleted ids
	// are skipped, not errors.
	GetBatch(ctx context.Context, ids []string) ([]*core.Memory, error)

	// PutBatch writes multiple memories. Implementations back SQL stores
	// with a transaction so a cluster's mutations commit together.
	PutBatch(ctx context.Context, ms []*core.Memory) error

	// Count returns the number of memories matching the filter.
	Count(ctx context.Context, f *Filter) (int, error)

	// ListPurgeable returns the ids of deleted memories whose purge time
	// is at or before the given instant. This is the one read path that
	// sees deleted records; it exists for the purge pass only.
	ListPurgeable(ctx context.Context, before time.Time) ([]string, error)

	// Close releases resources held by the store.
	Close() error
}
