// Package memstore provides an in-memory Store implementation, used by
// tests and the runnable examples. It honors the same compare-and-swap
// semantics as the SQL backends.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mnemo-ai/mnemo-go/pkg/core"
	"github.com/mnemo-ai/mnemo-go/pkg/storage"
)

// Store is a mutex-guarded map of memories keyed by id.
type Store struct {
	mu   sync.RWMutex
	mems map[string]*core.Memory
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{mems: make(map[string]*core.Memory)}
}

// Get retrieves a memory by id. Deleted memories are reported as not
// found.
func (s *Store) Get(ctx context.Context, id string) (*core.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mems[id]
	if !ok || m.Status == core.StatusDeleted {
		return nil, core.NewLifecycleError("memstore.get", core.ErrNotFound)
	}
	return m.Clone(), nil
}

// GetAny retrieves a memory by id regardless of status.
func (s *Store) GetAny(ctx context.Context, id string) (*core.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mems[id]
	if !ok {
		return nil, core.NewLifecycleError("memstore.get", core.ErrNotFound)
	}
	return m.Clone(), nil
}

// Put inserts or updates a memory with compare-and-swap on Version.
func (s *Store) Put(ctx context.Context, m *core.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(m)
}

func (s *Store) putLocked(m *core.Memory) error {
	cur, ok := s.mems[m.ID]
	if ok && cur.Version != m.Version {
		return core.NewLifecycleError("memstore.put", core.ErrVersionConflict)
	}
	m.Version++
	s.mems[m.ID] = m.Clone()
	return nil
}

// Query returns memories matching the filter, ordered by creation time
// then id so repeated queries see a stable order.
func (s *Store) Query(ctx context.Context, f *storage.Filter) ([]*core.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if f == nil {
		f = &storage.Filter{}
	}
	statuses := f.EffectiveStatuses()

	out := make([]*core.Memory, 0)
	for _, m := range s.mems {
		if !matches(m, f, statuses) {
			continue
		}
		out = append(out, m.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matches(m *core.Memory, f *storage.Filter, statuses []core.MemoryStatus) bool {
	ok := false
	for _, st := range statuses {
		if m.Status == st {
			ok = true
			break
		}
	}
	if !ok {
		return false
	}

	if len(f.Types) > 0 {
		ok = false
		for _, t := range f.Types {
			if m.Type == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	if f.UserID != "" && m.UserID != f.UserID {
		return false
	}
	if f.ConversationID != "" && m.ConversationID != f.ConversationID {
		return false
	}
	if f.MinImportance != nil && m.ImportanceScore < *f.MinImportance {
		return false
	}
	if f.MaxImportance != nil && m.ImportanceScore > *f.MaxImportance {
		return false
	}

	if len(f.Tags) > 0 {
		ok = false
		for _, tag := range f.Tags {
			if m.HasTag(tag) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	if f.CreatedAfter != nil && m.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && m.CreatedAt.After(*f.CreatedBefore) {
		return false
	}
	return true
}

// Delete physically removes a memory record.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mems[id]; !ok {
		return core.NewLifecycleError("memstore.delete", core.ErrNotFound)
	}
	delete(s.mems, id)
	return nil
}

// GetBatch retrieves multiple memories by id, skipping missing or deleted
// records.
func (s *Store) GetBatch(ctx context.Context, ids []string) ([]*core.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*core.Memory, 0, len(ids))
	for _, id := range ids {
		if m, ok := s.mems[id]; ok && m.Status != core.StatusDeleted {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

// PutBatch writes multiple memories atomically: if any write conflicts,
// none are applied.
func (s *Store) PutBatch(ctx context.Context, ms []*core.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range ms {
		if cur, ok := s.mems[m.ID]; ok && cur.Version != m.Version {
			return core.NewLifecycleError("memstore.putbatch", core.ErrVersionConflict)
		}
	}
	for _, m := range ms {
		if err := s.putLocked(m); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of memories matching the filter.
func (s *Store) Count(ctx context.Context, f *storage.Filter) (int, error) {
	mems, err := s.Query(ctx, f)
	if err != nil {
		return 0, err
	}
	return len(mems), nil
}

// ListPurgeable returns ids of deleted memories whose purge time has
// passed.
func (s *Store) ListPurgeable(ctx context.Context, before time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0)
	for id, m := range s.mems {
		if m.Status == core.StatusDeleted && m.PurgeAt != nil && !m.PurgeAt.After(before) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }
