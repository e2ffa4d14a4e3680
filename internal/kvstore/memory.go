package kvstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/agentic-research/rethread/internal/graph"
)

// MemoryStore keeps records in a map. Batches hold the lock for their whole
// duration, so they apply atomically with respect to each other.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[graph.Name][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[graph.Name][]byte)}
}

// BulkGet implements Store. A single missing name fails the batch.
func (s *MemoryStore) BulkGet(ctx context.Context, names []graph.Name) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(names))
	for _, n := range names {
		data, ok := s.records[n]
		if !ok {
			return nil, fmt.Errorf("get %s: %w", n, ErrRecordNotFound)
		}
		out = append(out, Record{Name: n, Data: append([]byte(nil), data...)})
	}
	return out, nil
}

// BulkSet implements Store.
func (s *MemoryStore) BulkSet(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(records)
	return nil
}

// BulkRemove implements Store. Removing an absent name is not an error.
func (s *MemoryStore) BulkRemove(ctx context.Context, names []graph.Name) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(names)
	return nil
}

// BulkReplace implements Replacer.
func (s *MemoryStore) BulkReplace(ctx context.Context, remove []graph.Name, set []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(remove)
	s.setLocked(set)
	return nil
}

func (s *MemoryStore) setLocked(records []Record) {
	for _, r := range records {
		s.records[r.Name] = append([]byte(nil), r.Data...)
	}
}

func (s *MemoryStore) removeLocked(names []graph.Name) {
	for _, n := range names {
		delete(s.records, n)
	}
}

// List returns every stored name in ascending order.
func (s *MemoryStore) List(ctx context.Context) ([]graph.Name, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]graph.Name, 0, len(s.records))
	for n := range s.records {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names, nil
}

var (
	_ Store    = (*MemoryStore)(nil)
	_ Replacer = (*MemoryStore)(nil)
	_ Lister   = (*MemoryStore)(nil)
)
