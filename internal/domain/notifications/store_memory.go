package notifications

import (
	"context"
	"sync"
)

// MemoryStateStore is the default overlay store. It is process-local, so a
// restart loses pending marks; the next poll against the upstream record
// repairs anything that had already been pushed.
type MemoryStateStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string]bool
}

// NewMemoryStateStore returns an empty in-process overlay store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{buckets: make(map[string]map[string]bool)}
}

func bucketKey(ownerID, bucket string) string {
	return ownerID + "\x00" + bucket
}

// Get returns a copy of the owner's bucket.
func (s *MemoryStateStore) Get(_ context.Context, ownerID, bucket string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := make(map[string]bool)
	for id := range s.buckets[bucketKey(ownerID, bucket)] {
		set[id] = true
	}
	return set, nil
}

// Add inserts ids into the owner's bucket.
func (s *MemoryStateStore) Add(_ context.Context, ownerID, bucket string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := bucketKey(ownerID, bucket)
	set := s.buckets[key]
	if set == nil {
		set = make(map[string]bool)
		s.buckets[key] = set
	}
	for _, id := range ids {
		set[id] = true
	}
	return nil
}

// Remove drops ids from the owner's bucket.
func (s *MemoryStateStore) Remove(_ context.Context, ownerID, bucket string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := bucketKey(ownerID, bucket)
	set := s.buckets[key]
	for _, id := range ids {
		delete(set, id)
	}
	if len(set) == 0 {
		delete(s.buckets, key)
	}
	return nil
}

// Count returns the total number of entries across all owners and buckets.
func (s *MemoryStateStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, set := range s.buckets {
		total += len(set)
	}
	return total, nil
}
