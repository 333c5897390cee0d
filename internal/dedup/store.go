// Package dedup tracks which place links have already been claimed during a
// run, including links persisted by earlier runs.
package dedup

import (
	"sync"
)

// Store is a concurrency-safe set of claimed dedup keys.
type Store struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// New returns an empty Store.
func New() *Store {
	return &Store{keys: make(map[string]struct{})}
}

// Seed marks keys as already claimed. Empty keys are ignored.
func (s *Store) Seed(keys []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := s.keys[k]; ok {
			continue
		}
		s.keys[k] = struct{}{}
		added++
	}
	return added
}

// TryClaim inserts key and reports true only if it was not present before.
// The empty key is never claimable.
func (s *Store) TryClaim(key string) bool {
	if key == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[key]; exists {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

// Release forgets a claimed key so a later task may claim it again. Only the
// rollback claim policy calls it.
func (s *Store) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
}

// Contains reports whether key has been claimed.
func (s *Store) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok
}

// Len returns the number of claimed keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}
