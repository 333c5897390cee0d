// Package memory keeps results in-process for dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/poi-grid-crawler/internal/crawler"
)

// Sink stores records in insertion order. It can be pre-seeded with keys to
// simulate a resumed run.
type Sink struct {
	mu      sync.RWMutex
	seed    []string
	records []crawler.PersistedRecord
	links   map[string]struct{}
}

// NewSink creates an empty sink seeded with the given keys.
func NewSink(seed ...string) *Sink {
	return &Sink{
		seed:  append([]string(nil), seed...),
		links: make(map[string]struct{}),
	}
}

// Append stores the record; a link already stored is ignored.
func (s *Sink) Append(_ context.Context, record crawler.PersistedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.links[record.Link]; ok {
		return nil
	}
	s.links[record.Link] = struct{}{}
	s.records = append(s.records, record)
	return nil
}

// ExistingKeys returns the seed keys followed by every stored link.
func (s *Sink) ExistingKeys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.seed)+len(s.records))
	out = append(out, s.seed...)
	for _, r := range s.records {
		out = append(out, r.Link)
	}
	return out, nil
}

// Records returns a copy of the stored records.
func (s *Sink) Records() []crawler.PersistedRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.PersistedRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of stored records.
func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close is a no-op.
func (s *Sink) Close() error {
	return nil
}
