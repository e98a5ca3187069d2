// Package memory contains an in-memory sink implementation for tests and
// dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/aniketms/jobpulse/internal/scraper"
)

// Sink stores sent records for inspection.
type Sink struct {
	mu      sync.RWMutex
	records []scraper.Record
	err     error
}

// New returns a memory Sink.
func New() *Sink {
	return &Sink{}
}

// Send records the record, or returns the injected error.
func (s *Sink) Send(_ context.Context, rec scraper.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of the sent records.
func (s *Sink) Records() []scraper.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scraper.Record, len(s.records))
	copy(out, s.records)
	return out
}

// FailWith makes subsequent sends return err. Pass nil to heal.
func (s *Sink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Close implements sink.Sink.
func (s *Sink) Close() error { return nil }
