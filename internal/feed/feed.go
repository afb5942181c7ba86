// Package feed defines the telemetry feed publishing contract used by all
// agents and the backends that implement it.
//
// A feed carries timestamped blocks of named numeric values. Durability and
// downsampling beyond what the agents do themselves are the backend's
// concern.
package feed

import (
	"fmt"
	"sync"
)

// Record is one publishable unit: a timestamp, a block name grouping the
// values, and the values themselves.
type Record struct {
	Timestamp float64
	BlockName string
	Data      map[string]float64
}

// Publisher accepts records for a named feed.
type Publisher interface {
	Publish(feed string, rec Record) error
	Close() error
}

// MultiPublisher fans a record out to several backends. The first error is
// returned but every backend is attempted.
type MultiPublisher struct {
	backends []Publisher
}

// NewMultiPublisher creates a fan-out publisher over the given backends.
func NewMultiPublisher(backends ...Publisher) *MultiPublisher {
	return &MultiPublisher{backends: backends}
}

// Publish sends rec to every backend.
func (m *MultiPublisher) Publish(feed string, rec Record) error {
	var firstErr error
	for _, b := range m.backends {
		if err := b.Publish(feed, rec); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("publish to feed %s: %w", feed, err)
		}
	}
	return firstErr
}

// Close closes every backend.
func (m *MultiPublisher) Close() error {
	var firstErr error
	for _, b := range m.backends {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// MemoryPublisher retains published records in memory. It backs tests and
// the session-data snapshots served by the control API.
type MemoryPublisher struct {
	mu    sync.Mutex
	feeds map[string][]Record
}

// NewMemoryPublisher creates an empty in-memory publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{feeds: make(map[string][]Record)}
}

// Publish appends rec to the named feed. Data is copied so callers may
// reuse their map.
func (m *MemoryPublisher) Publish(feed string, rec Record) error {
	data := make(map[string]float64, len(rec.Data))
	for k, v := range rec.Data {
		data[k] = v
	}
	rec.Data = data

	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeds[feed] = append(m.feeds[feed], rec)
	return nil
}

// Records returns a copy of everything published to the named feed.
func (m *MemoryPublisher) Records(feed string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.feeds[feed]))
	copy(out, m.feeds[feed])
	return out
}

// Close is a no-op.
func (m *MemoryPublisher) Close() error { return nil }
