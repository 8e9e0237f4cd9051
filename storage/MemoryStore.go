package storage

import (
	"sync"
	"time"

	"github.com/SharefulNetworks/shareful-gsls/types"
	"github.com/benbjohnson/clock"
)

// MemoryStore - A Store backed by a map. Used when no data directory is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[types.NodeID]Record
	clock   clock.Clock
	closed  bool
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryStore{records: make(map[types.NodeID]Record), clock: clk}
}

func (s *MemoryStore) Put(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	rec.Value = append([]byte(nil), rec.Value...)
	s.records[rec.Key] = rec
	return nil
}

func (s *MemoryStore) Get(key types.NodeID) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Record{}, false, ErrClosed
	}
	rec, ok := s.records[key]
	if !ok || rec.Expired(s.clock.Now()) {
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (s *MemoryStore) Delete(key types.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.records, key)
	return nil
}

func (s *MemoryStore) Range(fn func(rec Record) bool) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	now := s.clock.Now()
	snapshot := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		if !rec.Expired(now) {
			snapshot = append(snapshot, rec)
		}
	}
	s.mu.RUnlock()

	for _, rec := range snapshot {
		if !fn(rec) {
			break
		}
	}
	return nil
}

func (s *MemoryStore) DeleteExpired(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	n := 0
	for k, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
