package blacklist

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Entry pairs a rejected node fingerprint with the time it entered the store.
type Entry struct {
	Fingerprint string
	AddedAt     time.Time
}

// Persistence loads and rewrites the full entry set. Backends exist for a
// line-oriented file and a Redis sorted set.
type Persistence interface {
	Name() string
	Load(ctx context.Context) ([]Entry, error)
	Save(ctx context.Context, entries []Entry) error
}

// Store is the bounded, insertion-ordered rejection set. Every mutation goes
// through one mutex so eviction order stays exact under concurrent adds.
type Store struct {
	mu      sync.Mutex
	size    int
	entries []Entry
	present map[string]struct{}
	added   int
	evicted int
	backend Persistence

	now func() time.Time
}

// Stats is the observable state surfaced in the quality report. Persisted is
// filled by the caller once the end-of-run Save has succeeded.
type Stats struct {
	Backend   string `json:"backend"`
	Size      int    `json:"size"`
	Added     int    `json:"added"`
	Evicted   int    `json:"evicted"`
	Persisted bool   `json:"persisted"`
}

func NewStore(capacity int, backend Persistence) *Store {
	if capacity < 0 {
		capacity = 0
	}
	return &Store{
		size:    capacity,
		present: make(map[string]struct{}),
		backend: backend,
		now:     time.Now,
	}
}

// Load hydrates the store from its backend. Missing or unreadable state
// degrades to whatever could be read (usually nothing); the returned error
// only reports the degradation, the store stays usable either way.
func (s *Store) Load(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}

	entries, err := s.backend.Load(ctx)

	s.mu.Lock()
	s.entries = s.entries[:0]
	s.present = make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if entry.Fingerprint == "" {
			continue
		}
		if _, duplicate := s.present[entry.Fingerprint]; duplicate {
			continue
		}
		s.present[entry.Fingerprint] = struct{}{}
		s.entries = append(s.entries, entry)
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("blacklist load: %w", err)
	}
	return nil
}

func (s *Store) Contains(fingerprint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, found := s.present[fingerprint]
	return found
}

// Add appends a fingerprint if absent, then evicts the oldest entries until
// the size is back at the cap. A store loaded over cap is trimmed here, on
// the first add, never silently during Load.
func (s *Store) Add(fingerprint string) bool {
	if fingerprint == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.present[fingerprint]; found {
		return false
	}

	s.entries = append(s.entries, Entry{Fingerprint: fingerprint, AddedAt: s.now().UTC()})
	s.present[fingerprint] = struct{}{}
	s.added++

	if s.size > 0 && len(s.entries) > s.size {
		overflow := len(s.entries) - s.size
		for _, old := range s.entries[:overflow] {
			delete(s.present, old.Fingerprint)
			s.evicted++
		}
		s.entries = append([]Entry(nil), s.entries[overflow:]...)
	}

	return true
}

// AddAll adds every fingerprint in order and reports how many were new.
func (s *Store) AddAll(fingerprints []string) int {
	inserted := 0
	for _, fingerprint := range fingerprints {
		if s.Add(fingerprint) {
			inserted++
		}
	}
	return inserted
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Snapshot returns the entries in insertion order.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	backend := "none"
	if s.backend != nil {
		backend = s.backend.Name()
	}
	return Stats{
		Backend: backend,
		Size:    len(s.entries),
		Added:   s.added,
		Evicted: s.evicted,
	}
}

// Save persists the current entry set through the backend in one atomic
// rewrite. The in-memory set stays authoritative when the write fails.
func (s *Store) Save(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}

	if err := s.backend.Save(ctx, s.Snapshot()); err != nil {
		return fmt.Errorf("blacklist save: %w", err)
	}
	return nil
}
