package alerts

import (
	"sync"
	"time"

	"ecowatch/internal/model"
)

// Entry records one alert event and whether the bus accepted it. Entries with
// Published=false are the events interested subscribers never saw; keeping
// them visible here is the observability half of the fire-and-forget policy.
type Entry struct {
	Event       model.AlertEvent `json:"event"`
	PublishedAt time.Time        `json:"published_at"`
	Published   bool             `json:"published"`
}

// Store is a bounded in-memory ring of recent alert events, backing the
// /alerts route.
type Store struct {
	mu    sync.RWMutex
	buf   []Entry
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, entry)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = entry
}

func (s *Store) List(limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]Entry, 0, limit)
	start := len(s.buf) - limit
	if start < 0 {
		start = 0
	}
	for i := start; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0)
	for _, e := range s.buf {
		if !e.PublishedAt.Before(ts) {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
