package memory

import (
	"context"
	"sync"
	"time"

	"github.com/johncui/socrate/pkg/session"
)

// Store is an in-process session store bounded by capacity.
type Store struct {
	mu       sync.Mutex
	items    map[string]session.State
	capacity int
}

// New returns a Store holding at most capacity sessions; 0 means unbounded.
func New(capacity int) *Store {
	return &Store{items: make(map[string]session.State), capacity: capacity}
}

func (s *Store) Load(_ context.Context, id string) (session.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.items[id]
	if !ok {
		return session.State{}, session.ErrNotFound
	}
	return st, nil
}

// Save stores st, evicting the least recently updated session if capacity is exceeded.
func (s *Store) Save(_ context.Context, st session.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[st.ID] = st
	if s.capacity > 0 && len(s.items) > s.capacity {
		s.evictOldest(st.ID)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return session.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

// Sweep removes sessions not updated since before.
func (s *Store) Sweep(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, st := range s.items {
		if st.UpdatedAt.Before(before) {
			delete(s.items, id)
			n++
		}
	}
	return n, nil
}

// Len reports how many sessions are held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) Close() error { return nil }

func (s *Store) evictOldest(keep string) {
	var (
		oldest string
		at     time.Time
	)
	for id, st := range s.items {
		if id == keep {
			continue
		}
		if oldest == "" || st.UpdatedAt.Before(at) {
			oldest, at = id, st.UpdatedAt
		}
	}
	if oldest != "" {
		delete(s.items, oldest)
	}
}

var _ session.Store = (*Store)(nil)
