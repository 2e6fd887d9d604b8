// Package store holds the last snapshot fetched from the backend.
// The snapshot is only ever replaced as a whole; observers are told after
// every replacement and clear.
package store

import (
	"sync"

	"finclient/internal/core"
	"finclient/internal/log"
)

// Observer receives the new snapshot and whether one is loaded.
type Observer func(snap core.Snapshot, loaded bool)

type Store struct {
	mu        sync.RWMutex
	snap      core.Snapshot
	loaded    bool
	observers map[int]Observer
	nextID    int
	logger    *log.Logger
}

func New(logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Discard()
	}
	return &Store{
		observers: map[int]Observer{},
		logger:    logger.WithComponent(log.ComponentStore),
	}
}

// Replace swaps in snap. The store keeps its own copy.
func (s *Store) Replace(snap core.Snapshot) {
	s.mu.Lock()
	s.snap = snap.Clone()
	s.loaded = true
	observers := s.observersLocked()
	s.mu.Unlock()

	s.logger.Debug("Snapshot replaced", log.NewFields().WithSnapshotSize(len(snap.Expenses), len(snap.Categories)).ToSlice()...)
	s.notify(observers, snap.Clone(), true)
}

// Clear discards the snapshot.
func (s *Store) Clear() {
	s.mu.Lock()
	wasLoaded := s.loaded
	s.snap = core.Snapshot{}
	s.loaded = false
	observers := s.observersLocked()
	s.mu.Unlock()

	if wasLoaded {
		s.logger.Debug("Snapshot cleared")
	}
	s.notify(observers, core.Snapshot{}, false)
}

// Snapshot returns a copy of the current snapshot and whether one is loaded.
func (s *Store) Snapshot() (core.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone(), s.loaded
}

// Expense returns a detached copy of the stored expense id.
func (s *Store) Expense(id int64) (core.Expense, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return core.Expense{}, false
	}
	return s.snap.Expense(id)
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Observer) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) observersLocked() []Observer {
	out := make([]Observer, 0, len(s.observers))
	for i := 0; i < s.nextID; i++ {
		if fn, ok := s.observers[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func (s *Store) notify(observers []Observer, snap core.Snapshot, loaded bool) {
	for _, fn := range observers {
		fn(snap.Clone(), loaded)
	}
}
