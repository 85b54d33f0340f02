package state

import (
	"sync"

	"github.com/m3rciful/botcore/core/errs"
)

type entryKey struct {
	userID int64
	tag    string
}

// Store keeps per-user dialogue state in memory. Each (user, tag) pair owns
// at most one entry, so every step of a dialogue sees the same instance.
type Store struct {
	mu        sync.RWMutex
	entries   map[entryKey]any
	positions map[int64]Position
}

// NewStore constructs an empty state store.
func NewStore() *Store {
	return &Store{
		entries:   make(map[entryKey]any),
		positions: make(map[int64]Position),
	}
}

// GetOrInitEntry returns the entry for (userID, tag), calling init to build
// one when none exists yet. Repeated calls return the same instance until
// the entry is cleared.
func (s *Store) GetOrInitEntry(userID int64, tag string, init func() any) any {
	key := entryKey{userID: userID, tag: tag}

	s.mu.RLock()
	existing, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		return existing
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[key]; ok {
		return existing
	}
	v := init()
	s.entries[key] = v
	return v
}

// Entry returns the entry for (userID, tag) or a state_not_initialized
// error when the dialogue has not produced one.
func (s *Store) Entry(userID int64, tag string) (any, error) {
	s.mu.RLock()
	existing, ok := s.entries[entryKey{userID: userID, tag: tag}]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.StateNotInitialized(tag)
	}
	return existing, nil
}

// GetOrInit returns the typed entry for (userID, tag), creating a
// zero-valued one when none exists yet.
func GetOrInit[T any](s *Store, userID int64, tag string) *T {
	v := s.GetOrInitEntry(userID, tag, func() any { return new(T) })
	typed, ok := v.(*T)
	if !ok {
		// A different dialogue type occupies the slot. Replace it rather
		// than handing out a stale instance.
		s.ClearEntry(userID, tag)
		typed = s.GetOrInitEntry(userID, tag, func() any { return new(T) }).(*T)
	}
	return typed
}

// Get returns the typed entry for (userID, tag) or a state_not_initialized
// error when the dialogue has not produced one.
func Get[T any](s *Store, userID int64, tag string) (*T, error) {
	existing, err := s.Entry(userID, tag)
	if err != nil {
		return nil, err
	}
	v, ok := existing.(*T)
	if !ok {
		return nil, errs.StateNotInitialized(tag)
	}
	return v, nil
}

// ClearEntry removes the entry for (userID, tag). Clearing an absent entry
// is a no-op.
func (s *Store) ClearEntry(userID int64, tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, entryKey{userID: userID, tag: tag})
}

// ClearUser removes every entry and the dialogue position of a user.
func (s *Store) ClearUser(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.entries {
		if key.userID == userID {
			delete(s.entries, key)
		}
	}
	delete(s.positions, userID)
}

// SetPosition records where the user currently is inside a dialogue.
func (s *Store) SetPosition(userID int64, tag string, step Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[userID] = Position{Tag: tag, Step: step}
}

// Position returns the user's current dialogue position, if any.
func (s *Store) Position(userID int64) (Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[userID]
	return pos, ok
}

// ClearPosition ends the user's dialogue without touching stored entries.
func (s *Store) ClearPosition(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, userID)
}

// InProgress reports whether the user is in the middle of a dialogue.
func (s *Store) InProgress(userID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.positions[userID]
	return ok
}
