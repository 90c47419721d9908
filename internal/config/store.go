package config

import "sync/atomic"

// Store is the single controlled update path for trading settings.
// Readers call Load and get an immutable snapshot; Swap atomically
// replaces the whole snapshot, so a reader never observes a mix of
// old and new values.
type Store struct {
	ptr atomic.Pointer[Settings]
}

// NewStore creates a settings store seeded with the given snapshot.
func NewStore(s Settings) *Store {
	st := &Store{}
	st.ptr.Store(&s)
	return st
}

// Load returns the current settings snapshot. The returned value is a
// copy; callers may hold it for the duration of a cycle.
func (st *Store) Load() Settings {
	return *st.ptr.Load()
}

// Swap validates and installs a new settings snapshot.
func (st *Store) Swap(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	st.ptr.Store(&s)
	return nil
}
