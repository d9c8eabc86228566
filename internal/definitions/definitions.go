// Package definitions tracks the vulnerability-definition corpus state: which
// version is current, when it was last refreshed, and whether a refresh is in
// flight. Readers (scan workers) only ever see a fully swapped snapshot.
package definitions

import (
	"sync/atomic"
	"time"
)

// Status of the refresh lifecycle.
const (
	StatusIdle       = "idle"
	StatusRefreshing = "refreshing"
)

// Snapshot is an immutable view of the definition corpus state.
type Snapshot struct {
	Version     int64         `json:"version"`
	RefreshedAt time.Time     `json:"refreshed_at"`
	Duration    time.Duration `json:"duration"`
}

// Store holds the process-wide definition state. The snapshot pointer is swapped
// atomically, so a concurrently running scan reads either the prior version or
// the new fully-validated one, never an intermediate state.
type Store struct {
	current    atomic.Pointer[Snapshot]
	refreshing atomic.Bool
}

// New creates a Store with version zero (no refresh has succeeded yet).
func New() *Store {
	s := &Store{}
	s.current.Store(&Snapshot{})
	return s
}

// Restore seeds the store from a persisted refresh outcome, typically at startup.
func (s *Store) Restore(version int64, refreshedAt time.Time, duration time.Duration) {
	s.current.Store(&Snapshot{Version: version, RefreshedAt: refreshedAt, Duration: duration})
}

// Current returns the active snapshot.
func (s *Store) Current() Snapshot {
	return *s.current.Load()
}

// Version returns the active version token.
func (s *Store) Version() int64 {
	return s.current.Load().Version
}

// Status reports whether a refresh is currently in flight.
func (s *Store) Status() string {
	if s.refreshing.Load() {
		return StatusRefreshing
	}
	return StatusIdle
}

// BeginRefresh marks a refresh as in flight. Returns false if one already is.
func (s *Store) BeginRefresh() bool {
	return s.refreshing.CompareAndSwap(false, true)
}

// EndRefresh clears the in-flight marker. Called on every refresh exit path.
func (s *Store) EndRefresh() {
	s.refreshing.Store(false)
}

// Advance swaps in the next version after a verified refresh and returns the
// new snapshot. A failed refresh never calls Advance, so the previous version
// stays active.
func (s *Store) Advance(refreshedAt time.Time, duration time.Duration) Snapshot {
	next := Snapshot{
		Version:     s.current.Load().Version + 1,
		RefreshedAt: refreshedAt,
		Duration:    duration,
	}
	s.current.Store(&next)
	return next
}
