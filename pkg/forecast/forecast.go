// Package forecast implements the SMART scheme's per-session throughput
// forecaster: double exponential smoothing (Holt's method) over observed
// segment download throughput.
package forecast

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Smoothing constants for Holt's method. Not configurable.
const (
	alpha = 0.8
	delta = 0.2
)

// State is one session's smoothing state: the level (F) and trend (T)
// terms of Holt's method.
type State struct {
	F float64
	T float64
}

// Forecast returns this state's throughput forecast: F + T.
func (s State) Forecast() float64 {
	return s.F + s.T
}

// Update folds a newly observed throughput sample into s and returns the
// updated state:
//
//	F_t = F_{t-1} + alpha*(A_{t-1} - F_{t-1})
//	T_t = T_{t-1} + delta*(F_t - F_{t-1})
func Update(prev State, observed float64) State {
	f := prev.F + alpha*(observed-prev.F)
	t := prev.T + delta*(f-prev.F)
	return State{F: f, T: t}
}

// key identifies the (username, session) pair a State belongs to.
type key struct {
	username  string
	sessionID string
}

// Manager holds a bounded set of per-session forecast states. Bounding via
// an LRU (rather than an unbounded map) keeps long-lived processes from
// accumulating state for sessions that never come back.
type Manager struct {
	cache *lru.Cache[key, *State]
}

// defaultCapacity bounds the number of concurrently tracked sessions.
const defaultCapacity = 4096

// New builds a Manager with room for capacity sessions. capacity <= 0
// selects defaultCapacity.
func New(capacity int) (*Manager, error) {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	c, err := lru.New[key, *State](capacity)
	if err != nil {
		return nil, err
	}
	return &Manager{cache: c}, nil
}

// Get returns the current state for (username, sessionID), and whether one
// already existed. A fresh session bootstraps at F_0 = T_0 = 0.
func (m *Manager) Get(username, sessionID string) (State, bool) {
	k := key{username, sessionID}
	if s, ok := m.cache.Get(k); ok {
		return *s, true
	}
	return State{}, false
}

// Observe folds an observed throughput sample into (username, sessionID)'s
// forecast state, creating it at F_0=T_0=0 if absent, and returns the
// updated state.
func (m *Manager) Observe(username, sessionID string, observedThroughput float64) State {
	k := key{username, sessionID}
	prev := State{}
	if s, ok := m.cache.Get(k); ok {
		prev = *s
	}
	next := Update(prev, observedThroughput)
	m.cache.Add(k, &next)
	return next
}
