package forecast

import (
	"math"
	"testing"
)

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestUpdateBootstrapsAtZero(t *testing.T) {
	next := Update(State{}, 1000)
	if !approxEqual(next.F, 800) {
		t.Errorf("expected F=800, got %v", next.F)
	}
	if !approxEqual(next.T, 160) {
		t.Errorf("expected T=160, got %v", next.T)
	}
}

func TestUpdateRecurrence(t *testing.T) {
	prev := State{F: 500, T: 50}
	next := Update(prev, 1000)

	wantF := prev.F + alpha*(1000-prev.F)
	wantT := prev.T + delta*(wantF-prev.F)

	if !approxEqual(next.F, wantF) {
		t.Errorf("expected F=%v, got %v", wantF, next.F)
	}
	if !approxEqual(next.T, wantT) {
		t.Errorf("expected T=%v, got %v", wantT, next.T)
	}
}

func TestManagerObserveBootstrapsNewSession(t *testing.T) {
	m, err := New(0)
	if err != nil {
		t.Fatalf("failed to build manager: %v", err)
	}

	if _, ok := m.Get("alice", "s1"); ok {
		t.Fatal("expected no state for unseen session")
	}

	state := m.Observe("alice", "s1", 1000)
	if !approxEqual(state.F, 800) || !approxEqual(state.T, 160) {
		t.Errorf("expected bootstrap F=800 T=160, got F=%v T=%v", state.F, state.T)
	}

	got, ok := m.Get("alice", "s1")
	if !ok {
		t.Fatal("expected state to be stored")
	}
	if got != state {
		t.Errorf("expected stored state to match observed, got %+v want %+v", got, state)
	}
}

func TestManagerObserveIsolatesSessions(t *testing.T) {
	m, err := New(0)
	if err != nil {
		t.Fatalf("failed to build manager: %v", err)
	}

	m.Observe("alice", "s1", 1000)
	if _, ok := m.Get("bob", "s1"); ok {
		t.Error("expected bob's session to remain unseeded by alice's observation")
	}
}
