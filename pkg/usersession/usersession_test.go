package usersession

import "testing"

func TestTouchCreatesAndAppendsBandwidth(t *testing.T) {
	r := New()

	s := r.Touch("alice", "s1", 500000)
	if s.Username != "alice" || s.SessionID != "s1" {
		t.Fatalf("unexpected session: %+v", s)
	}
	if len(s.ReportedBandwidth) != 1 || s.ReportedBandwidth[0] != 500000 {
		t.Errorf("expected reported bandwidth [500000], got %v", s.ReportedBandwidth)
	}

	r.Touch("alice", "s1", 800000)
	got, ok := r.Get("alice", "s1")
	if !ok {
		t.Fatal("expected session to exist")
	}
	if len(got.ReportedBandwidth) != 2 {
		t.Errorf("expected two recorded samples, got %v", got.ReportedBandwidth)
	}
}

func TestTouchWithZeroBandwidthDoesNotAppend(t *testing.T) {
	r := New()
	r.Touch("alice", "s1", 0)
	got, ok := r.Get("alice", "s1")
	if !ok {
		t.Fatal("expected session to be created even with no reported bandwidth")
	}
	if len(got.ReportedBandwidth) != 0 {
		t.Errorf("expected empty reported bandwidth, got %v", got.ReportedBandwidth)
	}
}

func TestDistinctSessionsAreIsolated(t *testing.T) {
	r := New()
	r.Touch("alice", "s1", 500000)
	r.Touch("alice", "s2", 100000)

	if r.Count() != 2 {
		t.Errorf("expected 2 tracked sessions, got %d", r.Count())
	}
	if got := r.LatestReportedBandwidth("alice", "s1"); got != 500000 {
		t.Errorf("expected 500000 for s1, got %d", got)
	}
	if got := r.LatestReportedBandwidth("alice", "s2"); got != 100000 {
		t.Errorf("expected 100000 for s2, got %d", got)
	}
}

func TestSetBandwidthListFromMPD(t *testing.T) {
	r := New()
	r.SetBandwidthList("bob", "s9", []int{400000, 800000})

	s, ok := r.Get("bob", "s9")
	if !ok {
		t.Fatal("expected session to exist")
	}
	if len(s.BandwidthList) != 2 || s.BandwidthList[1] != 800000 {
		t.Errorf("unexpected bandwidth list: %v", s.BandwidthList)
	}
}
