package manager

import (
	"net/http"
	"testing"
	"time"

	"github.com/spf13/afero"

	"edgecache/pkg/cache"
	"edgecache/pkg/config"
	"edgecache/pkg/forecast"
	"edgecache/pkg/mpd"
	"edgecache/pkg/persistence"
)

type fakeOrigin struct {
	files map[string][]byte
	calls map[string]int
}

func newFakeOrigin() *fakeOrigin {
	return &fakeOrigin{files: map[string][]byte{}, calls: map[string]int{}}
}

func (f *fakeOrigin) Fetch(path string) ([]byte, http.Header, error) {
	f.calls[path]++
	return f.files[path], http.Header{}, nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestSimpleSchemePrefetchesNextIndex(t *testing.T) {
	origin := newFakeOrigin()
	origin.files["bbb/800000/bbb_seg_5.m4s"] = make([]byte, 4)
	origin.files["bbb/800000/bbb_seg_6.m4s"] = make([]byte, 4)

	c := cache.New(afero.NewMemMapFs(), "/cache", 1<<20, origin, 1, 2)

	fs := afero.NewMemMapFs()
	store, err := persistence.NewStateManager(fs, "/data/state.json")
	if err != nil {
		t.Fatalf("failed to build state manager: %v", err)
	}
	idx, err := mpd.NewIndex(store)
	if err != nil {
		t.Fatalf("failed to build index: %v", err)
	}
	if err := idx.Add("bbb.mpd", mpd.Descriptor{BandwidthList: []int{400000, 800000, 1500000}}); err != nil {
		t.Fatalf("failed to seed index: %v", err)
	}

	fc, err := forecast.New(0)
	if err != nil {
		t.Fatalf("failed to build forecast manager: %v", err)
	}

	m := New(c, idx, fc, config.SchemeSimple, 10*time.Millisecond)
	defer m.Terminate()

	if _, _, err := m.Fetch("bbb/800000/bbb_seg_5.m4s", "alice", "s1"); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	m.EnqueueServed("bbb/800000/bbb_seg_5.m4s", "alice", "s1", 1000000)

	waitFor(t, time.Second, func() bool {
		return c.Contains("bbb/800000/bbb_seg_6.m4s")
	})

	calls := origin.calls["bbb/800000/bbb_seg_6.m4s"]
	if calls != 1 {
		t.Errorf("expected exactly one prefetch origin call, got %d", calls)
	}
}

func TestSmartSchemePicksRungFromForecast(t *testing.T) {
	origin := newFakeOrigin()
	origin.files["bbb/800000/bbb_seg_5.m4s"] = make([]byte, 4)
	origin.files["bbb/800000/bbb_seg_6.m4s"] = make([]byte, 4)

	c := cache.New(afero.NewMemMapFs(), "/cache", 1<<20, origin, 1, 2)

	fs := afero.NewMemMapFs()
	store, err := persistence.NewStateManager(fs, "/data/state.json")
	if err != nil {
		t.Fatalf("failed to build state manager: %v", err)
	}
	idx, err := mpd.NewIndex(store)
	if err != nil {
		t.Fatalf("failed to build index: %v", err)
	}
	if err := idx.Add("bbb.mpd", mpd.Descriptor{BandwidthList: []int{400000, 800000, 1500000}}); err != nil {
		t.Fatalf("failed to seed index: %v", err)
	}

	fc, err := forecast.New(0)
	if err != nil {
		t.Fatalf("failed to build forecast manager: %v", err)
	}

	m := New(c, idx, fc, config.SchemeSmart, 10*time.Millisecond)
	defer m.Terminate()

	if _, _, err := m.Fetch("bbb/800000/bbb_seg_5.m4s", "alice", "s1"); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	// First SMART observation for this session bootstraps F_0=T_0=0, so one
	// 1,000,000 sample gives F=800,000 and T=160,000: a forecast of 960,000,
	// whose highest rung at most that is 800,000.
	m.EnqueueServed("bbb/800000/bbb_seg_5.m4s", "alice", "s1", 1000000)

	waitFor(t, time.Second, func() bool {
		return c.Contains("bbb/400000/bbb_seg_6.m4s") || c.Contains("bbb/800000/bbb_seg_6.m4s")
	})
}

func TestCheckContentServerRejectsUnknownBitrate(t *testing.T) {
	origin := newFakeOrigin()
	c := cache.New(afero.NewMemMapFs(), "/cache", 1<<20, origin, 1, 2)

	fs := afero.NewMemMapFs()
	store, err := persistence.NewStateManager(fs, "/data/state.json")
	if err != nil {
		t.Fatalf("failed to build state manager: %v", err)
	}
	idx, err := mpd.NewIndex(store)
	if err != nil {
		t.Fatalf("failed to build index: %v", err)
	}
	if err := idx.Add("bbb.mpd", mpd.Descriptor{BandwidthList: []int{400000, 800000}}); err != nil {
		t.Fatalf("failed to seed index: %v", err)
	}

	fc, err := forecast.New(0)
	if err != nil {
		t.Fatalf("failed to build forecast manager: %v", err)
	}
	m := New(c, idx, fc, config.SchemeSimple, 10*time.Millisecond)
	defer m.Terminate()

	if m.CheckContentServer("bbb/9999999/bbb_seg_1.m4s") {
		t.Error("expected unknown bitrate to be rejected")
	}
	if !m.CheckContentServer("bbb/800000/bbb_seg_1.m4s") {
		t.Error("expected known bitrate to be accepted")
	}
}
