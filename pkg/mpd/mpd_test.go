package mpd

import (
	"strings"
	"testing"

	"github.com/spf13/afero"

	"edgecache/pkg/persistence"
)

const sampleMPD = `<?xml version="1.0"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" mediaPresentationDuration="PT0H1M59.89S" minBufferTime="PT2.0S">
  <Period>
    <AdaptationSet>
      <Representation bandwidth="400000"></Representation>
      <Representation bandwidth="1500000"></Representation>
      <Representation bandwidth="800000"></Representation>
      <Representation bandwidth="800000"></Representation>
    </AdaptationSet>
  </Period>
</MPD>`

func TestParseExtractsSortedUniqueBandwidthLadder(t *testing.T) {
	d, err := Parse(strings.NewReader(sampleMPD))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	want := []int{400000, 800000, 1500000}
	if len(d.BandwidthList) != len(want) {
		t.Fatalf("expected %v, got %v", want, d.BandwidthList)
	}
	for i, b := range want {
		if d.BandwidthList[i] != b {
			t.Errorf("index %d: expected %d, got %d", i, b, d.BandwidthList[i])
		}
	}
}

func TestParseDurations(t *testing.T) {
	d, err := Parse(strings.NewReader(sampleMPD))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got, want := d.PlaybackDurationSeconds, 119.89; got != want {
		t.Errorf("expected playback duration %v, got %v", want, got)
	}
	if got, want := d.MinBufferTimeSeconds, 2.0; got != want {
		t.Errorf("expected min buffer time %v, got %v", want, got)
	}
}

func TestHighestBandwidthAtMost(t *testing.T) {
	ladder := []int{400000, 800000, 1500000}

	if b, ok := HighestBandwidthAtMost(ladder, 1000000); !ok || b != 800000 {
		t.Errorf("expected 800000, got %d ok=%v", b, ok)
	}
	if b, ok := HighestBandwidthAtMost(ladder, 100); !ok || b != 400000 {
		t.Errorf("expected lowest rung 400000 below floor, got %d ok=%v", b, ok)
	}
	if b, ok := HighestBandwidthAtMost(ladder, 1500000); !ok || b != 1500000 {
		t.Errorf("expected exact top rung 1500000, got %d ok=%v", b, ok)
	}
	if _, ok := HighestBandwidthAtMost(nil, 1000); ok {
		t.Error("expected ok=false for empty ladder")
	}
}

func TestIndexAddPersistsAndReloads(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := persistence.NewStateManager(fs, "/data/state.json")
	if err != nil {
		t.Fatalf("failed to build state manager: %v", err)
	}

	idx, err := NewIndex(store)
	if err != nil {
		t.Fatalf("failed to build index: %v", err)
	}

	d := Descriptor{BandwidthList: []int{400000, 800000}, HTTPHeaders: map[string]string{"X-Test": "1"}}
	if err := idx.Add("bbb.mpd", d); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if !idx.Contains("bbb.mpd") {
		t.Fatal("expected index to contain bbb.mpd")
	}

	store2, err := persistence.NewStateManager(fs, "/data/state.json")
	if err != nil {
		t.Fatalf("failed to reload state manager: %v", err)
	}
	idx2, err := NewIndex(store2)
	if err != nil {
		t.Fatalf("failed to reload index: %v", err)
	}
	if !idx2.Contains("bbb.mpd") {
		t.Fatal("expected reloaded index to contain bbb.mpd (SetNow writes synchronously)")
	}

	ladder, _, ok := idx2.LadderForTitle("bbb")
	if !ok {
		t.Fatal("expected ladder lookup by title to succeed")
	}
	if len(ladder) != 2 || ladder[1] != 800000 {
		t.Errorf("unexpected ladder after reload: %v", ladder)
	}
}
