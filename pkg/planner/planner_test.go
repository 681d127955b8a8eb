package planner

import "testing"

func TestParse(t *testing.T) {
	seg, err := Parse("bbb/800000/bbb_seg_5.m4s")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if seg.Title != "bbb" {
		t.Errorf("expected title bbb, got %s", seg.Title)
	}
	if seg.Bitrate != 800000 {
		t.Errorf("expected bitrate 800000, got %d", seg.Bitrate)
	}
	if seg.Index != 5 {
		t.Errorf("expected index 5, got %d", seg.Index)
	}
	if seg.Ext != ".m4s" {
		t.Errorf("expected ext .m4s, got %s", seg.Ext)
	}
}

func TestParseMalformed(t *testing.T) {
	cases := []string{
		"bbb/notanumber/bbb_seg_5.m4s",
		"bbb/800000/bbb_noseg_5.m4s",
		"bbb/800000/bbb_seg_notanumber.m4s",
	}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Errorf("expected error for %q, got nil", c)
		}
	}
}

func TestNextSimple(t *testing.T) {
	seg, err := Parse("bbb/800000/bbb_seg_5.m4s")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	next := NextSimple(seg)
	if next.Bitrate != 800000 || next.Index != 6 {
		t.Errorf("expected same bitrate, index+1, got bitrate=%d index=%d", next.Bitrate, next.Index)
	}
	if got, want := next.Path(), "bbb/800000/bbb_seg_6.m4s"; got != want {
		t.Errorf("expected path %s, got %s", want, got)
	}
}

func TestNextSmartPicksHighestRungAtMostForecast(t *testing.T) {
	seg, err := Parse("bbb/800000/bbb_seg_5.m4s")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	ladder := []int{400000, 800000, 1500000}
	next, err := NextSmart(seg, ladder, 1000000)
	if err != nil {
		t.Fatalf("smart planning failed: %v", err)
	}
	if next.Bitrate != 800000 {
		t.Errorf("expected rung 800000, got %d", next.Bitrate)
	}
	if next.Index != 6 {
		t.Errorf("expected index 6, got %d", next.Index)
	}
}

func TestNextSmartBelowLowestRungUsesLowest(t *testing.T) {
	seg, err := Parse("bbb/800000/bbb_seg_5.m4s")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	ladder := []int{400000, 800000, 1500000}
	next, err := NextSmart(seg, ladder, 100)
	if err != nil {
		t.Fatalf("smart planning failed: %v", err)
	}
	if next.Bitrate != 400000 {
		t.Errorf("expected lowest rung 400000, got %d", next.Bitrate)
	}
}

func TestNextSmartEmptyLadderErrors(t *testing.T) {
	seg, err := Parse("bbb/800000/bbb_seg_5.m4s")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if _, err := NextSmart(seg, nil, 1000000); err == nil {
		t.Error("expected error for empty ladder, got nil")
	}
}
