// Package planner parses the segment path grammar and decides which
// segment to prefetch next under each scheme.
package planner

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"edgecache/pkg/mpd"
)

// ErrMalformedPath is returned when a path does not match the segment
// grammar "<title>/<bitrate>/<title>_seg_<index>.m4s".
var ErrMalformedPath = errors.New("malformed segment path")

// Segment is a parsed path identifying one DASH media segment.
type Segment struct {
	Title    string
	Bitrate  int
	Index    int
	Ext      string
}

// Parse decomposes a segment path into its title, bitrate rung, and
// sequence index. The filename stem is expected to be
// "<title>_seg_<index>", matching the layout produced by typical DASH
// packagers.
func Parse(p string) (Segment, error) {
	dir, file := path.Split(p)
	dir = strings.TrimSuffix(dir, "/")
	bitrateStr := path.Base(dir)
	title := path.Base(path.Dir(dir))

	bitrate, err := strconv.Atoi(bitrateStr)
	if err != nil {
		return Segment{}, fmt.Errorf("%w: %s: bitrate component %q: %v", ErrMalformedPath, p, bitrateStr, err)
	}

	ext := path.Ext(file)
	stem := strings.TrimSuffix(file, ext)
	marker := "_seg_"
	pos := strings.LastIndex(stem, marker)
	if pos < 0 {
		return Segment{}, fmt.Errorf("%w: %s: no %q marker in %q", ErrMalformedPath, p, marker, file)
	}
	idxStr := stem[pos+len(marker):]
	index, err := strconv.Atoi(idxStr)
	if err != nil {
		return Segment{}, fmt.Errorf("%w: %s: index component %q: %v", ErrMalformedPath, p, idxStr, err)
	}

	return Segment{Title: title, Bitrate: bitrate, Index: index, Ext: ext}, nil
}

// Path renders a Segment back into its path form.
func (s Segment) Path() string {
	return fmt.Sprintf("%s/%d/%s_seg_%d%s", s.Title, s.Bitrate, s.Title, s.Index, s.Ext)
}

// NextSimple implements the SIMPLE scheme: same bitrate rung, next index.
// Spec.md §4.3.
func NextSimple(s Segment) Segment {
	return Segment{Title: s.Title, Bitrate: s.Bitrate, Index: s.Index + 1, Ext: s.Ext}
}

// NextSmart implements the SMART scheme: the highest bitrate rung in
// ladder that does not exceed the forecast throughput, at the next index.
// Spec.md §4.3/§4.4.
func NextSmart(s Segment, ladder []int, forecastThroughput float64) (Segment, error) {
	rung, ok := mpd.HighestBandwidthAtMost(ladder, int(forecastThroughput))
	if !ok {
		return Segment{}, fmt.Errorf("smart scheme: empty bandwidth ladder for %s", s.Title)
	}
	return Segment{Title: s.Title, Bitrate: rung, Index: s.Index + 1, Ext: s.Ext}, nil
}
