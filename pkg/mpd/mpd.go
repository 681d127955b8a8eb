// Package mpd parses DASH MPD manifests and persists the per-title
// descriptor index (bandwidth ladder + origin HTTP headers) that the rest
// of the cache needs.
package mpd

import (
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"sync"

	"golang.org/x/net/html/charset"

	"edgecache/pkg/persistence"
)

// rawMPD mirrors the handful of MPD fields this system cares about: the
// bandwidth ladder (one per Representation) and the manifest's declared
// duration/buffer hints. Namespaced element/attribute names (e.g.
// "{urn:mpeg:dash:schema:mpd:2011}MPD") decode fine with encoding/xml
// because xml.Name.Local already strips the namespace URI, mirroring what
// the original Python implementation did by hand with get_tag_name.
type rawMPD struct {
	XMLName                   xml.Name `xml:"MPD"`
	MediaPresentationDuration string   `xml:"mediaPresentationDuration,attr"`
	MinBufferTime             string   `xml:"minBufferTime,attr"`
	Periods                   []struct {
		AdaptationSets []struct {
			Representations []struct {
				Bandwidth int `xml:"bandwidth,attr"`
			} `xml:"Representation"`
		} `xml:"AdaptationSet"`
	} `xml:"Period"`
}

// Descriptor is the per-title MPD metadata kept in the index.
type Descriptor struct {
	BandwidthList []int             `json:"bandwidth_list"`
	HTTPHeaders   map[string]string `json:"http_headers"`

	// Supplemented from original_source/dist/client/read_mpd.py: retained
	// as metadata once the XML is already being walked for the ladder.
	PlaybackDurationSeconds float64 `json:"playback_duration_seconds,omitempty"`
	MinBufferTimeSeconds    float64 `json:"min_buffer_time_seconds,omitempty"`
}

// Parse decodes an MPD manifest and returns its bandwidth ladder (sorted
// ascending) and supplementary playback metadata. The origin's HTTP headers
// are merged into the returned Descriptor by the caller.
func Parse(r io.Reader) (*Descriptor, error) {
	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = charset.NewReaderLabel

	var raw rawMPD
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode MPD: %w", err)
	}

	seen := map[int]bool{}
	var ladder []int
	for _, period := range raw.Periods {
		for _, as := range period.AdaptationSets {
			for _, rep := range as.Representations {
				if rep.Bandwidth <= 0 || seen[rep.Bandwidth] {
					continue
				}
				seen[rep.Bandwidth] = true
				ladder = append(ladder, rep.Bandwidth)
			}
		}
	}
	sort.Ints(ladder)

	d := &Descriptor{
		BandwidthList:           ladder,
		HTTPHeaders:             map[string]string{},
		PlaybackDurationSeconds: parseISODuration(raw.MediaPresentationDuration),
		MinBufferTimeSeconds:    parseISODuration(raw.MinBufferTime),
	}
	return d, nil
}

// parseISODuration parses the subset of ISO-8601 durations MPDs use, e.g.
// "PT0H1M59.89S". Returns 0 for an empty or unparseable string.
func parseISODuration(s string) float64 {
	if s == "" || s[0] != 'P' {
		return 0
	}
	s = s[1:]
	if len(s) == 0 || s[0] != 'T' {
		return 0
	}
	s = s[1:]

	var total float64
	var num []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == 'H' || c == 'M' || c == 'S':
			var val float64
			fmt.Sscanf(string(num), "%g", &val)
			switch c {
			case 'H':
				total += val * 3600
			case 'M':
				total += val * 60
			case 'S':
				total += val
			}
			num = nil
		default:
			num = append(num, c)
		}
	}
	return total
}

// HighestBandwidthAtMost returns the largest bitrate in ladder that is <=
// target, or the lowest bitrate in ladder if target is below every rung
// or ladder is empty-but-for-one entry. ok is false only if ladder itself
// is empty.
func HighestBandwidthAtMost(ladder []int, target int) (int, bool) {
	if len(ladder) == 0 {
		return 0, false
	}
	best := ladder[0]
	for _, b := range ladder {
		if b <= target && b > best {
			best = b
		}
	}
	if target < ladder[0] {
		best = ladder[0]
	}
	return best, true
}

// Index is the process-wide, persisted map of known MPD paths to their
// Descriptor, guarded by its own mutex.
type Index struct {
	mu      sync.RWMutex
	entries map[string]Descriptor
	store   *persistence.StateManager
}

const indexStateKey = "mpd_index"

// NewIndex loads the index from the StateManager's backing file, if
// present.
func NewIndex(store *persistence.StateManager) (*Index, error) {
	idx := &Index{
		entries: make(map[string]Descriptor),
		store:   store,
	}
	if _, err := store.Get(indexStateKey, &idx.entries); err != nil {
		return nil, fmt.Errorf("load MPD index: %w", err)
	}
	if idx.entries == nil {
		idx.entries = make(map[string]Descriptor)
	}
	return idx, nil
}

// Get returns the descriptor for path and whether it was known.
func (idx *Index) Get(path string) (Descriptor, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	d, ok := idx.entries[path]
	return d, ok
}

// Contains reports whether path is a known MPD.
func (idx *Index) Contains(path string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.entries[path]
	return ok
}

// LadderForTitle returns the bandwidth ladder and headers for the MPD
// whose title matches title (path "<title>.mpd"), for the planner's SMART
// scheme to select a rung from.
func (idx *Index) LadderForTitle(title string) ([]int, map[string]string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	d, ok := idx.entries[title+".mpd"]
	if !ok {
		return nil, nil, false
	}
	return d.BandwidthList, d.HTTPHeaders, true
}

// Add records a new descriptor for path and rewrites the index file
// immediately, unlike persistence.StateManager's default debounce.
func (idx *Index) Add(path string, d Descriptor) error {
	idx.mu.Lock()
	idx.entries[path] = d
	snapshot := make(map[string]Descriptor, len(idx.entries))
	for k, v := range idx.entries {
		snapshot[k] = v
	}
	idx.mu.Unlock()

	if err := idx.store.SetNow(indexStateKey, snapshot); err != nil {
		return fmt.Errorf("persist MPD index: %w", err)
	}
	return nil
}
