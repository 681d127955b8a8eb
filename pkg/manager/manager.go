// Package manager implements the cache manager that owns the priority
// cache and the current/prefetch worker pair forming the predict-then-fetch
// pipeline.
package manager

import (
	"sync"
	"time"

	"github.com/spf13/afero"

	"edgecache/pkg/cache"
	"edgecache/pkg/config"
	"edgecache/pkg/forecast"
	"edgecache/pkg/logger"
	"edgecache/pkg/mpd"
	"edgecache/pkg/planner"
)

// currentItem is one entry on the current queue: a just-served segment
// plus the forecast state already observed for it (computed synchronously
// in EnqueueServed, before the item was queued), so the current worker
// only has to plan from it, never mutate it.
type currentItem struct {
	path          string
	forecastState forecast.State
	hasForecast   bool
}

const queueCapacity = 1024

// Manager owns the priority cache, the three FIFOs (current queue,
// prefetch queue, in-flight set), and the per-session forecast state.
type Manager struct {
	cache    *cache.Cache
	index    *mpd.Index
	forecast *forecast.Manager
	scheme   config.Scheme

	waitInterval time.Duration

	currentQueue  chan currentItem
	prefetchQueue chan string

	inFlightMu sync.Mutex
	inFlight   map[string]struct{}

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Manager and starts its two background workers.
func New(c *cache.Cache, index *mpd.Index, fc *forecast.Manager, scheme config.Scheme, waitTime time.Duration) *Manager {
	m := &Manager{
		cache:         c,
		index:         index,
		forecast:      fc,
		scheme:        scheme,
		waitInterval:  waitTime,
		currentQueue:  make(chan currentItem, queueCapacity),
		prefetchQueue: make(chan string, queueCapacity),
		inFlight:      make(map[string]struct{}),
		stop:          make(chan struct{}),
	}
	m.wg.Add(2)
	go m.runCurrentWorker()
	go m.runPrefetchWorker()
	return m
}

// Fetch serves a client-driven request: if path is in-flight for the
// prefetch worker and not yet on disk, wait (coarse poll) for it to land,
// then fault it into the cache with FETCH priority.
func (m *Manager) Fetch(path, username, sessionID string) (string, map[string]string, error) {
	for m.isInFlight(path) && !m.cache.Contains(path) {
		select {
		case <-m.stop:
		case <-time.After(m.waitInterval):
		}
		if m.isStopped() {
			break
		}
	}
	return m.cache.GetFile(path, cache.ReasonFetch)
}

// OpenCached opens a file previously returned by Fetch for streaming to
// the client.
func (m *Manager) OpenCached(localPath string) (afero.File, error) {
	return m.cache.Open(localPath)
}

// EnqueueServed folds the throughput sample the dispatcher measured for a
// just-served segment (client-reported if the client sent one, else the
// server-measured value) into the SMART forecast synchronously, on the
// caller's goroutine, then queues the segment for prefetch planning.
// Observing synchronously here — rather than on the async current
// worker — means the returned state is always the one produced by this
// segment's own sample, so a telemetry row built from it right after this
// call never lags behind by one observation.
//
// The returned state is only meaningful (ok == true) under the SMART
// scheme; under SIMPLE there is nothing to observe.
func (m *Manager) EnqueueServed(path, username, sessionID string, observedThroughput float64) (forecast.State, bool) {
	var state forecast.State
	ok := m.scheme == config.SchemeSmart
	if ok {
		state = m.forecast.Observe(username, sessionID, observedThroughput)
	}

	item := currentItem{path: path, forecastState: state, hasForecast: ok}
	select {
	case m.currentQueue <- item:
	case <-m.stop:
	}
	return state, ok
}

// Terminate signals both workers to stop and waits for them to exit.
func (m *Manager) Terminate() {
	close(m.stop)
	m.wg.Wait()
}

func (m *Manager) isStopped() bool {
	select {
	case <-m.stop:
		return true
	default:
		return false
	}
}

func (m *Manager) isInFlight(path string) bool {
	m.inFlightMu.Lock()
	defer m.inFlightMu.Unlock()
	_, ok := m.inFlight[path]
	return ok
}

func (m *Manager) markInFlight(path string) {
	m.inFlightMu.Lock()
	m.inFlight[path] = struct{}{}
	m.inFlightMu.Unlock()
}

func (m *Manager) clearInFlight(path string) {
	m.inFlightMu.Lock()
	delete(m.inFlight, path)
	m.inFlightMu.Unlock()
}

// runCurrentWorker drains the current queue, turning each served segment
// into a prefetch prediction.
func (m *Manager) runCurrentWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stop:
			return
		case item := <-m.currentQueue:
			m.handleServed(item)
		}
	}
}

func (m *Manager) handleServed(item currentItem) {
	seg, err := planner.Parse(item.path)
	if err != nil {
		logger.Info("manager: cannot plan from served segment", "path", item.path, "err", err)
		return
	}

	var next planner.Segment
	if m.scheme == config.SchemeSmart && item.hasForecast {
		ladder, _, ok := m.index.LadderForTitle(seg.Title)
		if !ok {
			logger.Info("manager: no bandwidth ladder known for title", "title", seg.Title)
			return
		}
		next, err = planner.NextSmart(seg, ladder, item.forecastState.Forecast())
		if err != nil {
			logger.Info("manager: smart planning failed", "path", item.path, "err", err)
			return
		}
	} else {
		next = planner.NextSimple(seg)
	}

	nextPath := next.Path()
	if m.cache.Contains(nextPath) {
		return
	}
	if !m.checkContentServer(next) {
		logger.Info("manager: dropping invalid prediction", "path", nextPath)
		return
	}

	m.markInFlight(nextPath)
	select {
	case m.prefetchQueue <- nextPath:
	case <-m.stop:
		m.clearInFlight(nextPath)
	}
}

// CheckContentServer reports whether path is a syntactically valid
// segment path whose bitrate rung the title's MPD actually advertises.
// The dispatcher uses it to classify incoming requests; the current
// worker uses it to drop invalid predictions.
func (m *Manager) CheckContentServer(path string) bool {
	seg, err := planner.Parse(path)
	if err != nil {
		return false
	}
	return m.checkContentServer(seg)
}

// checkContentServer is the predicate behind CheckContentServer: a
// predicted path is only enqueued if its bitrate rung is one the title's
// MPD actually advertises.
func (m *Manager) checkContentServer(seg planner.Segment) bool {
	ladder, _, ok := m.index.LadderForTitle(seg.Title)
	if !ok {
		return false
	}
	for _, b := range ladder {
		if b == seg.Bitrate {
			return true
		}
	}
	return false
}

// runPrefetchWorker drains the prefetch queue, faulting each predicted
// path into the cache with PREFETCH priority.
func (m *Manager) runPrefetchWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stop:
			return
		case path := <-m.prefetchQueue:
			if _, _, err := m.cache.GetFile(path, cache.ReasonPrefetch); err != nil {
				logger.Error("manager: prefetch fetch failed", "path", path, "err", err)
			}
			m.clearInFlight(path)
		}
	}
}
