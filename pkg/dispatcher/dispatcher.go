// Package dispatcher implements the HTTP request dispatcher that
// classifies each request into MPD-known, MPD-import, segment, or 404,
// and orchestrates serving plus post-serve measurement.
package dispatcher

import (
	"io"
	"math"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/afero"

	"edgecache/pkg/config"
	"edgecache/pkg/logger"
	"edgecache/pkg/manager"
	"edgecache/pkg/mpd"
	"edgecache/pkg/telemetry"
	"edgecache/pkg/usersession"
)

const segmentMarker = "m4s"

// originFetcher mirrors the origin client's Fetch method, kept local so
// the dispatcher can be exercised against a test double without spinning
// up real HTTP.
type originFetcher interface {
	Fetch(path string) ([]byte, http.Header, error)
}

// Dispatcher wires the origin client, cache manager, MPD index, and user
// session registry into an HTTP handler.
type Dispatcher struct {
	index    *mpd.Index
	manager  *manager.Manager
	origin   originFetcher
	sessions *usersession.Registry
	sink     telemetry.Sink

	mpdFs   afero.Fs
	mpdRoot string

	sources map[string]bool
}

// New builds a Dispatcher.
func New(cfg *config.Config, idx *mpd.Index, mgr *manager.Manager, originClient originFetcher, sessions *usersession.Registry, sink telemetry.Sink, mpdFs afero.Fs) *Dispatcher {
	return &Dispatcher{
		index:    idx,
		manager:  mgr,
		origin:   originClient,
		sessions: sessions,
		sink:     sink,
		mpdFs:    mpdFs,
		mpdRoot:  cfg.MPDRoot,
		sources:  cfg.MPDSourceSet(),
	}
}

// Handler builds the chi router that serves every GET through classify,
// with request-scoped logging ahead of it.
func (d *Dispatcher) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)
	r.Get("/*", d.serveHTTP)
	return r
}

// requestContext is the set of values extracted from one request, with
// missing headers coerced to defaults rather than failing the request.
type requestContext struct {
	path              string
	username          string
	sessionID         string
	clientTime        float64 // Time header: client wallclock at request start, seconds
	clientThroughput  float64 // Throughput header: bits/s, 0 if absent
	receivedAt        time.Time
}

func extractRequest(r *http.Request) requestContext {
	path := strings.TrimPrefix(r.URL.Path, "/")

	username := r.Header.Get("Username")
	if username == "" {
		username = "NULL"
	}
	sessionID := r.Header.Get("Session-ID")
	if sessionID == "" {
		sessionID = "NULL"
	}
	clientTime, _ := strconv.ParseFloat(r.Header.Get("Time"), 64)
	clientThroughput, _ := strconv.ParseFloat(r.Header.Get("Throughput"), 64)

	return requestContext{
		path:             path,
		username:         username,
		sessionID:        sessionID,
		clientTime:       clientTime,
		clientThroughput: clientThroughput,
		receivedAt:       time.Now(),
	}
}

func (d *Dispatcher) serveHTTP(w http.ResponseWriter, r *http.Request) {
	req := extractRequest(r)

	if req.path == "" {
		http.NotFound(w, r)
		return
	}

	switch {
	case d.index.Contains(req.path):
		d.serveKnownMPD(w, req)
	case d.sources[req.path]:
		d.serveOriginMPD(w, req)
	case strings.Contains(req.path, segmentMarker) && d.manager.CheckContentServer(req.path):
		d.serveSegment(w, req)
	default:
		http.NotFound(w, r)
	}
}

// serveKnownMPD implements classification 1: replay the stored index
// entry's headers and stream the manifest from disk.
func (d *Dispatcher) serveKnownMPD(w http.ResponseWriter, req requestContext) {
	descriptor, _ := d.index.Get(req.path)
	localPath := d.mpdRoot + "/" + req.path

	f, err := d.mpdFs.Open(localPath)
	if err != nil {
		logger.Error("dispatcher: known MPD missing from disk", "path", req.path, "err", err)
		http.NotFound(w, nil)
		return
	}
	defer f.Close()

	applyHeaders(w, descriptor.HTTPHeaders)
	w.WriteHeader(http.StatusOK)
	io.Copy(w, f)
}

// serveOriginMPD implements classification 2: fetch, persist, parse,
// index, and update the user record on first sight of a configured MPD.
func (d *Dispatcher) serveOriginMPD(w http.ResponseWriter, req requestContext) {
	body, headers, err := d.origin.Fetch(req.path)
	if err != nil {
		logger.Error("dispatcher: origin fetch of MPD failed", "path", req.path, "err", err)
		http.Error(w, "origin unreachable", http.StatusBadGateway)
		return
	}

	localPath := d.mpdRoot + "/" + req.path
	if err := d.mpdFs.MkdirAll(path.Dir(localPath), 0755); err != nil {
		logger.Error("dispatcher: failed to create MPD directory", "path", req.path, "err", err)
	}
	if err := afero.WriteFile(d.mpdFs, localPath, body, 0644); err != nil {
		logger.Error("dispatcher: failed to persist MPD", "path", req.path, "err", err)
	}

	descriptor, err := mpd.Parse(strings.NewReader(string(body)))
	if err != nil {
		logger.Error("dispatcher: failed to parse MPD", "path", req.path, "err", err)
		http.Error(w, "bad manifest", http.StatusBadGateway)
		return
	}
	descriptor.HTTPHeaders = headersToMap(headers)

	if err := d.index.Add(req.path, *descriptor); err != nil {
		logger.Error("dispatcher: failed to persist MPD index", "path", req.path, "err", err)
	}

	d.sessions.SetBandwidthList(req.username, req.sessionID, descriptor.BandwidthList)

	applyHeaders(w, descriptor.HTTPHeaders)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// serveSegment implements classification 3: fetch through the cache
// manager, stream the body, measure, enqueue for the predictive pipeline
// (which observes the forecast), then record telemetry with that state.
func (d *Dispatcher) serveSegment(w http.ResponseWriter, req requestContext) {
	localPath, headers, err := d.manager.Fetch(req.path, req.username, req.sessionID)
	if err != nil {
		logger.Error("dispatcher: segment fetch failed", "path", req.path, "err", err)
		http.Error(w, "origin unreachable", http.StatusBadGateway)
		return
	}

	f, err := d.manager.OpenCached(localPath)
	if err != nil {
		logger.Error("dispatcher: cached segment missing from disk", "path", req.path, "err", err)
		http.Error(w, "origin unreachable", http.StatusBadGateway)
		return
	}
	defer f.Close()

	applyHeaders(w, headers)
	w.WriteHeader(http.StatusOK)
	bytesSent, _ := io.Copy(w, f)

	done := time.Now()
	requestTime := done.Sub(req.receivedAt).Seconds()
	if req.clientTime > 0 {
		serverRecvSeconds := float64(req.receivedAt.UnixNano()) / 1e9
		requestTime += 2 * math.Abs(req.clientTime-serverRecvSeconds)
	}
	if requestTime <= 0 {
		requestTime = 0.001
	}
	measuredThroughput := 8 * float64(bytesSent) / requestTime

	observed := req.clientThroughput
	if observed == 0 {
		observed = measuredThroughput
	}

	if _, existed := d.sessions.Get(req.username, req.sessionID); !existed {
		logger.Info("dispatcher: new session observed", "username", req.username, "session_id", req.sessionID)
	}
	d.sessions.Touch(req.username, req.sessionID, int(req.clientThroughput))
	logger.Debug("dispatcher: session bandwidth history", "username", req.username, "session_id", req.sessionID,
		"latest_reported_bandwidth", d.sessions.LatestReportedBandwidth(req.username, req.sessionID))

	// Observe the forecast synchronously, before the telemetry row is
	// built, so the row carries the state this segment's own sample
	// produced rather than whatever the async worker last left behind.
	state, hasForecast := d.manager.EnqueueServed(req.path, req.username, req.sessionID, observed)

	trendTerm, forecastTerm := 0.0, 0.0
	if hasForecast {
		trendTerm, forecastTerm = state.T, state.F
	}

	if err := d.sink.Record(telemetry.Measurement{
		Timestamp:                done,
		Username:                 req.username,
		SessionID:                req.sessionID,
		BytesTimesEight:          8 * bytesSent,
		RequestTimeSeconds:       requestTime,
		MeasuredThroughput:       measuredThroughput,
		ClientReportedThroughput: req.clientThroughput,
		TrendTerm:                trendTerm,
		ForecastTerm:             forecastTerm,
	}); err != nil {
		logger.Warn("dispatcher: failed to record telemetry", "err", err)
	}
}

func applyHeaders(w http.ResponseWriter, headers map[string]string) {
	for k, v := range headers {
		w.Header().Set(k, v)
	}
}

func headersToMap(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
