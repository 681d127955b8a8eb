// Package env consolidates all environment variable reading for the
// application. Overrides are applied only at startup; see config.Load.
package env

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
)

// Environment variable names (single source of truth)
const (
	CacheCapacityBytes = "CACHE_CAPACITY_BYTES"
	PrefetchScheme     = "PREFETCH_SCHEME"
	OriginBase         = "ORIGIN_BASE"
	TitlePrefixMap     = "TITLE_PREFIX_MAP" // JSON object: title token -> origin sub-path
	MPDSourceList      = "MPD_SOURCE_LIST"  // comma-separated paths
	MPDRoot            = "MPD_ROOT"
	CacheRoot          = "CACHE_ROOT"
	ListenHost         = "LISTEN_HOST"
	ListenPort         = "LISTEN_PORT"
	WaitTimeMS         = "WAIT_TIME_MS"
	FetchPriority      = "FETCH_PRIORITY"
	PrefetchPriority   = "PREFETCH_PRIORITY"
	LogLevel           = "LOG_LEVEL"
	TelemetryDBPath    = "TELEMETRY_DB_PATH" // empty disables the SQLite sink
	TZVar              = "TZ"
)

// Config JSON keys returned by ReadOverrides, matching Config's json tags.
const (
	KeyCacheCapacityBytes = "cache_capacity_bytes"
	KeyPrefetchScheme     = "prefetch_scheme"
	KeyOriginBase         = "origin_base"
	KeyTitlePrefixMap     = "title_prefix_map"
	KeyMPDSourceList      = "mpd_source_list"
	KeyMPDRoot            = "mpd_root"
	KeyCacheRoot          = "cache_root"
	KeyListenHost         = "listen_host"
	KeyListenPort         = "listen_port"
	KeyWaitTimeMS         = "wait_time_ms"
	KeyFetchPriority      = "fetch_priority"
	KeyPrefetchPriority   = "prefetch_priority"
	KeyLogLevel           = "log_level"
	KeyTelemetryDBPath    = "telemetry_db_path"
)

// Overrides holds the effective value of every environment variable that
// was actually set. Keys lists which Config fields have an active
// override so callers can distinguish "unset" from "set to zero value".
type Overrides struct {
	CacheCapacityBytes int64
	PrefetchScheme     string
	OriginBase         string
	TitlePrefixMap     map[string]string
	MPDSourceList      []string
	MPDRoot            string
	CacheRoot          string
	ListenHost         string
	ListenPort         int
	WaitTimeMS         int
	FetchPriority      int
	PrefetchPriority   int
	LogLevel           string
	TelemetryDBPath    string
}

// ReadOverrides reads every recognised environment variable and returns the
// overrides that were actually set, plus the list of Config JSON keys they
// correspond to.
func ReadOverrides() (Overrides, []string) {
	var o Overrides
	var keys []string

	if v := os.Getenv(CacheCapacityBytes); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			o.CacheCapacityBytes = n
			keys = append(keys, KeyCacheCapacityBytes)
		}
	}
	if v := os.Getenv(PrefetchScheme); v != "" {
		o.PrefetchScheme = strings.ToUpper(v)
		keys = append(keys, KeyPrefetchScheme)
	}
	if v := os.Getenv(OriginBase); v != "" {
		o.OriginBase = v
		keys = append(keys, KeyOriginBase)
	}
	if v := os.Getenv(TitlePrefixMap); v != "" {
		var m map[string]string
		if err := json.Unmarshal([]byte(v), &m); err == nil {
			o.TitlePrefixMap = m
			keys = append(keys, KeyTitlePrefixMap)
		}
	}
	if v := os.Getenv(MPDSourceList); v != "" {
		var list []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				list = append(list, s)
			}
		}
		o.MPDSourceList = list
		keys = append(keys, KeyMPDSourceList)
	}
	if v := os.Getenv(MPDRoot); v != "" {
		o.MPDRoot = v
		keys = append(keys, KeyMPDRoot)
	}
	if v := os.Getenv(CacheRoot); v != "" {
		o.CacheRoot = v
		keys = append(keys, KeyCacheRoot)
	}
	if v := os.Getenv(ListenHost); v != "" {
		o.ListenHost = v
		keys = append(keys, KeyListenHost)
	}
	if v := os.Getenv(ListenPort); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			o.ListenPort = n
			keys = append(keys, KeyListenPort)
		}
	}
	if v := os.Getenv(WaitTimeMS); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			o.WaitTimeMS = n
			keys = append(keys, KeyWaitTimeMS)
		}
	}
	if v := os.Getenv(FetchPriority); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			o.FetchPriority = n
			keys = append(keys, KeyFetchPriority)
		}
	}
	if v := os.Getenv(PrefetchPriority); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			o.PrefetchPriority = n
			keys = append(keys, KeyPrefetchPriority)
		}
	}
	if v := os.Getenv(LogLevel); v != "" {
		o.LogLevel = strings.ToUpper(v)
		keys = append(keys, KeyLogLevel)
	}
	if v := os.Getenv(TelemetryDBPath); v != "" {
		o.TelemetryDBPath = v
		keys = append(keys, KeyTelemetryDBPath)
	}

	return o, keys
}
