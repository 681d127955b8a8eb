// Package config loads and persists the edge cache's configuration.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"edgecache/pkg/env"
	"edgecache/pkg/logger"
	"edgecache/pkg/paths"
)

// Scheme is a prefetch scheme selector.
type Scheme string

const (
	SchemeSimple Scheme = "SIMPLE"
	SchemeSmart  Scheme = "SMART"
)

// Config holds the edge cache's configuration.
type Config struct {
	CacheCapacityBytes int64             `json:"cache_capacity_bytes"`
	PrefetchScheme     Scheme            `json:"prefetch_scheme"`
	OriginBase         string            `json:"origin_base"`
	TitlePrefixMap     map[string]string `json:"title_prefix_map"`
	MPDSourceList      []string          `json:"mpd_source_list"`
	MPDRoot            string            `json:"mpd_root"`
	CacheRoot          string            `json:"cache_root"`
	ListenHost         string            `json:"listen_host"`
	ListenPort         int               `json:"listen_port"`
	WaitTimeMS         int               `json:"wait_time_ms"`
	FetchPriority      int               `json:"fetch_priority"`
	PrefetchPriority   int               `json:"prefetch_priority"`
	LogLevel           string            `json:"log_level"`
	TelemetryDBPath    string            `json:"telemetry_db_path"`

	// LoadedPath records where this config was loaded from, for Save.
	LoadedPath string `json:"-"`
}

func defaults() *Config {
	return &Config{
		CacheCapacityBytes: 512 * 1024 * 1024,
		PrefetchScheme:     SchemeSmart,
		OriginBase:         "http://localhost:8080",
		TitlePrefixMap:     map[string]string{},
		MPDSourceList:      []string{},
		MPDRoot:            "./data/mpd",
		CacheRoot:          "./data/cache",
		ListenHost:         "0.0.0.0",
		ListenPort:         7800,
		WaitTimeMS:         1000,
		FetchPriority:      1,
		PrefetchPriority:   2,
		LogLevel:           "INFO",
		TelemetryDBPath:    "",
	}
}

// Load is intended for startup only. Priority: environment variables (if
// set) > config.json > built-in defaults.
func Load() (*Config, error) {
	dataDir := paths.GetDataDir()
	configPath := filepath.Join(dataDir, "config.json")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		logger.Warn("failed to create data directory", "dir", dataDir, "err", err)
	}

	cfg := defaults()
	cfg.LoadedPath = configPath

	if err := cfg.LoadFile(configPath); err != nil {
		if os.IsNotExist(err) {
			logger.Info("no config found, using defaults", "path", configPath)
		} else {
			logger.Warn("failed to load config, using defaults", "path", configPath, "err", err)
		}
	} else {
		logger.Info("loaded configuration", "path", configPath)
	}

	overrides, keys := env.ReadOverrides()
	ApplyEnvOverrides(cfg, overrides, keys)

	if err := cfg.Save(); err != nil {
		logger.Warn("failed to save merged config on startup", "err", err)
	}

	return cfg, nil
}

// LoadFile overrides cfg's fields with values decoded from a JSON file.
func (c *Config) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(c)
}

// Save writes the configuration back to the file it was loaded from.
func (c *Config) Save() error {
	path := c.LoadedPath
	if path == "" {
		path = "config.json"
	}
	return c.SaveFile(path)
}

// SaveFile writes the configuration to path as indented JSON.
func (c *Config) SaveFile(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

func keySet(list []string, s string) bool {
	for _, k := range list {
		if k == s {
			return true
		}
	}
	return false
}

// ApplyEnvOverrides applies environment-derived overrides to cfg. Only
// fields present in keys are applied, so an unset env var never clobbers a
// file-loaded value with a zero value.
func ApplyEnvOverrides(cfg *Config, o env.Overrides, keys []string) {
	if keySet(keys, env.KeyCacheCapacityBytes) {
		cfg.CacheCapacityBytes = o.CacheCapacityBytes
	}
	if keySet(keys, env.KeyPrefetchScheme) {
		cfg.PrefetchScheme = Scheme(o.PrefetchScheme)
	}
	if keySet(keys, env.KeyOriginBase) {
		cfg.OriginBase = o.OriginBase
	}
	if keySet(keys, env.KeyTitlePrefixMap) {
		cfg.TitlePrefixMap = o.TitlePrefixMap
	}
	if keySet(keys, env.KeyMPDSourceList) {
		cfg.MPDSourceList = o.MPDSourceList
	}
	if keySet(keys, env.KeyMPDRoot) {
		cfg.MPDRoot = o.MPDRoot
	}
	if keySet(keys, env.KeyCacheRoot) {
		cfg.CacheRoot = o.CacheRoot
	}
	if keySet(keys, env.KeyListenHost) {
		cfg.ListenHost = o.ListenHost
	}
	if keySet(keys, env.KeyListenPort) {
		cfg.ListenPort = o.ListenPort
	}
	if keySet(keys, env.KeyWaitTimeMS) {
		cfg.WaitTimeMS = o.WaitTimeMS
	}
	if keySet(keys, env.KeyFetchPriority) {
		cfg.FetchPriority = o.FetchPriority
	}
	if keySet(keys, env.KeyPrefetchPriority) {
		cfg.PrefetchPriority = o.PrefetchPriority
	}
	if keySet(keys, env.KeyLogLevel) {
		cfg.LogLevel = o.LogLevel
	}
	if keySet(keys, env.KeyTelemetryDBPath) {
		cfg.TelemetryDBPath = o.TelemetryDBPath
	}
}

// MPDSourceSet returns the configured MPD source list as a lookup set.
func (c *Config) MPDSourceSet() map[string]bool {
	set := make(map[string]bool, len(c.MPDSourceList))
	for _, p := range c.MPDSourceList {
		set[p] = true
	}
	return set
}
