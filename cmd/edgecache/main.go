package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"

	"edgecache/pkg/cache"
	"edgecache/pkg/config"
	"edgecache/pkg/dispatcher"
	"edgecache/pkg/forecast"
	"edgecache/pkg/logger"
	"edgecache/pkg/manager"
	"edgecache/pkg/mpd"
	"edgecache/pkg/origin"
	"edgecache/pkg/paths"
	"edgecache/pkg/persistence"
	"edgecache/pkg/telemetry"
	"edgecache/pkg/usersession"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(cfg.LogLevel)
	defer logger.Close()

	logger.Info("starting edge cache", "prefetch_scheme", cfg.PrefetchScheme, "origin_base", cfg.OriginBase)

	fs := afero.NewOsFs()

	store, err := persistence.NewStateManager(fs, filepath.Join(paths.GetDataDir(), "mpd_index.json"))
	if err != nil {
		log.Fatalf("Failed to load MPD index: %v", err)
	}
	index, err := mpd.NewIndex(store)
	if err != nil {
		log.Fatalf("Failed to initialize MPD index: %v", err)
	}

	originClient := origin.NewClient(cfg.OriginBase, cfg.TitlePrefixMap)

	c := cache.New(fs, cfg.CacheRoot, cfg.CacheCapacityBytes, originClient, cfg.FetchPriority, cfg.PrefetchPriority)

	forecastManager, err := forecast.New(0)
	if err != nil {
		log.Fatalf("Failed to initialize forecast manager: %v", err)
	}

	waitInterval := time.Duration(cfg.WaitTimeMS) * time.Millisecond
	mgr := manager.New(c, index, forecastManager, cfg.PrefetchScheme, waitInterval)

	sessions := usersession.New()

	var sink telemetry.Sink = telemetry.NullSink{}
	if cfg.TelemetryDBPath != "" {
		sqliteSink, err := telemetry.OpenSQLiteSink(cfg.TelemetryDBPath)
		if err != nil {
			logger.Warn("failed to open telemetry sink, continuing without it", "err", err)
		} else {
			sink = sqliteSink
			defer sqliteSink.Close()
		}
	}

	d := dispatcher.New(cfg, index, mgr, originClient, sessions, sink, fs)

	addr := fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ListenPort)
	server := &http.Server{
		Addr:    addr,
		Handler: d.Handler(),
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "err", err)
	}

	mgr.Terminate()
	logger.Info("stopped")
}
