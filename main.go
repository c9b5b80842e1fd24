package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jakedarc/barbarian-ultimate/work/chat"
	"github.com/jakedarc/barbarian-ultimate/work/client"
	"github.com/jakedarc/barbarian-ultimate/work/config"
	"github.com/jakedarc/barbarian-ultimate/work/emotes"
	"github.com/jakedarc/barbarian-ultimate/work/handlers"
	"github.com/jakedarc/barbarian-ultimate/work/logger"
	"github.com/jakedarc/barbarian-ultimate/work/manifest"
	"github.com/jakedarc/barbarian-ultimate/work/middleware"
	"github.com/jakedarc/barbarian-ultimate/work/proxy"
	"github.com/jakedarc/barbarian-ultimate/work/store"
	"github.com/jakedarc/barbarian-ultimate/work/vodsync"
)

var (
	Version = "v0.1.0" // default version
)

func main() {

	// load our config
	cfg := config.LoadConfig()
	logger.SetLogLevel(cfg.LogLevel)

	// upstream HTTP client with the rate limiter baked in
	upstreamClient := client.New(cfg)

	// shared worker pool for chat fan-out and sync duration probes
	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		log.Fatalf("Failed to create worker pool: %v", err)
	}
	defer workerPool.Release()

	// open the video store and load the snapshot
	videoStore, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open video store: %v", err)
	}
	defer videoStore.Close()

	emoteTable := emotes.NewTable()
	chatAssembler := chat.New(cfg, upstreamClient, workerPool)
	reconciler := vodsync.New(cfg, upstreamClient, videoStore, emoteTable, workerPool)

	proxyInstance := proxy.New(cfg, upstreamClient, videoStore, chatAssembler, emoteTable, reconciler)

	// initial reconciliation before serving; a failed first run is not
	// fatal, the store snapshot still serves whatever persisted earlier
	if discovered, err := reconciler.Run(context.Background(), "startup"); err != nil {
		logger.Warn("initial sync failed: %v", err)
	} else {
		logger.Info("initial sync discovered %d new videos (%d total)", discovered, videoStore.Current().Len())
	}

	// scheduled reconciliation
	go reconciler.Start()
	defer reconciler.Stop()

	// Setup HTTP routes
	router := mux.NewRouter()

	// video listing and manifests
	router.HandleFunc("/api/videos", middleware.Gzip(handlers.HandleVideos(proxyInstance))).Methods("GET")
	router.HandleFunc("/api/videos/{id}/manifest.m3u8", middleware.Gzip(handlers.HandleManifest(proxyInstance))).Methods("GET")

	// ranged container relay
	router.HandleFunc(manifest.ContainerRoute+"{path:.*}", handlers.HandleContainer(proxyInstance)).Methods("GET", "HEAD")

	// chat replay
	router.HandleFunc("/api/chat/{id}/timecodes", middleware.Gzip(handlers.HandleChatTimecodes(proxyInstance))).Methods("GET")
	router.HandleFunc("/api/chat/{id}", middleware.Gzip(handlers.HandleChatRange(proxyInstance))).Methods("GET")

	// image assets
	router.HandleFunc("/thumb/{size}/{id}", handlers.HandleThumbnail(proxyInstance)).Methods("GET")
	router.HandleFunc("/emote/{name}", handlers.HandleEmote(proxyInstance)).Methods("GET")

	// manual sync trigger
	router.HandleFunc("/api/sync", handlers.HandleSync(proxyInstance)).Methods("POST")

	// Metrics handler
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// static player frontend
	router.PathPrefix("/").Handler(http.FileServer(http.Dir(cfg.StaticDir))).Methods("GET")

	addr := fmt.Sprintf(":%d", cfg.ListenPort)

	// show info
	logger.Info("Starting VOD Proxy %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Base URL: %s", cfg.BaseURL)
	logger.Info("  - Upstream: %s", cfg.UpstreamBase)
	logger.Info("  - Database: %s", cfg.DatabasePath)
	logger.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("  - Sync Interval: %s", cfg.SyncInterval)
	logger.Info("  - Manifest Cache TTL: %s", cfg.ManifestCacheTTL)
	logger.Info("  - Chat Fan-out Limit: %d", cfg.ChatFanoutLimit)
	logger.Info("  - Upstream Rate Limit: %d/s", cfg.UpstreamRateLimit)
	logger.Info("  - Log Level: %s", cfg.LogLevel)

	// fire us up
	if err := http.ListenAndServe(addr, middleware.CORS(router)); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}

}
