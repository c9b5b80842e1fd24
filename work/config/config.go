package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// Config holds all application configuration values for the VOD proxy server.
// It covers the upstream origin, cache lifetimes, the reconciliation schedule,
// and the knobs for chat shard fan-out.
type Config struct {
	BaseURL            string        `json:"baseURL"`            // Base URL this server is reachable at (used in logs)
	ListenPort         int           `json:"listenPort"`         // Port the HTTP server binds to
	UpstreamBase       string        `json:"upstreamBase"`       // Fixed upstream origin, e.g. "https://archive.example.com"
	DatabasePath       string        `json:"databasePath"`       // Path to the SQLite metadata store
	StaticDir          string        `json:"staticDir"`          // Directory served at / (single-page client)
	SyncInterval       time.Duration `json:"syncInterval"`       // Interval between metadata reconciliations
	UpstreamTimeout    time.Duration `json:"upstreamTimeout"`    // Per-request upstream timeout
	ChatShardTimeout   time.Duration `json:"chatShardTimeout"`   // Per-shard timeout inside a chat range fan-out
	ManifestCacheTTL   time.Duration `json:"manifestCacheTTL"`   // TTL for cached rewritten manifests
	TimecodeCacheTTL   time.Duration `json:"timecodeCacheTTL"`   // TTL for cached chat timecode indexes
	ContainerCacheAge  int           `json:"containerCacheAge"`  // Cache-Control max-age (seconds) on container responses
	ThumbnailCacheAge  int           `json:"thumbnailCacheAge"`  // Cache-Control max-age (seconds) on thumbnails and emotes
	WorkerThreads      int           `json:"workerThreads"`      // Size of the shared worker pool
	ChatFanoutLimit    int           `json:"chatFanoutLimit"`    // Max concurrent shard fetches per chat range request
	UpstreamRateLimit  int           `json:"upstreamRateLimit"`  // Upstream requests per second
	SegmentExtension   string        `json:"segmentExtension"`   // Media segment extension rewritten to absolute upstream URLs
	ContainerExtension string        `json:"containerExtension"` // Container extension routed through the local range proxy
	UserAgent          string        `json:"userAgent"`          // User-Agent sent on upstream requests
	LogLevel           string        `json:"logLevel"`           // DEBUG, INFO, WARN or ERROR
}

// ConfigFile is the on-disk JSON shape. Duration fields are strings
// (e.g. "30m") and are parsed into time.Duration values on load.
type ConfigFile struct {
	BaseURL            string `json:"baseURL"`
	ListenPort         int    `json:"listenPort"`
	UpstreamBase       string `json:"upstreamBase"`
	DatabasePath       string `json:"databasePath"`
	StaticDir          string `json:"staticDir"`
	SyncInterval       string `json:"syncInterval"`     // Duration string (e.g. "15m")
	UpstreamTimeout    string `json:"upstreamTimeout"`  // Duration string (e.g. "20s")
	ChatShardTimeout   string `json:"chatShardTimeout"` // Duration string (e.g. "5s")
	ManifestCacheTTL   string `json:"manifestCacheTTL"` // Duration string (e.g. "1m")
	TimecodeCacheTTL   string `json:"timecodeCacheTTL"` // Duration string (e.g. "10m")
	ContainerCacheAge  int    `json:"containerCacheAge"`
	ThumbnailCacheAge  int    `json:"thumbnailCacheAge"`
	WorkerThreads      int    `json:"workerThreads"`
	ChatFanoutLimit    int    `json:"chatFanoutLimit"`
	UpstreamRateLimit  int    `json:"upstreamRateLimit"`
	SegmentExtension   string `json:"segmentExtension"`
	ContainerExtension string `json:"containerExtension"`
	UserAgent          string `json:"userAgent"`
	LogLevel           string `json:"logLevel"`
}

var (
	configCache *Config      // Cached configuration instance (singleton)
	configMutex sync.RWMutex // Protects concurrent access to configCache
)

// DefaultPath is where LoadConfig looks when the CONFIG_PATH
// environment variable is not set.
const DefaultPath = "/settings/config.json"

// LoadConfig loads the configuration from file or returns the cached instance.
//
// Process:
//   - Uses double-checked locking to avoid redundant reloads.
//   - Attempts to load from CONFIG_PATH, falling back to DefaultPath.
//   - Falls back to default config if the file is missing or invalid.
//   - Runs validation to ensure safe defaults.
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	// Double-check under write lock
	if configCache != nil {
		return configCache
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = DefaultPath
	}

	config, err := loadFromFile(configPath)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", configPath, err)
		log.Printf("Falling back to default configuration...")
		config = getDefaultConfig()
	}

	validateAndSetDefaults(config)
	configCache = config

	return config
}

// ClearConfigCache resets the cached config, forcing a reload on the
// next LoadConfig call.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}

// loadFromFile reads and parses the configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return convertFromFile(&configFile)
}

// convertFromFile converts a ConfigFile to Config, parsing duration strings.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		BaseURL:            cf.BaseURL,
		ListenPort:         cf.ListenPort,
		UpstreamBase:       cf.UpstreamBase,
		DatabasePath:       cf.DatabasePath,
		StaticDir:          cf.StaticDir,
		ContainerCacheAge:  cf.ContainerCacheAge,
		ThumbnailCacheAge:  cf.ThumbnailCacheAge,
		WorkerThreads:      cf.WorkerThreads,
		ChatFanoutLimit:    cf.ChatFanoutLimit,
		UpstreamRateLimit:  cf.UpstreamRateLimit,
		SegmentExtension:   cf.SegmentExtension,
		ContainerExtension: cf.ContainerExtension,
		UserAgent:          cf.UserAgent,
		LogLevel:           cf.LogLevel,
	}

	durations := []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"syncInterval", cf.SyncInterval, &config.SyncInterval},
		{"upstreamTimeout", cf.UpstreamTimeout, &config.UpstreamTimeout},
		{"chatShardTimeout", cf.ChatShardTimeout, &config.ChatShardTimeout},
		{"manifestCacheTTL", cf.ManifestCacheTTL, &config.ManifestCacheTTL},
		{"timecodeCacheTTL", cf.TimecodeCacheTTL, &config.TimecodeCacheTTL},
	}
	for _, d := range durations {
		if d.src == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.src)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	return config, nil
}

// getDefaultConfig returns a baseline configuration with sensible defaults
// when no file is present.
func getDefaultConfig() *Config {
	return &Config{
		BaseURL:            "http://localhost:8080",
		ListenPort:         8080,
		UpstreamBase:       "",
		DatabasePath:       "/data/videos.db",
		StaticDir:          "public",
		SyncInterval:       15 * time.Minute,
		UpstreamTimeout:    20 * time.Second,
		ChatShardTimeout:   5 * time.Second,
		ManifestCacheTTL:   time.Minute,
		TimecodeCacheTTL:   10 * time.Minute,
		ContainerCacheAge:  3600,
		ThumbnailCacheAge:  86400,
		WorkerThreads:      16,
		ChatFanoutLimit:    8,
		UpstreamRateLimit:  20,
		SegmentExtension:   ".ts",
		ContainerExtension: ".mp4",
		UserAgent:          "barbarian-ultimate/1.0",
		LogLevel:           "INFO",
	}
}

// validateAndSetDefaults ensures all config values are valid, filling in
// defaults for missing or invalid ones.
func validateAndSetDefaults(config *Config) {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080"
	}
	if config.ListenPort <= 0 || config.ListenPort > 65535 {
		config.ListenPort = 8080
	}
	if config.DatabasePath == "" {
		config.DatabasePath = "/data/videos.db"
	}
	if config.StaticDir == "" {
		config.StaticDir = "public"
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = 15 * time.Minute
	}
	if config.UpstreamTimeout <= 0 {
		config.UpstreamTimeout = 20 * time.Second
	}
	if config.ChatShardTimeout <= 0 {
		config.ChatShardTimeout = 5 * time.Second
	}
	if config.ManifestCacheTTL <= 0 {
		config.ManifestCacheTTL = time.Minute
	}
	if config.TimecodeCacheTTL <= 0 {
		config.TimecodeCacheTTL = 10 * time.Minute
	}
	if config.ContainerCacheAge <= 0 {
		config.ContainerCacheAge = 3600
	}
	if config.ThumbnailCacheAge <= 0 {
		config.ThumbnailCacheAge = 86400
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = 16
	}
	if config.ChatFanoutLimit <= 0 {
		config.ChatFanoutLimit = 8
	}
	if config.UpstreamRateLimit <= 0 {
		config.UpstreamRateLimit = 20
	}
	if config.SegmentExtension == "" {
		config.SegmentExtension = ".ts"
	}
	if config.ContainerExtension == "" {
		config.ContainerExtension = ".mp4"
	}
	if config.UserAgent == "" {
		config.UserAgent = "barbarian-ultimate/1.0"
	}
	if config.LogLevel == "" {
		config.LogLevel = "INFO"
	}
}

// CreateExampleConfig writes an example config file to disk.
func CreateExampleConfig(path string) error {
	example := ConfigFile{
		BaseURL:            "http://localhost:8080",
		ListenPort:         8080,
		UpstreamBase:       "https://archive.example.com",
		DatabasePath:       "/data/videos.db",
		StaticDir:          "public",
		SyncInterval:       "15m",
		UpstreamTimeout:    "20s",
		ChatShardTimeout:   "5s",
		ManifestCacheTTL:   "1m",
		TimecodeCacheTTL:   "10m",
		ContainerCacheAge:  3600,
		ThumbnailCacheAge:  86400,
		WorkerThreads:      16,
		ChatFanoutLimit:    8,
		UpstreamRateLimit:  20,
		SegmentExtension:   ".ts",
		ContainerExtension: ".mp4",
		UserAgent:          "barbarian-ultimate/1.0",
		LogLevel:           "INFO",
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
