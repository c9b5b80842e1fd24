// Package vodsync reconciles the local metadata store against the upstream
// video index. New index keys become VideoRecords; the duration of each new
// video is computed once from its manifest at discovery time and never
// recomputed. The emote tables are refreshed on the same cycle.
package vodsync

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jakedarc/barbarian-ultimate/work/client"
	"github.com/jakedarc/barbarian-ultimate/work/config"
	"github.com/jakedarc/barbarian-ultimate/work/emotes"
	"github.com/jakedarc/barbarian-ultimate/work/logger"
	"github.com/jakedarc/barbarian-ultimate/work/manifest"
	"github.com/jakedarc/barbarian-ultimate/work/metrics"
	"github.com/jakedarc/barbarian-ultimate/work/store"

	"github.com/grafov/m3u8"
	"github.com/panjf2000/ants/v2"
)

// indexEntry is one row of the upstream video index.
type indexEntry struct {
	Key         string    `json:"key"`
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Date        time.Time `json:"date"`
}

type emoteIndex struct {
	Global  map[string]string `json:"global"`
	Channel map[string]string `json:"channel"`
}

// Reconciler owns the periodic sync loop. It is the store's single writer.
type Reconciler struct {
	config   *config.Config
	client   *client.UpstreamClient
	store    *store.Store
	emotes   *emotes.Table
	pool     *ants.Pool
	runMu    sync.Mutex // one reconciliation at a time (ticker vs manual trigger)
	stopChan chan bool
}

// New wires a Reconciler to its collaborators.
func New(cfg *config.Config, uc *client.UpstreamClient, st *store.Store, et *emotes.Table, pool *ants.Pool) *Reconciler {
	return &Reconciler{
		config:   cfg,
		client:   uc,
		store:    st,
		emotes:   et,
		pool:     pool,
		stopChan: make(chan bool, 1),
	}
}

// Run performs one reconciliation and returns the number of newly
// discovered videos. trigger labels the run for metrics ("startup",
// "scheduled" or "manual").
func (r *Reconciler) Run(ctx context.Context, trigger string) (int, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	metrics.SyncRuns.WithLabelValues(trigger).Inc()

	var entries []indexEntry
	indexURL := r.config.UpstreamBase + "/vods/index.json"
	if err := r.client.GetJSON(ctx, indexURL, &entries); err != nil {
		return 0, fmt.Errorf("video index fetch: %w", err)
	}

	snap := r.store.Current()
	now := time.Now().UTC()

	// build records serially so insertion order stays index (discovery) order
	var discovered []*store.VideoRecord
	for _, entry := range entries {
		key := entry.Key
		if key == "" {
			key = entry.ID
		}
		if key == "" {
			logger.Warn("skipping index entry with no key or id (title %q)", entry.Title)
			continue
		}
		if _, known := snap.Get(key); known {
			continue
		}
		discovered = append(discovered, &store.VideoRecord{
			IndexKey:    key,
			VodID:       entry.ID,
			Title:       entry.Title,
			Description: entry.Description,
			Date:        entry.Date,
			LastUpdated: now,
		})
	}

	if len(discovered) > 0 {
		r.computeDurations(ctx, discovered)
		if err := r.store.Insert(discovered); err != nil {
			return 0, err
		}
		logger.Info("sync discovered %d new videos (%d total)", len(discovered), r.store.Current().Len())
	} else {
		logger.Debug("sync found no new videos (%d total)", snap.Len())
	}

	// emote refresh rides the same cycle; failure never fails the sync
	if err := r.refreshEmotes(ctx); err != nil {
		logger.Warn("emote refresh failed: %v", err)
	}

	return len(discovered), nil
}

// computeDurations fills DurationSeconds for newly discovered records,
// fanning the manifest fetches out over the shared worker pool. A video
// whose manifest cannot be fetched or carries no duration directives keeps
// an absent duration.
func (r *Reconciler) computeDurations(ctx context.Context, records []*store.VideoRecord) {
	sem := make(chan struct{}, r.config.WorkerThreads)
	var wg sync.WaitGroup

	for _, rec := range records {
		rec := rec
		wg.Add(1)
		sem <- struct{}{}

		task := func() {
			defer wg.Done()
			defer func() { <-sem }()

			text, err := r.fetchMediaManifest(ctx, rec.VodID)
			if err != nil {
				logger.Debug("no manifest for %s, duration stays absent: %v", rec.IndexKey, err)
				return
			}
			if seconds, ok := manifest.Duration(text); ok {
				rec.DurationSeconds = &seconds
			}
		}

		if err := r.pool.Submit(task); err != nil {
			task()
		}
	}

	wg.Wait()
}

// fetchMediaManifest fetches a video's manifest, resolving an HLS master
// playlist to its first variant media playlist when needed. A manifest that
// grafov cannot decode is returned as-is; the textual duration extractor
// degrades gracefully on partial data.
func (r *Reconciler) fetchMediaManifest(ctx context.Context, vodID string) (string, error) {
	manifestURL := fmt.Sprintf("%s/vods/%s/index.m3u8", r.config.UpstreamBase, vodID)
	text, err := r.client.GetText(ctx, manifestURL)
	if err != nil {
		return "", err
	}

	playlist, listType, err := m3u8.DecodeFrom(strings.NewReader(text), true)
	if err != nil || listType != m3u8.MASTER {
		return text, nil
	}

	master := playlist.(*m3u8.MasterPlaylist)
	if len(master.Variants) == 0 || master.Variants[0] == nil {
		return text, nil
	}

	variantURL := master.Variants[0].URI
	if !strings.HasPrefix(variantURL, "http://") && !strings.HasPrefix(variantURL, "https://") {
		variantURL = fmt.Sprintf("%s/vods/%s/%s", r.config.UpstreamBase, vodID, strings.TrimPrefix(variantURL, "/"))
	}

	return r.client.GetText(ctx, variantURL)
}

// refreshEmotes replaces the emote tables from the upstream emote index.
func (r *Reconciler) refreshEmotes(ctx context.Context) error {
	var idx emoteIndex
	if err := r.client.GetJSON(ctx, r.config.UpstreamBase+"/emotes/index.json", &idx); err != nil {
		return err
	}
	r.emotes.Replace(idx.Global, idx.Channel)
	logger.Debug("emote tables refreshed (%d names)", r.emotes.Len())
	return nil
}

// Start runs the periodic reconciliation loop until Stop is called. It
// blocks and should be launched in its own goroutine.
func (r *Reconciler) Start() {
	logger.Debug("sync loop starting (interval %s)", r.config.SyncInterval)

	ticker := time.NewTicker(r.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			logger.Debug("sync loop stopped")
			return
		case <-ticker.C:
			if _, err := r.Run(context.Background(), "scheduled"); err != nil {
				logger.Error("scheduled sync failed: %v", err)
			}
		}
	}
}

// Stop signals the loop to terminate. Never blocks, even if the loop has
// already exited.
func (r *Reconciler) Stop() {
	select {
	case r.stopChan <- true:
	default:
	}
}
