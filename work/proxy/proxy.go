// Package proxy is the HTTP core: it serves rewritten manifests, relays
// ranged container requests, assembles chat windows, and passes thumbnails
// and emote assets through from the fixed upstream origin.
package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/jakedarc/barbarian-ultimate/work/chat"
	"github.com/jakedarc/barbarian-ultimate/work/client"
	"github.com/jakedarc/barbarian-ultimate/work/config"
	"github.com/jakedarc/barbarian-ultimate/work/emotes"
	"github.com/jakedarc/barbarian-ultimate/work/logger"
	"github.com/jakedarc/barbarian-ultimate/work/manifest"
	"github.com/jakedarc/barbarian-ultimate/work/store"
	"github.com/jakedarc/barbarian-ultimate/work/vodsync"

	"github.com/maypok86/otter/v2"
)

const playlistContentType = "application/vnd.apple.mpegurl"

// errNotFound covers locally-known misses (unknown video id, unknown emote
// name) so they map to 404 alongside upstream not-found.
var errNotFound = errors.New("not found")

// Proxy wires the request handlers to their collaborators.
type Proxy struct {
	Config     *config.Config
	Client     *client.UpstreamClient
	Store      *store.Store
	Chat       *chat.Assembler
	Emotes     *emotes.Table
	Reconciler *vodsync.Reconciler

	rewriter      manifest.Rewriter
	manifestCache *otter.Cache[string, string]
	timecodeCache *otter.Cache[string, []int]
}

// New creates the Proxy and its response caches.
func New(cfg *config.Config, uc *client.UpstreamClient, st *store.Store, ca *chat.Assembler, et *emotes.Table, rec *vodsync.Reconciler) *Proxy {
	return &Proxy{
		Config:     cfg,
		Client:     uc,
		Store:      st,
		Chat:       ca,
		Emotes:     et,
		Reconciler: rec,
		rewriter: manifest.Rewriter{
			SegmentExt:   cfg.SegmentExtension,
			ContainerExt: cfg.ContainerExtension,
		},
		manifestCache: otter.Must(&otter.Options[string, string]{
			MaximumSize:      256,
			ExpiryCalculator: otter.ExpiryWriting[string, string](cfg.ManifestCacheTTL),
		}),
		timecodeCache: otter.Must(&otter.Options[string, []int]{
			MaximumSize:      1024,
			ExpiryCalculator: otter.ExpiryWriting[string, []int](cfg.TimecodeCacheTTL),
		}),
	}
}

// HandleVideos serves the full video listing from the current store
// snapshot, ordered by capture date descending.
func (p *Proxy) HandleVideos(w http.ResponseWriter, r *http.Request) {
	list := p.Store.Current().List()
	if list == nil {
		list = []*store.VideoRecord{}
	}
	writeJSON(w, list)
}

// HandleManifest fetches the upstream playlist for a video, rewrites its
// references through the proxy routes, and serves the result with a short
// public cache lifetime. Rewritten manifests are cached per video id.
func (p *Proxy) HandleManifest(w http.ResponseWriter, r *http.Request, id string) {
	rec, ok := p.Store.Current().Get(id)
	if !ok {
		p.writeError(w, fmt.Errorf("%w: unknown video %s", errNotFound, id))
		return
	}

	if cached, ok := p.manifestCache.GetIfPresent(id); ok {
		logger.Debug("serving cached manifest for %s", id)
		p.serveManifest(w, cached)
		return
	}

	manifestURL := fmt.Sprintf("%s/vods/%s/index.m3u8", p.Config.UpstreamBase, rec.VodID)
	text, err := p.Client.GetText(r.Context(), manifestURL)
	if err != nil {
		p.writeError(w, fmt.Errorf("manifest for %s: %w", id, err))
		return
	}

	segmentBase := fmt.Sprintf("%s/vods/%s", p.Config.UpstreamBase, rec.VodID)
	rewritten := p.rewriter.Rewrite(text, segmentBase)

	p.manifestCache.Set(id, rewritten)
	p.serveManifest(w, rewritten)
}

func (p *Proxy) serveManifest(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", "public, max-age=60")
	w.Write([]byte(text))
}

// HandleThumbnail proxies a thumbnail image with a long cache lifetime,
// passing the upstream content type through.
func (p *Proxy) HandleThumbnail(w http.ResponseWriter, r *http.Request, size, id string) {
	rec, ok := p.Store.Current().Get(id)
	if !ok {
		p.writeError(w, fmt.Errorf("%w: unknown video %s", errNotFound, id))
		return
	}

	thumbURL := fmt.Sprintf("%s/thumbs/%s/%s.jpg", p.Config.UpstreamBase, size, rec.VodID)
	p.passthrough(w, r, thumbURL)
}

// HandleEmote resolves an emote display name through the lookup tables and
// relays the upstream asset bytes.
func (p *Proxy) HandleEmote(w http.ResponseWriter, r *http.Request, name string) {
	emoteID, ok := p.Emotes.Resolve(name)
	if !ok {
		p.writeError(w, fmt.Errorf("%w: unknown emote %q", errNotFound, name))
		return
	}

	assetURL := fmt.Sprintf("%s/emotes/%s.png", p.Config.UpstreamBase, emoteID)
	p.passthrough(w, r, assetURL)
}

// HandleChatTimecodes serves the seconds that have chat data for a video.
// An unavailable upstream index is a 404; an empty-but-available index is
// an empty array.
func (p *Proxy) HandleChatTimecodes(w http.ResponseWriter, r *http.Request, id string) {
	rec, ok := p.Store.Current().Get(id)
	if !ok {
		p.writeError(w, fmt.Errorf("%w: unknown video %s", errNotFound, id))
		return
	}

	if cached, ok := p.timecodeCache.GetIfPresent(id); ok {
		writeJSON(w, cached)
		return
	}

	seconds, err := p.Chat.Timecodes(r.Context(), rec.VodID)
	if err != nil {
		p.writeError(w, err)
		return
	}
	if seconds == nil {
		seconds = []int{}
	}

	p.timecodeCache.Set(id, seconds)
	writeJSON(w, seconds)
}

// HandleChatRange serves an assembled chat window. start and end come from
// the query string as inclusive integer seconds.
func (p *Proxy) HandleChatRange(w http.ResponseWriter, r *http.Request, id string) {
	rec, ok := p.Store.Current().Get(id)
	if !ok {
		p.writeError(w, fmt.Errorf("%w: unknown video %s", errNotFound, id))
		return
	}

	start, err := strconv.Atoi(r.URL.Query().Get("start"))
	if err != nil {
		p.writeError(w, fmt.Errorf("%w: bad start", chat.ErrInvalidRange))
		return
	}
	end, err := strconv.Atoi(r.URL.Query().Get("end"))
	if err != nil {
		p.writeError(w, fmt.Errorf("%w: bad end", chat.ErrInvalidRange))
		return
	}

	messages, err := p.Chat.AssembleRange(r.Context(), rec.VodID, start, end)
	if err != nil {
		p.writeError(w, err)
		return
	}
	writeJSON(w, messages)
}

// HandleSync triggers an immediate reconciliation.
func (p *Proxy) HandleSync(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	discovered, err := p.Reconciler.Run(r.Context(), "manual")
	if err != nil {
		p.writeError(w, err)
		return
	}

	writeJSON(w, map[string]any{
		"discovered": discovered,
		"total":      p.Store.Current().Len(),
		"elapsed":    time.Since(started).String(),
	})
}

// passthrough relays an upstream asset body, preserving its content type.
func (p *Proxy) passthrough(w http.ResponseWriter, r *http.Request, url string) {
	resp, err := p.Client.Get(r.Context(), url)
	if err != nil {
		p.writeError(w, err)
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", p.Config.ThumbnailCacheAge))
	if _, err := io.Copy(w, resp.Body); err != nil {
		logger.Debug("asset relay ended early: %v", err)
	}
}

// writeError maps component errors to status codes. Clients always get a
// well-formed JSON body: 404 for missing resources, 400 for bad ranges,
// 500 for upstream transport failure.
func (p *Proxy) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, client.ErrUpstreamNotFound), errors.Is(err, errNotFound):
		writeJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, chat.ErrInvalidRange):
		writeJSONError(w, http.StatusBadRequest, "invalid range")
	default:
		logger.Error("upstream failure: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "upstream error")
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("response write failed: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
