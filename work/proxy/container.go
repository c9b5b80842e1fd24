package proxy

import (
	"fmt"
	"io"
	"net/http"

	"github.com/jakedarc/barbarian-ultimate/work/logger"
	"github.com/jakedarc/barbarian-ultimate/work/metrics"
)

const containerContentType = "video/mp4"

// mirrored headers for ranged container responses. The upstream status and
// Content-Range pass through untouched so players see exactly the ranges
// the origin produced.
var mirroredHeaders = []string{
	"Content-Range",
	"Accept-Ranges",
	"Content-Length",
}

// HandleContainer relays a container request to the upstream origin,
// forwarding the client's method and Range header verbatim and mirroring
// the ranged response back. Bodies stream; nothing is buffered or cached
// locally. HEAD goes upstream as HEAD so probes never pull container bytes.
func (p *Proxy) HandleContainer(w http.ResponseWriter, r *http.Request, path string) {
	upstreamURL := fmt.Sprintf("%s/vods/%s", p.Config.UpstreamBase, path)
	if r.URL.RawQuery != "" {
		upstreamURL += "?" + r.URL.RawQuery
	}

	resp, err := p.Client.Fetch(r.Context(), r.Method, upstreamURL, r.Header.Get("Range"))
	if err != nil {
		p.writeError(w, err)
		return
	}
	defer resp.Body.Close()

	for _, h := range mirroredHeaders {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	w.Header().Set("Content-Type", containerContentType)
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", p.Config.ContainerCacheAge))
	w.WriteHeader(resp.StatusCode)

	metrics.ActiveContainerStreams.Inc()
	defer metrics.ActiveContainerStreams.Dec()
	relayBody(w, resp.Body)
}

// relayBody streams an upstream body to the client, counting relayed bytes.
// A failed copy usually means the client went away mid-stream.
func relayBody(w http.ResponseWriter, body io.Reader) {
	n, err := io.Copy(w, body)
	metrics.ContainerBytes.Add(float64(n))
	if err != nil {
		logger.Debug("stream ended early after %d bytes: %v", n, err)
	}
}
