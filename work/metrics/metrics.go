package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// UpstreamRequests counts requests issued to the archive origin, labelled by
// HTTP status code, or "error" when the request never produced a response.
var UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vod_proxy_upstream_requests_total",
	Help: "Requests issued to the upstream origin",
}, []string{"status"})

// ContainerBytes tracks bytes relayed through the container proxy to clients.
var ContainerBytes = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vod_proxy_container_bytes_total",
	Help: "Bytes streamed through the container proxy",
})

// ActiveContainerStreams tracks in-flight container proxy requests.
// Gauge: it rises on request start and falls on completion or disconnect.
var ActiveContainerStreams = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "vod_proxy_active_container_streams",
	Help: "Container proxy requests currently streaming",
})

// ChatShardFetches counts per-second chat shard fetches, labelled by outcome:
// "hit" (messages returned), "empty", or "failed" (skipped as empty).
var ChatShardFetches = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vod_proxy_chat_shard_fetches_total",
	Help: "Chat shard fetches by outcome",
}, []string{"outcome"})

// SyncRuns counts metadata reconciliation runs, labelled by trigger
// ("startup", "scheduled" or "manual").
var SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vod_proxy_sync_runs_total",
	Help: "Metadata reconciliation runs",
}, []string{"trigger"})
