// Package chat reconstructs a time-ordered replay stream from the upstream
// per-second chat store. The upstream shards messages by video second, so a
// range request is an N-fetch fan-out; shard fetches run concurrently under
// a bounded limit and the merged result is always re-sorted, making output
// order independent of completion order.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jakedarc/barbarian-ultimate/work/client"
	"github.com/jakedarc/barbarian-ultimate/work/config"
	"github.com/jakedarc/barbarian-ultimate/work/logger"
	"github.com/jakedarc/barbarian-ultimate/work/metrics"

	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"
)

// ErrInvalidRange is returned for negative or inverted second ranges.
var ErrInvalidRange = errors.New("invalid chat range")

// Message is one replayed chat message. Sender, Fragments and Badges are
// upstream payload passed through unmodified. VideoTimestamp is stamped by
// the fetch loop from the shard second, not taken from upstream; Timestamp
// is the upstream intra-second ordering key and sorts as 0 when absent.
type Message struct {
	VideoTimestamp int             `json:"video_timestamp"`
	Timestamp      float64         `json:"timestamp"`
	Sender         json.RawMessage `json:"sender,omitempty"`
	Body           string          `json:"body,omitempty"`
	Fragments      json.RawMessage `json:"fragments,omitempty"`
	Badges         json.RawMessage `json:"badges,omitempty"`
}

// Assembler fetches and merges chat shards for one upstream origin.
type Assembler struct {
	config *config.Config
	client *client.UpstreamClient
	pool   *ants.Pool
}

// New creates an Assembler sharing the application worker pool.
func New(cfg *config.Config, uc *client.UpstreamClient, pool *ants.Pool) *Assembler {
	return &Assembler{
		config: cfg,
		client: uc,
		pool:   pool,
	}
}

// Timecodes returns the sorted set of seconds that have any chat data for a
// video, from the single upstream index fetch. Upstream failure propagates
// as the client's sentinel errors ("chat unavailable"); an empty index is a
// valid empty result, signalled distinctly as an empty slice with nil error.
func (a *Assembler) Timecodes(ctx context.Context, vodID string) ([]int, error) {
	var seconds []int
	if err := a.client.GetJSON(ctx, a.indexURL(vodID), &seconds); err != nil {
		return nil, fmt.Errorf("chat index for %s: %w", vodID, err)
	}

	sort.Ints(seconds)
	return seconds, nil
}

// AssembleRange fetches every shard in [start, end] inclusive and returns
// the merged messages ordered by (video second, intra-second timestamp),
// stable for equal keys. Shards that fail or time out are treated as empty
// and never abort the range; an all-empty range yields an empty slice.
func (a *Assembler) AssembleRange(ctx context.Context, vodID string, start, end int) ([]Message, error) {
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, start, end)
	}

	results := xsync.NewMapOf[int, []Message]()
	fanoutSem := make(chan struct{}, a.config.ChatFanoutLimit)
	var wg sync.WaitGroup

	for t := start; t <= end; t++ {
		second := t
		wg.Add(1)
		fanoutSem <- struct{}{}

		task := func() {
			defer wg.Done()
			defer func() { <-fanoutSem }()

			if msgs := a.fetchShard(ctx, vodID, second); len(msgs) > 0 {
				results.Store(second, msgs)
			}
		}

		if err := a.pool.Submit(task); err != nil {
			// pool released during shutdown; run inline rather than drop
			task()
		}
	}

	wg.Wait()

	assembled := make([]Message, 0)
	for t := start; t <= end; t++ {
		if msgs, ok := results.Load(t); ok {
			assembled = append(assembled, msgs...)
		}
	}

	sort.SliceStable(assembled, func(i, j int) bool {
		if assembled[i].VideoTimestamp != assembled[j].VideoTimestamp {
			return assembled[i].VideoTimestamp < assembled[j].VideoTimestamp
		}
		return assembled[i].Timestamp < assembled[j].Timestamp
	})

	return assembled, nil
}

// fetchShard retrieves one second's shard within the per-shard timeout.
// Every failure mode degrades to "no messages for that second".
func (a *Assembler) fetchShard(ctx context.Context, vodID string, second int) []Message {
	shardCtx, cancel := context.WithTimeout(ctx, a.config.ChatShardTimeout)
	defer cancel()

	var msgs []Message
	if err := a.client.GetJSON(shardCtx, a.shardURL(vodID, second), &msgs); err != nil {
		metrics.ChatShardFetches.WithLabelValues("failed").Inc()
		logger.Debug("chat shard %s/%d skipped: %v", vodID, second, err)
		return nil
	}

	if len(msgs) == 0 {
		metrics.ChatShardFetches.WithLabelValues("empty").Inc()
		return nil
	}

	for i := range msgs {
		msgs[i].VideoTimestamp = second
	}

	metrics.ChatShardFetches.WithLabelValues("hit").Inc()
	return msgs
}

func (a *Assembler) indexURL(vodID string) string {
	return fmt.Sprintf("%s/chat/%s/index.json", a.config.UpstreamBase, vodID)
}

func (a *Assembler) shardURL(vodID string, second int) string {
	return fmt.Sprintf("%s/chat/%s/%d.json", a.config.UpstreamBase, vodID, second)
}
