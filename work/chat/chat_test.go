package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jakedarc/barbarian-ultimate/work/client"
	"github.com/jakedarc/barbarian-ultimate/work/config"

	"github.com/panjf2000/ants/v2"
)

// chatUpstream doubles the per-second shard store. Shards are keyed by
// "vodID/second"; unknown paths answer 404. Every request path is recorded.
type chatUpstream struct {
	mu     sync.Mutex
	hits   []string
	shards map[string]string
	broken map[string]bool
}

func (cu *chatUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cu.mu.Lock()
	cu.hits = append(cu.hits, r.URL.Path)
	cu.mu.Unlock()

	if cu.broken[r.URL.Path] {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}

	body, ok := cu.shards[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, body)
}

func (cu *chatUpstream) hitCount() []string {
	cu.mu.Lock()
	defer cu.mu.Unlock()
	out := make([]string, len(cu.hits))
	copy(out, cu.hits)
	return out
}

func newTestAssembler(t *testing.T, cu *chatUpstream) (*Assembler, func()) {
	t.Helper()

	server := httptest.NewServer(cu)

	cfg := &config.Config{
		UpstreamBase:      server.URL,
		UpstreamTimeout:   2 * time.Second,
		ChatShardTimeout:  time.Second,
		ChatFanoutLimit:   4,
		UpstreamRateLimit: 1000,
		UserAgent:         "test",
	}

	pool, err := ants.NewPool(4)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}

	a := New(cfg, client.New(cfg), pool)
	return a, func() {
		pool.Release()
		server.Close()
	}
}

func TestAssembleRangeInclusive(t *testing.T) {
	cu := &chatUpstream{
		shards: map[string]string{
			"/chat/v1/5.json": `[{"timestamp":0.1,"body":"five"}]`,
			"/chat/v1/6.json": `[]`,
			"/chat/v1/7.json": `[{"timestamp":0.2,"body":"seven"}]`,
		},
	}
	a, done := newTestAssembler(t, cu)
	defer done()

	// single-second lookup fetches exactly one shard
	msgs, err := a.AssembleRange(context.Background(), "v1", 5, 5)
	if err != nil {
		t.Fatalf("single second: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != "five" {
		t.Fatalf("single second: got %+v", msgs)
	}
	if hits := cu.hitCount(); len(hits) != 1 || hits[0] != "/chat/v1/5.json" {
		t.Fatalf("expected one shard fetch, got %v", hits)
	}

	// [5,7] fetches shards 5, 6 and 7
	msgs, err = a.AssembleRange(context.Background(), "v1", 5, 7)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("range: got %d messages, want 2", len(msgs))
	}
	seen := map[string]bool{}
	for _, hit := range cu.hitCount() {
		seen[hit] = true
	}
	for _, want := range []string{"/chat/v1/5.json", "/chat/v1/6.json", "/chat/v1/7.json"} {
		if !seen[want] {
			t.Errorf("shard %s never fetched", want)
		}
	}
}

func TestAssembleRangeOrdering(t *testing.T) {
	cu := &chatUpstream{
		shards: map[string]string{
			"/chat/v1/10.json": `[{"timestamp":0.9,"body":"late"},{"timestamp":0.1,"body":"early"},{"body":"unkeyed"}]`,
			"/chat/v1/11.json": `[{"timestamp":0.5,"body":"next"}]`,
		},
	}
	a, done := newTestAssembler(t, cu)
	defer done()

	msgs, err := a.AssembleRange(context.Background(), "v1", 10, 11)
	if err != nil {
		t.Fatalf("AssembleRange: %v", err)
	}

	wantBodies := []string{"unkeyed", "early", "late", "next"}
	if len(msgs) != len(wantBodies) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(wantBodies))
	}
	for i, want := range wantBodies {
		if msgs[i].Body != want {
			t.Errorf("position %d: got %q, want %q", i, msgs[i].Body, want)
		}
	}

	// stamped second always wins over intra-second key
	for i := 1; i < len(msgs); i++ {
		if msgs[i-1].VideoTimestamp > msgs[i].VideoTimestamp {
			t.Errorf("seconds out of order at %d: %d > %d", i, msgs[i-1].VideoTimestamp, msgs[i].VideoTimestamp)
		}
	}
}

func TestAssembleRangeStampsShardSecond(t *testing.T) {
	cu := &chatUpstream{
		shards: map[string]string{
			"/chat/v1/42.json": `[{"timestamp":0.3,"body":"hi","sender":{"name":"a"},"badges":["mod"]}]`,
		},
	}
	a, done := newTestAssembler(t, cu)
	defer done()

	msgs, err := a.AssembleRange(context.Background(), "v1", 42, 42)
	if err != nil {
		t.Fatalf("AssembleRange: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if msgs[0].VideoTimestamp != 42 {
		t.Errorf("VideoTimestamp = %d, want 42", msgs[0].VideoTimestamp)
	}
	if string(msgs[0].Sender) != `{"name":"a"}` {
		t.Errorf("sender payload not passed through: %s", msgs[0].Sender)
	}
	if string(msgs[0].Badges) != `["mod"]` {
		t.Errorf("badges payload not passed through: %s", msgs[0].Badges)
	}
}

func TestAssembleRangeSkipsFailedShard(t *testing.T) {
	cu := &chatUpstream{
		shards: map[string]string{
			"/chat/v1/41.json": `[{"body":"before"}]`,
			"/chat/v1/43.json": `[{"body":"after"}]`,
		},
		broken: map[string]bool{"/chat/v1/42.json": true},
	}
	a, done := newTestAssembler(t, cu)
	defer done()

	msgs, err := a.AssembleRange(context.Background(), "v1", 41, 43)
	if err != nil {
		t.Fatalf("failed shard must not abort the range: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Body != "before" || msgs[1].Body != "after" {
		t.Errorf("order wrong: %q then %q", msgs[0].Body, msgs[1].Body)
	}
}

func TestAssembleRangeEmpty(t *testing.T) {
	cu := &chatUpstream{shards: map[string]string{}}
	a, done := newTestAssembler(t, cu)
	defer done()

	msgs, err := a.AssembleRange(context.Background(), "v1", 0, 3)
	if err != nil {
		t.Fatalf("empty range is not an error: %v", err)
	}
	if msgs == nil || len(msgs) != 0 {
		t.Errorf("want empty non-nil slice, got %#v", msgs)
	}
}

func TestAssembleRangeInvalid(t *testing.T) {
	cu := &chatUpstream{shards: map[string]string{}}
	a, done := newTestAssembler(t, cu)
	defer done()

	for _, r := range [][2]int{{5, 4}, {-1, 3}} {
		if _, err := a.AssembleRange(context.Background(), "v1", r[0], r[1]); !errors.Is(err, ErrInvalidRange) {
			t.Errorf("range %v: got %v, want ErrInvalidRange", r, err)
		}
	}
}

func TestTimecodes(t *testing.T) {
	cu := &chatUpstream{
		shards: map[string]string{
			"/chat/v1/index.json": `[9,3,120,4]`,
			"/chat/v2/index.json": `[]`,
		},
	}
	a, done := newTestAssembler(t, cu)
	defer done()

	seconds, err := a.Timecodes(context.Background(), "v1")
	if err != nil {
		t.Fatalf("Timecodes: %v", err)
	}
	want := []int{3, 4, 9, 120}
	if len(seconds) != len(want) {
		t.Fatalf("got %v, want %v", seconds, want)
	}
	for i := range want {
		if seconds[i] != want[i] {
			t.Fatalf("got %v, want %v", seconds, want)
		}
	}

	// empty but available is distinct from unavailable
	seconds, err = a.Timecodes(context.Background(), "v2")
	if err != nil {
		t.Fatalf("empty index: %v", err)
	}
	if len(seconds) != 0 {
		t.Errorf("want empty, got %v", seconds)
	}

	if _, err := a.Timecodes(context.Background(), "missing"); !errors.Is(err, client.ErrUpstreamNotFound) {
		t.Errorf("missing index: got %v, want ErrUpstreamNotFound", err)
	}
}

func TestZeroIntraSecondTimestampSurvivesSerialization(t *testing.T) {
	msg := Message{VideoTimestamp: 5, Timestamp: 0, Body: "first frame"}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"timestamp":0`) {
		t.Errorf("serialized message dropped the zero timestamp: %s", data)
	}
}
