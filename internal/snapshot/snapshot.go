// Package snapshot holds the single-writer/many-reader cell described in
// spec §5/§9: the most recently rendered GeoJSON FeatureCollection and
// the UTC timestamp it was published at. One compute_day run writes it
// once, atomically with respect to readers; any number of goroutines
// (the ops server, or an external HTTP surface embedding this package)
// can read it concurrently.
package snapshot

import (
	"context"
	"sync"
	"time"

	"github.com/citygrid/h3delay/internal/observability"
	"github.com/citygrid/h3delay/internal/redisstore"
)

// Snapshot is an immutable, already-rendered payload plus the instant it
// was produced.
type Snapshot struct {
	GeoJSON []byte
	TSUTC   time.Time
}

// Holder is the RWMutex-guarded cell. The zero value is empty (no
// snapshot published yet); WithRedisMirror may be called to additionally
// push every publish to Redis so other replicas can read it without running their
// own orchestrator.
type Holder struct {
	mu  sync.RWMutex
	cur Snapshot

	mirror    *redisstore.Client
	mirrorKey string
	mirrorTTL time.Duration
}

func New() *Holder {
	return &Holder{}
}

// WithRedisMirror attaches a Redis client that every Publish call also
// writes to, under key, with the given TTL (so a stale writer doesn't
// leave replicas serving ancient data forever).
func (h *Holder) WithRedisMirror(c *redisstore.Client, key string, ttl time.Duration) *Holder {
	h.mirror = c
	h.mirrorKey = key
	h.mirrorTTL = ttl
	return h
}

// Publish atomically replaces the current snapshot. If a Redis mirror is
// configured, it is written best-effort: a mirror failure is logged by
// the caller (via the returned error) but does not roll back the local
// publish, since the local copy is what readers in this process see.
func (h *Holder) Publish(ctx context.Context, geojson []byte, ts time.Time) error {
	h.mu.Lock()
	h.cur = Snapshot{GeoJSON: geojson, TSUTC: ts.UTC()}
	h.mu.Unlock()

	if h.mirror == nil {
		return nil
	}
	start := time.Now()
	err := h.mirror.Set(ctx, h.mirrorKey, geojson, h.mirrorTTL)
	observability.ObserveCacheOp("snapshot_mirror_set", err, time.Since(start).Seconds())
	return err
}

// Current returns the most recently published snapshot. The zero value
// (nil GeoJSON, zero time) means nothing has been published yet.
func (h *Holder) Current() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cur
}
