package provider

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/citygrid/h3delay/internal/h3adapter"
	"github.com/citygrid/h3delay/internal/model"
	"github.com/citygrid/h3delay/internal/observability"
	"github.com/citygrid/h3delay/internal/providercache"
)

// Cached wraps a Provider with an in-process LRU lookup, keyed on the
// cell's representative point rounded to 4 decimal places (~11m) rather
// than the raw cell id, so that two cells whose centers happen to round
// to the same point share a cache entry (spec §4.10). This never changes
// which quantified invariant the pipeline satisfies: the cached value is
// exactly what the wrapped provider would have returned for that point.
type Cached struct {
	next  Provider
	cache *providercache.Cache

	adapter *h3adapter.Adapter
	name    string
}

// NewCached wraps next with a cache holding up to size entries per shard
// (providercache has 64 shards) and the given ttl. name is used only for
// metric labels.
func NewCached(next Provider, name string, size int, ttl time.Duration) (*Cached, error) {
	c, err := providercache.New(size, ttl)
	if err != nil {
		return nil, fmt.Errorf("provider cache: %w", err)
	}
	return &Cached{next: next, cache: c, adapter: h3adapter.New(), name: name}, nil
}

func (c *Cached) key(cell string) (string, error) {
	lat, lon, err := c.adapter.Center(cell)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%.4f,%.4f", round4(lat), round4(lon)), nil
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func (c *Cached) DelayForCell(ctx context.Context, cell string) (*model.TrafficSample, error) {
	key, err := c.key(cell)
	if err != nil {
		return nil, err
	}

	if sample, ok := c.cache.Get(key); ok {
		observability.ObserveProviderCacheLookup(c.name, true)
		return &sample, nil
	}
	observability.ObserveProviderCacheLookup(c.name, false)

	sample, err := c.next.DelayForCell(ctx, cell)
	if err != nil || sample == nil {
		return sample, err
	}
	c.cache.Set(key, *sample)
	return sample, nil
}
