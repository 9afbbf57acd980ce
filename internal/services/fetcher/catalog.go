package fetcher

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Catalog caches the asset names of the latest release for ttl.
type Catalog struct {
	fetcher *Fetcher
	feedURL string
	ttl     time.Duration
	now     func() time.Time

	mu        sync.Mutex
	names     []string
	fetchedAt time.Time
}

func NewCatalog(f *Fetcher, feedURL string, ttl time.Duration) *Catalog {
	return &Catalog{fetcher: f, feedURL: feedURL, ttl: ttl, now: time.Now}
}

// Stale reports whether the next Assets call will hit the feed.
func (c *Catalog) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.staleLocked()
}

func (c *Catalog) staleLocked() bool {
	return c.fetchedAt.IsZero() || c.now().Sub(c.fetchedAt) >= c.ttl
}

// Assets returns the cached asset names, refreshing them when stale. A failed
// refresh yields an empty list and is retried on the next call after ttl.
func (c *Catalog) Assets(ctx context.Context) []string {
	c.mu.Lock()
	if !c.staleLocked() {
		names := append([]string(nil), c.names...)
		c.mu.Unlock()
		return names
	}
	c.mu.Unlock()

	names := c.fetcher.ListAssets(ctx, c.feedURL)

	c.mu.Lock()
	c.names = names
	c.fetchedAt = c.now()
	c.mu.Unlock()

	return append([]string(nil), names...)
}

// ModelAssets filters Assets down to downloadable model files.
func (c *Catalog) ModelAssets(ctx context.Context) []string {
	return FilterModels(c.Assets(ctx))
}

func (c *Catalog) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchedAt = time.Time{}
}

// FilterModels keeps .h5 files that are not weight-only checkpoints.
func FilterModels(names []string) []string {
	var out []string
	for _, name := range names {
		if strings.HasSuffix(name, ".h5") && !strings.Contains(name, "weights") {
			out = append(out, name)
		}
	}
	return out
}
