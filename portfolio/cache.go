// Package portfolio serves the project listing from a time-boxed cache in
// front of a spreadsheet export or a database table.
package portfolio

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
	"golang.org/x/sync/singleflight"

	"merlodigital/site/logging"
	"merlodigital/site/metrics"
	"merlodigital/site/models"
)

// Source loads raw project rows keyed by column name.
type Source interface {
	Fetch(ctx context.Context) ([]map[string]string, error)
}

// Entry is one successful fetch.
type Entry struct {
	Projects  []models.Project
	FetchedAt time.Time
}

// Fresh reports whether e may still be served at now.
func (e Entry) Fresh(now time.Time, ttl time.Duration) bool {
	return !e.FetchedAt.IsZero() && now.Sub(e.FetchedAt) < ttl
}

// Cache is a read-through cache that keeps serving the last good listing
// when the source fails.
type Cache struct {
	source  Source
	ttl     time.Duration
	timeout time.Duration
	clock   quartz.Clock
	group   singleflight.Group

	mu    sync.RWMutex
	entry Entry
}

// NewCache returns a cache over source. A nil source yields an always-empty
// listing.
func NewCache(source Source, ttl, timeout time.Duration, clock quartz.Clock) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Cache{source: source, ttl: ttl, timeout: timeout, clock: clock}
}

// Fetch returns the listing. Unless force is set, a fresh entry is returned
// as is. Errors are never returned: a failed refresh yields the previous
// listing, or an empty one. The returned slice is shared and must not be
// modified.
func (c *Cache) Fetch(ctx context.Context, force bool) []models.Project {
	if !force {
		c.mu.RLock()
		e := c.entry
		c.mu.RUnlock()
		if e.Fresh(c.clock.Now(), c.ttl) {
			metrics.PortfolioFetches.WithLabelValues("cached").Inc()
			return e.Projects
		}
	}

	v, _, _ := c.group.Do("refresh", func() (interface{}, error) {
		return c.refresh(ctx), nil
	})
	return v.([]models.Project)
}

// Refresh forces a fetch and returns how many projects are now served.
func (c *Cache) Refresh(ctx context.Context) int {
	return len(c.Fetch(ctx, true))
}

// Entry returns the current cache entry.
func (c *Cache) Entry() Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entry
}

func (c *Cache) refresh(ctx context.Context) []models.Project {
	if c.source == nil {
		return []models.Project{}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	rows, err := c.source.Fetch(ctx)
	if err != nil {
		metrics.PortfolioFetches.WithLabelValues("failed").Inc()
		c.mu.RLock()
		prev := c.entry.Projects
		c.mu.RUnlock()
		logging.Warn().Err(err).Int("stale_projects", len(prev)).Msg("portfolio fetch failed, serving previous listing")
		if prev == nil {
			return []models.Project{}
		}
		return prev
	}

	projects := Normalize(rows)
	c.mu.Lock()
	c.entry = Entry{Projects: projects, FetchedAt: c.clock.Now()}
	c.mu.Unlock()

	metrics.PortfolioFetches.WithLabelValues("refreshed").Inc()
	logging.Info().Int("projects", len(projects)).Msg("portfolio refreshed")
	return projects
}
