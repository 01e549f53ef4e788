// Package pricing keeps the model rate table, refreshing it from an
// external source and falling back to the last good snapshot.
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pario-ai/toktrack/pkg/fsutil"
	"github.com/pario-ai/toktrack/pkg/models"
)

// ErrOffline is returned by Refresh when the cache has no fetcher.
var ErrOffline = errors.New("pricing refresh disabled")

// DefaultTTL is how long a snapshot counts as fresh.
const DefaultTTL = time.Hour

// retryAfter is the minimum gap between fetch attempts made by EnsureFresh,
// including attempts made by earlier processes.
const retryAfter = time.Minute

// Cache serves rates from the last successful snapshot.
type Cache struct {
	mu        sync.RWMutex
	snap      *models.PricingSnapshot
	lastErr   error
	attempted time.Time

	fetcher Fetcher
	path    string
	ttl     time.Duration
	now     func() time.Time
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Cache) { c.logger = l } }

// WithLimiter overrides how often EnsureFresh may hit the network.
func WithLimiter(l *rate.Limiter) Option { return func(c *Cache) { c.limiter = l } }

// New creates a Cache persisting to path. A nil fetcher makes the cache
// serve only the persisted snapshot. ttl <= 0 means DefaultTTL.
func New(path string, fetcher Fetcher, ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		fetcher: fetcher,
		path:    path,
		ttl:     ttl,
		now:     time.Now,
		// One attempt per minute, so a failing source is not hammered by repeated refreshes.
		limiter: rate.NewLimiter(rate.Every(retryAfter), 1),
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.load()
	return c
}

func (c *Cache) load() {
	if c.path == "" {
		return
	}
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		c.logger.Warn("read pricing snapshot", "path", c.path, "err", err)
		return
	}
	var snap models.PricingSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.logger.Warn("ignoring unreadable pricing snapshot", "path", c.path, "err", err)
		return
	}
	c.attempted = snap.AttemptedAt
	if len(snap.Entries) > 0 {
		c.snap = &snap
	}
}

// Get returns the rate for model. Lookup tries the normalized name, then
// drops a "-latest" suffix, then trailing segments down to two.
func (c *Cache) Get(model string) (models.PricingEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return models.PricingEntry{}, false
	}
	for _, name := range candidates(models.NormalizeModel(model)) {
		if p, ok := c.snap.Entries[name]; ok {
			return p, true
		}
	}
	return models.PricingEntry{}, false
}

func candidates(name string) []string {
	out := []string{name}
	name = strings.TrimSuffix(name, "-latest")
	if name != out[0] {
		out = append(out, name)
	}
	parts := strings.Split(name, "-")
	for n := len(parts) - 1; n >= 2; n-- {
		out = append(out, strings.Join(parts[:n], "-"))
	}
	return out
}

// Refresh fetches a new table. On failure the current snapshot stays in
// place and the error is returned for logging only.
func (c *Cache) Refresh(ctx context.Context) error {
	if c.fetcher == nil {
		return ErrOffline
	}
	at := c.now().UTC()
	entries, err := c.fetcher.Fetch(ctx)

	c.mu.Lock()
	c.attempted = at
	if err != nil {
		c.lastErr = err
	} else {
		c.snap = &models.PricingSnapshot{FetchedAt: at, AttemptedAt: at, Entries: entries}
		c.lastErr = nil
	}
	out := models.PricingSnapshot{AttemptedAt: at}
	if c.snap != nil {
		out.FetchedAt = c.snap.FetchedAt
		out.Source = c.snap.Source
		out.Entries = c.snap.Entries
	}
	c.mu.Unlock()

	// A failed attempt is persisted too, so the next process waits out
	// retryAfter instead of paying another fetch timeout.
	if perr := c.persist(out); perr != nil {
		c.logger.Warn("persist pricing snapshot", "path", c.path, "err", perr)
	}
	if err != nil {
		return fmt.Errorf("refresh pricing: %w", err)
	}
	return nil
}

func (c *Cache) persist(snap models.PricingSnapshot) error {
	if c.path == "" {
		return nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(c.path, data, 0o644)
}

// EnsureFresh refreshes when the snapshot is missing or older than the TTL,
// no attempt was made in the last minute, and the rate limiter allows one.
// Failures are logged, never returned as fatal; the boolean reports whether
// the snapshot is fresh afterwards.
func (c *Cache) EnsureFresh(ctx context.Context) bool {
	if !c.Stale() {
		return true
	}
	if c.fetcher == nil || ctx.Err() != nil || c.recentlyAttempted() || !c.limiter.Allow() {
		return false
	}
	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("pricing refresh failed, serving last snapshot", "err", err, "fetched_at", c.fetchedAtAttr())
		return false
	}
	return true
}

func (c *Cache) recentlyAttempted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.attempted.IsZero() {
		return false
	}
	since := c.now().Sub(c.attempted)
	return since >= 0 && since < retryAfter
}

// Stale reports whether there is no snapshot or it has outlived the TTL.
func (c *Cache) Stale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap == nil || c.now().Sub(c.snap.FetchedAt) > c.ttl
}

// FetchedAt returns when the current snapshot was fetched.
func (c *Cache) FetchedAt() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return time.Time{}, false
	}
	return c.snap.FetchedAt, true
}

func (c *Cache) fetchedAtAttr() any {
	if t, ok := c.FetchedAt(); ok {
		return t
	}
	return "never"
}

// LastError returns the error from the most recent failed refresh, if any.
func (c *Cache) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Len returns the number of priced models.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return 0
	}
	return len(c.snap.Entries)
}
