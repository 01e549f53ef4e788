// Package tracker runs refreshes over the registered log sources and
// answers read queries over the resulting daily summaries.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/pario-ai/toktrack/pkg/aggregate"
	"github.com/pario-ai/toktrack/pkg/backup"
	"github.com/pario-ai/toktrack/pkg/cache/sqlite"
	"github.com/pario-ai/toktrack/pkg/config"
	"github.com/pario-ai/toktrack/pkg/ingest"
	"github.com/pario-ai/toktrack/pkg/lock"
	"github.com/pario-ai/toktrack/pkg/models"
	"github.com/pario-ai/toktrack/pkg/pricing"
	"github.com/pario-ai/toktrack/pkg/source"
)

// ErrBackupDisabled is returned by Backup when backups are turned off.
var ErrBackupDisabled = errors.New("backup disabled")

// lockWait bounds how long a refresh waits for another process to release
// the state lock before continuing read-only.
const lockWait = 2 * time.Second

// Tracker refreshes usage data and queries summaries.
type Tracker interface {
	// Refresh ingests raw logs, updates the cache and returns a report.
	Refresh(ctx context.Context, opts RefreshOptions) (*models.Report, error)
	// Daily returns one row per date.
	Daily(ctx context.Context, q Query) ([]models.DailySummary, error)
	// Models returns per-model totals, most expensive first.
	Models(ctx context.Context, q Query) ([]models.ModelSummary, error)
	// Stats returns headline figures.
	Stats(ctx context.Context, q Query) (models.Stats, error)
	// CacheStats reports summary cache contents.
	CacheStats() (models.CacheStats, error)
	// Close releases resources.
	Close() error
}

// RefreshOptions tunes one refresh.
type RefreshOptions struct {
	// Deadline caps parsing time; 0 uses the configured deadline.
	Deadline time.Duration
	// Sources limits the refresh to these source ids; empty means all.
	Sources []string
	// SkipBackup disables the on-start backup for this call.
	SkipBackup bool
}

// Query selects summaries. Empty fields do not filter.
type Query struct {
	From    string   `json:"from,omitempty"`
	To      string   `json:"to,omitempty"`
	Sources []string `json:"sources,omitempty"`
	Model   string   `json:"model,omitempty"`
}

// Service is the Tracker backed by the on-disk state directory.
type Service struct {
	cfg      *config.Config
	registry *source.Registry
	loc      *time.Location
	cache    *sqlite.Cache
	pricing  *pricing.Cache
	backup   *backup.Manager
	pipeline *ingest.Pipeline
	engine   *aggregate.Engine
	logger   *slog.Logger
	now      func() time.Time
	fetcher  pricing.Fetcher

	mu   sync.Mutex
	last []models.DailyBucket

	// Background pricing fetches and backups that outlive a refresh.
	bg     sync.WaitGroup
	bgCtx  context.Context
	bgStop context.CancelFunc
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source that decides "today".
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithFetcher overrides the pricing source.
func WithFetcher(f pricing.Fetcher) Option { return func(s *Service) { s.fetcher = f } }

// New opens the state directory described by cfg. A nil registry is built
// from cfg.Sources. Configuration problems are returned before any state is
// touched and wrap config.ErrInvalid.
func New(cfg *config.Config, registry *source.Registry, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	if registry == nil {
		if registry, err = source.FromConfig(cfg.Sources); err != nil {
			return nil, err
		}
	}

	s := &Service{cfg: cfg, registry: registry, loc: loc, now: time.Now, logger: slog.Default()}
	s.bgCtx, s.bgStop = context.WithCancel(context.Background())
	for _, o := range opts {
		o(s)
	}
	if s.fetcher == nil && !cfg.Pricing.Offline {
		s.fetcher = pricing.NewHTTPFetcher(cfg.Pricing.URL, cfg.Pricing.Timeout)
	}
	if cfg.Pricing.Offline {
		s.fetcher = nil
	}

	if err := os.MkdirAll(config.ExpandHome(cfg.StateDir), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	if cfg.Cache.Enabled {
		if s.cache, err = sqlite.New(cfg.DBPath(), s.logger); err != nil {
			return nil, err
		}
	}
	if cfg.Backup.Enabled {
		s.backup, err = backup.New(cfg.DBPath(), backup.Options{
			Dir:      cfg.BackupDir(),
			Compress: cfg.Backup.Compress,
			Logger:   s.logger,
			Now:      s.now,
		})
		if err != nil {
			s.Close()
			return nil, err
		}
	}
	s.pricing = pricing.New(cfg.PricingPath(), s.fetcher, cfg.Pricing.TTL,
		pricing.WithClock(s.now), pricing.WithLogger(s.logger))
	s.pipeline = ingest.New(cfg.Workers, loc, s.logger)
	s.engine = aggregate.New(s.pricing)
	return s, nil
}

// Close stops background work, waits for it, then releases the cache and
// ledger.
func (s *Service) Close() error {
	s.bgStop()
	s.bg.Wait()
	var errs []error
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	if s.backup != nil {
		errs = append(errs, s.backup.Close())
	}
	return errors.Join(errs...)
}

// Sources lists the registered source descriptors.
func (s *Service) Sources() []models.SourceDescriptor {
	var out []models.SourceDescriptor
	for _, v := range s.registry.List() {
		out = append(out, v.Descriptor())
	}
	return out
}

// CacheStats reports summary cache contents. It is zero when the cache is disabled.
func (s *Service) CacheStats() (models.CacheStats, error) {
	if s.cache == nil {
		return models.CacheStats{}, nil
	}
	return s.cache.Stats()
}

// ClearCache drops every cached bucket and the file index.
func (s *Service) ClearCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	l, err := lock.Acquire(ctx, s.cfg.LockPath())
	if err != nil {
		return err
	}
	defer l.Release()
	return s.cache.Clear(ctx)
}

// RefreshPricing fetches a new price table now, ignoring the TTL.
func (s *Service) RefreshPricing(ctx context.Context) (int, error) {
	if err := s.pricing.Refresh(ctx); err != nil {
		return 0, err
	}
	return s.pricing.Len(), nil
}

// Backup copies every discovered file not yet in the ledger.
func (s *Service) Backup(ctx context.Context, sources []string) (*models.BackupReport, error) {
	if s.backup == nil {
		return nil, ErrBackupDisabled
	}
	variants, err := s.registry.Filter(sources)
	if err != nil {
		return nil, err
	}
	l, err := lock.Acquire(ctx, s.cfg.LockPath())
	if err != nil {
		return nil, err
	}
	defer l.Release()

	files, _ := s.discover(ctx, variants)
	var all []models.SourceFile
	for _, d := range files {
		all = append(all, d.files...)
	}
	rep := s.backup.Run(ctx, all)
	return &rep, nil
}
