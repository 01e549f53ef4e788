package tracker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync/atomic"

	"github.com/pario-ai/toktrack/pkg/aggregate"
	"github.com/pario-ai/toktrack/pkg/ingest"
	"github.com/pario-ai/toktrack/pkg/lock"
	"github.com/pario-ai/toktrack/pkg/models"
	"github.com/pario-ai/toktrack/pkg/source"
)

// discovered is one source's files and what the cache knows about them.
type discovered struct {
	variant   source.Variant
	files     []models.SourceFile
	index     map[string]models.FileIndexEntry
	committed map[string]bool
}

// Refresh discovers files, parses the ones the cache cannot answer for,
// and returns a priced report.
//
// Dates before today come from the cache once committed and are never
// recomputed. Today's buckets are always rebuilt from raw files. A run cut
// short by the deadline, or one that could not take the state lock,
// commits nothing. Once the deadline passes Refresh stops waiting for the
// pricing fetch and the backup; both finish in the background.
func (s *Service) Refresh(ctx context.Context, opts RefreshOptions) (*models.Report, error) {
	variants, err := s.registry.Filter(opts.Sources)
	if err != nil {
		return nil, err
	}

	now := s.now()
	today := now.In(s.loc).Format(models.DateLayout)
	report := &models.Report{GeneratedAt: now.UTC(), Today: today}

	// State access outlives the parse deadline: a cut-short run still
	// reads the cache and prices what it has.
	store := context.WithoutCancel(ctx)
	deadlineCtx := ctx
	deadline := opts.Deadline
	if deadline == 0 {
		deadline = s.cfg.Deadline
	}
	if deadline > 0 {
		var cancel context.CancelFunc
		deadlineCtx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	writable := true
	lctx, cancel := context.WithTimeout(ctx, lockWait)
	held, err := lock.Acquire(lctx, s.cfg.LockPath())
	cancel()
	if err != nil {
		writable = false
		s.logger.Warn("state is locked by another process, results will not be saved", "err", err)
		report.Warnings = append(report.Warnings, "another toktrack process holds the state lock; this refresh was not saved")
	}
	state := newSharedLock(held)
	defer state.done()

	// Discovery and backup are bounded by ctx, not the deadline.
	sources, discErrs := s.discover(ctx, variants)
	report.FileErrors = append(report.FileErrors, discErrs...)

	backupDone := s.startBackup(ctx, sources, state, writable && !opts.SkipBackup)
	pricingDone := s.startPricing(ctx)
	corruptBefore := s.corruptCount()

	jobs, reused := s.plan(store, sources, today)
	report.FilesReused = reused
	res := s.pipeline.Run(deadlineCtx, jobs)
	report.FileErrors = append(report.FileErrors, res.FileErrors...)
	report.SkippedRecords = res.SkippedRecords
	report.FilesParsed = len(res.Files)
	report.Partial = res.Partial
	report.Warnings = append(report.Warnings, res.Warnings...)

	commit := writable && !res.Partial && s.cache != nil
	incomplete := unreadable(report.FileErrors)
	buckets := s.settle(store, sources, aggregate.Fold(res.Entries, s.loc), today, commit, incomplete)
	if commit {
		s.index(store, res.Files)
	}
	if n := s.corruptCount() - corruptBefore; n > 0 {
		report.FileErrors = append(report.FileErrors, models.FileError{
			Path: s.cfg.DBPath(), Kind: models.KindCache,
			Reason: fmt.Sprintf("dropped %d corrupt cached buckets; they were recomputed", n),
		})
	}

	s.mu.Lock()
	s.last = buckets
	s.mu.Unlock()

	if pricingDone != nil {
		select {
		case <-pricingDone:
		case <-deadlineCtx.Done():
			report.Warnings = append(report.Warnings, "pricing refresh did not finish before the deadline; costs use the current snapshot")
		}
	}
	report.PricingStale = s.pricing.Stale()
	if t, ok := s.pricing.FetchedAt(); ok {
		report.PricingFetchedAt = &t
	}
	if report.PricingStale {
		msg := "pricing table is stale or missing; costs use the last known rates"
		if err := s.pricing.LastError(); err != nil {
			msg = fmt.Sprintf("%s (%v)", msg, err)
			report.FileErrors = append(report.FileErrors, models.FileError{
				Path: s.cfg.Pricing.URL, Kind: models.KindPricing, Reason: err.Error(),
			})
		}
		report.Warnings = append(report.Warnings, msg)
	}

	report.Summary = s.engine.Summarize(buckets)
	if n := len(report.Summary.MissingPricing); n > 0 {
		s.logger.Debug("models without pricing", "count", n)
	}
	if backupDone != nil {
		select {
		case rep := <-backupDone:
			report.Backup = &rep
		case <-deadlineCtx.Done():
			report.Warnings = append(report.Warnings, "backup still running after the deadline; it keeps the state lock until it finishes")
		}
	}
	return report, nil
}

// sharedLock releases the state lock once its last holder is done. A
// backup that outlives its refresh holds the lock until it finishes.
type sharedLock struct {
	l    *lock.Lock
	refs atomic.Int32
}

func newSharedLock(l *lock.Lock) *sharedLock {
	s := &sharedLock{l: l}
	s.refs.Store(1)
	return s
}

func (s *sharedLock) add() { s.refs.Add(1) }

func (s *sharedLock) done() {
	if s.refs.Add(-1) == 0 {
		s.l.Release()
	}
}

// unreadable returns the sources with a file that could not be read.
func unreadable(errs []models.FileError) map[string]bool {
	out := make(map[string]bool)
	for _, fe := range errs {
		if fe.Kind == models.KindFileAccess {
			out[fe.Source] = true
		}
	}
	return out
}

func (s *Service) corruptCount() int64 {
	if s.cache == nil {
		return 0
	}
	st, err := s.cache.Stats()
	if err != nil {
		return 0
	}
	return st.Corrupt
}

// discover lists each variant's files. A missing root is not an error.
func (s *Service) discover(ctx context.Context, variants []source.Variant) ([]*discovered, []models.FileError) {
	var (
		out  []*discovered
		errs []models.FileError
	)
	for _, v := range variants {
		desc := v.Descriptor()
		files, err := source.Discover(ctx, desc)
		switch {
		case errors.Is(err, source.ErrRootMissing):
			s.logger.Debug("source root missing", "source", desc.ID, "root", desc.Root)
		case err != nil:
			s.logger.Warn("discover failed", "source", desc.ID, "err", err)
			errs = append(errs, models.FileError{
				Source: desc.ID, Path: desc.Root, Kind: models.KindFileAccess, Reason: err.Error(),
			})
		default:
			s.logger.Debug("discovered files", "source", desc.ID, "count", len(files))
		}
		out = append(out, &discovered{variant: v, files: files})
	}
	return out, errs
}

func (s *Service) startBackup(ctx context.Context, sources []*discovered, state *sharedLock, enabled bool) <-chan models.BackupReport {
	if s.backup == nil || !s.cfg.Backup.OnStart || !enabled {
		return nil
	}
	var files []models.SourceFile
	for _, d := range sources {
		files = append(files, d.files...)
	}
	done := make(chan models.BackupReport, 1)
	state.add()
	s.background(ctx, func(ctx context.Context) {
		defer state.done()
		done <- s.backup.Run(ctx, files)
	})
	return done
}

// startPricing refreshes the price table in the background unless offline.
func (s *Service) startPricing(ctx context.Context) <-chan struct{} {
	if s.cfg.Pricing.Offline {
		return nil
	}
	done := make(chan struct{})
	s.background(ctx, func(ctx context.Context) {
		defer close(done)
		s.pricing.EnsureFresh(ctx)
	})
	return done
}

// background runs fn in a goroutine that Close waits for. fn's context ends
// when ctx does or when the Service is closed.
func (s *Service) background(ctx context.Context, fn func(context.Context)) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.bgCtx, cancel)
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		defer cancel()
		defer stop()
		fn(ctx)
	}()
}

// plan picks the files that must be parsed. A file is skipped only when it
// is unchanged since it was indexed and every date it contributed to is
// before today and already committed.
func (s *Service) plan(ctx context.Context, sources []*discovered, today string) ([]ingest.Job, int) {
	var (
		jobs   []ingest.Job
		reused int
	)
	for _, d := range sources {
		if s.cache != nil {
			var err error
			if d.index, err = s.cache.FileIndex(ctx, d.variant.Descriptor().ID); err != nil {
				s.logger.Warn("read file index", "err", err)
			}
			if d.committed, err = s.cache.Committed(ctx, d.variant.Descriptor().ID); err != nil {
				s.logger.Warn("read committed dates", "err", err)
			}
		}
		for _, f := range d.files {
			if e, ok := d.index[f.Path]; ok && e.Unchanged(f) && settled(e.Dates, today, d.committed) {
				reused++
				continue
			}
			jobs = append(jobs, ingest.Job{File: f, Variant: d.variant})
		}
	}
	return jobs, reused
}

func settled(dates []string, today string, committed map[string]bool) bool {
	for _, d := range dates {
		if d >= today || !committed[d] {
			return false
		}
	}
	return true
}

// settle combines freshly parsed buckets with the cache. With commit set,
// past buckets are committed once and today's are replaced; without it the
// cache is only read. Past buckets of sources in incomplete are stored but
// not finalized, since a file that could not be read is missing from them.
func (s *Service) settle(ctx context.Context, sources []*discovered, fresh aggregate.Partial, today string, commit bool, incomplete map[string]bool) []models.DailyBucket {
	if s.cache == nil {
		return fresh.Buckets()
	}

	var out []models.DailyBucket
	for _, d := range sources {
		id := d.variant.Descriptor().ID
		if commit {
			// Volatile buckets are rebuilt below; dropping them first removes
			// dates whose raw data has gone.
			if err := s.cache.DeleteFrom(ctx, id, today); err != nil {
				s.logger.Warn("clear volatile buckets", "source", id, "err", err)
			}
		}

		seen := make(map[string]bool)
		for _, date := range freshDates(fresh, id) {
			b := fresh[aggregate.Key{Source: id, Date: date}]
			got, ok := s.readBucket(ctx, b, today, commit, incomplete[id])
			if ok {
				out = append(out, got)
				seen[date] = true
			}
		}

		cached, err := s.cache.Range(ctx, id, "", "")
		if err != nil {
			s.logger.Warn("read cached buckets", "source", id, "err", err)
			continue
		}
		for _, b := range cached {
			if b.Date < today && !seen[b.Date] {
				out = append(out, b)
			}
		}
	}
	aggregate.SortBuckets(out)
	return out
}

func (s *Service) readBucket(ctx context.Context, b models.DailyBucket, today string, commit, incomplete bool) (models.DailyBucket, bool) {
	if commit && incomplete && b.Date < today {
		got, err := s.cache.Stage(ctx, b)
		if err != nil {
			s.logger.Warn("cache stage", "source", b.Source, "date", b.Date, "err", err)
		}
		return got, true
	}
	if commit {
		got, ok, err := s.cache.Read(ctx, b.Source, b.Date, today, func() (models.DailyBucket, bool, error) {
			return b, true, nil
		})
		if err != nil {
			s.logger.Warn("cache read", "source", b.Source, "date", b.Date, "err", err)
			return b, true
		}
		return got, ok
	}
	if b.Date < today {
		if got, ok, _ := s.cache.Get(ctx, b.Source, b.Date); ok {
			return got, true
		}
	}
	return b, true
}

func freshDates(p aggregate.Partial, id string) []string {
	var dates []string
	for k := range p {
		if k.Source == id {
			dates = append(dates, k.Date)
		}
	}
	sort.Strings(dates)
	return dates
}

// index records the dates each parsed file contributed to.
func (s *Service) index(ctx context.Context, files []ingest.FileStat) {
	entries := make([]models.FileIndexEntry, 0, len(files))
	for _, f := range files {
		entries = append(entries, models.FileIndexEntry{
			Source:  f.File.Source,
			Path:    f.File.Path,
			Size:    f.File.Size,
			ModTime: f.File.ModTime,
			Dates:   slices.Clone(f.Dates),
		})
	}
	if err := s.cache.PutFiles(ctx, entries); err != nil {
		s.logger.Warn("update file index", "err", err)
	}
}
