// Package ingest parses discovered log files into usage entries across a
// bounded pool of workers.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/pario-ai/toktrack/pkg/models"
	"github.com/pario-ai/toktrack/pkg/source"
)

const (
	// deadlineCheckEvery is how many records a worker decodes between context checks.
	deadlineCheckEvery = 256
	// maxRecordErrors caps the per-file record errors kept in detail; the count stays exact.
	maxRecordErrors = 20
)

// Job is one file paired with the variant that decodes it.
type Job struct {
	File    models.SourceFile
	Variant source.Variant
}

// FileStat describes a file that was parsed to completion.
type FileStat struct {
	File    models.SourceFile
	Dates   []string
	Entries int
}

// Result is the merged output of a run.
type Result struct {
	Entries        []models.UsageEntry
	FileErrors     []models.FileError
	Files          []FileStat
	SkippedRecords int64
	// Abandoned counts files dropped because the context ended first.
	Abandoned int
	Partial   bool
	Warnings  []string
}

// Pipeline parses files in parallel.
type Pipeline struct {
	workers  int
	location *time.Location
	logger   *slog.Logger
}

// New creates a Pipeline. workers <= 0 means GOMAXPROCS. Dates in FileStat
// are computed in loc.
func New(workers int, loc *time.Location, logger *slog.Logger) *Pipeline {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{workers: workers, location: loc, logger: logger}
}

// partial is one worker's private accumulation.
type partial struct {
	files     []fileResult
	errors    []models.FileError
	skipped   int64
	abandoned int
}

type fileResult struct {
	stat    FileStat
	entries []models.UsageEntry
}

// Run parses every job and merges the per-worker results. It returns when
// all files are done or ctx ends; files not finished by then are dropped
// and the result is marked Partial.
func (p *Pipeline) Run(ctx context.Context, jobs []Job) Result {
	n := min(p.workers, len(jobs))
	parts := make([]partial, n)

	// Workers claim the next unclaimed file from a shared cursor, so a
	// worker that finishes early keeps taking files others have not reached.
	var next atomic.Int64
	var g errgroup.Group
	for w := 0; w < n; w++ {
		part := &parts[w]
		g.Go(func() error {
			for {
				i := int(next.Add(1)) - 1
				if i >= len(jobs) {
					return nil
				}
				if ctx.Err() != nil {
					part.abandoned++
					continue
				}
				p.parseFile(ctx, jobs[i], part)
			}
		})
	}
	_ = g.Wait()

	res := merge(parts)
	if res.Abandoned > 0 {
		res.Partial = true
		msg := fmt.Sprintf("ingest stopped early (%v): %d of %d files not parsed", context.Cause(ctx), res.Abandoned, len(jobs))
		res.Warnings = append(res.Warnings, msg)
		p.logger.Warn("ingest incomplete", "abandoned", res.Abandoned, "files", len(jobs), "cause", context.Cause(ctx))
	}
	return res
}

func (p *Pipeline) parseFile(ctx context.Context, job Job, part *partial) {
	f := job.File
	data, err := os.ReadFile(f.Path)
	if err != nil {
		p.logger.Warn("read log file", "path", f.Path, "err", err)
		part.errors = append(part.errors, models.FileError{
			Source: f.Source, Path: f.Path, Kind: models.KindFileAccess, Reason: err.Error(),
		})
		return
	}

	desc := job.Variant.Descriptor()
	dec := job.Variant.NewDecoder(f.Path)

	var (
		entries  []models.UsageEntry
		dedup    = make(map[string]int)
		errs     []models.FileError
		skipped  int64
		count    int
		canceled bool
	)
	reject := func(line int, reason string) {
		skipped++
		if len(errs) < maxRecordErrors {
			errs = append(errs, models.FileError{
				Source: f.Source, Path: f.Path, Line: line, Kind: models.KindParse, Reason: reason,
			})
		}
	}

	forEachRecord(data, desc.Format, func(line int, rec []byte) bool {
		count++
		if count%deadlineCheckEvery == 0 && ctx.Err() != nil {
			canceled = true
			return false
		}
		if !gjson.ValidBytes(rec) {
			reject(line, "invalid JSON")
			return true
		}
		decoded, err := dec.Decode(rec)
		if err != nil {
			reject(line, err.Error())
		}
		for _, e := range decoded {
			if e.DedupKey == "" {
				entries = append(entries, e)
				continue
			}
			// Streaming responses log the same message repeatedly; the last copy wins.
			if j, ok := dedup[e.DedupKey]; ok {
				entries[j] = e
				continue
			}
			dedup[e.DedupKey] = len(entries)
			entries = append(entries, e)
		}
		return true
	})

	if canceled {
		part.abandoned++
		return
	}
	if skipped > maxRecordErrors {
		errs = append(errs, models.FileError{
			Source: f.Source, Path: f.Path, Kind: models.KindParse,
			Reason: fmt.Sprintf("%d more malformed records not listed", skipped-maxRecordErrors),
		})
	}
	if skipped > 0 {
		p.logger.Debug("skipped malformed records", "path", f.Path, "count", skipped)
	}

	part.skipped += skipped
	part.errors = append(part.errors, errs...)
	part.files = append(part.files, fileResult{
		stat:    FileStat{File: f, Dates: datesOf(entries, p.location), Entries: len(entries)},
		entries: entries,
	})
}

// forEachRecord calls fn for every record in data. JSONL records are the
// non-blank lines; a JSON file is one record. Records alias data.
func forEachRecord(data []byte, format models.FormatKind, fn func(line int, rec []byte) bool) {
	if format == models.FormatJSON {
		if rec := bytes.TrimSpace(data); len(rec) > 0 {
			fn(1, rec)
		}
		return
	}
	line := 0
	for len(data) > 0 {
		line++
		var rec []byte
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			rec, data = data[:i], data[i+1:]
		} else {
			rec, data = data, nil
		}
		rec = bytes.TrimSpace(rec)
		if len(rec) == 0 {
			continue
		}
		if !fn(line, rec) {
			return
		}
	}
}

func datesOf(entries []models.UsageEntry, loc *time.Location) []string {
	seen := make(map[string]struct{})
	for _, e := range entries {
		seen[e.Date(loc)] = struct{}{}
	}
	dates := make([]string, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// merge combines worker partials. It is the only place results from
// different workers meet, and its output does not depend on which worker
// parsed which file.
func merge(parts []partial) Result {
	var res Result
	var files []fileResult
	for _, part := range parts {
		files = append(files, part.files...)
		res.FileErrors = append(res.FileErrors, part.errors...)
		res.SkippedRecords += part.skipped
		res.Abandoned += part.abandoned
	}
	sort.Slice(files, func(i, j int) bool { return files[i].stat.File.Path < files[j].stat.File.Path })
	sort.SliceStable(res.FileErrors, func(i, j int) bool {
		a, b := res.FileErrors[i], res.FileErrors[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Line < b.Line
	})

	// A dedup key seen in several files keeps the copy with the most
	// tokens; files are visited in path order so ties resolve to the
	// lexically first path.
	keyed := make(map[string]int)
	for _, fr := range files {
		res.Files = append(res.Files, fr.stat)
		for _, e := range fr.entries {
			if e.DedupKey == "" {
				res.Entries = append(res.Entries, e)
				continue
			}
			if j, ok := keyed[e.DedupKey]; ok {
				if e.Tokens.Total() > res.Entries[j].Tokens.Total() {
					res.Entries[j] = e
				}
				continue
			}
			keyed[e.DedupKey] = len(res.Entries)
			res.Entries = append(res.Entries, e)
		}
	}
	return res
}
