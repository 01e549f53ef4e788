// Package sqlite persists daily buckets and the raw file index in SQLite.
//
// Buckets committed once their date is before "today" are final and never
// rewritten. Buckets for today or later are overwritten by every refresh and
// never served from cache by Read.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/toktrack/pkg/models"
)

// Cache is the daily summary cache backed by SQLite.
type Cache struct {
	db      *sql.DB
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
	corrupt atomic.Int64
}

const createCacheTables = `
CREATE TABLE IF NOT EXISTS daily_buckets (
	source TEXT NOT NULL,
	date TEXT NOT NULL,
	payload BLOB NOT NULL,
	committed_at DATETIME NOT NULL,
	final INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (source, date)
);
CREATE TABLE IF NOT EXISTS file_index (
	source TEXT NOT NULL,
	path TEXT NOT NULL,
	size INTEGER NOT NULL,
	mod_time INTEGER NOT NULL,
	dates TEXT NOT NULL,
	PRIMARY KEY (source, path)
);
`

// New opens (or creates) the cache database at dbPath.
func New(dbPath string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createCacheTables); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Cache{db: db, logger: logger}, nil
}

// Get returns the stored bucket for (source, date), final or not. A missing
// or corrupt row is a miss; corrupt rows are deleted so they can be recomputed.
func (c *Cache) Get(ctx context.Context, source, date string) (models.DailyBucket, bool, error) {
	b, _, ok, err := c.lookup(ctx, source, date)
	return b, ok, err
}

func (c *Cache) lookup(ctx context.Context, source, date string) (models.DailyBucket, bool, bool, error) {
	var (
		payload []byte
		final   bool
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT payload, final FROM daily_buckets WHERE source = ? AND date = ?`,
		source, date,
	).Scan(&payload, &final)
	if errors.Is(err, sql.ErrNoRows) {
		c.misses.Add(1)
		return models.DailyBucket{}, false, false, nil
	}
	if err != nil {
		c.misses.Add(1)
		return models.DailyBucket{}, false, false, fmt.Errorf("cache get: %w", err)
	}

	b, ok := c.decode(ctx, source, date, payload)
	if !ok {
		c.misses.Add(1)
		return models.DailyBucket{}, false, false, nil
	}
	c.hits.Add(1)
	return b, final, true, nil
}

func (c *Cache) decode(ctx context.Context, source, date string, payload []byte) (models.DailyBucket, bool) {
	var b models.DailyBucket
	err := json.Unmarshal(payload, &b)
	if err == nil && (b.Source != source || b.Date != date || b.Models == nil) {
		err = errors.New("payload does not match its key")
	}
	if err == nil {
		return b, true
	}

	c.corrupt.Add(1)
	c.logger.Warn("dropping corrupt cache entry", "source", source, "date", date, "err", err)
	if _, derr := c.db.ExecContext(ctx,
		`DELETE FROM daily_buckets WHERE source = ? AND date = ?`, source, date,
	); derr != nil {
		c.logger.Warn("delete corrupt cache entry", "source", source, "date", date, "err", derr)
	}
	return models.DailyBucket{}, false
}

// Put commits b. A bucket dated before today is stored as final unless a
// final bucket already exists; one dated today or later replaces whatever
// non-final bucket is stored.
func (c *Cache) Put(ctx context.Context, b models.DailyBucket, today string) error {
	return c.put(ctx, b, b.Date < today)
}

// Stage stores b without finalizing it, so a later Put can still replace
// it. If a final bucket already exists it is returned instead and nothing is
// written. Refresh stages past dates whose raw data could not all be read.
func (c *Cache) Stage(ctx context.Context, b models.DailyBucket) (models.DailyBucket, error) {
	stored, final, ok, err := c.lookup(ctx, b.Source, b.Date)
	if err != nil {
		return b, err
	}
	if ok && final {
		return stored, nil
	}
	return b, c.put(ctx, b, false)
}

func (c *Cache) put(ctx context.Context, b models.DailyBucket, final bool) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO daily_buckets (source, date, payload, committed_at, final) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(source, date) DO UPDATE SET
			payload = excluded.payload, committed_at = excluded.committed_at, final = excluded.final
		 WHERE daily_buckets.final = 0`,
		b.Source, b.Date, payload, time.Now().UTC(), final)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// ComputeFunc builds a bucket from raw data. ok is false when the date has no usage.
type ComputeFunc func() (b models.DailyBucket, ok bool, err error)

// Read returns the bucket for (source, date) relative to today.
//
// Before today: a final bucket is returned as is; otherwise compute runs
// once and its result is committed for good. A bucket stored while its date
// was still today is not final and is recomputed here. Today or later:
// compute always runs and its result replaces the stored one.
func (c *Cache) Read(ctx context.Context, source, date, today string, compute ComputeFunc) (models.DailyBucket, bool, error) {
	if date < today {
		b, final, ok, err := c.lookup(ctx, source, date)
		if err != nil {
			c.logger.Warn("cache read failed, recomputing", "source", source, "date", date, "err", err)
		}
		if ok && final {
			return b, true, nil
		}
	}

	b, ok, err := compute()
	if err != nil || !ok {
		return models.DailyBucket{}, false, err
	}
	if err := c.Put(ctx, b, today); err != nil {
		c.logger.Warn("cache commit failed", "source", source, "date", date, "err", err)
	}
	return b, true, nil
}

// Range returns committed buckets with from <= date <= to. Empty source,
// from or to leave that bound open. Results are sorted by date then source.
func (c *Cache) Range(ctx context.Context, source, from, to string) ([]models.DailyBucket, error) {
	var (
		where []string
		args  []any
	)
	if source != "" {
		where = append(where, "source = ?")
		args = append(args, source)
	}
	if from != "" {
		where = append(where, "date >= ?")
		args = append(args, from)
	}
	if to != "" {
		where = append(where, "date <= ?")
		args = append(args, to)
	}
	query := `SELECT source, date, payload FROM daily_buckets`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += ` ORDER BY date, source`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("cache range: %w", err)
	}
	type raw struct {
		source, date string
		payload      []byte
	}
	var raws []raw
	for rows.Next() {
		var r raw
		if err := rows.Scan(&r.source, &r.date, &r.payload); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		raws = append(raws, r)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("cache range: %w", err)
	}

	out := make([]models.DailyBucket, 0, len(raws))
	for _, r := range raws {
		if b, ok := c.decode(ctx, r.source, r.date, r.payload); ok {
			out = append(out, b)
		}
	}
	return out, nil
}

// Committed returns the dates with a final bucket for source. Corrupt rows
// are dropped and left out, so their dates get recomputed.
func (c *Cache) Committed(ctx context.Context, source string) (map[string]bool, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT date, payload FROM daily_buckets WHERE source = ? AND final = 1`, source)
	if err != nil {
		return nil, fmt.Errorf("committed dates: %w", err)
	}
	payloads := make(map[string][]byte)
	for rows.Next() {
		var (
			d       string
			payload []byte
		)
		if err := rows.Scan(&d, &payload); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan date: %w", err)
		}
		payloads[d] = payload
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("committed dates: %w", err)
	}

	dates := make(map[string]bool, len(payloads))
	for d, payload := range payloads {
		if _, ok := c.decode(ctx, source, d, payload); ok {
			dates[d] = true
		}
	}
	return dates, nil
}

// DeleteFrom removes a source's non-final buckets dated on or after date.
// Refresh uses it to drop volatile buckets that no longer have raw data.
// Final buckets survive even if the clock has moved back past them.
func (c *Cache) DeleteFrom(ctx context.Context, source, date string) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM daily_buckets WHERE source = ? AND date >= ? AND final = 0`, source, date)
	if err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// Stats returns cache contents and hit/miss counters.
func (c *Cache) Stats() (models.CacheStats, error) {
	var entries, files int64
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM daily_buckets`).Scan(&entries); err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM file_index`).Scan(&files); err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return models.CacheStats{
		Entries: entries,
		Files:   files,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Corrupt: c.corrupt.Load(),
	}, nil
}

// Clear removes every bucket and the file index.
func (c *Cache) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM daily_buckets; DELETE FROM file_index;`); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}
