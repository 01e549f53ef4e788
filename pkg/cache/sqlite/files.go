package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pario-ai/toktrack/pkg/models"
)

// FileIndex returns the indexed files of source keyed by path.
func (c *Cache) FileIndex(ctx context.Context, source string) (map[string]models.FileIndexEntry, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT path, size, mod_time, dates FROM file_index WHERE source = ?`, source)
	if err != nil {
		return nil, fmt.Errorf("file index: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.FileIndexEntry)
	for rows.Next() {
		var (
			e     = models.FileIndexEntry{Source: source}
			mtime int64
			dates string
		)
		if err := rows.Scan(&e.Path, &e.Size, &mtime, &dates); err != nil {
			return nil, fmt.Errorf("scan file index: %w", err)
		}
		e.ModTime = time.Unix(0, mtime)
		if dates != "" {
			e.Dates = strings.Split(dates, ",")
		}
		out[e.Path] = e
	}
	return out, rows.Err()
}

// PutFiles upserts file index entries in one transaction.
func (c *Cache) PutFiles(ctx context.Context, entries []models.FileIndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put files: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO file_index (source, path, size, mod_time, dates) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(source, path) DO UPDATE SET size = excluded.size, mod_time = excluded.mod_time, dates = excluded.dates`)
	if err != nil {
		return fmt.Errorf("put files: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.Source, e.Path, e.Size, e.ModTime.UnixNano(), strings.Join(e.Dates, ",")); err != nil {
			return fmt.Errorf("put file %s: %w", e.Path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put files: %w", err)
	}
	return nil
}
