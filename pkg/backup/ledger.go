package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/toktrack/pkg/models"
)

// ledger is the append-only record of completed copies, unique per fingerprint.
type ledger struct {
	db *sql.DB
}

func openLedger(dbPath string) (*ledger, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open backup ledger: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate backup ledger: %w", err)
	}
	return &ledger{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS backup_ledger (
		fingerprint    TEXT PRIMARY KEY,
		run_id         TEXT NOT NULL,
		source         TEXT NOT NULL,
		path           TEXT NOT NULL,
		location       TEXT NOT NULL,
		content_sha256 TEXT NOT NULL,
		size           INTEGER NOT NULL,
		mod_time       INTEGER NOT NULL,
		backed_up_at   DATETIME NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_backup_source ON backup_ledger(source, path)`)
	return err
}

func (l *ledger) has(ctx context.Context, fingerprint string) (bool, error) {
	var one int
	err := l.db.QueryRowContext(ctx,
		`SELECT 1 FROM backup_ledger WHERE fingerprint = ?`, fingerprint).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger lookup: %w", err)
	}
	return true, nil
}

// append inserts r unless its fingerprint is already recorded. It reports
// whether a row was added.
func (l *ledger) append(ctx context.Context, r models.BackupRecord) (bool, error) {
	res, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO backup_ledger
		(fingerprint, run_id, source, path, location, content_sha256, size, mod_time, backed_up_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Fingerprint, r.RunID, r.Source, r.Path, r.Location,
		r.ContentSHA256, r.Size, r.ModTime.UnixNano(), r.BackedUpAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("ledger append: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ledger append: %w", err)
	}
	return n > 0, nil
}

func (l *ledger) records(ctx context.Context, source string) ([]models.BackupRecord, error) {
	q := `SELECT fingerprint, run_id, source, path, location, content_sha256, size, mod_time, backed_up_at
		FROM backup_ledger`
	var args []any
	if source != "" {
		q += " WHERE source = ?"
		args = append(args, source)
	}
	q += " ORDER BY source, path, mod_time"

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var out []models.BackupRecord
	for rows.Next() {
		var (
			r     models.BackupRecord
			mtime int64
		)
		if err := rows.Scan(&r.Fingerprint, &r.RunID, &r.Source, &r.Path, &r.Location,
			&r.ContentSHA256, &r.Size, &mtime, &r.BackedUpAt); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		r.ModTime = time.Unix(0, mtime)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (l *ledger) close() error {
	return l.db.Close()
}
