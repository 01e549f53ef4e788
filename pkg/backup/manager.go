// Package backup copies raw log files into local storage once per
// fingerprint and records each copy in an append-only ledger.
//
// Source files are only ever opened read-only, so a backup may run while
// the ingestion pipeline reads the same files.
package backup

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/pario-ai/toktrack/pkg/fsutil"
	"github.com/pario-ai/toktrack/pkg/models"
)

// errChanged marks a file that moved under us during the copy.
var errChanged = errors.New("file changed while copying")

// Options configures a Manager.
type Options struct {
	// Dir receives the copies, laid out as <Dir>/<source>/<rel>.<fp12>[.zst].
	Dir      string
	Compress bool
	Logger   *slog.Logger
	// Now stamps ledger rows. Defaults to time.Now.
	Now func() time.Time
}

// Manager runs backups against one ledger.
type Manager struct {
	ledger   *ledger
	dir      string
	compress bool
	logger   *slog.Logger
	now      func() time.Time
}

// New opens the ledger stored in dbPath.
func New(dbPath string, opts Options) (*Manager, error) {
	if opts.Dir == "" {
		return nil, errors.New("backup dir is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l, err := openLedger(dbPath)
	if err != nil {
		return nil, err
	}
	return &Manager{
		ledger:   l,
		dir:      opts.Dir,
		compress: opts.Compress,
		logger:   opts.Logger,
		now:      opts.Now,
	}, nil
}

// Fingerprint identifies a file by source, relative path, size and mtime.
func Fingerprint(f models.SourceFile) string {
	h := sha256.New()
	writeField(h, f.Source)
	writeField(h, f.Rel)
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(f.Size))
	binary.BigEndian.PutUint64(buf[8:], uint64(f.ModTime.UnixNano()))
	h.Write(buf[:])
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, s string) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}

// Run copies every file not yet in the ledger. Failures are collected per
// file; the run only stops early when ctx ends.
func (m *Manager) Run(ctx context.Context, files []models.SourceFile) models.BackupReport {
	report := models.BackupReport{RunID: uuid.NewString()}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			report.Failed = append(report.Failed, backupError(f, fmt.Errorf("backup interrupted: %w", err)))
			continue
		}

		fp := Fingerprint(f)
		done, err := m.ledger.has(ctx, fp)
		if err != nil {
			report.Failed = append(report.Failed, backupError(f, err))
			continue
		}
		if done {
			report.Skipped++
			continue
		}

		rec, err := m.copyFile(f, fp)
		if err != nil {
			m.logger.Warn("backup failed", "source", f.Source, "path", f.Path, "err", err)
			report.Failed = append(report.Failed, backupError(f, err))
			continue
		}
		rec.RunID = report.RunID
		added, err := m.ledger.append(ctx, rec)
		if err != nil {
			report.Failed = append(report.Failed, backupError(f, err))
			continue
		}
		if added {
			report.Copied++
		} else {
			report.Skipped++
		}
	}

	m.logger.Debug("backup finished", "run", report.RunID,
		"copied", report.Copied, "skipped", report.Skipped, "failed", len(report.Failed))
	return report
}

// Records lists ledger rows, optionally for one source.
func (m *Manager) Records(ctx context.Context, source string) ([]models.BackupRecord, error) {
	return m.ledger.records(ctx, source)
}

// Close closes the ledger.
func (m *Manager) Close() error {
	return m.ledger.close()
}

// Location is where the copy of f with fingerprint fp is stored.
func (m *Manager) Location(f models.SourceFile, fp string) string {
	name := filepath.FromSlash(f.Rel) + "." + fp[:12]
	if m.compress {
		name += ".zst"
	}
	return filepath.Join(m.dir, f.Source, name)
}

func (m *Manager) copyFile(f models.SourceFile, fp string) (models.BackupRecord, error) {
	src, err := os.Open(f.Path)
	if err != nil {
		return models.BackupRecord{}, fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	dst := m.Location(f, fp)
	sum := sha256.New()
	var n int64
	err = fsutil.WriteAtomic(dst, 0o600, func(w io.Writer) error {
		r := io.TeeReader(src, sum)
		if !m.compress {
			n, err = io.Copy(w, r)
			return err
		}
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return fmt.Errorf("zstd writer: %w", err)
		}
		if n, err = io.Copy(enc, r); err != nil {
			enc.Close()
			return err
		}
		return enc.Close()
	})
	if err != nil {
		return models.BackupRecord{}, fmt.Errorf("copy to %s: %w", dst, err)
	}

	// The fingerprint is only valid if the bytes we copied are the bytes it describes.
	fi, err := os.Stat(f.Path)
	if err != nil || n != f.Size || fi.Size() != f.Size || !fi.ModTime().Equal(f.ModTime) {
		os.Remove(dst)
		return models.BackupRecord{}, errChanged
	}

	return models.BackupRecord{
		Fingerprint:   fp,
		Source:        f.Source,
		Path:          f.Path,
		Location:      dst,
		ContentSHA256: hex.EncodeToString(sum.Sum(nil)),
		Size:          f.Size,
		ModTime:       f.ModTime,
		BackedUpAt:    m.now(),
	}, nil
}

func backupError(f models.SourceFile, err error) models.FileError {
	return models.FileError{
		Source: f.Source,
		Path:   f.Path,
		Kind:   models.KindBackup,
		Reason: err.Error(),
	}
}
