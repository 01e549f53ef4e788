package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/pario-ai/toktrack/pkg/models"
)

// ErrRootMissing reports that a source's data directory does not exist.
// Callers treat it as "no files", not as a failure.
var ErrRootMissing = errors.New("source root does not exist")

// Discover walks desc.Root and returns the files whose slash-separated
// relative path matches desc.Pattern, sorted by path.
func Discover(ctx context.Context, desc models.SourceDescriptor) ([]models.SourceFile, error) {
	info, err := os.Stat(desc.Root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("discover %s: %s: %w", desc.ID, desc.Root, ErrRootMissing)
	}
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", desc.ID, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("discover %s: %s is not a directory", desc.ID, desc.Root)
	}

	var files []models.SourceFile
	err = filepath.WalkDir(desc.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subdirectories are skipped; the rest of the tree is still useful.
			if d != nil && d.IsDir() && path != desc.Root {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(desc.Root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		ok, err := doublestar.Match(desc.Pattern, rel)
		if err != nil {
			return fmt.Errorf("match %q: %w", desc.Pattern, err)
		}
		if !ok {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, models.SourceFile{
			Source:  desc.ID,
			Path:    path,
			Rel:     rel,
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
		return nil
	})
	if err != nil {
		return files, fmt.Errorf("discover %s: %w", desc.ID, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}
