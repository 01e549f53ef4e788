package models

import "time"

// CacheStats reports summary cache contents and performance.
type CacheStats struct {
	Entries int64 `json:"entries"`
	Files   int64 `json:"files"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Corrupt int64 `json:"corrupt"`
}

// FileIndexEntry records which dates a raw file contributed to when it was last parsed.
type FileIndexEntry struct {
	Source  string    `json:"source"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	Dates   []string  `json:"dates"`
}

// Unchanged reports whether f still matches the indexed size and mtime.
func (e FileIndexEntry) Unchanged(f SourceFile) bool {
	return e.Size == f.Size && e.ModTime.Equal(f.ModTime)
}
