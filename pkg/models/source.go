package models

import "time"

// FormatKind describes how a log file splits into records.
type FormatKind string

const (
	// FormatJSONL files hold one JSON record per line.
	FormatJSONL FormatKind = "jsonl"
	// FormatJSON files are a single JSON document.
	FormatJSON FormatKind = "json"
)

// Valid reports whether k is a known format.
func (k FormatKind) Valid() bool {
	return k == FormatJSONL || k == FormatJSON
}

// SourceDescriptor identifies one supported log source and where its files live.
type SourceDescriptor struct {
	ID      string     `json:"id" yaml:"id"`
	Root    string     `json:"root" yaml:"root"`
	Pattern string     `json:"pattern" yaml:"pattern"`
	Format  FormatKind `json:"format" yaml:"format"`
}

// SourceFile is a discovered log file.
type SourceFile struct {
	Source  string    `json:"source"`
	Path    string    `json:"path"`
	Rel     string    `json:"rel"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}
