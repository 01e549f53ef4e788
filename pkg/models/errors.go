package models

import "fmt"

// ErrorKind classifies a recorded failure.
type ErrorKind string

// Only KindConfig is fatal; it is returned as an error before any work
// starts. Every other kind is recorded as a FileError and the run goes on.
const (
	KindFileAccess ErrorKind = "file_access"
	KindParse      ErrorKind = "parse"
	KindCache      ErrorKind = "cache"
	KindPricing    ErrorKind = "pricing"
	KindBackup     ErrorKind = "backup"
	KindConfig     ErrorKind = "config"
)

// FileError is a non-fatal failure tied to one file.
type FileError struct {
	Source string    `json:"source"`
	Path   string    `json:"path"`
	Line   int       `json:"line,omitempty"`
	Kind   ErrorKind `json:"kind"`
	Reason string    `json:"reason"`
}

func (e FileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s: %s:%d: %s", e.Kind, e.Path, e.Line, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Path, e.Reason)
}
