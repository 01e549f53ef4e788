package models

import "time"

// BackupRecord is a ledger row proving a raw file has been copied.
type BackupRecord struct {
	Fingerprint   string    `json:"fingerprint"`
	RunID         string    `json:"run_id"`
	Source        string    `json:"source"`
	Path          string    `json:"path"`
	Location      string    `json:"location"`
	ContentSHA256 string    `json:"content_sha256"`
	Size          int64     `json:"size"`
	ModTime       time.Time `json:"mod_time"`
	BackedUpAt    time.Time `json:"backed_up_at"`
}

// BackupReport summarizes one backup run.
type BackupReport struct {
	RunID   string      `json:"run_id"`
	Copied  int         `json:"copied"`
	Skipped int         `json:"skipped"`
	Failed  []FileError `json:"failed,omitempty"`
}
