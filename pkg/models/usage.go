package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TokenUsage holds the four token counters every source reports.
type TokenUsage struct {
	Input         int64 `json:"input_tokens"`
	Output        int64 `json:"output_tokens"`
	CacheCreation int64 `json:"cache_creation_tokens"`
	CacheRead     int64 `json:"cache_read_tokens"`
}

// Total returns the sum of all counters.
func (u TokenUsage) Total() int64 {
	return u.Input + u.Output + u.CacheCreation + u.CacheRead
}

// Add returns the field-wise sum of u and o.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		Input:         u.Input + o.Input,
		Output:        u.Output + o.Output,
		CacheCreation: u.CacheCreation + o.CacheCreation,
		CacheRead:     u.CacheRead + o.CacheRead,
	}
}

// IsZero reports whether every counter is zero.
func (u TokenUsage) IsZero() bool {
	return u == TokenUsage{}
}

// UsageEntry is one normalized usage record extracted from a log file.
// Values are never mutated after NewUsageEntry returns them.
type UsageEntry struct {
	Source    string     `json:"source"`
	Timestamp time.Time  `json:"timestamp"`
	Model     string     `json:"model"`
	Tokens    TokenUsage `json:"tokens"`
	// Cost is set when the log line carried its own USD figure.
	Cost decimal.NullDecimal `json:"cost_usd"`
	// DedupKey identifies the same API response logged more than once.
	DedupKey string `json:"-"`
}

// NewUsageEntry builds an entry with a normalized model label.
func NewUsageEntry(source string, ts time.Time, model string, tokens TokenUsage) UsageEntry {
	return UsageEntry{
		Source:    source,
		Timestamp: ts,
		Model:     NormalizeModel(model),
		Tokens:    tokens,
	}
}

// WithCost returns a copy of e carrying a precomputed cost.
func (e UsageEntry) WithCost(usd decimal.Decimal) UsageEntry {
	e.Cost = decimal.NewNullDecimal(usd)
	return e
}

// WithDedupKey returns a copy of e carrying a dedup key.
func (e UsageEntry) WithDedupKey(key string) UsageEntry {
	e.DedupKey = key
	return e
}

// Date returns the calendar date of the entry in loc as YYYY-MM-DD.
func (e UsageEntry) Date(loc *time.Location) string {
	return e.Timestamp.In(loc).Format(DateLayout)
}

// DateLayout is the layout of every date key.
const DateLayout = "2006-01-02"
