package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ModelUsage is the per-model slice of a DailyBucket.
//
// Unpriced covers entries without a logged cost; they are priced from the
// rate table whenever a summary is built. Logged costs accumulate in LoggedUSD.
type ModelUsage struct {
	Tokens          TokenUsage      `json:"tokens"`
	Records         int64           `json:"records"`
	Unpriced        TokenUsage      `json:"unpriced_tokens"`
	UnpricedRecords int64           `json:"unpriced_records"`
	LoggedUSD       decimal.Decimal `json:"logged_cost_usd"`
}

// Merge returns the sum of m and o.
func (m ModelUsage) Merge(o ModelUsage) ModelUsage {
	return ModelUsage{
		Tokens:          m.Tokens.Add(o.Tokens),
		Records:         m.Records + o.Records,
		Unpriced:        m.Unpriced.Add(o.Unpriced),
		UnpricedRecords: m.UnpricedRecords + o.UnpricedRecords,
		LoggedUSD:       m.LoggedUSD.Add(o.LoggedUSD),
	}
}

// DailyBucket aggregates one source on one calendar date.
type DailyBucket struct {
	Source  string                `json:"source"`
	Date    string                `json:"date"`
	Models  map[string]ModelUsage `json:"models"`
	Records int64                 `json:"records"`
}

// Tokens returns the bucket total across models.
func (b DailyBucket) Tokens() TokenUsage {
	var t TokenUsage
	for _, m := range b.Models {
		t = t.Add(m.Tokens)
	}
	return t
}

// ModelCost is one model's priced usage on a given day.
type ModelCost struct {
	Model   string          `json:"model"`
	Tokens  TokenUsage      `json:"tokens"`
	Records int64           `json:"records"`
	CostUSD decimal.Decimal `json:"cost_usd"`
}

// DailySummary is a priced DailyBucket.
type DailySummary struct {
	Source  string          `json:"source"`
	Date    string          `json:"date"`
	Tokens  TokenUsage      `json:"tokens"`
	Records int64           `json:"records"`
	CostUSD decimal.Decimal `json:"cost_usd"`
	Models  []ModelCost     `json:"models"`
}

// ModelSummary aggregates one model across dates and sources.
type ModelSummary struct {
	Model          string          `json:"model"`
	DisplayName    string          `json:"display_name"`
	Tokens         TokenUsage      `json:"tokens"`
	Records        int64           `json:"records"`
	CostUSD        decimal.Decimal `json:"cost_usd"`
	ActiveDays     int             `json:"active_days"`
	MissingPricing bool            `json:"missing_pricing,omitempty"`
}

// Totals is the overall aggregate.
type Totals struct {
	Tokens  TokenUsage      `json:"tokens"`
	Records int64           `json:"records"`
	CostUSD decimal.Decimal `json:"cost_usd"`
}

// Summary is an immutable aggregate snapshot.
type Summary struct {
	Daily  []DailySummary `json:"daily"`
	Models []ModelSummary `json:"models"`
	Totals Totals         `json:"totals"`
	// MissingPricing counts unpriced records per model that had no rate.
	MissingPricing map[string]int64 `json:"missing_pricing,omitempty"`
}

// PeriodSummary is a weekly or monthly rollup.
type PeriodSummary struct {
	Period  string          `json:"period"`
	Start   string          `json:"start"`
	End     string          `json:"end"`
	Tokens  TokenUsage      `json:"tokens"`
	Records int64           `json:"records"`
	CostUSD decimal.Decimal `json:"cost_usd"`
	Models  []string        `json:"models"`
}

// Stats are headline figures over a summary.
type Stats struct {
	FirstDate        string          `json:"first_date,omitempty"`
	LastDate         string          `json:"last_date,omitempty"`
	TotalDays        int             `json:"total_days"`
	ActiveDays       int             `json:"active_days"`
	TotalTokens      int64           `json:"total_tokens"`
	TotalCostUSD     decimal.Decimal `json:"total_cost_usd"`
	AvgTokensPerDay  int64           `json:"avg_tokens_per_day"`
	AvgCostPerDayUSD decimal.Decimal `json:"avg_cost_per_day_usd"`
	PeakDate         string          `json:"peak_date,omitempty"`
	PeakTokens       int64           `json:"peak_tokens"`
}

// Report is the result of one refresh.
type Report struct {
	GeneratedAt      time.Time     `json:"generated_at"`
	Today            string        `json:"today"`
	Summary          Summary       `json:"summary"`
	FileErrors       []FileError   `json:"file_errors,omitempty"`
	SkippedRecords   int64         `json:"skipped_records"`
	FilesParsed      int           `json:"files_parsed"`
	FilesReused      int           `json:"files_reused"`
	PricingStale     bool          `json:"pricing_stale"`
	PricingFetchedAt *time.Time    `json:"pricing_fetched_at,omitempty"`
	Partial          bool          `json:"partial"`
	Warnings         []string      `json:"warnings,omitempty"`
	Backup           *BackupReport `json:"backup,omitempty"`
}
