package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricingEntry holds per-token USD rates for one model.
type PricingEntry struct {
	Model         string          `json:"model"`
	Input         decimal.Decimal `json:"input_cost_per_token"`
	Output        decimal.Decimal `json:"output_cost_per_token"`
	CacheCreation decimal.Decimal `json:"cache_creation_input_token_cost"`
	CacheRead     decimal.Decimal `json:"cache_read_input_token_cost"`
}

// Cost prices u at the entry's rates.
func (p PricingEntry) Cost(u TokenUsage) decimal.Decimal {
	return p.Input.Mul(decimal.NewFromInt(u.Input)).
		Add(p.Output.Mul(decimal.NewFromInt(u.Output))).
		Add(p.CacheCreation.Mul(decimal.NewFromInt(u.CacheCreation))).
		Add(p.CacheRead.Mul(decimal.NewFromInt(u.CacheRead)))
}

// PricingSnapshot is the persisted rate table with its fetch time.
// AttemptedAt is the last fetch attempt, successful or not.
type PricingSnapshot struct {
	FetchedAt   time.Time               `json:"fetched_at"`
	AttemptedAt time.Time               `json:"attempted_at,omitempty"`
	Source      string                  `json:"source,omitempty"`
	Entries     map[string]PricingEntry `json:"entries"`
}
