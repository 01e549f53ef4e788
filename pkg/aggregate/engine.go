package aggregate

import (
	"sort"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/pario-ai/toktrack/pkg/models"
)

var zero = decimal.Zero

// Lookup supplies per-model rates.
type Lookup interface {
	Get(model string) (models.PricingEntry, bool)
}

// Engine prices buckets into summaries. It keeps no state between calls.
type Engine struct {
	pricing Lookup
}

// New creates an Engine. A nil pricing prices everything at zero.
func New(pricing Lookup) *Engine {
	return &Engine{pricing: pricing}
}

func (e *Engine) rate(model string) (models.PricingEntry, bool) {
	if e.pricing == nil {
		return models.PricingEntry{}, false
	}
	return e.pricing.Get(model)
}

// Summarize prices buckets and rolls them up by day, by model, and overall.
// Usage without a logged cost and without a known rate costs zero and is
// counted in Summary.MissingPricing.
func (e *Engine) Summarize(buckets []models.DailyBucket) models.Summary {
	sorted := append([]models.DailyBucket(nil), buckets...)
	SortBuckets(sorted)

	sum := models.Summary{
		Daily:  make([]models.DailySummary, 0, len(sorted)),
		Totals: models.Totals{CostUSD: zero},
	}
	byModel := make(map[string]*models.ModelSummary)
	modelDays := make(map[string]map[string]struct{})
	missing := make(map[string]int64)

	for _, b := range sorted {
		day := models.DailySummary{Source: b.Source, Date: b.Date, Records: b.Records, CostUSD: zero}
		names := lo.Keys(b.Models)
		sort.Strings(names)
		for _, name := range names {
			u := b.Models[name]
			cost := u.LoggedUSD
			rate, ok := e.rate(name)
			switch {
			case ok:
				cost = cost.Add(rate.Cost(u.Unpriced))
			case u.UnpricedRecords > 0:
				missing[name] += u.UnpricedRecords
			}

			day.Models = append(day.Models, models.ModelCost{Model: name, Tokens: u.Tokens, Records: u.Records, CostUSD: cost})
			day.Tokens = day.Tokens.Add(u.Tokens)
			day.CostUSD = day.CostUSD.Add(cost)

			ms, found := byModel[name]
			if !found {
				ms = &models.ModelSummary{Model: name, DisplayName: models.DisplayName(name), CostUSD: zero}
				byModel[name] = ms
				modelDays[name] = make(map[string]struct{})
			}
			ms.Tokens = ms.Tokens.Add(u.Tokens)
			ms.Records += u.Records
			ms.CostUSD = ms.CostUSD.Add(cost)
			modelDays[name][b.Date] = struct{}{}
		}
		sum.Daily = append(sum.Daily, day)
		sum.Totals.Tokens = sum.Totals.Tokens.Add(day.Tokens)
		sum.Totals.Records += day.Records
		sum.Totals.CostUSD = sum.Totals.CostUSD.Add(day.CostUSD)
	}

	for name, ms := range byModel {
		ms.ActiveDays = len(modelDays[name])
		ms.MissingPricing = missing[name] > 0
		sum.Models = append(sum.Models, *ms)
	}
	sort.Slice(sum.Models, func(i, j int) bool {
		a, b := sum.Models[i], sum.Models[j]
		if !a.CostUSD.Equal(b.CostUSD) {
			return a.CostUSD.GreaterThan(b.CostUSD)
		}
		if a.Tokens.Total() != b.Tokens.Total() {
			return a.Tokens.Total() > b.Tokens.Total()
		}
		return a.Model < b.Model
	})
	if len(missing) > 0 {
		sum.MissingPricing = missing
	}
	return sum
}

// ByDate collapses per-source daily rows into one row per date.
func ByDate(daily []models.DailySummary) []models.DailySummary {
	idx := make(map[string]int)
	var out []models.DailySummary
	for _, d := range daily {
		i, ok := idx[d.Date]
		if !ok {
			idx[d.Date] = len(out)
			out = append(out, models.DailySummary{Date: d.Date, CostUSD: decimal.Zero})
			i = len(out) - 1
		}
		row := &out[i]
		row.Tokens = row.Tokens.Add(d.Tokens)
		row.Records += d.Records
		row.CostUSD = row.CostUSD.Add(d.CostUSD)
		row.Models = mergeModelCosts(row.Models, d.Models)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func mergeModelCosts(dst, src []models.ModelCost) []models.ModelCost {
	for _, m := range src {
		_, i, ok := lo.FindIndexOf(dst, func(c models.ModelCost) bool { return c.Model == m.Model })
		if !ok {
			dst = append(dst, m)
			continue
		}
		dst[i].Tokens = dst[i].Tokens.Add(m.Tokens)
		dst[i].Records += m.Records
		dst[i].CostUSD = dst[i].CostUSD.Add(m.CostUSD)
	}
	sort.Slice(dst, func(i, j int) bool { return dst[i].Model < dst[j].Model })
	return dst
}
