package aggregate

import (
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pario-ai/toktrack/pkg/models"
)

type fakePricing map[string]models.PricingEntry

func (f fakePricing) Get(model string) (models.PricingEntry, bool) {
	p, ok := f[model]
	return p, ok
}

func entry(source, ts, model string, in, out int64) models.UsageEntry {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		panic(err)
	}
	return models.NewUsageEntry(source, t, model, models.TokenUsage{Input: in, Output: out})
}

func sampleEntries() []models.UsageEntry {
	return []models.UsageEntry{
		entry("claude-code", "2025-01-10T10:00:00Z", "model-a", 10, 5),
		entry("claude-code", "2025-01-10T11:00:00Z", "model-a", 10, 5),
		entry("claude-code", "2025-01-10T12:00:00Z", "model-b", 100, 50),
		entry("claude-code", "2025-01-11T09:00:00Z", "model-a", 1, 1),
		entry("codex", "2025-01-10T09:00:00Z", "gpt-5", 7, 3),
		entry("codex", "2025-01-12T23:30:00Z", "gpt-5", 2, 2),
	}
}

func TestFold(t *testing.T) {
	p := Fold(sampleEntries(), time.UTC)
	if len(p) != 4 {
		t.Fatalf("expected 4 buckets, got %d", len(p))
	}
	b := p[Key{Source: "claude-code", Date: "2025-01-10"}]
	if b.Records != 3 {
		t.Errorf("expected 3 records, got %d", b.Records)
	}
	a := b.Models["model-a"]
	if a.Tokens.Input != 20 || a.Tokens.Output != 10 || a.Records != 2 {
		t.Errorf("unexpected model-a usage %+v", a)
	}
}

func TestFoldUsesLocation(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	p := Fold([]models.UsageEntry{entry("codex", "2025-01-12T23:30:00Z", "gpt-5", 1, 1)}, tokyo)
	if _, ok := p[Key{Source: "codex", Date: "2025-01-13"}]; !ok {
		t.Errorf("expected entry on 2025-01-13 in Tokyo, got %v", p)
	}
}

func TestFoldCommutative(t *testing.T) {
	entries := sampleEntries()
	want := Fold(entries, time.UTC)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		shuffled := append([]models.UsageEntry(nil), entries...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		cut := rng.Intn(len(shuffled) + 1)
		left := Fold(shuffled[:cut], time.UTC)
		right := Fold(shuffled[cut:], time.UTC)

		if got := Merge(right, left); !samePartial(got, want) {
			t.Fatalf("split at %d: merged result differs\n got %+v\nwant %+v", cut, got, want)
		}
	}
}

func samePartial(a, b Partial) bool {
	if len(a) != len(b) {
		return false
	}
	for k, ab := range a {
		bb, ok := b[k]
		if !ok || ab.Records != bb.Records || len(ab.Models) != len(bb.Models) {
			return false
		}
		for m, au := range ab.Models {
			bu, ok := bb.Models[m]
			if !ok || au.Tokens != bu.Tokens || au.Records != bu.Records ||
				au.Unpriced != bu.Unpriced || au.UnpricedRecords != bu.UnpricedRecords ||
				!au.LoggedUSD.Equal(bu.LoggedUSD) {
				return false
			}
		}
	}
	return true
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	a := Fold(sampleEntries()[:2], time.UTC)
	b := Fold(sampleEntries()[:2], time.UTC)
	before := a[Key{Source: "claude-code", Date: "2025-01-10"}].Records
	_ = Merge(a, b)
	if got := a[Key{Source: "claude-code", Date: "2025-01-10"}].Records; got != before {
		t.Errorf("Merge mutated input: %d -> %d", before, got)
	}
}

func TestSummarizePricing(t *testing.T) {
	pricing := fakePricing{
		"model-a": {Model: "model-a", Input: decimal.RequireFromString("0.001"), Output: decimal.RequireFromString("0.002")},
	}
	entries := sampleEntries()
	entries = append(entries, entry("claude-code", "2025-01-11T10:00:00Z", "model-a", 1000, 0).WithCost(decimal.RequireFromString("0.5")))

	sum := New(pricing).Summarize(Fold(entries, time.UTC).Buckets())

	// model-a: 21 in, 11 out priced + 0.5 logged = 0.021 + 0.022 + 0.5
	var a models.ModelSummary
	for _, m := range sum.Models {
		if m.Model == "model-a" {
			a = m
		}
	}
	if !a.CostUSD.Equal(decimal.RequireFromString("0.543")) {
		t.Errorf("expected model-a cost 0.543, got %s", a.CostUSD)
	}
	if a.ActiveDays != 2 {
		t.Errorf("expected 2 active days, got %d", a.ActiveDays)
	}
	if a.MissingPricing {
		t.Error("model-a has a rate")
	}

	if sum.MissingPricing["model-b"] != 1 || sum.MissingPricing["gpt-5"] != 2 {
		t.Errorf("unexpected missing pricing tally %v", sum.MissingPricing)
	}
	if !sum.Totals.CostUSD.Equal(a.CostUSD) {
		t.Errorf("unpriced models should cost zero; total %s", sum.Totals.CostUSD)
	}
	if sum.Totals.Records != 7 {
		t.Errorf("expected 7 records, got %d", sum.Totals.Records)
	}
	if len(sum.Daily) != 4 || sum.Daily[0].Date != "2025-01-10" || sum.Daily[0].Source != "claude-code" {
		t.Errorf("unexpected daily ordering %+v", sum.Daily)
	}
}

func TestSummarizeNilPricing(t *testing.T) {
	sum := New(nil).Summarize(Fold(sampleEntries(), time.UTC).Buckets())
	if !sum.Totals.CostUSD.IsZero() {
		t.Errorf("expected zero cost, got %s", sum.Totals.CostUSD)
	}
	if len(sum.MissingPricing) != 3 {
		t.Errorf("expected 3 unpriced models, got %v", sum.MissingPricing)
	}
}

func TestByDateAndRollups(t *testing.T) {
	sum := New(nil).Summarize(Fold(sampleEntries(), time.UTC).Buckets())

	days := ByDate(sum.Daily)
	if len(days) != 3 {
		t.Fatalf("expected 3 dates, got %d", len(days))
	}
	if days[0].Tokens.Total() != 190 {
		t.Errorf("expected 190 tokens on 2025-01-10, got %d", days[0].Tokens.Total())
	}

	weeks := Weekly(sum.Daily)
	// 2025-01-10 (Fri) and 01-11 (Sat) are W02; 01-12 (Sun) too.
	if len(weeks) != 1 || weeks[0].Period != "2025-W02" || weeks[0].Start != "2025-01-06" || weeks[0].End != "2025-01-12" {
		t.Errorf("unexpected weeks %+v", weeks)
	}
	if weeks[0].Records != 6 {
		t.Errorf("expected 6 records, got %d", weeks[0].Records)
	}

	months := Monthly(sum.Daily)
	if len(months) != 1 || months[0].Period != "2025-01" || months[0].End != "2025-01-31" {
		t.Errorf("unexpected months %+v", months)
	}
	if !reflect.DeepEqual(months[0].Models, []string{"gpt-5", "model-a", "model-b"}) {
		t.Errorf("unexpected month models %v", months[0].Models)
	}
}

func TestStats(t *testing.T) {
	sum := New(nil).Summarize(Fold(sampleEntries(), time.UTC).Buckets())
	st := Stats(sum.Daily)
	if st.TotalDays != 3 || st.ActiveDays != 3 {
		t.Errorf("expected 3/3 days, got %d/%d", st.TotalDays, st.ActiveDays)
	}
	if st.PeakDate != "2025-01-10" || st.PeakTokens != 190 {
		t.Errorf("unexpected peak %s %d", st.PeakDate, st.PeakTokens)
	}
	if st.TotalTokens != 196 || st.AvgTokensPerDay != 65 {
		t.Errorf("unexpected totals %d avg %d", st.TotalTokens, st.AvgTokensPerDay)
	}

	if empty := Stats(nil); empty.ActiveDays != 0 || empty.FirstDate != "" {
		t.Errorf("expected empty stats, got %+v", empty)
	}
}
