package mcp

import (
	"fmt"
	"strings"

	"github.com/pario-ai/toktrack/pkg/models"
)

func formatDaily(rows []models.DailySummary) string {
	if len(rows) == 0 {
		return "No usage data found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %12s %12s %12s %12s %10s\n",
		"Date", "Input", "Output", "Cache Write", "Cache Read", "Cost")
	b.WriteString(strings.Repeat("-", 73) + "\n")
	var total models.TokenUsage
	for _, r := range rows {
		fmt.Fprintf(&b, "%-10s %12d %12d %12d %12d %10s\n",
			r.Date, r.Tokens.Input, r.Tokens.Output, r.Tokens.CacheCreation, r.Tokens.CacheRead,
			"$"+r.CostUSD.StringFixed(2))
		total = total.Add(r.Tokens)
	}
	fmt.Fprintf(&b, "%d days, %d tokens\n", len(rows), total.Total())
	return b.String()
}

func formatModels(rows []models.ModelSummary) string {
	if len(rows) == 0 {
		return "No usage data found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-28s %8s %14s %6s %10s\n", "Model", "Records", "Tokens", "Days", "Cost")
	b.WriteString(strings.Repeat("-", 70) + "\n")
	for _, m := range rows {
		cost := "$" + m.CostUSD.StringFixed(2)
		if m.MissingPricing {
			cost += "*"
		}
		fmt.Fprintf(&b, "%-28s %8d %14d %6d %10s\n",
			m.DisplayName, m.Records, m.Tokens.Total(), m.ActiveDays, cost)
	}
	return b.String()
}

func formatStats(st models.Stats) string {
	if st.ActiveDays == 0 {
		return "No usage data found."
	}
	return fmt.Sprintf("Usage Statistics\n"+
		"  Period:       %s to %s (%d days, %d active)\n"+
		"  Total tokens: %d\n"+
		"  Total cost:   $%s\n"+
		"  Daily avg:    %d tokens, $%s\n"+
		"  Peak day:     %s (%d tokens)\n",
		st.FirstDate, st.LastDate, st.TotalDays, st.ActiveDays,
		st.TotalTokens,
		st.TotalCostUSD.StringFixed(2),
		st.AvgTokensPerDay, st.AvgCostPerDayUSD.StringFixed(2),
		st.PeakDate, st.PeakTokens)
}

func formatReport(rep *models.Report) string {
	var b strings.Builder
	t := rep.Summary.Totals
	fmt.Fprintf(&b, "Refreshed %d files (%d reused from cache)\n", rep.FilesParsed, rep.FilesReused)
	fmt.Fprintf(&b, "  Days:    %d\n", len(rep.Summary.Daily))
	fmt.Fprintf(&b, "  Records: %d\n", t.Records)
	fmt.Fprintf(&b, "  Tokens:  %d\n", t.Tokens.Total())
	fmt.Fprintf(&b, "  Cost:    $%s\n", t.CostUSD.StringFixed(2))
	if rep.Partial {
		b.WriteString("  Result is partial: the deadline expired before every file was parsed.\n")
	}
	if rep.PricingStale {
		b.WriteString("  Pricing is stale; costs use the last known rates.\n")
	}
	if rep.SkippedRecords > 0 {
		fmt.Fprintf(&b, "  Skipped records: %d\n", rep.SkippedRecords)
	}
	if n := len(rep.FileErrors); n > 0 {
		fmt.Fprintf(&b, "  File errors: %d\n", n)
		for i, fe := range rep.FileErrors {
			if i == 10 {
				fmt.Fprintf(&b, "    ... %d more\n", n-i)
				break
			}
			fmt.Fprintf(&b, "    %s\n", fe.Error())
		}
	}
	return b.String()
}

func formatCacheStats(stats models.CacheStats) string {
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	return fmt.Sprintf("Cache Statistics\n"+
		"  Entries:  %d\n"+
		"  Files:    %d\n"+
		"  Hits:     %d\n"+
		"  Misses:   %d\n"+
		"  Corrupt:  %d\n"+
		"  Hit Rate: %.1f%%\n",
		stats.Entries, stats.Files, stats.Hits, stats.Misses, stats.Corrupt, hitRate)
}
