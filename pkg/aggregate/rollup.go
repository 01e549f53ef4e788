package aggregate

import (
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/pario-ai/toktrack/pkg/models"
)

// Weekly groups daily rows into ISO weeks starting Monday.
func Weekly(daily []models.DailySummary) []models.PeriodSummary {
	return rollup(daily, func(t time.Time) (string, time.Time, time.Time) {
		year, week := t.ISOWeek()
		offset := (int(t.Weekday()) + 6) % 7
		start := t.AddDate(0, 0, -offset)
		return fmt.Sprintf("%04d-W%02d", year, week), start, start.AddDate(0, 0, 6)
	})
}

// Monthly groups daily rows by calendar month.
func Monthly(daily []models.DailySummary) []models.PeriodSummary {
	return rollup(daily, func(t time.Time) (string, time.Time, time.Time) {
		start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start.Format("2006-01"), start, start.AddDate(0, 1, -1)
	})
}

func rollup(daily []models.DailySummary, period func(time.Time) (string, time.Time, time.Time)) []models.PeriodSummary {
	acc := make(map[string]*models.PeriodSummary)
	names := make(map[string][]string)
	for _, d := range daily {
		t, err := time.Parse(models.DateLayout, d.Date)
		if err != nil {
			continue
		}
		key, start, end := period(t)
		p, ok := acc[key]
		if !ok {
			p = &models.PeriodSummary{
				Period:  key,
				Start:   start.Format(models.DateLayout),
				End:     end.Format(models.DateLayout),
				CostUSD: decimal.Zero,
			}
			acc[key] = p
		}
		p.Tokens = p.Tokens.Add(d.Tokens)
		p.Records += d.Records
		p.CostUSD = p.CostUSD.Add(d.CostUSD)
		for _, m := range d.Models {
			names[key] = append(names[key], m.Model)
		}
	}

	out := make([]models.PeriodSummary, 0, len(acc))
	for key, p := range acc {
		p.Models = lo.Uniq(names[key])
		sort.Strings(p.Models)
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// Stats computes headline figures. Averages are per active day.
func Stats(daily []models.DailySummary) models.Stats {
	days := ByDate(daily)
	st := models.Stats{TotalCostUSD: decimal.Zero, AvgCostPerDayUSD: decimal.Zero}
	if len(days) == 0 {
		return st
	}
	st.FirstDate = days[0].Date
	st.LastDate = days[len(days)-1].Date
	first, _ := time.Parse(models.DateLayout, st.FirstDate)
	last, _ := time.Parse(models.DateLayout, st.LastDate)
	st.TotalDays = int(last.Sub(first).Hours()/24) + 1

	for _, d := range days {
		total := d.Tokens.Total()
		if total == 0 && d.Records == 0 {
			continue
		}
		st.ActiveDays++
		st.TotalTokens += total
		st.TotalCostUSD = st.TotalCostUSD.Add(d.CostUSD)
		if total > st.PeakTokens {
			st.PeakTokens = total
			st.PeakDate = d.Date
		}
	}
	if st.ActiveDays > 0 {
		st.AvgTokensPerDay = st.TotalTokens / int64(st.ActiveDays)
		st.AvgCostPerDayUSD = st.TotalCostUSD.Div(decimal.NewFromInt(int64(st.ActiveDays))).Round(6)
	}
	return st
}
