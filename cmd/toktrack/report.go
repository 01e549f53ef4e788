package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/pario-ai/toktrack/pkg/models"
	"github.com/pario-ai/toktrack/pkg/tracker"
)

// queryFlags are shared by the report commands.
type queryFlags struct {
	json      bool
	since     string
	until     string
	source    string
	model     string
	noRefresh bool
}

func (f *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.json, "json", false, "print JSON instead of a table")
	cmd.Flags().StringVar(&f.since, "since", "", "first date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.until, "until", "", "last date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.source, "source", "", "only this source id")
	cmd.Flags().StringVar(&f.model, "model", "", "only this model")
	cmd.Flags().BoolVar(&f.noRefresh, "no-refresh", false, "answer from the cache without reading raw logs")
}

func (f *queryFlags) query() (tracker.Query, error) {
	for _, d := range []struct{ flag, value string }{{"--since", f.since}, {"--until", f.until}} {
		if d.value == "" {
			continue
		}
		if _, err := time.Parse(models.DateLayout, d.value); err != nil {
			return tracker.Query{}, fmt.Errorf("invalid %s date (use YYYY-MM-DD): %w", d.flag, err)
		}
	}
	q := tracker.Query{From: f.since, To: f.until, Model: f.model}
	if f.source != "" {
		q.Sources = []string{f.source}
	}
	return q, nil
}

// runReport refreshes unless told not to, then runs fn against the service.
func runReport(cmd *cobra.Command, g *globalFlags, f *queryFlags, fn func(ctx context.Context, svc *tracker.Service, q tracker.Query) error) error {
	q, err := f.query()
	if err != nil {
		return err
	}
	svc, _, err := g.open()
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx := cmd.Context()
	if !f.noRefresh {
		rep, err := svc.Refresh(ctx, tracker.RefreshOptions{Deadline: g.deadline, Sources: q.Sources})
		if err != nil {
			return err
		}
		logReport(rep)
	}
	return fn(ctx, svc, q)
}

// logReport surfaces what a refresh skipped.
func logReport(rep *models.Report) {
	for _, fe := range rep.FileErrors {
		slog.Debug("skipped", "kind", fe.Kind, "path", fe.Path, "line", fe.Line, "reason", fe.Reason)
	}
	if n := len(rep.FileErrors); n > 0 {
		slog.Warn("some input was skipped", "file_errors", n, "records", rep.SkippedRecords)
	}
	for _, w := range rep.Warnings {
		slog.Warn(w)
	}
	if rep.Backup != nil && len(rep.Backup.Failed) > 0 {
		slog.Warn("backup incomplete", "failed", len(rep.Backup.Failed))
	}
	slog.Debug("refresh done", "parsed", rep.FilesParsed, "reused", rep.FilesReused, "partial", rep.Partial)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usd(d decimal.Decimal) string {
	r := d.Round(2)
	whole := r.Truncate(0)
	cents := r.Sub(whole).Abs().StringFixed(2)
	return "$" + humanize.Comma(whole.IntPart()) + cents[1:]
}

func num(n int64) string { return humanize.Comma(n) }

func newDailyCmd(g *globalFlags) *cobra.Command {
	f := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "daily",
		Short: "Show usage per day",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, g, f, func(ctx context.Context, svc *tracker.Service, q tracker.Query) error {
				rows, err := svc.Daily(ctx, q)
				if err != nil {
					return err
				}
				if f.json {
					return printJSON(os.Stdout, rows)
				}
				return writeDaily(os.Stdout, rows)
			})
		},
	}
	f.register(cmd)
	return cmd
}

func writeDaily(out io.Writer, rows []models.DailySummary) error {
	if len(rows) == 0 {
		fmt.Fprintln(out, "No usage data found.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "DATE\tINPUT\tOUTPUT\tCACHE WRITE\tCACHE READ\tTOTAL\tCOST\t")
	var tot models.Totals
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			r.Date, num(r.Tokens.Input), num(r.Tokens.Output), num(r.Tokens.CacheCreation), num(r.Tokens.CacheRead), num(r.Tokens.Total()), usd(r.CostUSD))
		tot.Tokens = tot.Tokens.Add(r.Tokens)
		tot.CostUSD = tot.CostUSD.Add(r.CostUSD)
	}
	fmt.Fprintf(w, "TOTAL\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
		num(tot.Tokens.Input), num(tot.Tokens.Output), num(tot.Tokens.CacheCreation), num(tot.Tokens.CacheRead), num(tot.Tokens.Total()), usd(tot.CostUSD))
	return w.Flush()
}

func newWeeklyCmd(g *globalFlags) *cobra.Command {
	f := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "weekly",
		Short: "Show usage per ISO week",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, g, f, func(ctx context.Context, svc *tracker.Service, q tracker.Query) error {
				rows, err := svc.Weekly(ctx, q)
				if err != nil {
					return err
				}
				if f.json {
					return printJSON(os.Stdout, rows)
				}
				return writePeriods(os.Stdout, "WEEK", rows)
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newMonthlyCmd(g *globalFlags) *cobra.Command {
	f := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "monthly",
		Short: "Show usage per calendar month",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, g, f, func(ctx context.Context, svc *tracker.Service, q tracker.Query) error {
				rows, err := svc.Monthly(ctx, q)
				if err != nil {
					return err
				}
				if f.json {
					return printJSON(os.Stdout, rows)
				}
				return writePeriods(os.Stdout, "MONTH", rows)
			})
		},
	}
	f.register(cmd)
	return cmd
}

func writePeriods(out io.Writer, label string, rows []models.PeriodSummary) error {
	if len(rows) == 0 {
		fmt.Fprintln(out, "No usage data found.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\tFROM\tTO\tRECORDS\tTOKENS\tCOST\tMODELS\n", label)
	for _, p := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			p.Period, p.Start, p.End, num(p.Records), num(p.Tokens.Total()), usd(p.CostUSD), len(p.Models))
	}
	return w.Flush()
}

func newStatsCmd(g *globalFlags) *cobra.Command {
	f := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show headline usage figures",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, g, f, func(ctx context.Context, svc *tracker.Service, q tracker.Query) error {
				st, err := svc.Stats(ctx, q)
				if err != nil {
					return err
				}
				if f.json {
					return printJSON(os.Stdout, st)
				}
				if st.ActiveDays == 0 {
					fmt.Println("No usage data found.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "Period:\t%s to %s\n", st.FirstDate, st.LastDate)
				fmt.Fprintf(w, "Days:\t%d (%d active)\n", st.TotalDays, st.ActiveDays)
				fmt.Fprintf(w, "Tokens:\t%s\n", num(st.TotalTokens))
				fmt.Fprintf(w, "Cost:\t%s\n", usd(st.TotalCostUSD))
				fmt.Fprintf(w, "Daily average:\t%s tokens, %s\n", num(st.AvgTokensPerDay), usd(st.AvgCostPerDayUSD))
				fmt.Fprintf(w, "Peak day:\t%s (%s tokens)\n", st.PeakDate, num(st.PeakTokens))
				return w.Flush()
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newModelsCmd(g *globalFlags) *cobra.Command {
	f := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Show usage per model",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, g, f, func(ctx context.Context, svc *tracker.Service, q tracker.Query) error {
				rows, err := svc.Models(ctx, q)
				if err != nil {
					return err
				}
				if f.json {
					return printJSON(os.Stdout, rows)
				}
				return writeModels(os.Stdout, rows)
			})
		},
	}
	f.register(cmd)
	return cmd
}

func writeModels(out io.Writer, rows []models.ModelSummary) error {
	if len(rows) == 0 {
		fmt.Fprintln(out, "No usage data found.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tRECORDS\tINPUT\tOUTPUT\tCACHE READ\tDAYS\tCOST")
	missing := false
	for _, m := range rows {
		cost := usd(m.CostUSD)
		if m.MissingPricing {
			cost += "*"
			missing = true
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			m.DisplayName, num(m.Records), num(m.Tokens.Input), num(m.Tokens.Output), num(m.Tokens.CacheRead), m.ActiveDays, cost)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if missing {
		fmt.Fprintln(out, "* no price known for some usage of this model")
	}
	return nil
}
