package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pario-ai/toktrack/pkg/models"
	"github.com/pario-ai/toktrack/pkg/tracker"
)

type queryArgs struct {
	Since  string `json:"since"`
	Until  string `json:"until"`
	Source string `json:"source"`
	Model  string `json:"model"`
}

func (a queryArgs) query() (tracker.Query, error) {
	for _, d := range []string{a.Since, a.Until} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(models.DateLayout, d); err != nil {
			return tracker.Query{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD)", d)
		}
	}
	q := tracker.Query{From: a.Since, To: a.Until, Model: a.Model}
	if a.Source != "" {
		q.Sources = []string{a.Source}
	}
	return q, nil
}

type refreshArgs struct {
	Sources         []string `json:"sources"`
	DeadlineSeconds float64  `json:"deadline_seconds"`
}

type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

var toolHandlers = map[string]toolHandler{
	"toktrack_daily":       handleDaily,
	"toktrack_models":      handleModels,
	"toktrack_stats":       handleStats,
	"toktrack_refresh":     handleRefresh,
	"toktrack_cache_stats": handleCacheStats,
}

var queryProperties = map[string]any{
	"since": map[string]any{
		"type":        "string",
		"description": "First date, YYYY-MM-DD (optional)",
	},
	"until": map[string]any{
		"type":        "string",
		"description": "Last date, YYYY-MM-DD (optional)",
	},
	"source": map[string]any{
		"type":        "string",
		"description": "Source id such as claude-code or codex (optional)",
	},
	"model": map[string]any{
		"type":        "string",
		"description": "Model name (optional)",
	},
}

var allTools = []ToolDefinition{
	{
		Name:        "toktrack_daily",
		Description: "Show token usage and cost per day from the summary cache.",
		InputSchema: map[string]any{"type": "object", "properties": queryProperties},
	},
	{
		Name:        "toktrack_models",
		Description: "Show token usage and cost per model, most expensive first.",
		InputSchema: map[string]any{"type": "object", "properties": queryProperties},
	},
	{
		Name:        "toktrack_stats",
		Description: "Show headline usage figures: active days, totals, daily averages and the peak day.",
		InputSchema: map[string]any{"type": "object", "properties": queryProperties},
	},
	{
		Name:        "toktrack_refresh",
		Description: "Re-read the raw session logs, update the summary cache, and report totals and skipped files.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"sources": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Source ids to refresh (optional, omit for all)",
				},
				"deadline_seconds": map[string]any{
					"type":        "number",
					"description": "Stop parsing after this many seconds and return a partial result (optional)",
				},
			},
		},
	},
	{
		Name:        "toktrack_cache_stats",
		Description: "Show summary cache statistics (entries, indexed files, hits, misses).",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}, IsError: true}
}

func parseQuery(raw json.RawMessage) (tracker.Query, error) {
	var args queryArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return tracker.Query{}, fmt.Errorf("invalid arguments: %w", err)
		}
	}
	return args.query()
}

func handleDaily(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	q, err := parseQuery(raw)
	if err != nil {
		return errorResult(err.Error())
	}
	rows, err := s.tracker.Daily(ctx, q)
	if err != nil {
		return errorResult("Error fetching daily usage: " + err.Error())
	}
	return textResult(formatDaily(rows))
}

func handleModels(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	q, err := parseQuery(raw)
	if err != nil {
		return errorResult(err.Error())
	}
	rows, err := s.tracker.Models(ctx, q)
	if err != nil {
		return errorResult("Error fetching model usage: " + err.Error())
	}
	return textResult(formatModels(rows))
}

func handleStats(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	q, err := parseQuery(raw)
	if err != nil {
		return errorResult(err.Error())
	}
	st, err := s.tracker.Stats(ctx, q)
	if err != nil {
		return errorResult("Error fetching stats: " + err.Error())
	}
	return textResult(formatStats(st))
}

func handleRefresh(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	var args refreshArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return errorResult("invalid arguments: " + err.Error())
		}
	}
	if args.DeadlineSeconds < 0 {
		return errorResult("deadline_seconds must not be negative")
	}
	rep, err := s.tracker.Refresh(ctx, tracker.RefreshOptions{
		Sources:    args.Sources,
		Deadline:   time.Duration(args.DeadlineSeconds * float64(time.Second)),
		SkipBackup: true,
	})
	if err != nil {
		return errorResult("Error refreshing: " + err.Error())
	}
	return textResult(formatReport(rep))
}

func handleCacheStats(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	stats, err := s.tracker.CacheStats()
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	return textResult(formatCacheStats(stats))
}
