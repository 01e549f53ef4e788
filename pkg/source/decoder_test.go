package source

import (
	"errors"
	"testing"
	"time"

	"github.com/pario-ai/toktrack/pkg/models"
)

func decodeAll(t *testing.T, d Decoder, lines ...string) ([]models.UsageEntry, int) {
	t.Helper()
	var (
		out []models.UsageEntry
		bad int
	)
	for _, l := range lines {
		entries, err := d.Decode([]byte(l))
		if err != nil {
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
			bad++
		}
		out = append(out, entries...)
	}
	return out, bad
}

func TestClaudeDecoder(t *testing.T) {
	d := &claudeDecoder{source: "claude-code"}
	entries, bad := decodeAll(t, d,
		`{"type":"user","timestamp":"2025-01-15T10:00:00Z","message":{"role":"user","content":"hi"}}`,
		`{"type":"assistant","timestamp":"2025-01-15T10:00:01.500Z","requestId":"req_1","message":{"id":"msg_1","model":"claude-sonnet-4-20250514","usage":{"input_tokens":100,"output_tokens":50,"cache_creation_input_tokens":10,"cache_read_input_tokens":200}}}`,
		`{"type":"assistant","timestamp":"2025-01-15T10:00:02Z","costUSD":0.25,"message":{"model":"claude-opus-4-5","usage":{"input_tokens":1,"output_tokens":2}}}`,
		`{"type":"assistant","timestamp":"2025-01-15T10:00:03Z","isApiErrorMessage":true,"message":{"model":"claude-opus-4-5","usage":{"input_tokens":1,"output_tokens":2}}}`,
		`{"type":"assistant","timestamp":"2025-01-15T10:00:04Z","message":{"model":"<synthetic>","usage":{"input_tokens":1,"output_tokens":2}}}`,
		`{"type":"assistant","timestamp":"2025-01-15T10:00:05Z","message":{"model":"claude-opus-4-5","usage":{"input_tokens":-5,"output_tokens":2}}}`,
		`{"type":"assistant","timestamp":"2025-01-15T10:00:06Z","message":{"model":"claude-opus-4-5","usage":{"input_tokens":"many","output_tokens":2}}}`,
		`{"type":"assistant","timestamp":"2025-01-15T10:00:07Z","message":{"model":"claude-opus-4-5","usage":{"input_tokens":1e15,"output_tokens":2}}}`,
	)
	if bad != 3 {
		t.Errorf("expected 3 malformed records, got %d", bad)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	e := entries[0]
	if e.Model != "claude-sonnet-4" {
		t.Errorf("expected normalized model, got %s", e.Model)
	}
	want := models.TokenUsage{Input: 100, Output: 50, CacheCreation: 10, CacheRead: 200}
	if e.Tokens != want {
		t.Errorf("expected %+v, got %+v", want, e.Tokens)
	}
	if e.DedupKey != "msg_1:req_1" {
		t.Errorf("expected dedup key msg_1:req_1, got %q", e.DedupKey)
	}
	if !e.Timestamp.Equal(time.Date(2025, 1, 15, 10, 0, 1, 500_000_000, time.UTC)) {
		t.Errorf("unexpected timestamp %v", e.Timestamp)
	}

	if !entries[1].Cost.Valid || entries[1].Cost.Decimal.String() != "0.25" {
		t.Errorf("expected logged cost 0.25, got %+v", entries[1].Cost)
	}
}

func TestCodexDecoder(t *testing.T) {
	d := &codexDecoder{source: "codex"}
	entries, bad := decodeAll(t, d,
		`{"timestamp":"2025-02-01T09:00:00Z","type":"session_meta","payload":{"id":"s"}}`,
		`{"timestamp":"2025-02-01T09:00:01Z","type":"turn_context","payload":{"model":"gpt-5-codex"}}`,
		`{"timestamp":"2025-02-01T09:00:02Z","type":"event_msg","payload":{"type":"token_count","info":{"total_token_usage":{"input_tokens":1000,"cached_input_tokens":400,"output_tokens":100},"last_token_usage":{"input_tokens":1000,"cached_input_tokens":400,"output_tokens":100}}}}`,
		`{"timestamp":"2025-02-01T09:00:02Z","type":"event_msg","payload":{"type":"token_count","info":{"total_token_usage":{"input_tokens":1000,"cached_input_tokens":400,"output_tokens":100},"last_token_usage":{"input_tokens":1000,"cached_input_tokens":400,"output_tokens":100}}}}`,
		`{"timestamp":"2025-02-01T09:00:03Z","type":"event_msg","payload":{"type":"token_count","info":{"total_token_usage":{"input_tokens":1500,"cached_input_tokens":600,"output_tokens":160}}}}`,
		`{"timestamp":"2025-02-01T09:00:04Z","type":"event_msg","payload":{"type":"token_count","info":null}}`,
		`{"timestamp":"2025-02-01T09:00:05Z","type":"event_msg","payload":{"type":"agent_message"}}`,
	)
	if bad != 0 {
		t.Errorf("expected no malformed records, got %d", bad)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Model != "gpt-5-codex" {
		t.Errorf("expected model from turn_context, got %s", entries[0].Model)
	}
	if want := (models.TokenUsage{Input: 600, Output: 100, CacheRead: 400}); entries[0].Tokens != want {
		t.Errorf("first entry: expected %+v, got %+v", want, entries[0].Tokens)
	}
	if want := (models.TokenUsage{Input: 300, Output: 60, CacheRead: 200}); entries[1].Tokens != want {
		t.Errorf("delta entry: expected %+v, got %+v", want, entries[1].Tokens)
	}
}

func TestCodexDecoderFallbackModel(t *testing.T) {
	d := &codexDecoder{source: "codex"}
	entries, _ := decodeAll(t, d,
		`{"timestamp":"2025-02-01T09:00:02Z","type":"event_msg","payload":{"type":"token_count","info":{"last_token_usage":{"input_tokens":10,"output_tokens":5}}}}`,
	)
	if len(entries) != 1 || entries[0].Model != codexFallbackModel {
		t.Fatalf("expected fallback model, got %+v", entries)
	}
}

func TestGeminiDecoder(t *testing.T) {
	d := &geminiDecoder{source: "gemini-cli"}
	doc := `{"sessionId":"s1","messages":[
		{"id":"m0","type":"user","timestamp":"2025-03-01T08:00:00Z","content":"hi"},
		{"id":"m1","type":"gemini","timestamp":"2025-03-01T08:00:01Z","model":"gemini-2.5-pro","tokens":{"input":1000,"output":200,"cached":300,"thoughts":50,"tool":0,"total":1550}},
		{"id":"m2","type":"gemini","timestamp":"2025-03-01T08:00:02Z","model":"gemini-2.5-pro","tokens":{"input":-1,"output":2}},
		{"id":"m3","type":"gemini","timestamp":"2025-03-01T08:00:03Z","model":"gemini-2.5-flash","tokens":{"input":10,"output":5}}
	]}`
	entries, err := d.Decode([]byte(doc))
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed for the bad message, got %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if want := (models.TokenUsage{Input: 700, Output: 250, CacheRead: 300}); entries[0].Tokens != want {
		t.Errorf("expected %+v, got %+v", want, entries[0].Tokens)
	}
	if entries[0].Model != "gemini-2-5-pro" || entries[0].DedupKey != "s1:m1" {
		t.Errorf("unexpected entry %+v", entries[0])
	}

	if _, err := d.Decode([]byte(`{"sessionId":"s"}`)); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed without messages, got %v", err)
	}
}

func TestKimiDecoder(t *testing.T) {
	d := &kimiDecoder{source: "kimi"}
	entries, bad := decodeAll(t, d,
		`{"timestamp":1735689600.5,"message":{"type":"TurnBegin","payload":{}}}`,
		`{"timestamp":1735689601,"message":{"type":"StatusUpdate","payload":{"model":"kimi-k2","token_usage":{"input_other":100,"output":20,"input_cache_read":50,"input_cache_creation":5}}}}`,
		`{"timestamp":1735689602,"message":{"type":"StatusUpdate","payload":{"token_usage":{"input_other":1,"output":1}}}}`,
		`{"timestamp":"nope","message":{"type":"StatusUpdate","payload":{"token_usage":{"input_other":1,"output":1}}}}`,
	)
	if bad != 1 {
		t.Errorf("expected 1 malformed record, got %d", bad)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if want := (models.TokenUsage{Input: 100, Output: 20, CacheCreation: 5, CacheRead: 50}); entries[0].Tokens != want {
		t.Errorf("expected %+v, got %+v", want, entries[0].Tokens)
	}
	if entries[1].Model != "kimi-k2" {
		t.Errorf("expected model carried across records, got %s", entries[1].Model)
	}
	if got := entries[0].Timestamp.Unix(); got != 1735689601 {
		t.Errorf("unexpected timestamp %d", got)
	}
}

func TestKimiDecoderWithoutModel(t *testing.T) {
	d := &kimiDecoder{source: "kimi"}
	entries, bad := decodeAll(t, d,
		`{"timestamp":1735689601,"message":{"type":"StatusUpdate","payload":{"token_usage":{"input_other":10,"output":2}}}}`,
	)
	if bad != 0 || len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d (malformed %d)", len(entries), bad)
	}
	if entries[0].Model != "kimi-unknown" {
		t.Errorf("expected kimi-unknown, got %s", entries[0].Model)
	}
}
