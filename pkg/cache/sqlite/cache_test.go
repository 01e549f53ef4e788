package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pario-ai/toktrack/pkg/models"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "cache_test.db")
	c, err := New(dbPath, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func bucket(source, date string, input int64) models.DailyBucket {
	return models.DailyBucket{
		Source:  source,
		Date:    date,
		Records: 1,
		Models: map[string]models.ModelUsage{
			"model-a": {Tokens: models.TokenUsage{Input: input}, Records: 1, Unpriced: models.TokenUsage{Input: input}, UnpricedRecords: 1},
		},
	}
}

const today = "2025-01-15"

func TestPutAndGet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.Put(ctx, bucket("claude-code", "2025-01-10", 10), today); err != nil {
		t.Fatal(err)
	}

	b, ok, err := c.Get(ctx, "claude-code", "2025-01-10")
	if err != nil || !ok {
		t.Fatalf("expected cache hit, got ok=%v err=%v", ok, err)
	}
	if b.Models["model-a"].Tokens.Input != 10 {
		t.Errorf("unexpected bucket %+v", b)
	}

	// Miss for different source
	if _, ok, _ := c.Get(ctx, "codex", "2025-01-10"); ok {
		t.Error("expected cache miss for different source")
	}
}

func TestPastBucketIsWriteOnce(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_ = c.Put(ctx, bucket("claude-code", "2025-01-10", 10), today)
	_ = c.Put(ctx, bucket("claude-code", "2025-01-10", 999), today)

	b, _, _ := c.Get(ctx, "claude-code", "2025-01-10")
	if got := b.Models["model-a"].Tokens.Input; got != 10 {
		t.Errorf("past bucket was overwritten: got %d", got)
	}
}

func TestTodayBucketIsOverwritten(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_ = c.Put(ctx, bucket("claude-code", today, 10), today)
	_ = c.Put(ctx, bucket("claude-code", today, 20), today)

	b, _, _ := c.Get(ctx, "claude-code", today)
	if got := b.Models["model-a"].Tokens.Input; got != 20 {
		t.Errorf("expected today's bucket replaced, got %d", got)
	}
}

func TestBucketStoredAsTodayIsNotFinal(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	// Committed on the 10th while it was still today.
	_ = c.Put(ctx, bucket("claude-code", "2025-01-10", 10), "2025-01-10")
	dates, _ := c.Committed(ctx, "claude-code")
	if dates["2025-01-10"] {
		t.Fatal("a bucket stored as today must not count as committed")
	}

	// Once the date is past, Read recomputes it a single time and finalizes it.
	calls := 0
	compute := func() (models.DailyBucket, bool, error) {
		calls++
		return bucket("claude-code", "2025-01-10", 25), true, nil
	}
	for i := 0; i < 2; i++ {
		b, _, err := c.Read(ctx, "claude-code", "2025-01-10", today, compute)
		if err != nil || b.Models["model-a"].Tokens.Input != 25 {
			t.Fatalf("read %d: %+v err=%v", i, b, err)
		}
	}
	if calls != 1 {
		t.Errorf("expected 1 compute, got %d", calls)
	}
	dates, _ = c.Committed(ctx, "claude-code")
	if !dates["2025-01-10"] {
		t.Error("expected the date to be committed after finalizing")
	}
}

func TestReadComputesPastOnce(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	calls := 0
	compute := func() (models.DailyBucket, bool, error) {
		calls++
		return bucket("claude-code", "2025-01-10", int64(calls*10)), true, nil
	}

	for i := 0; i < 3; i++ {
		b, ok, err := c.Read(ctx, "claude-code", "2025-01-10", today, compute)
		if err != nil || !ok {
			t.Fatalf("read %d: ok=%v err=%v", i, ok, err)
		}
		if got := b.Models["model-a"].Tokens.Input; got != 10 {
			t.Errorf("read %d: expected first computed value 10, got %d", i, got)
		}
	}
	if calls != 1 {
		t.Errorf("expected 1 compute for a past date, got %d", calls)
	}
}

func TestReadAlwaysRecomputesTodayAndFuture(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	for _, date := range []string{today, "2025-02-01"} {
		calls := 0
		compute := func() (models.DailyBucket, bool, error) {
			calls++
			return bucket("codex", date, int64(calls)), true, nil
		}
		var last models.DailyBucket
		for i := 0; i < 3; i++ {
			last, _, _ = c.Read(ctx, "codex", date, today, compute)
		}
		if calls != 3 {
			t.Errorf("%s: expected 3 computes, got %d", date, calls)
		}
		if got := last.Models["model-a"].Tokens.Input; got != 3 {
			t.Errorf("%s: expected latest value 3, got %d", date, got)
		}
	}
}

func TestReadEmptyDateStoresNothing(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	_, ok, err := c.Read(ctx, "codex", "2025-01-01", today, func() (models.DailyBucket, bool, error) {
		return models.DailyBucket{}, false, nil
	})
	if err != nil || ok {
		t.Fatalf("expected no bucket, got ok=%v err=%v", ok, err)
	}
	stats, _ := c.Stats()
	if stats.Entries != 0 {
		t.Errorf("expected 0 entries, got %d", stats.Entries)
	}
}

func TestCorruptEntryIsMiss(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, err := c.db.Exec(`INSERT INTO daily_buckets (source, date, payload, committed_at) VALUES (?, ?, ?, ?)`,
		"claude-code", "2025-01-10", []byte("{not json"), time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}

	if _, ok, err := c.Get(ctx, "claude-code", "2025-01-10"); ok || err != nil {
		t.Fatalf("expected silent miss, got ok=%v err=%v", ok, err)
	}

	// The corrupt row is gone, so the recomputed bucket can be committed.
	b, ok, err := c.Read(ctx, "claude-code", "2025-01-10", today, func() (models.DailyBucket, bool, error) {
		return bucket("claude-code", "2025-01-10", 42), true, nil
	})
	if err != nil || !ok || b.Models["model-a"].Tokens.Input != 42 {
		t.Fatalf("unexpected recompute result %+v ok=%v err=%v", b, ok, err)
	}
	got, ok, _ := c.Get(ctx, "claude-code", "2025-01-10")
	if !ok || got.Models["model-a"].Tokens.Input != 42 {
		t.Errorf("recomputed bucket not committed: %+v", got)
	}

	stats, _ := c.Stats()
	if stats.Corrupt != 1 {
		t.Errorf("expected 1 corrupt entry, got %d", stats.Corrupt)
	}
}

func TestRange(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	for _, b := range []models.DailyBucket{
		bucket("codex", "2025-01-12", 1),
		bucket("claude-code", "2025-01-10", 1),
		bucket("claude-code", "2025-01-12", 1),
		bucket("claude-code", "2025-01-14", 1),
	} {
		if err := c.Put(ctx, b, today); err != nil {
			t.Fatal(err)
		}
	}

	all, err := c.Range(ctx, "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 || all[0].Date != "2025-01-10" || all[1].Source != "claude-code" || all[2].Source != "codex" {
		t.Errorf("unexpected ordering %+v", all)
	}

	some, _ := c.Range(ctx, "claude-code", "2025-01-11", "2025-01-14")
	if len(some) != 2 {
		t.Errorf("expected 2 buckets, got %d", len(some))
	}

	dates, err := c.Committed(ctx, "claude-code")
	if err != nil {
		t.Fatal(err)
	}
	if len(dates) != 3 || !dates["2025-01-14"] {
		t.Errorf("unexpected committed dates %v", dates)
	}
}

func TestDeleteFrom(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	_ = c.Put(ctx, bucket("codex", "2025-01-10", 1), today)
	_ = c.Put(ctx, bucket("codex", today, 1), today)
	_ = c.Put(ctx, bucket("codex", "2025-03-01", 1), today)

	if err := c.DeleteFrom(ctx, "codex", today); err != nil {
		t.Fatal(err)
	}
	left, _ := c.Range(ctx, "codex", "", "")
	if len(left) != 1 || left[0].Date != "2025-01-10" {
		t.Errorf("expected only the past bucket to remain, got %+v", left)
	}

	// The clock moved back two days: the final bucket for the 14th is now
	// "on or after today" but must not be dropped.
	_ = c.Put(ctx, bucket("codex", "2025-01-14", 15), today)
	if err := c.DeleteFrom(ctx, "codex", "2025-01-13"); err != nil {
		t.Fatal(err)
	}
	b, ok, err := c.Get(ctx, "codex", "2025-01-14")
	if err != nil || !ok || b.Models["model-a"].Tokens.Input != 15 {
		t.Errorf("final bucket deleted by clock skew: ok=%v err=%v %+v", ok, err, b)
	}
}

func TestStageKeepsPastDateOpen(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	got, err := c.Stage(ctx, bucket("claude-code", "2025-01-10", 15))
	if err != nil || got.Models["model-a"].Tokens.Input != 15 {
		t.Fatalf("stage: %+v err=%v", got, err)
	}
	if dates, _ := c.Committed(ctx, "claude-code"); dates["2025-01-10"] {
		t.Fatal("a staged bucket must not count as committed")
	}

	// Once every file is readable the full bucket is committed over it.
	if _, _, err := c.Read(ctx, "claude-code", "2025-01-10", today, func() (models.DailyBucket, bool, error) {
		return bucket("claude-code", "2025-01-10", 30), true, nil
	}); err != nil {
		t.Fatal(err)
	}
	if dates, _ := c.Committed(ctx, "claude-code"); !dates["2025-01-10"] {
		t.Fatal("expected the date to be committed")
	}

	// Staging never overrides a final bucket.
	got, err = c.Stage(ctx, bucket("claude-code", "2025-01-10", 5))
	if err != nil || got.Models["model-a"].Tokens.Input != 30 {
		t.Errorf("stage replaced a final bucket: %+v err=%v", got, err)
	}
	b, _, _ := c.Get(ctx, "claude-code", "2025-01-10")
	if b.Models["model-a"].Tokens.Input != 30 {
		t.Errorf("stored bucket changed: %+v", b)
	}
}

func TestFileIndex(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	mtime := time.Date(2025, 1, 10, 8, 0, 0, 123456789, time.UTC)

	err := c.PutFiles(ctx, []models.FileIndexEntry{
		{Source: "claude-code", Path: "/a.jsonl", Size: 100, ModTime: mtime, Dates: []string{"2025-01-09", "2025-01-10"}},
		{Source: "claude-code", Path: "/b.jsonl", Size: 5, ModTime: mtime},
	})
	if err != nil {
		t.Fatal(err)
	}
	// Upsert replaces.
	_ = c.PutFiles(ctx, []models.FileIndexEntry{{Source: "claude-code", Path: "/b.jsonl", Size: 6, ModTime: mtime}})

	idx, err := c.FileIndex(ctx, "claude-code")
	if err != nil {
		t.Fatal(err)
	}
	a := idx["/a.jsonl"]
	if !a.Unchanged(models.SourceFile{Size: 100, ModTime: mtime}) {
		t.Errorf("expected /a.jsonl unchanged, got %+v", a)
	}
	if len(a.Dates) != 2 {
		t.Errorf("expected 2 dates, got %v", a.Dates)
	}
	if idx["/b.jsonl"].Size != 6 || len(idx["/b.jsonl"].Dates) != 0 {
		t.Errorf("unexpected /b.jsonl entry %+v", idx["/b.jsonl"])
	}
}

func TestStatsAndClear(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_ = c.Put(ctx, bucket("codex", "2025-01-10", 1), today)
	_ = c.PutFiles(ctx, []models.FileIndexEntry{{Source: "codex", Path: "/x", ModTime: time.Now()}})
	c.Get(ctx, "codex", "2025-01-10") // hit
	c.Get(ctx, "codex", "2025-01-11") // miss

	stats, err := c.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 1 || stats.Files != 1 {
		t.Errorf("expected 1 entry and 1 file, got %+v", stats)
	}
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("expected 1 hit and 1 miss, got %+v", stats)
	}

	if err := c.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	stats, _ = c.Stats()
	if stats.Entries != 0 || stats.Files != 0 {
		t.Errorf("expected empty cache after clear, got %+v", stats)
	}
}

func TestCommittedSkipsCorruptRows(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	_ = c.Put(ctx, bucket("claude-code", "2025-01-09", 10), today)
	_, err := c.db.Exec(`INSERT INTO daily_buckets (source, date, payload, committed_at, final) VALUES (?, ?, ?, ?, 1)`,
		"claude-code", "2025-01-10", []byte("{not json"), time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}

	dates, err := c.Committed(ctx, "claude-code")
	if err != nil {
		t.Fatal(err)
	}
	if !dates["2025-01-09"] || dates["2025-01-10"] {
		t.Errorf("unexpected committed dates %v", dates)
	}
	if stats, _ := c.Stats(); stats.Corrupt != 1 || stats.Entries != 1 {
		t.Errorf("corrupt row not dropped: %+v", stats)
	}
}
