package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/pario-ai/toktrack/pkg/models"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "proj-b", "s2.jsonl"), "{}\n")
	writeFile(t, filepath.Join(root, "proj-a", "s1.jsonl"), "{}\n")
	writeFile(t, filepath.Join(root, "proj-a", "deep", "s3.jsonl"), "{}\n")
	writeFile(t, filepath.Join(root, "proj-a", "notes.txt"), "x")

	files, err := Discover(context.Background(), models.SourceDescriptor{
		ID: "claude-code", Root: root, Pattern: "**/*.jsonl",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 files, got %d", len(files))
	}
	want := []string{"proj-a/deep/s3.jsonl", "proj-a/s1.jsonl", "proj-b/s2.jsonl"}
	for i, f := range files {
		if f.Rel != want[i] {
			t.Errorf("file %d: expected %s, got %s", i, want[i], f.Rel)
		}
		if f.Source != "claude-code" || f.Size != 3 {
			t.Errorf("unexpected file metadata %+v", f)
		}
	}
}

func TestDiscoverGeminiLayout(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "abc123", "chats", "session-1.json"), "{}")
	writeFile(t, filepath.Join(root, "abc123", "logs.json"), "{}")

	files, err := Discover(context.Background(), models.SourceDescriptor{
		ID: "gemini-cli", Root: root, Pattern: "*/chats/session-*.json",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Rel != "abc123/chats/session-1.json" {
		t.Errorf("unexpected files %+v", files)
	}
}

func TestDiscoverMissingRoot(t *testing.T) {
	_, err := Discover(context.Background(), models.SourceDescriptor{
		ID: "codex", Root: filepath.Join(t.TempDir(), "nope"), Pattern: "**/*.jsonl",
	})
	if !errors.Is(err, ErrRootMissing) {
		t.Errorf("expected ErrRootMissing, got %v", err)
	}
}
