package eval_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/parley-voice/parley/internal/eval"
)

// ─── TestFileStore_AppendAndReadBack ──────────────────────────────────────────

func TestFileStore_AppendAndReadBack(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "evaluations.jsonl")
	store := eval.NewFileStore(path)

	first := eval.Evaluation{Classification: "pass", OverallScore: 0.9}
	second := eval.Evaluation{Classification: "needs_improvement", OverallScore: 0.4}

	if err := store.Append("session-1", first); err != nil {
		t.Fatalf("first Append: %v", err)
	}
	if err := store.Append("session-2", second); err != nil {
		t.Fatalf("second Append: %v", err)
	}

	records, err := store.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].SessionID != "session-1" || records[0].Evaluation.Classification != "pass" {
		t.Errorf("record 0 = %+v", records[0])
	}
	if records[1].SessionID != "session-2" || records[1].Evaluation.OverallScore != 0.4 {
		t.Errorf("record 1 = %+v", records[1])
	}
	if records[0].Timestamp.IsZero() {
		t.Error("expected non-zero timestamp on stored record")
	}
}

// ─── TestFileStore_AllOnMissingFile ───────────────────────────────────────────

func TestFileStore_AllOnMissingFile(t *testing.T) {
	t.Parallel()

	store := eval.NewFileStore(filepath.Join(t.TempDir(), "never-written.jsonl"))
	records, err := store.All()
	if err != nil {
		t.Fatalf("All on missing file: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

// ─── TestFileStore_AppendIsAppendOnly ─────────────────────────────────────────

func TestFileStore_AppendIsAppendOnly(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "evaluations.jsonl")
	store := eval.NewFileStore(path)

	if err := store.Append("a", eval.Evaluation{Classification: "pass"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}

	if err := store.Append("b", eval.Evaluation{Classification: "pass"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}

	if len(after) <= len(before) {
		t.Fatal("expected second Append to grow the file")
	}
	if string(after[:len(before)]) != string(before) {
		t.Error("expected earlier records to remain untouched")
	}
}
