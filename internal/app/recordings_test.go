package app_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parley-voice/parley/internal/app"
	"github.com/parley-voice/parley/pkg/media"
)

// ─── TestRecordingStore_SaveWritesFile ────────────────────────────────────────

func TestRecordingStore_SaveWritesFile(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "recordings")
	store := app.NewRecordingStore(dir, 0)

	path, err := store.Save(media.VideoRecording{Data: []byte{1, 2, 3}, MIMEType: "video/webm"})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasSuffix(path, ".webm") {
		t.Errorf("path = %q, want .webm extension", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "\x01\x02\x03" {
		t.Errorf("file contents = %v", data)
	}
}

// ─── TestRecordingStore_ExtensionByMIMEType ───────────────────────────────────

func TestRecordingStore_ExtensionByMIMEType(t *testing.T) {
	t.Parallel()

	store := app.NewRecordingStore(t.TempDir(), 0)
	cases := []struct {
		mime string
		ext  string
	}{
		{"video/webm", ".webm"},
		{"video/mp4", ".mp4"},
		{"application/octet-stream", ".bin"},
	}
	for _, tc := range cases {
		path, err := store.Save(media.VideoRecording{Data: []byte{0}, MIMEType: tc.mime})
		if err != nil {
			t.Fatalf("Save(%s): %v", tc.mime, err)
		}
		if !strings.HasSuffix(path, tc.ext) {
			t.Errorf("mime %s: path = %q, want %s extension", tc.mime, path, tc.ext)
		}
	}
}

// ─── TestRecordingStore_PrunesPastRetentionCap ────────────────────────────────

func TestRecordingStore_PrunesPastRetentionCap(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := app.NewRecordingStore(dir, 2)

	for range 5 {
		if _, err := store.Save(media.VideoRecording{Data: []byte{0}, MIMEType: "video/webm"}); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("retained %d recordings, want 2", len(entries))
	}
}

// ─── TestRecordingStore_KeepZeroKeepsAll ──────────────────────────────────────

func TestRecordingStore_KeepZeroKeepsAll(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := app.NewRecordingStore(dir, 0)

	for range 4 {
		if _, err := store.Save(media.VideoRecording{Data: []byte{0}, MIMEType: "video/webm"}); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("retained %d recordings, want all 4", len(entries))
	}
}
