package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parley-voice/parley/pkg/media"
)

// RecordingStore writes finished archival recordings to disk and enforces a
// retention cap. Safe for concurrent use.
type RecordingStore struct {
	dir  string
	keep int

	mu sync.Mutex
}

// NewRecordingStore creates a store rooted at dir. keep caps how many
// recordings are retained; zero keeps all. The directory is created on the
// first save.
func NewRecordingStore(dir string, keep int) *RecordingStore {
	return &RecordingStore{dir: dir, keep: keep}
}

// Save writes rec to a new file and prunes old recordings past the retention
// cap. Returns the written path.
func (s *RecordingStore) Save(rec media.VideoRecording) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("app: create recordings dir: %w", err)
	}

	name := fmt.Sprintf("%s-%s%s",
		time.Now().UTC().Format("20060102T150405"),
		uuid.NewString()[:8],
		extensionFor(rec.MIMEType),
	)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, rec.Data, 0o644); err != nil {
		return "", fmt.Errorf("app: write recording: %w", err)
	}

	if err := s.pruneLocked(); err != nil {
		slog.Warn("recording retention prune failed", "err", err)
	}
	return path, nil
}

// pruneLocked removes the oldest recordings beyond the retention cap.
// Filenames embed a sortable UTC timestamp, so name order is age order.
func (s *RecordingStore) pruneLocked() error {
	if s.keep <= 0 {
		return nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) <= s.keep {
		return nil
	}
	sort.Strings(names)
	for _, name := range names[:len(names)-s.keep] {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			return err
		}
	}
	return nil
}

// extensionFor maps a recording MIME type to a file extension.
func extensionFor(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "webm"):
		return ".webm"
	case strings.Contains(mimeType, "mp4"):
		return ".mp4"
	default:
		return ".bin"
	}
}
