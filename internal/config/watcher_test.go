package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/parley-voice/parley/internal/config"
)

func writeConfig(t *testing.T, path, model string) {
	t.Helper()
	yaml := `
channel:
  api_key: sk-test
  model: ` + model + `
evaluation:
  base_url: http://localhost:9000
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// ─── TestWatcher_InitialLoad ──────────────────────────────────────────────────

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "parley.yaml")
	writeConfig(t, path, "gpt-realtime")

	w, err := config.NewWatcher(path, nil, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)

	if got := w.Current().Channel.Model; got != "gpt-realtime" {
		t.Errorf("initial model = %q", got)
	}
}

// ─── TestWatcher_DetectsChange ────────────────────────────────────────────────

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "parley.yaml")
	writeConfig(t, path, "gpt-realtime")

	var mu sync.Mutex
	var oldModel, newModel string
	onChange := func(old, new *config.Config) {
		mu.Lock()
		defer mu.Unlock()
		oldModel = old.Channel.Model
		newModel = new.Channel.Model
	}

	w, err := config.NewWatcher(path, onChange, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)

	// Rewrite with a different mtime; second resolution filesystems need the
	// bump to be explicit.
	writeConfig(t, path, "other-model")
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := newModel == "other-model"
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if oldModel != "gpt-realtime" || newModel != "other-model" {
		t.Fatalf("onChange saw %q -> %q, want gpt-realtime -> other-model", oldModel, newModel)
	}
	if got := w.Current().Channel.Model; got != "other-model" {
		t.Errorf("Current model = %q", got)
	}
}

// ─── TestWatcher_KeepsConfigOnInvalidRewrite ──────────────────────────────────

func TestWatcher_KeepsConfigOnInvalidRewrite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "parley.yaml")
	writeConfig(t, path, "gpt-realtime")

	var calls int
	var mu sync.Mutex
	w, err := config.NewWatcher(path, func(_, _ *config.Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)

	if err := os.WriteFile(path, []byte("{{not yaml"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("onChange called %d times for invalid rewrite", calls)
	}
	if got := w.Current().Channel.Model; got != "gpt-realtime" {
		t.Errorf("Current model = %q, want last valid config retained", got)
	}
}

// ─── TestWatcher_MissingFileFailsFast ─────────────────────────────────────────

func TestWatcher_MissingFileFailsFast(t *testing.T) {
	t.Parallel()

	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
