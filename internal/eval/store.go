package eval

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Record is a single evaluation result written to the file store.
type Record struct {
	Timestamp  time.Time  `json:"timestamp"`
	SessionID  string     `json:"session_id"`
	Evaluation Evaluation `json:"evaluation"`
}

// FileStore persists evaluation results as append-only JSON lines in a local
// file. Thread-safe for concurrent use.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store appending to the file at path. The file is
// created on the first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Append writes one evaluation result to the store.
func (s *FileStore) Append(sessionID string, ev Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("eval: open results file: %w", err)
	}
	defer f.Close()

	rec := Record{
		Timestamp:  time.Now().UTC(),
		SessionID:  sessionID,
		Evaluation: ev,
	}
	if err := json.NewEncoder(f).Encode(rec); err != nil {
		return fmt.Errorf("eval: write result: %w", err)
	}
	return nil
}

// All reads every record in the store. Returns an empty slice when the file
// does not exist yet.
func (s *FileStore) All() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("eval: open results file: %w", err)
	}
	defer f.Close()

	var out []Record
	dec := json.NewDecoder(f)
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("eval: decode result: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}
