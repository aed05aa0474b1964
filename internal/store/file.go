package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// FileStore implements Store on the filesystem: one directory per
// experiment under the output root, holding a single game.json document.
// This is the canonical durable layout the controller must produce.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create output dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) recordPath(experimentID string) string {
	return filepath.Join(s.dir, experimentID, "game.json")
}

func (s *FileStore) SaveRecord(_ context.Context, rec *Record) error {
	dir := filepath.Join(s.dir, rec.ExperimentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: create experiment dir: %w", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal record: %w", err)
	}
	if err := os.WriteFile(s.recordPath(rec.ExperimentID), data, 0o644); err != nil {
		return fmt.Errorf("store: write record: %w", err)
	}
	return nil
}

func (s *FileStore) GetRecord(_ context.Context, experimentID string) (*Record, error) {
	data, err := os.ReadFile(s.recordPath(experimentID))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: read record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("store: unmarshal record %s: %w", experimentID, err)
	}
	return &rec, nil
}

func (s *FileStore) ListExperiments(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("store: list experiments: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(s.recordPath(e.Name())); err == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}
