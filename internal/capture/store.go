package capture

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// State keys.
const (
	keyBackground = "codeshot.bgColor"
	keyOptions    = "codeshot.options"
)

// FileStore is a StateStore backed by one JSON object on disk. The file is
// read lazily and rewritten on every Set.
type FileStore struct {
	path   string
	mu     sync.RWMutex
	loaded bool
	values map[string]string
}

// NewFileStore returns a store persisting to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, values: make(map[string]string)}
}

// Get implements StateStore.
func (s *FileStore) Get(key string) (string, bool) {
	s.mu.RLock()
	if s.loaded {
		v, ok := s.values[key]
		s.mu.RUnlock()
		return v, ok
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	v, ok := s.values[key]
	return v, ok
}

// Set implements StateStore.
func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	s.values[key] = value
	return s.saveLocked()
}

func (s *FileStore) loadLocked() {
	if s.loaded {
		return
	}
	s.loaded = true
	if s.path == "" {
		return
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		return
	}
	for k, v := range values {
		s.values[k] = v
	}
}

func (s *FileStore) saveLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("capture: state dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("capture: write state: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// MemoryStore is a StateStore that forgets everything on exit.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get implements StateStore.
func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set implements StateStore.
func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}
