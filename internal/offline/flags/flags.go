// Package flags provides durable flag storage: a small JSON document of named
// values that every process can read at cold start.
//
// The background process writes flags (the current auth snapshot, user
// settings); UI processes read them synchronously on start and may watch the
// file for changes. Writes replace the file atomically (temp file + rename),
// so a reader never observes a partially written document.
package flags

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Well-known flag keys.
const (
	KeyAuthState    = "authState"
	KeyUserSettings = "userSettings"
)

// DefaultFilename is the flag file name inside the data directory.
const DefaultFilename = "flags.json"

// Store reads and writes flags in a single JSON file.
type Store struct {
	path string
	mu   sync.Mutex
}

// Open returns a Store backed by path. The file itself is created on the
// first Set.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("flag file path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create flag directory: %w", err)
	}
	return &Store{path: path}, nil
}

// Path returns the flag file path.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether the flag file has ever been written.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Get decodes the value stored under key into v. It reports false when the
// key is absent.
func (s *Store) Get(key string, v any) (bool, error) {
	raw, err := s.GetRaw(key)
	if err != nil || raw == nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("failed to decode flag %s: %w", key, err)
	}
	return true, nil
}

// GetRaw returns the encoded value stored under key, or nil if absent.
func (s *Store) GetRaw(key string) (json.RawMessage, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return doc[key], nil
}

// Set stores v under key, replacing the file atomically.
func (s *Store) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode flag %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if sameJSON(doc[key], raw) {
		return nil
	}
	doc[key] = raw
	return s.save(doc)
}

// Delete removes key. Deleting an absent key is a no-op.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := doc[key]; !ok {
		return nil
	}
	delete(doc, key)
	return s.save(doc)
}

// sameJSON compares two encoded values ignoring insignificant whitespace.
func sameJSON(a, b json.RawMessage) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}

func (s *Store) load() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read flag file: %w", err)
	}

	doc := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse flag file %s: %w", s.path, err)
	}
	return doc, nil
}

func (s *Store) save(doc map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode flag file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".flags-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp flag file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp flag file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp flag file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp flag file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace flag file: %w", err)
	}
	return nil
}
