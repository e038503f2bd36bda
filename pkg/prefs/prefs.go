// Package prefs provides the persisted configuration store backing the
// credential gate and app settings.
//
// The store is a flat key-value map persisted as a YAML file. Writes are
// serialized per store, persisted synchronously before Set returns (a read
// from any component afterwards observes the new value), and applied
// atomically via a temp-file rename. Readers can subscribe to individual keys
// and receive a notification on every change.
package prefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	// FileMode restricts the preferences file to the owner.
	FileMode = 0600

	// DirMode restricts the enclosing directory to the owner.
	DirMode = 0700
)

// ErrClosed is returned when operating on a closed store.
var ErrClosed = errors.New("prefs: store is closed")

// Store is an observable key-value preference store persisted to a YAML file.
type Store struct {
	path string

	mu       sync.RWMutex
	values   map[string]any
	watchers map[string][]chan any
	closed   bool
}

// Open loads the preference file at path, creating an empty store if the
// file does not exist yet.
func Open(path string) (*Store, error) {
	s := &Store{
		path:     path,
		values:   make(map[string]any),
		watchers: make(map[string][]chan any),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("prefs: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("prefs: failed to parse %s: %w", path, err)
	}
	if s.values == nil {
		s.values = make(map[string]any)
	}
	return s, nil
}

// Set stores a value under key and persists the file before returning.
func (s *Store) Set(key string, value any) error {
	return s.SetAll(map[string]any{key: value})
}

// SetAll stores multiple values in one persisted write. Either all values are
// durable or none are; watchers fire only after a successful save.
func (s *Store) SetAll(values map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	type prior struct {
		value   any
		present bool
	}
	old := make(map[string]prior, len(values))
	for k, v := range values {
		pv, ok := s.values[k]
		old[k] = prior{pv, ok}
		s.values[k] = v
	}
	if err := s.saveLocked(); err != nil {
		for k, p := range old {
			if p.present {
				s.values[k] = p.value
			} else {
				delete(s.values, k)
			}
		}
		return err
	}
	for k, v := range values {
		s.notifyLocked(k, v)
	}
	return nil
}

// Delete removes the given keys in one persisted write.
func (s *Store) Delete(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	for _, k := range keys {
		delete(s.values, k)
	}
	if err := s.saveLocked(); err != nil {
		return err
	}
	for _, k := range keys {
		s.notifyLocked(k, nil)
	}
	return nil
}

// GetString returns the string stored under key, or def when absent or of a
// different type.
func (s *Store) GetString(key, def string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[key].(string); ok {
		return v
	}
	return def
}

// GetBool returns the bool stored under key, or def when absent.
func (s *Store) GetBool(key string, def bool) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[key].(bool); ok {
		return v
	}
	return def
}

// GetInt returns the integer stored under key, or def when absent. YAML
// round-trips small integers as int and large ones as int64; both are
// accepted.
func (s *Store) GetInt(key string, def int64) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch v := s.values[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	}
	return def
}

// Has reports whether key is present.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[key]
	return ok
}

// Watch subscribes to changes of key. The returned channel receives the new
// value after every successful Set/Delete affecting the key (nil on delete).
// Slow receivers drop notifications rather than block writers.
func (s *Store) Watch(key string) <-chan any {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan any, 8)
	s.watchers[key] = append(s.watchers[key], ch)
	return ch
}

// Close releases watcher channels. The file itself needs no teardown.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	for _, chans := range s.watchers {
		for _, ch := range chans {
			close(ch)
		}
	}
	s.watchers = nil
	return nil
}

func (s *Store) notifyLocked(key string, value any) {
	for _, ch := range s.watchers[key] {
		select {
		case ch <- value:
		default:
		}
	}
}

// saveLocked persists the current map atomically: write to a temp file in the
// same directory, fsync, then rename over the target.
func (s *Store) saveLocked() error {
	data, err := yaml.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("prefs: failed to marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return fmt.Errorf("prefs: failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".prefs-*")
	if err != nil {
		return fmt.Errorf("prefs: failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(FileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("prefs: failed to set permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("prefs: failed to write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("prefs: failed to sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("prefs: failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("prefs: failed to replace %s: %w", s.path, err)
	}
	return nil
}
