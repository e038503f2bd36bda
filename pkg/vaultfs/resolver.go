package vaultfs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ContentResolver opens, names and deletes user-picked source files by
// opaque handle. The manager never touches public storage directly.
type ContentResolver interface {
	// Open returns a reader over the source content.
	Open(handle string) (io.ReadCloser, error)
	// DisplayName returns the human-readable original filename.
	DisplayName(handle string) (string, error)
	// Delete removes the source from its public location and reports
	// whether it succeeded.
	Delete(handle string) bool
}

// MediaIndexer is notified when a new public file exists so standard
// galleries and players pick it up. Fire and forget.
type MediaIndexer interface {
	Notify(path string)
}

// OSResolver resolves handles as local filesystem paths.
type OSResolver struct{}

func (OSResolver) Open(handle string) (io.ReadCloser, error) {
	f, err := os.Open(handle)
	if err != nil {
		return nil, fmt.Errorf("vaultfs: failed to open source: %w", err)
	}
	return f, nil
}

func (OSResolver) DisplayName(handle string) (string, error) {
	name := filepath.Base(handle)
	if name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("vaultfs: no display name for %q", handle)
	}
	return name, nil
}

func (OSResolver) Delete(handle string) bool {
	return os.Remove(handle) == nil
}

// NopIndexer discards index notifications.
type NopIndexer struct{}

func (NopIndexer) Notify(string) {}
