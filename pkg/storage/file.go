// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-secretvault.
//
// go-secretvault is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package storage

import (
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	// Directory permissions (owner rwx only)
	dirPerms = 0700

	// File permissions (owner rw only); every row may hold ciphertext
	filePerms = 0600
)

// FileBackend is a file-based implementation of Backend. Each key maps to
// one file under the root directory; slash-separated key segments become
// subdirectories, and each segment is hex-escaped where needed so arbitrary
// ids cannot traverse outside the root.
type FileBackend struct {
	mu      sync.RWMutex
	rootDir string
	closed  bool
}

// NewFile creates a file storage backend rooted at rootDir.
// The root directory is created with 0700 permissions if it doesn't exist.
func NewFile(rootDir string) (*FileBackend, error) {
	if rootDir == "" {
		return nil, fmt.Errorf("storage: root directory cannot be empty")
	}

	if err := os.MkdirAll(rootDir, dirPerms); err != nil {
		return nil, fmt.Errorf("storage: failed to create root directory: %w", err)
	}

	return &FileBackend{rootDir: rootDir}, nil
}

// Get retrieves the value for the given key.
func (f *FileBackend) Get(key string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrClosed
	}

	path, err := f.keyToPath(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to read key %q: %w", key, err)
	}
	return data, nil
}

// Put stores the value for the given key, overwriting any existing value.
func (f *FileBackend) Put(key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}

	path, err := f.keyToPath(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), dirPerms); err != nil {
		return fmt.Errorf("storage: failed to create directory for key %q: %w", key, err)
	}

	// Write-then-rename so a crash cannot leave a partially written row
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, value, filePerms); err != nil {
		return fmt.Errorf("storage: failed to write key %q: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("storage: failed to commit key %q: %w", key, err)
	}
	return nil
}

// Delete removes the key and its value from storage.
func (f *FileBackend) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}

	path, err := f.keyToPath(key)
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("storage: failed to stat key %q: %w", key, err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("storage: failed to delete key %q: %w", key, err)
	}
	return nil
}

// List returns all keys with the given prefix, sorted.
func (f *FileBackend) List(prefix string) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrClosed
	}

	keys := make([]string, 0)
	err := filepath.WalkDir(f.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".tmp") {
			return nil
		}

		rel, err := filepath.Rel(f.rootDir, path)
		if err != nil {
			return err
		}
		key := pathToKey(filepath.ToSlash(rel))
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: failed to list keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Exists checks if a key exists in storage.
func (f *FileBackend) Exists(key string) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return false, ErrClosed
	}

	path, err := f.keyToPath(key)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("storage: failed to stat key %q: %w", key, err)
	}
	return true, nil
}

// Close marks the backend as closed; subsequent operations fail with
// ErrClosed.
func (f *FileBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return nil
}

// keyToPath maps a storage key to a file path under the root directory.
func (f *FileBackend) keyToPath(key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}

	segments := strings.Split(key, "/")
	escaped := make([]string, len(segments))
	for i, segment := range segments {
		if segment == "" {
			return "", ErrInvalidKey
		}
		escaped[i] = escapeSegment(segment)
	}
	return filepath.Join(append([]string{f.rootDir}, escaped...)...), nil
}

// escapeSegment hex-encodes a path segment unless it is already composed of
// safe characters. Escaped segments carry an "x-" prefix so they decode
// unambiguously.
func escapeSegment(segment string) string {
	if isSafeSegment(segment) {
		return segment
	}
	return "x-" + hex.EncodeToString([]byte(segment))
}

func unescapeSegment(segment string) string {
	if strings.HasPrefix(segment, "x-") {
		if decoded, err := hex.DecodeString(segment[2:]); err == nil {
			return string(decoded)
		}
	}
	return segment
}

func isSafeSegment(segment string) bool {
	if segment == "." || segment == ".." || strings.HasPrefix(segment, "x-") {
		return false
	}
	for _, r := range segment {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}

func pathToKey(relPath string) string {
	segments := strings.Split(relPath, "/")
	for i, segment := range segments {
		segments[i] = unescapeSegment(segment)
	}
	return strings.Join(segments, "/")
}
