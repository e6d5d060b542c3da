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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends returns one of each Backend implementation for shared tests.
func backends(t *testing.T) map[string]Backend {
	t.Helper()

	file, err := NewFile(t.TempDir())
	require.NoError(t, err)

	return map[string]Backend{
		"memory": NewMemory(),
		"file":   file,
	}
}

func TestBackendCRUD(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			key := "vaults/abc123"
			value := []byte(`{"name":"Home"}`)

			require.NoError(t, backend.Put(key, value))

			got, err := backend.Get(key)
			require.NoError(t, err)
			assert.Equal(t, value, got)

			exists, err := backend.Exists(key)
			require.NoError(t, err)
			assert.True(t, exists)

			require.NoError(t, backend.Delete(key))

			_, err = backend.Get(key)
			assert.ErrorIs(t, err, ErrNotFound)

			exists, err = backend.Exists(key)
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestBackendOverwrite(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, backend.Put("k", []byte("one")))
			require.NoError(t, backend.Put("k", []byte("two")))

			got, err := backend.Get("k")
			require.NoError(t, err)
			assert.Equal(t, []byte("two"), got)
		})
	}
}

func TestBackendList(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, backend.Put("entries/v1/e1", []byte("a")))
			require.NoError(t, backend.Put("entries/v1/e2", []byte("b")))
			require.NoError(t, backend.Put("entries/v2/e3", []byte("c")))
			require.NoError(t, backend.Put("vaults/v1", []byte("d")))

			keys, err := backend.List("entries/v1/")
			require.NoError(t, err)
			assert.Equal(t, []string{"entries/v1/e1", "entries/v1/e2"}, keys)

			all, err := backend.List("")
			require.NoError(t, err)
			assert.Len(t, all, 4)
		})
	}
}

func TestBackendErrors(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := backend.Get("missing")
			assert.ErrorIs(t, err, ErrNotFound)

			assert.ErrorIs(t, backend.Delete("missing"), ErrNotFound)
			assert.ErrorIs(t, backend.Put("", []byte("v")), ErrInvalidKey)
		})
	}
}

func TestBackendClosed(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, backend.Put("k", []byte("v")))
			require.NoError(t, backend.Close())

			_, err := backend.Get("k")
			assert.ErrorIs(t, err, ErrClosed)
			assert.ErrorIs(t, backend.Put("k", nil), ErrClosed)
			_, err = backend.List("")
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	backend := NewMemory()
	require.NoError(t, backend.Put("k", []byte("value")))

	got, err := backend.Get("k")
	require.NoError(t, err)
	got[0] = 'X'

	again, err := backend.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), again)
}

func TestFileBackendUnsafeKeys(t *testing.T) {
	backend, err := NewFile(t.TempDir())
	require.NoError(t, err)

	// Keys with traversal or odd characters round-trip safely
	keys := []string{
		"entries/../escape",
		"weird key/with spaces",
		"unicode/ключ",
	}
	for _, key := range keys {
		require.NoError(t, backend.Put(key, []byte("v")), key)

		got, err := backend.Get(key)
		require.NoError(t, err, key)
		assert.Equal(t, []byte("v"), got)
	}

	listed, err := backend.List("")
	require.NoError(t, err)
	assert.Len(t, listed, len(keys))
}

func TestFileBackendPersistence(t *testing.T) {
	dir := t.TempDir()

	backend, err := NewFile(dir)
	require.NoError(t, err)
	require.NoError(t, backend.Put("vaults/v1", []byte("data")))
	require.NoError(t, backend.Close())

	reopened, err := NewFile(dir)
	require.NoError(t, err)

	got, err := reopened.Get("vaults/v1")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), got)
}
