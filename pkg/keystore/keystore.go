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

// Package keystore abstracts the OS-native credential store that holds the
// device's root secret key. The identity manager depends on this interface
// rather than any platform singleton, so platform implementations are
// swappable without touching crypto logic.
//
// The keystore is treated as a single-acquisition resource per process
// lifetime: callers retrieve the secret once at unlock and hold it in memory
// for the session, bounding the number of OS-level prompts and failures.
package keystore

import "errors"

var (
	// ErrNotFound is returned when no secret exists under the given id.
	ErrNotFound = errors.New("keystore: not found")

	// ErrAccessDenied is returned when the OS credential store refuses
	// access, typically because the user declined an unlock prompt.
	ErrAccessDenied = errors.New("keystore: access denied")

	// ErrCorrupted is returned when the stored secret exists but cannot be
	// read back intact.
	ErrCorrupted = errors.New("keystore: corrupted")
)

// Keystore is the boundary to the OS-native credential store.
// All implementations must be safe for concurrent use.
type Keystore interface {
	// Store persists secret bytes under the given id, overwriting any
	// existing value.
	Store(keyID string, secret []byte) error

	// Retrieve returns the secret bytes stored under the given id.
	// Returns ErrNotFound if no secret exists.
	Retrieve(keyID string) ([]byte, error)

	// Delete removes the secret stored under the given id.
	// Returns ErrNotFound if no secret exists.
	Delete(keyID string) error
}
