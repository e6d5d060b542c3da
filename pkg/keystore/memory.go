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

package keystore

import "sync"

// MemoryKeystore provides an in-memory keystore implementation.
// This is useful for testing and ephemeral identities.
// Thread-safe using a read-write mutex.
type MemoryKeystore struct {
	secrets map[string][]byte
	mu      sync.RWMutex

	// FailWith, when non-nil, is returned by every operation. Tests use it
	// to simulate a denied or corrupted OS credential store.
	FailWith error
}

// NewMemory creates a new in-memory keystore.
func NewMemory() *MemoryKeystore {
	return &MemoryKeystore{
		secrets: make(map[string][]byte),
	}
}

// Store persists secret bytes under the given id.
func (m *MemoryKeystore) Store(keyID string, secret []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return m.FailWith
	}

	data := make([]byte, len(secret))
	copy(data, secret)
	m.secrets[keyID] = data
	return nil
}

// Retrieve returns the secret bytes stored under the given id.
func (m *MemoryKeystore) Retrieve(keyID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.FailWith != nil {
		return nil, m.FailWith
	}

	secret, ok := m.secrets[keyID]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy to prevent modification
	result := make([]byte, len(secret))
	copy(result, secret)
	return result, nil
}

// Delete removes the secret stored under the given id.
func (m *MemoryKeystore) Delete(keyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return m.FailWith
	}

	if _, ok := m.secrets[keyID]; !ok {
		return ErrNotFound
	}
	delete(m.secrets, keyID)
	return nil
}
