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

import (
	"fmt"
	"strings"

	"github.com/99designs/keyring"
)

// KeyringKeystore implements the Keystore interface on top of the platform
// credential store (macOS Keychain, Windows Credential Manager, Secret
// Service on Linux) via 99designs/keyring, falling back to an encrypted
// file backend where no native store is available.
type KeyringKeystore struct {
	ring keyring.Keyring
}

// KeyringConfig configures the platform keystore.
type KeyringConfig struct {
	// ServiceName identifies this application to the credential store.
	ServiceName string

	// FileDir is the directory for the encrypted-file fallback backend.
	FileDir string

	// FilePassword supplies the password for the encrypted-file fallback.
	// Ignored when a native backend is available.
	FilePassword func(prompt string) (string, error)
}

// NewKeyring opens the platform credential store.
// Returns ErrAccessDenied if the store cannot be opened.
func NewKeyring(config *KeyringConfig) (*KeyringKeystore, error) {
	if config == nil || config.ServiceName == "" {
		return nil, fmt.Errorf("keystore: service name is required")
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:      config.ServiceName,
		FileDir:          config.FileDir,
		FilePasswordFunc: config.FilePassword,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}

	return &KeyringKeystore{ring: ring}, nil
}

// Store persists secret bytes under the given id.
func (k *KeyringKeystore) Store(keyID string, secret []byte) error {
	err := k.ring.Set(keyring.Item{
		Key:   keyID,
		Data:  secret,
		Label: keyID,
	})
	if err != nil {
		return mapKeyringErr(err)
	}
	return nil
}

// Retrieve returns the secret bytes stored under the given id.
func (k *KeyringKeystore) Retrieve(keyID string) ([]byte, error) {
	item, err := k.ring.Get(keyID)
	if err != nil {
		return nil, mapKeyringErr(err)
	}
	if len(item.Data) == 0 {
		return nil, ErrCorrupted
	}
	return item.Data, nil
}

// Delete removes the secret stored under the given id.
func (k *KeyringKeystore) Delete(keyID string) error {
	if err := k.ring.Remove(keyID); err != nil {
		return mapKeyringErr(err)
	}
	return nil
}

// mapKeyringErr translates backend errors into the keystore error taxonomy.
func mapKeyringErr(err error) error {
	if err == keyring.ErrKeyNotFound {
		return ErrNotFound
	}
	// Backends report denial differently; match on message as a fallback.
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "denied") || strings.Contains(msg, "cancel") {
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrCorrupted, err)
}
