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

// Package identity manages the device's long-term X25519 keypair and derives
// the root key-encryption key. The secret key lives in the OS credential
// store (behind the keystore interface) and is fetched exactly once per
// session; it is never written to the local vault database.
package identity

import (
	"time"

	"github.com/google/uuid"
)

// uuidNamespace is the namespace for deriving identity UUIDs from public
// keys. Deriving the UUID from the public key keeps it stable when the same
// secret key is imported on a new device, so membership records keyed by
// identity UUID continue to match.
var uuidNamespace = uuid.MustParse("7bd25f2c-3b8f-4e11-9a64-0f92cf9e1d4a")

// Identity is the non-secret half of a device identity: a stable UUID and
// the distributable public key. The secret key is never part of this
// structure.
type Identity struct {
	// ID is the stable identity UUID, derived from the public key.
	ID uuid.UUID `json:"id"`

	// PublicKey is the 32-byte X25519 public key.
	PublicKey []byte `json:"public_key"`

	// CreatedAt is when the identity was first initialized on this device.
	CreatedAt time.Time `json:"created_at"`
}

// deriveID computes the stable identity UUID for a public key.
func deriveID(publicKey []byte) uuid.UUID {
	return uuid.NewSHA1(uuidNamespace, publicKey)
}
