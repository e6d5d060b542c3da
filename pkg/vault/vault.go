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

// Package vault implements the local persistent store of vaults and entries.
// Entries hold envelopes as opaque blobs plus non-secret metadata; the store
// knows nothing about KEK/DEK semantics beyond handing bytes to the envelope
// cipher. Plaintext exists only transiently inside create/read/update calls
// and is never cached or persisted.
package vault

import (
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-secretvault/pkg/types"
)

// Vault is a named container for entries. Private vaults are local-only;
// Shared vaults are backed by exactly one remote database.
type Vault struct {
	// ID is the vault's unique identifier.
	ID uuid.UUID `json:"id"`

	// Name is the user-visible vault name.
	Name string `json:"name"`

	// Type is Private or Shared.
	Type types.VaultType `json:"type"`

	// OwnerID is the identity UUID of the vault owner.
	OwnerID uuid.UUID `json:"owner_id"`

	// RemoteDB is the remote database handle for Shared vaults, assigned
	// when the sync engine provisions the vault. Empty for Private vaults.
	RemoteDB string `json:"remote_db,omitempty"`

	// CreatedAt is the vault creation time.
	CreatedAt time.Time `json:"created_at"`

	// Deleted marks a Shared vault for deletion until the sync engine
	// confirms the remote database has been dropped, then the vault is
	// purged.
	Deleted bool `json:"deleted,omitempty"`
}

// Entry is a single secret belonging to exactly one vault. The payload is
// only ever present as an envelope.
type Entry struct {
	// ID is the entry's unique identifier.
	ID uuid.UUID `json:"id"`

	// VaultID is the owning vault.
	VaultID uuid.UUID `json:"vault_id"`

	// Category classifies the payload (non-secret metadata).
	Category types.Category `json:"category"`

	// Name is the user-visible entry name.
	Name string `json:"name"`

	// Envelope is the encrypted payload plus its wrapped DEK.
	Envelope *types.Envelope `json:"envelope"`

	// OwnerID is the identity UUID that created the entry.
	OwnerID uuid.UUID `json:"owner_id"`

	// CreatedAt is the creation time.
	CreatedAt time.Time `json:"created_at"`

	// ModifiedAt is the last write time. It keys last-writer-wins conflict
	// resolution during sync.
	ModifiedAt time.Time `json:"modified_at"`

	// Deleted tombstones the entry until deletion has propagated to the
	// remote store, after which the row is purged.
	Deleted bool `json:"deleted,omitempty"`

	// Orphan marks a local-only copy preserved when this write lost a
	// sync conflict. Orphans are never replicated.
	Orphan bool `json:"orphan,omitempty"`
}
