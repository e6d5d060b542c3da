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

// Package types defines the shared domain types for the secrets vault:
// vault and entry classifications, membership roles, sync states, and the
// envelope structure in which all secret material is persisted and
// transmitted.
package types

// VaultType classifies a vault by its synchronization behavior.
type VaultType string

const (
	// VaultTypePrivate is a local-only vault with no remote database.
	VaultTypePrivate VaultType = "private"

	// VaultTypeShared is a vault backed by exactly one remote database
	// and replicated to every member's device.
	VaultTypeShared VaultType = "shared"
)

// Category classifies the payload of an entry. The category is stored as
// non-secret metadata and may be replicated in cleartext.
type Category string

const (
	CategoryPassword    Category = "password"
	CategorySSHKey      Category = "sshkey"
	CategoryAPIToken    Category = "apitoken"
	CategoryCertificate Category = "certificate"
	CategoryNote        Category = "note"
	CategoryCustom      Category = "custom"
)

// Valid reports whether the category is one of the known classifications.
func (c Category) Valid() bool {
	switch c {
	case CategoryPassword, CategorySSHKey, CategoryAPIToken,
		CategoryCertificate, CategoryNote, CategoryCustom:
		return true
	}
	return false
}

// Role is a membership role on a shared vault. Roles are ordered by
// privilege: Owner > Admin > Member > ReadOnly.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleAdmin    Role = "admin"
	RoleMember   Role = "member"
	RoleReadOnly Role = "readonly"
)

// privilege returns the numeric rank of the role. Unknown roles rank below
// every defined role so they never pass a permission check.
func (r Role) privilege() int {
	switch r {
	case RoleOwner:
		return 4
	case RoleAdmin:
		return 3
	case RoleMember:
		return 2
	case RoleReadOnly:
		return 1
	}
	return 0
}

// Valid reports whether the role is one of the defined roles.
func (r Role) Valid() bool {
	return r.privilege() > 0
}

// CanRead reports whether the role may read entries.
func (r Role) CanRead() bool {
	return r.privilege() >= RoleReadOnly.privilege()
}

// CanWrite reports whether the role may create, update, or delete entries.
func (r Role) CanWrite() bool {
	return r.privilege() >= RoleMember.privilege()
}

// CanManageMembers reports whether the role may add or remove members and
// change member roles.
func (r Role) CanManageMembers() bool {
	return r.privilege() >= RoleAdmin.privilege()
}

// SyncState is the per-vault synchronization state machine state.
type SyncState int

const (
	// SyncDisconnected means no connection to the remote store. Entered on
	// connectivity loss or fatal auth/permission failure.
	SyncDisconnected SyncState = iota

	// SyncConnecting means a sync cycle is establishing the remote session.
	SyncConnecting

	// SyncSynced means the last sync cycle completed with local and remote
	// state converged.
	SyncSynced

	// SyncConflict means the last cycle detected concurrent writes that were
	// resolved by last-writer-wins, preserving losing writes as orphans.
	SyncConflict
)

// String returns the state name used in logs and metrics labels.
func (s SyncState) String() string {
	switch s {
	case SyncDisconnected:
		return "disconnected"
	case SyncConnecting:
		return "connecting"
	case SyncSynced:
		return "synced"
	case SyncConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// EnvelopeVersion is the current envelope format version. The version is
// carried on every envelope so the cipher and KEK derivation can be upgraded
// without breaking old envelopes.
const EnvelopeVersion = 1

// Envelope is the only form in which secret payloads are persisted or
// transmitted. It combines the AEAD output for the payload with the DEK
// wrapped under the effective KEK. The remote store and the local database
// only ever see envelopes, never plaintext or raw keys.
type Envelope struct {
	// Version is the envelope format version.
	Version uint8 `json:"version"`

	// Nonce is the 24-byte XChaCha20-Poly1305 nonce for the payload,
	// freshly random for every encryption.
	Nonce []byte `json:"nonce"`

	// Ciphertext is the encrypted payload, without the authentication tag.
	Ciphertext []byte `json:"ciphertext"`

	// Tag is the 16-byte Poly1305 authentication tag for the payload.
	Tag []byte `json:"tag"`

	// WrappedDEK is the payload's data-encryption key, encrypted under the
	// effective KEK: a 24-byte nonce followed by ciphertext and tag.
	WrappedDEK []byte `json:"wrapped_dek"`
}
