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

// Package sharing grants other identities access to shared vaults and to
// one-off secrets. Access is conveyed by wrapping key material under
// X25519 ECDH-derived wrapping keys: a vault KEK is wrapped once per member,
// and a one-off share re-wraps a single entry's DEK for one recipient.
// Invite payloads never carry secret material.
package sharing

import (
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-secretvault/pkg/types"
)

// Member is a membership record for a shared vault. WrappedKEK is the vault
// KEK wrapped under the ECDH(grantor, member) derived wrapping key; the
// member recomputes the same wrapping key from its own private key and
// GrantorPublicKey.
type Member struct {
	// VaultID is the shared vault this membership belongs to.
	VaultID uuid.UUID `json:"vault_id"`

	// MemberID is the member's identity UUID.
	MemberID uuid.UUID `json:"member_id"`

	// PublicKey is the member's X25519 public key.
	PublicKey []byte `json:"public_key"`

	// GrantorPublicKey is the X25519 public key of the identity that
	// wrapped the vault KEK for this member.
	GrantorPublicKey []byte `json:"grantor_public_key"`

	// Role determines the member's permissions.
	Role types.Role `json:"role"`

	// WrappedKEK is the vault KEK wrapped for this member. Nil on
	// tombstoned records.
	WrappedKEK []byte `json:"wrapped_kek,omitempty"`

	// AddedAt is when the membership was created.
	AddedAt time.Time `json:"added_at"`

	// ModifiedAt keys last-writer-wins replication of membership changes.
	ModifiedAt time.Time `json:"modified_at"`

	// Deleted tombstones a removed member so the removal propagates to
	// other devices. Tombstones carry no wrapped KEK.
	Deleted bool `json:"deleted,omitempty"`
}

// Invite is the out-of-band payload handed to a prospective member. It
// scopes a sync credential to one vault's remote database and contains no
// secret key material; the member's access comes from their wrapped-KEK
// record, which replicates through the vault's remote database itself.
type Invite struct {
	// VaultID identifies the vault being joined.
	VaultID uuid.UUID `json:"vault_id"`

	// RemoteDB is the vault's remote database handle.
	RemoteDB string `json:"remote_db"`

	// URL is the join endpoint for the remote database.
	URL string `json:"url"`

	// Token is the sync credential scoped to the vault's database.
	Token string `json:"token"`

	// CreatedAt is when the invite was issued.
	CreatedAt time.Time `json:"created_at"`
}

// ShareGrant is a one-off secret share. The embedded envelope's DEK is
// wrapped under a one-time ECDH-derived wrapping key instead of a vault
// KEK, so only the named recipient can unwrap it.
type ShareGrant struct {
	// ID identifies the grant.
	ID uuid.UUID `json:"id"`

	// SenderPublicKey is the sender's X25519 public key, needed by the
	// recipient to recompute the shared wrapping key.
	SenderPublicKey []byte `json:"sender_public_key"`

	// Category and Name describe the shared secret (non-secret metadata).
	Category types.Category `json:"category"`
	Name     string         `json:"name"`

	// Envelope carries the ciphertext with its DEK re-wrapped for the
	// recipient.
	Envelope *types.Envelope `json:"envelope"`

	// ExpiresAt rejects late accepts with ErrShareExpired. Zero means no
	// expiry.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// CreatedAt is when the grant was created.
	CreatedAt time.Time `json:"created_at"`
}

// GrantOptions configures a one-off share.
type GrantOptions struct {
	// ExpiresAt rejects accepts after this time. Zero means no expiry.
	ExpiresAt time.Time
}

// Expired reports whether the grant's expiry has passed at time now.
func (g *ShareGrant) Expired(now time.Time) bool {
	return !g.ExpiresAt.IsZero() && now.After(g.ExpiresAt)
}
