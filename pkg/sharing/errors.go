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

package sharing

import "errors"

var (
	// ErrPermissionDenied indicates the caller's role does not allow the
	// operation. Raised by the local pre-check before any network call.
	ErrPermissionDenied = errors.New("sharing: permission denied")

	// ErrShareExpired indicates a one-off share was accepted after its
	// stated expiry.
	ErrShareExpired = errors.New("sharing: share expired")

	// ErrMemberNotFound indicates no membership record exists for the
	// identity in the vault.
	ErrMemberNotFound = errors.New("sharing: member not found")

	// ErrMemberExists indicates the identity is already a member.
	ErrMemberExists = errors.New("sharing: member already exists")

	// ErrOwnerExists indicates an attempt to add a second Owner; shared
	// vaults have exactly one.
	ErrOwnerExists = errors.New("sharing: vault already has an owner")

	// ErrRemoveOwner indicates an attempt to remove the vault owner.
	ErrRemoveOwner = errors.New("sharing: cannot remove vault owner")

	// ErrInvalidPublicKey indicates a malformed X25519 public key.
	ErrInvalidPublicKey = errors.New("sharing: invalid public key")

	// ErrNotShared indicates the vault is private and has no membership.
	ErrNotShared = errors.New("sharing: vault is not shared")
)
