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

package identity

import "errors"

var (
	// ErrInvalidKeyFormat is returned when an imported secret key fails
	// length or curve validation.
	ErrInvalidKeyFormat = errors.New("identity: invalid key format")

	// ErrLocked is returned when an operation requires the secret key but
	// the identity has not been initialized or unlocked this session.
	ErrLocked = errors.New("identity: locked")

	// ErrNoMasterPassword is returned by UnlockWithPassword when no master
	// password has been set for this identity.
	ErrNoMasterPassword = errors.New("identity: master password not set")

	// ErrNotInitialized is returned when no identity exists yet.
	ErrNotInitialized = errors.New("identity: not initialized")
)
