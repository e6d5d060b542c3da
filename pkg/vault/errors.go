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

package vault

import "errors"

var (
	// ErrVaultNotFound is returned when the vault does not exist or has
	// been tombstoned.
	ErrVaultNotFound = errors.New("vault: vault not found")

	// ErrEntryNotFound is returned when the entry does not exist or has
	// been tombstoned.
	ErrEntryNotFound = errors.New("vault: entry not found")

	// ErrInvalidCategory is returned when an entry category is not one of
	// the known classifications.
	ErrInvalidCategory = errors.New("vault: invalid category")

	// ErrInvalidName is returned when a vault or entry name is empty.
	ErrInvalidName = errors.New("vault: invalid name")
)
