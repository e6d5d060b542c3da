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

package syncengine

import "errors"

var (
	// ErrUnavailable indicates a transient remote store failure. Operations
	// failing with this error are retried with exponential backoff until the
	// retry budget is exhausted.
	ErrUnavailable = errors.New("syncengine: remote store unavailable")

	// ErrDatabaseNotFound indicates the remote database for a vault does not
	// exist, typically because the vault was deleted from another device or
	// the caller's access was revoked.
	ErrDatabaseNotFound = errors.New("syncengine: remote database not found")

	// ErrNotSyncable indicates a sync operation was requested for a vault
	// that has no remote database (private vaults never sync).
	ErrNotSyncable = errors.New("syncengine: vault has no remote database")
)
