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

package backup

import "errors"

var (
	// ErrAuthFailed indicates the archive could not be authenticated with
	// the supplied password. Import aborts with zero side effects.
	ErrAuthFailed = errors.New("backup: authentication failed")

	// ErrUnsupportedVersion indicates an archive format version this
	// build does not understand. Fails closed.
	ErrUnsupportedVersion = errors.New("backup: unsupported archive version")

	// ErrMalformed indicates a structurally invalid archive.
	ErrMalformed = errors.New("backup: malformed archive")
)
