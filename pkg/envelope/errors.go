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

package envelope

import "errors"

// ErrDecryptionFailed is the single error for every authentication failure:
// wrong or rotated KEK, corrupted storage, or tampering. The causes are
// deliberately not differentiated, and callers must never retry on it -
// a wrong key will not become right.
var ErrDecryptionFailed = errors.New("envelope: decryption failed")
