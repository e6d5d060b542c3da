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

package metrics

import "time"

// noopAdapter discards all metrics.
type noopAdapter struct{}

// NewNoop returns an adapter that discards all metrics. Used in tests and
// as the default when metrics collection is disabled.
func NewNoop() Adapter {
	return &noopAdapter{}
}

func (n *noopAdapter) IncCounter(name string, labels map[string]string) {}

func (n *noopAdapter) ObserveDuration(name string, d time.Duration, labels map[string]string) {}
