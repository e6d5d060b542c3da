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

// Package metrics provides an adapter interface for sync engine telemetry,
// allowing calling applications to plug in their own metrics collection.
//
// This follows the same pattern as the logger adapter - a clean interface
// with a no-op default and a Prometheus implementation for applications that
// want real collection.
package metrics

import "time"

// Standard metric names emitted by the sync engine
const (
	// MetricSyncTotal counts completed sync cycles per vault
	MetricSyncTotal = "secretvault.sync.total"

	// MetricSyncConflicts counts conflicting concurrent writes resolved by
	// last-writer-wins
	MetricSyncConflicts = "secretvault.sync.conflicts"

	// MetricSyncRetries counts remote operations retried after transient
	// failures
	MetricSyncRetries = "secretvault.sync.retries"

	// MetricSyncFailures counts sync cycles abandoned after the retry budget
	// was exhausted
	MetricSyncFailures = "secretvault.sync.failures"

	// MetricSyncDuration observes the wall-clock duration of sync cycles
	MetricSyncDuration = "secretvault.sync.duration"
)

// Adapter is the interface for metrics adapters. Implementations must be
// safe for concurrent use.
type Adapter interface {
	// IncCounter increments the named counter by 1.
	IncCounter(name string, labels map[string]string)

	// ObserveDuration records a duration observation for the named metric.
	ObserveDuration(name string, d time.Duration, labels map[string]string)
}
