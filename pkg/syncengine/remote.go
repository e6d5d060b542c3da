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

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RowKind discriminates the record types replicated through a vault's
// remote database.
type RowKind string

const (
	// RowKindEntry is an encrypted secret entry (envelope plus non-secret
	// metadata).
	RowKindEntry RowKind = "entry"

	// RowKindMember is a membership record carrying a per-member wrapped
	// vault KEK.
	RowKindMember RowKind = "member"
)

// Row is the unit of replication. Data is always ciphertext or non-secret
// metadata; the remote store never receives plaintext or key material.
type Row struct {
	ID       uuid.UUID `json:"id"`
	Kind     RowKind   `json:"kind"`
	Data     []byte    `json:"data"`
	Modified time.Time `json:"modified"`
	Deleted  bool      `json:"deleted"`
}

// RemoteStore is the row-oriented remote boundary. Every written value is
// already ciphertext. Writes are single-row upserts, atomic at row level, so
// a cancelled sync never leaves a partially written row.
//
// Implementations report transient failures as ErrUnavailable; any other
// error is treated as fatal and is not retried.
type RemoteStore interface {
	// Provision creates the named database. Provisioning an existing
	// database is a no-op.
	Provision(ctx context.Context, db string) error

	// Drop deletes the named database and all of its rows.
	Drop(ctx context.Context, db string) error

	// Upsert writes rows into the database, replacing rows with matching
	// ids.
	Upsert(ctx context.Context, db string, rows []Row) error

	// Fetch returns all rows in the database.
	Fetch(ctx context.Context, db string) ([]Row, error)

	// Delete removes a row by id. Deleting a missing row is a no-op.
	Delete(ctx context.Context, db string, id uuid.UUID) error
}

// MemoryRemote is an in-memory RemoteStore used by tests and by
// single-device deployments that want the sync code path without a server.
type MemoryRemote struct {
	mu  sync.RWMutex
	dbs map[string]map[uuid.UUID]Row
}

// NewMemoryRemote creates an empty in-memory remote store.
func NewMemoryRemote() *MemoryRemote {
	return &MemoryRemote{
		dbs: make(map[string]map[uuid.UUID]Row),
	}
}

// Provision implements RemoteStore.
func (m *MemoryRemote) Provision(_ context.Context, db string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.dbs[db]; !ok {
		m.dbs[db] = make(map[uuid.UUID]Row)
	}
	return nil
}

// Drop implements RemoteStore.
func (m *MemoryRemote) Drop(_ context.Context, db string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.dbs, db)
	return nil
}

// Upsert implements RemoteStore.
func (m *MemoryRemote) Upsert(_ context.Context, db string, rows []Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, ok := m.dbs[db]
	if !ok {
		return ErrDatabaseNotFound
	}
	for _, row := range rows {
		table[row.ID] = row
	}
	return nil
}

// Fetch implements RemoteStore.
func (m *MemoryRemote) Fetch(_ context.Context, db string) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	table, ok := m.dbs[db]
	if !ok {
		return nil, ErrDatabaseNotFound
	}
	rows := make([]Row, 0, len(table))
	for _, row := range table {
		rows = append(rows, row)
	}
	return rows, nil
}

// Delete implements RemoteStore.
func (m *MemoryRemote) Delete(_ context.Context, db string, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, ok := m.dbs[db]
	if !ok {
		return ErrDatabaseNotFound
	}
	delete(table, id)
	return nil
}

// Exists reports whether the named database has been provisioned.
func (m *MemoryRemote) Exists(db string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.dbs[db]
	return ok
}

// FaultyRemote wraps a RemoteStore and fails a configured number of calls
// with ErrUnavailable before passing through. Used to exercise the retry
// and backoff paths in tests.
type FaultyRemote struct {
	Inner RemoteStore

	mu       sync.Mutex
	failures int
	calls    int
}

// NewFaultyRemote wraps inner so the next failures calls return
// ErrUnavailable.
func NewFaultyRemote(inner RemoteStore, failures int) *FaultyRemote {
	return &FaultyRemote{
		Inner:    inner,
		failures: failures,
	}
}

// FailNext arms the wrapper to fail the next n calls.
func (f *FaultyRemote) FailNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
}

// Calls returns the total number of calls observed, including failed ones.
func (f *FaultyRemote) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FaultyRemote) fail() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return true
	}
	return false
}

// Provision implements RemoteStore.
func (f *FaultyRemote) Provision(ctx context.Context, db string) error {
	if f.fail() {
		return ErrUnavailable
	}
	return f.Inner.Provision(ctx, db)
}

// Drop implements RemoteStore.
func (f *FaultyRemote) Drop(ctx context.Context, db string) error {
	if f.fail() {
		return ErrUnavailable
	}
	return f.Inner.Drop(ctx, db)
}

// Upsert implements RemoteStore.
func (f *FaultyRemote) Upsert(ctx context.Context, db string, rows []Row) error {
	if f.fail() {
		return ErrUnavailable
	}
	return f.Inner.Upsert(ctx, db, rows)
}

// Fetch implements RemoteStore.
func (f *FaultyRemote) Fetch(ctx context.Context, db string) ([]Row, error) {
	if f.fail() {
		return nil, ErrUnavailable
	}
	return f.Inner.Fetch(ctx, db)
}

// Delete implements RemoteStore.
func (f *FaultyRemote) Delete(ctx context.Context, db string, id uuid.UUID) error {
	if f.fail() {
		return ErrUnavailable
	}
	return f.Inner.Delete(ctx, db, id)
}
