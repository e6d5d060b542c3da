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
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-secretvault/pkg/envelope"
	"github.com/jeremyhahn/go-secretvault/pkg/storage"
	"github.com/jeremyhahn/go-secretvault/pkg/types"
	"github.com/jeremyhahn/go-secretvault/pkg/vault"
)

type device struct {
	store  *vault.Store
	engine *Engine
}

func newDevice(t *testing.T, remote RemoteStore) *device {
	t.Helper()

	store := vault.NewStore(storage.NewMemory(), nil)
	engine, err := New(Config{
		Remote:          remote,
		Store:           store,
		RetryBudget:     5,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	})
	require.NoError(t, err)
	return &device{store: store, engine: engine}
}

func testKEK(t *testing.T) []byte {
	t.Helper()

	kek := make([]byte, envelope.KeySize)
	_, err := rand.Read(kek)
	require.NoError(t, err)
	return kek
}

func TestProvision(t *testing.T) {
	remote := NewMemoryRemote()
	dev := newDevice(t, remote)

	v, err := dev.store.CreateVault("Team", types.VaultTypeShared, uuid.New())
	require.NoError(t, err)

	require.NoError(t, dev.engine.Provision(context.Background(), v))
	assert.NotEmpty(t, v.RemoteDB)
	assert.Equal(t, RemoteDBName(v), v.RemoteDB)
	assert.True(t, remote.Exists(v.RemoteDB))

	// Handle persisted on the stored vault
	stored, err := dev.store.GetVault(v.ID)
	require.NoError(t, err)
	assert.Equal(t, v.RemoteDB, stored.RemoteDB)
}

func TestProvisionPrivateVault(t *testing.T) {
	dev := newDevice(t, NewMemoryRemote())

	v, err := dev.store.CreateVault("Home", types.VaultTypePrivate, uuid.New())
	require.NoError(t, err)

	err = dev.engine.Provision(context.Background(), v)
	assert.ErrorIs(t, err, ErrNotSyncable)
}

func TestSyncReplicatesAcrossDevices(t *testing.T) {
	ctx := context.Background()
	remote := NewMemoryRemote()
	kek := testKEK(t)

	devA := newDevice(t, remote)
	v, err := devA.store.CreateVault("Team", types.VaultTypeShared, uuid.New())
	require.NoError(t, err)
	require.NoError(t, devA.engine.Provision(ctx, v))

	entry, err := devA.store.CreateEntry(v.ID, types.CategoryPassword, "db-admin", []byte("hunter2"), kek)
	require.NoError(t, err)
	require.NoError(t, devA.engine.Sync(ctx, v.ID))
	assert.Equal(t, types.SyncSynced, devA.engine.State(v.ID))

	// Second device joins the vault and pulls
	devB := newDevice(t, remote)
	require.NoError(t, devB.store.SaveVault(v))
	require.NoError(t, devB.engine.Sync(ctx, v.ID))

	plaintext, err := devB.store.ReadEntry(v.ID, entry.ID, kek)
	require.NoError(t, err)
	assert.Equal(t, []byte("hunter2"), plaintext)
}

func TestSyncConflictLastWriterWins(t *testing.T) {
	ctx := context.Background()
	remote := NewMemoryRemote()
	kek := testKEK(t)

	devA := newDevice(t, remote)
	v, err := devA.store.CreateVault("Team", types.VaultTypeShared, uuid.New())
	require.NoError(t, err)
	require.NoError(t, devA.engine.Provision(ctx, v))

	entry, err := devA.store.CreateEntry(v.ID, types.CategoryNote, "shared-note", []byte("v0"), kek)
	require.NoError(t, err)
	require.NoError(t, devA.engine.Sync(ctx, v.ID))

	devB := newDevice(t, remote)
	require.NoError(t, devB.store.SaveVault(v))
	require.NoError(t, devB.engine.Sync(ctx, v.ID))

	// Concurrent edits: B writes later than A
	updatedA, err := devA.store.UpdateEntry(v.ID, entry.ID, []byte("from-A"), kek)
	require.NoError(t, err)
	updatedA.ModifiedAt = time.Now().Add(-time.Minute)
	require.NoError(t, devA.store.SaveEntry(updatedA))

	_, err = devB.store.UpdateEntry(v.ID, entry.ID, []byte("from-B"), kek)
	require.NoError(t, err)
	require.NoError(t, devB.engine.Sync(ctx, v.ID))

	// A syncs, loses, and keeps its write as an orphan
	require.NoError(t, devA.engine.Sync(ctx, v.ID))
	assert.Equal(t, types.SyncConflict, devA.engine.State(v.ID))

	plaintext, err := devA.store.ReadEntry(v.ID, entry.ID, kek)
	require.NoError(t, err)
	assert.Equal(t, []byte("from-B"), plaintext)

	entries, err := devA.store.ListEntries(v.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var orphan *vault.Entry
	for _, e := range entries {
		if e.Orphan {
			orphan = e
		}
	}
	require.NotNil(t, orphan, "losing write must be preserved")
	recovered, err := devA.store.ReadEntry(v.ID, orphan.ID, kek)
	require.NoError(t, err)
	assert.Equal(t, []byte("from-A"), recovered)
}

func TestSyncPropagatesDeletion(t *testing.T) {
	ctx := context.Background()
	remote := NewMemoryRemote()
	kek := testKEK(t)

	devA := newDevice(t, remote)
	v, err := devA.store.CreateVault("Team", types.VaultTypeShared, uuid.New())
	require.NoError(t, err)
	require.NoError(t, devA.engine.Provision(ctx, v))

	entry, err := devA.store.CreateEntry(v.ID, types.CategoryAPIToken, "token", []byte("t"), kek)
	require.NoError(t, err)
	require.NoError(t, devA.engine.Sync(ctx, v.ID))

	require.NoError(t, devA.store.DeleteEntry(v.ID, entry.ID))
	require.NoError(t, devA.engine.Sync(ctx, v.ID))

	// Tombstone purged locally once the remote confirmed
	syncable, err := devA.store.SyncableEntries(v.ID)
	require.NoError(t, err)
	assert.Empty(t, syncable)

	// The remote keeps a tombstone row so replicas can tell the deletion
	// apart from a row they have not pushed yet
	rows, err := remote.Fetch(ctx, v.RemoteDB)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, entry.ID, rows[0].ID)
	assert.True(t, rows[0].Deleted)
}

func TestSyncDeletionReachesReplicas(t *testing.T) {
	ctx := context.Background()
	remote := NewMemoryRemote()
	kek := testKEK(t)

	devA := newDevice(t, remote)
	v, err := devA.store.CreateVault("Team", types.VaultTypeShared, uuid.New())
	require.NoError(t, err)
	require.NoError(t, devA.engine.Provision(ctx, v))

	entry, err := devA.store.CreateEntry(v.ID, types.CategoryPassword, "legacy", []byte("s3cr3t"), kek)
	require.NoError(t, err)
	require.NoError(t, devA.engine.Sync(ctx, v.ID))

	devB := newDevice(t, remote)
	require.NoError(t, devB.store.SaveVault(v))
	require.NoError(t, devB.engine.Sync(ctx, v.ID))
	_, err = devB.store.GetEntry(v.ID, entry.ID)
	require.NoError(t, err)

	require.NoError(t, devA.store.DeleteEntry(v.ID, entry.ID))
	require.NoError(t, devA.engine.Sync(ctx, v.ID))

	// The replica honors the deletion instead of re-uploading its copy
	require.NoError(t, devB.engine.Sync(ctx, v.ID))
	entries, err := devB.store.ListEntries(v.ID)
	require.NoError(t, err)
	assert.Empty(t, entries, "deleted entry must not survive on the replica")

	// Further cycles on either device must not resurrect the entry
	require.NoError(t, devB.engine.Sync(ctx, v.ID))
	require.NoError(t, devA.engine.Sync(ctx, v.ID))

	entriesA, err := devA.store.ListEntries(v.ID)
	require.NoError(t, err)
	assert.Empty(t, entriesA)

	rows, err := remote.Fetch(ctx, v.RemoteDB)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Deleted)
}

func TestNewerWriteSurvivesStaleDeletion(t *testing.T) {
	ctx := context.Background()
	remote := NewMemoryRemote()
	kek := testKEK(t)

	devA := newDevice(t, remote)
	v, err := devA.store.CreateVault("Team", types.VaultTypeShared, uuid.New())
	require.NoError(t, err)
	require.NoError(t, devA.engine.Provision(ctx, v))

	entry, err := devA.store.CreateEntry(v.ID, types.CategoryAPIToken, "ci-token", []byte("v0"), kek)
	require.NoError(t, err)
	entry.ModifiedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, devA.store.SaveEntry(entry))
	require.NoError(t, devA.engine.Sync(ctx, v.ID))

	devB := newDevice(t, remote)
	require.NoError(t, devB.store.SaveVault(v))
	require.NoError(t, devB.engine.Sync(ctx, v.ID))

	// A deletes before B rotates the token
	require.NoError(t, devA.store.DeleteEntry(v.ID, entry.ID))
	tombs, err := devA.store.SyncableEntries(v.ID)
	require.NoError(t, err)
	require.Len(t, tombs, 1)
	tombs[0].ModifiedAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, devA.store.SaveEntry(tombs[0]))

	_, err = devB.store.UpdateEntry(v.ID, entry.ID, []byte("v1"), kek)
	require.NoError(t, err)

	require.NoError(t, devA.engine.Sync(ctx, v.ID))

	// B's newer write wins over the stale deletion and re-propagates
	require.NoError(t, devB.engine.Sync(ctx, v.ID))
	plaintext, err := devB.store.ReadEntry(v.ID, entry.ID, kek)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), plaintext)

	require.NoError(t, devA.engine.Sync(ctx, v.ID))
	recovered, err := devA.store.ReadEntry(v.ID, entry.ID, kek)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), recovered)
}

func TestSyncCompletesVaultDeletion(t *testing.T) {
	ctx := context.Background()
	remote := NewMemoryRemote()

	dev := newDevice(t, remote)
	v, err := dev.store.CreateVault("Team", types.VaultTypeShared, uuid.New())
	require.NoError(t, err)
	require.NoError(t, dev.engine.Provision(ctx, v))

	require.NoError(t, dev.store.DeleteVault(v.ID))
	require.NoError(t, dev.engine.Sync(ctx, v.ID))

	assert.False(t, remote.Exists(v.RemoteDB))
	deleted, err := dev.store.DeletedVaults()
	require.NoError(t, err)
	assert.Empty(t, deleted)
}

func TestDroppedVaultRemovesReplica(t *testing.T) {
	ctx := context.Background()
	remote := NewMemoryRemote()
	kek := testKEK(t)

	devA := newDevice(t, remote)
	v, err := devA.store.CreateVault("Team", types.VaultTypeShared, uuid.New())
	require.NoError(t, err)
	require.NoError(t, devA.engine.Provision(ctx, v))

	_, err = devA.store.CreateEntry(v.ID, types.CategoryPassword, "pw", []byte("x"), kek)
	require.NoError(t, err)
	require.NoError(t, devA.engine.Sync(ctx, v.ID))

	devB := newDevice(t, remote)
	require.NoError(t, devB.store.SaveVault(v))
	require.NoError(t, devB.engine.Sync(ctx, v.ID))

	// Owner deletes the vault; the remote database is dropped
	require.NoError(t, devA.store.DeleteVault(v.ID))
	require.NoError(t, devA.engine.Sync(ctx, v.ID))
	require.False(t, remote.Exists(v.RemoteDB))

	// The replica's next cycle completes the deletion instead of erroring
	require.NoError(t, devB.engine.Sync(ctx, v.ID))

	_, err = devB.store.GetVault(v.ID)
	assert.ErrorIs(t, err, vault.ErrVaultNotFound)
	entries, err := devB.store.SyncableEntries(v.ID)
	require.NoError(t, err)
	assert.Empty(t, entries, "no partial replica may survive vault deletion")
}

// fakeMembers is a minimal MemberResolver holding member rows merged by
// last-writer-wins, mirroring how the sharing coordinator applies them.
type fakeMembers struct {
	mu   sync.Mutex
	rows map[uuid.UUID]Row
}

func newFakeMembers() *fakeMembers {
	return &fakeMembers{rows: make(map[uuid.UUID]Row)}
}

func (f *fakeMembers) LocalMemberRows(uuid.UUID) ([]Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rows := make([]Row, 0, len(f.rows))
	for _, row := range f.rows {
		rows = append(rows, row)
	}
	return rows, nil
}

func (f *fakeMembers) ApplyMemberRows(_ uuid.UUID, rows []Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, row := range rows {
		current, ok := f.rows[row.ID]
		if !ok || row.Modified.After(current.Modified) {
			f.rows[row.ID] = row
		}
	}
	return nil
}

func TestStaleMemberRowDoesNotMaskRemoval(t *testing.T) {
	ctx := context.Background()
	remote := NewMemoryRemote()
	members := newFakeMembers()

	store := vault.NewStore(storage.NewMemory(), nil)
	engine, err := New(Config{
		Remote:          remote,
		Store:           store,
		Members:         members,
		RetryBudget:     5,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	})
	require.NoError(t, err)

	v, err := store.CreateVault("Team", types.VaultTypeShared, uuid.New())
	require.NoError(t, err)
	require.NoError(t, engine.Provision(ctx, v))

	// This device still holds a live record for a member that was removed
	// elsewhere: the remote carries the newer tombstone
	memberID := uuid.New()
	members.rows[memberID] = Row{
		ID:       memberID,
		Kind:     RowKindMember,
		Data:     []byte(`{"role":"member"}`),
		Modified: time.Now().UTC().Add(-time.Hour),
	}
	removal := Row{
		ID:       memberID,
		Kind:     RowKindMember,
		Data:     []byte(`{"deleted":true}`),
		Modified: time.Now().UTC(),
		Deleted:  true,
	}
	require.NoError(t, remote.Upsert(ctx, v.RemoteDB, []Row{removal}))

	require.NoError(t, engine.Sync(ctx, v.ID))

	// The removal merged locally, and the stale record never overwrote the
	// remote tombstone
	assert.True(t, members.rows[memberID].Deleted)
	rows, err := remote.Fetch(ctx, v.RemoteDB)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Deleted)
}

func TestSyncRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	faulty := NewFaultyRemote(NewMemoryRemote(), 0)
	kek := testKEK(t)

	dev := newDevice(t, faulty)
	v, err := dev.store.CreateVault("Team", types.VaultTypeShared, uuid.New())
	require.NoError(t, err)
	require.NoError(t, dev.engine.Provision(ctx, v))

	_, err = dev.store.CreateEntry(v.ID, types.CategoryPassword, "pw", []byte("x"), kek)
	require.NoError(t, err)

	t.Run("recovers within budget", func(t *testing.T) {
		faulty.FailNext(2)
		require.NoError(t, dev.engine.Sync(ctx, v.ID))
		assert.Equal(t, types.SyncSynced, dev.engine.State(v.ID))
	})

	t.Run("surfaces after budget exhausted", func(t *testing.T) {
		faulty.FailNext(100)
		err := dev.engine.Sync(ctx, v.ID)
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.Equal(t, types.SyncDisconnected, dev.engine.State(v.ID))
		faulty.FailNext(0)
	})
}

func TestSyncCancellation(t *testing.T) {
	faulty := NewFaultyRemote(NewMemoryRemote(), 0)

	dev := newDevice(t, faulty)
	v, err := dev.store.CreateVault("Team", types.VaultTypeShared, uuid.New())
	require.NoError(t, err)
	require.NoError(t, dev.engine.Provision(context.Background(), v))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	faulty.FailNext(100)

	err = dev.engine.Sync(ctx, v.ID)
	require.Error(t, err)
	assert.Equal(t, types.SyncDisconnected, dev.engine.State(v.ID))
}

func TestSyncPrivateVault(t *testing.T) {
	dev := newDevice(t, NewMemoryRemote())

	v, err := dev.store.CreateVault("Home", types.VaultTypePrivate, uuid.New())
	require.NoError(t, err)

	err = dev.engine.Sync(context.Background(), v.ID)
	assert.ErrorIs(t, err, ErrNotSyncable)
}

func TestStrategyValidation(t *testing.T) {
	_, err := New(Config{
		Remote:   NewMemoryRemote(),
		Store:    vault.NewStore(storage.NewMemory(), nil),
		Strategy: Strategy("bogus"),
	})
	assert.Error(t, err)
}

func TestRemoteOnlyRefreshAndFlush(t *testing.T) {
	ctx := context.Background()
	remote := NewMemoryRemote()
	kek := testKEK(t)

	storeA := vault.NewStore(storage.NewMemory(), nil)
	engineA, err := New(Config{Remote: remote, Store: storeA, Strategy: StrategyRemoteOnly})
	require.NoError(t, err)

	v, err := storeA.CreateVault("Team", types.VaultTypeShared, uuid.New())
	require.NoError(t, err)
	require.NoError(t, engineA.Provision(ctx, v))

	entry, err := storeA.CreateEntry(v.ID, types.CategoryPassword, "pw", []byte("x"), kek)
	require.NoError(t, err)
	require.NoError(t, engineA.Flush(ctx, v.ID))

	// A cached-replica engine's Refresh is a no-op; remote-only pulls
	storeB := vault.NewStore(storage.NewMemory(), nil)
	engineB, err := New(Config{Remote: remote, Store: storeB, Strategy: StrategyRemoteOnly})
	require.NoError(t, err)
	require.NoError(t, storeB.SaveVault(v))
	require.NoError(t, engineB.Refresh(ctx, v.ID))

	_, err = storeB.GetEntry(v.ID, entry.ID)
	assert.NoError(t, err)

	cached, err := New(Config{Remote: remote, Store: vault.NewStore(storage.NewMemory(), nil)})
	require.NoError(t, err)
	assert.Equal(t, StrategyCachedReplica, cached.Strategy())
	// No vault provisioned on this engine's store, yet Refresh succeeds
	// because cached-replica defers to the background cycle.
	assert.NoError(t, cached.Refresh(ctx, v.ID))
}
