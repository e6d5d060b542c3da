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
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-secretvault/pkg/storage"
	"github.com/jeremyhahn/go-secretvault/pkg/types"
)

func TestBackendRemote(t *testing.T) {
	ctx := context.Background()
	remote := NewBackendRemote(storage.NewMemory())

	t.Run("unprovisioned database", func(t *testing.T) {
		_, err := remote.Fetch(ctx, "nope")
		assert.ErrorIs(t, err, ErrDatabaseNotFound)
	})

	require.NoError(t, remote.Provision(ctx, "db1"))

	row := Row{ID: uuid.New(), Kind: RowKindEntry, Data: []byte("ciphertext")}
	require.NoError(t, remote.Upsert(ctx, "db1", []Row{row}))

	rows, err := remote.Fetch(ctx, "db1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, row.ID, rows[0].ID)
	assert.Equal(t, []byte("ciphertext"), rows[0].Data)

	require.NoError(t, remote.Delete(ctx, "db1", row.ID))
	rows, err = remote.Fetch(ctx, "db1")
	require.NoError(t, err)
	assert.Empty(t, rows)

	require.NoError(t, remote.Drop(ctx, "db1"))
	_, err = remote.Fetch(ctx, "db1")
	assert.ErrorIs(t, err, ErrDatabaseNotFound)
}

func TestSyncOverFileBackedRemote(t *testing.T) {
	ctx := context.Background()

	backend, err := storage.NewFile(t.TempDir())
	require.NoError(t, err)
	remote := NewBackendRemote(backend)

	devA := newDevice(t, remote)
	v, err := devA.store.CreateVault("Team", types.VaultTypeShared, uuid.New())
	require.NoError(t, err)
	require.NoError(t, devA.engine.Provision(ctx, v))

	kek := testKEK(t)
	entry, err := devA.store.CreateEntry(v.ID, types.CategoryPassword, "nas", []byte("secret"), kek)
	require.NoError(t, err)
	require.NoError(t, devA.engine.Sync(ctx, v.ID))

	devB := newDevice(t, remote)
	require.NoError(t, devB.store.SaveVault(v))
	require.NoError(t, devB.engine.Sync(ctx, v.ID))

	plaintext, err := devB.store.ReadEntry(v.ID, entry.ID, kek)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), plaintext)
}
