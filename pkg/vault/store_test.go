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

import (
	"crypto/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-secretvault/pkg/envelope"
	"github.com/jeremyhahn/go-secretvault/pkg/storage"
	"github.com/jeremyhahn/go-secretvault/pkg/types"
)

func newTestStore(t *testing.T) (*Store, []byte) {
	t.Helper()

	kek := make([]byte, envelope.KeySize)
	_, err := rand.Read(kek)
	require.NoError(t, err)

	return NewStore(storage.NewMemory(), nil), kek
}

func TestCreateAndReadEntry(t *testing.T) {
	store, kek := newTestStore(t)
	owner := uuid.New()

	v, err := store.CreateVault("Home", types.VaultTypePrivate, owner)
	require.NoError(t, err)

	entry, err := store.CreateEntry(v.ID, types.CategoryPassword, "router", []byte("s3cr3t"), kek)
	require.NoError(t, err)
	require.NotNil(t, entry.Envelope)
	assert.NotEmpty(t, entry.Envelope.WrappedDEK)

	plaintext, err := store.ReadEntry(v.ID, entry.ID, kek)
	require.NoError(t, err)
	assert.Equal(t, []byte("s3cr3t"), plaintext)
}

func TestCreateEntryZeroesPlaintext(t *testing.T) {
	store, kek := newTestStore(t)
	v, err := store.CreateVault("Home", types.VaultTypePrivate, uuid.New())
	require.NoError(t, err)

	plaintext := []byte("s3cr3t")
	_, err = store.CreateEntry(v.ID, types.CategoryPassword, "router", plaintext, kek)
	require.NoError(t, err)

	assert.Equal(t, make([]byte, 6), plaintext, "plaintext buffer must be zeroed")
}

func TestUpdateEntryRotatesKeyMaterial(t *testing.T) {
	store, kek := newTestStore(t)
	v, err := store.CreateVault("Home", types.VaultTypePrivate, uuid.New())
	require.NoError(t, err)

	entry, err := store.CreateEntry(v.ID, types.CategoryPassword, "router", []byte("s3cr3t"), kek)
	require.NoError(t, err)
	firstEnvelope := entry.Envelope

	// Re-encrypting the same value produces an entirely different envelope
	updated, err := store.UpdateEntry(v.ID, entry.ID, []byte("s3cr3t"), kek)
	require.NoError(t, err)

	assert.NotEqual(t, firstEnvelope.Ciphertext, updated.Envelope.Ciphertext)
	assert.NotEqual(t, firstEnvelope.Nonce, updated.Envelope.Nonce)
	assert.NotEqual(t, firstEnvelope.WrappedDEK, updated.Envelope.WrappedDEK)
	assert.True(t, updated.ModifiedAt.After(entry.CreatedAt) || updated.ModifiedAt.Equal(entry.CreatedAt))

	plaintext, err := store.ReadEntry(v.ID, entry.ID, kek)
	require.NoError(t, err)
	assert.Equal(t, []byte("s3cr3t"), plaintext)
}

func TestReadEntryWithWrongKEK(t *testing.T) {
	store, kek := newTestStore(t)
	v, err := store.CreateVault("Home", types.VaultTypePrivate, uuid.New())
	require.NoError(t, err)

	entry, err := store.CreateEntry(v.ID, types.CategoryNote, "note", []byte("text"), kek)
	require.NoError(t, err)

	wrongKEK := make([]byte, envelope.KeySize)
	_, err = rand.Read(wrongKEK)
	require.NoError(t, err)

	_, err = store.ReadEntry(v.ID, entry.ID, wrongKEK)
	assert.ErrorIs(t, err, envelope.ErrDecryptionFailed)
}

func TestDeleteEntryPrivatePurges(t *testing.T) {
	store, kek := newTestStore(t)
	v, err := store.CreateVault("Home", types.VaultTypePrivate, uuid.New())
	require.NoError(t, err)

	entry, err := store.CreateEntry(v.ID, types.CategoryPassword, "router", []byte("x"), kek)
	require.NoError(t, err)

	require.NoError(t, store.DeleteEntry(v.ID, entry.ID))

	_, err = store.GetEntry(v.ID, entry.ID)
	assert.ErrorIs(t, err, ErrEntryNotFound)

	// No tombstone left behind for private vaults
	syncable, err := store.SyncableEntries(v.ID)
	require.NoError(t, err)
	assert.Empty(t, syncable)
}

func TestDeleteEntrySharedTombstones(t *testing.T) {
	store, kek := newTestStore(t)
	v, err := store.CreateVault("Team", types.VaultTypeShared, uuid.New())
	require.NoError(t, err)

	entry, err := store.CreateEntry(v.ID, types.CategoryAPIToken, "ci-token", []byte("tok"), kek)
	require.NoError(t, err)

	require.NoError(t, store.DeleteEntry(v.ID, entry.ID))

	// Hidden from reads and listings
	_, err = store.GetEntry(v.ID, entry.ID)
	assert.ErrorIs(t, err, ErrEntryNotFound)

	entries, err := store.ListEntries(v.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// But still present for the sync engine, stripped of ciphertext
	syncable, err := store.SyncableEntries(v.ID)
	require.NoError(t, err)
	require.Len(t, syncable, 1)
	assert.True(t, syncable[0].Deleted)
	assert.Nil(t, syncable[0].Envelope)
}

func TestDeleteVault(t *testing.T) {
	t.Run("private purges immediately", func(t *testing.T) {
		store, kek := newTestStore(t)
		v, err := store.CreateVault("Home", types.VaultTypePrivate, uuid.New())
		require.NoError(t, err)
		_, err = store.CreateEntry(v.ID, types.CategoryNote, "n", []byte("x"), kek)
		require.NoError(t, err)

		require.NoError(t, store.DeleteVault(v.ID))

		_, err = store.GetVault(v.ID)
		assert.ErrorIs(t, err, ErrVaultNotFound)
	})

	t.Run("shared tombstones until sync confirms", func(t *testing.T) {
		store, _ := newTestStore(t)
		v, err := store.CreateVault("Team", types.VaultTypeShared, uuid.New())
		require.NoError(t, err)

		require.NoError(t, store.DeleteVault(v.ID))

		_, err = store.GetVault(v.ID)
		assert.ErrorIs(t, err, ErrVaultNotFound)

		deleted, err := store.DeletedVaults()
		require.NoError(t, err)
		require.Len(t, deleted, 1)
		assert.Equal(t, v.ID, deleted[0].ID)

		// Sync engine confirms remote drop, then purges
		require.NoError(t, store.PurgeVault(v.ID))
		deleted, err = store.DeletedVaults()
		require.NoError(t, err)
		assert.Empty(t, deleted)
	})
}

func TestListEntriesByCategory(t *testing.T) {
	store, kek := newTestStore(t)
	v, err := store.CreateVault("Home", types.VaultTypePrivate, uuid.New())
	require.NoError(t, err)

	_, err = store.CreateEntry(v.ID, types.CategoryPassword, "router", []byte("a"), kek)
	require.NoError(t, err)
	_, err = store.CreateEntry(v.ID, types.CategorySSHKey, "deploy", []byte("b"), kek)
	require.NoError(t, err)
	_, err = store.CreateEntry(v.ID, types.CategoryPassword, "wifi", []byte("c"), kek)
	require.NoError(t, err)

	passwords, err := store.ListEntriesByCategory(v.ID, types.CategoryPassword)
	require.NoError(t, err)
	assert.Len(t, passwords, 2)

	sshKeys, err := store.ListEntriesByCategory(v.ID, types.CategorySSHKey)
	require.NoError(t, err)
	assert.Len(t, sshKeys, 1)
}

func TestEntryValidation(t *testing.T) {
	store, kek := newTestStore(t)
	v, err := store.CreateVault("Home", types.VaultTypePrivate, uuid.New())
	require.NoError(t, err)

	_, err = store.CreateEntry(v.ID, types.Category("bogus"), "name", []byte("x"), kek)
	assert.ErrorIs(t, err, ErrInvalidCategory)

	_, err = store.CreateEntry(v.ID, types.CategoryNote, "", []byte("x"), kek)
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = store.CreateEntry(uuid.New(), types.CategoryNote, "name", []byte("x"), kek)
	assert.ErrorIs(t, err, ErrVaultNotFound)

	_, err = store.CreateVault("", types.VaultTypePrivate, uuid.New())
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestOrphansExcludedFromSync(t *testing.T) {
	store, kek := newTestStore(t)
	v, err := store.CreateVault("Team", types.VaultTypeShared, uuid.New())
	require.NoError(t, err)

	entry, err := store.CreateEntry(v.ID, types.CategoryPassword, "pw", []byte("x"), kek)
	require.NoError(t, err)

	orphan := *entry
	orphan.ID = uuid.New()
	orphan.Orphan = true
	require.NoError(t, store.SaveEntry(&orphan))

	syncable, err := store.SyncableEntries(v.ID)
	require.NoError(t, err)
	require.Len(t, syncable, 1)
	assert.Equal(t, entry.ID, syncable[0].ID)

	// Orphans remain user-visible for recovery
	entries, err := store.ListEntries(v.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
