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

package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-secretvault/pkg/envelope"
	"github.com/jeremyhahn/go-secretvault/pkg/kdf"
	"github.com/jeremyhahn/go-secretvault/pkg/keystore"
	"github.com/jeremyhahn/go-secretvault/pkg/storage"
)

// newTestManager returns a manager over in-memory backends with reduced
// Argon2id costs so tests do not allocate 256 MiB.
func newTestManager(t *testing.T) (*Manager, *keystore.MemoryKeystore, *storage.MemoryBackend) {
	t.Helper()

	ks := keystore.NewMemory()
	store := storage.NewMemory()
	mgr := NewManager(ks, store, nil)
	mgr.PasswordParams = &kdf.KDFParams{
		Algorithm: kdf.AlgorithmArgon2id,
		Memory:    kdf.MinArgon2Memory,
		Time:      1,
		Threads:   1,
		KeyLength: kdf.KEKLength,
	}
	return mgr, ks, store
}

func TestInitialize(t *testing.T) {
	t.Run("creates identity on first use", func(t *testing.T) {
		mgr, ks, _ := newTestManager(t)

		id, err := mgr.Initialize()
		require.NoError(t, err)
		assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", id.ID.String())
		assert.Len(t, id.PublicKey, 32)

		// Secret key landed in the keystore, not local storage
		secret, err := ks.Retrieve("go-secretvault/identity")
		require.NoError(t, err)
		assert.Len(t, secret, 32)
	})

	t.Run("idempotent", func(t *testing.T) {
		mgr, _, _ := newTestManager(t)

		first, err := mgr.Initialize()
		require.NoError(t, err)

		second, err := mgr.Initialize()
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, first.PublicKey, second.PublicKey)
	})

	t.Run("reloads persisted identity", func(t *testing.T) {
		ks := keystore.NewMemory()
		store := storage.NewMemory()

		first, err := NewManager(ks, store, nil).Initialize()
		require.NoError(t, err)

		// New manager over the same backends sees the same identity
		second, err := NewManager(ks, store, nil).Initialize()
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("keystore unavailable", func(t *testing.T) {
		mgr, ks, _ := newTestManager(t)
		ks.FailWith = keystore.ErrAccessDenied

		_, err := mgr.Initialize()
		assert.ErrorIs(t, err, keystore.ErrAccessDenied)
	})
}

func TestDeriveKEK(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	_, err := mgr.DeriveKEK()
	assert.ErrorIs(t, err, ErrLocked)

	_, err = mgr.Initialize()
	require.NoError(t, err)

	kek1, err := mgr.DeriveKEK()
	require.NoError(t, err)
	require.Len(t, kek1, kdf.KEKLength)

	kek2, err := mgr.DeriveKEK()
	require.NoError(t, err)
	assert.Equal(t, kek1, kek2, "KEK derivation must be deterministic")
}

func TestExportImportSecretKey(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	_, err := mgr.Initialize()
	require.NoError(t, err)

	kek, err := mgr.DeriveKEK()
	require.NoError(t, err)

	exported, err := mgr.ExportSecretKey()
	require.NoError(t, err)

	// A fresh device imports the key and inherits identity and KEK
	other, _, _ := newTestManager(t)
	id, err := other.ImportSecretKey(exported)
	require.NoError(t, err)

	original, err := mgr.Identity()
	require.NoError(t, err)
	assert.Equal(t, original.ID, id.ID, "identity UUID must be stable across devices")

	otherKEK, err := other.DeriveKEK()
	require.NoError(t, err)
	assert.Equal(t, kek, otherKEK)
}

func TestImportSecretKeyValidation(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	tests := []struct {
		name    string
		encoded string
	}{
		{"not base64", "%%%not-base64%%%"},
		{"too short", "c2hvcnQ="},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mgr.ImportSecretKey(tt.encoded)
			assert.ErrorIs(t, err, ErrInvalidKeyFormat)
		})
	}
}

func TestMasterPassword(t *testing.T) {
	t.Run("unlock recovers identical KEK", func(t *testing.T) {
		mgr, _, store := newTestManager(t)
		_, err := mgr.Initialize()
		require.NoError(t, err)

		kek, err := mgr.DeriveKEK()
		require.NoError(t, err)

		require.NoError(t, mgr.SetMasterPassword("correct horse battery staple"))

		// Simulate a fresh process with a corrupted keystore: only local
		// storage survives.
		recovered := NewManager(keystore.NewMemory(), store, nil)
		_, err = recovered.UnlockWithPassword("correct horse battery staple")
		require.NoError(t, err)

		recoveredKEK, err := recovered.DeriveKEK()
		require.NoError(t, err)
		assert.Equal(t, kek, recoveredKEK,
			"password-derived unlock must produce a KEK bit-identical to the keystore path")
	})

	t.Run("wrong password", func(t *testing.T) {
		mgr, _, store := newTestManager(t)
		_, err := mgr.Initialize()
		require.NoError(t, err)
		require.NoError(t, mgr.SetMasterPassword("right"))

		recovered := NewManager(keystore.NewMemory(), store, nil)
		_, err = recovered.UnlockWithPassword("wrong")
		assert.ErrorIs(t, err, envelope.ErrDecryptionFailed)
	})

	t.Run("no password set", func(t *testing.T) {
		mgr, _, _ := newTestManager(t)
		_, err := mgr.UnlockWithPassword("anything")
		assert.ErrorIs(t, err, ErrNoMasterPassword)
	})

	t.Run("requires unlocked session", func(t *testing.T) {
		mgr, _, _ := newTestManager(t)
		assert.ErrorIs(t, mgr.SetMasterPassword("pw"), ErrLocked)
	})
}

func TestReset(t *testing.T) {
	mgr, ks, store := newTestManager(t)
	_, err := mgr.Initialize()
	require.NoError(t, err)
	require.NoError(t, mgr.SetMasterPassword("pw"))

	require.NoError(t, mgr.Reset())

	_, err = mgr.Identity()
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = mgr.DeriveKEK()
	assert.ErrorIs(t, err, ErrLocked)

	_, err = ks.Retrieve("go-secretvault/identity")
	assert.ErrorIs(t, err, keystore.ErrNotFound)
	_, err = store.Get("identity/self")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// A subsequent Initialize starts a brand new identity
	fresh, err := mgr.Initialize()
	require.NoError(t, err)
	assert.NotNil(t, fresh)
}
