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

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKEK(t *testing.T) []byte {
	t.Helper()
	kek := make([]byte, KeySize)
	_, err := rand.Read(kek)
	require.NoError(t, err)
	return kek
}

func TestPayloadRoundTrip(t *testing.T) {
	plaintexts := [][]byte{
		[]byte("s3cr3t"),
		[]byte(""),
		[]byte("a much longer payload with some structure: {\"user\":\"root\",\"pass\":\"hunter2\"}"),
		make([]byte, 64*1024),
	}

	for _, plaintext := range plaintexts {
		dek, env, err := EncryptPayload(plaintext)
		require.NoError(t, err)
		require.Len(t, dek, KeySize)
		require.Len(t, env.Nonce, NonceSize)
		require.Len(t, env.Tag, Overhead)

		got, err := DecryptPayload(env, dek)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestEncryptFreshness(t *testing.T) {
	plaintext := []byte("same plaintext twice")

	dek1, env1, err := EncryptPayload(plaintext)
	require.NoError(t, err)
	dek2, env2, err := EncryptPayload(plaintext)
	require.NoError(t, err)

	// Fresh DEK and fresh nonce on every call
	assert.NotEqual(t, dek1, dek2)
	assert.NotEqual(t, env1.Nonce, env2.Nonce)
	assert.NotEqual(t, env1.Ciphertext, env2.Ciphertext)
}

func TestWrapUnwrapDEK(t *testing.T) {
	kek := newKEK(t)

	dek, err := NewDEK()
	require.NoError(t, err)

	wrapped, err := WrapDEK(dek, kek)
	require.NoError(t, err)
	assert.Greater(t, len(wrapped), KeySize)

	got, err := UnwrapDEK(wrapped, kek)
	require.NoError(t, err)
	assert.Equal(t, dek, got)
}

func TestUnwrapWithWrongKEK(t *testing.T) {
	kek := newKEK(t)
	wrongKEK := newKEK(t)

	dek, err := NewDEK()
	require.NoError(t, err)

	wrapped, err := WrapDEK(dek, kek)
	require.NoError(t, err)

	// A wrong KEK must yield ErrDecryptionFailed, never a wrong-but-valid DEK
	got, err := UnwrapDEK(wrapped, wrongKEK)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
	assert.Nil(t, got)
}

func TestUnwrapTamperedDEK(t *testing.T) {
	kek := newKEK(t)

	dek, err := NewDEK()
	require.NoError(t, err)
	wrapped, err := WrapDEK(dek, kek)
	require.NoError(t, err)

	t.Run("flipped ciphertext bit", func(t *testing.T) {
		tampered := make([]byte, len(wrapped))
		copy(tampered, wrapped)
		tampered[NonceSize] ^= 0x01

		_, err := UnwrapDEK(tampered, kek)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := UnwrapDEK(wrapped[:NonceSize], kek)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := UnwrapDEK(nil, kek)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})
}

func TestDecryptTamperedPayload(t *testing.T) {
	dek, env, err := EncryptPayload([]byte("payload"))
	require.NoError(t, err)

	env.Tag[0] ^= 0x01

	_, err = DecryptPayload(env, dek)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestSealOpen(t *testing.T) {
	kek := newKEK(t)
	plaintext := []byte("router password: s3cr3t")

	env, err := Seal(plaintext, kek)
	require.NoError(t, err)
	require.NotEmpty(t, env.WrappedDEK)

	got, err := Open(env, kek)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)

	_, err = Open(env, newKEK(t))
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestInvalidKeySizes(t *testing.T) {
	_, err := WrapDEK(make([]byte, 16), make([]byte, KeySize))
	assert.Error(t, err)

	_, err = WrapDEK(make([]byte, KeySize), make([]byte, 16))
	assert.Error(t, err)

	_, err = DecryptPayload(nil, make([]byte, KeySize))
	assert.Error(t, err)
}

func TestZero(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	Zero(buf)
	assert.Equal(t, []byte{0, 0, 0, 0}, buf)
}
