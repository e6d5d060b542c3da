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

package kdf

import (
	"crypto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Reduced Argon2 costs so the test suite does not allocate 256 MiB per case.
func testArgon2Params(salt []byte) *KDFParams {
	return &KDFParams{
		Algorithm: AlgorithmArgon2id,
		Salt:      salt,
		Memory:    MinArgon2Memory,
		Time:      1,
		Threads:   1,
		KeyLength: KEKLength,
	}
}

func TestArgon2Deterministic(t *testing.T) {
	adapter := NewArgon2Adapter()
	salt := []byte("0123456789abcdef")

	key1, err := adapter.DeriveKey([]byte("master-password"), testArgon2Params(salt))
	require.NoError(t, err)
	require.Len(t, key1, KEKLength)

	key2, err := adapter.DeriveKey([]byte("master-password"), testArgon2Params(salt))
	require.NoError(t, err)

	assert.Equal(t, key1, key2, "same password and salt must derive the same KEK")
}

func TestArgon2SaltSeparation(t *testing.T) {
	adapter := NewArgon2Adapter()

	key1, err := adapter.DeriveKey([]byte("master-password"), testArgon2Params([]byte("0123456789abcdef")))
	require.NoError(t, err)

	key2, err := adapter.DeriveKey([]byte("master-password"), testArgon2Params([]byte("fedcba9876543210")))
	require.NoError(t, err)

	assert.NotEqual(t, key1, key2, "different salts must derive different KEKs")
}

func TestArgon2ValidateParams(t *testing.T) {
	adapter := NewArgon2Adapter()
	salt := []byte("0123456789abcdef")

	tests := []struct {
		name   string
		mutate func(*KDFParams)
		want   error
	}{
		{"short salt", func(p *KDFParams) { p.Salt = []byte("short") }, ErrInvalidSalt},
		{"low memory", func(p *KDFParams) { p.Memory = 1024 }, ErrInvalidMemory},
		{"zero time", func(p *KDFParams) { p.Time = 0 }, ErrInvalidTime},
		{"zero threads", func(p *KDFParams) { p.Threads = 0 }, ErrInvalidThreads},
		{"zero key length", func(p *KDFParams) { p.KeyLength = 0 }, ErrInvalidKeyLength},
		{"wrong algorithm", func(p *KDFParams) { p.Algorithm = AlgorithmHKDF }, ErrUnsupportedAlgorithm},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := testArgon2Params(salt)
			tt.mutate(params)
			_, err := adapter.DeriveKey([]byte("password"), params)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHKDFDeriveKey(t *testing.T) {
	adapter := NewHKDFAdapter()
	params := &KDFParams{
		Algorithm: AlgorithmHKDF,
		Info:      []byte("go-secretvault/kek/v1"),
		KeyLength: KEKLength,
		Hash:      crypto.SHA256,
	}

	ikm := make([]byte, 32)
	for i := range ikm {
		ikm[i] = byte(i)
	}

	key1, err := adapter.DeriveKey(ikm, params)
	require.NoError(t, err)
	require.Len(t, key1, KEKLength)

	key2, err := adapter.DeriveKey(ikm, params)
	require.NoError(t, err)
	assert.Equal(t, key1, key2)

	// Different context info derives an independent key
	other := &KDFParams{
		Algorithm: AlgorithmHKDF,
		Info:      []byte("go-secretvault/kek/v2"),
		KeyLength: KEKLength,
		Hash:      crypto.SHA256,
	}
	key3, err := adapter.DeriveKey(ikm, other)
	require.NoError(t, err)
	assert.NotEqual(t, key1, key3)
}

func TestHKDFRejectsEmptyIKM(t *testing.T) {
	adapter := NewHKDFAdapter()
	params := DefaultParams(AlgorithmHKDF)

	_, err := adapter.DeriveKey(nil, params)
	assert.ErrorIs(t, err, ErrInvalidIKM)
}

func TestPBKDF2LegacyDerivation(t *testing.T) {
	adapter := NewPBKDF2Adapter()
	params := &KDFParams{
		Algorithm:  AlgorithmPBKDF2,
		Salt:       []byte("0123456789abcdef"),
		Iterations: MinPBKDF2Iterations,
		KeyLength:  KEKLength,
		Hash:       crypto.SHA256,
	}

	key1, err := adapter.DeriveKey([]byte("legacy-password"), params)
	require.NoError(t, err)

	key2, err := adapter.DeriveKey([]byte("legacy-password"), params)
	require.NoError(t, err)
	assert.Equal(t, key1, key2)

	params.Iterations = 10
	_, err = adapter.DeriveKey([]byte("legacy-password"), params)
	assert.ErrorIs(t, err, ErrInvalidIterations)
}

func TestDefaultParams(t *testing.T) {
	argon := DefaultParams(AlgorithmArgon2id)
	require.NotNil(t, argon)
	assert.Equal(t, uint32(256*1024), argon.Memory)
	assert.Equal(t, uint32(4), argon.Time)
	assert.Equal(t, KEKLength, argon.KeyLength)

	hkdfParams := DefaultParams(AlgorithmHKDF)
	require.NotNil(t, hkdfParams)
	assert.Equal(t, crypto.SHA256, hkdfParams.Hash)

	assert.Nil(t, DefaultParams(KDFAlgorithm("bogus")))
}
