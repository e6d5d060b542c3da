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

// Package envelope implements the two-tier envelope encryption scheme:
// payloads are encrypted under fresh per-secret data-encryption keys (DEKs)
// with XChaCha20-Poly1305, and DEKs are wrapped under a long-lived
// key-encryption key (KEK).
//
// All functions are stateless and operate only on byte buffers and keys;
// the package never touches storage or the network. Every encryption draws
// a new random 24-byte nonce and, for payloads, a new random 256-bit DEK,
// so no nonce-counter state exists and concurrent calls are race-free.
package envelope

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/jeremyhahn/go-secretvault/pkg/types"
)

const (
	// KeySize is the size in bytes of DEKs and KEKs (256 bits).
	KeySize = chacha20poly1305.KeySize

	// NonceSize is the XChaCha20-Poly1305 nonce size (24 bytes).
	NonceSize = chacha20poly1305.NonceSizeX

	// Overhead is the Poly1305 authentication tag size (16 bytes).
	Overhead = chacha20poly1305.Overhead
)

// NewDEK generates a fresh random 256-bit data-encryption key.
func NewDEK() ([]byte, error) {
	dek := make([]byte, KeySize)
	if _, err := rand.Read(dek); err != nil {
		return nil, fmt.Errorf("failed to generate DEK: %w", err)
	}
	return dek, nil
}

// WrapDEK encrypts a DEK under the KEK using XChaCha20-Poly1305.
// The output is a fresh random 24-byte nonce followed by ciphertext and tag.
func WrapDEK(dek, kek []byte) ([]byte, error) {
	if len(dek) != KeySize {
		return nil, fmt.Errorf("invalid DEK size: %d bytes (must be %d bytes)", len(dek), KeySize)
	}

	aead, err := newAEAD(kek)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	wrapped := make([]byte, NonceSize, NonceSize+len(dek)+Overhead)
	copy(wrapped, nonce)
	return aead.Seal(wrapped, nonce, dek, nil), nil
}

// UnwrapDEK decrypts a wrapped DEK with the KEK.
//
// Every failure surfaces as ErrDecryptionFailed: a wrong or rotated KEK,
// corrupted storage, and deliberate tampering are indistinguishable to the
// caller. The single signal prevents error-message side channels from
// leaking which cause applied.
func UnwrapDEK(wrapped, kek []byte) ([]byte, error) {
	aead, err := newAEAD(kek)
	if err != nil {
		return nil, err
	}

	if len(wrapped) < NonceSize+Overhead {
		return nil, ErrDecryptionFailed
	}

	dek, err := aead.Open(nil, wrapped[:NonceSize], wrapped[NonceSize:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if len(dek) != KeySize {
		return nil, ErrDecryptionFailed
	}
	return dek, nil
}

// EncryptPayload encrypts plaintext under a fresh random DEK with a fresh
// nonce and returns both the DEK and the envelope. The caller is expected to
// immediately wrap the DEK with the current KEK (see Seal) and zero the raw
// DEK from memory.
//
// The returned envelope has no WrappedDEK yet; Seal fills it in.
func EncryptPayload(plaintext []byte) ([]byte, *types.Envelope, error) {
	dek, err := NewDEK()
	if err != nil {
		return nil, nil, err
	}

	aead, err := newAEAD(dek)
	if err != nil {
		return nil, nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)

	env := &types.Envelope{
		Version:    types.EnvelopeVersion,
		Nonce:      nonce,
		Ciphertext: sealed[:len(sealed)-Overhead],
		Tag:        sealed[len(sealed)-Overhead:],
	}
	return dek, env, nil
}

// DecryptPayload decrypts an envelope's payload with its DEK. All
// authentication failures surface as ErrDecryptionFailed.
func DecryptPayload(env *types.Envelope, dek []byte) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("envelope cannot be nil")
	}

	aead, err := newAEAD(dek)
	if err != nil {
		return nil, err
	}

	if len(env.Nonce) != NonceSize || len(env.Tag) != Overhead {
		return nil, ErrDecryptionFailed
	}

	sealed := make([]byte, 0, len(env.Ciphertext)+len(env.Tag))
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.Tag...)

	plaintext, err := aead.Open(nil, env.Nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Seal encrypts plaintext into a complete envelope: payload under a fresh
// DEK, DEK wrapped under the KEK, raw DEK zeroed before returning.
func Seal(plaintext, kek []byte) (*types.Envelope, error) {
	dek, env, err := EncryptPayload(plaintext)
	if err != nil {
		return nil, err
	}
	defer Zero(dek)

	wrapped, err := WrapDEK(dek, kek)
	if err != nil {
		return nil, err
	}
	env.WrappedDEK = wrapped
	return env, nil
}

// Open decrypts a complete envelope: unwraps the DEK with the KEK, decrypts
// the payload, and zeroes the raw DEK before returning.
func Open(env *types.Envelope, kek []byte) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("envelope cannot be nil")
	}

	dek, err := UnwrapDEK(env.WrappedDEK, kek)
	if err != nil {
		return nil, err
	}
	defer Zero(dek)

	return DecryptPayload(env, dek)
}

// SealBytes encrypts an arbitrary blob under the key with optional
// associated data bound into the authentication tag. The output is a fresh
// random 24-byte nonce followed by ciphertext and tag. Used by the backup
// archive, which binds its cleartext header as associated data.
func SealBytes(plaintext, key, ad []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := make([]byte, NonceSize, NonceSize+len(plaintext)+Overhead)
	copy(sealed, nonce)
	return aead.Seal(sealed, nonce, plaintext, ad), nil
}

// OpenSealed decrypts a blob produced by SealBytes. The associated data
// must match what was bound at seal time; any failure surfaces as
// ErrDecryptionFailed.
func OpenSealed(sealed, key, ad []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < NonceSize+Overhead {
		return nil, ErrDecryptionFailed
	}

	plaintext, err := aead.Open(nil, sealed[:NonceSize], sealed[NonceSize:], ad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Zero overwrites the buffer with zeroes. Used to discard raw key material
// and plaintext as soon as it leaves scope.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key size: %d bytes (must be %d bytes)", len(key), KeySize)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create XChaCha20-Poly1305 cipher: %w", err)
	}
	return aead, nil
}
