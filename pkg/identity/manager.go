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
	"crypto"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jeremyhahn/go-secretvault/pkg/adapters/logger"
	"github.com/jeremyhahn/go-secretvault/pkg/envelope"
	"github.com/jeremyhahn/go-secretvault/pkg/kdf"
	"github.com/jeremyhahn/go-secretvault/pkg/keystore"
	"github.com/jeremyhahn/go-secretvault/pkg/storage"
)

const (
	// keystoreKeyID is the id of the secret key in the OS credential store.
	keystoreKeyID = "go-secretvault/identity"

	// storageKeySelf is the local metadata row for the identity.
	storageKeySelf = "identity/self"

	// storageKeyPassword is the local row holding the password-wrapped
	// secret key for the Argon2id unlock path.
	storageKeyPassword = "identity/password"

	// kekContext is the fixed HKDF context string for KEK derivation.
	// Versioned so the derivation can be upgraded without breaking old
	// envelopes.
	kekContext = "go-secretvault/kek/v1"

	// secretKeySize is the raw X25519 secret key length.
	secretKeySize = 32
)

// passwordRecord is the persisted state for the master-password unlock path.
// The salt is not secret; the wrapped key is the identity secret key sealed
// under the Argon2id-derived key.
type passwordRecord struct {
	Salt       []byte `json:"salt"`
	Memory     uint32 `json:"memory"`
	Time       uint32 `json:"time"`
	Threads    uint8  `json:"threads"`
	WrappedKey []byte `json:"wrapped_key"`
}

// Manager owns the device identity: keypair lifecycle, KEK derivation, and
// the import/export paths. Safe for concurrent use; the secret key is fetched
// from the keystore once and held for the session.
type Manager struct {
	keystore keystore.Keystore
	store    storage.Backend
	log      logger.Logger

	// PasswordParams holds the Argon2id cost profile for the master
	// password path. Defaults to kdf.DefaultParams(kdf.AlgorithmArgon2id)
	// (256 MiB memory, 4 iterations). Must be set before SetMasterPassword.
	PasswordParams *kdf.KDFParams

	mu        sync.RWMutex
	identity  *Identity
	secretKey []byte
}

// NewManager creates an identity manager over the given keystore and local
// storage backend. A nil logger defaults to the no-op logger.
func NewManager(ks keystore.Keystore, store storage.Backend, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNoop()
	}
	return &Manager{
		keystore:       ks,
		store:          store,
		log:            log,
		PasswordParams: kdf.DefaultParams(kdf.AlgorithmArgon2id),
	}
}

// Initialize creates the device identity on first use and loads it on every
// subsequent call. Idempotent: if an identity already exists it is returned
// unchanged. Keystore failures propagate as keystore errors.
func (m *Manager) Initialize() (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.identity != nil {
		return m.identity, nil
	}

	data, err := m.store.Get(storageKeySelf)
	switch {
	case err == nil:
		return m.loadLocked(data)
	case errors.Is(err, storage.ErrNotFound):
		return m.generateLocked()
	default:
		return nil, fmt.Errorf("failed to read identity metadata: %w", err)
	}
}

// loadLocked restores an existing identity and fetches the secret key from
// the keystore (the session's single acquisition).
func (m *Manager) loadLocked(data []byte) (*Identity, error) {
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("failed to decode identity metadata: %w", err)
	}

	secret, err := m.keystore.Retrieve(keystoreKeyID)
	if err != nil {
		return nil, err
	}
	if len(secret) != secretKeySize {
		envelope.Zero(secret)
		return nil, keystore.ErrCorrupted
	}

	m.identity = &id
	m.secretKey = secret
	m.log.Debug("identity loaded", logger.String("id", id.ID.String()))
	return m.identity, nil
}

// generateLocked creates a new X25519 keypair, stores the secret key in the
// keystore and the public half in local metadata.
func (m *Manager) generateLocked() (*Identity, error) {
	key, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate X25519 key: %w", err)
	}
	return m.adoptLocked(key.Bytes())
}

// adoptLocked installs the given secret key as this device's identity.
func (m *Manager) adoptLocked(secret []byte) (*Identity, error) {
	priv, err := ecdh.X25519().NewPrivateKey(secret)
	if err != nil {
		return nil, ErrInvalidKeyFormat
	}
	public := priv.PublicKey().Bytes()

	// Keystore first: if the OS credential store is unavailable, no local
	// metadata is written and the next attempt starts clean.
	if err := m.keystore.Store(keystoreKeyID, secret); err != nil {
		return nil, err
	}

	id := &Identity{
		ID:        deriveID(public),
		PublicKey: public,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(id)
	if err != nil {
		return nil, fmt.Errorf("failed to encode identity metadata: %w", err)
	}
	if err := m.store.Put(storageKeySelf, data); err != nil {
		return nil, fmt.Errorf("failed to persist identity metadata: %w", err)
	}

	m.identity = id
	m.secretKey = append([]byte(nil), secret...)
	m.log.Info("identity initialized", logger.String("id", id.ID.String()))
	return m.identity, nil
}

// Identity returns the loaded identity.
func (m *Manager) Identity() (*Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.identity == nil {
		return nil, ErrNotInitialized
	}
	return m.identity, nil
}

// DeriveKEK derives the root key-encryption key from the secret key via
// HKDF-SHA256 under a fixed, versioned context string. Deterministic and
// pure; never logs input or output.
func (m *Manager) DeriveKEK() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.secretKey == nil {
		return nil, ErrLocked
	}
	return deriveKEK(m.secretKey)
}

func deriveKEK(secret []byte) ([]byte, error) {
	adapter := kdf.NewHKDFAdapter()
	return adapter.DeriveKey(secret, &kdf.KDFParams{
		Algorithm: kdf.AlgorithmHKDF,
		Info:      []byte(kekContext),
		KeyLength: kdf.KEKLength,
		Hash:      crypto.SHA256,
	})
}

// ECDHPrivateKey returns the session's X25519 private key for key agreement
// during sharing operations. The key exists in process memory only.
func (m *Manager) ECDHPrivateKey() (*ecdh.PrivateKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.secretKey == nil {
		return nil, ErrLocked
	}
	priv, err := ecdh.X25519().NewPrivateKey(m.secretKey)
	if err != nil {
		return nil, ErrInvalidKeyFormat
	}
	return priv, nil
}

// SetMasterPassword enables the password unlock path: the identity secret
// key is wrapped under an Argon2id-derived key (256 MiB, 4 iterations, fresh
// random salt) and persisted. The salt is stored alongside the identity and
// is not secret.
func (m *Manager) SetMasterPassword(password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.secretKey == nil {
		return ErrLocked
	}
	if password == "" {
		return fmt.Errorf("identity: password cannot be empty")
	}

	params := *m.PasswordParams
	params.Salt = make([]byte, 32)
	if _, err := rand.Read(params.Salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	derived, err := kdf.NewArgon2Adapter().DeriveKey([]byte(password), &params)
	if err != nil {
		return err
	}
	defer envelope.Zero(derived)

	wrapped, err := envelope.WrapDEK(m.secretKey, derived)
	if err != nil {
		return err
	}

	record := passwordRecord{
		Salt:       params.Salt,
		Memory:     params.Memory,
		Time:       params.Time,
		Threads:    params.Threads,
		WrappedKey: wrapped,
	}
	data, err := json.Marshal(&record)
	if err != nil {
		return fmt.Errorf("failed to encode password record: %w", err)
	}
	if err := m.store.Put(storageKeyPassword, data); err != nil {
		return fmt.Errorf("failed to persist password record: %w", err)
	}

	m.log.Info("master password set")
	return nil
}

// UnlockWithPassword recovers the secret key via the Argon2id path, used
// when the OS credential store is corrupted or for deliberate password-based
// unlock on a new device. The resulting KEK is bit-identical to the
// keystore-derived one, so the envelope cipher is agnostic to provenance.
func (m *Manager) UnlockWithPassword(password string) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := m.store.Get(storageKeyPassword)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoMasterPassword
		}
		return nil, fmt.Errorf("failed to read password record: %w", err)
	}

	var record passwordRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode password record: %w", err)
	}

	derived, err := kdf.NewArgon2Adapter().DeriveKey([]byte(password), &kdf.KDFParams{
		Algorithm: kdf.AlgorithmArgon2id,
		Salt:      record.Salt,
		Memory:    record.Memory,
		Time:      record.Time,
		Threads:   record.Threads,
		KeyLength: kdf.KEKLength,
	})
	if err != nil {
		return nil, err
	}
	defer envelope.Zero(derived)

	secret, err := envelope.UnwrapDEK(record.WrappedKey, derived)
	if err != nil {
		// Wrong password, corruption, and tampering are indistinguishable.
		return nil, err
	}

	priv, err := ecdh.X25519().NewPrivateKey(secret)
	if err != nil {
		envelope.Zero(secret)
		return nil, ErrInvalidKeyFormat
	}
	public := priv.PublicKey().Bytes()

	if m.identity == nil {
		m.identity = &Identity{
			ID:        deriveID(public),
			PublicKey: public,
			CreatedAt: time.Now().UTC(),
		}
	}
	m.secretKey = secret
	m.log.Info("identity unlocked with master password",
		logger.String("id", m.identity.ID.String()))
	return m.identity, nil
}

// ExportSecretKey returns the raw 32-byte secret key as base64 with no
// additional framing, small enough for a single copy-paste. This is the only
// recovery path for a lost OS credential store besides a backup archive.
func (m *Manager) ExportSecretKey() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.secretKey == nil {
		return "", ErrLocked
	}
	return base64.StdEncoding.EncodeToString(m.secretKey), nil
}

// ImportSecretKey installs a previously exported secret key on this device,
// inheriting access to all vaults encrypted for that identity. Fails with
// ErrInvalidKeyFormat if length or curve validation fails.
func (m *Manager) ImportSecretKey(encoded string) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	secret, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidKeyFormat
	}
	if len(secret) != secretKeySize {
		return nil, ErrInvalidKeyFormat
	}

	m.identity = nil
	m.secretKey = nil
	return m.adoptLocked(secret)
}

// Reset destroys the identity: the secret key is removed from the keystore
// and all identity metadata is deleted. All previously encrypted data is
// orphaned; callers must require explicit confirmation before invoking this.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.keystore.Delete(keystoreKeyID); err != nil && !errors.Is(err, keystore.ErrNotFound) {
		return err
	}
	if err := m.store.Delete(storageKeySelf); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to delete identity metadata: %w", err)
	}
	if err := m.store.Delete(storageKeyPassword); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to delete password record: %w", err)
	}

	envelope.Zero(m.secretKey)
	m.secretKey = nil
	m.identity = nil
	m.log.Warn("identity reset; previously encrypted data is orphaned")
	return nil
}
