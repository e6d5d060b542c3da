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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-secretvault/pkg/adapters/logger"
	"github.com/jeremyhahn/go-secretvault/pkg/envelope"
	"github.com/jeremyhahn/go-secretvault/pkg/storage"
	"github.com/jeremyhahn/go-secretvault/pkg/types"
)

const (
	vaultPrefix = "vaults/"
	entryPrefix = "entries/"
)

// Store provides CRUD over vaults and entries on top of a storage backend.
// Safe for concurrent use to the extent the backend is; cryptographic
// operations are stateless and reentrant.
type Store struct {
	backend storage.Backend
	log     logger.Logger
}

// NewStore creates a vault store over the given backend. A nil logger
// defaults to the no-op logger.
func NewStore(backend storage.Backend, log logger.Logger) *Store {
	if log == nil {
		log = logger.NewNoop()
	}
	return &Store{
		backend: backend,
		log:     log,
	}
}

// CreateVault creates a new vault owned by the given identity.
func (s *Store) CreateVault(name string, vaultType types.VaultType, ownerID uuid.UUID) (*Vault, error) {
	if name == "" {
		return nil, ErrInvalidName
	}

	v := &Vault{
		ID:        uuid.New(),
		Name:      name,
		Type:      vaultType,
		OwnerID:   ownerID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.SaveVault(v); err != nil {
		return nil, err
	}

	s.log.Info("vault created",
		logger.String("vault", v.ID.String()),
		logger.String("type", string(vaultType)))
	return v, nil
}

// SaveVault persists a vault row. Used by the sync engine to record the
// remote database handle after provisioning.
func (s *Store) SaveVault(v *Vault) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode vault: %w", err)
	}
	if err := s.backend.Put(vaultKey(v.ID), data); err != nil {
		return fmt.Errorf("failed to persist vault: %w", err)
	}
	return nil
}

// GetVault returns the vault with the given id. Tombstoned vaults are
// reported as not found.
func (s *Store) GetVault(id uuid.UUID) (*Vault, error) {
	v, err := s.getVaultRow(id)
	if err != nil {
		return nil, err
	}
	if v.Deleted {
		return nil, ErrVaultNotFound
	}
	return v, nil
}

// getVaultRow returns the raw vault row including tombstones.
func (s *Store) getVaultRow(id uuid.UUID) (*Vault, error) {
	data, err := s.backend.Get(vaultKey(id))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrVaultNotFound
		}
		return nil, fmt.Errorf("failed to read vault: %w", err)
	}

	var v Vault
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode vault: %w", err)
	}
	return &v, nil
}

// ListVaults returns all vaults that are not tombstoned.
func (s *Store) ListVaults() ([]*Vault, error) {
	keys, err := s.backend.List(vaultPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list vaults: %w", err)
	}

	vaults := make([]*Vault, 0, len(keys))
	for _, key := range keys {
		data, err := s.backend.Get(key)
		if err != nil {
			return nil, fmt.Errorf("failed to read vault row %q: %w", key, err)
		}
		var v Vault
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode vault row %q: %w", key, err)
		}
		if !v.Deleted {
			vaults = append(vaults, &v)
		}
	}
	return vaults, nil
}

// DeleteVault removes a vault. Private vaults are purged immediately.
// Shared vaults are tombstoned until the sync engine confirms the remote
// database is dropped, then purged; no partial state is observable to
// members once their next sync completes.
func (s *Store) DeleteVault(id uuid.UUID) error {
	v, err := s.GetVault(id)
	if err != nil {
		return err
	}

	if v.Type == types.VaultTypePrivate {
		return s.PurgeVault(id)
	}

	v.Deleted = true
	if err := s.SaveVault(v); err != nil {
		return err
	}
	s.log.Info("vault tombstoned pending remote deletion",
		logger.String("vault", id.String()))
	return nil
}

// PurgeVault physically removes the vault row and all of its entry rows.
func (s *Store) PurgeVault(id uuid.UUID) error {
	keys, err := s.backend.List(entryPrefix + id.String() + "/")
	if err != nil {
		return fmt.Errorf("failed to list entries: %w", err)
	}
	for _, key := range keys {
		if err := s.backend.Delete(key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("failed to purge entry row %q: %w", key, err)
		}
	}
	if err := s.backend.Delete(vaultKey(id)); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to purge vault: %w", err)
	}
	s.log.Info("vault purged", logger.String("vault", id.String()))
	return nil
}

// CreateEntry encrypts plaintext into a fresh envelope (new DEK, new nonce),
// wraps the DEK under the vault's effective KEK, and persists the row. The
// plaintext buffer and the raw DEK are zeroed before returning.
func (s *Store) CreateEntry(vaultID uuid.UUID, category types.Category, name string, plaintext, kek []byte) (*Entry, error) {
	if !category.Valid() {
		return nil, ErrInvalidCategory
	}
	if name == "" {
		return nil, ErrInvalidName
	}
	v, err := s.GetVault(vaultID)
	if err != nil {
		return nil, err
	}

	env, err := envelope.Seal(plaintext, kek)
	envelope.Zero(plaintext)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	entry := &Entry{
		ID:         uuid.New(),
		VaultID:    v.ID,
		Category:   category,
		Name:       name,
		Envelope:   env,
		OwnerID:    v.OwnerID,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if err := s.SaveEntry(entry); err != nil {
		return nil, err
	}

	s.log.Debug("entry created",
		logger.String("vault", vaultID.String()),
		logger.String("entry", entry.ID.String()),
		logger.String("category", string(category)))
	return entry, nil
}

// ReadEntry unwraps the entry's DEK with the KEK and decrypts the payload.
// The plaintext is returned to the caller without caching; the caller owns
// its lifetime and should zero it when done.
func (s *Store) ReadEntry(vaultID, entryID uuid.UUID, kek []byte) ([]byte, error) {
	entry, err := s.GetEntry(vaultID, entryID)
	if err != nil {
		return nil, err
	}
	return envelope.Open(entry.Envelope, kek)
}

// UpdateEntry re-encrypts the entry under a completely fresh DEK and nonce.
// Ciphertext is never partially updated, so two versions of the same entry
// share no key material. The plaintext buffer is zeroed before returning.
func (s *Store) UpdateEntry(vaultID, entryID uuid.UUID, plaintext, kek []byte) (*Entry, error) {
	entry, err := s.GetEntry(vaultID, entryID)
	if err != nil {
		envelope.Zero(plaintext)
		return nil, err
	}

	env, err := envelope.Seal(plaintext, kek)
	envelope.Zero(plaintext)
	if err != nil {
		return nil, err
	}

	entry.Envelope = env
	entry.ModifiedAt = time.Now().UTC()
	if err := s.SaveEntry(entry); err != nil {
		return nil, err
	}

	s.log.Debug("entry updated",
		logger.String("vault", vaultID.String()),
		logger.String("entry", entryID.String()))
	return entry, nil
}

// DeleteEntry removes an entry. In Private vaults the row is purged
// immediately. In Shared vaults the row is tombstoned until the sync engine
// confirms remote deletion, then purged.
func (s *Store) DeleteEntry(vaultID, entryID uuid.UUID) error {
	v, err := s.GetVault(vaultID)
	if err != nil {
		return err
	}
	entry, err := s.GetEntry(vaultID, entryID)
	if err != nil {
		return err
	}

	if v.Type == types.VaultTypePrivate {
		return s.PurgeEntry(vaultID, entryID)
	}

	entry.Deleted = true
	entry.Envelope = nil // tombstones carry no ciphertext
	entry.ModifiedAt = time.Now().UTC()
	return s.SaveEntry(entry)
}

// PurgeEntry physically removes an entry row.
func (s *Store) PurgeEntry(vaultID, entryID uuid.UUID) error {
	if err := s.backend.Delete(entryKey(vaultID, entryID)); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrEntryNotFound
		}
		return fmt.Errorf("failed to purge entry: %w", err)
	}
	return nil
}

// GetEntry returns a live entry row. Tombstoned entries are reported as not
// found.
func (s *Store) GetEntry(vaultID, entryID uuid.UUID) (*Entry, error) {
	entry, err := s.getEntryRow(vaultID, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Deleted {
		return nil, ErrEntryNotFound
	}
	return entry, nil
}

func (s *Store) getEntryRow(vaultID, entryID uuid.UUID) (*Entry, error) {
	data, err := s.backend.Get(entryKey(vaultID, entryID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to read entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode entry: %w", err)
	}
	return &entry, nil
}

// SaveEntry persists an entry row. Used internally and by the sync engine
// when applying remote rows and preserving conflict orphans.
func (s *Store) SaveEntry(entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}
	if err := s.backend.Put(entryKey(entry.VaultID, entry.ID), data); err != nil {
		return fmt.Errorf("failed to persist entry: %w", err)
	}
	return nil
}

// ListEntries returns all live entries in a vault, including conflict
// orphans (they are user-visible recovery copies), excluding tombstones.
func (s *Store) ListEntries(vaultID uuid.UUID) ([]*Entry, error) {
	rows, err := s.listEntryRows(vaultID)
	if err != nil {
		return nil, err
	}

	entries := make([]*Entry, 0, len(rows))
	for _, entry := range rows {
		if !entry.Deleted {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// ListEntriesByCategory returns live entries of the given category.
func (s *Store) ListEntriesByCategory(vaultID uuid.UUID, category types.Category) ([]*Entry, error) {
	entries, err := s.ListEntries(vaultID)
	if err != nil {
		return nil, err
	}

	filtered := entries[:0]
	for _, entry := range entries {
		if entry.Category == category {
			filtered = append(filtered, entry)
		}
	}
	return filtered, nil
}

// SyncableEntries returns all entry rows that participate in replication:
// live entries and pending tombstones, but never orphans.
func (s *Store) SyncableEntries(vaultID uuid.UUID) ([]*Entry, error) {
	rows, err := s.listEntryRows(vaultID)
	if err != nil {
		return nil, err
	}

	entries := make([]*Entry, 0, len(rows))
	for _, entry := range rows {
		if !entry.Orphan {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (s *Store) listEntryRows(vaultID uuid.UUID) ([]*Entry, error) {
	keys, err := s.backend.List(entryPrefix + vaultID.String() + "/")
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	rows := make([]*Entry, 0, len(keys))
	for _, key := range keys {
		data, err := s.backend.Get(key)
		if err != nil {
			return nil, fmt.Errorf("failed to read entry row %q: %w", key, err)
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode entry row %q: %w", key, err)
		}
		rows = append(rows, &entry)
	}
	return rows, nil
}

// DeletedVaults returns vaults tombstoned and awaiting remote deletion.
func (s *Store) DeletedVaults() ([]*Vault, error) {
	keys, err := s.backend.List(vaultPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list vaults: %w", err)
	}

	deleted := make([]*Vault, 0)
	for _, key := range keys {
		data, err := s.backend.Get(key)
		if err != nil {
			return nil, fmt.Errorf("failed to read vault row %q: %w", key, err)
		}
		var v Vault
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode vault row %q: %w", key, err)
		}
		if v.Deleted {
			deleted = append(deleted, &v)
		}
	}
	return deleted, nil
}

func vaultKey(id uuid.UUID) string {
	return vaultPrefix + id.String()
}

func entryKey(vaultID, entryID uuid.UUID) string {
	return entryPrefix + vaultID.String() + "/" + entryID.String()
}
