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

// Package service is the consumer-facing facade over the vault subsystems.
// Terminal, SFTP, tunnel, and playbook consumers call GetSecret and
// PutSecret and only ever see plaintext; envelopes, KEKs, and membership
// records stay behind this boundary. Permission checks run locally before
// any network call.
package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-secretvault/pkg/adapters/logger"
	"github.com/jeremyhahn/go-secretvault/pkg/backup"
	"github.com/jeremyhahn/go-secretvault/pkg/envelope"
	"github.com/jeremyhahn/go-secretvault/pkg/identity"
	"github.com/jeremyhahn/go-secretvault/pkg/sharing"
	"github.com/jeremyhahn/go-secretvault/pkg/syncengine"
	"github.com/jeremyhahn/go-secretvault/pkg/types"
	"github.com/jeremyhahn/go-secretvault/pkg/vault"
)

// Config wires the vault subsystems into a service.
type Config struct {
	// Identity manages the device identity and session KEK. Required.
	Identity *identity.Manager

	// Store is the local vault store. Required.
	Store *vault.Store

	// Sharing manages shared vault membership. Required.
	Sharing *sharing.Coordinator

	// Engine replicates shared vaults. Optional; without it shared
	// vaults are created but never leave this device.
	Engine *syncengine.Engine

	// Backup exports and imports archives. Optional.
	Backup *backup.Manager

	// Logger receives structured logs. Defaults to the no-op logger.
	Logger logger.Logger
}

// Service is the vault facade.
type Service struct {
	ident   *identity.Manager
	store   *vault.Store
	sharing *sharing.Coordinator
	engine  *syncengine.Engine
	backup  *backup.Manager
	log     logger.Logger
}

// New creates a service from the given config.
func New(cfg Config) (*Service, error) {
	if cfg.Identity == nil || cfg.Store == nil || cfg.Sharing == nil {
		return nil, fmt.Errorf("service: identity, store, and sharing are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoop()
	}
	return &Service{
		ident:   cfg.Identity,
		store:   cfg.Store,
		sharing: cfg.Sharing,
		engine:  cfg.Engine,
		backup:  cfg.Backup,
		log:     cfg.Logger,
	}, nil
}

// Unlock initializes or loads the device identity from the OS keychain.
// The secret key is fetched once and held for the session.
func (s *Service) Unlock() (*identity.Identity, error) {
	return s.ident.Initialize()
}

// UnlockWithPassword recovers the identity with the master password when
// the OS keychain is unavailable.
func (s *Service) UnlockWithPassword(password string) (*identity.Identity, error) {
	return s.ident.UnlockWithPassword(password)
}

// KEKFor resolves the effective KEK for a vault: the identity-derived KEK
// for private vaults, the membership-wrapped vault KEK for shared ones.
func (s *Service) KEKFor(v *vault.Vault) ([]byte, error) {
	if v.Type == types.VaultTypeShared {
		return s.sharing.MemberKEK(v.ID)
	}
	return s.ident.DeriveKEK()
}

// CreateVault creates a vault. Shared vaults get a fresh random vault KEK
// wrapped for the owner, and a provisioned remote database when a sync
// engine is configured.
func (s *Service) CreateVault(ctx context.Context, name string, vaultType types.VaultType) (*vault.Vault, error) {
	self, err := s.ident.Identity()
	if err != nil {
		return nil, err
	}

	v, err := s.store.CreateVault(name, vaultType, self.ID)
	if err != nil {
		return nil, err
	}
	if vaultType != types.VaultTypeShared {
		return v, nil
	}

	kek, err := envelope.NewDEK()
	if err != nil {
		return nil, err
	}
	defer envelope.Zero(kek)

	if _, err := s.sharing.BootstrapOwner(v, kek); err != nil {
		return nil, err
	}
	if s.engine != nil {
		if err := s.engine.Provision(ctx, v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// DeleteVault deletes a vault. Private vaults purge immediately; shared
// vaults tombstone locally and drop their remote database.
func (s *Service) DeleteVault(ctx context.Context, vaultID uuid.UUID) error {
	v, err := s.store.GetVault(vaultID)
	if err != nil {
		return err
	}
	if v.Type == types.VaultTypeShared {
		if err := s.sharing.Authorize(vaultID, sharing.ActionManageMembers); err != nil {
			return err
		}
	}
	if err := s.store.DeleteVault(vaultID); err != nil {
		return err
	}
	if v.Type == types.VaultTypeShared && s.engine != nil && v.RemoteDB != "" {
		return s.engine.DropVault(ctx, v)
	}
	return nil
}

// GetSecret decrypts and returns an entry's plaintext. The caller owns the
// returned buffer and its lifetime.
func (s *Service) GetSecret(ctx context.Context, vaultID, entryID uuid.UUID) ([]byte, error) {
	if err := s.sharing.Authorize(vaultID, sharing.ActionRead); err != nil {
		return nil, err
	}
	if s.engine != nil {
		if err := s.engine.Refresh(ctx, vaultID); err != nil {
			return nil, err
		}
	}

	v, err := s.store.GetVault(vaultID)
	if err != nil {
		return nil, err
	}
	kek, err := s.KEKFor(v)
	if err != nil {
		return nil, err
	}
	defer envelope.Zero(kek)

	return s.store.ReadEntry(vaultID, entryID, kek)
}

// PutSecret encrypts plaintext into a new entry and returns its id. The
// permission check runs before any network call; plaintext is zeroed
// before returning.
func (s *Service) PutSecret(ctx context.Context, vaultID uuid.UUID, category types.Category, name string, plaintext []byte) (uuid.UUID, error) {
	if err := s.sharing.Authorize(vaultID, sharing.ActionWrite); err != nil {
		return uuid.Nil, err
	}

	v, err := s.store.GetVault(vaultID)
	if err != nil {
		return uuid.Nil, err
	}
	kek, err := s.KEKFor(v)
	if err != nil {
		return uuid.Nil, err
	}
	defer envelope.Zero(kek)

	entry, err := s.store.CreateEntry(vaultID, category, name, plaintext, kek)
	if err != nil {
		return uuid.Nil, err
	}
	if s.engine != nil {
		if err := s.engine.Flush(ctx, vaultID); err != nil {
			return uuid.Nil, err
		}
	}
	return entry.ID, nil
}

// UpdateSecret re-encrypts an entry with a fresh DEK. Plaintext is zeroed
// before returning.
func (s *Service) UpdateSecret(ctx context.Context, vaultID, entryID uuid.UUID, plaintext []byte) error {
	if err := s.sharing.Authorize(vaultID, sharing.ActionWrite); err != nil {
		return err
	}

	v, err := s.store.GetVault(vaultID)
	if err != nil {
		return err
	}
	kek, err := s.KEKFor(v)
	if err != nil {
		return err
	}
	defer envelope.Zero(kek)

	if _, err := s.store.UpdateEntry(vaultID, entryID, plaintext, kek); err != nil {
		return err
	}
	if s.engine != nil {
		return s.engine.Flush(ctx, vaultID)
	}
	return nil
}

// DeleteSecret deletes an entry: purged immediately in private vaults,
// tombstoned until sync confirms in shared ones.
func (s *Service) DeleteSecret(ctx context.Context, vaultID, entryID uuid.UUID) error {
	if err := s.sharing.Authorize(vaultID, sharing.ActionWrite); err != nil {
		return err
	}
	if err := s.store.DeleteEntry(vaultID, entryID); err != nil {
		return err
	}
	if s.engine != nil {
		return s.engine.Flush(ctx, vaultID)
	}
	return nil
}

// ListVaults lists all live vaults.
func (s *Service) ListVaults() ([]*vault.Vault, error) {
	return s.store.ListVaults()
}

// ListSecrets lists entry metadata for a vault, optionally filtered by
// category. Envelopes are included as opaque blobs; no plaintext.
func (s *Service) ListSecrets(vaultID uuid.UUID, category types.Category) ([]*vault.Entry, error) {
	if err := s.sharing.Authorize(vaultID, sharing.ActionRead); err != nil {
		return nil, err
	}
	if category == "" {
		return s.store.ListEntries(vaultID)
	}
	return s.store.ListEntriesByCategory(vaultID, category)
}

// Sync runs one sync cycle for the vault.
func (s *Service) Sync(ctx context.Context, vaultID uuid.UUID) error {
	if s.engine == nil {
		return syncengine.ErrNotSyncable
	}
	return s.engine.Sync(ctx, vaultID)
}

// SyncAll syncs every shared vault, continuing past per-vault failures and
// returning the first error encountered.
func (s *Service) SyncAll(ctx context.Context) error {
	if s.engine == nil {
		return nil
	}
	vaults, err := s.store.ListVaults()
	if err != nil {
		return err
	}

	var firstErr error
	for _, v := range vaults {
		if v.Type != types.VaultTypeShared || v.RemoteDB == "" {
			continue
		}
		if err := s.engine.Sync(ctx, v.ID); err != nil {
			s.log.Error("sync failed",
				logger.String("vault_id", v.ID.String()),
				logger.Err(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// AddMember grants an identity access to a shared vault.
func (s *Service) AddMember(vaultID, memberID uuid.UUID, memberPublic []byte, role types.Role) (*sharing.Member, error) {
	v, err := s.store.GetVault(vaultID)
	if err != nil {
		return nil, err
	}
	kek, err := s.KEKFor(v)
	if err != nil {
		return nil, err
	}
	defer envelope.Zero(kek)

	return s.sharing.AddMember(vaultID, memberID, memberPublic, role, kek)
}

// RemoveMember revokes an identity's access to a shared vault.
func (s *Service) RemoveMember(vaultID, memberID uuid.UUID) error {
	return s.sharing.RemoveMember(vaultID, memberID)
}

// SetRole changes a member's role on a shared vault. The change takes
// effect on other devices at their next sync.
func (s *Service) SetRole(vaultID, memberID uuid.UUID, role types.Role) error {
	return s.sharing.SetRole(vaultID, memberID, role)
}

// NewInvite issues a join credential for a shared vault.
func (s *Service) NewInvite(vaultID uuid.UUID) (*sharing.Invite, error) {
	return s.sharing.NewInvite(vaultID)
}

// ShareSecret creates a one-off share of an entry for a recipient.
func (s *Service) ShareSecret(vaultID, entryID uuid.UUID, recipientPublic []byte, grant sharing.GrantOptions) (*sharing.ShareGrant, error) {
	v, err := s.store.GetVault(vaultID)
	if err != nil {
		return nil, err
	}
	kek, err := s.KEKFor(v)
	if err != nil {
		return nil, err
	}
	defer envelope.Zero(kek)

	return s.sharing.CreateShare(vaultID, entryID, recipientPublic, grant.ExpiresAt, kek)
}

// AcceptShare copies a received one-off share into the target vault.
func (s *Service) AcceptShare(grant *sharing.ShareGrant, targetVaultID uuid.UUID) (*vault.Entry, error) {
	v, err := s.store.GetVault(targetVaultID)
	if err != nil {
		return nil, err
	}
	kek, err := s.KEKFor(v)
	if err != nil {
		return nil, err
	}
	defer envelope.Zero(kek)

	return s.sharing.AcceptShare(grant, targetVaultID, kek)
}

// ExportBackup writes all local state into a password-protected archive.
func (s *Service) ExportBackup(password string, settings map[string]string) ([]byte, error) {
	if s.backup == nil {
		return nil, fmt.Errorf("service: backup manager not configured")
	}
	return s.backup.Export(password, settings)
}

// PreviewBackup authenticates an archive and returns its record counts.
func (s *Service) PreviewBackup(archive []byte, password string) (*backup.Preview, error) {
	if s.backup == nil {
		return nil, fmt.Errorf("service: backup manager not configured")
	}
	return s.backup.PreviewArchive(archive, password)
}

// ImportBackup atomically replaces local state from an archive. The caller
// is expected to have confirmed the operation with the user.
func (s *Service) ImportBackup(archive []byte, password string) (*backup.Preview, error) {
	if s.backup == nil {
		return nil, fmt.Errorf("service: backup manager not configured")
	}
	return s.backup.Import(archive, password)
}

// ExportIdentity returns the base64 raw secret key. The only recovery path
// for a lost root key is this export or a backup archive; callers must
// surface that dependency to the user before any identity-destroying
// action.
func (s *Service) ExportIdentity() (string, error) {
	return s.ident.ExportSecretKey()
}

// ImportIdentity adopts a previously exported secret key.
func (s *Service) ImportIdentity(encoded string) (*identity.Identity, error) {
	return s.ident.ImportSecretKey(encoded)
}

// Reset destroys the device identity. Irreversible without a prior
// identity export or backup archive.
func (s *Service) Reset() error {
	return s.ident.Reset()
}
