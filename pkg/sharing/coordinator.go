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

package sharing

import (
	"crypto"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-secretvault/pkg/adapters/logger"
	"github.com/jeremyhahn/go-secretvault/pkg/envelope"
	"github.com/jeremyhahn/go-secretvault/pkg/identity"
	"github.com/jeremyhahn/go-secretvault/pkg/kdf"
	"github.com/jeremyhahn/go-secretvault/pkg/storage"
	"github.com/jeremyhahn/go-secretvault/pkg/syncengine"
	"github.com/jeremyhahn/go-secretvault/pkg/types"
	"github.com/jeremyhahn/go-secretvault/pkg/vault"
)

// Action is a permission-checked operation class.
type Action int

const (
	// ActionRead covers entry reads and listings.
	ActionRead Action = iota

	// ActionWrite covers entry creates, updates, and deletes.
	ActionWrite

	// ActionManageMembers covers membership and invite changes.
	ActionManageMembers
)

// wrapping key derivation contexts, versioned so the scheme can be upgraded
// without breaking existing records
const (
	memberKeyContext = "go-secretvault/member-wrap/v1"
	shareKeyContext  = "go-secretvault/share-wrap/v1"
	tokenSize        = 32
)

// Coordinator manages shared vault membership and one-off secret shares.
type Coordinator struct {
	backend storage.Backend
	store   *vault.Store
	ident   *identity.Manager
	hkdf    kdf.KDFAdapter
	log     logger.Logger
}

// NewCoordinator creates a sharing coordinator. Membership records persist
// through the given backend under the members/ prefix.
func NewCoordinator(backend storage.Backend, store *vault.Store, ident *identity.Manager, log logger.Logger) *Coordinator {
	if log == nil {
		log = logger.NewNoop()
	}
	return &Coordinator{
		backend: backend,
		store:   store,
		ident:   ident,
		hkdf:    kdf.NewHKDFAdapter(),
		log:     log,
	}
}

func memberKey(vaultID, memberID uuid.UUID) string {
	return fmt.Sprintf("members/%s/%s", vaultID, memberID)
}

// wrappingKey derives the symmetric wrapping key shared between this
// identity and the peer: ECDH(self secret, peer public) fed through HKDF
// with a versioned context. Both sides derive the same key from their own
// private key and the other's public key.
func (c *Coordinator) wrappingKey(peerPublic []byte, context string) ([]byte, error) {
	priv, err := c.ident.ECDHPrivateKey()
	if err != nil {
		return nil, err
	}
	peer, err := ecdh.X25519().NewPublicKey(peerPublic)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	shared, err := priv.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("sharing: key agreement: %w", err)
	}
	defer envelope.Zero(shared)

	return c.hkdf.DeriveKey(shared, &kdf.KDFParams{
		Algorithm: kdf.AlgorithmHKDF,
		Info:      []byte(context),
		KeyLength: envelope.KeySize,
		Hash:      crypto.SHA256,
	})
}

func (c *Coordinator) selfID() (uuid.UUID, error) {
	id, err := c.ident.Identity()
	if err != nil {
		return uuid.Nil, err
	}
	return id.ID, nil
}

// RoleOf returns the identity's role in the vault, or ErrMemberNotFound.
func (c *Coordinator) RoleOf(vaultID, identityID uuid.UUID) (types.Role, error) {
	m, err := c.memberRecord(vaultID, identityID)
	if err != nil {
		return "", err
	}
	if m.Deleted {
		return "", ErrMemberNotFound
	}
	return m.Role, nil
}

// Authorize checks the calling identity's role against the action for the
// vault. It runs locally, before any network call. Private vaults are
// owner-only by construction and always authorized.
func (c *Coordinator) Authorize(vaultID uuid.UUID, action Action) error {
	v, err := c.store.GetVault(vaultID)
	if err != nil {
		return err
	}
	if v.Type == types.VaultTypePrivate {
		return nil
	}

	self, err := c.selfID()
	if err != nil {
		return err
	}
	role, err := c.RoleOf(vaultID, self)
	if err != nil {
		if errors.Is(err, ErrMemberNotFound) {
			return ErrPermissionDenied
		}
		return err
	}

	allowed := false
	switch action {
	case ActionRead:
		allowed = role.CanRead()
	case ActionWrite:
		allowed = role.CanWrite()
	case ActionManageMembers:
		allowed = role.CanManageMembers()
	}
	if !allowed {
		return ErrPermissionDenied
	}
	return nil
}

// BootstrapOwner creates the owner's own membership record when a shared
// vault is created, wrapping the vault KEK for the owner's keypair so the
// KEK can travel to the owner's other devices through the remote database.
func (c *Coordinator) BootstrapOwner(v *vault.Vault, kek []byte) (*Member, error) {
	if v.Type != types.VaultTypeShared {
		return nil, ErrNotShared
	}
	self, err := c.ident.Identity()
	if err != nil {
		return nil, err
	}
	if v.OwnerID != self.ID {
		return nil, ErrPermissionDenied
	}
	return c.addMember(v.ID, self.ID, self.PublicKey, types.RoleOwner, kek)
}

// AddMember wraps the vault KEK for the member's public key and stores the
// membership record. The caller must hold a member-management role; shared
// vaults have exactly one Owner.
func (c *Coordinator) AddMember(vaultID, memberID uuid.UUID, memberPublic []byte, role types.Role, kek []byte) (*Member, error) {
	if err := c.Authorize(vaultID, ActionManageMembers); err != nil {
		return nil, err
	}
	if role == types.RoleOwner {
		return nil, ErrOwnerExists
	}
	if existing, err := c.memberRecord(vaultID, memberID); err == nil && !existing.Deleted {
		return nil, ErrMemberExists
	}
	return c.addMember(vaultID, memberID, memberPublic, role, kek)
}

func (c *Coordinator) addMember(vaultID, memberID uuid.UUID, memberPublic []byte, role types.Role, kek []byte) (*Member, error) {
	wkey, err := c.wrappingKey(memberPublic, memberKeyContext)
	if err != nil {
		return nil, err
	}
	defer envelope.Zero(wkey)

	wrapped, err := envelope.WrapDEK(kek, wkey)
	if err != nil {
		return nil, err
	}

	self, err := c.ident.Identity()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	m := &Member{
		VaultID:          vaultID,
		MemberID:         memberID,
		PublicKey:        memberPublic,
		GrantorPublicKey: self.PublicKey,
		Role:             role,
		WrappedKEK:       wrapped,
		AddedAt:          now,
		ModifiedAt:       now,
	}
	if err := c.saveMember(m); err != nil {
		return nil, err
	}

	c.log.Info("added vault member",
		logger.String("vault_id", vaultID.String()),
		logger.String("member_id", memberID.String()),
		logger.String("role", string(role)))
	return m, nil
}

// RemoveMember tombstones the membership record and destroys its wrapped
// KEK, so the member's next sync can no longer unwrap the vault KEK.
// Existing entries are not re-keyed; a removed member may retain access to
// ciphertext fetched before removal.
func (c *Coordinator) RemoveMember(vaultID, memberID uuid.UUID) error {
	if err := c.Authorize(vaultID, ActionManageMembers); err != nil {
		return err
	}
	m, err := c.memberRecord(vaultID, memberID)
	if err != nil {
		return err
	}
	if m.Deleted {
		return ErrMemberNotFound
	}
	if m.Role == types.RoleOwner {
		return ErrRemoveOwner
	}

	m.WrappedKEK = nil
	m.Deleted = true
	m.ModifiedAt = time.Now().UTC()
	if err := c.saveMember(m); err != nil {
		return err
	}

	c.log.Info("removed vault member",
		logger.String("vault_id", vaultID.String()),
		logger.String("member_id", memberID.String()))
	return nil
}

// SetRole changes a member's role. The single-Owner invariant holds: roles
// cannot be changed to or from Owner.
func (c *Coordinator) SetRole(vaultID, memberID uuid.UUID, role types.Role) error {
	if err := c.Authorize(vaultID, ActionManageMembers); err != nil {
		return err
	}
	if role == types.RoleOwner {
		return ErrOwnerExists
	}
	m, err := c.memberRecord(vaultID, memberID)
	if err != nil {
		return err
	}
	if m.Deleted {
		return ErrMemberNotFound
	}
	if m.Role == types.RoleOwner {
		return ErrRemoveOwner
	}

	m.Role = role
	m.ModifiedAt = time.Now().UTC()
	return c.saveMember(m)
}

// Members lists live members of the vault.
func (c *Coordinator) Members(vaultID uuid.UUID) ([]*Member, error) {
	records, err := c.memberRecords(vaultID)
	if err != nil {
		return nil, err
	}
	live := make([]*Member, 0, len(records))
	for _, m := range records {
		if !m.Deleted {
			live = append(live, m)
		}
	}
	return live, nil
}

// Member returns the live membership record for the identity.
func (c *Coordinator) Member(vaultID, memberID uuid.UUID) (*Member, error) {
	m, err := c.memberRecord(vaultID, memberID)
	if err != nil {
		return nil, err
	}
	if m.Deleted {
		return nil, ErrMemberNotFound
	}
	return m, nil
}

// MemberKEK recovers the vault KEK from the calling identity's own
// membership record by recomputing the ECDH wrapping key against the
// grantor's public key.
func (c *Coordinator) MemberKEK(vaultID uuid.UUID) ([]byte, error) {
	self, err := c.selfID()
	if err != nil {
		return nil, err
	}
	m, err := c.Member(vaultID, self)
	if err != nil {
		return nil, err
	}

	wkey, err := c.wrappingKey(m.GrantorPublicKey, memberKeyContext)
	if err != nil {
		return nil, err
	}
	defer envelope.Zero(wkey)

	return envelope.UnwrapDEK(m.WrappedKEK, wkey)
}

// NewInvite issues a join credential scoped to the vault's remote database.
// The payload contains no secret key material; the invitee's access comes
// from the wrapped-KEK record created by AddMember.
func (c *Coordinator) NewInvite(vaultID uuid.UUID) (*Invite, error) {
	if err := c.Authorize(vaultID, ActionManageMembers); err != nil {
		return nil, err
	}
	v, err := c.store.GetVault(vaultID)
	if err != nil {
		return nil, err
	}
	if v.RemoteDB == "" {
		return nil, ErrNotShared
	}

	token := make([]byte, tokenSize)
	if _, err := rand.Read(token); err != nil {
		return nil, fmt.Errorf("sharing: generating invite token: %w", err)
	}

	return &Invite{
		VaultID:   vaultID,
		RemoteDB:  v.RemoteDB,
		URL:       fmt.Sprintf("secretvault://join/%s", v.RemoteDB),
		Token:     base64.RawURLEncoding.EncodeToString(token),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// CreateShare re-wraps a single entry's DEK under a one-time wrapping key
// derived for the recipient and returns the grant. The vault KEK never
// leaves this device; only the per-entry DEK is re-wrapped.
func (c *Coordinator) CreateShare(vaultID, entryID uuid.UUID, recipientPublic []byte, expiresAt time.Time, kek []byte) (*ShareGrant, error) {
	if err := c.Authorize(vaultID, ActionRead); err != nil {
		return nil, err
	}
	entry, err := c.store.GetEntry(vaultID, entryID)
	if err != nil {
		return nil, err
	}

	dek, err := envelope.UnwrapDEK(entry.Envelope.WrappedDEK, kek)
	if err != nil {
		return nil, err
	}
	defer envelope.Zero(dek)

	wkey, err := c.wrappingKey(recipientPublic, shareKeyContext)
	if err != nil {
		return nil, err
	}
	defer envelope.Zero(wkey)

	rewrapped, err := envelope.WrapDEK(dek, wkey)
	if err != nil {
		return nil, err
	}

	self, err := c.ident.Identity()
	if err != nil {
		return nil, err
	}

	env := *entry.Envelope
	env.WrappedDEK = rewrapped
	return &ShareGrant{
		ID:              uuid.New(),
		SenderPublicKey: self.PublicKey,
		Category:        entry.Category,
		Name:            entry.Name,
		Envelope:        &env,
		ExpiresAt:       expiresAt,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// AcceptShare unwraps a received grant with the recipient's side of the
// ECDH agreement and copies the secret into the target vault under that
// vault's KEK. Expired grants fail with ErrShareExpired regardless of
// whether the data still exists server-side.
func (c *Coordinator) AcceptShare(grant *ShareGrant, targetVaultID uuid.UUID, kek []byte) (*vault.Entry, error) {
	if grant.Expired(time.Now()) {
		return nil, ErrShareExpired
	}

	wkey, err := c.wrappingKey(grant.SenderPublicKey, shareKeyContext)
	if err != nil {
		return nil, err
	}
	defer envelope.Zero(wkey)

	dek, err := envelope.UnwrapDEK(grant.Envelope.WrappedDEK, wkey)
	if err != nil {
		return nil, err
	}
	defer envelope.Zero(dek)

	plaintext, err := envelope.DecryptPayload(grant.Envelope, dek)
	if err != nil {
		return nil, err
	}

	// CreateEntry zeroes the plaintext before returning
	return c.store.CreateEntry(targetVaultID, grant.Category, grant.Name, plaintext, kek)
}

func (c *Coordinator) saveMember(m *Member) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("sharing: encoding member record: %w", err)
	}
	return c.backend.Put(memberKey(m.VaultID, m.MemberID), data)
}

func (c *Coordinator) memberRecord(vaultID, memberID uuid.UUID) (*Member, error) {
	data, err := c.backend.Get(memberKey(vaultID, memberID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	var m Member
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("sharing: decoding member record: %w", err)
	}
	return &m, nil
}

func (c *Coordinator) memberRecords(vaultID uuid.UUID) ([]*Member, error) {
	keys, err := c.backend.List(fmt.Sprintf("members/%s/", vaultID))
	if err != nil {
		return nil, err
	}
	members := make([]*Member, 0, len(keys))
	for _, key := range keys {
		data, err := c.backend.Get(key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, err
		}
		var m Member
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("sharing: decoding member record: %w", err)
		}
		members = append(members, &m)
	}
	return members, nil
}

// RestoreMembers writes membership records back from a backup archive,
// replacing any local records for the same members.
func (c *Coordinator) RestoreMembers(members []*Member) error {
	for _, m := range members {
		if err := c.saveMember(m); err != nil {
			return err
		}
	}
	return nil
}

// LocalMemberRows implements syncengine.MemberResolver, replicating
// membership records, including removal tombstones, through the vault's
// remote database.
func (c *Coordinator) LocalMemberRows(vaultID uuid.UUID) ([]syncengine.Row, error) {
	records, err := c.memberRecords(vaultID)
	if err != nil {
		return nil, err
	}
	rows := make([]syncengine.Row, 0, len(records))
	for _, m := range records {
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("sharing: encoding member row: %w", err)
		}
		rows = append(rows, syncengine.Row{
			ID:       m.MemberID,
			Kind:     syncengine.RowKindMember,
			Data:     data,
			Modified: m.ModifiedAt,
			Deleted:  m.Deleted,
		})
	}
	return rows, nil
}

// ApplyMemberRows implements syncengine.MemberResolver, merging fetched
// membership rows by last-writer-wins per member. A removal tombstone that
// wins replaces the local record, destroying the local wrapped KEK.
func (c *Coordinator) ApplyMemberRows(vaultID uuid.UUID, rows []syncengine.Row) error {
	for _, row := range rows {
		var remote Member
		if err := json.Unmarshal(row.Data, &remote); err != nil {
			return fmt.Errorf("sharing: decoding member row: %w", err)
		}
		remote.VaultID = vaultID

		local, err := c.memberRecord(vaultID, remote.MemberID)
		switch {
		case errors.Is(err, ErrMemberNotFound):
			// New member from another device
		case err != nil:
			return err
		case !remote.ModifiedAt.After(local.ModifiedAt):
			continue
		}
		if err := c.saveMember(&remote); err != nil {
			return err
		}
	}
	return nil
}
