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

// Package backup exports and imports the complete local state as a single
// password-protected archive. Secrets stay enveloped end to end: each
// entry's DEK is re-wrapped under a one-time backup KEK derived from the
// password with Argon2id, so export never produces plaintext and import
// fails closed on a wrong password with zero side effects.
//
// Archive layout: a 4-byte big-endian header length, the JSON header
// (format version, KDF parameters, salt), then the sealed payload. The
// payload is gzip-compressed JSON encrypted with XChaCha20-Poly1305 under
// the backup KEK, with the raw header bytes bound as associated data so a
// tampered header fails authentication.
package backup

import (
	"bytes"
	"compress/gzip"
	"crypto"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-secretvault/pkg/adapters/logger"
	"github.com/jeremyhahn/go-secretvault/pkg/envelope"
	"github.com/jeremyhahn/go-secretvault/pkg/kdf"
	"github.com/jeremyhahn/go-secretvault/pkg/sharing"
	"github.com/jeremyhahn/go-secretvault/pkg/vault"
)

const (
	// FormatVersion is the current archive format, protected by Argon2id.
	FormatVersion = 2

	// formatVersionPBKDF2 is the legacy format, importable only.
	formatVersionPBKDF2 = 1

	saltSize = 16
)

// header is the cleartext archive header. It carries everything needed to
// re-derive the backup KEK; the salt and costs are not secret.
type header struct {
	Version    int    `json:"version"`
	Algorithm  string `json:"algorithm"`
	Salt       []byte `json:"salt"`
	Memory     uint32 `json:"memory,omitempty"`
	Time       uint32 `json:"time,omitempty"`
	Threads    uint8  `json:"threads,omitempty"`
	Iterations int    `json:"iterations,omitempty"`
}

// payload is the encrypted archive body.
type payload struct {
	ExportedAt time.Time         `json:"exported_at"`
	Settings   map[string]string `json:"settings,omitempty"`
	Vaults     []*vault.Vault    `json:"vaults"`
	Entries    []*vault.Entry    `json:"entries"`
	Members    []*sharing.Member `json:"members,omitempty"`
}

// Preview summarizes an archive's contents without modifying local state.
type Preview struct {
	Version    int
	ExportedAt time.Time
	Vaults     int
	Entries    int
	Members    int
}

// KEKResolver returns the effective KEK for a vault: the identity-derived
// KEK for private vaults, the membership-wrapped vault KEK for shared ones.
// The returned slice is owned by the backup manager, which zeroes it after
// use; resolvers must return a fresh buffer on every call.
type KEKResolver func(v *vault.Vault) ([]byte, error)

// Config configures a backup manager.
type Config struct {
	// Store is the local vault store. Required.
	Store *vault.Store

	// KEKFor resolves the effective KEK per vault. Required.
	KEKFor KEKResolver

	// Members supplies membership records for shared vaults on export.
	// Optional.
	Members func(vaultID uuid.UUID) ([]*sharing.Member, error)

	// RestoreMembers writes membership records back on import. Optional;
	// required to recover shared-vault KEKs from an archive.
	RestoreMembers func(members []*sharing.Member) error

	// Params overrides the Argon2id cost parameters used on export.
	// Defaults to the standard profile.
	Params *kdf.KDFParams

	// Logger receives structured logs. Defaults to the no-op logger.
	Logger logger.Logger
}

// Manager exports and imports password-protected archives.
type Manager struct {
	store          *vault.Store
	kekFor         KEKResolver
	members        func(vaultID uuid.UUID) ([]*sharing.Member, error)
	restoreMembers func(members []*sharing.Member) error
	params         *kdf.KDFParams
	argon2         kdf.KDFAdapter
	pbkdf2         kdf.KDFAdapter
	log            logger.Logger
}

// New creates a backup manager from the given config.
func New(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("backup: vault store is required")
	}
	if cfg.KEKFor == nil {
		return nil, fmt.Errorf("backup: KEK resolver is required")
	}
	if cfg.Params == nil {
		cfg.Params = kdf.DefaultParams(kdf.AlgorithmArgon2id)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoop()
	}
	return &Manager{
		store:          cfg.Store,
		kekFor:         cfg.KEKFor,
		members:        cfg.Members,
		restoreMembers: cfg.RestoreMembers,
		params:         cfg.Params,
		argon2:         kdf.NewArgon2Adapter(),
		pbkdf2:         kdf.NewPBKDF2Adapter(),
		log:            cfg.Logger,
	}, nil
}

// Export serializes all local vaults, entries, memberships, and settings
// into a password-protected archive. Every entry DEK is unwrapped with its
// vault's KEK and re-wrapped under the backup KEK; payload ciphertext is
// copied as-is.
func (m *Manager) Export(password string, settings map[string]string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("backup: generating salt: %w", err)
	}

	params := *m.params
	params.Salt = salt
	backupKEK, err := m.argon2.DeriveKey([]byte(password), &params)
	if err != nil {
		return nil, err
	}
	defer envelope.Zero(backupKEK)

	body, err := m.collect(backupKEK)
	if err != nil {
		return nil, err
	}
	body.Settings = settings

	hdr := header{
		Version:   FormatVersion,
		Algorithm: kdf.AlgorithmArgon2id.String(),
		Salt:      salt,
		Memory:    params.Memory,
		Time:      params.Time,
		Threads:   params.Threads,
	}
	archive, err := seal(hdr, body, backupKEK)
	if err != nil {
		return nil, err
	}

	m.log.Info("exported backup archive",
		logger.Int("vaults", len(body.Vaults)),
		logger.Int("entries", len(body.Entries)),
		logger.Int("bytes", len(archive)))
	return archive, nil
}

// PreviewArchive authenticates the archive and returns record counts. It
// never modifies local state.
func (m *Manager) PreviewArchive(archive []byte, password string) (*Preview, error) {
	hdr, body, backupKEK, err := m.open(archive, password)
	if err != nil {
		return nil, err
	}
	envelope.Zero(backupKEK)
	return &Preview{
		Version:    hdr.Version,
		ExportedAt: body.ExportedAt,
		Vaults:     len(body.Vaults),
		Entries:    len(body.Entries),
		Members:    len(body.Members),
	}, nil
}

// Import authenticates the archive, then atomically replaces local state:
// existing vaults and entries are purged and the archive's records written,
// with each entry DEK re-wrapped from the backup KEK to the vault's current
// effective KEK. A wrong password aborts before any local mutation.
func (m *Manager) Import(archive []byte, password string) (*Preview, error) {
	hdr, body, backupKEK, err := m.open(archive, password)
	if err != nil {
		return nil, err
	}
	defer envelope.Zero(backupKEK)

	// Membership records must land first: shared-vault KEKs are
	// recovered through them.
	if m.restoreMembers != nil && len(body.Members) > 0 {
		if err := m.restoreMembers(body.Members); err != nil {
			return nil, err
		}
	}

	// Re-wrap every entry before touching vault state so a corrupt
	// record cannot leave a half-imported store.
	restored := make(map[uuid.UUID][]byte, len(body.Vaults))
	defer func() {
		for _, kek := range restored {
			envelope.Zero(kek)
		}
	}()
	for _, v := range body.Vaults {
		kek, err := m.kekFor(v)
		if err != nil {
			return nil, err
		}
		restored[v.ID] = kek
	}
	for _, entry := range body.Entries {
		kek, ok := restored[entry.VaultID]
		if !ok || entry.Envelope == nil {
			continue
		}
		rewrapped, err := rewrap(entry.Envelope.WrappedDEK, backupKEK, kek)
		if err != nil {
			return nil, err
		}
		entry.Envelope.WrappedDEK = rewrapped
	}

	if err := m.replace(body); err != nil {
		return nil, err
	}

	m.log.Info("imported backup archive",
		logger.Int("version", hdr.Version),
		logger.Int("vaults", len(body.Vaults)),
		logger.Int("entries", len(body.Entries)))
	return &Preview{
		Version:    hdr.Version,
		ExportedAt: body.ExportedAt,
		Vaults:     len(body.Vaults),
		Entries:    len(body.Entries),
		Members:    len(body.Members),
	}, nil
}

// collect snapshots local state with every entry DEK re-wrapped under the
// backup KEK.
func (m *Manager) collect(backupKEK []byte) (*payload, error) {
	vaults, err := m.store.ListVaults()
	if err != nil {
		return nil, err
	}

	body := &payload{ExportedAt: time.Now().UTC(), Vaults: vaults}
	for _, v := range vaults {
		kek, err := m.kekFor(v)
		if err != nil {
			return nil, err
		}

		entries, err := m.store.ListEntries(v.ID)
		if err != nil {
			envelope.Zero(kek)
			return nil, err
		}
		for _, entry := range entries {
			if entry.Envelope == nil {
				continue
			}
			clone := *entry
			env := *entry.Envelope
			rewrapped, err := rewrap(env.WrappedDEK, kek, backupKEK)
			if err != nil {
				envelope.Zero(kek)
				return nil, err
			}
			env.WrappedDEK = rewrapped
			clone.Envelope = &env
			body.Entries = append(body.Entries, &clone)
		}
		envelope.Zero(kek)

		if m.members != nil {
			members, err := m.members(v.ID)
			if err != nil {
				return nil, err
			}
			body.Members = append(body.Members, members...)
		}
	}
	return body, nil
}

// replace wipes existing vaults and entries and writes the archive's
// records. Runs only after full authentication and re-wrapping.
func (m *Manager) replace(body *payload) error {
	existing, err := m.store.ListVaults()
	if err != nil {
		return err
	}
	for _, v := range existing {
		if err := m.store.PurgeVault(v.ID); err != nil {
			return err
		}
	}

	for _, v := range body.Vaults {
		if err := m.store.SaveVault(v); err != nil {
			return err
		}
	}
	for _, entry := range body.Entries {
		if err := m.store.SaveEntry(entry); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) deriveKEK(hdr *header, password string) ([]byte, error) {
	switch hdr.Version {
	case FormatVersion:
		return m.argon2.DeriveKey([]byte(password), &kdf.KDFParams{
			Algorithm: kdf.AlgorithmArgon2id,
			Salt:      hdr.Salt,
			Memory:    hdr.Memory,
			Time:      hdr.Time,
			Threads:   hdr.Threads,
			KeyLength: kdf.KEKLength,
		})
	case formatVersionPBKDF2:
		return m.pbkdf2.DeriveKey([]byte(password), &kdf.KDFParams{
			Algorithm:  kdf.AlgorithmPBKDF2,
			Salt:       hdr.Salt,
			Iterations: hdr.Iterations,
			KeyLength:  kdf.KEKLength,
			Hash:       crypto.SHA256,
		})
	default:
		return nil, ErrUnsupportedVersion
	}
}

// open parses the framing, derives the KEK from the header, and decrypts
// the payload. Any authentication failure surfaces as ErrAuthFailed. On
// success the caller owns the returned KEK and must zero it.
func (m *Manager) open(archive []byte, password string) (*header, *payload, []byte, error) {
	hdrBytes, sealed, err := split(archive)
	if err != nil {
		return nil, nil, nil, err
	}

	var hdr header
	if err := json.Unmarshal(hdrBytes, &hdr); err != nil {
		return nil, nil, nil, ErrMalformed
	}
	if hdr.Version != FormatVersion && hdr.Version != formatVersionPBKDF2 {
		return nil, nil, nil, ErrUnsupportedVersion
	}

	backupKEK, err := m.deriveKEK(&hdr, password)
	if err != nil {
		return nil, nil, nil, err
	}

	compressed, err := envelope.OpenSealed(sealed, backupKEK, hdrBytes)
	if err != nil {
		envelope.Zero(backupKEK)
		return nil, nil, nil, ErrAuthFailed
	}

	body, err := decodeBody(compressed)
	if err != nil {
		envelope.Zero(backupKEK)
		return nil, nil, nil, err
	}
	return &hdr, body, backupKEK, nil
}

func decodeBody(compressed []byte) (*payload, error) {
	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, ErrMalformed
	}
	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, ErrMalformed
	}
	if err := gz.Close(); err != nil {
		return nil, ErrMalformed
	}

	var body payload
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, ErrMalformed
	}
	return &body, nil
}

func seal(hdr header, body *payload, backupKEK []byte) ([]byte, error) {
	hdrBytes, err := json.Marshal(hdr)
	if err != nil {
		return nil, fmt.Errorf("backup: encoding header: %w", err)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("backup: encoding payload: %w", err)
	}

	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	if _, err := gz.Write(raw); err != nil {
		return nil, fmt.Errorf("backup: compressing payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("backup: compressing payload: %w", err)
	}

	sealed, err := envelope.SealBytes(compressed.Bytes(), backupKEK, hdrBytes)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 4+len(hdrBytes)+len(sealed))
	out = binary.BigEndian.AppendUint32(out, uint32(len(hdrBytes)))
	out = append(out, hdrBytes...)
	out = append(out, sealed...)
	return out, nil
}

func split(archive []byte) (hdrBytes, sealed []byte, err error) {
	if len(archive) < 4 {
		return nil, nil, ErrMalformed
	}
	hdrLen := binary.BigEndian.Uint32(archive[:4])
	if int(hdrLen) > len(archive)-4 {
		return nil, nil, ErrMalformed
	}
	hdrBytes = archive[4 : 4+hdrLen]
	sealed = archive[4+hdrLen:]
	return hdrBytes, sealed, nil
}

// rewrap unwraps a DEK with from and wraps it with to, zeroing the raw DEK
// in between.
func rewrap(wrapped, from, to []byte) ([]byte, error) {
	dek, err := envelope.UnwrapDEK(wrapped, from)
	if err != nil {
		return nil, err
	}
	defer envelope.Zero(dek)
	return envelope.WrapDEK(dek, to)
}
