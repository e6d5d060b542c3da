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

package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-secretvault/pkg/storage"
)

// BackendRemote adapts a storage.Backend into a RemoteStore. Rows are
// JSON-encoded under db/<database>/<row id>. Backed by a file backend on a
// network mount it gives multiple devices a shared remote without a server;
// rows are already ciphertext, so the mount is untrusted like any remote.
type BackendRemote struct {
	backend storage.Backend
}

// NewBackendRemote wraps backend as a RemoteStore.
func NewBackendRemote(backend storage.Backend) *BackendRemote {
	return &BackendRemote{backend: backend}
}

func dbMarker(db string) string {
	return fmt.Sprintf("db/%s/.provisioned", db)
}

func rowKey(db string, id uuid.UUID) string {
	return fmt.Sprintf("db/%s/%s", db, id)
}

// Provision implements RemoteStore.
func (b *BackendRemote) Provision(_ context.Context, db string) error {
	return b.translate(b.backend.Put(dbMarker(db), []byte("1")))
}

// Drop implements RemoteStore.
func (b *BackendRemote) Drop(_ context.Context, db string) error {
	keys, err := b.backend.List(fmt.Sprintf("db/%s/", db))
	if err != nil {
		return b.translate(err)
	}
	for _, key := range keys {
		if err := b.backend.Delete(key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return b.translate(err)
		}
	}
	return nil
}

// Upsert implements RemoteStore.
func (b *BackendRemote) Upsert(ctx context.Context, db string, rows []Row) error {
	if err := b.checkProvisioned(db); err != nil {
		return err
	}
	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("syncengine: encoding row: %w", err)
		}
		if err := b.backend.Put(rowKey(db, row.ID), data); err != nil {
			return b.translate(err)
		}
	}
	return nil
}

// Fetch implements RemoteStore.
func (b *BackendRemote) Fetch(_ context.Context, db string) ([]Row, error) {
	if err := b.checkProvisioned(db); err != nil {
		return nil, err
	}
	keys, err := b.backend.List(fmt.Sprintf("db/%s/", db))
	if err != nil {
		return nil, b.translate(err)
	}

	rows := make([]Row, 0, len(keys))
	for _, key := range keys {
		if key == dbMarker(db) {
			continue
		}
		data, err := b.backend.Get(key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, b.translate(err)
		}
		var row Row
		if err := json.Unmarshal(data, &row); err != nil {
			return nil, fmt.Errorf("syncengine: decoding row: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Delete implements RemoteStore.
func (b *BackendRemote) Delete(_ context.Context, db string, id uuid.UUID) error {
	if err := b.checkProvisioned(db); err != nil {
		return err
	}
	if err := b.backend.Delete(rowKey(db, id)); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return b.translate(err)
	}
	return nil
}

func (b *BackendRemote) checkProvisioned(db string) error {
	ok, err := b.backend.Exists(dbMarker(db))
	if err != nil {
		return b.translate(err)
	}
	if !ok {
		return ErrDatabaseNotFound
	}
	return nil
}

// translate maps backend failures to the transient-error contract so the
// engine retries I/O errors with backoff.
func (b *BackendRemote) translate(err error) error {
	if err == nil || errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidKey) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
