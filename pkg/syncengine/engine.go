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

// Package syncengine replicates encrypted vault rows between the local store
// and a remote row store, one database per shared vault. The propagation
// unit is the envelope row: the remote side only ever sees ciphertext and
// non-secret metadata.
//
// Sync cycles serialize per vault behind a writer lock, so conflict
// resolution always runs single-writer-per-vault. Concurrent edits to the
// same entry resolve by last-writer-wins on the modified timestamp; the
// losing write is preserved locally as an orphan entry, never discarded.
package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/jeremyhahn/go-secretvault/pkg/adapters/logger"
	"github.com/jeremyhahn/go-secretvault/pkg/adapters/metrics"
	"github.com/jeremyhahn/go-secretvault/pkg/types"
	"github.com/jeremyhahn/go-secretvault/pkg/vault"
)

// Strategy selects how reads and writes interact with the remote store.
// The strategy is a per-platform deployment choice, not a per-vault one.
type Strategy string

const (
	// StrategyCachedReplica serves reads from the local replica and
	// replicates in the background. Lower latency; staleness bounded by
	// the sync interval.
	StrategyCachedReplica Strategy = "cached-replica"

	// StrategyRemoteOnly refreshes from the remote store before every
	// read and flushes after every write. The fallback for platforms
	// where the replica mechanism is unreliable.
	StrategyRemoteOnly Strategy = "remote-only"
)

// Valid reports whether s is a recognized strategy.
func (s Strategy) Valid() bool {
	return s == StrategyCachedReplica || s == StrategyRemoteOnly
}

// MemberResolver supplies and consumes membership rows during a sync cycle.
// The sharing coordinator implements it; the engine itself does not
// interpret membership data.
type MemberResolver interface {
	// LocalMemberRows returns the membership rows to replicate for the
	// vault.
	LocalMemberRows(vaultID uuid.UUID) ([]Row, error)

	// ApplyMemberRows applies membership rows fetched from the remote
	// store, including deletions of members removed on another device.
	ApplyMemberRows(vaultID uuid.UUID, rows []Row) error
}

// Config configures a sync engine.
type Config struct {
	// Remote is the remote row store. Required.
	Remote RemoteStore

	// Store is the local vault store. Required.
	Store *vault.Store

	// Strategy selects cached-replica or remote-only operation. Defaults
	// to cached-replica.
	Strategy Strategy

	// Members resolves membership rows. Optional; when nil, membership
	// rows are not replicated.
	Members MemberResolver

	// RetryBudget bounds retries of a transient remote failure before the
	// cycle is abandoned. Defaults to 5.
	RetryBudget uint64

	// InitialInterval is the first backoff interval after a transient
	// failure. Defaults to 500 milliseconds.
	InitialInterval time.Duration

	// MaxInterval caps the exponential backoff interval between retries.
	// Defaults to 30 seconds.
	MaxInterval time.Duration

	// Logger receives structured sync logs. Defaults to the no-op logger.
	Logger logger.Logger

	// Metrics receives sync telemetry. Defaults to the no-op adapter.
	Metrics metrics.Adapter
}

// Engine replicates shared vaults to their remote databases.
type Engine struct {
	remote          RemoteStore
	store           *vault.Store
	strategy        Strategy
	members         MemberResolver
	retryBudget     uint64
	initialInterval time.Duration
	maxInterval     time.Duration
	log             logger.Logger
	metrics         metrics.Adapter

	mu     sync.Mutex
	locks  map[uuid.UUID]*sync.Mutex
	states map[uuid.UUID]types.SyncState
}

// New creates a sync engine from the given config.
func New(cfg Config) (*Engine, error) {
	if cfg.Remote == nil {
		return nil, errors.New("syncengine: remote store is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("syncengine: vault store is required")
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyCachedReplica
	}
	if !cfg.Strategy.Valid() {
		return nil, fmt.Errorf("syncengine: unknown strategy %q", cfg.Strategy)
	}
	if cfg.RetryBudget == 0 {
		cfg.RetryBudget = 5
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	return &Engine{
		remote:          cfg.Remote,
		store:           cfg.Store,
		strategy:        cfg.Strategy,
		members:         cfg.Members,
		retryBudget:     cfg.RetryBudget,
		initialInterval: cfg.InitialInterval,
		maxInterval:     cfg.MaxInterval,
		log:             cfg.Logger,
		metrics:         cfg.Metrics,
		locks:           make(map[uuid.UUID]*sync.Mutex),
		states:          make(map[uuid.UUID]types.SyncState),
	}, nil
}

// Strategy returns the engine's connection strategy.
func (e *Engine) Strategy() Strategy {
	return e.strategy
}

// State returns the current sync state for the vault.
func (e *Engine) State(vaultID uuid.UUID) types.SyncState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.states[vaultID]
}

func (e *Engine) setState(vaultID uuid.UUID, state types.SyncState) {
	e.mu.Lock()
	prev := e.states[vaultID]
	e.states[vaultID] = state
	e.mu.Unlock()

	if prev != state {
		e.log.Debug("sync state transition",
			logger.String("vault_id", vaultID.String()),
			logger.String("from", prev.String()),
			logger.String("to", state.String()))
	}
}

func (e *Engine) vaultLock(vaultID uuid.UUID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.locks[vaultID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[vaultID] = lock
	}
	return lock
}

// RemoteDBName derives the deterministic remote database name for a vault
// from the vault id, owner id, and creation timestamp, so re-provisioning
// the same vault never collides with another vault's database.
func RemoteDBName(v *vault.Vault) string {
	return fmt.Sprintf("sv-%s-%s-%d", v.ID, v.OwnerID, v.CreatedAt.Unix())
}

// Provision creates the vault's remote database and records its handle on
// the vault. Provisioning a private vault fails with ErrNotSyncable.
func (e *Engine) Provision(ctx context.Context, v *vault.Vault) error {
	if v.Type != types.VaultTypeShared {
		return ErrNotSyncable
	}
	if v.RemoteDB == "" {
		v.RemoteDB = RemoteDBName(v)
	}

	if err := e.retry(ctx, v.ID, func() error {
		return e.remote.Provision(ctx, v.RemoteDB)
	}); err != nil {
		return err
	}
	if err := e.store.SaveVault(v); err != nil {
		return fmt.Errorf("syncengine: recording remote handle: %w", err)
	}

	e.log.Info("provisioned remote database",
		logger.String("vault_id", v.ID.String()),
		logger.String("remote_db", v.RemoteDB))
	return nil
}

// DropVault drops the vault's remote database and then purges the local
// tombstoned vault. Used to complete deletion of a shared vault.
func (e *Engine) DropVault(ctx context.Context, v *vault.Vault) error {
	if v.RemoteDB == "" {
		return ErrNotSyncable
	}

	lock := e.vaultLock(v.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := e.retry(ctx, v.ID, func() error {
		return e.remote.Drop(ctx, v.RemoteDB)
	}); err != nil {
		return err
	}
	if err := e.store.PurgeVault(v.ID); err != nil {
		return fmt.Errorf("syncengine: purging vault after drop: %w", err)
	}

	e.mu.Lock()
	delete(e.states, v.ID)
	delete(e.locks, v.ID)
	e.mu.Unlock()

	e.log.Info("dropped remote database",
		logger.String("vault_id", v.ID.String()),
		logger.String("remote_db", v.RemoteDB))
	return nil
}

// Sync runs one full sync cycle for the vault: fetch remote rows, resolve
// conflicts by last-writer-wins, adopt remote-only rows, and push local
// tombstones and winning live rows. Cycles for the same vault serialize;
// cycles for different vaults run concurrently.
func (e *Engine) Sync(ctx context.Context, vaultID uuid.UUID) error {
	v, err := e.store.GetVault(vaultID)
	if err != nil {
		// Deletion tombstones are invisible through GetVault; complete
		// the drop instead of syncing rows.
		if errors.Is(err, vault.ErrVaultNotFound) {
			if tomb := e.deletedVault(vaultID); tomb != nil {
				return e.DropVault(ctx, tomb)
			}
		}
		return err
	}
	if v.Type != types.VaultTypeShared || v.RemoteDB == "" {
		return ErrNotSyncable
	}

	lock := e.vaultLock(vaultID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	labels := map[string]string{"vault_id": vaultID.String()}
	e.setState(vaultID, types.SyncConnecting)

	conflicts, err := e.cycle(ctx, v)
	e.metrics.ObserveDuration(metrics.MetricSyncDuration, time.Since(start), labels)
	if err != nil {
		// A missing remote database means the vault was dropped from
		// another device or this device's access was revoked. Complete the
		// deletion locally so no stale replica survives the revocation.
		if errors.Is(err, ErrDatabaseNotFound) {
			return e.completeRemoteDrop(v)
		}
		e.setState(vaultID, types.SyncDisconnected)
		e.metrics.IncCounter(metrics.MetricSyncFailures, labels)
		return err
	}

	e.metrics.IncCounter(metrics.MetricSyncTotal, labels)
	if conflicts > 0 {
		e.setState(vaultID, types.SyncConflict)
	} else {
		e.setState(vaultID, types.SyncSynced)
	}
	e.log.Info("sync cycle complete",
		logger.String("vault_id", vaultID.String()),
		logger.Int("conflicts", conflicts),
		logger.String("state", e.State(vaultID).String()))
	return nil
}

// Refresh pulls remote state before a read when running remote-only. It is
// a no-op under the cached-replica strategy.
func (e *Engine) Refresh(ctx context.Context, vaultID uuid.UUID) error {
	if e.strategy != StrategyRemoteOnly {
		return nil
	}
	return e.Sync(ctx, vaultID)
}

// Flush pushes local state after a write when running remote-only. It is a
// no-op under the cached-replica strategy.
func (e *Engine) Flush(ctx context.Context, vaultID uuid.UUID) error {
	if e.strategy != StrategyRemoteOnly {
		return nil
	}
	return e.Sync(ctx, vaultID)
}

// completeRemoteDrop purges the local replica of a vault whose remote
// database no longer exists. Membership records are left to the sharing
// layer; with the vault and its entries gone they grant nothing.
func (e *Engine) completeRemoteDrop(v *vault.Vault) error {
	if err := e.store.PurgeVault(v.ID); err != nil {
		return fmt.Errorf("syncengine: purging replica of dropped vault: %w", err)
	}

	e.mu.Lock()
	delete(e.states, v.ID)
	delete(e.locks, v.ID)
	e.mu.Unlock()

	e.log.Info("remote database gone, removed local replica",
		logger.String("vault_id", v.ID.String()),
		logger.String("remote_db", v.RemoteDB))
	return nil
}

func (e *Engine) deletedVault(vaultID uuid.UUID) *vault.Vault {
	deleted, err := e.store.DeletedVaults()
	if err != nil {
		return nil
	}
	for _, v := range deleted {
		if v.ID == vaultID {
			return v
		}
	}
	return nil
}

// cycle performs the actual replication under the vault lock and returns
// the number of conflicts resolved.
func (e *Engine) cycle(ctx context.Context, v *vault.Vault) (int, error) {
	local, err := e.store.SyncableEntries(v.ID)
	if err != nil {
		return 0, err
	}
	live := make(map[uuid.UUID]*vault.Entry, len(local))
	tombs := make(map[uuid.UUID]*vault.Entry)
	for _, entry := range local {
		if entry.Deleted {
			tombs[entry.ID] = entry
		} else {
			live[entry.ID] = entry
		}
	}

	var remoteRows []Row
	if err := e.retry(ctx, v.ID, func() error {
		var ferr error
		remoteRows, ferr = e.remote.Fetch(ctx, v.RemoteDB)
		return ferr
	}); err != nil {
		return 0, err
	}

	remote := make(map[uuid.UUID]Row, len(remoteRows))
	var memberRows []Row
	for _, row := range remoteRows {
		switch row.Kind {
		case RowKindMember:
			memberRows = append(memberRows, row)
		case RowKindEntry:
			remote[row.ID] = row
		}
	}

	conflicts := 0
	var push []Row
	// Local tombstones to purge, but only after the remote confirmed the
	// push. A failed cycle leaves them queued for the next one.
	var purge []uuid.UUID

	// Local deletions replicate as tombstone rows so replicas can tell
	// "deleted" apart from "not yet pushed". Deletion obeys the same
	// last-writer-wins rule as any other write.
	for id, entry := range tombs {
		row, ok := remote[id]
		delete(remote, id)

		switch {
		case ok && !row.Deleted && row.Modified.After(entry.ModifiedAt):
			// The deletion lost to a newer remote write; revive the entry.
			if err := e.adoptRow(v.ID, row); err != nil {
				return conflicts, err
			}
			conflicts++
			e.metrics.IncCounter(metrics.MetricSyncConflicts, map[string]string{"vault_id": v.ID.String()})
		case ok && row.Deleted:
			// Already tombstoned remotely.
			purge = append(purge, id)
		default:
			push = append(push, entryRow(entry))
			purge = append(purge, id)
		}
	}

	for id, entry := range live {
		row, ok := remote[id]
		if !ok {
			push = append(push, entryRow(entry))
			continue
		}
		delete(remote, id)

		switch {
		case row.Deleted && row.Modified.After(entry.ModifiedAt):
			// Deleted elsewhere after this write; honor the deletion.
			if err := e.store.PurgeEntry(v.ID, id); err != nil {
				return conflicts, err
			}
		case row.Deleted:
			// This write postdates the deletion and wins.
			push = append(push, entryRow(entry))
		case row.Modified.After(entry.ModifiedAt):
			// Remote wins. Preserve the local write as an orphan before
			// adopting the remote row.
			if err := e.preserveOrphan(entry); err != nil {
				return conflicts, err
			}
			if err := e.adoptRow(v.ID, row); err != nil {
				return conflicts, err
			}
			conflicts++
			e.metrics.IncCounter(metrics.MetricSyncConflicts, map[string]string{"vault_id": v.ID.String()})
		case entry.ModifiedAt.After(row.Modified):
			push = append(push, entryRow(entry))
		}
	}

	// Rows that exist only remotely are adopted locally. Remote tombstones
	// with no local counterpart need nothing: the entry is already gone.
	for _, row := range remote {
		if row.Deleted {
			continue
		}
		if err := e.adoptRow(v.ID, row); err != nil {
			return conflicts, err
		}
	}

	// Merge fetched membership rows before collecting the local ones, so a
	// stale local record never overwrites a newer remote one on push.
	if e.members != nil {
		if err := e.members.ApplyMemberRows(v.ID, memberRows); err != nil {
			return conflicts, err
		}
		rows, err := e.members.LocalMemberRows(v.ID)
		if err != nil {
			return conflicts, err
		}
		push = append(push, rows...)
	}

	if len(push) > 0 {
		if err := e.retry(ctx, v.ID, func() error {
			return e.remote.Upsert(ctx, v.RemoteDB, push)
		}); err != nil {
			return conflicts, err
		}
	}

	for _, id := range purge {
		if err := e.store.PurgeEntry(v.ID, id); err != nil {
			return conflicts, err
		}
	}

	return conflicts, nil
}

// preserveOrphan keeps a losing concurrent write as a local-only copy under
// a fresh id so the user can recover it.
func (e *Engine) preserveOrphan(entry *vault.Entry) error {
	orphan := *entry
	orphan.ID = uuid.New()
	orphan.Orphan = true
	if err := e.store.SaveEntry(&orphan); err != nil {
		return fmt.Errorf("syncengine: preserving conflict orphan: %w", err)
	}
	e.log.Warn("concurrent write lost conflict, preserved as orphan",
		logger.String("vault_id", entry.VaultID.String()),
		logger.String("entry_id", entry.ID.String()),
		logger.String("orphan_id", orphan.ID.String()))
	return nil
}

func (e *Engine) adoptRow(vaultID uuid.UUID, row Row) error {
	var entry vault.Entry
	if err := json.Unmarshal(row.Data, &entry); err != nil {
		return fmt.Errorf("syncengine: decoding remote entry row: %w", err)
	}
	entry.VaultID = vaultID
	entry.Orphan = false
	return e.store.SaveEntry(&entry)
}

func entryRow(entry *vault.Entry) Row {
	data, err := json.Marshal(entry)
	if err != nil {
		// Entries are plain structs; marshal cannot fail on them.
		panic(fmt.Sprintf("syncengine: marshaling entry row: %v", err))
	}
	return Row{
		ID:       entry.ID,
		Kind:     RowKindEntry,
		Data:     data,
		Modified: entry.ModifiedAt,
		Deleted:  entry.Deleted,
	}
}

// retry runs op with exponential backoff until it succeeds, fails with a
// non-transient error, the retry budget is exhausted, or ctx is cancelled.
// Only ErrUnavailable is retried: a cryptographic or permission failure
// will not become right by retrying.
func (e *Engine) retry(ctx context.Context, vaultID uuid.UUID, op func() error) error {
	labels := map[string]string{"vault_id": vaultID.String()}
	attempt := 0

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrUnavailable) {
			return backoff.Permanent(err)
		}
		attempt++
		e.metrics.IncCounter(metrics.MetricSyncRetries, labels)
		e.log.Debug("transient remote failure, retrying",
			logger.String("vault_id", vaultID.String()),
			logger.Int("attempt", attempt),
			logger.Err(err))
		return err
	}

	// Exhausting the budget surfaces the last ErrUnavailable; pending
	// local writes stay tombstoned for the next cycle.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.initialInterval
	bo.MaxInterval = e.maxInterval
	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(bo, e.retryBudget), ctx))
}
