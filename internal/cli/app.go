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

package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jeremyhahn/go-secretvault/internal/config"
	"github.com/jeremyhahn/go-secretvault/pkg/adapters/logger"
	"github.com/jeremyhahn/go-secretvault/pkg/adapters/metrics"
	"github.com/jeremyhahn/go-secretvault/pkg/backup"
	"github.com/jeremyhahn/go-secretvault/pkg/identity"
	"github.com/jeremyhahn/go-secretvault/pkg/keystore"
	"github.com/jeremyhahn/go-secretvault/pkg/service"
	"github.com/jeremyhahn/go-secretvault/pkg/sharing"
	"github.com/jeremyhahn/go-secretvault/pkg/storage"
	"github.com/jeremyhahn/go-secretvault/pkg/syncengine"
	"github.com/jeremyhahn/go-secretvault/pkg/types"
	"github.com/jeremyhahn/go-secretvault/pkg/vault"
)

// app is the fully wired client stack behind every CLI command.
type app struct {
	cfg *config.Config
	svc *service.Service
	log logger.Logger
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".secretvault", "config.yaml")
}

// buildApp loads configuration and wires the vault subsystems.
func buildApp() (*app, error) {
	path := configPath
	if path == "" {
		path = defaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	log := logger.NewSlogAdapter(&logger.SlogConfig{
		Level: logger.ParseLevel(cfg.Logging.Level),
		JSON:  cfg.Logging.Format == "json",
	})

	backend, err := buildBackend(cfg)
	if err != nil {
		return nil, err
	}
	ks, err := buildKeystore(cfg)
	if err != nil {
		return nil, err
	}

	ident := identity.NewManager(ks, backend, log)
	store := vault.NewStore(backend, log)
	coord := sharing.NewCoordinator(backend, store, ident, log)

	engine, err := buildEngine(cfg, store, coord, log)
	if err != nil {
		return nil, err
	}

	kekFor := func(v *vault.Vault) ([]byte, error) {
		if v.Type == types.VaultTypeShared {
			return coord.MemberKEK(v.ID)
		}
		return ident.DeriveKEK()
	}
	bkp, err := backup.New(backup.Config{
		Store:          store,
		KEKFor:         kekFor,
		Members:        coord.Members,
		RestoreMembers: coord.RestoreMembers,
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}

	svc, err := service.New(service.Config{
		Identity: ident,
		Store:    store,
		Sharing:  coord,
		Engine:   engine,
		Backup:   bkp,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, svc: svc, log: log}, nil
}

func buildBackend(cfg *config.Config) (storage.Backend, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return storage.NewMemory(), nil
	default:
		return storage.NewFile(cfg.Storage.DataDir)
	}
}

func buildKeystore(cfg *config.Config) (keystore.Keystore, error) {
	switch cfg.Keystore.Backend {
	case "memory":
		return keystore.NewMemory(), nil
	case "file":
		return keystore.NewKeyring(&keystore.KeyringConfig{
			ServiceName: cfg.Keystore.ServiceName,
			FileDir:     cfg.Keystore.FileDir,
		})
	default:
		return keystore.NewKeyring(&keystore.KeyringConfig{
			ServiceName: cfg.Keystore.ServiceName,
		})
	}
}

func buildEngine(cfg *config.Config, store *vault.Store, coord *sharing.Coordinator, log logger.Logger) (*syncengine.Engine, error) {
	if cfg.Sync.RemoteDir == "" {
		return nil, nil
	}
	remoteBackend, err := storage.NewFile(cfg.Sync.RemoteDir)
	if err != nil {
		return nil, fmt.Errorf("opening sync remote directory: %w", err)
	}

	var collector metrics.Adapter
	if cfg.Metrics.Enabled {
		collector = metrics.NewPrometheusAdapter(nil)
	}

	return syncengine.New(syncengine.Config{
		Remote:          syncengine.NewBackendRemote(remoteBackend),
		Store:           store,
		Strategy:        syncengine.Strategy(cfg.Sync.Strategy),
		Members:         coord,
		RetryBudget:     cfg.Sync.RetryBudget,
		InitialInterval: cfg.Sync.InitialInterval.Std(),
		MaxInterval:     cfg.Sync.MaxInterval.Std(),
		Logger:          log,
		Metrics:         collector,
	})
}
