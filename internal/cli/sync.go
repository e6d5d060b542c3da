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

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// syncCmd synchronizes shared vaults with their remote databases
var syncCmd = &cobra.Command{
	Use:   "sync [vault-id]",
	Short: "Synchronize shared vaults",
	Long: `Runs a sync cycle against the remote store: local changes are
pushed, remote changes are merged with last-writer-wins, and losing
writes are kept as conflict copies. Without an argument every shared
vault is synchronized.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := buildApp()
		if err != nil {
			handleError(err)
		}
		if _, err := a.svc.Unlock(); err != nil {
			handleError(err)
		}

		if len(args) == 1 {
			vaultID, err := uuid.Parse(args[0])
			if err != nil {
				handleError(fmt.Errorf("invalid vault id: %w", err))
			}
			if err := a.svc.Sync(cmd.Context(), vaultID); err != nil {
				handleError(err)
			}
		} else {
			if err := a.svc.SyncAll(cmd.Context()); err != nil {
				handleError(err)
			}
		}
		fmt.Println("Sync complete.")
	},
}
