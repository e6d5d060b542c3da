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

	"github.com/jeremyhahn/go-secretvault/pkg/types"
)

var vaultShared bool
var vaultDeleteConfirmed bool

// vaultCmd groups vault subcommands
var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage vaults",
}

var vaultCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a vault",
	Long: `Creates a private vault, or with --shared a shared vault with this
identity as owner backed by a freshly provisioned remote database.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := buildApp()
		if err != nil {
			handleError(err)
		}
		if _, err := a.svc.Unlock(); err != nil {
			handleError(err)
		}

		vaultType := types.VaultTypePrivate
		if vaultShared {
			vaultType = types.VaultTypeShared
		}

		v, err := a.svc.CreateVault(cmd.Context(), args[0], vaultType)
		if err != nil {
			handleError(err)
		}

		if outputFormat == "json" {
			printJSON(v)
			return
		}
		fmt.Printf("Created %s vault %q (%s)\n", v.Type, v.Name, v.ID)
	},
}

var vaultListCmd = &cobra.Command{
	Use:   "list",
	Short: "List vaults",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := buildApp()
		if err != nil {
			handleError(err)
		}
		if _, err := a.svc.Unlock(); err != nil {
			handleError(err)
		}

		vaults, err := a.svc.ListVaults()
		if err != nil {
			handleError(err)
		}

		if outputFormat == "json" {
			printJSON(vaults)
			return
		}
		for _, v := range vaults {
			fmt.Printf("%s  %-8s  %s\n", v.ID, v.Type, v.Name)
		}
	},
}

var vaultDeleteCmd = &cobra.Command{
	Use:   "delete [vault-id]",
	Short: "Delete a vault and all its entries",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		vaultID, err := uuid.Parse(args[0])
		if err != nil {
			handleError(fmt.Errorf("invalid vault id: %w", err))
		}
		if !vaultDeleteConfirmed && !confirm("This deletes the vault and every entry in it.") {
			fmt.Println("Aborted.")
			return
		}

		a, err := buildApp()
		if err != nil {
			handleError(err)
		}
		if _, err := a.svc.Unlock(); err != nil {
			handleError(err)
		}
		if err := a.svc.DeleteVault(cmd.Context(), vaultID); err != nil {
			handleError(err)
		}
		fmt.Println("Vault deleted.")
	},
}

func init() {
	vaultCreateCmd.Flags().BoolVar(&vaultShared, "shared", false,
		"create a shared vault with a remote database")
	vaultDeleteCmd.Flags().BoolVar(&vaultDeleteConfirmed, "confirm", false,
		"skip the interactive confirmation prompt")

	vaultCmd.AddCommand(vaultCreateCmd)
	vaultCmd.AddCommand(vaultListCmd)
	vaultCmd.AddCommand(vaultDeleteCmd)
}
