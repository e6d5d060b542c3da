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

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-secretvault/pkg/types"
)

var (
	secretCategory string
	secretFilter   string
	secretValue    string
)

// secretCmd groups secret subcommands
var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage secrets",
}

var secretPutCmd = &cobra.Command{
	Use:   "put [vault-id] [name]",
	Short: "Store a secret",
	Long: `Encrypts a secret into the vault. The value is read from --value or,
when omitted, from stdin so it never appears in shell history.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		vaultID, err := uuid.Parse(args[0])
		if err != nil {
			handleError(fmt.Errorf("invalid vault id: %w", err))
		}
		category := types.Category(secretCategory)
		if !category.Valid() {
			handleError(fmt.Errorf("invalid category %q", secretCategory))
		}

		var plaintext []byte
		if secretValue != "" {
			plaintext = []byte(secretValue)
		} else {
			data, err := readStdin()
			if err != nil {
				handleError(err)
			}
			plaintext = []byte(data)
		}

		a, err := buildApp()
		if err != nil {
			handleError(err)
		}
		if _, err := a.svc.Unlock(); err != nil {
			handleError(err)
		}

		entryID, err := a.svc.PutSecret(cmd.Context(), vaultID, category, args[1], plaintext)
		if err != nil {
			handleError(err)
		}

		if outputFormat == "json" {
			printJSON(map[string]interface{}{"id": entryID})
			return
		}
		fmt.Printf("Stored %q (%s)\n", args[1], entryID)
	},
}

var secretGetCmd = &cobra.Command{
	Use:   "get [vault-id] [entry-id]",
	Short: "Read a secret",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		vaultID, err := uuid.Parse(args[0])
		if err != nil {
			handleError(fmt.Errorf("invalid vault id: %w", err))
		}
		entryID, err := uuid.Parse(args[1])
		if err != nil {
			handleError(fmt.Errorf("invalid entry id: %w", err))
		}

		a, err := buildApp()
		if err != nil {
			handleError(err)
		}
		if _, err := a.svc.Unlock(); err != nil {
			handleError(err)
		}

		plaintext, err := a.svc.GetSecret(cmd.Context(), vaultID, entryID)
		if err != nil {
			handleError(err)
		}
		os.Stdout.Write(plaintext)
	},
}

var secretListCmd = &cobra.Command{
	Use:   "list [vault-id]",
	Short: "List entries in a vault",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		vaultID, err := uuid.Parse(args[0])
		if err != nil {
			handleError(fmt.Errorf("invalid vault id: %w", err))
		}
		var category types.Category
		if secretFilter != "" {
			category = types.Category(secretFilter)
			if !category.Valid() {
				handleError(fmt.Errorf("invalid category %q", secretFilter))
			}
		}

		a, err := buildApp()
		if err != nil {
			handleError(err)
		}
		if _, err := a.svc.Unlock(); err != nil {
			handleError(err)
		}

		entries, err := a.svc.ListSecrets(vaultID, category)
		if err != nil {
			handleError(err)
		}

		if outputFormat == "json" {
			printJSON(entries)
			return
		}
		for _, e := range entries {
			marker := ""
			if e.Orphan {
				marker = "  (conflict copy)"
			}
			fmt.Printf("%s  %-12s  %s%s\n", e.ID, e.Category, e.Name, marker)
		}
	},
}

var secretDeleteCmd = &cobra.Command{
	Use:   "delete [vault-id] [entry-id]",
	Short: "Delete a secret",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		vaultID, err := uuid.Parse(args[0])
		if err != nil {
			handleError(fmt.Errorf("invalid vault id: %w", err))
		}
		entryID, err := uuid.Parse(args[1])
		if err != nil {
			handleError(fmt.Errorf("invalid entry id: %w", err))
		}

		a, err := buildApp()
		if err != nil {
			handleError(err)
		}
		if _, err := a.svc.Unlock(); err != nil {
			handleError(err)
		}
		if err := a.svc.DeleteSecret(cmd.Context(), vaultID, entryID); err != nil {
			handleError(err)
		}
		fmt.Println("Secret deleted.")
	},
}

func init() {
	secretPutCmd.Flags().StringVar(&secretCategory, "category", "password",
		"entry category (password, sshkey, apitoken, certificate, note, custom)")
	secretPutCmd.Flags().StringVar(&secretValue, "value", "",
		"secret value (read from stdin when omitted)")
	secretListCmd.Flags().StringVar(&secretFilter, "category", "",
		"filter by category")

	secretCmd.AddCommand(secretPutCmd)
	secretCmd.AddCommand(secretGetCmd)
	secretCmd.AddCommand(secretListCmd)
	secretCmd.AddCommand(secretDeleteCmd)
}
