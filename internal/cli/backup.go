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
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	backupPassword   string
	restorePassword  string
	restoreConfirmed bool
)

// backupCmd exports an encrypted backup archive
var backupCmd = &cobra.Command{
	Use:   "backup [file]",
	Short: "Export an encrypted backup archive",
	Long: `Writes every vault, entry, and membership record to a single
password-protected archive. The archive is decryptable on any device
with the password alone; it does not require the device identity.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := buildApp()
		if err != nil {
			handleError(err)
		}
		if _, err := a.svc.Unlock(); err != nil {
			handleError(err)
		}

		password := backupPassword
		if password == "" {
			password, err = promptPassword("Backup password: ")
			if err != nil {
				handleError(err)
			}
			again, err := promptPassword("Confirm password: ")
			if err != nil {
				handleError(err)
			}
			if password != again {
				handleError(fmt.Errorf("passwords do not match"))
			}
		}

		archive, err := a.svc.ExportBackup(password, nil)
		if err != nil {
			handleError(err)
		}
		if err := os.WriteFile(args[0], archive, 0600); err != nil {
			handleError(fmt.Errorf("writing archive: %w", err))
		}
		fmt.Printf("Wrote %d bytes to %s\n", len(archive), args[0])
	},
}

// restoreCmd imports a backup archive, replacing local state
var restoreCmd = &cobra.Command{
	Use:   "restore [file]",
	Short: "Restore from a backup archive",
	Long: `Decrypts the archive and replaces the local vaults, entries, and
membership records with its contents. Wrapped keys are re-bound to
this device's identity during import.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		archive, err := os.ReadFile(args[0])
		if err != nil {
			handleError(fmt.Errorf("reading archive: %w", err))
		}

		a, err := buildApp()
		if err != nil {
			handleError(err)
		}
		if _, err := a.svc.Unlock(); err != nil {
			handleError(err)
		}

		password := restorePassword
		if password == "" {
			password, err = promptPassword("Archive password: ")
			if err != nil {
				handleError(err)
			}
		}

		preview, err := a.svc.PreviewBackup(archive, password)
		if err != nil {
			handleError(err)
		}
		fmt.Printf("Archive from %s: %d vaults, %d entries, %d members\n",
			preview.ExportedAt.Format("2006-01-02 15:04:05"),
			preview.Vaults, preview.Entries, preview.Members)

		if !restoreConfirmed && !confirm("Importing replaces all local vaults and entries.") {
			fmt.Println("Aborted.")
			return
		}

		if _, err := a.svc.ImportBackup(archive, password); err != nil {
			handleError(err)
		}
		fmt.Println("Restore complete.")
	},
}

// promptPassword reads a password from the terminal without echo
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(password), nil
}

func init() {
	backupCmd.Flags().StringVar(&backupPassword, "password", "",
		"archive password (prompted when omitted)")
	restoreCmd.Flags().StringVar(&restorePassword, "password", "",
		"archive password (prompted when omitted)")
	restoreCmd.Flags().BoolVar(&restoreConfirmed, "confirm", false,
		"skip the interactive confirmation prompt")
}
