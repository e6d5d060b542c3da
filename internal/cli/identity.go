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
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var resetConfirmed bool

// initCmd initializes or loads the device identity
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the device identity",
	Long: `Generates an X25519 identity keypair and stores the secret key in
the OS keychain. Running init on an initialized device is a no-op and
prints the existing identity.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := buildApp()
		if err != nil {
			handleError(err)
		}
		id, err := a.svc.Unlock()
		if err != nil {
			handleError(err)
		}
		if outputFormat == "json" {
			printJSON(map[string]interface{}{
				"id":         id.ID,
				"public_key": base64.StdEncoding.EncodeToString(id.PublicKey),
				"created_at": id.CreatedAt,
			})
			return
		}
		fmt.Printf("Identity: %s\n", id.ID)
		fmt.Printf("Public key: %s\n", base64.StdEncoding.EncodeToString(id.PublicKey))
	},
}

// identityCmd groups identity subcommands
var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage the device identity",
}

var identityExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the identity secret key",
	Long: `Prints the base64 raw secret key. This export and backup archives
are the only recovery paths for a lost identity; keep it offline.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := buildApp()
		if err != nil {
			handleError(err)
		}
		if _, err := a.svc.Unlock(); err != nil {
			handleError(err)
		}
		encoded, err := a.svc.ExportIdentity()
		if err != nil {
			handleError(err)
		}
		fmt.Println(encoded)
	},
}

var identityImportCmd = &cobra.Command{
	Use:   "import [key]",
	Short: "Import a previously exported secret key",
	Long: `Adopts an exported identity on this device. Reads the base64 key
from the argument or, when omitted, from stdin.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := buildApp()
		if err != nil {
			handleError(err)
		}

		var encoded string
		if len(args) == 1 {
			encoded = args[0]
		} else {
			data, err := readStdin()
			if err != nil {
				handleError(err)
			}
			encoded = data
		}

		id, err := a.svc.ImportIdentity(strings.TrimSpace(encoded))
		if err != nil {
			handleError(err)
		}
		fmt.Printf("Imported identity %s\n", id.ID)
	},
}

var identityResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Destroy the device identity and start fresh",
	Long: `Removes the identity secret key from the OS keychain. Without a
prior identity export or backup archive, every secret encrypted under
this identity becomes permanently unreadable.`,
	Run: func(cmd *cobra.Command, args []string) {
		if !resetConfirmed && !confirm("This permanently destroys the identity key.") {
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
		if err := a.svc.Reset(); err != nil {
			handleError(err)
		}
		fmt.Println("Identity destroyed.")
	},
}

func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}

func init() {
	identityResetCmd.Flags().BoolVar(&resetConfirmed, "confirm", false,
		"skip the interactive confirmation prompt")

	identityCmd.AddCommand(identityExportCmd)
	identityCmd.AddCommand(identityImportCmd)
	identityCmd.AddCommand(identityResetCmd)
}
