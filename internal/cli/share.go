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
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-secretvault/pkg/sharing"
)

var shareExpiresIn time.Duration

// shareCmd groups one-off share subcommands
var shareCmd = &cobra.Command{
	Use:   "share",
	Short: "Share individual secrets with other identities",
}

var shareCreateCmd = &cobra.Command{
	Use:   "create [vault-id] [entry-id] [recipient-public-key]",
	Short: "Create a one-off share of a secret",
	Long: `Re-wraps the secret's data key for the recipient and prints the
grant as JSON. The grant is ciphertext; only the recipient's identity
key can open it. Deliver it over any channel.`,
	Args: cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		vaultID, err := uuid.Parse(args[0])
		if err != nil {
			handleError(fmt.Errorf("invalid vault id: %w", err))
		}
		entryID, err := uuid.Parse(args[1])
		if err != nil {
			handleError(fmt.Errorf("invalid entry id: %w", err))
		}
		recipientPublic, err := base64.StdEncoding.DecodeString(args[2])
		if err != nil {
			handleError(fmt.Errorf("invalid public key: %w", err))
		}

		var opts sharing.GrantOptions
		if shareExpiresIn > 0 {
			opts.ExpiresAt = time.Now().UTC().Add(shareExpiresIn)
		}

		a, err := buildApp()
		if err != nil {
			handleError(err)
		}
		if _, err := a.svc.Unlock(); err != nil {
			handleError(err)
		}

		grant, err := a.svc.ShareSecret(vaultID, entryID, recipientPublic, opts)
		if err != nil {
			handleError(err)
		}
		printJSON(grant)
	},
}

var shareAcceptCmd = &cobra.Command{
	Use:   "accept [target-vault-id] [grant-file]",
	Short: "Accept a received share into a vault",
	Long: `Decrypts the grant with this device's identity key and copies the
secret into the target vault as an independent entry. Reads the grant
JSON from the file or, when omitted, from stdin.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		targetVaultID, err := uuid.Parse(args[0])
		if err != nil {
			handleError(fmt.Errorf("invalid vault id: %w", err))
		}

		var data []byte
		if len(args) == 2 {
			data, err = os.ReadFile(args[1])
			if err != nil {
				handleError(fmt.Errorf("reading grant: %w", err))
			}
		} else {
			text, err := readStdin()
			if err != nil {
				handleError(err)
			}
			data = []byte(text)
		}

		var grant sharing.ShareGrant
		if err := json.Unmarshal(data, &grant); err != nil {
			handleError(fmt.Errorf("parsing grant: %w", err))
		}

		a, err := buildApp()
		if err != nil {
			handleError(err)
		}
		if _, err := a.svc.Unlock(); err != nil {
			handleError(err)
		}

		entry, err := a.svc.AcceptShare(&grant, targetVaultID)
		if err != nil {
			handleError(err)
		}
		fmt.Printf("Accepted %q (%s)\n", entry.Name, entry.ID)
	},
}

func init() {
	shareCreateCmd.Flags().DurationVar(&shareExpiresIn, "expires-in", 0,
		"grant lifetime, e.g. 24h (no expiry when omitted)")

	shareCmd.AddCommand(shareCreateCmd)
	shareCmd.AddCommand(shareAcceptCmd)
}
