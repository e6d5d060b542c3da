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

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-secretvault/pkg/types"
)

var memberRole string

// memberCmd groups membership subcommands
var memberCmd = &cobra.Command{
	Use:   "member",
	Short: "Manage shared vault membership",
}

var memberAddCmd = &cobra.Command{
	Use:   "add [vault-id] [member-id] [public-key]",
	Short: "Add a member to a shared vault",
	Long: `Grants the identity access to the vault by wrapping the vault key
under a shared secret derived from both parties' keys. The public key
is the base64 value printed by that device's init command.`,
	Args: cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		vaultID, err := uuid.Parse(args[0])
		if err != nil {
			handleError(fmt.Errorf("invalid vault id: %w", err))
		}
		memberID, err := uuid.Parse(args[1])
		if err != nil {
			handleError(fmt.Errorf("invalid member id: %w", err))
		}
		memberPublic, err := base64.StdEncoding.DecodeString(args[2])
		if err != nil {
			handleError(fmt.Errorf("invalid public key: %w", err))
		}
		role := types.Role(memberRole)
		if !role.Valid() {
			handleError(fmt.Errorf("invalid role %q", memberRole))
		}

		a, err := buildApp()
		if err != nil {
			handleError(err)
		}
		if _, err := a.svc.Unlock(); err != nil {
			handleError(err)
		}

		m, err := a.svc.AddMember(vaultID, memberID, memberPublic, role)
		if err != nil {
			handleError(err)
		}

		if outputFormat == "json" {
			printJSON(m)
			return
		}
		fmt.Printf("Added %s as %s\n", m.MemberID, m.Role)
	},
}

var memberRemoveCmd = &cobra.Command{
	Use:   "remove [vault-id] [member-id]",
	Short: "Remove a member from a shared vault",
	Long: `Revokes the member's wrapped vault key and replicates the removal
to every device. Entries the member already decrypted while they had
access are outside the vault's control.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		vaultID, err := uuid.Parse(args[0])
		if err != nil {
			handleError(fmt.Errorf("invalid vault id: %w", err))
		}
		memberID, err := uuid.Parse(args[1])
		if err != nil {
			handleError(fmt.Errorf("invalid member id: %w", err))
		}

		a, err := buildApp()
		if err != nil {
			handleError(err)
		}
		if _, err := a.svc.Unlock(); err != nil {
			handleError(err)
		}
		if err := a.svc.RemoveMember(vaultID, memberID); err != nil {
			handleError(err)
		}
		fmt.Println("Member removed.")
	},
}

var memberSetRoleCmd = &cobra.Command{
	Use:   "set-role [vault-id] [member-id] [role]",
	Short: "Change a member's role",
	Long: `Changes the member's role on the shared vault. The change reaches
other devices at their next sync; entries they fetched before then were
governed by the old role.`,
	Args: cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		vaultID, err := uuid.Parse(args[0])
		if err != nil {
			handleError(fmt.Errorf("invalid vault id: %w", err))
		}
		memberID, err := uuid.Parse(args[1])
		if err != nil {
			handleError(fmt.Errorf("invalid member id: %w", err))
		}
		role := types.Role(args[2])
		if !role.Valid() {
			handleError(fmt.Errorf("invalid role %q", args[2]))
		}

		a, err := buildApp()
		if err != nil {
			handleError(err)
		}
		if _, err := a.svc.Unlock(); err != nil {
			handleError(err)
		}
		if err := a.svc.SetRole(vaultID, memberID, role); err != nil {
			handleError(err)
		}
		fmt.Printf("Role changed to %s\n", role)
	},
}

var memberInviteCmd = &cobra.Command{
	Use:   "invite [vault-id]",
	Short: "Create an invitation for a shared vault",
	Long: `Prints an invitation URL pointing at the vault's remote database.
The invitation carries no key material; the invitee gains access only
after an admin adds their identity as a member.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		vaultID, err := uuid.Parse(args[0])
		if err != nil {
			handleError(fmt.Errorf("invalid vault id: %w", err))
		}

		a, err := buildApp()
		if err != nil {
			handleError(err)
		}
		if _, err := a.svc.Unlock(); err != nil {
			handleError(err)
		}

		invite, err := a.svc.NewInvite(vaultID)
		if err != nil {
			handleError(err)
		}

		if outputFormat == "json" {
			printJSON(invite)
			return
		}
		fmt.Println(invite.URL)
	},
}

func init() {
	memberAddCmd.Flags().StringVar(&memberRole, "role", "member",
		"member role (admin, member, readonly)")

	memberCmd.AddCommand(memberAddCmd)
	memberCmd.AddCommand(memberRemoveCmd)
	memberCmd.AddCommand(memberSetRoleCmd)
	memberCmd.AddCommand(memberInviteCmd)
}
