// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResetCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Issue and redeem password reset tokens",
	}

	issue := &cobra.Command{
		Use:   "issue <username>",
		Short: "Issue a reset token",
		Long: `Issue a single-use password reset token and print it. A token is printed
for unknown usernames too; it never redeems.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, backend, err := a.newService(ctx)
			if err != nil {
				return err
			}
			defer a.closeBackend(backend)

			token, err := svc.GenerateResetToken(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	issue.Flags().Duration("reset-expiry", 0, "token lifetime (default 1h)")
	cmd.AddCommand(issue)

	cmd.AddCommand(&cobra.Command{
		Use:   "apply <token>",
		Short: "Set a new password with a reset token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readSecret(cmd, "New password")
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			svc, backend, err := a.newService(ctx)
			if err != nil {
				return err
			}
			defer a.closeBackend(backend)

			if err := svc.ResetPassword(ctx, args[0], password); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "password reset")
			return nil
		},
	})

	return cmd
}
