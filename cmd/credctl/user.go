// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"

	"github.com/gobwas/glob"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/credentials/internal/membership"
)

func newUserCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
		Long: `Create, inspect, update and delete user accounts. Passwords are read
from the terminal without echo, or from the first line of stdin.`,
	}
	cmd.AddCommand(
		newUserCreateCmd(a),
		newUserListCmd(a),
		newUserGetCmd(a),
		newUserUpdateCmd(a),
		newUserDeleteCmd(a),
		newUserValidateCmd(a),
		newUserCountCmd(a),
	)
	return cmd
}

func newUserCreateCmd(a *app) *cobra.Command {
	var name, surname, email, id string

	cmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var userID ulid.ULID
			if id != "" {
				parsed, err := ulid.ParseStrict(id)
				if err != nil {
					return oops.Code("INVALID_ID").With("id", id).Wrap(err)
				}
				userID = parsed
			}
			password, err := readSecret(cmd, "Password")
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			svc, backend, err := a.newService(ctx)
			if err != nil {
				return err
			}
			defer a.closeBackend(backend)

			created, err := svc.CreateUser(ctx, args[0], password, name, surname, email, userID)
			if err != nil {
				return err
			}
			if !created {
				return oops.Code("USER_EXISTS").
					With("username", membership.NormalizeUsername(args[0])).
					Errorf("username or id is already taken")
			}

			user, err := svc.GetUserByUsername(ctx, args[0])
			if err != nil {
				return err
			}
			if user == nil {
				return oops.Code("USER_NOT_FOUND").With("username", args[0]).Errorf("created user vanished")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", user.Username, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "given name (required)")
	cmd.Flags().StringVar(&surname, "surname", "", "surname (required)")
	cmd.Flags().StringVar(&email, "email", "", "email address (required)")
	cmd.Flags().StringVar(&id, "id", "", "ULID to assign (default: generated)")
	return cmd
}

func newUserListCmd(a *app) *cobra.Command {
	var match, output string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users ordered by username",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			var pattern glob.Glob
			if match != "" {
				g, err := glob.Compile(membership.NormalizeUsername(match))
				if err != nil {
					return oops.Code("INVALID_MATCH").With("match", match).Wrap(err)
				}
				pattern = g
			}

			ctx := cmd.Context()
			svc, backend, err := a.newService(ctx)
			if err != nil {
				return err
			}
			defer a.closeBackend(backend)

			users, err := svc.GetAllUsers(ctx)
			if err != nil {
				return err
			}
			if pattern != nil {
				kept := users[:0]
				for _, u := range users {
					if pattern.Match(u.Username) {
						kept = append(kept, u)
					}
				}
				users = kept
			}
			return renderUsers(cmd.OutOrStdout(), output, users)
		},
	}
	cmd.Flags().StringVar(&match, "match", "", "only list usernames matching this glob (e.g. 'adm*')")
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "output format (table, json or yaml)")
	return cmd
}

func newUserGetCmd(a *app) *cobra.Command {
	var id, output string

	cmd := &cobra.Command{
		Use:   "get [<username>]",
		Short: "Show one user by username or --id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			if (len(args) == 1) == (id != "") {
				return oops.Code("INVALID_ARGUMENTS").Errorf("give either a username or --id")
			}

			ctx := cmd.Context()
			svc, backend, err := a.newService(ctx)
			if err != nil {
				return err
			}
			defer a.closeBackend(backend)

			var user *membership.UserSummary
			if id != "" {
				userID, parseErr := ulid.ParseStrict(id)
				if parseErr != nil {
					return oops.Code("INVALID_ID").With("id", id).Wrap(parseErr)
				}
				user, err = svc.GetUserByID(ctx, userID)
			} else {
				user, err = svc.GetUserByUsername(ctx, args[0])
			}
			if err != nil {
				return err
			}
			if user == nil {
				return oops.Code("USER_NOT_FOUND").Errorf("no such user")
			}
			return renderUsers(cmd.OutOrStdout(), output, []membership.UserSummary{*user})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "look up by ULID instead of username")
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "output format (table, json or yaml)")
	return cmd
}

func newUserUpdateCmd(a *app) *cobra.Command {
	var setPassword bool

	cmd := &cobra.Command{
		Use:   "update <username>",
		Short: "Change a user's fields",
		Long: `Change only the fields whose flags are given with a non-empty value.
Profile fields cannot be cleared. --password reads the new password like
create does; an empty password leaves the old one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			update := membership.UserUpdate{
				Username:    changed(cmd, "username"),
				DisplayName: changed(cmd, "name"),
				Surname:     changed(cmd, "surname"),
				Email:       changed(cmd, "email"),
			}
			if setPassword {
				password, err := readSecret(cmd, "New password")
				if err != nil {
					return err
				}
				update.Password = &password
			}
			if update.IsEmpty() {
				return oops.Code("INVALID_ARGUMENTS").Errorf("nothing to update")
			}

			ctx := cmd.Context()
			svc, backend, err := a.newService(ctx)
			if err != nil {
				return err
			}
			defer a.closeBackend(backend)

			user, err := svc.GetUserByUsername(ctx, args[0])
			if err != nil {
				return err
			}
			if user == nil {
				return oops.Code("USER_NOT_FOUND").With("username", args[0]).Errorf("no such user")
			}
			if err := svc.UpdateUser(ctx, user.ID, update); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", user.ID)
			return nil
		},
	}
	cmd.Flags().String("username", "", "new username")
	cmd.Flags().String("name", "", "new given name")
	cmd.Flags().String("surname", "", "new surname")
	cmd.Flags().String("email", "", "new email address")
	cmd.Flags().BoolVar(&setPassword, "password", false, "set a new password")
	return cmd
}

// changed returns the flag's value when it was given on the command line.
func changed(cmd *cobra.Command, name string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetString(name)
	return &v
}

func newUserDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <username>",
		Short: "Delete a user and its role, team and repository associations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, backend, err := a.newService(ctx)
			if err != nil {
				return err
			}
			defer a.closeBackend(backend)

			user, err := svc.GetUserByUsername(ctx, args[0])
			if err != nil {
				return err
			}
			if user == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "no user %s\n", membership.NormalizeUsername(args[0]))
				return nil
			}
			if err := svc.DeleteUser(ctx, user.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s (%s)\n", user.Username, user.ID)
			return nil
		},
	}
}

func newUserValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <username>",
		Short: "Check a password",
		Long: `Check a password and print success or failure. Failure exits non-zero.
A legacy hash is upgraded to the current strategy on success.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readSecret(cmd, "Password")
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			svc, backend, err := a.newService(ctx)
			if err != nil {
				return err
			}
			defer a.closeBackend(backend)

			result, err := svc.ValidateUser(ctx, args[0], password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result)
			if result != membership.Success {
				return oops.Code("CREDENTIALS_INVALID").
					With("username", membership.NormalizeUsername(args[0])).
					Errorf("credentials rejected")
			}
			return nil
		},
	}
}

func newUserCountCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, backend, err := a.newService(ctx)
			if err != nil {
				return err
			}
			defer a.closeBackend(backend)

			count, err := svc.UserCount(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), count)
			return nil
		},
	}
}
