// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/holomush/credentials/internal/membership"
)

// Output formats for user listings.
const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

func checkOutput(format string) error {
	switch format {
	case outputTable, outputJSON, outputYAML:
		return nil
	default:
		return oops.Code("INVALID_OUTPUT").With("output", format).
			Errorf("output must be table, json or yaml, got %q", format)
	}
}

// renderUsers writes users in the requested format. Table output has a
// header row and one user per line.
func renderUsers(w io.Writer, format string, users []membership.UserSummary) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if users == nil {
			users = []membership.UserSummary{}
		}
		if err := enc.Encode(users); err != nil {
			return oops.Code("OUTPUT_FAILED").Wrap(err)
		}
		return nil
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(users); err != nil {
			return oops.Code("OUTPUT_FAILED").Wrap(err)
		}
		if err := enc.Close(); err != nil {
			return oops.Code("OUTPUT_FAILED").Wrap(err)
		}
		return nil
	case outputTable:
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tUSERNAME\tNAME\tSURNAME\tEMAIL")
		for _, u := range users {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", u.ID, u.Username, u.DisplayName, u.Surname, u.Email)
		}
		if err := tw.Flush(); err != nil {
			return oops.Code("OUTPUT_FAILED").Wrap(err)
		}
		return nil
	default:
		return checkOutput(format)
	}
}

// readSecret returns a password or token. An interactive terminal is
// prompted without echo; otherwise the first line of stdin is used.
func readSecret(cmd *cobra.Command, prompt string) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) { //nolint:gosec // fd fits in int
		fmt.Fprint(cmd.ErrOrStderr(), prompt+": ")
		secret, err := term.ReadPassword(int(f.Fd())) //nolint:gosec // fd fits in int
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", oops.Code("INPUT_FAILED").Wrap(err)
		}
		return string(secret), nil
	}

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", oops.Code("INPUT_FAILED").Wrap(err)
		}
		return "", oops.Code("INPUT_FAILED").Errorf("%s: no input", strings.ToLower(prompt))
	}
	return strings.TrimRight(scanner.Text(), "\r"), nil
}
