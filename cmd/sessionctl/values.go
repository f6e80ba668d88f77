package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func loadCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "load KEY",
		Short: "Print the server-side value of one session key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			defer c.Close()
			v := c.Load(cmd.Context(), args[0])
			if v == nil {
				return fmt.Errorf("no value for %q", args[0])
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(v))
			return err
		},
	}
}

func saveCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "save KEY JSON",
		Short: "Store one key through the save endpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("value for %q is not valid json", args[0])
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.SaveNow(cmd.Context(), args[0], json.RawMessage(args[1])); err != nil {
				return fmt.Errorf("failed to save: %w", err)
			}
			printSession(cmd.ErrOrStderr(), sessionCookie(c))
			return nil
		},
	}
}

func patchCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "patch KEY=JSON...",
		Short: "Merge several keys into the session and print the resulting state",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := parseAssignments(args)
			if err != nil {
				return err
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			defer c.Close()
			state, err := c.Patch(cmd.Context(), data)
			if err != nil {
				return fmt.Errorf("failed to patch: %w", err)
			}
			printSession(cmd.ErrOrStderr(), sessionCookie(c))
			return printState(cmd.OutOrStdout(), state)
		},
	}
}

func parseAssignments(args []string) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for _, a := range args {
		key, value, ok := strings.Cut(a, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected KEY=JSON, got %q", a)
		}
		if !json.Valid([]byte(value)) {
			return nil, fmt.Errorf("value for %q is not valid json", key)
		}
		out[key] = json.RawMessage(value)
	}
	return out, nil
}

func printState(w io.Writer, state map[string]json.RawMessage) error {
	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%s=%s\n", k, state[k]); err != nil {
			return err
		}
	}
	return nil
}

func printSession(w io.Writer, id string) {
	if id != "" {
		fmt.Fprintf(w, "session: %s\n", id)
	}
}
