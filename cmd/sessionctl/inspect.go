package main

import (
	"fmt"
	"os"

	"github.com/automerge/automerge-go"
	"github.com/spf13/cobra"

	"github.com/astromechza/shiftsession/pkg/viz"
)

func inspectCmd() *cobra.Command {
	var key, svg string
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Print the change log of a dumped session document as a DOT graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buff, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read input file: %w", err)
			}
			doc, err := automerge.Load(buff)
			if err != nil {
				return fmt.Errorf("failed to load doc: %w", err)
			}

			errOut := cmd.ErrOrStderr()
			fmt.Fprintf(errOut, "heads: %v\n", doc.Heads())
			changes, err := doc.Changes()
			if err != nil {
				return fmt.Errorf("failed to generate changes: %w", err)
			}
			for i, change := range changes {
				fmt.Fprintf(errOut, "%4d %s %s@%d deps=%v\n", i, change.Hash(), change.ActorID(), change.ActorSeq(), change.Dependencies())
			}

			if svg != "" {
				if err := viz.RenderKeyHistory(doc, key, svg); err != nil {
					return err
				}
			}
			return viz.WriteDot(cmd.OutOrStdout(), doc, key)
		},
	}
	cmd.Flags().StringVar(&key, "key", "shift_saved", "session key whose value labels each change")
	cmd.Flags().StringVar(&svg, "svg", "", "also render the graph to this svg file")
	return cmd
}
