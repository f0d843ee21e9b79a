package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"evalgate/internal/evaluate"
)

func newValidateCmd() *cobra.Command {
	var artifacts artifactFlags
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the input artifacts and list every violation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			set, err := evaluate.Load(cmd.Context(), artifacts.paths())
			if err != nil {
				return printViolations(cmd.ErrOrStderr(), err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "OK: %d golden clauses, %d scores, %d hits", len(set.Golden), len(set.Scores), len(set.Hits))
			if set.Ruleset != nil {
				fmt.Fprintf(out, ", %d ruleset entries", len(set.Ruleset.Rules))
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	artifacts.bind(cmd.Flags())
	_ = cmd.MarkFlagRequired("golden")
	_ = cmd.MarkFlagRequired("scores")
	_ = cmd.MarkFlagRequired("hits")
	return cmd
}
