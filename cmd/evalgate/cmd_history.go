package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"evalgate/internal/display"
	"evalgate/internal/format"
	"evalgate/internal/store"
)

func newHistoryCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List runs recorded with run --history-db",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := store.Open(dbPath)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer st.Close()
			return printHistory(cmd.Context(), cmd.OutOrStdout(), st, dbPath)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", store.DefaultDBPath, "History database path")
	return cmd
}

func printHistory(ctx context.Context, out io.Writer, st store.Store, name string) error {
	runs, err := st.List(ctx)
	if err != nil {
		return err
	}

	tb := format.NewTable(format.ASCII)
	tb.Header("#", "Run", "Input digest", "Gate", "Pass rate", "Failing rules", "Recorded")
	allowed := 0
	for _, r := range runs {
		if r.Allowed {
			allowed++
		}
		tb.Row(r.ID, r.RunID, format.Truncate(r.InputDigest, 23), display.Verdict(r.Allowed),
			format.FmtRatio(r.GoldenPassRate), r.FailingRules, r.RecordedAt)
	}
	if tb.Len() == 0 {
		fmt.Fprintf(out, "No runs recorded in %s\n", name)
		return nil
	}
	tb.Footer("", fmt.Sprintf("%d runs", tb.Len()), "", fmt.Sprintf("%d allowed", allowed), "", "", "")
	tb.Columns(append([]format.ColumnConfig{{Number: 1, Align: format.AlignRight}}, format.NumericColumns(5, 6)...)...)
	fmt.Fprintln(out, tb.String())
	return nil
}
