package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"evalgate/internal/display"
	"evalgate/internal/evaluate"
	"evalgate/internal/format"
	"evalgate/internal/logging"
	"evalgate/internal/report"
	"evalgate/internal/store"
)

type runOptions struct {
	artifacts artifactFlags
	policy    string
	historyDB string
	out       report.Paths
}

func newRunCmd() *cobra.Command {
	opts := runOptions{out: report.DefaultPaths()}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate the artifacts and write report.json, report.md and gate_decision.json",
		Long: "Validates every input, joins them by clause id, computes metrics and the\n" +
			"gate decision, then writes all three outputs. The exit status is 0 whenever\n" +
			"the outputs were written, whether or not the release is allowed.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, &opts)
		},
	}

	f := cmd.Flags()
	opts.artifacts.bind(f)
	f.StringVar(&opts.policy, "policy", "", "Path to policy file (JSON or YAML); defaults apply when omitted")
	f.StringVar(&opts.historyDB, "history-db", "", "Append the run to this history database")
	f.StringVar(&opts.out.ReportJSON, "out-json", opts.out.ReportJSON, "Output path for the machine report")
	f.StringVar(&opts.out.ReportMarkdown, "out-md", opts.out.ReportMarkdown, "Output path for the human summary")
	f.StringVar(&opts.out.GateDecision, "gate", opts.out.GateDecision, "Output path for the gate decision")

	_ = cmd.MarkFlagRequired("golden")
	_ = cmd.MarkFlagRequired("scores")
	_ = cmd.MarkFlagRequired("hits")
	return cmd
}

func runRun(cmd *cobra.Command, opts *runOptions) error {
	ctx := cmd.Context()
	b, err := evaluate.RunFiles(ctx, evaluate.Inputs{
		Artifacts: opts.artifacts.paths(),
		Policy:    opts.policy,
	})
	if err != nil {
		return printViolations(cmd.ErrOrStderr(), err)
	}
	if err := b.Write(opts.out); err != nil {
		return fmt.Errorf("write outputs: %w", err)
	}

	// The outputs are already published; a ledger failure must not fail the run.
	if opts.historyDB != "" {
		if err := openAndRecord(ctx, opts.historyDB, b); err != nil {
			logging.New("history").Warn("run not recorded", "db", opts.historyDB, "error", err)
		}
	}

	d := b.Decision
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Gate:             %s\n", display.Verdict(d.Allowed))
	fmt.Fprintf(out, "Golden pass rate: %s (min %s)\n",
		format.FmtRatio(float64(d.GoldenPassRate)), format.FmtRatio(d.Thresholds.MinGoldenPassRate))
	fmt.Fprintf(out, "Failing rules:    %d\n", len(d.FailingRules))
	fmt.Fprintf(out, "Run:              %s\n", b.RunID)
	fmt.Fprintf(out, "Outputs:          %s, %s, %s\n", opts.out.ReportJSON, opts.out.ReportMarkdown, opts.out.GateDecision)
	return nil
}

func openAndRecord(ctx context.Context, path string, b *report.Bundle) error {
	st, err := store.Open(path)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer st.Close()
	return recordRun(ctx, st, b)
}

func recordRun(ctx context.Context, st store.Store, b *report.Bundle) error {
	id, err := st.Record(ctx, &store.Run{
		RunID:          b.RunID,
		InputDigest:    b.InputDigest,
		Allowed:        b.Decision.Allowed,
		GoldenPassRate: float64(b.Decision.GoldenPassRate),
		FailingRules:   len(b.Decision.FailingRules),
	})
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	logging.New("history").Debug("run recorded", "id", id, "run_id", b.RunID)
	return nil
}
