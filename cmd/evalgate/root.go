package main

import (
	"github.com/spf13/cobra"

	"evalgate/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

type rootOptions struct {
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	var opts rootOptions
	cmd := &cobra.Command{
		Use:   "evalgate",
		Short: "Evaluate clause classification against a golden set and gate the release",
		Long: "evalgate joins golden labels, classifier scores and rule hits, computes\n" +
			"alignment and per-rule metrics, and writes report.json, report.md and\n" +
			"gate_decision.json. A denied release is a successful run.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := logging.ParseLevel(opts.logLevel)
			if err != nil {
				return err
			}
			logging.Init(level, opts.logFormat, cmd.ErrOrStderr())
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&opts.logFormat, "log-format", "text", "Log format: text, json")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newPolicyCmd())
	cmd.AddCommand(newHistoryCmd())
	return cmd
}
