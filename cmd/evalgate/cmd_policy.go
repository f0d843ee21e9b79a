package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"evalgate/internal/policy"
)

func newPolicyCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Print the effective policy with defaults filled in",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := policy.Load(path)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return fmt.Errorf("encode policy: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "policy", "", "Path to policy file (JSON or YAML)")
	return cmd
}
