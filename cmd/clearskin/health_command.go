package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"clearskin/internal/preflight"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check directories, the question catalog, and the analysis service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			failed := preflight.Failed(results)

			if jsonOutput {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				p := newStatusPrinter(cmd.OutOrStdout())
				p.section("ClearSkin health")
				if ctx.configSeen {
					p.info("Config", ctx.configPath)
				} else {
					p.info("Config", "defaults (no config file)")
				}
				for _, r := range results {
					p.line(r.Name, checkKind(r.Passed), r.Detail)
				}
			}
			if len(failed) > 0 {
				return fmt.Errorf("%d of %d checks failed", len(failed), len(results))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
