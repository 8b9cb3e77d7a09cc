package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"clearskin/internal/api"
	"clearskin/internal/config"
	"clearskin/internal/export"
	"clearskin/internal/quiz"
	"clearskin/internal/records"
)

func newRecordsCommand(ctx *commandContext) *cobra.Command {
	recordsCmd := &cobra.Command{
		Use:     "records",
		Aliases: []string{"r"},
		Short:   "Inspect stored scan records",
	}
	recordsCmd.AddCommand(newRecordsListCommand(ctx))
	recordsCmd.AddCommand(newRecordsShowCommand(ctx))
	recordsCmd.AddCommand(newRecordsStatusCommand(ctx))
	recordsCmd.AddCommand(newRecordsVerifyCommand(ctx))
	recordsCmd.AddCommand(newRecordsExportCommand(ctx))
	return recordsCmd
}

func newRecordsListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var all bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recent scans",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *records.SQLiteStore) error {
				service := api.NewRecordService(store, nil)
				n := cfg.Records.RecentLimit
				if cmd.Flags().Changed("limit") {
					if limit <= 0 {
						return errors.New("--limit must be positive")
					}
					n = limit
				}
				var items []api.ScanSummary
				if all {
					list, err := store.List(cmd.Context())
					if err != nil {
						return err
					}
					items = api.FromRecords(list)
				} else {
					recent, err := service.Recent(cmd.Context(), n)
					if err != nil {
						return err
					}
					items = recent
				}
				if jsonOutput {
					if items == nil {
						items = []api.ScanSummary{}
					}
					return writeJSON(cmd, api.ScanListResponse{Items: items})
				}
				out := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintln(out, "No scans recorded yet")
					return nil
				}
				fmt.Fprintln(out, renderSummaryTable(items))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Number of scans to show (default from records.recent_limit)")
	cmd.Flags().BoolVar(&all, "all", false, "Show every stored scan")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newRecordsShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one scan with detections and questionnaire feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *records.SQLiteStore) error {
				catalog, err := quiz.LoadCatalog(cfg.Quiz.CatalogPath)
				if err != nil {
					return err
				}
				detail, err := api.NewRecordService(store, catalog).Describe(cmd.Context(), args[0])
				if err != nil {
					if errors.Is(err, records.ErrNotFound) {
						return fmt.Errorf("scan %s not found", args[0])
					}
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, detail)
				}
				renderDetail(newStatusPrinter(cmd.OutOrStdout()), *detail)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newRecordsStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Count stored scans by analysis status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *records.SQLiteStore) error {
				stats, err := api.NewRecordService(store, nil).Stats(cmd.Context(), 0)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, stats)
				}
				rows := [][]string{
					{"Total", strconv.Itoa(stats.Total)},
					{"Pending", strconv.Itoa(stats.Pending)},
					{"Completed", strconv.Itoa(stats.Completed)},
					{"Failed", strconv.Itoa(stats.Failed)},
					{"Finalized", strconv.Itoa(stats.Finalized)},
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newRecordsVerifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the recent-scan index against stored records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *records.SQLiteStore) error {
				report, err := api.NewRecordService(store, nil).Verify(cmd.Context())
				if err != nil {
					return err
				}
				p := newStatusPrinter(cmd.OutOrStdout())
				p.line("Record index", checkKind(report.Healthy), fmt.Sprintf("%d indexed, %d stored", report.Indexed, report.Records))
				if report.Healthy {
					return nil
				}
				for _, id := range report.Duplicates {
					p.line("Duplicate", statusWarn, id)
				}
				for _, id := range report.Missing {
					p.line("Missing record", statusWarn, id)
				}
				for _, id := range report.Orphans {
					p.line("Not indexed", statusWarn, id)
				}
				return errors.New("record index is inconsistent")
			})
		},
	}
}

func newRecordsExportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file.parquet|file.jsonl>",
		Short: "Export every stored scan to Parquet or JSON Lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, store *records.SQLiteStore) error {
				list, err := store.List(cmd.Context())
				if err != nil {
					return err
				}
				n, err := export.ToFile(target, list)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d scans to %s\n", n, target)
				return nil
			})
		},
	}
}
