package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"clearskin/internal/config"
	"clearskin/internal/jobs"
	"clearskin/internal/logging"
	"clearskin/internal/preflight"
	"clearskin/internal/records"
	"clearskin/internal/server"
	"clearskin/internal/workflow"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, store *records.SQLiteStore) error {
				if bind != "" {
					cfg.Paths.APIBind = bind
				}

				registry := prometheus.NewRegistry()
				registry.MustRegister(
					collectors.NewGoCollector(),
					collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
				)
				metrics, err := jobs.NewMetrics(registry)
				if err != nil {
					return err
				}

				manager, err := workflow.NewFromConfig(cfg, store, logger, metrics)
				if err != nil {
					return err
				}
				defer manager.Close()

				for _, result := range preflight.Failed(preflight.RunAll(cmd.Context(), cfg)) {
					logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
						logging.String("check", result.Name),
						logging.String("detail", result.Detail),
						logging.Impact("scans may fail or records may not be saved"),
					)
				}

				srv, err := server.New(cfg, manager,
					server.WithLogger(logger),
					server.WithGatherer(registry),
				)
				if err != nil {
					return err
				}
				return srv.Run(cmd.Context())
			})
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "Override paths.api_bind")
	return cmd
}
