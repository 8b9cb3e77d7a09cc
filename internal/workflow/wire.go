package workflow

import (
	"log/slog"

	"clearskin/internal/config"
	"clearskin/internal/images"
	"clearskin/internal/jobs"
	"clearskin/internal/quiz"
	"clearskin/internal/records"
	"clearskin/internal/services/detector"
)

// NewFromConfig builds a Manager backed by the configured analysis service,
// image directory, and question catalog. metrics may be nil. opts are
// applied after the configured defaults.
func NewFromConfig(cfg *config.Config, store records.Store, logger *slog.Logger, metrics *jobs.Metrics, opts ...ManagerOption) (*Manager, error) {
	catalog, err := quiz.LoadCatalog(cfg.Quiz.CatalogPath)
	if err != nil {
		return nil, err
	}
	client := detector.NewFromConfig(cfg)
	coordinator := jobs.NewCoordinator(client,
		jobs.WithTimeout(cfg.DetectorJobTimeout()),
		jobs.WithLogger(logger),
		jobs.WithMetrics(metrics),
		jobs.WithMaxImageBytes(cfg.Detector.MaxImageBytes),
	)
	all := []ManagerOption{
		WithManagerLogger(logger),
		WithPendingPlaceholder(cfg.Records.PendingPlaceholder),
	}
	return NewManager(store, images.NewFromConfig(cfg), coordinator, catalog, append(all, opts...)...)
}
