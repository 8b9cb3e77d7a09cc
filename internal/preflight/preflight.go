package preflight

import (
	"context"

	"clearskin/internal/config"
)

// minFreeBytes is the free-space floor for the data directory.
const minFreeBytes = 100 << 20

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

// RunAll executes every readiness check for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Image directory", cfg.Paths.ImageDir),
	}
	if cfg.Paths.LogDir != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	}
	results = append(results,
		CheckFreeSpace("Free space", cfg.Paths.DataDir, minFreeBytes),
		CheckCatalog(cfg.Quiz.CatalogPath),
		CheckDetector(ctx, cfg),
	)
	return results
}
