package workflow

import (
	"context"
	"errors"
	"log/slog"

	"clearskin/internal/jobs"
	"clearskin/internal/logging"
	"clearskin/internal/records"
	"clearskin/internal/services"
)

// ErrJobPending is returned when finalization is attempted before the job settles.
var ErrJobPending = errors.New("detection job still pending")

// JobOutcome exposes the settled result of a detection job.
type JobOutcome interface {
	Outcome() (jobs.Outcome, bool)
}

// Finalizer merges a job outcome with quiz answers and commits the record.
type Finalizer struct {
	store  records.Store
	logger *slog.Logger
}

// NewFinalizer builds a finalizer writing to store.
func NewFinalizer(store records.Store, logger *slog.Logger) *Finalizer {
	return &Finalizer{
		store:  store,
		logger: logging.NewComponentLogger(logger, "finalizer"),
	}
}

// Finalize commits the merged record for id. The job must have settled.
// Store failures are logged and returned wrapped with services.ErrStorage.
func (f *Finalizer) Finalize(ctx context.Context, id string, job JobOutcome, answers map[string]string) (*records.ScanRecord, error) {
	ctx = services.WithStage(services.WithScanID(ctx, id), "finalize")
	logger := logging.WithContext(ctx, f.logger)

	outcome, ok := job.Outcome()
	if !ok {
		return nil, ErrJobPending
	}
	patch := BuildPatch(outcome, answers)
	record, err := f.store.CommitFinal(ctx, id, patch)
	if err != nil {
		hint := "check the record store path and disk space"
		if errors.Is(err, records.ErrNotFound) {
			hint = "the record index is missing this scan; run 'clearskin records verify'"
		}
		logging.ErrorWithContext(logger, "commit scan record failed", "record_commit_failed",
			logging.Error(err),
			logging.Hint(hint),
		)
		return nil, services.Wrap(services.ErrStorage, "finalize", "commit record", id, err)
	}
	logger.Info("scan record finalized",
		logging.JobStatus(string(record.JobStatus)),
		logging.Detections(record.SpotCount()),
		logging.Answers(len(record.QuizAnswers)),
	)
	return record, nil
}

// BuildPatch maps a settled job outcome and the quiz answers to a record patch.
func BuildPatch(outcome jobs.Outcome, answers map[string]string) records.Patch {
	patch := records.Patch{
		JobStatus:   outcome.Status,
		QuizAnswers: answers,
	}
	switch outcome.Status {
	case records.StatusCompleted:
		patch.Detections = outcome.Detections
		if patch.Detections == nil {
			patch.Detections = []records.Detection{}
		}
		patch.ImageSize = outcome.ImageSize
	case records.StatusError:
		patch.JobError = services.FailureReason(outcome.Err)
	}
	return patch
}
