package workflow_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"clearskin/internal/jobs"
	"clearskin/internal/logging"
	"clearskin/internal/records"
	"clearskin/internal/services"
	"clearskin/internal/workflow"
)

type staticOutcome struct {
	outcome jobs.Outcome
	settled bool
}

func (s staticOutcome) Outcome() (jobs.Outcome, bool) { return s.outcome, s.settled }

func stringsReader(s string) io.Reader { return strings.NewReader(s) }

func TestFinalizeRejectsPendingJob(t *testing.T) {
	finalizer := workflow.NewFinalizer(records.NewMemoryStore(), logging.NewNop())
	_, err := finalizer.Finalize(context.Background(), "scan-1", staticOutcome{}, map[string]string{"1": "a"})
	if !errors.Is(err, workflow.ErrJobPending) {
		t.Fatalf("expected ErrJobPending, got %v", err)
	}
}

func TestFinalizeReportsMissingRecord(t *testing.T) {
	finalizer := workflow.NewFinalizer(records.NewMemoryStore(), logging.NewNop())
	job := staticOutcome{settled: true, outcome: jobs.Outcome{Status: records.StatusError, Err: services.ErrTransport}}
	_, err := finalizer.Finalize(context.Background(), "ghost", job, map[string]string{"1": "a"})
	if !errors.Is(err, services.ErrStorage) || !errors.Is(err, records.ErrNotFound) {
		t.Fatalf("expected wrapped not-found storage error, got %v", err)
	}
}

func TestFinalizeCommitsOutcome(t *testing.T) {
	store := records.NewMemoryStore()
	ctx := context.Background()
	if _, err := store.CreatePending(ctx, "scan-1", "/images/scan-1.jpg", time.Now()); err != nil {
		t.Fatalf("CreatePending: %v", err)
	}
	finalizer := workflow.NewFinalizer(store, logging.NewNop())
	job := staticOutcome{settled: true, outcome: jobs.Outcome{
		Status:    records.StatusCompleted,
		ImageSize: &records.ImageSize{Width: 10, Height: 10},
	}}
	rec, err := finalizer.Finalize(ctx, "scan-1", job, map[string]string{"1": "a"})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if rec.Detections == nil || len(rec.Detections) != 0 {
		t.Fatalf("expected empty detections for completed job, got %#v", rec.Detections)
	}
	if !rec.Finalized() || rec.FinalizedAt == nil {
		t.Fatalf("expected finalized record, got %+v", rec)
	}

	_, err = finalizer.Finalize(ctx, "scan-1", job, map[string]string{"1": "b"})
	if !errors.Is(err, records.ErrFinalized) {
		t.Fatalf("expected ErrFinalized on second commit, got %v", err)
	}
}

func TestBuildPatch(t *testing.T) {
	answers := map[string]string{"1": "a"}
	failed := workflow.BuildPatch(jobs.Outcome{Status: records.StatusError, Err: context.DeadlineExceeded}, answers)
	if failed.JobError != "analysis timed out" || failed.Detections != nil || failed.ImageSize != nil {
		t.Fatalf("unexpected failed patch %+v", failed)
	}
	if err := failed.Validate(); err != nil {
		t.Fatalf("failed patch should validate: %v", err)
	}

	completed := workflow.BuildPatch(jobs.Outcome{
		Status:     records.StatusCompleted,
		Detections: []records.Detection{{Class: "papule", Confidence: 0.5}},
		ImageSize:  &records.ImageSize{Width: 4, Height: 3},
	}, answers)
	if completed.JobError != "" || len(completed.Detections) != 1 {
		t.Fatalf("unexpected completed patch %+v", completed)
	}
	if err := completed.Validate(); err != nil {
		t.Fatalf("completed patch should validate: %v", err)
	}
}
