package workflow_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"clearskin/internal/logging"
	"clearskin/internal/quiz"
	"clearskin/internal/records"
	"clearskin/internal/testsupport"
	"clearskin/internal/workflow"
)

func TestScanCompletesAfterLastQuestion(t *testing.T) {
	release := make(chan struct{})
	stub := &testsupport.DetectorStub{Release: release}
	server := testsupport.NewDetectorServer(t, stub)
	cfg := testsupport.NewConfig(t, testsupport.WithDetectorURL(server.URL))
	store := testsupport.MustOpenStore(t, cfg)
	manager, err := workflow.NewFromConfig(cfg, store, logging.NewNop(), nil,
		workflow.WithIDGenerator(func() string { return "abc" }))
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	t.Cleanup(manager.Close)
	ctx := context.Background()

	session := capture(t, manager)
	if session.ID != "abc" {
		t.Fatalf("unexpected session id %q", session.ID)
	}
	placeholder, err := store.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("Get placeholder: %v", err)
	}
	if placeholder.JobStatus != records.StatusPending || placeholder.Detections != nil {
		t.Fatalf("expected pending placeholder without detections, got %+v", placeholder)
	}

	answerAll(t, session.Quiz, false)
	if phase := session.Quiz.State().Phase; phase != quiz.PhaseAwaitingJobCompletion {
		t.Fatalf("expected awaiting job completion, got %s", phase)
	}
	if rec, _ := store.Get(ctx, "abc"); rec.JobStatus != records.StatusPending || rec.Finalized() {
		t.Fatalf("record must not be finalized before the response arrives: %+v", rec)
	}

	close(release)
	if err := waitQuiz(t, session.Quiz); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if phase := session.Quiz.State().Phase; phase != quiz.PhaseFinalized {
		t.Fatalf("expected finalized, got %s", phase)
	}

	final, err := store.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("Get final: %v", err)
	}
	if final.JobStatus != records.StatusCompleted {
		t.Fatalf("expected completed, got %s", final.JobStatus)
	}
	if len(final.Detections) != 2 {
		t.Fatalf("expected 2 detections, got %d", len(final.Detections))
	}
	if final.ImageSize == nil || final.ImageSize.Width != 640 {
		t.Fatalf("unexpected image size %+v", final.ImageSize)
	}
	if len(final.QuizAnswers) != manager.Catalog().Len() {
		t.Fatalf("expected %d answers, got %d", manager.Catalog().Len(), len(final.QuizAnswers))
	}
	if final.QuizAnswers["1"] != "<6" {
		t.Fatalf("expected option key stored for question 1, got %q", final.QuizAnswers["1"])
	}
	if got := session.Record(); got == nil || got.ID != "abc" {
		t.Fatalf("expected session to expose finalized record, got %+v", got)
	}
	if stub.LastFilename() != "abc.jpg" {
		t.Fatalf("unexpected upload filename %q", stub.LastFilename())
	}
}

func TestServerErrorBeforeQuizFinishes(t *testing.T) {
	stub := &testsupport.DetectorStub{Status: http.StatusInternalServerError, Body: `{"detail":"inference failed"}`}
	server := testsupport.NewDetectorServer(t, stub)
	cfg := testsupport.NewConfig(t, testsupport.WithDetectorURL(server.URL))
	store := testsupport.MustOpenStore(t, cfg)
	manager, err := workflow.NewFromConfig(cfg, store, logging.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	t.Cleanup(manager.Close)

	session := capture(t, manager)
	if out := waitJob(t, session.Job); out.Status != records.StatusError {
		t.Fatalf("expected job error, got %s", out.Status)
	}

	answerAll(t, session.Quiz, false)
	if phase := session.Quiz.State().Phase; phase != quiz.PhaseFinalized {
		t.Fatalf("expected immediate finalize after settled job, got %s", phase)
	}

	final, err := store.Get(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.JobStatus != records.StatusError {
		t.Fatalf("expected error status, got %s", final.JobStatus)
	}
	if final.Detections != nil || final.ImageSize != nil {
		t.Fatalf("expected no detections for failed job, got %+v", final)
	}
	if final.JobError != "analysis service returned an error" {
		t.Fatalf("unexpected job error %q", final.JobError)
	}
	if len(final.QuizAnswers) != manager.Catalog().Len() {
		t.Fatalf("expected all answers, got %d", len(final.QuizAnswers))
	}
}

func TestTimedOutRequestIsRetriedWithinJob(t *testing.T) {
	stub := &testsupport.DetectorStub{Stall: 1}
	server := testsupport.NewDetectorServer(t, stub)
	cfg := testsupport.NewConfig(t,
		testsupport.WithDetectorURL(server.URL),
		testsupport.WithDetectorTimeout(1),
		testsupport.WithRetryAttempts(2),
	)
	store := testsupport.MustOpenStore(t, cfg)
	manager, err := workflow.NewFromConfig(cfg, store, logging.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	t.Cleanup(manager.Close)

	session := capture(t, manager)
	out := waitJob(t, session.Job)
	if out.Status != records.StatusCompleted {
		t.Fatalf("expected job to complete on the second attempt, got %s (%v)", out.Status, out.Err)
	}
	if stub.Requests() != 2 {
		t.Fatalf("expected 2 detect requests, got %d", stub.Requests())
	}
}

func TestListRecentAfterFiveFinalizations(t *testing.T) {
	store := records.NewMemoryStore()
	analyzer := newGateAnalyzer()
	analyzer.open()
	manager := newManager(t, store, analyzer, workflow.WithIDGenerator(sequentialIDs("scan")))

	for range 5 {
		session := capture(t, manager)
		answerAll(t, session.Quiz, false)
		if err := waitQuiz(t, session.Quiz); err != nil {
			t.Fatalf("finalize %s: %v", session.ID, err)
		}
	}

	recent, err := store.ListRecent(context.Background(), 3)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	want := []string{"scan-5", "scan-4", "scan-3"}
	if len(recent) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(recent))
	}
	for i, rec := range recent {
		if rec.ID != want[i] {
			t.Fatalf("recent[%d] = %s, want %s", i, rec.ID, want[i])
		}
		if !rec.Finalized() {
			t.Fatalf("expected %s finalized", rec.ID)
		}
	}
}

func TestCommitFinalRunsOncePerScan(t *testing.T) {
	store := newCountingStore()
	ids := sequentialIDs("race")
	for range 25 {
		analyzer := newGateAnalyzer()
		manager := newManager(t, store, analyzer, workflow.WithIDGenerator(ids))
		session := capture(t, manager)
		answerAll(t, session.Quiz, true)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			analyzer.open()
		}()
		go func() {
			defer wg.Done()
			_ = session.Quiz.Advance()
		}()
		wg.Wait()

		if err := waitQuiz(t, session.Quiz); err != nil {
			t.Fatalf("finalize: %v", err)
		}
		if got := store.commitsFor(session.ID); got != 1 {
			t.Fatalf("expected exactly one commit for %s, got %d", session.ID, got)
		}
	}
}

func TestAbandonLeavesPlaceholderPending(t *testing.T) {
	store := newCountingStore()
	analyzer := newGateAnalyzer()
	manager := newManager(t, store, analyzer)

	session := capture(t, manager)
	if err := session.Quiz.SelectAnswer(0); err != nil {
		t.Fatalf("SelectAnswer: %v", err)
	}
	if err := manager.Abandon(session.ID); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if err := waitQuiz(t, session.Quiz); !errors.Is(err, quiz.ErrAbandoned) {
		t.Fatalf("expected ErrAbandoned, got %v", err)
	}
	out := waitJob(t, session.Job)
	if out.Status != records.StatusError {
		t.Fatalf("expected cancelled job to settle as error, got %s", out.Status)
	}
	rec, err := store.Get(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.JobStatus != records.StatusPending {
		t.Fatalf("expected placeholder to stay pending, got %s", rec.JobStatus)
	}
	if store.total.Load() != 0 {
		t.Fatalf("expected no commits after abandon, got %d", store.total.Load())
	}
	if err := manager.Abandon("unknown"); !errors.Is(err, workflow.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestPlaceholderDisabledCreatesRecordOnFinalize(t *testing.T) {
	store := records.NewMemoryStore()
	analyzer := newGateAnalyzer()
	analyzer.open()
	manager := newManager(t, store, analyzer, workflow.WithPendingPlaceholder(false))
	ctx := context.Background()

	session := capture(t, manager)
	if _, err := store.Get(ctx, session.ID); !errors.Is(err, records.ErrNotFound) {
		t.Fatalf("expected no placeholder, got %v", err)
	}
	waitJob(t, session.Job)
	answerAll(t, session.Quiz, false)
	if err := waitQuiz(t, session.Quiz); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	rec, err := store.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.JobStatus != records.StatusCompleted || len(rec.Detections) != 1 {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestCaptureRejectsNonImage(t *testing.T) {
	store := newCountingStore()
	manager := newManager(t, store, newGateAnalyzer())
	_, err := manager.Capture(context.Background(), stringsReader("hello"))
	if err == nil {
		t.Fatal("expected capture of non-image to fail")
	}
	stats, _ := store.Stats(context.Background())
	if stats.Total != 0 {
		t.Fatalf("expected no records after rejected capture, got %d", stats.Total)
	}
}

func TestCloseAbandonsLiveSessions(t *testing.T) {
	store := records.NewMemoryStore()
	manager := newManager(t, store, newGateAnalyzer())
	session := capture(t, manager)
	if len(manager.Sessions()) != 1 {
		t.Fatalf("expected one live session, got %d", len(manager.Sessions()))
	}

	manager.Close()
	if err := session.Quiz.Err(); !errors.Is(err, quiz.ErrAbandoned) {
		t.Fatalf("expected abandoned session after Close, got %v", err)
	}
	if _, err := manager.Capture(context.Background(), stringsReader("x")); !errors.Is(err, workflow.ErrManagerClosed) {
		t.Fatalf("expected ErrManagerClosed, got %v", err)
	}
	if len(manager.Sessions()) != 0 {
		t.Fatalf("expected sessions cleared, got %d", len(manager.Sessions()))
	}
}
