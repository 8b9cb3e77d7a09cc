package quiz_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"clearskin/internal/quiz"
	"clearskin/internal/records"
	"clearskin/internal/services"
)

type fakeJob struct {
	mu     sync.Mutex
	status records.JobStatus
	done   chan struct{}
}

func newFakeJob() *fakeJob {
	return &fakeJob{status: records.StatusPending, done: make(chan struct{})}
}

func settledJob(status records.JobStatus) *fakeJob {
	job := newFakeJob()
	job.settle(status)
	return job
}

func (j *fakeJob) Status() records.JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *fakeJob) Done() <-chan struct{} { return j.done }

func (j *fakeJob) settle(status records.JobStatus) {
	j.mu.Lock()
	j.status = status
	j.mu.Unlock()
	close(j.done)
}

type finalizeRecorder struct {
	calls   atomic.Int32
	mu      sync.Mutex
	answers map[string]string
	err     error
}

func (r *finalizeRecorder) finalize(_ context.Context, answers map[string]string) error {
	r.calls.Add(1)
	r.mu.Lock()
	r.answers = answers
	r.mu.Unlock()
	return r.err
}

func newMachine(t *testing.T, job quiz.JobWatcher, rec *finalizeRecorder) *quiz.Machine {
	t.Helper()
	machine, err := quiz.NewMachine(context.Background(), mustCatalog(t, twoQuestions), job, rec.finalize)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	t.Cleanup(machine.Abandon)
	return machine
}

func answer(t *testing.T, m *quiz.Machine, option int) error {
	t.Helper()
	if err := m.SelectAnswer(option); err != nil {
		t.Fatalf("SelectAnswer(%d): %v", option, err)
	}
	return m.Advance()
}

func waitDone(t *testing.T, m *quiz.Machine) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := m.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("machine did not finish")
	}
	return err
}

func TestAdvanceWithoutAnswerLeavesStateUnchanged(t *testing.T) {
	rec := &finalizeRecorder{}
	machine := newMachine(t, newFakeJob(), rec)

	before := machine.State()
	err := machine.Advance()
	if !errors.Is(err, quiz.ErrNoAnswerSelected) {
		t.Fatalf("expected ErrNoAnswerSelected, got %v", err)
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation marker, got %v", err)
	}
	if machine.State() != before {
		t.Fatalf("state changed: %+v -> %+v", before, machine.State())
	}
	if len(machine.Answers()) != 0 {
		t.Fatalf("expected no answers, got %v", machine.Answers())
	}
}

func TestSelectAnswerDoesNotAdvance(t *testing.T) {
	machine := newMachine(t, newFakeJob(), &finalizeRecorder{})
	if err := machine.SelectAnswer(1); err != nil {
		t.Fatalf("SelectAnswer: %v", err)
	}
	if err := machine.SelectAnswer(0); err != nil {
		t.Fatalf("SelectAnswer again: %v", err)
	}
	if state := machine.State(); state.Phase != quiz.PhaseAskingQuestion || state.Index != 0 {
		t.Fatalf("unexpected state %+v", state)
	}
	if selected, ok := machine.Selected(); !ok || selected != 0 {
		t.Fatalf("expected last selection to win, got %d %v", selected, ok)
	}
	if err := machine.SelectAnswer(2); !errors.Is(err, quiz.ErrInvalidOption) {
		t.Fatalf("expected ErrInvalidOption, got %v", err)
	}
	if err := machine.SelectAnswer(-1); !errors.Is(err, quiz.ErrInvalidOption) {
		t.Fatalf("expected ErrInvalidOption for negative index, got %v", err)
	}
}

func TestAdvanceClearsCandidate(t *testing.T) {
	machine := newMachine(t, newFakeJob(), &finalizeRecorder{})
	if err := answer(t, machine, 1); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if state := machine.State(); state.Index != 1 {
		t.Fatalf("expected second question, got %+v", state)
	}
	if _, ok := machine.Selected(); ok {
		t.Fatal("expected candidate cleared after advance")
	}
	if err := machine.Advance(); !errors.Is(err, quiz.ErrNoAnswerSelected) {
		t.Fatalf("expected ErrNoAnswerSelected on second question, got %v", err)
	}
	if got := machine.Answers()["sleep"]; got != "7-8" {
		t.Fatalf("expected option key stored, got %q", got)
	}
}

func TestSettledJobFinalizesOnLastAdvance(t *testing.T) {
	rec := &finalizeRecorder{}
	machine := newMachine(t, settledJob(records.StatusCompleted), rec)

	if err := answer(t, machine, 0); err != nil {
		t.Fatalf("Advance 1: %v", err)
	}
	if err := answer(t, machine, 1); err != nil {
		t.Fatalf("Advance 2: %v", err)
	}
	select {
	case <-machine.Done():
	default:
		t.Fatal("expected machine finalized synchronously")
	}
	if machine.State().Phase != quiz.PhaseFinalized {
		t.Fatalf("expected finalized, got %s", machine.State().Phase)
	}
	if rec.calls.Load() != 1 {
		t.Fatalf("expected one finalize call, got %d", rec.calls.Load())
	}
	if rec.answers["sleep"] != "<6" || rec.answers["water"] != "plenty" {
		t.Fatalf("unexpected answers %v", rec.answers)
	}
	if err := machine.Advance(); !errors.Is(err, quiz.ErrQuizClosed) {
		t.Fatalf("expected ErrQuizClosed after finalize, got %v", err)
	}
	if err := machine.SelectAnswer(0); !errors.Is(err, quiz.ErrQuizClosed) {
		t.Fatalf("expected ErrQuizClosed for select after finalize, got %v", err)
	}
}

func TestPendingJobAwaitsCompletionSignal(t *testing.T) {
	rec := &finalizeRecorder{}
	job := newFakeJob()
	machine := newMachine(t, job, rec)

	_ = answer(t, machine, 0)
	if err := answer(t, machine, 0); err != nil {
		t.Fatalf("last Advance: %v", err)
	}
	if machine.State().Phase != quiz.PhaseAwaitingJobCompletion {
		t.Fatalf("expected awaiting, got %s", machine.State().Phase)
	}
	if _, ok := machine.Current(); ok {
		t.Fatal("expected no current question while awaiting")
	}
	if err := machine.Advance(); !errors.Is(err, quiz.ErrQuizClosed) {
		t.Fatalf("expected ErrQuizClosed while awaiting, got %v", err)
	}
	if rec.calls.Load() != 0 {
		t.Fatal("finalize must not run before the job settles")
	}

	job.settle(records.StatusError)
	if err := waitDone(t, machine); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if machine.State().Phase != quiz.PhaseFinalized || rec.calls.Load() != 1 {
		t.Fatalf("expected a single finalize, got phase %s calls %d", machine.State().Phase, rec.calls.Load())
	}
}

func TestFinalizeRunsOnceUnderConcurrentSettle(t *testing.T) {
	for i := range 200 {
		rec := &finalizeRecorder{}
		job := newFakeJob()
		machine := newMachine(t, job, rec)
		_ = answer(t, machine, 0)
		if err := machine.SelectAnswer(1); err != nil {
			t.Fatalf("SelectAnswer: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			job.settle(records.StatusCompleted)
		}()
		go func() {
			defer wg.Done()
			_ = machine.Advance()
		}()
		wg.Wait()

		if err := waitDone(t, machine); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		if got := rec.calls.Load(); got != 1 {
			t.Fatalf("iteration %d: expected exactly one finalize, got %d", i, got)
		}
	}
}

func TestFinalizeErrorIsReported(t *testing.T) {
	storeErr := errors.New("disk full")
	rec := &finalizeRecorder{err: storeErr}
	machine := newMachine(t, settledJob(records.StatusCompleted), rec)
	_ = answer(t, machine, 0)
	if err := answer(t, machine, 0); !errors.Is(err, storeErr) {
		t.Fatalf("expected finalize error from last Advance, got %v", err)
	}
	if !errors.Is(machine.Err(), storeErr) {
		t.Fatalf("expected Err to report finalize failure, got %v", machine.Err())
	}
}

func TestAbandonStopsWaitingWithoutFinalizing(t *testing.T) {
	rec := &finalizeRecorder{}
	job := newFakeJob()
	machine := newMachine(t, job, rec)
	_ = answer(t, machine, 0)
	_ = answer(t, machine, 0)

	machine.Abandon()
	if err := waitDone(t, machine); !errors.Is(err, quiz.ErrAbandoned) {
		t.Fatalf("expected ErrAbandoned, got %v", err)
	}
	job.settle(records.StatusCompleted)
	time.Sleep(10 * time.Millisecond)
	if rec.calls.Load() != 0 {
		t.Fatalf("expected no finalize after abandon, got %d", rec.calls.Load())
	}
	if machine.State().Phase != quiz.PhaseAbandoned {
		t.Fatalf("expected abandoned phase, got %s", machine.State().Phase)
	}
}

func TestParentContextCancelAbandons(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := &finalizeRecorder{}
	machine, err := quiz.NewMachine(ctx, mustCatalog(t, twoQuestions), newFakeJob(), rec.finalize)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	_ = answer(t, machine, 0)
	_ = answer(t, machine, 0)
	cancel()
	if err := waitDone(t, machine); !errors.Is(err, quiz.ErrAbandoned) {
		t.Fatalf("expected ErrAbandoned after parent cancel, got %v", err)
	}
	if rec.calls.Load() != 0 {
		t.Fatal("expected no finalize after cancel")
	}
}

func TestNewMachineValidatesInputs(t *testing.T) {
	rec := &finalizeRecorder{}
	if _, err := quiz.NewMachine(context.Background(), &quiz.Catalog{}, newFakeJob(), rec.finalize); err == nil {
		t.Fatal("expected error for empty catalog")
	}
	if _, err := quiz.NewMachine(context.Background(), mustCatalog(t, twoQuestions), nil, rec.finalize); err == nil {
		t.Fatal("expected error for missing job")
	}
	if _, err := quiz.NewMachine(context.Background(), mustCatalog(t, twoQuestions), newFakeJob(), nil); err == nil {
		t.Fatal("expected error for missing finalize")
	}
}

func TestProgress(t *testing.T) {
	machine := newMachine(t, newFakeJob(), &finalizeRecorder{})
	_ = answer(t, machine, 1)
	progress := machine.Progress()
	if progress.Index != 1 || progress.Total != 2 || progress.Answered != 1 {
		t.Fatalf("unexpected progress %+v", progress)
	}
	current, ok := machine.Current()
	if !ok || current.ID != "water" {
		t.Fatalf("unexpected current question %+v", current)
	}
}
