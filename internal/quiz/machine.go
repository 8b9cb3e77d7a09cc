package quiz

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"

	"clearskin/internal/logging"
	"clearskin/internal/records"
)

// Phase is the coarse machine state.
type Phase int

const (
	PhaseAskingQuestion Phase = iota
	PhaseAwaitingJobCompletion
	PhaseFinalized
	PhaseAbandoned
)

func (p Phase) String() string {
	switch p {
	case PhaseAskingQuestion:
		return "asking_question"
	case PhaseAwaitingJobCompletion:
		return "awaiting_job_completion"
	case PhaseFinalized:
		return "finalized"
	case PhaseAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// State is a snapshot of the machine. Index is meaningful while asking.
type State struct {
	Phase Phase
	Index int
}

// Progress describes how far through the questionnaire the user is.
type Progress struct {
	Index    int
	Total    int
	Answered int
}

// JobWatcher is the view of a detection job the machine needs.
type JobWatcher interface {
	Status() records.JobStatus
	Done() <-chan struct{}
}

// FinalizeFunc commits the collected answers once the job has settled.
type FinalizeFunc func(ctx context.Context, answers map[string]string) error

// MachineOption customizes a Machine.
type MachineOption func(*Machine)

// WithLogger sets the machine logger.
func WithLogger(logger *slog.Logger) MachineOption {
	return func(m *Machine) { m.logger = logger }
}

// Machine steps through a catalog and triggers finalization exactly once.
type Machine struct {
	catalog  *Catalog
	job      JobWatcher
	finalize FinalizeFunc
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	phase     Phase
	index     int
	candidate int
	answers   map[string]string
	err       error

	once sync.Once
	done chan struct{}
}

// NewMachine builds a machine in AskingQuestion(0). The machine stops
// waiting for the job when ctx ends.
func NewMachine(ctx context.Context, catalog *Catalog, job JobWatcher, finalize FinalizeFunc, opts ...MachineOption) (*Machine, error) {
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	if job == nil {
		return nil, errors.New("quiz machine requires a job")
	}
	if finalize == nil {
		return nil, errors.New("quiz machine requires a finalize callback")
	}
	m := &Machine{
		catalog:   catalog,
		job:       job,
		finalize:  finalize,
		candidate: -1,
		answers:   make(map[string]string, catalog.Len()),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.WithContext(ctx, logging.NewComponentLogger(m.logger, "quiz"))
	m.ctx, m.cancel = context.WithCancel(ctx)
	return m, nil
}

// Catalog returns the questionnaire the machine walks.
func (m *Machine) Catalog() *Catalog { return m.catalog }

// State returns the current phase and question index.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{Phase: m.phase, Index: m.index}
}

// Current returns the question being asked. ok is false after the last answer.
func (m *Machine) Current() (Question, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseAskingQuestion {
		return Question{}, false
	}
	return m.catalog.Questions[m.index], true
}

// Selected returns the candidate option index for the current question.
func (m *Machine) Selected() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.candidate, m.candidate >= 0
}

// Progress reports the question position and committed answer count.
func (m *Machine) Progress() Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Progress{Index: m.index, Total: m.catalog.Len(), Answered: len(m.answers)}
}

// Answers returns a copy of the committed answers.
func (m *Machine) Answers() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.answers)
}

// SelectAnswer records a candidate answer for the current question without
// advancing.
func (m *Machine) SelectAnswer(optionIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseAskingQuestion {
		return ErrQuizClosed
	}
	if optionIndex < 0 || optionIndex >= len(m.catalog.Questions[m.index].Options) {
		return ErrInvalidOption
	}
	m.candidate = optionIndex
	return nil
}

// Advance commits the candidate answer and moves on. After the last question
// the machine finalizes immediately when the job has settled, otherwise it
// waits for the job's completion signal. A finalization failure is returned
// here and from Err.
func (m *Machine) Advance() error {
	m.mu.Lock()
	if m.phase != PhaseAskingQuestion {
		m.mu.Unlock()
		return ErrQuizClosed
	}
	if m.candidate < 0 {
		m.mu.Unlock()
		return ErrNoAnswerSelected
	}
	question := m.catalog.Questions[m.index]
	m.answers[question.ID] = question.Options[m.candidate].Key
	m.candidate = -1
	if m.index+1 < m.catalog.Len() {
		m.index++
		m.mu.Unlock()
		return nil
	}
	if m.job.Status() == records.StatusPending {
		m.phase = PhaseAwaitingJobCompletion
		m.mu.Unlock()
		m.logger.Debug("questionnaire complete, waiting for detection")
		go m.await()
		return nil
	}
	m.mu.Unlock()
	m.finish()
	return m.Err()
}

// Done is closed once the machine is finalized or abandoned.
func (m *Machine) Done() <-chan struct{} { return m.done }

// Err reports the finalization failure, ErrAbandoned, or nil.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Wait blocks until the machine is done or ctx ends.
func (m *Machine) Wait(ctx context.Context) error {
	select {
	case <-m.done:
		return m.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abandon stops the machine without finalizing. It has no effect once the
// machine has finalized.
func (m *Machine) Abandon() {
	m.once.Do(func() {
		m.mu.Lock()
		m.phase = PhaseAbandoned
		m.err = ErrAbandoned
		m.mu.Unlock()
		m.logger.Info("questionnaire abandoned")
		close(m.done)
	})
	m.cancel()
}

func (m *Machine) await() {
	select {
	case <-m.job.Done():
		m.finish()
	case <-m.ctx.Done():
		m.Abandon()
	}
}

func (m *Machine) finish() {
	m.once.Do(func() {
		answers := m.Answers()
		// A settled job is committed even if the machine context has ended.
		err := m.finalize(context.WithoutCancel(m.ctx), answers)
		m.mu.Lock()
		m.phase = PhaseFinalized
		m.err = err
		m.mu.Unlock()
		if err != nil {
			logging.ErrorWithContext(m.logger, "scan finalization failed", "finalize_failed",
				logging.Error(err),
				logging.Hint("check the record store path and disk space"),
			)
		} else {
			m.logger.Info("scan finalized", logging.Answers(len(answers)))
		}
		close(m.done)
	})
	m.cancel()
}
