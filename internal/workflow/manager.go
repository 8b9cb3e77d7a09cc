package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"clearskin/internal/images"
	"clearskin/internal/jobs"
	"clearskin/internal/logging"
	"clearskin/internal/quiz"
	"clearskin/internal/records"
	"clearskin/internal/services"
)

// ErrSessionNotFound is returned for ids without a live session.
var ErrSessionNotFound = fmt.Errorf("%w: scan session", services.ErrNotFound)

// ErrManagerClosed is returned by Capture after Close.
var ErrManagerClosed = errors.New("scan manager closed")

// Coordinator starts detection jobs.
type Coordinator interface {
	Submit(ctx context.Context, imageRef, id string) (*jobs.Handle, error)
	Wait()
}

// Session is one live scan attempt.
type Session struct {
	ID        string
	CreatedAt time.Time
	ImageRef  string
	Job       *jobs.Handle
	Quiz      *quiz.Machine

	cancel context.CancelFunc

	mu     sync.Mutex
	record *records.ScanRecord
}

// Record returns the finalized record, or nil before finalization.
func (s *Session) Record() *records.ScanRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.Clone()
}

func (s *Session) setRecord(rec *records.ScanRecord) {
	s.mu.Lock()
	s.record = rec
	s.mu.Unlock()
}

func (s *Session) abandon() {
	s.Quiz.Abandon()
	s.cancel()
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the manager logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithPendingPlaceholder controls whether a pending record is written at capture time.
func WithPendingPlaceholder(enabled bool) ManagerOption {
	return func(m *Manager) { m.placeholder = enabled }
}

// WithIDGenerator overrides scan id generation.
func WithIDGenerator(next func() string) ManagerOption {
	return func(m *Manager) { m.newID = next }
}

// WithClock overrides the capture timestamp source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// Manager runs scan sessions from capture to finalized record.
type Manager struct {
	store       records.Store
	images      *images.Store
	coordinator Coordinator
	catalog     *quiz.Catalog
	finalizer   *Finalizer
	logger      *slog.Logger
	placeholder bool
	newID       func() string
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	sessions map[string]*Session
	wg       sync.WaitGroup
}

// NewManager wires the record store, capture storage, job coordinator, and
// question catalog together.
func NewManager(store records.Store, imageStore *images.Store, coordinator Coordinator, catalog *quiz.Catalog, opts ...ManagerOption) (*Manager, error) {
	if store == nil || imageStore == nil || coordinator == nil {
		return nil, errors.New("scan manager requires a store, image store, and coordinator")
	}
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		store:       store,
		images:      imageStore,
		coordinator: coordinator,
		catalog:     catalog,
		placeholder: true,
		newID:       uuid.NewString,
		now:         time.Now,
		sessions:    make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.NewComponentLogger(m.logger, "workflow")
	m.finalizer = NewFinalizer(store, m.logger)
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m, nil
}

// Catalog returns the questionnaire used for new sessions.
func (m *Manager) Catalog() *quiz.Catalog { return m.catalog }

// Store returns the record store.
func (m *Manager) Store() records.Store { return m.store }

// Capture stores the image read from r and starts a scan session.
func (m *Manager) Capture(ctx context.Context, r io.Reader) (*Session, error) {
	return m.start(ctx, func(id string) (string, error) {
		return m.images.Save(id, r)
	})
}

// CaptureFile starts a scan session for an image already on disk.
func (m *Manager) CaptureFile(ctx context.Context, path string) (*Session, error) {
	return m.start(ctx, func(id string) (string, error) {
		return m.images.Import(id, path)
	})
}

func (m *Manager) start(ctx context.Context, save func(id string) (string, error)) (*Session, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrManagerClosed
	}

	id := m.newID()
	createdAt := m.now().UTC()
	ctx = services.WithStage(services.WithScanID(ctx, id), "capture")
	logger := logging.WithContext(ctx, m.logger)

	imageRef, err := save(id)
	if err != nil {
		return nil, err
	}
	if m.placeholder {
		if _, err := m.store.CreatePending(ctx, id, imageRef, createdAt); err != nil {
			_ = m.images.Remove(id)
			return nil, services.Wrap(services.ErrStorage, "capture", "create pending record", id, err)
		}
	}

	sessionCtx, cancel := context.WithCancel(services.WithScanID(m.ctx, id))
	handle, err := m.coordinator.Submit(sessionCtx, imageRef, id)
	if err != nil {
		cancel()
		return nil, err
	}

	session := &Session{
		ID:        id,
		CreatedAt: createdAt,
		ImageRef:  imageRef,
		Job:       handle,
		cancel:    cancel,
	}
	finalize := func(fctx context.Context, answers map[string]string) error {
		if !m.placeholder {
			if _, err := m.store.CreatePending(fctx, id, imageRef, createdAt); err != nil && !errors.Is(err, records.ErrExists) {
				return services.Wrap(services.ErrStorage, "finalize", "create record", id, err)
			}
		}
		rec, err := m.finalizer.Finalize(fctx, id, handle, answers)
		if err != nil {
			return err
		}
		session.setRecord(rec)
		return nil
	}
	machine, err := quiz.NewMachine(sessionCtx, m.catalog, handle, finalize, quiz.WithLogger(m.logger))
	if err != nil {
		cancel()
		return nil, err
	}
	session.Quiz = machine

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		session.abandon()
		return nil, ErrManagerClosed
	}
	m.sessions[id] = session
	m.wg.Add(1)
	m.mu.Unlock()
	go m.watch(session)

	logger.Info("scan session started",
		logging.ImageRef(imageRef),
		logging.Int("questions", m.catalog.Len()),
	)
	return session, nil
}

// Session returns the live session for id.
func (m *Manager) Session(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Sessions returns the live sessions ordered by capture time.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.Unlock()
	slices.SortFunc(out, func(a, b *Session) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// Abandon stops the session for id: the questionnaire closes without
// finalizing and the detection job is cancelled. A pending placeholder stays
// pending.
func (m *Manager) Abandon(id string) error {
	session, ok := m.Session(id)
	if !ok {
		return ErrSessionNotFound
	}
	session.abandon()
	return nil
}

// Close abandons every live session and waits for background work to stop.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	for _, s := range live {
		s.abandon()
	}
	m.cancel()
	m.wg.Wait()
	m.coordinator.Wait()
}

// watch drops the session once its questionnaire is finalized or abandoned
// and releases the job context.
func (m *Manager) watch(session *Session) {
	defer m.wg.Done()
	<-session.Quiz.Done()
	session.cancel()
	m.mu.Lock()
	delete(m.sessions, session.ID)
	m.mu.Unlock()
}
