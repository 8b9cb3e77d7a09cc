package jobs

import (
	"context"
	"slices"
	"sync"
	"time"

	"clearskin/internal/records"
)

// Outcome is the settled result of a detection job.
type Outcome struct {
	Status     records.JobStatus
	Detections []records.Detection
	ImageSize  *records.ImageSize
	// Err is the classified failure when Status is error.
	Err      error
	Duration time.Duration
}

// Handle tracks one in-flight detection job.
type Handle struct {
	id          string
	imageRef    string
	requestID   string
	submittedAt time.Time
	cancel      context.CancelFunc
	done        chan struct{}

	mu      sync.RWMutex
	outcome Outcome
}

func newHandle(id, imageRef, requestID string, cancel context.CancelFunc) *Handle {
	return &Handle{
		id:          id,
		imageRef:    imageRef,
		requestID:   requestID,
		submittedAt: time.Now(),
		cancel:      cancel,
		done:        make(chan struct{}),
		outcome:     Outcome{Status: records.StatusPending},
	}
}

// ID returns the scan id the job belongs to.
func (h *Handle) ID() string { return h.id }

// ImageRef returns the submitted image location.
func (h *Handle) ImageRef() string { return h.imageRef }

// RequestID returns the correlation id used in logs for this job.
func (h *Handle) RequestID() string { return h.requestID }

// SubmittedAt returns when the job was started.
func (h *Handle) SubmittedAt() time.Time { return h.submittedAt }

// Status returns the current job status.
func (h *Handle) Status() records.JobStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.outcome.Status
}

// Done returns a channel closed once the job reaches a terminal status.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Outcome returns a copy of the settled outcome. ok is false while the job is pending.
func (h *Handle) Outcome() (Outcome, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.outcome.Status.Terminal() {
		return Outcome{Status: records.StatusPending}, false
	}
	return h.outcome.clone(), true
}

// Wait blocks until the job settles or ctx ends.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.done:
		out, _ := h.Outcome()
		return out, nil
	case <-ctx.Done():
		return Outcome{Status: records.StatusPending}, ctx.Err()
	}
}

// Cancel abandons the job. A pending job settles as an error shortly after.
func (h *Handle) Cancel() {
	if h.cancel != nil {
		h.cancel()
	}
}

// settle records the terminal outcome and fires the completion signal. Only
// the job goroutine calls it, exactly once.
func (h *Handle) settle(out Outcome) {
	h.mu.Lock()
	h.outcome = out
	h.mu.Unlock()
	close(h.done)
}

func (o Outcome) clone() Outcome {
	out := o
	if o.Detections != nil {
		out.Detections = slices.Clone(o.Detections)
	}
	if o.ImageSize != nil {
		size := *o.ImageSize
		out.ImageSize = &size
	}
	return out
}
