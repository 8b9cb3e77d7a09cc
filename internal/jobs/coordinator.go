package jobs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"clearskin/internal/logging"
	"clearskin/internal/records"
	"clearskin/internal/services"
	"clearskin/internal/services/detector"
)

const (
	stageDetection       = "detection"
	defaultMaxImageBytes = 10 << 20
)

// Analyzer performs the remote analysis call.
type Analyzer interface {
	Detect(ctx context.Context, filename string, image []byte) (*detector.Result, error)
}

// Coordinator starts detection jobs and tracks them until they settle.
type Coordinator struct {
	analyzer      Analyzer
	logger        *slog.Logger
	timeout       time.Duration
	maxImageBytes int64
	metrics       *Metrics

	wg sync.WaitGroup
}

// Option customizes the coordinator.
type Option func(*Coordinator)

// WithTimeout bounds each job. Zero disables the deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) { c.timeout = timeout }
}

// WithLogger sets the coordinator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithMetrics records job counters and durations.
func WithMetrics(metrics *Metrics) Option {
	return func(c *Coordinator) { c.metrics = metrics }
}

// WithMaxImageBytes caps the size of images read for upload.
func WithMaxImageBytes(limit int64) Option {
	return func(c *Coordinator) {
		if limit > 0 {
			c.maxImageBytes = limit
		}
	}
}

// NewCoordinator builds a coordinator around analyzer.
func NewCoordinator(analyzer Analyzer, opts ...Option) *Coordinator {
	c := &Coordinator{
		analyzer:      analyzer,
		maxImageBytes: defaultMaxImageBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "jobs")
	return c
}

// Submit starts the detection job for the image at imageRef and returns its
// handle without waiting for the remote call. It fails only when imageRef or
// id is missing. The job runs until it settles, ctx ends, or the handle is
// cancelled.
func (c *Coordinator) Submit(ctx context.Context, imageRef, id string) (*Handle, error) {
	imageRef = strings.TrimSpace(imageRef)
	id = strings.TrimSpace(id)
	if imageRef == "" {
		return nil, services.Wrap(services.ErrSubmission, stageDetection, "submit", "image reference required", nil)
	}
	if id == "" {
		return nil, services.Wrap(services.ErrSubmission, stageDetection, "submit", "scan id required", nil)
	}
	if c.analyzer == nil {
		return nil, services.Wrap(services.ErrSubmission, stageDetection, "submit", "no analyzer configured", nil)
	}

	requestID := uuid.NewString()
	jobCtx, cancel := context.WithCancel(ctx)
	if c.timeout > 0 {
		var timeoutCancel context.CancelFunc
		jobCtx, timeoutCancel = context.WithTimeout(jobCtx, c.timeout)
		parentCancel := cancel
		cancel = func() {
			timeoutCancel()
			parentCancel()
		}
	}
	jobCtx = services.WithScanID(jobCtx, id)
	jobCtx = services.WithStage(jobCtx, stageDetection)
	jobCtx = services.WithRequestID(jobCtx, requestID)

	handle := newHandle(id, imageRef, requestID, cancel)
	c.metrics.jobSubmitted()
	c.wg.Add(1)
	go c.run(jobCtx, handle)
	return handle, nil
}

// Wait blocks until every submitted job has settled.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) run(ctx context.Context, handle *Handle) {
	defer c.wg.Done()
	defer handle.Cancel()

	logger := logging.WithContext(ctx, c.logger)
	logger.Debug("detection job started", logging.ImageRef(handle.imageRef))

	started := time.Now()
	out := c.analyze(ctx, handle)
	out.Duration = time.Since(started)

	if out.Status == records.StatusCompleted {
		logger.Info("detection completed",
			logging.Detections(len(out.Detections)),
			logging.Elapsed(out.Duration),
		)
	} else {
		logging.WarnWithContext(logger, "detection failed", "detection_failed",
			logging.Error(out.Err),
			logging.Hint("check detector.base_url and that the analysis service is running"),
			logging.Impact("scan will be saved without detections"),
			logging.Elapsed(out.Duration),
		)
	}
	c.metrics.jobSettled(out.Status, out.Duration)
	handle.settle(out)
}

func (c *Coordinator) analyze(ctx context.Context, handle *Handle) Outcome {
	image, err := c.readImage(handle.imageRef)
	if err != nil {
		return Outcome{Status: records.StatusError, Err: err}
	}
	result, err := c.analyzer.Detect(ctx, handle.id+".jpg", image)
	if err != nil {
		return Outcome{Status: records.StatusError, Err: err}
	}
	if result == nil {
		return Outcome{
			Status: records.StatusError,
			Err:    services.Wrap(services.ErrServer, stageDetection, "detect", "empty result", nil),
		}
	}
	return Outcome{
		Status:     records.StatusCompleted,
		Detections: convertDetections(result.Detections),
		ImageSize:  &records.ImageSize{Width: result.ImageSize.Width, Height: result.ImageSize.Height},
	}
}

func (c *Coordinator) readImage(imageRef string) ([]byte, error) {
	file, err := os.Open(imageRef)
	if err != nil {
		return nil, services.Wrap(services.ErrSubmission, stageDetection, "read image", "", err)
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, c.maxImageBytes+1))
	if err != nil {
		return nil, services.Wrap(services.ErrSubmission, stageDetection, "read image", "", err)
	}
	if int64(len(data)) > c.maxImageBytes {
		return nil, services.Wrap(services.ErrSubmission, stageDetection, "read image",
			fmt.Sprintf("image exceeds %d bytes", c.maxImageBytes), nil)
	}
	if len(data) == 0 {
		return nil, services.Wrap(services.ErrSubmission, stageDetection, "read image", "image is empty", nil)
	}
	return data, nil
}

func convertDetections(in []detector.Detection) []records.Detection {
	out := make([]records.Detection, 0, len(in))
	for _, det := range in {
		out = append(out, records.Detection{
			Box: records.Box{
				X:      det.Box.X,
				Y:      det.Box.Y,
				Width:  det.Box.Width,
				Height: det.Box.Height,
			},
			Class:      det.Class,
			Confidence: det.Confidence,
		})
	}
	return out
}
