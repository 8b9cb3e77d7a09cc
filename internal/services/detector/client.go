package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"clearskin/internal/config"
	"clearskin/internal/services"
)

const (
	defaultHTTPTimeout    = 60 * time.Second
	defaultRetryMaxDelay  = 5 * time.Second
	defaultRetryBaseDelay = 500 * time.Millisecond
	defaultRetryAttempts  = 1
	maxResponseBytes      = 4 << 20
	stageDetection        = "detection"
)

// Config captures the runtime settings required to reach the analysis service.
type Config struct {
	BaseURL        string
	TimeoutSeconds int
}

// Client wraps the analysis service HTTP API.
type Client struct {
	cfg        Config
	httpClient *http.Client

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(time.Duration)
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryMaxAttempts overrides the total attempt count. 1 disables retries.
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		c.retryMaxAttempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient constructs a detector client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			BaseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient:       &http.Client{Timeout: timeout},
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: timeout}
	}
	return client
}

// NewFromConfig builds a client with the timeout and retry policy from cfg.
// Extra options are applied last.
func NewFromConfig(cfg *config.Config, opts ...Option) *Client {
	base, maxDelay := cfg.DetectorRetryBackoff()
	all := []Option{
		WithRetryMaxAttempts(cfg.Detector.RetryAttempts),
		WithRetryBackoff(base, maxDelay),
	}
	all = append(all, opts...)
	return NewClient(Config{
		BaseURL:        cfg.Detector.BaseURL,
		TimeoutSeconds: cfg.Detector.TimeoutSeconds,
	}, all...)
}

// BaseURL returns the service root the client talks to.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// Box is a bounding box as reported by the service.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Detection is one labelled region.
type Detection struct {
	Box        Box     `json:"box"`
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// ImageSize is the analysed image's dimensions.
type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Result is a successful analysis.
type Result struct {
	Detections    []Detection
	ImageSize     ImageSize
	NumDetections int
}

// Health is the service's root status document.
type Health struct {
	Message     string `json:"message"`
	ModelLoaded bool   `json:"model_loaded"`
	ModelPath   string `json:"model_path"`
}

type detectResponse struct {
	Detections    []Detection `json:"detections"`
	ImageSize     *ImageSize  `json:"image_size"`
	NumDetections *int        `json:"num_detections"`
}

// StatusError is a non-2xx reply from the service.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("detector request: http %d", e.StatusCode)
	}
	return fmt.Sprintf("detector request: http %d: %s", e.StatusCode, body)
}

// ModelUnavailable reports the service's "model not loaded" reply.
func (e *StatusError) ModelUnavailable() bool {
	return e.StatusCode == http.StatusServiceUnavailable
}

// Detect uploads image under filename and returns the parsed analysis.
func (c *Client) Detect(ctx context.Context, filename string, image []byte) (*Result, error) {
	if len(image) == 0 {
		return nil, services.Wrap(services.ErrSubmission, stageDetection, "detect", "empty image", nil)
	}
	if strings.TrimSpace(filename) == "" {
		filename = "image.jpg"
	}

	attempts := c.retryAttempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := c.detectOnce(ctx, filename, image)
		if err == nil {
			return result, nil
		}
		lastErr = err
		delay, retry := c.retryDelay(ctx, err, attempt, attempts)
		if !retry {
			break
		}
		if err := c.sleep(ctx, delay); err != nil {
			return nil, classify(err, "retry wait")
		}
	}
	return nil, classify(lastErr, "detect")
}

func (c *Client) detectOnce(ctx context.Context, filename string, image []byte) (*Result, error) {
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "detect")
	if err != nil {
		return nil, fmt.Errorf("detector request: build url: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("detector request: create part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("detector request: write part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("detector request: close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("detector request: new request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	payload, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var decoded detectResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, &malformedError{reason: "decode response", err: err}
	}
	return decoded.result()
}

// Health fetches the service root status document.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var health Health
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "/")
	if err != nil {
		return health, fmt.Errorf("detector health: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return health, fmt.Errorf("detector health: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	payload, err := c.do(req)
	if err != nil {
		return health, classify(err, "health")
	}
	if err := json.Unmarshal(payload, &health); err != nil {
		return health, classify(&malformedError{reason: "decode health", err: err}, "health")
	}
	return health, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector request: http error (timeout=%s): %w", c.timeoutDuration(), err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("detector request: read body (timeout=%s): %w", c.timeoutDuration(), err)
	}
	if resp.StatusCode != http.StatusOK {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(payload)),
			RetryAfter: retryAfter,
		}
	}
	return payload, nil
}

func (r detectResponse) result() (*Result, error) {
	if r.Detections == nil {
		return nil, &malformedError{reason: "detections list missing"}
	}
	if r.ImageSize == nil || r.ImageSize.Width <= 0 || r.ImageSize.Height <= 0 {
		return nil, &malformedError{reason: "image dimensions missing"}
	}
	detections := make([]Detection, 0, len(r.Detections))
	for _, det := range r.Detections {
		det.Class = strings.TrimSpace(det.Class)
		det.Confidence = clampConfidence(det.Confidence)
		detections = append(detections, det)
	}
	count := len(detections)
	if r.NumDetections != nil {
		count = *r.NumDetections
	}
	return &Result{
		Detections:    detections,
		ImageSize:     *r.ImageSize,
		NumDetections: count,
	}, nil
}

func clampConfidence(value float64) float64 {
	switch {
	case value < 0:
		return 0
	case value > 1:
		return 1
	default:
		return value
	}
}

type malformedError struct {
	reason string
	err    error
}

func (e *malformedError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("detector response: %s: %v", e.reason, e.err)
	}
	return "detector response: " + e.reason
}

func (e *malformedError) Unwrap() error { return e.err }

// classify tags err with the services marker matching its cause.
func classify(err error, operation string) error {
	if err == nil {
		return nil
	}
	var statusErr *StatusError
	var malformed *malformedError
	switch {
	case errors.As(err, &statusErr):
		return services.Wrap(services.ErrServer, stageDetection, operation, "", err)
	case errors.As(err, &malformed):
		return services.Wrap(services.ErrServer, stageDetection, operation, "malformed response", err)
	case errors.Is(err, context.Canceled):
		return services.Wrap(services.ErrCanceled, stageDetection, operation, "", err)
	case isTimeout(err):
		return services.Wrap(services.ErrTimeout, stageDetection, operation, "request timed out", err)
	default:
		return services.Wrap(services.ErrTransport, stageDetection, operation, "", err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *Client) timeoutDuration() time.Duration {
	if c == nil || c.httpClient == nil || c.httpClient.Timeout <= 0 {
		return defaultHTTPTimeout
	}
	return c.httpClient.Timeout
}

func (c *Client) retryAttempts() int {
	if c == nil || c.retryMaxAttempts <= 0 {
		return 1
	}
	return c.retryMaxAttempts
}

func (c *Client) retryDelay(ctx context.Context, err error, attempt, maxAttempts int) (time.Duration, bool) {
	if attempt >= maxAttempts || err == nil || ctx.Err() != nil {
		return 0, false
	}
	// ctx.Err() is nil here, so a deadline in err is the per-request
	// client timeout and the next attempt gets a fresh one.
	if errors.Is(err, context.Canceled) {
		return 0, false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= http.StatusInternalServerError:
			if statusErr.RetryAfter > 0 {
				return c.capDelay(statusErr.RetryAfter), true
			}
			return c.backoffDelay(attempt), true
		default:
			return 0, false
		}
	}

	if isTimeout(err) {
		return c.backoffDelay(attempt), true
	}
	return 0, false
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	base := c.retryBaseDelay
	maxDelay := c.retryMaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}
	if base <= 0 {
		return 0
	}
	if attempt <= 0 {
		attempt = 1
	}
	// attempt 1 -> base, attempt 2 -> base*2, attempt 3 -> base*4, ...
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	return c.capDelay(delay)
}

func (c *Client) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	maxDelay := c.retryMaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}
