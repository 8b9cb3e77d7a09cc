package testsupport

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// DetectionBody is a well-formed analysis response with two detections.
const DetectionBody = `{
  "detections": [
    {"box": {"x": 12, "y": 30, "width": 20, "height": 18}, "class": "papule", "confidence": 0.87},
    {"box": {"x": 80, "y": 44, "width": 10, "height": 9}, "class": "blackhead", "confidence": 0.64}
  ],
  "image_size": {"width": 640, "height": 480},
  "num_detections": 2
}`

// DetectorStub configures the behaviour of a fake analysis service.
type DetectorStub struct {
	Status int
	Body   string
	Delay  time.Duration
	// Release, when set, blocks each /detect request until it is closed.
	Release chan struct{}
	// Stall makes the first Stall /detect requests hang until the client
	// gives up on them.
	Stall int

	requests atomic.Int32
	files    atomic.Value
}

// Requests returns the number of /detect calls received.
func (s *DetectorStub) Requests() int {
	return int(s.requests.Load())
}

// LastFilename returns the multipart filename of the most recent upload.
func (s *DetectorStub) LastFilename() string {
	if v, ok := s.files.Load().(string); ok {
		return v
	}
	return ""
}

// NewDetectorServer starts an httptest server emulating the analysis API and
// registers its shutdown with t.Cleanup.
func NewDetectorServer(t testing.TB, stub *DetectorStub) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /detect", func(w http.ResponseWriter, r *http.Request) {
		n := stub.requests.Add(1)
		if file, header, err := r.FormFile("file"); err == nil {
			_, _ = io.Copy(io.Discard, file)
			_ = file.Close()
			stub.files.Store(header.Filename)
		}
		if int(n) <= stub.Stall {
			<-r.Context().Done()
			return
		}
		if stub.Release != nil {
			select {
			case <-stub.Release:
			case <-r.Context().Done():
				return
			}
		}
		if stub.Delay > 0 {
			select {
			case <-time.After(stub.Delay):
			case <-r.Context().Done():
				return
			}
		}
		status := stub.Status
		if status == 0 {
			status = http.StatusOK
		}
		body := stub.Body
		if body == "" && status == http.StatusOK {
			body = DetectionBody
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	})
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"message":"Acne Detection API","model_loaded":true,"model_path":"models/best.pt"}`)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}
