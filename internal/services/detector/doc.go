// Package detector talks to the remote acne analysis service.
//
// Detect uploads one JPEG as multipart form field "file" to POST /detect and
// decodes the detections and image dimensions from the JSON reply. Health
// queries GET / to report whether the model is loaded. Failures are tagged
// with services.ErrTransport, services.ErrTimeout or services.ErrServer so
// callers can record why a job failed without parsing messages. Retries follow
// the configured policy: 408, 429, 5xx and network timeouts back off
// exponentially; everything else fails fast.
package detector
