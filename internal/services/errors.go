package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSubmission = errors.New("submission error")
	ErrTransport  = errors.New("transport error")
	ErrServer     = errors.New("server error")
	ErrTimeout    = errors.New("timeout")
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrStorage    = errors.New("storage error")
	ErrCanceled   = errors.New("canceled")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransport
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// FailureReason returns a short, user-facing reason for a failed remote job.
// Context deadlines and cancellations are reported ahead of the transport marker
// they usually arrive wrapped in.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "analysis timed out"
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled):
		return "analysis canceled"
	case errors.Is(err, ErrServer):
		return "analysis service returned an error"
	case errors.Is(err, ErrTransport):
		return "analysis service unreachable"
	case errors.Is(err, ErrSubmission):
		return "image could not be submitted"
	default:
		return "analysis failed"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
