package logging

import (
	"log/slog"
	"time"
)

type Attr = slog.Attr

// Keys shared by the scan pipeline. Context-derived keys live in context.go.
const (
	FieldImageRef   = "image_ref"
	FieldJobStatus  = "job_status"
	FieldDetections = "detections"
	FieldAnswers    = "answers"
	FieldDuration   = "duration"
)

func String(key string, value string) Attr { return slog.String(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

// ImageRef names the stored capture a log line is about.
func ImageRef(path string) Attr { return slog.String(FieldImageRef, path) }

// JobStatus records a detection job's settled status.
func JobStatus(status string) Attr { return slog.String(FieldJobStatus, status) }

// Detections records how many spots an analysis found.
func Detections(n int) Attr { return slog.Int(FieldDetections, n) }

// Answers records how many questionnaire answers were committed.
func Answers(n int) Attr { return slog.Int(FieldAnswers, n) }

// Elapsed records a duration rounded to milliseconds.
func Elapsed(d time.Duration) Attr { return slog.Duration(FieldDuration, d.Round(time.Millisecond)) }

// Hint is the next step a reader should take after a warning or error.
func Hint(text string) Attr { return slog.String(FieldErrorHint, text) }

// Impact is what the user loses because of a warning.
func Impact(text string) Attr { return slog.String(FieldImpact, text) }

// Args converts attrs into the variadic form slog's level methods accept.
func Args(attrs ...Attr) []any {
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	return args
}

// NewNop returns a logger that drops every record.
func NewNop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// NewComponentLogger tags logger with component. A nil logger discards.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

// HasAttrKey reports whether any attribute in attrs has key.
func HasAttrKey(attrs []Attr, key string) bool {
	for _, a := range attrs {
		if a.Key == key {
			return true
		}
	}
	return false
}

// withDefaults appends each default whose key the caller did not set.
func withDefaults(attrs []Attr, defaults ...Attr) []Attr {
	for _, d := range defaults {
		if !HasAttrKey(attrs, d.Key) {
			attrs = append(attrs, d)
		}
	}
	return attrs
}

// WarnWithContext logs a warning that always carries event_type, error_hint,
// and impact.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	attrs = withDefaults(attrs,
		String(FieldEventType, eventType),
		Hint("check logs for details"),
		Impact("scan continues with reduced results"),
	)
	logger.Warn(msg, Args(attrs...)...)
}

// ErrorWithContext logs an error that always carries event_type and error_hint.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	attrs = withDefaults(attrs,
		String(FieldEventType, eventType),
		Hint("check logs for details"),
	)
	logger.Error(msg, Args(attrs...)...)
}
