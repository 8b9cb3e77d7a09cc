// Package logging assembles structured slog loggers and formatting helpers used
// across ClearSkin.
//
// It owns the console/JSON handlers, level and output plumbing, and
// context-aware helpers so scan code automatically tags log lines with scan
// IDs, stages, and correlation IDs. A no-op logger is provided for tests and
// wiring code that cannot fail.
package logging
