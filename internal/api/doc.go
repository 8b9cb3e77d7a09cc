// Package api defines wire-format types and converters for the HTTP API and
// the CLI. It translates stored scan records, live scan sessions, and the
// question catalog into transport-friendly DTOs so consumers can render them
// without coupling to internal types.
//
// # Key Types
//
// ScanSummary: one line per record for recent-scan lists, including the
// "N spots detected" / "Processing..." summary text.
//
// ScanDetail: a record with detections, the per-class breakdown, and quiz
// feedback resolved against the catalog.
//
// SessionView: the live questionnaire state of an in-progress scan.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Job statuses and quiz phases are exposed as
// lowercase strings. Timestamps use RFC3339 with milliseconds. Detections
// stay null while the job is pending so clients can tell "not yet analysed"
// apart from "no spots found".
package api
