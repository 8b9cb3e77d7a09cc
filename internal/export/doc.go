// Package export writes scan records to flat files for offline analysis.
//
// Parquet is the primary format: one row per record, with detections and
// questionnaire answers carried as JSON strings so the schema stays flat.
// JSON Lines output uses the same row shape.
package export
