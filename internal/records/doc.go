// Package records persists scan records and the ordered index of their ids.
//
// A ScanRecord starts life as a pending placeholder written when the image is
// captured and is finalized exactly once, when both the questionnaire and the
// remote detection job are done. Finalized records are immutable and records
// are never deleted.
//
// Two Store implementations exist: SQLiteStore is the durable default and
// keeps every value in a single key/value table, with the id index stored as a
// JSON array under the well-known "detections" key; MemoryStore backs tests
// and ephemeral runs. Both serialize index mutations so concurrent
// CreatePending calls never lose an append.
package records
