// Package workflow ties a capture to its detection job, questionnaire, and
// stored record.
//
// The Finalizer turns a settled job outcome plus quiz answers into the one
// CommitFinal write that finalizes a record. The Manager owns live scan
// sessions: it stores the capture, writes the pending placeholder, submits
// the detection job, and binds a quiz machine to the Finalizer so the record
// is committed exactly once, after both the last answer and the job's
// terminal status have been observed.
package workflow
