// Package jobs coordinates the single remote detection job that belongs to a
// scan attempt.
//
// Coordinator.Submit validates the request, starts the analysis call on its
// own goroutine, and returns a Handle immediately. The handle reports the
// job status (pending, completed or error) and exposes a one-shot Done
// channel that is closed when the status becomes terminal, so any number of
// waiters can block on it without polling. Failures of the remote call never
// escape Submit: they are recorded on the handle as an error status with a
// reason. Each job is bounded by the configured timeout and is cancelled when
// its parent context ends or Handle.Cancel is called.
package jobs
