// Package services defines shared utilities consumed by the scan workflow and
// its external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp scan IDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper so submission, transport,
//     server and storage failures can be told apart with errors.Is.
package services
