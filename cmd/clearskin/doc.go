// Command clearskin captures skin images, runs them through the remote acne
// detection service while the user answers a short lifestyle questionnaire,
// and stores the combined result.
//
// Subcommands:
//   - scan: capture an image file and answer the questionnaire interactively
//     or from --answers
//   - records: list, show, count, verify, and export stored scans
//   - serve: run the HTTP API
//   - health: check directories, the question catalog, and the analysis service
//   - config: create, show, and validate the configuration file
package main
