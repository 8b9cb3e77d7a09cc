// Package preflight provides readiness checks for the analysis service and
// the filesystem paths ClearSkin writes to.
//
// These checks run in two contexts:
//   - "clearskin serve" calls RunAll before binding the API and logs every
//     failed check as a warning. Scans still proceed; a failed detector only
//     means new records will settle as errors.
//   - "clearskin health" prints each Result as a table row and exits non-zero
//     when any check fails.
package preflight
