// Package quiz walks the lifestyle questionnaire that runs while a scan is
// being analysed.
//
// A Catalog is the ordered question list, loaded from the embedded YAML
// document or a user supplied file. A Machine steps through the catalog one
// question at a time and, once the last answer is committed, hands the
// answers to a finalize callback as soon as the detection job has settled.
// The machine waits on the job's completion channel rather than polling its
// status.
package quiz
