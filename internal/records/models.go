package records

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// JobStatus mirrors the lifecycle of the remote detection job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusCompleted JobStatus = "completed"
	StatusError     JobStatus = "error"
)

// IndexKey is the reserved key holding the ordered id index.
const IndexKey = "detections"

// Valid reports whether the status is one of the known values.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusError:
		return true
	default:
		return false
	}
}

// Terminal reports whether the job has settled.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Box is a detection bounding box in source image pixels.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Detection is a single labelled region reported by the analysis service.
type Detection struct {
	Box        Box     `json:"box"`
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// ImageSize is the analysed image's dimensions.
type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ScanRecord is the persisted unit. A nil Detections slice means the field
// is absent, which is distinct from an empty, completed result.
type ScanRecord struct {
	ID          string            `json:"id"`
	CreatedAt   time.Time         `json:"createdAt"`
	ImageRef    string            `json:"imageRef"`
	Detections  []Detection       `json:"detections"`
	JobStatus   JobStatus         `json:"jobStatus"`
	JobError    string            `json:"jobError,omitempty"`
	ImageSize   *ImageSize        `json:"imageSize,omitempty"`
	QuizAnswers map[string]string `json:"quizAnswers,omitempty"`
	FinalizedAt *time.Time        `json:"finalizedAt,omitempty"`
}

// Finalized reports whether the record carries a settled job and quiz answers.
func (r *ScanRecord) Finalized() bool {
	return r != nil && r.JobStatus.Terminal() && r.QuizAnswers != nil
}

// SpotCount returns the number of detections, zero while pending.
func (r *ScanRecord) SpotCount() int {
	if r == nil {
		return 0
	}
	return len(r.Detections)
}

// Clone returns a deep copy so callers never share slices or maps with a store.
func (r *ScanRecord) Clone() *ScanRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.Detections != nil {
		out.Detections = slices.Clone(r.Detections)
	}
	if r.ImageSize != nil {
		size := *r.ImageSize
		out.ImageSize = &size
	}
	if r.QuizAnswers != nil {
		out.QuizAnswers = maps.Clone(r.QuizAnswers)
	}
	if r.FinalizedAt != nil {
		ts := *r.FinalizedAt
		out.FinalizedAt = &ts
	}
	return &out
}

// Patch carries the final job outcome and quiz answers merged by CommitFinal.
type Patch struct {
	JobStatus   JobStatus
	JobError    string
	Detections  []Detection
	ImageSize   *ImageSize
	QuizAnswers map[string]string
}

// Validate enforces the record invariants for a finalizing patch: completed
// jobs carry detections (possibly empty) and image dimensions, failed jobs
// carry neither, and answers are always present.
func (p Patch) Validate() error {
	switch p.JobStatus {
	case StatusCompleted:
		if p.Detections == nil {
			return fmt.Errorf("%w: completed job without detections", ErrInvalidPatch)
		}
		if p.ImageSize == nil || p.ImageSize.Width <= 0 || p.ImageSize.Height <= 0 {
			return fmt.Errorf("%w: completed job without image size", ErrInvalidPatch)
		}
		if strings.TrimSpace(p.JobError) != "" {
			return fmt.Errorf("%w: completed job with error reason", ErrInvalidPatch)
		}
	case StatusError:
		if p.Detections != nil {
			return fmt.Errorf("%w: failed job with detections", ErrInvalidPatch)
		}
		if p.ImageSize != nil {
			return fmt.Errorf("%w: failed job with image size", ErrInvalidPatch)
		}
	case StatusPending:
		return fmt.Errorf("%w: job still pending", ErrInvalidPatch)
	default:
		return fmt.Errorf("%w: unknown job status %q", ErrInvalidPatch, p.JobStatus)
	}
	if len(p.QuizAnswers) == 0 {
		return fmt.Errorf("%w: quiz answers missing", ErrInvalidPatch)
	}
	return nil
}

// Stats summarizes stored records by job status.
type Stats struct {
	Total     int
	Pending   int
	Completed int
	Failed    int
	Finalized int
}

// IndexReport describes index consistency problems found by Verify.
type IndexReport struct {
	Indexed    int
	Records    int
	Duplicates []string
	Missing    []string
	Orphans    []string
}

// Healthy reports whether the index and records agree.
func (r IndexReport) Healthy() bool {
	return len(r.Duplicates) == 0 && len(r.Missing) == 0 && len(r.Orphans) == 0
}

func validateID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidID)
	}
	if id == IndexKey {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidID, id)
	}
	return nil
}

func newPendingRecord(id, imageRef string, createdAt time.Time) (*ScanRecord, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if strings.TrimSpace(imageRef) == "" {
		return nil, fmt.Errorf("%w: empty image reference", ErrInvalidID)
	}
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return &ScanRecord{
		ID:        id,
		CreatedAt: createdAt.UTC(),
		ImageRef:  imageRef,
		JobStatus: StatusPending,
	}, nil
}

func applyPatch(record *ScanRecord, patch Patch, now time.Time) {
	record.JobStatus = patch.JobStatus
	record.JobError = strings.TrimSpace(patch.JobError)
	if patch.Detections != nil {
		record.Detections = slices.Clone(patch.Detections)
	} else {
		record.Detections = nil
	}
	if patch.ImageSize != nil {
		size := *patch.ImageSize
		record.ImageSize = &size
	} else {
		record.ImageSize = nil
	}
	record.QuizAnswers = maps.Clone(patch.QuizAnswers)
	finalized := now.UTC()
	record.FinalizedAt = &finalized
}

func summarize(records []*ScanRecord) Stats {
	stats := Stats{Total: len(records)}
	for _, rec := range records {
		switch rec.JobStatus {
		case StatusPending:
			stats.Pending++
		case StatusCompleted:
			stats.Completed++
		case StatusError:
			stats.Failed++
		}
		if rec.Finalized() {
			stats.Finalized++
		}
	}
	return stats
}

// recentIDs returns up to n ids from the tail of the index, newest first.
func recentIDs(index []string, n int) []string {
	if n <= 0 || len(index) == 0 {
		return nil
	}
	if n > len(index) {
		n = len(index)
	}
	out := make([]string, 0, n)
	for i := len(index) - 1; i >= len(index)-n; i-- {
		out = append(out, index[i])
	}
	return out
}

func duplicateIDs(index []string) []string {
	seen := make(map[string]int, len(index))
	var dups []string
	for _, id := range index {
		seen[id]++
		if seen[id] == 2 {
			dups = append(dups, id)
		}
	}
	return dups
}
