package api

import (
	"clearskin/internal/quiz"
	"clearskin/internal/records"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// ScanSummary describes a stored scan in list views.
type ScanSummary struct {
	ID        string `json:"id"`
	CreatedAt string `json:"createdAt,omitempty"`
	ImageRef  string `json:"imageRef"`
	JobStatus string `json:"jobStatus"`
	JobError  string `json:"jobError,omitempty"`
	SpotCount int    `json:"spotCount"`
	Summary   string `json:"summary"`
	Finalized bool   `json:"finalized"`
}

// DetectionView is a single detection with a display label.
type DetectionView struct {
	Box        records.Box `json:"box"`
	Class      string      `json:"class"`
	Label      string      `json:"label"`
	Confidence float64     `json:"confidence"`
}

// ClassBreakdown groups detections of one class.
type ClassBreakdown struct {
	Class         string  `json:"class"`
	Label         string  `json:"label"`
	Count         int     `json:"count"`
	AvgConfidence float64 `json:"avgConfidence"`
}

// ScanDetail is the full view of one record.
type ScanDetail struct {
	ScanSummary
	ImageSize   *records.ImageSize  `json:"imageSize,omitempty"`
	Detections  []DetectionView     `json:"detections"`
	Breakdown   []ClassBreakdown    `json:"breakdown"`
	Answers     map[string]string   `json:"answers,omitempty"`
	Feedback    []quiz.FeedbackItem `json:"feedback,omitempty"`
	FinalizedAt string              `json:"finalizedAt,omitempty"`
	Session     *SessionView        `json:"session,omitempty"`
}

// QuestionView is a catalog question without feedback text.
type QuestionView struct {
	ID       string   `json:"id"`
	Category string   `json:"category"`
	Text     string   `json:"text"`
	Options  []string `json:"options"`
}

// ProgressView reports position in the questionnaire. Number is 1-based.
type ProgressView struct {
	Number   int `json:"number"`
	Total    int `json:"total"`
	Answered int `json:"answered"`
}

// SessionView is the live state of an in-progress scan.
type SessionView struct {
	ID        string        `json:"id"`
	Phase     string        `json:"phase"`
	JobStatus string        `json:"jobStatus"`
	Question  *QuestionView `json:"question,omitempty"`
	Selected  *int          `json:"selected,omitempty"`
	Progress  ProgressView  `json:"progress"`
	Error     string        `json:"error,omitempty"`
	Record    *ScanDetail   `json:"record,omitempty"`
}

// CatalogResponse lists the questionnaire.
type CatalogResponse struct {
	Questions []QuestionView `json:"questions"`
}

// ScanListResponse wraps a collection of summaries.
type ScanListResponse struct {
	Items []ScanSummary `json:"items"`
}

// StatsResponse counts stored records by job status.
type StatsResponse struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Finalized int `json:"finalized"`
	Active    int `json:"activeSessions"`
}

// VerifyResponse reports index consistency.
type VerifyResponse struct {
	Healthy    bool     `json:"healthy"`
	Indexed    int      `json:"indexed"`
	Records    int      `json:"records"`
	Duplicates []string `json:"duplicates,omitempty"`
	Missing    []string `json:"missing,omitempty"`
	Orphans    []string `json:"orphans,omitempty"`
}

// DetectorStatus reports analysis service health.
type DetectorStatus struct {
	BaseURL     string `json:"baseUrl"`
	Reachable   bool   `json:"reachable"`
	ModelLoaded bool   `json:"modelLoaded"`
	ModelPath   string `json:"modelPath,omitempty"`
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
	CheckedAt   string `json:"checkedAt"`
}

// ErrorResponse is the body of every non-2xx API reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
