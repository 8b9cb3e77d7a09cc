package api

import (
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"clearskin/internal/quiz"
	"clearskin/internal/records"
	"clearskin/internal/workflow"
)

var titleCaser = cases.Title(language.English)

// FromRecord converts a record to its summary representation.
func FromRecord(rec *records.ScanRecord) ScanSummary {
	if rec == nil {
		return ScanSummary{}
	}
	return ScanSummary{
		ID:        rec.ID,
		CreatedAt: FormatTime(rec.CreatedAt),
		ImageRef:  rec.ImageRef,
		JobStatus: string(rec.JobStatus),
		JobError:  rec.JobError,
		SpotCount: rec.SpotCount(),
		Summary:   SummaryText(rec),
		Finalized: rec.Finalized(),
	}
}

// FromRecords converts a slice of records preserving order.
func FromRecords(recs []*records.ScanRecord) []ScanSummary {
	out := make([]ScanSummary, 0, len(recs))
	for _, rec := range recs {
		if rec == nil {
			continue
		}
		out = append(out, FromRecord(rec))
	}
	return out
}

// DetailFromRecord builds the full record view, resolving answers against catalog.
func DetailFromRecord(rec *records.ScanRecord, catalog *quiz.Catalog) ScanDetail {
	if rec == nil {
		return ScanDetail{}
	}
	detail := ScanDetail{
		ScanSummary: FromRecord(rec),
		Breakdown:   BreakdownByClass(rec.Detections),
		Answers:     rec.QuizAnswers,
		Feedback:    catalog.Feedback(rec.QuizAnswers),
	}
	if rec.ImageSize != nil {
		size := *rec.ImageSize
		detail.ImageSize = &size
	}
	if rec.Detections != nil {
		detail.Detections = make([]DetectionView, 0, len(rec.Detections))
		for _, det := range rec.Detections {
			detail.Detections = append(detail.Detections, DetectionView{
				Box:        det.Box,
				Class:      det.Class,
				Label:      ClassLabel(det.Class),
				Confidence: det.Confidence,
			})
		}
	}
	if rec.FinalizedAt != nil {
		detail.FinalizedAt = FormatTime(*rec.FinalizedAt)
	}
	return detail
}

// FromSession captures the live questionnaire state of a scan session.
func FromSession(session *workflow.Session) SessionView {
	if session == nil {
		return SessionView{}
	}
	machine := session.Quiz
	state := machine.State()
	progress := machine.Progress()
	view := SessionView{
		ID:        session.ID,
		Phase:     state.Phase.String(),
		JobStatus: string(session.Job.Status()),
		Progress: ProgressView{
			Number:   progress.Index + 1,
			Total:    progress.Total,
			Answered: progress.Answered,
		},
	}
	if q, ok := machine.Current(); ok {
		qv := FromQuestion(q)
		view.Question = &qv
		if selected, ok := machine.Selected(); ok {
			view.Selected = &selected
		}
	}
	if err := machine.Err(); err != nil {
		view.Error = err.Error()
	}
	if rec := session.Record(); rec != nil {
		detail := DetailFromRecord(rec, machine.Catalog())
		view.Record = &detail
	}
	return view
}

// FromQuestion hides feedback text from a catalog question.
func FromQuestion(q quiz.Question) QuestionView {
	options := make([]string, 0, len(q.Options))
	for _, opt := range q.Options {
		options = append(options, opt.Key)
	}
	return QuestionView{ID: q.ID, Category: q.Category, Text: q.Text, Options: options}
}

// FromCatalog converts the whole questionnaire.
func FromCatalog(catalog *quiz.Catalog) CatalogResponse {
	resp := CatalogResponse{Questions: make([]QuestionView, 0, catalog.Len())}
	if catalog == nil {
		return resp
	}
	for _, q := range catalog.Questions {
		resp.Questions = append(resp.Questions, FromQuestion(q))
	}
	return resp
}

// FromStats converts store counters.
func FromStats(stats records.Stats, active int) StatsResponse {
	return StatsResponse{
		Total:     stats.Total,
		Pending:   stats.Pending,
		Completed: stats.Completed,
		Failed:    stats.Failed,
		Finalized: stats.Finalized,
		Active:    active,
	}
}

// FromIndexReport converts a consistency report.
func FromIndexReport(report records.IndexReport) VerifyResponse {
	return VerifyResponse{
		Healthy:    report.Healthy(),
		Indexed:    report.Indexed,
		Records:    report.Records,
		Duplicates: report.Duplicates,
		Missing:    report.Missing,
		Orphans:    report.Orphans,
	}
}

// SummaryText renders the list summary: a spot count once the job has
// produced detections, "Analysis failed" for failed jobs, "Processing..."
// otherwise.
func SummaryText(rec *records.ScanRecord) string {
	switch {
	case rec == nil:
		return ""
	case rec.Detections != nil:
		return SpotsText(len(rec.Detections), false)
	case rec.JobStatus == records.StatusError:
		return "Analysis failed"
	default:
		return "Processing..."
	}
}

// SpotsText pluralizes a spot count, e.g. "1 spot detected" or "3 total spots detected".
func SpotsText(count int, total bool) string {
	noun := "spots"
	if count == 1 {
		noun = "spot"
	}
	if total {
		return fmt.Sprintf("%d total %s detected", count, noun)
	}
	return fmt.Sprintf("%d %s detected", count, noun)
}

// BreakdownByClass groups detections by class in first-seen order.
func BreakdownByClass(detections []records.Detection) []ClassBreakdown {
	if len(detections) == 0 {
		return []ClassBreakdown{}
	}
	order := make([]string, 0, 4)
	counts := make(map[string]int)
	sums := make(map[string]float64)
	for _, det := range detections {
		class := strings.TrimSpace(det.Class)
		if _, seen := counts[class]; !seen {
			order = append(order, class)
		}
		counts[class]++
		sums[class] += det.Confidence
	}
	out := make([]ClassBreakdown, 0, len(order))
	for _, class := range order {
		pct := math.Round(sums[class]/float64(counts[class])*1000) / 10
		out = append(out, ClassBreakdown{
			Class:         class,
			Label:         ClassLabel(class),
			Count:         counts[class],
			AvgConfidence: pct,
		})
	}
	return out
}

// ConfidenceText renders an average confidence percentage with one decimal, e.g. "87.5%".
func ConfidenceText(pct float64) string {
	return fmt.Sprintf("%.1f%%", pct)
}

// ClassLabel turns a model class such as "dark_spot" into "Dark Spot".
func ClassLabel(class string) string {
	class = strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(class))
	if class == "" {
		return "Unknown"
	}
	return titleCaser.String(class)
}

// FormatTime renders timestamps for API payloads.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// ParseTime parses a timestamp produced by FormatTime.
func ParseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}
