package main

import (
	"fmt"
	"strconv"
	"strings"

	"clearskin/internal/api"
)

func renderSummaryTable(items []api.ScanSummary) string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			item.ID,
			formatDisplayTime(item.CreatedAt),
			item.JobStatus,
			strconv.Itoa(item.SpotCount),
			item.Summary,
			yesNo(item.Finalized),
		})
	}
	return renderTable(
		[]string{"ID", "Captured", "Status", "Spots", "Summary", "Finalized"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	)
}

// renderDetail prints one record: header fields, the per-class breakdown,
// and questionnaire feedback.
func renderDetail(p *statusPrinter, detail api.ScanDetail) {
	out := p.out
	p.section("Scan " + detail.ID)
	p.info("Captured", formatDisplayTime(detail.CreatedAt))
	p.info("Image", detail.ImageRef)
	status := detail.JobStatus
	if detail.JobError != "" {
		status += " (" + detail.JobError + ")"
	}
	p.line("Analysis", jobStatusKind(detail.JobStatus), status)
	if detail.ImageSize != nil {
		p.info("Image size", fmt.Sprintf("%dx%d", detail.ImageSize.Width, detail.ImageSize.Height))
	}
	p.info("Result", detail.Summary)

	if len(detail.Breakdown) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, api.SpotsText(detail.SpotCount, true))
		rows := make([][]string, 0, len(detail.Breakdown))
		for _, b := range detail.Breakdown {
			rows = append(rows, []string{b.Label, strconv.Itoa(b.Count), api.ConfidenceText(b.AvgConfidence)})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"Type", "Count", "Avg confidence"},
			rows,
			[]columnAlignment{alignLeft, alignRight, alignRight},
		))
	}

	if len(detail.Feedback) > 0 {
		fmt.Fprintln(out)
		p.section("Lifestyle feedback")
		for _, item := range detail.Feedback {
			p.text(1, "%s: %s", item.Category, item.Answer)
			p.text(2, "%s", item.Feedback)
		}
	}
}

func formatDisplayTime(value string) string {
	t := api.ParseTime(value)
	if t.IsZero() {
		return strings.TrimSpace(value)
	}
	return t.Local().Format("2006-01-02 15:04")
}
