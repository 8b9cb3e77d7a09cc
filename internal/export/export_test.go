package export_test

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"clearskin/internal/export"
	"clearskin/internal/records"
)

func sampleRecords() []*records.ScanRecord {
	created := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	finalized := created.Add(time.Minute)
	return []*records.ScanRecord{
		{
			ID:          "scan-done",
			CreatedAt:   created,
			ImageRef:    "images/scan-done.jpg",
			JobStatus:   records.StatusCompleted,
			Detections:  []records.Detection{{Class: "papule", Confidence: 0.87}, {Class: "blackhead", Confidence: 0.64}},
			ImageSize:   &records.ImageSize{Width: 640, Height: 480},
			QuizAnswers: map[string]string{"1": "<6"},
			FinalizedAt: &finalized,
		},
		{
			ID:        "scan-failed",
			CreatedAt: created.Add(time.Hour),
			ImageRef:  "images/scan-failed.jpg",
			JobStatus: records.StatusError,
			JobError:  "analysis service unreachable",
		},
		nil,
	}
}

func TestParquetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "scans.parquet")
	n, err := export.ToFile(path, sampleRecords())
	if err != nil {
		t.Fatalf("ToFile: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 exported rows, got %d", n)
	}

	rows, err := export.LoadParquet(path)
	if err != nil {
		t.Fatalf("LoadParquet: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	done := rows[0]
	if done.ID != "scan-done" || done.JobStatus != "completed" || done.DetectionCount != 2 {
		t.Fatalf("unexpected first row: %+v", done)
	}
	if done.ImageWidth != 640 || done.ImageHeight != 480 || !done.Finalized {
		t.Fatalf("unexpected image metadata: %+v", done)
	}
	if !done.CreatedTime().Equal(time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected created time %s", done.CreatedTime())
	}
	var answers map[string]string
	if err := json.Unmarshal([]byte(done.AnswersJSON), &answers); err != nil || answers["1"] != "<6" {
		t.Fatalf("unexpected answers json %q: %v", done.AnswersJSON, err)
	}

	failed := rows[1]
	if failed.JobError != "analysis service unreachable" || failed.DetectionsJSON != "null" || failed.Finalized {
		t.Fatalf("unexpected failed row: %+v", failed)
	}
}

func TestJSONLExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scans.jsonl")
	if _, err := export.ToFile(path, sampleRecords()); err != nil {
		t.Fatalf("ToFile: %v", err)
	}
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()

	var ids []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var row export.Row
		if err := json.Unmarshal(scanner.Bytes(), &row); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		ids = append(ids, row.ID)
	}
	if strings.Join(ids, ",") != "scan-done,scan-failed" {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestToFileRejectsUnknownExtension(t *testing.T) {
	_, err := export.ToFile(filepath.Join(t.TempDir(), "scans.csv"), sampleRecords())
	if err == nil || !strings.Contains(err.Error(), "unsupported export format") {
		t.Fatalf("expected unsupported format error, got %v", err)
	}
}
