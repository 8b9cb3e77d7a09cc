package export

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"clearskin/internal/fileutil"
	"clearskin/internal/records"
)

// Row is the flattened export shape of one scan record.
type Row struct {
	ID             string `parquet:"id" json:"id"`
	CreatedAt      int64  `parquet:"created_at_ms" json:"created_at_ms"`
	ImageRef       string `parquet:"image_ref" json:"image_ref"`
	JobStatus      string `parquet:"job_status,dict" json:"job_status"`
	JobError       string `parquet:"job_error,optional" json:"job_error,omitempty"`
	DetectionCount int32  `parquet:"detection_count" json:"detection_count"`
	ImageWidth     int32  `parquet:"image_width" json:"image_width"`
	ImageHeight    int32  `parquet:"image_height" json:"image_height"`
	Finalized      bool   `parquet:"finalized" json:"finalized"`
	FinalizedAt    int64  `parquet:"finalized_at_ms" json:"finalized_at_ms,omitempty"`
	DetectionsJSON string `parquet:"detections_json" json:"detections_json"`
	AnswersJSON    string `parquet:"answers_json" json:"answers_json"`
}

// Format selects the output encoding.
type Format string

const (
	FormatParquet Format = "parquet"
	FormatJSONL   Format = "jsonl"
)

// FormatForPath infers the format from a file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return FormatParquet, nil
	case ".jsonl", ".json":
		return FormatJSONL, nil
	default:
		return "", fmt.Errorf("unsupported export format %q (supported: .parquet, .jsonl)", filepath.Ext(path))
	}
}

// NewRow flattens a record.
func NewRow(rec *records.ScanRecord) (Row, error) {
	row := Row{
		ID:             rec.ID,
		CreatedAt:      rec.CreatedAt.UnixMilli(),
		ImageRef:       rec.ImageRef,
		JobStatus:      string(rec.JobStatus),
		JobError:       rec.JobError,
		DetectionCount: int32(rec.SpotCount()),
		Finalized:      rec.Finalized(),
	}
	if rec.ImageSize != nil {
		row.ImageWidth = int32(rec.ImageSize.Width)
		row.ImageHeight = int32(rec.ImageSize.Height)
	}
	if rec.FinalizedAt != nil {
		row.FinalizedAt = rec.FinalizedAt.UnixMilli()
	}
	detections, err := json.Marshal(rec.Detections)
	if err != nil {
		return Row{}, fmt.Errorf("encode detections for %s: %w", rec.ID, err)
	}
	answers, err := json.Marshal(rec.QuizAnswers)
	if err != nil {
		return Row{}, fmt.Errorf("encode answers for %s: %w", rec.ID, err)
	}
	row.DetectionsJSON = string(detections)
	row.AnswersJSON = string(answers)
	return row, nil
}

// Rows flattens records, preserving order.
func Rows(recs []*records.ScanRecord) ([]Row, error) {
	rows := make([]Row, 0, len(recs))
	for _, rec := range recs {
		if rec == nil {
			continue
		}
		row, err := NewRow(rec)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteParquet encodes rows as a single Parquet file.
func WriteParquet(w io.Writer, rows []Row) error {
	writer := parquet.NewGenericWriter[Row](w)
	if _, err := writer.Write(rows); err != nil {
		_ = writer.Close()
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// WriteJSONL encodes one JSON object per line.
func WriteJSONL(w io.Writer, rows []Row) error {
	buf := bufio.NewWriter(w)
	enc := json.NewEncoder(buf)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("write jsonl row %s: %w", row.ID, err)
		}
	}
	return buf.Flush()
}

// ToFile exports records to path in the format implied by its extension.
// The file is written in full before being moved into place.
func ToFile(path string, recs []*records.ScanRecord) (int, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return 0, err
	}
	rows, err := Rows(recs)
	if err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	switch format {
	case FormatParquet:
		err = WriteParquet(&buf, rows)
	case FormatJSONL:
		err = WriteJSONL(&buf, rows)
	}
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create export dir: %w", err)
	}
	if err := fileutil.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return 0, fmt.Errorf("write export: %w", err)
	}
	return len(rows), nil
}

// LoadParquet reads rows back from a Parquet export.
func LoadParquet(path string) ([]Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat parquet file: %w", err)
	}
	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	reader := parquet.NewGenericReader[Row](pf)
	defer reader.Close()

	out := make([]Row, 0, pf.NumRows())
	batch := make([]Row, 128)
	for {
		n, err := reader.Read(batch)
		out = append(out, batch[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read parquet rows: %w", err)
		}
		if n == 0 {
			break
		}
	}
	return out, nil
}

// CreatedTime converts the stored millisecond timestamp back to UTC.
func (r Row) CreatedTime() time.Time {
	return time.UnixMilli(r.CreatedAt).UTC()
}
