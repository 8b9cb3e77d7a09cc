package api

import (
	"context"

	"clearskin/internal/quiz"
	"clearskin/internal/records"
)

// RecordReader abstracts record persistence interactions needed for API queries.
type RecordReader interface {
	Get(ctx context.Context, id string) (*records.ScanRecord, error)
	ListRecent(ctx context.Context, n int) ([]*records.ScanRecord, error)
	Stats(ctx context.Context) (records.Stats, error)
	Verify(ctx context.Context) (records.IndexReport, error)
}

// RecordService exposes read-only record operations returning API DTOs.
type RecordService struct {
	store   RecordReader
	catalog *quiz.Catalog
}

// NewRecordService constructs a RecordService around the provided reader.
func NewRecordService(store RecordReader, catalog *quiz.Catalog) *RecordService {
	if store == nil {
		return nil
	}
	return &RecordService{store: store, catalog: catalog}
}

// Recent returns up to n summaries, newest first.
func (s *RecordService) Recent(ctx context.Context, n int) ([]ScanSummary, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	recs, err := s.store.ListRecent(ctx, n)
	if err != nil {
		return nil, err
	}
	return FromRecords(recs), nil
}

// Describe fetches a single record with breakdown and feedback.
func (s *RecordService) Describe(ctx context.Context, id string) (*ScanDetail, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := DetailFromRecord(rec, s.catalog)
	return &detail, nil
}

// Stats returns record counts by job status.
func (s *RecordService) Stats(ctx context.Context, active int) (StatsResponse, error) {
	if s == nil || s.store == nil {
		return StatsResponse{Active: active}, nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return StatsResponse{}, err
	}
	return FromStats(stats, active), nil
}

// Verify checks index consistency.
func (s *RecordService) Verify(ctx context.Context) (VerifyResponse, error) {
	if s == nil || s.store == nil {
		return VerifyResponse{Healthy: true}, nil
	}
	report, err := s.store.Verify(ctx)
	if err != nil {
		return VerifyResponse{}, err
	}
	return FromIndexReport(report), nil
}
