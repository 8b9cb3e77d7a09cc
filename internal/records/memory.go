package records

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	index   []string
	records map[string]*ScanRecord
	now     func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*ScanRecord), now: time.Now}
}

func (m *MemoryStore) CreatePending(ctx context.Context, id, imageRef string, createdAt time.Time) (*ScanRecord, error) {
	record, err := newPendingRecord(id, imageRef, createdAt)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; ok || slices.Contains(m.index, id) {
		return nil, fmt.Errorf("%w: %s", ErrExists, id)
	}
	m.records[id] = record
	m.index = append(m.index, id)
	return record.Clone(), nil
}

func (m *MemoryStore) CommitFinal(ctx context.Context, id string, patch Patch) (*ScanRecord, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok || !slices.Contains(m.index, id) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if record.Finalized() {
		return nil, fmt.Errorf("%w: %s", ErrFinalized, id)
	}
	updated := record.Clone()
	applyPatch(updated, patch, m.now())
	m.records[id] = updated
	return updated.Clone(), nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*ScanRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return record.Clone(), nil
}

func (m *MemoryStore) ListRecent(ctx context.Context, n int) ([]*ScanRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(recentIDs(m.index, n)), nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*ScanRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(m.index), nil
}

func (m *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	list, err := m.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	return summarize(list), nil
}

func (m *MemoryStore) Verify(ctx context.Context) (IndexReport, error) {
	if err := ctx.Err(); err != nil {
		return IndexReport{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	report := IndexReport{
		Indexed:    len(m.index),
		Records:    len(m.records),
		Duplicates: duplicateIDs(m.index),
	}
	indexed := make(map[string]struct{}, len(m.index))
	for _, id := range m.index {
		indexed[id] = struct{}{}
		if _, ok := m.records[id]; !ok {
			report.Missing = append(report.Missing, id)
		}
	}
	for id := range m.records {
		if _, ok := indexed[id]; !ok {
			report.Orphans = append(report.Orphans, id)
		}
	}
	slices.Sort(report.Orphans)
	return report, nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) collect(ids []string) []*ScanRecord {
	out := make([]*ScanRecord, 0, len(ids))
	for _, id := range ids {
		if record, ok := m.records[id]; ok {
			out = append(out, record.Clone())
		}
	}
	return out
}
