package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"clearskin/internal/config"
)

const fetchBatchSize = 500

// SQLiteStore persists records in a key/value table.
//
// Index mutations hold writeMu and run inside one transaction, so the
// read-modify-write of the index cannot interleave with another writer in the
// process. Other processes sharing the file are handled by busy retries.
type SQLiteStore struct {
	db      *sql.DB
	path    string
	writeMu sync.Mutex
	now     func() time.Time
}

// Open initializes or connects to the record database under the configured data directory.
func Open(cfg *config.Config) (*SQLiteStore, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.DatabasePath())
}

// OpenPath opens the database at path, creating the schema when needed.
func OpenPath(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &SQLiteStore{db: db, path: path, now: time.Now}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) CreatePending(ctx context.Context, id, imageRef string, createdAt time.Time) (*ScanRecord, error) {
	record, err := newPendingRecord(id, imageRef, createdAt)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err = retryOnBusy(ctx, func() error {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			index, err := readIndex(ctx, tx)
			if err != nil {
				return err
			}
			if slices.Contains(index, id) {
				return fmt.Errorf("%w: %s", ErrExists, id)
			}
			if _, found, err := getValue(ctx, tx, id); err != nil {
				return err
			} else if found {
				return fmt.Errorf("%w: %s", ErrExists, id)
			}
			if err := s.putValue(ctx, tx, id, payload); err != nil {
				return err
			}
			return s.writeIndex(ctx, tx, append(index, id))
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create pending %s: %w", id, err)
	}
	return record, nil
}

func (s *SQLiteStore) CommitFinal(ctx context.Context, id string, patch Patch) (*ScanRecord, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var updated *ScanRecord
	err := retryOnBusy(ctx, func() error {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			index, err := readIndex(ctx, tx)
			if err != nil {
				return err
			}
			if !slices.Contains(index, id) {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			raw, found, err := getValue(ctx, tx, id)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("%w: %s (indexed without record)", ErrNotFound, id)
			}
			record, err := decodeRecord(raw)
			if err != nil {
				return err
			}
			if record.Finalized() {
				return fmt.Errorf("%w: %s", ErrFinalized, id)
			}
			applyPatch(record, patch, s.now())
			payload, err := json.Marshal(record)
			if err != nil {
				return fmt.Errorf("marshal record: %w", err)
			}
			if err := s.putValue(ctx, tx, id, payload); err != nil {
				return err
			}
			updated = record
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("commit final %s: %w", id, err)
	}
	return updated, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*ScanRecord, error) {
	if err := validateID(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	raw, found, err := getValue(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return decodeRecord(raw)
}

func (s *SQLiteStore) ListRecent(ctx context.Context, n int) ([]*ScanRecord, error) {
	index, err := readIndex(ctx, s.db)
	if err != nil {
		return nil, err
	}
	return s.fetch(ctx, recentIDs(index, n))
}

func (s *SQLiteStore) List(ctx context.Context) ([]*ScanRecord, error) {
	index, err := readIndex(ctx, s.db)
	if err != nil {
		return nil, err
	}
	return s.fetch(ctx, index)
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	list, err := s.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	return summarize(list), nil
}

func (s *SQLiteStore) Verify(ctx context.Context) (IndexReport, error) {
	index, err := readIndex(ctx, s.db)
	if err != nil {
		return IndexReport{}, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM kv WHERE key <> ? ORDER BY key", IndexKey)
	if err != nil {
		return IndexReport{}, fmt.Errorf("list record keys: %w", err)
	}
	defer rows.Close()

	stored := make(map[string]struct{})
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return IndexReport{}, fmt.Errorf("scan record key: %w", err)
		}
		stored[key] = struct{}{}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return IndexReport{}, fmt.Errorf("iterate record keys: %w", err)
	}

	report := IndexReport{
		Indexed:    len(index),
		Records:    len(keys),
		Duplicates: duplicateIDs(index),
	}
	indexed := make(map[string]struct{}, len(index))
	for _, id := range index {
		indexed[id] = struct{}{}
		if _, ok := stored[id]; !ok {
			report.Missing = append(report.Missing, id)
		}
	}
	for _, key := range keys {
		if _, ok := indexed[key]; !ok {
			report.Orphans = append(report.Orphans, key)
		}
	}
	return report, nil
}

// fetch loads records for ids and returns them in ids order. Ids without a
// stored record are skipped; Verify reports them.
func (s *SQLiteStore) fetch(ctx context.Context, ids []string) ([]*ScanRecord, error) {
	if len(ids) == 0 {
		return []*ScanRecord{}, nil
	}
	byID := make(map[string]*ScanRecord, len(ids))
	for batch := range slices.Chunk(ids, fetchBatchSize) {
		if err := s.fetchBatch(ctx, batch, byID); err != nil {
			return nil, err
		}
	}

	out := make([]*ScanRecord, 0, len(ids))
	for _, id := range ids {
		if record, ok := byID[id]; ok {
			out = append(out, record)
		}
	}
	return out, nil
}

// fetchBatch keeps each IN list well under SQLite's host parameter limit.
func (s *SQLiteStore) fetchBatch(ctx context.Context, ids []string, into map[string]*ScanRecord) error {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value FROM kv WHERE key IN ("+makePlaceholders(len(ids))+")", args...)
	if err != nil {
		return fmt.Errorf("fetch records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("scan record: %w", err)
		}
		record, err := decodeRecord(value)
		if err != nil {
			return err
		}
		into[key] = record
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate records: %w", err)
	}
	return nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) putValue(ctx context.Context, tx *sql.Tx, key string, value []byte) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value), s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) writeIndex(ctx context.Context, tx *sql.Tx, index []string) error {
	payload, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	return s.putValue(ctx, tx, IndexKey, payload)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getValue(ctx context.Context, q queryer, key string) (string, bool, error) {
	var value string
	err := q.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	return value, true, nil
}

func readIndex(ctx context.Context, q queryer) ([]string, error) {
	raw, found, err := getValue(ctx, q, IndexKey)
	if err != nil || !found {
		return nil, err
	}
	var index []string
	if err := json.Unmarshal([]byte(raw), &index); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	return index, nil
}

func decodeRecord(raw string) (*ScanRecord, error) {
	var record ScanRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &record, nil
}
