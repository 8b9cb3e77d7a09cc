package records

import (
	"context"
	"time"
)

// Store is the record persistence contract shared by the SQLite and in-memory
// implementations.
type Store interface {
	// CreatePending writes a pending placeholder and appends id to the index.
	CreatePending(ctx context.Context, id, imageRef string, createdAt time.Time) (*ScanRecord, error)
	// CommitFinal merges the final job outcome and quiz answers into an existing record.
	CommitFinal(ctx context.Context, id string, patch Patch) (*ScanRecord, error)
	// Get returns the record for id or ErrNotFound.
	Get(ctx context.Context, id string) (*ScanRecord, error)
	// ListRecent returns up to n records, most recently created first.
	ListRecent(ctx context.Context, n int) ([]*ScanRecord, error)
	// List returns every indexed record in creation order.
	List(ctx context.Context) ([]*ScanRecord, error)
	Stats(ctx context.Context) (Stats, error)
	Verify(ctx context.Context) (IndexReport, error)
	Close() error
}
