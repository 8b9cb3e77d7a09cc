package records

import (
	"errors"
	"fmt"

	"clearskin/internal/services"
)

var (
	// ErrNotFound reports an id missing from the index or the record table.
	ErrNotFound = fmt.Errorf("%w: scan record", services.ErrNotFound)
	// ErrExists reports an attempt to reuse an id.
	ErrExists = errors.New("scan record already exists")
	// ErrFinalized reports a second finalization of the same record.
	ErrFinalized = errors.New("scan record already finalized")
	// ErrInvalidPatch reports a patch that would break record invariants.
	ErrInvalidPatch = fmt.Errorf("%w: invalid record patch", services.ErrValidation)
	// ErrInvalidID reports an empty or reserved id.
	ErrInvalidID = fmt.Errorf("%w: invalid record id", services.ErrValidation)
	// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
)
