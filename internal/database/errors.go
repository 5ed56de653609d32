package database

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested record is absent from the store.
	ErrNotFound = errors.New("database: record not found")
	// ErrSchemaConflict indicates the stored schema is incompatible and the
	// reopen-with-new-schema path also failed.
	ErrSchemaConflict = errors.New("database: schema conflict")

	errSchemaMismatch = errors.New("database: schema version mismatch")
)

// StorageError wraps an underlying persistence failure. Callers must not
// assume the operation is retryable.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("database: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageFault(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
