package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionFailed indicates a failure to connect to the database.
	ErrConnectionFailed = errors.New("storage: connection failed")

	// ErrQueryFailed indicates a query execution failure.
	ErrQueryFailed = errors.New("storage: query failed")

	// ErrNotFound indicates the requested record was not found.
	ErrNotFound = errors.New("storage: not found")
)

// Error wraps storage failures with the operation and table involved.
type Error struct {
	Op    string
	Table string
	Err   error
}

func (e *Error) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage.%s(%s): %v", e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("storage.%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapConnectionError(op string, err error) error {
	return &Error{Op: op, Err: fmt.Errorf("%w: %v", ErrConnectionFailed, err)}
}

func wrapQueryError(op, table string, err error) error {
	return &Error{Op: op, Table: table, Err: fmt.Errorf("%w: %v", ErrQueryFailed, err)}
}
