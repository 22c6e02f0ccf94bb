package kvstore

import "errors"

var (
	// ErrUnsupportedScheme indicates that no backend is registered for the store URL scheme.
	ErrUnsupportedScheme = errors.New("kvstore.unsupported_scheme")
	// ErrEmptyKey indicates that an operation was attempted with a blank key.
	ErrEmptyKey = errors.New("kvstore.empty_key")
	// ErrClosed indicates that the store has been closed.
	ErrClosed = errors.New("kvstore.closed")

	errUnsupportedNoScheme = errors.New("kvstore.unsupported_no_scheme")
	errEmptyDatabaseURL    = errors.New("kvstore.empty_database_url")
	errSQLiteEmptyPath     = errors.New("kvstore.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("kvstore.sqlite.invalid_url")
)
