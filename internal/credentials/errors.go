package credentials

import "errors"

var (
	// ErrStorageFailure marks any persistence I/O or decoding failure.
	// Read paths treat it as "credential absent"; write paths surface it.
	ErrStorageFailure = errors.New("credentials.storage_failure")
	// ErrMissingBackend rejects a Store without a key/value engine.
	ErrMissingBackend = errors.New("credentials.missing_backend")
	// ErrEmptyToken indicates an attempt to persist a blank token.
	ErrEmptyToken = errors.New("credentials.empty_token")
)

// StorageError describes a failed operation against the key/value engine.
type StorageError struct {
	Operation string
	Key       string
	Cause     error
}

func (storageError *StorageError) Error() string {
	message := "credentials." + storageError.Operation
	if storageError.Key != "" {
		message += "." + storageError.Key
	}
	if storageError.Cause != nil {
		message += ": " + storageError.Cause.Error()
	}
	return message
}

// Unwrap returns the underlying cause.
func (storageError *StorageError) Unwrap() error {
	return storageError.Cause
}

// Is reports StorageError as ErrStorageFailure.
func (storageError *StorageError) Is(target error) bool {
	return target == ErrStorageFailure
}
