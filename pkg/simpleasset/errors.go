package simpleasset

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Error kinds. Pipeline errors wrap exactly one of these so callers can
// classify failures with errors.Is.
var (
	// ErrInvalidInput indicates a malformed path, URL, UUID or request.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSecurityViolation indicates path traversal, a disallowed address
	// space or a content signature mismatch.
	ErrSecurityViolation = errors.New("security violation")

	// ErrTransientIO indicates a fetch timeout or an unavailable store.
	// The operation may be retried by the caller.
	ErrTransientIO = errors.New("transient i/o failure")

	// ErrUndecodable indicates the image bytes could not be decoded.
	ErrUndecodable = errors.New("undecodable image")

	// ErrTooLarge indicates the input exceeds the accepted size ceiling.
	ErrTooLarge = errors.New("input exceeds size limit")
)

// Storage errors
var (
	// ErrObjectNotFound indicates an object was not found
	ErrObjectNotFound = errors.New("object not found")

	// ErrObjectExists indicates a non-upsert upload hit an existing object
	ErrObjectExists = errors.New("object already exists")
)

// IsRetryable reports whether err is worth retrying by the caller.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientIO)
}

// IsSecurityViolation reports whether err was caused by hostile input.
func IsSecurityViolation(err error) bool {
	return errors.Is(err, ErrSecurityViolation)
}

// IngestError represents a failed ingestion step
type IngestError struct {
	Op     string
	Source string
	Kind   error
	Err    error
}

func (e *IngestError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("ingest %s failed for %s: %v", e.Op, e.Source, e.Kind)
	}
	return fmt.Sprintf("ingest %s failed for %s: %v: %v", e.Op, e.Source, e.Kind, e.Err)
}

func (e *IngestError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// StorageError represents an error related to storage operations
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// RemoveError reports the paths a bulk Remove could not delete. Paths not
// listed in Failed were deleted or were already absent.
type RemoveError struct {
	Backend string
	Failed  map[string]error
}

// NewRemoveError returns an empty RemoveError for backend
func NewRemoveError(backend string) *RemoveError {
	return &RemoveError{Backend: backend, Failed: make(map[string]error)}
}

// Add records that path could not be deleted
func (e *RemoveError) Add(path string, err error) {
	e.Failed[path] = err
}

// ErrOrNil returns e when at least one path failed, nil otherwise.
func (e *RemoveError) ErrOrNil() error {
	if len(e.Failed) == 0 {
		return nil
	}
	return e
}

func (e *RemoveError) Error() string {
	paths := slices.Sorted(maps.Keys(e.Failed))
	if len(paths) == 0 {
		return fmt.Sprintf("storage operation remove failed on backend %s", e.Backend)
	}
	return fmt.Sprintf("storage operation remove failed for %d objects on backend %s: %s: %v",
		len(paths), e.Backend, paths[0], e.Failed[paths[0]])
}

func (e *RemoveError) Unwrap() []error {
	paths := slices.Sorted(maps.Keys(e.Failed))
	errs := make([]error, 0, len(paths))
	for _, p := range paths {
		errs = append(errs, e.Failed[p])
	}
	return errs
}
