package recording

import (
	"errors"
	"fmt"
)

// TransientNetworkError represents a platform or transfer call that timed out or returned non-2xx.
// The job is aborted and picked up again by the next sweep.
type TransientNetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientNetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("network error during %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// SizeMismatchError is returned when the downloaded byte count differs from the reported size
type SizeMismatchError struct {
	Path     string
	Expected int64
	Actual   int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("size mismatch for %s: expected %d bytes, got %d", e.Path, e.Expected, e.Actual)
}

// ConfigurationError is fatal to the whole sweep and is detected before any job starts
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Field, e.Reason)
}

// UploadAcknowledgementError represents an unexpected response shape from storage or the publish platform
type UploadAcknowledgementError struct {
	Op     string
	Detail string
}

func (e *UploadAcknowledgementError) Error() string {
	return fmt.Sprintf("unexpected acknowledgement from %s: %s", e.Op, e.Detail)
}

// PersistenceError is a relational write failure after a successful object-store upload
type PersistenceError struct {
	Op        string
	MeetingID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("meeting %s: failed to %s: %v", e.MeetingID, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsConfigurationError reports whether err wraps a ConfigurationError
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// IsSizeMismatch reports whether err wraps a SizeMismatchError
func IsSizeMismatch(err error) bool {
	var sizeErr *SizeMismatchError
	return errors.As(err, &sizeErr)
}
