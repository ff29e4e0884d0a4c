package core

import (
	"errors"
	"fmt"
)

// ConfigurationError reports an invalid structure setting or process configuration.
// It is fatal at startup and never retried.
type ConfigurationError struct {
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Message, e.Err)
	}
	return "configuration error: " + e.Message
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ValidationError reports malformed query parameters.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid query: " + e.Message
	}
	return fmt.Sprintf("invalid query: %s: %s", e.Field, e.Message)
}

// IndexUnavailableError means the partition index could not be reached.
// Callers may retry with backoff; it is never treated as an empty result.
type IndexUnavailableError struct {
	Index string
	Err   error
}

func (e *IndexUnavailableError) Error() string {
	return fmt.Sprintf("partition index %s unavailable: %v", e.Index, e.Err)
}

func (e *IndexUnavailableError) Unwrap() error { return e.Err }

// PartialStatisticsError records a single variable whose observation count failed.
type PartialStatisticsError struct {
	Variable string
	Err      error
}

func (e *PartialStatisticsError) Error() string {
	return fmt.Sprintf("observation count for %s failed: %v", e.Variable, e.Err)
}

func (e *PartialStatisticsError) Unwrap() error { return e.Err }

// ScanEngineError wraps an opaque failure from the scan engine. Missing is set
// when the referenced partition does not exist, which counts as zero rows.
type ScanEngineError struct {
	Path    string
	Missing bool
	Err     error
}

func (e *ScanEngineError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("scan %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("scan: %v", e.Err)
}

func (e *ScanEngineError) Unwrap() error { return e.Err }

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ErrConfiguration creates a ConfigurationError with a formatted message.
func ErrConfiguration(err error, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...), Err: err}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

func IsIndexUnavailable(err error) bool {
	var target *IndexUnavailableError
	return errors.As(err, &target)
}

// IsMissingPartition reports whether err is a scan failure caused by a
// partition path that does not exist.
func IsMissingPartition(err error) bool {
	var target *ScanEngineError
	return errors.As(err, &target) && target.Missing
}
