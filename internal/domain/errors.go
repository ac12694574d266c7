package domain

import (
	"errors"
	"fmt"
)

// ErrorCode is a machine-readable error classification.
type ErrorCode string

const (
	CodeImageProcessing ErrorCode = "IMAGE_PROCESSING_ERROR"
	CodeCompression     ErrorCode = "COMPRESSION_ERROR"
	CodeImageInfo       ErrorCode = "IMAGE_INFO_ERROR"
	CodeAIAnalysis      ErrorCode = "AI_ANALYSIS_ERROR"
	CodeStorage         ErrorCode = "STORAGE_ERROR"
	CodeQueue           ErrorCode = "QUEUE_ERROR"
	CodeJobNotFound     ErrorCode = "JOB_NOT_FOUND"
	CodeInvalidJob      ErrorCode = "INVALID_JOB_DATA"
)

// Error is a typed domain error carrying a code and a recoverability flag.
// Recoverable errors are eligible for retry by the queue layer; non-recoverable
// errors are fatal and force the job to FAILED immediately.
type Error struct {
	Code        ErrorCode
	Message     string
	Recoverable bool
	Err         error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two domain errors by code so errors.Is works with sentinel values.
func (e *Error) Is(target error) bool {
	var de *Error
	if errors.As(target, &de) {
		return e.Code == de.Code
	}
	return false
}

// NewError creates a typed domain error.
func NewError(code ErrorCode, message string, recoverable bool, cause error) *Error {
	return &Error{Code: code, Message: message, Recoverable: recoverable, Err: cause}
}

// ErrJobNotFound signals that a referenced job id does not exist. It is kept
// distinct from processing errors so callers can tell "never existed" apart
// from "failed to process".
var ErrJobNotFound = &Error{Code: CodeJobNotFound, Message: "job not found", Recoverable: false}

// IsRecoverable reports whether err may be retried. Untyped errors default to
// recoverable so transient I/O failures stay inside the retry window; only a
// typed error can declare itself fatal.
func IsRecoverable(err error) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Recoverable
	}
	return err != nil
}

// IsNotFound reports whether err is a job-not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}

// CodeOf extracts the domain error code from err, or empty when untyped.
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
