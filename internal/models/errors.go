package models

import (
	"context"
	"errors"
	"fmt"
)

// Error codes for structured error handling.
const (
	ErrCodeFormat     = "FORMAT_ERROR"
	ErrCodePassphrase = "PASSPHRASE_INVALID"
	ErrCodeIntegrity  = "INTEGRITY_ERROR"
	ErrCodeLocked     = "FILE_LOCKED"
	ErrCodeCanceled   = "CANCELED"
	ErrCodeUsage      = "USAGE_ERROR"
	ErrCodeStorage    = "STORAGE_ERROR"
	ErrCodeState      = "STATE_ERROR"
	ErrCodeUnknown    = "UNKNOWN_ERROR"
)

// Sentinel errors
var (
	ErrPassphraseInvalid  = errors.New("passphrase invalid")
	ErrIntegrity          = errors.New("integrity validation failed")
	ErrFileLocked         = errors.New("file is locked")
	ErrSharingViolation   = errors.New("file is in use by another process")
	ErrUsage              = errors.New("invalid usage")
	ErrUnsupportedVersion = errors.New("file format version is too new")
	ErrBadMagic           = errors.New("magic guid not found")
	ErrFileNotFound       = errors.New("file not found")
	ErrWipeIncomplete     = errors.New("file overwritten but not removed")
	ErrCanceled           = context.Canceled
)

// FormatError reports a malformed container.
type FormatError struct {
	Offset int64
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("format error at offset %d: %s: %v", e.Offset, e.Reason, e.Err)
	}
	return fmt.Sprintf("format error at offset %d: %s", e.Offset, e.Reason)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// DecryptError represents a decryption failure.
type DecryptError struct {
	Path   string
	Reason string
	Err    error
}

func (e *DecryptError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("decrypt %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("decrypt: %s: %v", e.Reason, e.Err)
}

func (e *DecryptError) Unwrap() error {
	return e.Err
}

// IntegrityError represents an HMAC mismatch.
type IntegrityError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("integrity check failed: expected %s, got %s", e.Expected, e.Actual)
	}
	return fmt.Sprintf("integrity check failed for %s: expected %s, got %s",
		e.Path, e.Expected, e.Actual)
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrity
}

// FileOperationError wraps a failed file system call.
type FileOperationError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileOperationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileOperationError) Unwrap() error {
	return e.Err
}

// ErrorCode classifies err for structured output.
func ErrorCode(err error) string {
	var formatErr *FormatError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return ErrCodeCanceled
	case errors.Is(err, ErrPassphraseInvalid):
		return ErrCodePassphrase
	case errors.Is(err, ErrIntegrity):
		return ErrCodeIntegrity
	case errors.Is(err, ErrFileLocked), errors.Is(err, ErrSharingViolation):
		return ErrCodeLocked
	case errors.Is(err, ErrUsage):
		return ErrCodeUsage
	case errors.As(err, &formatErr), errors.Is(err, ErrBadMagic), errors.Is(err, ErrUnsupportedVersion):
		return ErrCodeFormat
	default:
		var opErr *FileOperationError
		if errors.As(err, &opErr) {
			return ErrCodeStorage
		}
		return ErrCodeUnknown
	}
}
