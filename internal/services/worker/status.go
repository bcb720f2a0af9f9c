package worker

import (
	"context"
	"errors"

	"github.com/TheMichaelB/axcrypt/internal/models"
)

// Status is the outcome of one unit of work.
type Status int

const (
	StatusSuccess Status = iota
	StatusCanceled
	StatusFileLocked
	StatusInvalidKey
	StatusIntegrity
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusCanceled:
		return "canceled"
	case StatusFileLocked:
		return "file_locked"
	case StatusInvalidKey:
		return "invalid_key"
	case StatusIntegrity:
		return "integrity"
	default:
		return "failed"
	}
}

// StatusOf classifies err.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StatusCanceled
	case errors.Is(err, models.ErrFileLocked), errors.Is(err, models.ErrSharingViolation):
		return StatusFileLocked
	case errors.Is(err, models.ErrPassphraseInvalid):
		return StatusInvalidKey
	case errors.Is(err, models.ErrIntegrity):
		return StatusIntegrity
	default:
		return StatusFailed
	}
}

// Result reports one finished unit of work.
type Result struct {
	Name   string
	Status Status
	Err    error
}

// OK reports whether the work succeeded.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}
