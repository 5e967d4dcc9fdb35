package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrQuotaExceeded     = errors.New("daily submission quota exceeded")
	ErrInvalidSelection  = errors.New("invalid variant selection")
	ErrAlreadyPublished  = errors.New("job already published")
	ErrStaleRound        = errors.New("round superseded")
	ErrInvalidTransition = errors.New("invalid status transition")
)
