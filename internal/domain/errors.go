package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrRateLimited       = errors.New("rate limited")
	ErrTimeout           = errors.New("request timed out")
	ErrMalformedPrice    = errors.New("malformed outcome price")
	ErrMalformedOutcomes = errors.New("malformed outcome list")
	ErrLockHeld          = errors.New("lock already held")
)
