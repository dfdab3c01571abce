package sentinal_errors

import (
	"errors"
)

// Common errors
var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidInput       = errors.New("invalid input")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrNotConnected       = errors.New("not connected")
	ErrConnectTimeout     = errors.New("connect timeout")
)

// Timeline errors
var (
	ErrBusy         = errors.New("operation already in flight")
	ErrExhausted    = errors.New("history exhausted")
	ErrStaleResult  = errors.New("result belongs to an inactive conversation")
	ErrNotRetryable = errors.New("message is not in a retryable state")
	ErrNoActive     = errors.New("no active conversation")
)
