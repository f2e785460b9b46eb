package fetcher

import (
	"errors"
	"fmt"
)

// Permanent per-profile failures, never retried
var (
	ErrNotFound   = errors.New("profile not found")
	ErrPrivate    = errors.New("profile is private")
	ErrRestricted = errors.New("profile is restricted")
)

// Transient failures, retried with backoff
var (
	ErrRateLimited = errors.New("rate limited")
	ErrTimeout     = errors.New("request timed out")
	ErrTransport   = errors.New("transport error")
)

// Fatal conditions that abort the run before fetching
var (
	ErrCredentialsRejected = errors.New("credentials rejected")
	ErrNoProxies           = errors.New("no proxies available")
)

// ExhaustedError is returned when every retry attempt failed transiently
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err is a per-profile failure that must not be retried
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrPrivate) || errors.Is(err, ErrRestricted)
}

// IsTransient reports whether a retry may succeed
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrTransport)
}

// IsFatal reports whether err should stop the whole run
func IsFatal(err error) bool {
	return errors.Is(err, ErrCredentialsRejected) || errors.Is(err, ErrNoProxies)
}
