package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformedRecord a raw entry is missing a field needed to classify it
	ErrMalformedRecord = errors.New("malformed record")
	// ErrUnsupportedRecordType the raw type has no canonical mapping
	ErrUnsupportedRecordType = errors.New("unsupported record type")
	// ErrAmbiguousMatch a synthetic key matched a record with different values
	ErrAmbiguousMatch = errors.New("ambiguous synthetic key match")

	ErrSyncAlreadyInProgress = errors.New("sync already in progress")
	ErrInvalidTag            = errors.New("invalid tag")
	ErrNotFound              = errors.New("not found")
	ErrDuplicateKey          = errors.New("duplicate natural key")
	ErrInvalidCursor         = errors.New("invalid cursor")
	ErrInvalidFilter         = errors.New("invalid filter")

	// ErrTransient marks fetch failures worth retrying (timeouts, rate limits, 5xx)
	ErrTransient = errors.New("transient exchange error")
	// ErrPermanent marks fetch failures that abort a run (auth, schema)
	ErrPermanent = errors.New("permanent exchange error")
)

// RetryAfterError is a transient error carrying the delay the server asked for.
type RetryAfterError struct {
	After time.Duration
	Err   error
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %s: %v", e.After, e.Err)
}

func (e *RetryAfterError) Unwrap() error { return e.Err }

func (e *RetryAfterError) Is(target error) bool { return target == ErrTransient }

// SyncInProgressError is returned when another run already holds the account's run token.
type SyncInProgressError struct {
	Account string
	RunID   string
}

func (e *SyncInProgressError) Error() string {
	return fmt.Sprintf("account %s: %v (run %s)", e.Account, ErrSyncAlreadyInProgress, e.RunID)
}

func (e *SyncInProgressError) Unwrap() error { return ErrSyncAlreadyInProgress }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
