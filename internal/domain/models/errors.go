package models

import (
	"errors"
	"fmt"
)

var (
	// ErrAssetNotFound is returned when a symbol has no stored document.
	ErrAssetNotFound = errors.New("asset not found")
	// ErrAppendConflict is returned when stored history already reaches the bars being appended.
	ErrAppendConflict = errors.New("dayline append conflict")
	// ErrCycleLocked is returned when another process holds the sync lease.
	ErrCycleLocked = errors.New("sync cycle lease held elsewhere")
)

// UpstreamError is a failed exchange call after retries were exhausted or
// after a permanent (non-retryable) failure.
type UpstreamError struct {
	Op        string
	Symbol    string
	Attempts  int
	Transient bool
	Err       error
}

func (e *UpstreamError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("upstream %s %s failed after %d attempt(s): %v", e.Op, e.Symbol, e.Attempts, e.Err)
	}
	return fmt.Sprintf("upstream %s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Retryable reports whether the last failure was transient.
func (e *UpstreamError) Retryable() bool { return e.Transient }

// StorageError is a failed document store operation.
type StorageError struct {
	Op     string
	Symbol string
	Err    error
}

func (e *StorageError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("storage %s %s: %v", e.Op, e.Symbol, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// AssetSyncError wraps an upstream or storage failure raised while syncing one asset.
type AssetSyncError struct {
	Symbol string
	Err    error
}

func (e *AssetSyncError) Error() string {
	return fmt.Sprintf("sync %s: %v", e.Symbol, e.Err)
}

func (e *AssetSyncError) Unwrap() error { return e.Err }
