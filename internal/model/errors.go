package model

import (
	"fmt"
	"time"
)

// TransientProviderError is a network or server fault worth retrying.
type TransientProviderError struct {
	Op  string
	Err error
}

func (e *TransientProviderError) Error() string {
	return fmt.Sprintf("transient provider error: %s: %v", e.Op, e.Err)
}

func (e *TransientProviderError) Unwrap() error { return e.Err }

// RateLimitError is a throttling signal from a provider. Remaining and ResetAt
// are only meaningful when HasBudget reports true. RetryAfter is a relative
// hint some providers send instead of a reset instant.
type RateLimitError struct {
	Provider   Platform
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.HasBudget() {
		return fmt.Sprintf("%s rate limited: remaining=%d reset_at=%s", e.Provider, e.Remaining, e.ResetAt.UTC().Format(time.RFC3339))
	}
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limited: retry_after=%s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limited", e.Provider)
}

// HasBudget reports whether the signal carried a usable reset time.
func (e *RateLimitError) HasBudget() bool { return !e.ResetAt.IsZero() }

// NormalizationError means the provider answered but the account payload is
// missing or lacks its identity, so nothing from the cycle can be mapped.
type NormalizationError struct {
	Platform Platform
	Reason   string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s: %s", e.Platform, e.Reason)
}

// InvalidTargetError is terminal for the target: unknown account or rejected
// credentials.
type InvalidTargetError struct {
	Target Target
	Reason string
	Err    error
}

func (e *InvalidTargetError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid target %s: %s: %v", e.Target, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid target %s: %s", e.Target, e.Reason)
}

func (e *InvalidTargetError) Unwrap() error { return e.Err }

// StorageError wraps any persistence fault. Callers must not assume partial success.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }
