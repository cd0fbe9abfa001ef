package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sony/gobreaker"

	"socialpulse/internal/model"
)

// Classify maps a transport error onto the model error taxonomy.
// Cancellation passes through untouched so callers can tell it apart.
func Classify(platform model.Platform, handle, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &model.TransientProviderError{Op: op, Err: err}
	}
	var se *StatusError
	if !errors.As(err, &se) {
		return &model.TransientProviderError{Op: op, Err: err}
	}
	switch {
	case se.StatusCode == http.StatusTooManyRequests:
		return RateLimited(platform, se)
	case se.StatusCode == http.StatusBadRequest,
		se.StatusCode == http.StatusUnauthorized,
		se.StatusCode == http.StatusForbidden,
		se.StatusCode == http.StatusNotFound:
		return &model.InvalidTargetError{
			Target: model.Target{Platform: platform, Handle: handle},
			Reason: fmt.Sprintf("%s rejected with status %d", op, se.StatusCode),
			Err:    se,
		}
	default:
		return &model.TransientProviderError{Op: op, Err: se}
	}
}

// RateLimited builds a RateLimitError from a 429 response.
func RateLimited(platform model.Platform, se *StatusError) *model.RateLimitError {
	rl := &model.RateLimitError{Provider: platform, RetryAfter: se.RetryAfter}
	if se.Observation.Known() {
		rl.Remaining = se.Observation.Remaining
		rl.ResetAt = se.Observation.ResetAt
	}
	return rl
}
