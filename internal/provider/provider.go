// Package provider defines what the engine needs from a social platform and
// the raw payload shapes each platform hands back.
package provider

import (
	"context"

	"socialpulse/internal/model"
	"socialpulse/internal/ratelimit"
)

// MetricsProvider fetches raw account and post data for one platform.
// Errors are classified into the model error taxonomy. The Observation is the
// budget reported by the last response and may be zero when unknown.
type MetricsProvider interface {
	Platform() model.Platform
	FetchAccount(ctx context.Context, handle string) (AccountPayload, ratelimit.Observation, error)
	FetchRecentPosts(ctx context.Context, handle string) ([]PostPayload, ratelimit.Observation, error)
}

// Set maps each platform to its provider.
type Set map[model.Platform]MetricsProvider

// Add registers p under its own platform.
func (s Set) Add(p MetricsProvider) { s[p.Platform()] = p }
