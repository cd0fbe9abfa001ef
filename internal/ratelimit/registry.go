package ratelimit

import (
	"sync"

	"github.com/jonboulle/clockwork"
)

// Registry hands out exactly one Limiter per provider.
type Registry struct {
	cfg   Config
	clock clockwork.Clock

	mu       sync.Mutex
	limiters map[string]*Limiter
}

func NewRegistry(cfg Config, clock clockwork.Clock) *Registry {
	return &Registry{cfg: cfg, clock: clock, limiters: make(map[string]*Limiter)}
}

// For returns the limiter for provider, creating it on first use.
func (r *Registry) For(provider string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[provider]; ok {
		return l
	}
	l := New(provider, r.cfg, r.clock)
	r.limiters[provider] = l
	return l
}
