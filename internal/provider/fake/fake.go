// Package fake provides a scripted MetricsProvider for tests and a
// deterministic demo generator for the "mock" platform.
package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"socialpulse/internal/model"
	"socialpulse/internal/provider"
	"socialpulse/internal/ratelimit"
)

// Step is one scripted answer. Exactly what a real provider would return.
type Step struct {
	Account     provider.AccountPayload
	Posts       []provider.PostPayload
	Observation ratelimit.Observation
	Err         error
	// PostsErr fails the posts call of an otherwise successful step.
	PostsErr error
}

// Provider replays steps in order, one per FetchAccount call; the following
// FetchRecentPosts call answers from the same step. When steps run out the
// last one repeats.
type Provider struct {
	platform model.Platform

	mu      sync.Mutex
	steps   []Step
	pos     int
	current Step
	calls   int
	// Block, when set, makes fetches wait for ctx to be done.
	Block bool
}

func New(platform model.Platform, steps ...Step) *Provider {
	return &Provider{platform: platform, steps: steps}
}

func (p *Provider) Platform() model.Platform { return p.platform }

// Calls returns how many fetch calls were made.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *Provider) FetchAccount(ctx context.Context, handle string) (provider.AccountPayload, ratelimit.Observation, error) {
	p.mu.Lock()
	p.calls++
	if len(p.steps) == 0 {
		p.mu.Unlock()
		return nil, ratelimit.Observation{}, fmt.Errorf("fake: no steps for %s", handle)
	}
	if p.pos < len(p.steps) {
		p.current = p.steps[p.pos]
		p.pos++
	}
	st, block := p.current, p.Block
	p.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ratelimit.Observation{}, ctx.Err()
	}
	if st.Err != nil {
		return nil, st.Observation, st.Err
	}
	return st.Account, st.Observation, nil
}

func (p *Provider) FetchRecentPosts(ctx context.Context, handle string) ([]provider.PostPayload, ratelimit.Observation, error) {
	p.mu.Lock()
	p.calls++
	st := p.current
	p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, ratelimit.Observation{}, err
	}
	if st.PostsErr != nil {
		return nil, st.Observation, st.PostsErr
	}
	return st.Posts, st.Observation, nil
}

// Demo generates slowly growing, deterministic metrics per handle so the
// whole pipeline can run without credentials.
type Demo struct {
	clock clockwork.Clock
	start time.Time
}

func NewDemo(clock clockwork.Clock) *Demo {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Demo{clock: clock, start: clock.Now()}
}

func (d *Demo) Platform() model.Platform { return model.PlatformMock }

func (d *Demo) FetchAccount(ctx context.Context, handle string) (provider.AccountPayload, ratelimit.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, ratelimit.Observation{}, err
	}
	seed := seedOf(handle)
	hours := int64(d.clock.Since(d.start) / time.Hour)
	return &provider.GenericAccount{
		ID:            fmt.Sprintf("mock-%d", seed%1_000_000),
		Handle:        handle,
		Followers:     1000 + seed%500 + hours*(1+seed%7),
		ProfileVisits: 20 + seed%30,
		LinkClicks:    seed % 11,
		Mentions:      seed % 5,
	}, d.observation(), nil
}

func (d *Demo) FetchRecentPosts(ctx context.Context, handle string) ([]provider.PostPayload, ratelimit.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, ratelimit.Observation{}, err
	}
	seed := seedOf(handle)
	now := d.clock.Now().UTC().Truncate(time.Hour)
	out := make([]provider.PostPayload, 0, 3)
	for i := int64(0); i < 3; i++ {
		out = append(out, &provider.GenericPost{
			ID:          fmt.Sprintf("%s-%d", handle, i),
			PostedAt:    now.Add(-time.Duration(i+1) * 6 * time.Hour),
			Impressions: 200 + (seed+i*37)%300,
			Engagements: 5 + (seed+i*13)%20,
			Shares:      (seed + i) % 4,
		})
	}
	return out, d.observation(), nil
}

func (d *Demo) observation() ratelimit.Observation {
	return ratelimit.Observation{Remaining: 100, Limit: 100, ResetAt: d.clock.Now().Add(15 * time.Minute)}
}

func seedOf(s string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum32())
}
