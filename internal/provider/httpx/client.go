// Package httpx is the shared HTTP transport for REST providers: request
// pacing, retries of network and server faults, a circuit breaker, and
// rate-limit header parsing.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"socialpulse/internal/metrics"
	"socialpulse/internal/model"
	"socialpulse/internal/ratelimit"
)

// RateHeaders names the response headers carrying budget data.
// Reset is parsed as unix seconds (fractions allowed).
type RateHeaders struct {
	Remaining string
	Limit     string
	Reset     string
}

var (
	XRateHeaders       = RateHeaders{Remaining: "x-rate-limit-remaining", Limit: "x-rate-limit-limit", Reset: "x-rate-limit-reset"}
	DiscordRateHeaders = RateHeaders{Remaining: "X-RateLimit-Remaining", Limit: "X-RateLimit-Limit", Reset: "X-RateLimit-Reset"}
)

// StatusError is any response with status >= 400.
type StatusError struct {
	StatusCode  int
	Body        []byte
	Observation ratelimit.Observation
	RetryAfter  time.Duration
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, body)
}

// Client is a small JSON client bound to one provider's API root.
type Client struct {
	platform    model.Platform
	baseURL     string
	httpClient  *http.Client
	pacer       *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	maxAttempts int
	baseBackoff time.Duration
	authHeader  string
	authValue   string
	headers     RateHeaders
}

type Option func(*Client)

func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") } }

func WithBearer(token string) Option { return WithAuthHeader("Authorization", "Bearer "+token) }

func WithAuthHeader(name, value string) Option {
	return func(c *Client) { c.authHeader, c.authValue = name, value }
}

// WithPacing caps outgoing requests at rps with the given burst.
func WithPacing(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 && burst > 0 {
			c.pacer = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

func WithRetries(maxAttempts int, baseBackoff time.Duration) Option {
	return func(c *Client) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		if baseBackoff > 0 {
			c.baseBackoff = baseBackoff
		}
	}
}

func WithRateHeaders(h RateHeaders) Option { return func(c *Client) { c.headers = h } }

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

// New builds a client for platform rooted at baseURL.
func New(platform model.Platform, baseURL string, opts ...Option) *Client {
	c := &Client{
		platform:    platform,
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 20 * time.Second},
		pacer:       rate.NewLimiter(rate.Limit(1), 2),
		maxAttempts: 3,
		baseBackoff: 500 * time.Millisecond,
	}
	for _, o := range opts {
		o(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    string(platform),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Only faults of the provider itself count against the breaker.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.StatusCode < 500
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return c
}

// Platform returns the platform this client talks to.
func (c *Client) Platform() model.Platform { return c.platform }

// GetJSON performs GET baseURL+path?query and decodes the body into out.
// The returned Observation is parsed from the response headers, including
// on error responses.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) (ratelimit.Observation, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return ratelimit.Observation{}, err
	}
	if c.authValue != "" {
		req.Header.Set(c.authHeader, c.authValue)
	}
	req.Header.Set("Accept", "application/json")
	if err := c.pacer.Wait(ctx); err != nil {
		return ratelimit.Observation{}, err
	}

	var obs ratelimit.Observation
	_, err = c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.doWithRetry(ctx, req, path)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		obs = c.observe(resp.Header)
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return nil, &StatusError{
				StatusCode:  resp.StatusCode,
				Body:        body,
				Observation: obs,
				RetryAfter:  parseRetryAfter(resp.Header.Get("Retry-After")),
			}
		}
		if out == nil {
			return nil, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		return nil, nil
	})
	return obs, err
}

// doWithRetry retries network errors and 5xx with jittered exponential
// backoff. 429 is returned as is; waiting on it belongs to the caller's
// rate limiter.
func (c *Client) doWithRetry(ctx context.Context, req *http.Request, endpoint string) (*http.Response, error) {
	backoff := c.baseBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			metrics.IncAPIRetry(string(c.platform) + " " + endpointLabel(endpoint))
			if err := sleep(ctx, jitter(backoff)); err != nil {
				return nil, err
			}
			backoff *= 2
		}
		resp, err := c.httpClient.Do(req.Clone(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 && attempt < c.maxAttempts {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *Client) observe(h http.Header) ratelimit.Observation {
	if c.headers.Reset == "" {
		return ratelimit.Observation{}
	}
	reset := h.Get(c.headers.Reset)
	if reset == "" {
		return ratelimit.Observation{}
	}
	at, ok := parseUnix(reset)
	if !ok {
		return ratelimit.Observation{}
	}
	obs := ratelimit.Observation{ResetAt: at}
	obs.Remaining, _ = strconv.Atoi(h.Get(c.headers.Remaining))
	obs.Limit, _ = strconv.Atoi(h.Get(c.headers.Limit))
	return obs
}

// parseUnix parses "1700000001" or "1700000001.250" as unix seconds.
func parseUnix(v string) (time.Time, bool) {
	whole, frac, _ := strings.Cut(strings.TrimSpace(v), ".")
	secs, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	var nanos int64
	if frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		frac += strings.Repeat("0", 9-len(frac))
		if nanos, err = strconv.ParseInt(frac, 10, 64); err != nil {
			return time.Time{}, false
		}
	}
	return time.Unix(secs, nanos).UTC(), true
}

// endpointLabel keeps metric cardinality low by dropping path segments that
// look like ids or handles.
func endpointLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return "/" + strings.Join(parts, "/")
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// jitter spreads d by +/-20%.
func jitter(d time.Duration) time.Duration {
	j := time.Duration(float64(d) * 0.2)
	if j <= 0 {
		return d
	}
	return d - j + time.Duration(rand.Int64N(int64(2*j)))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
