package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialpulse/internal/model"
)

func newTestClient(url string) *Client {
	return New(model.PlatformX, url,
		WithBearer("test"),
		WithPacing(1000, 100),
		WithRetries(3, time.Millisecond),
		WithRateHeaders(XRateHeaders),
	)
}

func TestGetJSONRetriesServerErrors(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test", r.Header.Get("Authorization"))
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("x-rate-limit-remaining", "14")
		w.Header().Set("x-rate-limit-limit", "15")
		w.Header().Set("x-rate-limit-reset", "1700000900")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()

	var out struct{ OK bool }
	obs, err := newTestClient(ts.URL).GetJSON(context.Background(), "/users/me", nil, &out)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.EqualValues(t, 2, atomic.LoadInt32(&attempts))
	assert.Equal(t, 14, obs.Remaining)
	assert.Equal(t, 15, obs.Limit)
	assert.Equal(t, time.Unix(1700000900, 0).UTC(), obs.ResetAt)
}

func TestGetJSONDoesNotRetry429(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.Header().Set("x-rate-limit-remaining", "0")
		w.Header().Set("x-rate-limit-reset", "1700000900")
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).GetJSON(context.Background(), "/users/me", nil, nil)
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&attempts))

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 30*time.Second, se.RetryAfter)

	var rl *model.RateLimitError
	require.True(t, errors.As(Classify(model.PlatformX, "alice", "users", err), &rl))
	assert.True(t, rl.HasBudget())
	assert.Equal(t, 0, rl.Remaining)
	assert.Equal(t, time.Unix(1700000900, 0).UTC(), rl.ResetAt)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want any
	}{
		{&StatusError{StatusCode: 404}, &model.InvalidTargetError{}},
		{&StatusError{StatusCode: 401}, &model.InvalidTargetError{}},
		{&StatusError{StatusCode: 503}, &model.TransientProviderError{}},
		{&StatusError{StatusCode: 429}, &model.RateLimitError{}},
		{errors.New("connection reset"), &model.TransientProviderError{}},
	}
	for _, c := range cases {
		got := Classify(model.PlatformDiscord, "123", "guild", c.err)
		assert.IsType(t, c.want, got, "%v", c.err)
	}
	assert.ErrorIs(t, Classify(model.PlatformX, "a", "op", context.Canceled), context.Canceled)
	assert.Nil(t, Classify(model.PlatformX, "a", "op", nil))
}

func TestBreakerOpensOnRepeatedServerErrors(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := New(model.PlatformDiscord, ts.URL, WithPacing(1000, 100), WithRetries(1, time.Millisecond))
	for i := 0; i < 5; i++ {
		_, err := c.GetJSON(context.Background(), "/guilds/1", nil, nil)
		require.Error(t, err)
	}
	_, err := c.GetJSON(context.Background(), "/guilds/1", nil, nil)
	require.Error(t, err)
	assert.EqualValues(t, 5, atomic.LoadInt32(&attempts))

	var te *model.TransientProviderError
	assert.True(t, errors.As(Classify(model.PlatformDiscord, "1", "guild", err), &te))
}

func TestEndpointLabel(t *testing.T) {
	assert.Equal(t, "/users/by", endpointLabel("/users/by/username/alice"))
	assert.Equal(t, "/getChat", endpointLabel("/getChat"))
}
