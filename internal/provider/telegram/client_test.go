package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialpulse/internal/model"
	"socialpulse/internal/provider"
	"socialpulse/internal/provider/httpx"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return New("123:abc", httpx.WithBaseURL(ts.URL), httpx.WithPacing(1000, 100), httpx.WithRetries(1, time.Millisecond))
}

func TestFetchAccount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "@durov", r.URL.Query().Get("chat_id"))
		switch r.URL.Path {
		case "/getChat":
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":-1001006503122,"type":"channel","title":"Durov's Channel","username":"durov"}}`))
		case "/getChatMemberCount":
			_, _ = w.Write([]byte(`{"ok":true,"result":812345}`))
		}
	})
	acct, obs, err := c.FetchAccount(context.Background(), "https://t.me/durov")
	require.NoError(t, err)
	assert.False(t, obs.Known())
	ch := acct.(*provider.TelegramChat)
	assert.Equal(t, "-1001006503122", ch.ID)
	assert.EqualValues(t, 812345, ch.Members)

	posts, _, err := c.FetchRecentPosts(context.Background(), "durov")
	require.NoError(t, err)
	assert.Empty(t, posts)
}

func TestChatNotFoundIsInvalidTarget(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	})
	_, _, err := c.FetchAccount(context.Background(), "nobody")
	var it *model.InvalidTargetError
	require.True(t, errors.As(err, &it))
	assert.Contains(t, it.Reason, "chat not found")
}

func TestTooManyRequestsCarriesRetryAfter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 17","parameters":{"retry_after":17}}`))
	})
	_, _, err := c.FetchAccount(context.Background(), "durov")
	var rl *model.RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 17*time.Second, rl.RetryAfter)
	assert.False(t, rl.HasBudget())
}

func TestChatRef(t *testing.T) {
	assert.Equal(t, "-1001006503122", chatRef("-1001006503122"))
	assert.Equal(t, "@durov", chatRef("durov"))
}
