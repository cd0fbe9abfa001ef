package discord

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
	return New("tok", httpx.WithBaseURL(ts.URL), httpx.WithPacing(1000, 100), httpx.WithRetries(1, time.Millisecond))
}

func TestFetchAccount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bot tok", r.Header.Get("Authorization"))
		assert.Equal(t, "true", r.URL.Query().Get("with_counts"))
		w.Header().Set("X-RateLimit-Remaining", "4")
		w.Header().Set("X-RateLimit-Limit", "5")
		w.Header().Set("X-RateLimit-Reset", "1700000001.250")
		_, _ = w.Write([]byte(`{"id":"81384788765712384","name":"Discord API","approximate_member_count":2000,"approximate_presence_count":150}`))
	})
	acct, obs, err := c.FetchAccount(context.Background(), "81384788765712384")
	require.NoError(t, err)
	g := acct.(*provider.DiscordGuild)
	assert.EqualValues(t, 2000, g.Members)
	assert.Equal(t, 4, obs.Remaining)
	assert.Equal(t, time.Unix(1700000001, 250_000_000).UTC(), obs.ResetAt)
}

func TestFetchRecentPostsSkipsForbiddenChannels(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/guilds/1/channels":
			_, _ = w.Write([]byte(`[
				{"id":"c3","type":0,"name":"third","position":3},
				{"id":"v1","type":2,"name":"voice","position":0},
				{"id":"c1","type":0,"name":"general","position":1},
				{"id":"c2","type":5,"name":"news","position":2}
			]`))
		case "/channels/c1/messages":
			_, _ = w.Write([]byte(`[{"id":"m1","timestamp":"2024-03-01T10:00:00Z","reactions":[{"count":2},{"count":3}],"thread":{"message_count":4},"mentions":[{"id":"7"},{"id":"8"}],"mention_roles":["42"]}]`))
		case "/channels/c2/messages":
			w.WriteHeader(http.StatusForbidden)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	c.MaxChannels = 2

	posts, _, err := c.FetchRecentPosts(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, posts, 1)
	m := posts[0].(*provider.DiscordMessage)
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, "c1", m.ChannelID)
	assert.EqualValues(t, 5, m.Reactions)
	assert.EqualValues(t, 4, m.Replies)
	assert.EqualValues(t, 3, m.Mentions)
}

func TestUnknownGuildIsInvalidTarget(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Unknown Guild","code":10004}`))
	})
	_, _, err := c.FetchAccount(context.Background(), "999")
	var it *model.InvalidTargetError
	assert.True(t, errors.As(err, &it))
}
