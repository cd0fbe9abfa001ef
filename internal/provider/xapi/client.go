// Package xapi reads account and tweet metrics from the X API v2.
package xapi

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"socialpulse/internal/logging"
	"socialpulse/internal/model"
	"socialpulse/internal/provider"
	"socialpulse/internal/provider/httpx"
	"socialpulse/internal/ratelimit"
)

const DefaultBaseURL = "https://api.twitter.com/2"

// Client is a bearer-token client for X API v2.
type Client struct {
	http *httpx.Client
	// PostLimit bounds recent tweets per cycle (5..100).
	PostLimit int

	mu  sync.Mutex
	ids map[string]string // lowercased username -> user id
}

// New builds a client. Extra options are applied after the X defaults, so
// tests can point it at an httptest server with httpx.WithBaseURL.
func New(bearerToken string, opts ...httpx.Option) *Client {
	base := []httpx.Option{httpx.WithBearer(bearerToken), httpx.WithRateHeaders(httpx.XRateHeaders)}
	return &Client{
		http:      httpx.New(model.PlatformX, DefaultBaseURL, append(base, opts...)...),
		PostLimit: 10,
		ids:       make(map[string]string),
	}
}

func (c *Client) Platform() model.Platform { return model.PlatformX }

type apiError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Type   string `json:"type"`
}

type userResponse struct {
	Data struct {
		ID            string `json:"id"`
		Username      string `json:"username"`
		PublicMetrics struct {
			FollowersCount int64 `json:"followers_count"`
		} `json:"public_metrics"`
	} `json:"data"`
	Errors []apiError `json:"errors"`
}

type searchResponse struct {
	Meta struct {
		ResultCount int64 `json:"result_count"`
	} `json:"meta"`
}

type tweetsResponse struct {
	Data []struct {
		ID            string    `json:"id"`
		CreatedAt     time.Time `json:"created_at"`
		PublicMetrics struct {
			RetweetCount    int64 `json:"retweet_count"`
			ReplyCount      int64 `json:"reply_count"`
			LikeCount       int64 `json:"like_count"`
			QuoteCount      int64 `json:"quote_count"`
			ImpressionCount int64 `json:"impression_count"`
		} `json:"public_metrics"`
	} `json:"data"`
	Errors []apiError `json:"errors"`
}

// FetchAccount loads the user's public metrics and counts recent mentions.
func (c *Client) FetchAccount(ctx context.Context, handle string) (provider.AccountPayload, ratelimit.Observation, error) {
	handle = model.CleanHandle(model.PlatformX, handle)
	user, obs, err := c.lookupUser(ctx, handle)
	if err != nil {
		return nil, obs, err
	}

	mentions, mobs, err := c.countMentions(ctx, handle)
	obs = tighter(obs, mobs)
	if err != nil {
		var rl *model.RateLimitError
		if errors.As(err, &rl) || errors.Is(err, context.Canceled) {
			return nil, obs, err
		}
		// mentions are optional; the account metrics are still worth keeping
		logging.Warn("x_mentions_unavailable", map[string]any{"handle": handle, "error": err.Error()})
		mentions = 0
	}

	return &provider.XUser{
		ID:        user.Data.ID,
		Username:  user.Data.Username,
		Followers: user.Data.PublicMetrics.FollowersCount,
		Mentions:  mentions,
	}, obs, nil
}

// FetchRecentPosts returns the user's latest original tweets.
func (c *Client) FetchRecentPosts(ctx context.Context, handle string) ([]provider.PostPayload, ratelimit.Observation, error) {
	handle = model.CleanHandle(model.PlatformX, handle)
	id, obs, err := c.userID(ctx, handle)
	if err != nil {
		return nil, obs, err
	}
	q := url.Values{}
	q.Set("max_results", fmt.Sprint(clamp(c.PostLimit, 5, 100)))
	q.Set("tweet.fields", "created_at,public_metrics")
	q.Set("exclude", "retweets,replies")
	var raw tweetsResponse
	obs, err = c.http.GetJSON(ctx, "/users/"+url.PathEscape(id)+"/tweets", q, &raw)
	if err != nil {
		return nil, obs, httpx.Classify(model.PlatformX, handle, "user tweets", err)
	}
	out := make([]provider.PostPayload, 0, len(raw.Data))
	for _, d := range raw.Data {
		out = append(out, &provider.XTweet{
			ID:          d.ID,
			CreatedAt:   d.CreatedAt,
			Impressions: d.PublicMetrics.ImpressionCount,
			Likes:       d.PublicMetrics.LikeCount,
			Retweets:    d.PublicMetrics.RetweetCount,
			Replies:     d.PublicMetrics.ReplyCount,
			Quotes:      d.PublicMetrics.QuoteCount,
		})
	}
	return out, obs, nil
}

func (c *Client) lookupUser(ctx context.Context, handle string) (userResponse, ratelimit.Observation, error) {
	var raw userResponse
	if handle == "" {
		return raw, ratelimit.Observation{}, &model.InvalidTargetError{
			Target: model.Target{Platform: model.PlatformX}, Reason: "empty username",
		}
	}
	q := url.Values{}
	q.Set("user.fields", "public_metrics")
	obs, err := c.http.GetJSON(ctx, "/users/by/username/"+url.PathEscape(handle), q, &raw)
	if err != nil {
		return raw, obs, httpx.Classify(model.PlatformX, handle, "user lookup", err)
	}
	// X answers 200 with only an errors array for unknown or suspended users.
	if raw.Data.ID == "" && len(raw.Errors) > 0 {
		return raw, obs, &model.InvalidTargetError{
			Target: model.Target{Platform: model.PlatformX, Handle: handle},
			Reason: firstNonEmpty(raw.Errors[0].Detail, raw.Errors[0].Title),
		}
	}
	if raw.Data.ID != "" {
		c.mu.Lock()
		c.ids[strings.ToLower(handle)] = raw.Data.ID
		c.mu.Unlock()
	}
	return raw, obs, nil
}

func (c *Client) userID(ctx context.Context, handle string) (string, ratelimit.Observation, error) {
	c.mu.Lock()
	id, ok := c.ids[strings.ToLower(handle)]
	c.mu.Unlock()
	if ok {
		return id, ratelimit.Observation{}, nil
	}
	u, obs, err := c.lookupUser(ctx, handle)
	if err != nil {
		return "", obs, err
	}
	if u.Data.ID == "" {
		return "", obs, &model.InvalidTargetError{
			Target: model.Target{Platform: model.PlatformX, Handle: handle}, Reason: "user has no id",
		}
	}
	return u.Data.ID, obs, nil
}

// countMentions counts recent tweets that mention handle, excluding its own.
func (c *Client) countMentions(ctx context.Context, handle string) (int64, ratelimit.Observation, error) {
	q := url.Values{}
	q.Set("query", fmt.Sprintf("@%s -from:%s", handle, handle))
	q.Set("max_results", "100")
	var raw searchResponse
	obs, err := c.http.GetJSON(ctx, "/tweets/search/recent", q, &raw)
	if err != nil {
		return 0, obs, httpx.Classify(model.PlatformX, handle, "mentions search", err)
	}
	return raw.Meta.ResultCount, obs, nil
}

// tighter returns the observation with less headroom; unknown loses.
func tighter(a, b ratelimit.Observation) ratelimit.Observation {
	switch {
	case !a.Known():
		return b
	case !b.Known():
		return a
	case b.Remaining < a.Remaining:
		return b
	}
	return a
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return "unknown user"
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
