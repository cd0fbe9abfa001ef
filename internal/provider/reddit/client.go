// Package reddit reads subreddit size and new posts through go-reddit.
package reddit

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/loganintech/go-reddit/v2/reddit"
	"golang.org/x/time/rate"

	"socialpulse/internal/model"
	"socialpulse/internal/provider"
	"socialpulse/internal/ratelimit"
)

// Credentials for a reddit script app. An empty ID selects read-only access.
type Credentials struct {
	ID        string
	Secret    string
	Username  string
	Password  string
	UserAgent string
}

type Client struct {
	api     *reddit.Client
	limiter *rate.Limiter
	// PostLimit bounds new posts per cycle.
	PostLimit int
}

// New builds a client, authenticated when creds carry an app id.
func New(creds Credentials, opts ...reddit.Opt) (*Client, error) {
	if creds.UserAgent != "" {
		opts = append(opts, reddit.WithUserAgent(creds.UserAgent))
	}
	var (
		api *reddit.Client
		err error
	)
	if creds.ID == "" {
		api, err = reddit.NewReadonlyClient(opts...)
	} else {
		api, err = reddit.NewClient(reddit.Credentials{
			ID: creds.ID, Secret: creds.Secret, Username: creds.Username, Password: creds.Password,
		}, opts...)
	}
	if err != nil {
		return nil, err
	}
	// ~60 requests/min leaves headroom under reddit's OAuth quota.
	return &Client{api: api, limiter: rate.NewLimiter(rate.Every(time.Second), 1), PostLimit: 25}, nil
}

func (c *Client) Platform() model.Platform { return model.PlatformReddit }

func (c *Client) FetchAccount(ctx context.Context, handle string) (provider.AccountPayload, ratelimit.Observation, error) {
	name := model.CleanHandle(model.PlatformReddit, handle)
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, ratelimit.Observation{}, err
	}
	sr, resp, err := c.api.Subreddit.Get(ctx, name)
	obs := observe(resp)
	if err != nil {
		return nil, obs, classify(name, "subreddit", err)
	}
	return subredditPayload(sr), obs, nil
}

func (c *Client) FetchRecentPosts(ctx context.Context, handle string) ([]provider.PostPayload, ratelimit.Observation, error) {
	name := model.CleanHandle(model.PlatformReddit, handle)
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, ratelimit.Observation{}, err
	}
	posts, resp, err := c.api.Subreddit.NewPosts(ctx, name, &reddit.ListOptions{Limit: c.PostLimit})
	obs := observe(resp)
	if err != nil {
		return nil, obs, classify(name, "new posts", err)
	}
	out := make([]provider.PostPayload, 0, len(posts))
	for _, p := range posts {
		out = append(out, postPayload(p))
	}
	return out, obs, nil
}

func subredditPayload(sr *reddit.Subreddit) *provider.RedditSubreddit {
	if sr == nil {
		return nil
	}
	return &provider.RedditSubreddit{
		ID:          sr.ID,
		Name:        sr.Name,
		Subscribers: int64(sr.Subscribers),
	}
}

func postPayload(p *reddit.Post) *provider.RedditPost {
	out := &provider.RedditPost{
		ID:       p.ID,
		Score:    int64(p.Score),
		Comments: int64(p.NumberOfComments),
	}
	if p.Created != nil {
		out.Created = p.Created.Time.UTC()
	}
	return out
}

func observe(resp *reddit.Response) ratelimit.Observation {
	if resp == nil || resp.Rate.Reset.IsZero() {
		return ratelimit.Observation{}
	}
	return ratelimit.Observation{
		Remaining: resp.Rate.Remaining,
		Limit:     resp.Rate.Remaining + resp.Rate.Used,
		ResetAt:   resp.Rate.Reset.UTC(),
	}
}

func classify(name, op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var rl *reddit.RateLimitError
	if errors.As(err, &rl) {
		return &model.RateLimitError{
			Provider:  model.PlatformReddit,
			Remaining: rl.Rate.Remaining,
			ResetAt:   rl.Rate.Reset.UTC(),
		}
	}
	var er *reddit.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		switch code := er.Response.StatusCode; {
		case code == http.StatusTooManyRequests:
			return &model.RateLimitError{Provider: model.PlatformReddit}
		case code == http.StatusNotFound, code == http.StatusForbidden, code == http.StatusUnauthorized:
			return &model.InvalidTargetError{
				Target: model.Target{Platform: model.PlatformReddit, Handle: name},
				Reason: op + ": " + http.StatusText(code),
				Err:    err,
			}
		}
	}
	return &model.TransientProviderError{Op: op, Err: err}
}
