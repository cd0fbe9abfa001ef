// Package telegram reads channel and group membership through the Bot API.
// The Bot API exposes no channel history, so there are no recent posts.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"socialpulse/internal/model"
	"socialpulse/internal/provider"
	"socialpulse/internal/provider/httpx"
	"socialpulse/internal/ratelimit"
)

const DefaultBaseURL = "https://api.telegram.org"

var numericID = regexp.MustCompile(`^-?\d+$`)

type Client struct {
	http *httpx.Client
}

// New builds a client for the bot identified by token.
func New(token string, opts ...httpx.Option) *Client {
	c := &Client{}
	all := append([]httpx.Option{httpx.WithBaseURL(DefaultBaseURL + "/bot" + token)}, opts...)
	c.http = httpx.New(model.PlatformTelegram, DefaultBaseURL, all...)
	return c
}

func (c *Client) Platform() model.Platform { return model.PlatformTelegram }

// envelope is the shape of every Bot API reply, success or not.
type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

type chat struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Username string `json:"username"`
}

func (c *Client) FetchAccount(ctx context.Context, handle string) (provider.AccountPayload, ratelimit.Observation, error) {
	handle = model.CleanHandle(model.PlatformTelegram, handle)
	chatID := chatRef(handle)

	var ch chat
	if err := c.call(ctx, handle, "getChat", chatID, &ch); err != nil {
		return nil, ratelimit.Observation{}, err
	}
	var members int64
	if err := c.call(ctx, handle, "getChatMemberCount", chatID, &members); err != nil {
		return nil, ratelimit.Observation{}, err
	}
	return &provider.TelegramChat{
		ID:       strconv.FormatInt(ch.ID, 10),
		Username: ch.Username,
		Members:  members,
	}, ratelimit.Observation{}, nil
}

// FetchRecentPosts returns nothing: bots cannot read channel history.
func (c *Client) FetchRecentPosts(ctx context.Context, handle string) ([]provider.PostPayload, ratelimit.Observation, error) {
	return nil, ratelimit.Observation{}, ctx.Err()
}

func (c *Client) call(ctx context.Context, handle, method, chatID string, out any) error {
	q := url.Values{}
	q.Set("chat_id", chatID)
	var env envelope
	_, err := c.http.GetJSON(ctx, "/"+method, q, &env)
	if err != nil {
		var se *httpx.StatusError
		if errors.As(err, &se) {
			_ = json.Unmarshal(se.Body, &env)
			return c.classify(handle, method, se.StatusCode, env, err)
		}
		return httpx.Classify(model.PlatformTelegram, handle, method, err)
	}
	if !env.OK {
		return c.classify(handle, method, env.ErrorCode, env, errors.New(env.Description))
	}
	return json.Unmarshal(env.Result, out)
}

func (c *Client) classify(handle, method string, code int, env envelope, err error) error {
	target := model.Target{Platform: model.PlatformTelegram, Handle: handle}
	desc := strings.ToLower(env.Description)
	switch {
	case code == http.StatusTooManyRequests:
		return &model.RateLimitError{
			Provider:   model.PlatformTelegram,
			RetryAfter: time.Duration(env.Parameters.RetryAfter) * time.Second,
		}
	case strings.Contains(desc, "chat not found"),
		code == http.StatusUnauthorized,
		code == http.StatusForbidden:
		return &model.InvalidTargetError{Target: target, Reason: env.Description, Err: err}
	case code >= 500:
		return &model.TransientProviderError{Op: method, Err: err}
	}
	return httpx.Classify(model.PlatformTelegram, handle, method, err)
}

// chatRef turns a handle into a chat_id: numeric ids pass through,
// usernames get their "@".
func chatRef(handle string) string {
	if numericID.MatchString(handle) {
		return handle
	}
	return "@" + handle
}
