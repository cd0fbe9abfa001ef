// Package discord reads guild size and recent channel activity through the
// bot REST API.
package discord

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"socialpulse/internal/logging"
	"socialpulse/internal/model"
	"socialpulse/internal/provider"
	"socialpulse/internal/provider/httpx"
	"socialpulse/internal/ratelimit"
)

const DefaultBaseURL = "https://discord.com/api/v10"

// Client reads one guild per handle; the handle is the guild id.
type Client struct {
	http *httpx.Client
	// MaxChannels bounds how many text channels are sampled per cycle.
	MaxChannels int
	// MessagesPerChannel is the history depth read from each channel.
	MessagesPerChannel int
}

func New(botToken string, opts ...httpx.Option) *Client {
	base := []httpx.Option{
		httpx.WithAuthHeader("Authorization", "Bot "+botToken),
		httpx.WithRateHeaders(httpx.DiscordRateHeaders),
	}
	return &Client{
		http:               httpx.New(model.PlatformDiscord, DefaultBaseURL, append(base, opts...)...),
		MaxChannels:        5,
		MessagesPerChannel: 50,
	}
}

func (c *Client) Platform() model.Platform { return model.PlatformDiscord }

const (
	channelText         = 0
	channelAnnouncement = 5
)

type guild struct {
	ID                     string `json:"id"`
	Name                   string `json:"name"`
	ApproximateMemberCount int64  `json:"approximate_member_count"`
}

type channel struct {
	ID       string `json:"id"`
	Type     int    `json:"type"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}

type message struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	Timestamp time.Time `json:"timestamp"`
	Reactions []struct {
		Count int64 `json:"count"`
	} `json:"reactions"`
	Thread *struct {
		MessageCount int64 `json:"message_count"`
	} `json:"thread"`
	Mentions     []struct{} `json:"mentions"`
	MentionRoles []string   `json:"mention_roles"`
}

func (c *Client) FetchAccount(ctx context.Context, handle string) (provider.AccountPayload, ratelimit.Observation, error) {
	handle = model.CleanHandle(model.PlatformDiscord, handle)
	q := url.Values{}
	q.Set("with_counts", "true")
	var g guild
	obs, err := c.http.GetJSON(ctx, "/guilds/"+url.PathEscape(handle), q, &g)
	if err != nil {
		return nil, obs, httpx.Classify(model.PlatformDiscord, handle, "guild", err)
	}
	return &provider.DiscordGuild{
		ID:      g.ID,
		Name:    g.Name,
		Members: g.ApproximateMemberCount,
	}, obs, nil
}

// FetchRecentPosts samples recent messages from the first text channels.
// Channels the bot may not read are skipped.
func (c *Client) FetchRecentPosts(ctx context.Context, handle string) ([]provider.PostPayload, ratelimit.Observation, error) {
	handle = model.CleanHandle(model.PlatformDiscord, handle)
	var chans []channel
	obs, err := c.http.GetJSON(ctx, "/guilds/"+url.PathEscape(handle)+"/channels", nil, &chans)
	if err != nil {
		return nil, obs, httpx.Classify(model.PlatformDiscord, handle, "channels", err)
	}

	text := make([]channel, 0, len(chans))
	for _, ch := range chans {
		if ch.Type == channelText || ch.Type == channelAnnouncement {
			text = append(text, ch)
		}
	}
	sort.SliceStable(text, func(i, j int) bool { return text[i].Position < text[j].Position })
	if len(text) > c.MaxChannels {
		text = text[:c.MaxChannels]
	}

	var out []provider.PostPayload
	for _, ch := range text {
		q := url.Values{}
		q.Set("limit", limit(c.MessagesPerChannel))
		var msgs []message
		mobs, err := c.http.GetJSON(ctx, "/channels/"+url.PathEscape(ch.ID)+"/messages", q, &msgs)
		if mobs.Known() {
			obs = mobs
		}
		if err != nil {
			var se *httpx.StatusError
			if errors.As(err, &se) && se.StatusCode == http.StatusForbidden {
				logging.Debug("discord_channel_skipped", map[string]any{"guild": handle, "channel": ch.Name})
				continue
			}
			return nil, obs, httpx.Classify(model.PlatformDiscord, handle, "messages", err)
		}
		for _, m := range msgs {
			var reactions int64
			for _, r := range m.Reactions {
				reactions += r.Count
			}
			var replies int64
			if m.Thread != nil {
				replies = m.Thread.MessageCount
			}
			out = append(out, &provider.DiscordMessage{
				ID:        m.ID,
				ChannelID: ch.ID,
				Timestamp: m.Timestamp,
				Reactions: reactions,
				Replies:   replies,
				Mentions:  int64(len(m.Mentions) + len(m.MentionRoles)),
			})
		}
	}
	return out, obs, nil
}

func limit(n int) string {
	if n <= 0 || n > 100 {
		n = 50
	}
	return strconv.Itoa(n)
}
