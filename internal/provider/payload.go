package provider

import "time"

// AccountPayload is the account-level half of a poll. The set of
// implementations is closed; normalize switches over it exhaustively.
type AccountPayload interface{ accountPayload() }

// PostPayload is one recent content item.
type PostPayload interface{ postPayload() }

type XUser struct {
	ID        string
	Username  string
	Followers int64
	// Recent tweets mentioning the user, from a recent-search count
	Mentions int64
}

type XTweet struct {
	ID          string
	CreatedAt   time.Time
	Impressions int64
	Likes       int64
	Retweets    int64
	Replies     int64
	Quotes      int64
}

// TelegramChat has no post counterpart: the Bot API cannot read channel
// history or search mentions.
type TelegramChat struct {
	ID       string
	Username string
	Members  int64
}

type DiscordGuild struct {
	ID      string
	Name    string
	Members int64
}

type DiscordMessage struct {
	ID        string
	ChannelID string
	Timestamp time.Time
	Reactions int64
	Replies   int64
	// User and role mentions in the message
	Mentions int64
}

type RedditSubreddit struct {
	ID          string
	Name        string
	Subscribers int64
}

type RedditPost struct {
	ID         string
	Created    time.Time
	Score      int64
	Comments   int64
	Crossposts int64
}

// GenericAccount carries already-normalized counters, for providers that
// have no platform-specific shape (the mock provider, imports).
type GenericAccount struct {
	ID            string
	Handle        string
	Followers     int64
	Impressions   int64
	Engagements   int64
	LinkClicks    int64
	ProfileVisits int64
	Reposts       int64
	Mentions      int64
	// EngagementRate overrides the computed rate when set.
	EngagementRate *float64
}

type GenericPost struct {
	ID          string
	PostedAt    time.Time
	Impressions int64
	Engagements int64
	Shares      int64
}

func (*XUser) accountPayload()           {}
func (*TelegramChat) accountPayload()    {}
func (*DiscordGuild) accountPayload()    {}
func (*RedditSubreddit) accountPayload() {}
func (*GenericAccount) accountPayload()  {}

func (*XTweet) postPayload()          {}
func (*DiscordMessage) postPayload()  {}
func (*RedditPost) postPayload()      {}
func (*GenericPost) postPayload()     {}
