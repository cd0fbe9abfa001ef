// Package normalize turns provider payloads into the canonical snapshot and
// post records. It is the only place that knows platform field layouts.
package normalize

import (
	"errors"
	"fmt"
	"math"

	"socialpulse/internal/logging"
	"socialpulse/internal/model"
	"socialpulse/internal/provider"
)

// account is the platform-independent view of an account payload.
type account struct {
	id, handle    string
	followers     int64
	impressions   int64
	engagements   int64
	linkClicks    int64
	profileVisits int64
	reposts       int64
	mentions      int64
	rate          *float64
}

// Normalize maps one cycle's payloads to CycleData. Timestamps and account
// ids are left for the caller and storage to fill. Only a missing account
// identity is an error; a post that cannot be mapped is logged and dropped.
func Normalize(platform model.Platform, acct provider.AccountPayload, posts []provider.PostPayload) (model.CycleData, error) {
	records := make([]model.PostRecord, 0, len(posts))
	kept := make([]provider.PostPayload, 0, len(posts))
	var postImpr, postEng, shares int64
	for i, p := range posts {
		rec, err := postOf(p)
		if err != nil {
			logging.Warn("post_dropped", map[string]any{"platform": string(platform), "index": i, "reason": err.Error()})
			continue
		}
		postImpr += rec.Impressions
		postEng += rec.EngagementCount
		shares += rec.ShareCount
		records = append(records, rec)
		kept = append(kept, p)
	}

	a, err := accountOf(platform, acct, kept)
	if err != nil {
		return model.CycleData{}, err
	}

	impressions := a.impressions
	if impressions <= 0 {
		impressions = postImpr
	}
	engagements := a.engagements
	if engagements <= 0 {
		engagements = postEng
	}
	reposts := a.reposts
	if reposts <= 0 {
		reposts = shares
	}
	rate := EngagementRate(engagements, impressions)
	if a.rate != nil {
		rate = clampRate(round2(*a.rate))
	}

	return model.CycleData{
		Platform:   platform,
		ExternalID: a.id,
		Handle:     a.handle,
		Snapshot: model.MetricSnapshot{
			FollowerCount:  a.followers,
			Impressions:    impressions,
			EngagementRate: rate,
			LinkClicks:     a.linkClicks,
			ProfileVisits:  a.profileVisits,
			Reposts:        reposts,
			Mentions:       a.mentions,
		},
		Posts: records,
	}, nil
}

// EngagementRate is engagements per impression as a percentage with two
// decimals. Missing impressions count as one so the result stays finite.
func EngagementRate(engagements, impressions int64) float64 {
	if impressions < 1 {
		impressions = 1
	}
	return clampRate(round2(float64(engagements) / float64(impressions) * 100))
}

func accountOf(platform model.Platform, payload provider.AccountPayload, posts []provider.PostPayload) (account, error) {
	var a account
	switch p := payload.(type) {
	case *provider.XUser:
		if p != nil {
			a = account{id: p.ID, handle: p.Username, followers: p.Followers, mentions: p.Mentions}
		}
	case *provider.TelegramChat:
		if p != nil {
			a = account{id: p.ID, handle: p.Username, followers: p.Members}
		}
	case *provider.DiscordGuild:
		if p != nil {
			a = account{id: p.ID, handle: p.Name, followers: p.Members}
			for _, pp := range posts {
				if m, ok := pp.(*provider.DiscordMessage); ok {
					a.mentions += m.Mentions
				}
			}
			// Discord has no impressions: activity is messages per member.
			r := ratio(int64(len(posts)), p.Members)
			a.rate = &r
		}
	case *provider.RedditSubreddit:
		if p != nil {
			a = account{id: p.ID, handle: p.Name, followers: p.Subscribers}
			// Reddit has no impressions: average post engagement per subscriber.
			var total int64
			for _, pp := range posts {
				if rp, ok := pp.(*provider.RedditPost); ok {
					total += rp.Score + rp.Comments
				}
			}
			var avg float64
			if len(posts) > 0 {
				avg = float64(total) / float64(len(posts))
			}
			r := 0.0
			if p.Subscribers > 0 {
				r = avg / float64(p.Subscribers) * 100
			}
			a.rate = &r
		}
	case *provider.GenericAccount:
		if p != nil {
			a = account{
				id: p.ID, handle: p.Handle, followers: p.Followers,
				impressions: p.Impressions, engagements: p.Engagements,
				linkClicks: p.LinkClicks, profileVisits: p.ProfileVisits,
				reposts: p.Reposts, mentions: p.Mentions, rate: p.EngagementRate,
			}
		}
	case nil:
		return a, &model.NormalizationError{Platform: platform, Reason: "missing account payload"}
	default:
		return a, &model.NormalizationError{Platform: platform, Reason: fmt.Sprintf("unsupported account payload %T", payload)}
	}
	if a.id == "" {
		return a, &model.NormalizationError{Platform: platform, Reason: "account payload has no external id"}
	}
	return a, nil
}

func postOf(payload provider.PostPayload) (model.PostRecord, error) {
	var r model.PostRecord
	switch p := payload.(type) {
	case *provider.XTweet:
		if p != nil {
			r = model.PostRecord{
				ExternalPostID:  p.ID,
				PostedAt:        p.CreatedAt,
				Impressions:     p.Impressions,
				EngagementCount: p.Likes + p.Retweets + p.Replies + p.Quotes,
				ShareCount:      p.Retweets + p.Quotes,
			}
		}
	case *provider.DiscordMessage:
		if p != nil {
			r = model.PostRecord{
				ExternalPostID:  p.ID,
				PostedAt:        p.Timestamp,
				EngagementCount: p.Reactions + p.Replies,
			}
		}
	case *provider.RedditPost:
		if p != nil {
			r = model.PostRecord{
				ExternalPostID:  p.ID,
				PostedAt:        p.Created,
				EngagementCount: p.Score + p.Comments,
				ShareCount:      p.Crossposts,
			}
		}
	case *provider.GenericPost:
		if p != nil {
			r = model.PostRecord{
				ExternalPostID:  p.ID,
				PostedAt:        p.PostedAt,
				Impressions:     p.Impressions,
				EngagementCount: p.Engagements,
				ShareCount:      p.Shares,
			}
		}
	default:
		return r, fmt.Errorf("unsupported post payload %T", payload)
	}
	if r.ExternalPostID == "" {
		return r, errors.New("post has no id")
	}
	if !r.PostedAt.IsZero() {
		r.PostedAt = r.PostedAt.UTC()
	}
	return r, nil
}

func ratio(num, den int64) float64 {
	if den <= 0 {
		return 0
	}
	return float64(num) / float64(den) * 100
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func clampRate(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
