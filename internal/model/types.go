package model

import (
	"strings"
	"time"
)

// Platform names a social network we poll.
type Platform string

const (
	PlatformX        Platform = "x"
	PlatformTelegram Platform = "telegram"
	PlatformDiscord  Platform = "discord"
	PlatformReddit   Platform = "reddit"
	PlatformMock     Platform = "mock"
)

// ParsePlatform resolves a platform name, accepting "twitter" for X.
func ParsePlatform(s string) (Platform, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x", "twitter":
		return PlatformX, true
	case "telegram":
		return PlatformTelegram, true
	case "discord":
		return PlatformDiscord, true
	case "reddit":
		return PlatformReddit, true
	case "mock":
		return PlatformMock, true
	}
	return "", false
}

// Target is one (platform, handle) pair to track.
type Target struct {
	Platform Platform
	Handle   string
	// Interval overrides the global poll interval when non-zero.
	Interval time.Duration
}

// Key identifies the target regardless of how the handle was written.
func (t Target) Key() string {
	return string(t.Platform) + "/" + strings.ToLower(CleanHandle(t.Platform, t.Handle))
}

func (t Target) String() string { return string(t.Platform) + ":" + t.Handle }

// Account identifies a tracked entity. Immutable once created.
type Account struct {
	ID         int64
	Platform   Platform
	ExternalID string
	Handle     string
	FirstSeen  time.Time
}

// MetricSnapshot is one point-in-time measurement for an account.
type MetricSnapshot struct {
	ID             int64
	AccountID      int64
	Timestamp      time.Time // UTC, second precision
	FollowerCount  int64
	FollowerGrowth int64 // computed against the previous snapshot, never fetched
	Impressions    int64
	EngagementRate float64 // percent, 0.00-100.00
	LinkClicks     int64
	ProfileVisits  int64
	Reposts        int64
	Mentions       int64
}

// PostRecord holds the latest counters for one content item.
type PostRecord struct {
	ID              int64
	AccountID       int64
	ExternalPostID  string
	PostedAt        time.Time
	Impressions     int64
	EngagementCount int64
	ShareCount      int64
	UpdatedAt       time.Time
}

// CycleData is everything one poll cycle writes, applied as a single unit.
type CycleData struct {
	Platform   Platform
	ExternalID string
	Handle     string
	Snapshot   MetricSnapshot
	Posts      []PostRecord
}
