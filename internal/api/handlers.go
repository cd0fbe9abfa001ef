package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/labstack/echo/v4"

	"socialpulse/internal/analytics"
	"socialpulse/internal/logging"
	"socialpulse/internal/model"
)

const (
	defaultSnapshotLimit = 500
	maxLimit             = 5000
)

type accountJSON struct {
	ID         int64     `json:"id"`
	Platform   string    `json:"platform"`
	ExternalID string    `json:"externalId"`
	Handle     string    `json:"handle"`
	FirstSeen  time.Time `json:"firstSeen"`
}

type snapshotJSON struct {
	Timestamp      time.Time `json:"timestamp"`
	FollowerCount  int64     `json:"followerCount"`
	FollowerGrowth int64     `json:"followerGrowth"`
	Impressions    int64     `json:"impressions"`
	EngagementRate float64   `json:"engagementRate"`
	LinkClicks     int64     `json:"linkClicks"`
	ProfileVisits  int64     `json:"profileVisits"`
	Reposts        int64     `json:"reposts"`
	Mentions       int64     `json:"mentions"`
}

type postJSON struct {
	ExternalPostID  string     `json:"externalPostId"`
	PostedAt        *time.Time `json:"postedAt,omitempty"`
	Impressions     int64      `json:"impressions"`
	EngagementCount int64      `json:"engagementCount"`
	ShareCount      int64      `json:"shareCount"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

type growthJSON struct {
	Day    string `json:"day"`
	Growth int64  `json:"growth"`
}

func toAccountJSON(a model.Account) accountJSON {
	return accountJSON{ID: a.ID, Platform: string(a.Platform), ExternalID: a.ExternalID, Handle: a.Handle, FirstSeen: a.FirstSeen}
}

func toSnapshotJSON(s model.MetricSnapshot) snapshotJSON {
	return snapshotJSON{
		Timestamp: s.Timestamp, FollowerCount: s.FollowerCount, FollowerGrowth: s.FollowerGrowth,
		Impressions: s.Impressions, EngagementRate: s.EngagementRate, LinkClicks: s.LinkClicks,
		ProfileVisits: s.ProfileVisits, Reposts: s.Reposts, Mentions: s.Mentions,
	}
}

func toPostJSON(p model.PostRecord) postJSON {
	out := postJSON{
		ExternalPostID: p.ExternalPostID, Impressions: p.Impressions,
		EngagementCount: p.EngagementCount, ShareCount: p.ShareCount, UpdatedAt: p.UpdatedAt,
	}
	if !p.PostedAt.IsZero() {
		t := p.PostedAt
		out.PostedAt = &t
	}
	return out
}

func errorJSON(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}

func (s *Server) handleAccounts(c echo.Context) error {
	accts, err := s.store.ListAccounts(c.Request().Context())
	if err != nil {
		return s.internal(c, err)
	}
	out := make([]accountJSON, 0, len(accts))
	for _, a := range accts {
		out = append(out, toAccountJSON(a))
	}
	return c.JSON(http.StatusOK, out)
}

// account resolves :platform/:account (external id or handle). On failure it
// has already written the response.
func (s *Server) account(c echo.Context) (model.Account, bool, error) {
	p, ok := model.ParsePlatform(c.Param("platform"))
	if !ok {
		return model.Account{}, false, errorJSON(c, http.StatusBadRequest, "unknown platform "+strconv.Quote(c.Param("platform")))
	}
	a, found, err := s.store.FindAccount(c.Request().Context(), p, c.Param("account"))
	if err != nil {
		return model.Account{}, false, s.internal(c, err)
	}
	if !found {
		return model.Account{}, false, errorJSON(c, http.StatusNotFound, "account not tracked")
	}
	return a, true, nil
}

func limitParam(c echo.Context, def int) (int, bool) {
	v := c.QueryParam("limit")
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, true
}

func (s *Server) handleLatest(c echo.Context) error {
	a, ok, err := s.account(c)
	if !ok {
		return err
	}
	snap, found, err := s.store.LatestSnapshot(c.Request().Context(), a.ID)
	if err != nil {
		return s.internal(c, err)
	}
	if !found {
		return errorJSON(c, http.StatusNotFound, "no snapshots yet")
	}
	return c.JSON(http.StatusOK, map[string]any{"account": toAccountJSON(a), "snapshot": toSnapshotJSON(snap)})
}

func (s *Server) handleSnapshots(c echo.Context) error {
	a, ok, err := s.account(c)
	if !ok {
		return err
	}
	limit, ok := limitParam(c, defaultSnapshotLimit)
	if !ok {
		return errorJSON(c, http.StatusBadRequest, "limit must be a non-negative integer")
	}
	snaps, err := s.store.Snapshots(c.Request().Context(), a.ID, limit)
	if err != nil {
		return s.internal(c, err)
	}
	out := make([]snapshotJSON, 0, len(snaps))
	for _, sn := range snaps {
		out = append(out, toSnapshotJSON(sn))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handlePosts(c echo.Context) error {
	a, ok, err := s.account(c)
	if !ok {
		return err
	}
	limit, ok := limitParam(c, 0)
	if !ok {
		return errorJSON(c, http.StatusBadRequest, "limit must be a non-negative integer")
	}
	posts, err := s.store.Posts(c.Request().Context(), a.ID, limit)
	if err != nil {
		return s.internal(c, err)
	}
	out := make([]postJSON, 0, len(posts))
	for _, p := range posts {
		out = append(out, toPostJSON(p))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGrowth(c echo.Context) error {
	a, ok, err := s.account(c)
	if !ok {
		return err
	}
	snaps, err := s.store.Snapshots(c.Request().Context(), a.ID, 0)
	if err != nil {
		return s.internal(c, err)
	}
	buckets := analytics.DailyGrowth(snaps)
	out := make([]growthJSON, 0, len(buckets))
	for _, day := range analytics.SortedBucketKeys(buckets) {
		out = append(out, growthJSON{Day: day.Format(time.DateOnly), Growth: buckets[day]})
	}
	return c.JSON(http.StatusOK, out)
}

// handleChart renders follower history as a standalone HTML line chart.
func (s *Server) handleChart(c echo.Context) error {
	a, ok, err := s.account(c)
	if !ok {
		return err
	}
	limit, ok := limitParam(c, defaultSnapshotLimit)
	if !ok {
		return errorJSON(c, http.StatusBadRequest, "limit must be a non-negative integer")
	}
	snaps, err := s.store.Snapshots(c.Request().Context(), a.ID, limit)
	if err != nil {
		return s.internal(c, err)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "socialpulse"}),
		charts.WithTitleOpts(opts.Title{
			Title:    string(a.Platform) + ":" + a.Handle,
			Subtitle: "followers and engagement rate",
		}),
	)
	xs := make([]string, 0, len(snaps))
	followers := make([]opts.LineData, 0, len(snaps))
	rates := make([]opts.LineData, 0, len(snaps))
	for _, sn := range snaps {
		xs = append(xs, sn.Timestamp.UTC().Format("2006-01-02 15:04"))
		followers = append(followers, opts.LineData{Value: sn.FollowerCount})
		rates = append(rates, opts.LineData{Value: sn.EngagementRate})
	}
	line.SetXAxis(xs).
		AddSeries("followers", followers).
		AddSeries("engagement %", rates)

	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(http.StatusOK)
	return line.Render(c.Response())
}

func (s *Server) internal(c echo.Context, err error) error {
	logging.Error("api_storage_error", map[string]any{"path": c.Path(), "error": err.Error()})
	return errorJSON(c, http.StatusInternalServerError, "storage unavailable")
}
