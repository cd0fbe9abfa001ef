package store

import (
	"context"
	"time"

	"socialpulse/internal/model"
)

const (
	accountCols  = `id, platform, external_id, handle, first_seen`
	snapshotCols = `id, account_id, timestamp_utc, follower_count, follower_growth, impressions,
		engagement_rate, link_clicks, profile_visits, reposts, mentions`
	postCols = `id, account_id, external_post_id, posted_at, impressions, engagement_count, share_count, updated_at`
)

type accountRow struct {
	ID         int64  `db:"id"`
	Platform   string `db:"platform"`
	ExternalID string `db:"external_id"`
	Handle     string `db:"handle"`
	FirstSeen  int64  `db:"first_seen"`
}

func (r accountRow) model() model.Account {
	return model.Account{
		ID:         r.ID,
		Platform:   model.Platform(r.Platform),
		ExternalID: r.ExternalID,
		Handle:     r.Handle,
		FirstSeen:  time.Unix(r.FirstSeen, 0).UTC(),
	}
}

type snapshotRow struct {
	ID             int64   `db:"id"`
	AccountID      int64   `db:"account_id"`
	Timestamp      int64   `db:"timestamp_utc"`
	FollowerCount  int64   `db:"follower_count"`
	FollowerGrowth int64   `db:"follower_growth"`
	Impressions    int64   `db:"impressions"`
	EngagementRate float64 `db:"engagement_rate"`
	LinkClicks     int64   `db:"link_clicks"`
	ProfileVisits  int64   `db:"profile_visits"`
	Reposts        int64   `db:"reposts"`
	Mentions       int64   `db:"mentions"`
}

func snapshotToRow(s model.MetricSnapshot) snapshotRow {
	return snapshotRow{
		ID: s.ID, AccountID: s.AccountID, Timestamp: s.Timestamp.Unix(),
		FollowerCount: s.FollowerCount, FollowerGrowth: s.FollowerGrowth, Impressions: s.Impressions,
		EngagementRate: s.EngagementRate, LinkClicks: s.LinkClicks, ProfileVisits: s.ProfileVisits,
		Reposts: s.Reposts, Mentions: s.Mentions,
	}
}

func (r snapshotRow) model() model.MetricSnapshot {
	return model.MetricSnapshot{
		ID: r.ID, AccountID: r.AccountID, Timestamp: time.Unix(r.Timestamp, 0).UTC(),
		FollowerCount: r.FollowerCount, FollowerGrowth: r.FollowerGrowth, Impressions: r.Impressions,
		EngagementRate: r.EngagementRate, LinkClicks: r.LinkClicks, ProfileVisits: r.ProfileVisits,
		Reposts: r.Reposts, Mentions: r.Mentions,
	}
}

type postRow struct {
	ID              int64  `db:"id"`
	AccountID       int64  `db:"account_id"`
	ExternalPostID  string `db:"external_post_id"`
	PostedAt        int64  `db:"posted_at"`
	Impressions     int64  `db:"impressions"`
	EngagementCount int64  `db:"engagement_count"`
	ShareCount      int64  `db:"share_count"`
	UpdatedAt       int64  `db:"updated_at"`
}

func (r postRow) model() model.PostRecord {
	p := model.PostRecord{
		ID: r.ID, AccountID: r.AccountID, ExternalPostID: r.ExternalPostID,
		Impressions: r.Impressions, EngagementCount: r.EngagementCount, ShareCount: r.ShareCount,
		UpdatedAt: time.Unix(r.UpdatedAt, 0).UTC(),
	}
	if r.PostedAt != 0 {
		p.PostedAt = time.Unix(r.PostedAt, 0).UTC()
	}
	return p
}

// LatestSnapshot returns the newest snapshot of accountID; ok is false when
// the account has none.
func (s *Store) LatestSnapshot(ctx context.Context, accountID int64) (model.MetricSnapshot, bool, error) {
	snap, ok, err := s.latestSnapshot(ctx, s.db, accountID)
	return snap, ok, wrap("latest snapshot", err)
}

func (s *Store) latestSnapshot(ctx context.Context, q execer, accountID int64) (model.MetricSnapshot, bool, error) {
	var row snapshotRow
	err := q.GetContext(ctx, &row, q.Rebind(
		`SELECT `+snapshotCols+` FROM metric_snapshots WHERE account_id = ? ORDER BY timestamp_utc DESC LIMIT 1`), accountID)
	if isNoRows(err) {
		return model.MetricSnapshot{}, false, nil
	}
	if err != nil {
		return model.MetricSnapshot{}, false, err
	}
	return row.model(), true, nil
}

// FindAccount looks an account up by external id or, failing that, handle.
func (s *Store) FindAccount(ctx context.Context, platform model.Platform, key string) (model.Account, bool, error) {
	key = model.CleanHandle(platform, key)
	var row accountRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT `+accountCols+` FROM accounts
		 WHERE platform = ? AND (external_id = ? OR lower(handle) = lower(?))
		 ORDER BY CASE WHEN external_id = ? THEN 0 ELSE 1 END, id LIMIT 1`),
		string(platform), key, key, key)
	if isNoRows(err) {
		return model.Account{}, false, nil
	}
	if err != nil {
		return model.Account{}, false, wrap("find account", err)
	}
	return row.model(), true, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]model.Account, error) {
	var rows []accountRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+accountCols+` FROM accounts ORDER BY platform, id`); err != nil {
		return nil, wrap("list accounts", err)
	}
	out := make([]model.Account, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

// Snapshots returns the newest limit snapshots in ascending time order.
// limit <= 0 returns the full history.
func (s *Store) Snapshots(ctx context.Context, accountID int64, limit int) ([]model.MetricSnapshot, error) {
	var rows []snapshotRow
	q := `SELECT ` + snapshotCols + ` FROM metric_snapshots WHERE account_id = ? ORDER BY timestamp_utc ASC`
	args := []any{accountID}
	if limit > 0 {
		q = `SELECT * FROM (SELECT ` + snapshotCols + ` FROM metric_snapshots WHERE account_id = ?
		       ORDER BY timestamp_utc DESC LIMIT ?) recent ORDER BY timestamp_utc ASC`
		args = append(args, limit)
	}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, wrap("snapshots", err)
	}
	out := make([]model.MetricSnapshot, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

// Posts returns the account's posts, newest first.
func (s *Store) Posts(ctx context.Context, accountID int64, limit int) ([]model.PostRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []postRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT `+postCols+` FROM posts WHERE account_id = ? ORDER BY posted_at DESC, id DESC LIMIT ?`), accountID, limit)
	if err != nil {
		return nil, wrap("posts", err)
	}
	out := make([]model.PostRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}
