package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"socialpulse/internal/model"
)

// execer is what both *sqlx.DB and *sqlx.Tx offer.
type execer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func accountKey(platform model.Platform, externalID string) string {
	return string(platform) + "/" + externalID
}

// UpsertAccount returns the id of (platform, externalID), creating the row
// on first sight. Existing accounts are never modified.
func (s *Store) UpsertAccount(ctx context.Context, platform model.Platform, externalID, handle string) (int64, error) {
	if externalID == "" {
		return 0, &model.StorageError{Op: "upsert account", Err: errors.New("empty external id")}
	}
	unlock := s.locks.Lock(accountKey(platform, externalID))
	defer unlock()
	id, err := s.upsertAccount(ctx, s.db, platform, externalID, handle)
	return id, wrap("upsert account", err)
}

func (s *Store) upsertAccount(ctx context.Context, q execer, platform model.Platform, externalID, handle string) (int64, error) {
	_, err := q.ExecContext(ctx, q.Rebind(
		`INSERT INTO accounts(platform, external_id, handle, first_seen) VALUES(?,?,?,?)
		 ON CONFLICT(platform, external_id) DO NOTHING`),
		string(platform), externalID, handle, s.nowUTC().Unix())
	if err != nil {
		return 0, err
	}
	var id int64
	err = q.GetContext(ctx, &id, q.Rebind(`SELECT id FROM accounts WHERE platform = ? AND external_id = ?`), string(platform), externalID)
	return id, err
}

// AppendSnapshot stores snap for accountID, computing follower growth from
// the previous snapshot. A timestamp not after the previous one is moved
// one second past it, so per-account timestamps strictly increase.
func (s *Store) AppendSnapshot(ctx context.Context, accountID int64, snap model.MetricSnapshot) (model.MetricSnapshot, error) {
	var acct accountRow
	err := s.db.GetContext(ctx, &acct, s.db.Rebind(`SELECT `+accountCols+` FROM accounts WHERE id = ?`), accountID)
	if err != nil {
		return model.MetricSnapshot{}, wrap("append snapshot", err)
	}
	unlock := s.locks.Lock(accountKey(model.Platform(acct.Platform), acct.ExternalID))
	defer unlock()

	var out model.MetricSnapshot
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		out, err = s.appendSnapshot(ctx, tx, accountID, snap)
		return err
	})
	return out, wrap("append snapshot", err)
}

func (s *Store) appendSnapshot(ctx context.Context, tx *sqlx.Tx, accountID int64, snap model.MetricSnapshot) (model.MetricSnapshot, error) {
	if s.dialect.lockAccount != "" {
		var id int64
		if err := tx.GetContext(ctx, &id, tx.Rebind(s.dialect.lockAccount), accountID); err != nil {
			return snap, fmt.Errorf("lock account: %w", err)
		}
	}
	prev, ok, err := s.latestSnapshot(ctx, tx, accountID)
	if err != nil {
		return snap, err
	}

	ts := snap.Timestamp
	if ts.IsZero() {
		ts = s.nowUTC()
	}
	ts = ts.UTC().Truncate(time.Second)
	snap.AccountID = accountID
	snap.FollowerGrowth = 0
	if ok {
		if !ts.After(prev.Timestamp) {
			ts = prev.Timestamp.Add(time.Second)
		}
		snap.FollowerGrowth = snap.FollowerCount - prev.FollowerCount
	}
	snap.Timestamp = ts

	row := snapshotToRow(snap)
	err = tx.GetContext(ctx, &snap.ID, tx.Rebind(
		`INSERT INTO metric_snapshots(account_id, timestamp_utc, follower_count, follower_growth, impressions,
		   engagement_rate, link_clicks, profile_visits, reposts, mentions)
		 VALUES(?,?,?,?,?,?,?,?,?,?) RETURNING id`),
		row.AccountID, row.Timestamp, row.FollowerCount, row.FollowerGrowth, row.Impressions,
		row.EngagementRate, row.LinkClicks, row.ProfileVisits, row.Reposts, row.Mentions)
	if err != nil {
		return snap, fmt.Errorf("insert snapshot: %w", err)
	}
	return snap, nil
}

// UpsertPost inserts post or refreshes its counters in place.
func (s *Store) UpsertPost(ctx context.Context, accountID int64, post model.PostRecord) error {
	return wrap("upsert post", s.upsertPost(ctx, s.db, accountID, post))
}

func (s *Store) upsertPost(ctx context.Context, q execer, accountID int64, post model.PostRecord) error {
	if post.ExternalPostID == "" {
		return errors.New("empty external post id")
	}
	updated := post.UpdatedAt
	if updated.IsZero() {
		updated = s.nowUTC()
	}
	_, err := q.ExecContext(ctx, q.Rebind(
		`INSERT INTO posts(account_id, external_post_id, posted_at, impressions, engagement_count, share_count, updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(account_id, external_post_id) DO UPDATE SET
		   posted_at = CASE WHEN excluded.posted_at <> 0 THEN excluded.posted_at ELSE posts.posted_at END,
		   impressions = excluded.impressions,
		   engagement_count = excluded.engagement_count,
		   share_count = excluded.share_count,
		   updated_at = excluded.updated_at`),
		accountID, post.ExternalPostID, unixOrZero(post.PostedAt), post.Impressions,
		post.EngagementCount, post.ShareCount, updated.Unix())
	return err
}

// PersistCycle writes the account, the snapshot and every post as one
// transaction. On error nothing from the cycle is visible.
func (s *Store) PersistCycle(ctx context.Context, cd model.CycleData) (model.MetricSnapshot, error) {
	if cd.ExternalID == "" {
		return model.MetricSnapshot{}, &model.StorageError{Op: "persist cycle", Err: errors.New("empty external id")}
	}
	unlock := s.locks.Lock(accountKey(cd.Platform, cd.ExternalID))
	defer unlock()

	var out model.MetricSnapshot
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		id, err := s.upsertAccount(ctx, tx, cd.Platform, cd.ExternalID, cd.Handle)
		if err != nil {
			return fmt.Errorf("account: %w", err)
		}
		out, err = s.appendSnapshot(ctx, tx, id, cd.Snapshot)
		if err != nil {
			return err
		}
		for _, p := range cd.Posts {
			if p.UpdatedAt.IsZero() {
				p.UpdatedAt = out.Timestamp
			}
			if err := s.upsertPost(ctx, tx, id, p); err != nil {
				return fmt.Errorf("post %s: %w", p.ExternalPostID, err)
			}
		}
		if s.beforeCommit != nil {
			return s.beforeCommit()
		}
		return nil
	})
	return out, wrap("persist cycle", err)
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) nowUTC() time.Time { return s.now().UTC().Truncate(time.Second) }

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }
