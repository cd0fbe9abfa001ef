// Package store persists accounts, append-only metric snapshots and mutable
// post records. SQLite is the default backend; PostgreSQL is supported for
// shared deployments.
package store

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"socialpulse/internal/model"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func init() {
	// modernc registers as "sqlite", which sqlx does not know.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Store is safe for concurrent use. Writes for one account are serialized.
type Store struct {
	db      *sqlx.DB
	dialect dialect
	locks   *keyedMutex
	now     func() time.Time

	// beforeCommit, when set, runs inside PersistCycle just before commit.
	beforeCommit func() error
}

// Open connects to driver ("sqlite" or "postgres") and migrates the schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var (
		db  *sqlx.DB
		d   dialect
		err error
	)
	switch driver {
	case DriverSQLite, "":
		d = sqliteDialect
		db, err = sqlx.Open("sqlite", dsn)
		if err == nil {
			// One writer; WAL keeps readers from blocking on it.
			db.SetMaxOpenConns(1)
			_, err = db.ExecContext(ctx, `PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA foreign_keys=ON; PRAGMA busy_timeout=5000;`)
		}
	case DriverPostgres:
		d = postgresDialect
		db, err = sqlx.Open("pgx", dsn)
		if err == nil {
			db.SetMaxOpenConns(10)
			db.SetConnMaxIdleTime(5 * time.Minute)
		}
	default:
		return nil, &model.StorageError{Op: "open", Err: fmt.Errorf("unknown driver %q", driver)}
	}
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, &model.StorageError{Op: "open", Err: err}
	}
	s := &Store{db: db, dialect: d, locks: newKeyedMutex(), now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return wrap("ping", s.db.PingContext(ctx))
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &model.StorageError{Op: "migrate", Err: err}
		}
	}
	return nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &model.StorageError{Op: op, Err: err}
}

type dialect struct {
	name   string
	schema []string
	// lockAccount locks the account row for the rest of the transaction.
	lockAccount string
}

var sqliteDialect = dialect{
	name: DriverSQLite,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS accounts (
		  id INTEGER PRIMARY KEY AUTOINCREMENT,
		  platform TEXT NOT NULL,
		  external_id TEXT NOT NULL,
		  handle TEXT NOT NULL DEFAULT '',
		  first_seen INTEGER NOT NULL,
		  UNIQUE(platform, external_id)
		)`,
		`CREATE TABLE IF NOT EXISTS metric_snapshots (
		  id INTEGER PRIMARY KEY AUTOINCREMENT,
		  account_id INTEGER NOT NULL REFERENCES accounts(id),
		  timestamp_utc INTEGER NOT NULL,
		  follower_count INTEGER NOT NULL DEFAULT 0,
		  follower_growth INTEGER NOT NULL DEFAULT 0,
		  impressions INTEGER NOT NULL DEFAULT 0,
		  engagement_rate REAL NOT NULL DEFAULT 0,
		  link_clicks INTEGER NOT NULL DEFAULT 0,
		  profile_visits INTEGER NOT NULL DEFAULT 0,
		  reposts INTEGER NOT NULL DEFAULT 0,
		  mentions INTEGER NOT NULL DEFAULT 0,
		  UNIQUE(account_id, timestamp_utc)
		)`,
		`CREATE TABLE IF NOT EXISTS posts (
		  id INTEGER PRIMARY KEY AUTOINCREMENT,
		  account_id INTEGER NOT NULL REFERENCES accounts(id),
		  external_post_id TEXT NOT NULL,
		  posted_at INTEGER NOT NULL DEFAULT 0,
		  impressions INTEGER NOT NULL DEFAULT 0,
		  engagement_count INTEGER NOT NULL DEFAULT 0,
		  share_count INTEGER NOT NULL DEFAULT 0,
		  updated_at INTEGER NOT NULL,
		  UNIQUE(account_id, external_post_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_posted ON posts(account_id, posted_at)`,
	},
}

var postgresDialect = dialect{
	name: DriverPostgres,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS accounts (
		  id BIGSERIAL PRIMARY KEY,
		  platform TEXT NOT NULL,
		  external_id TEXT NOT NULL,
		  handle TEXT NOT NULL DEFAULT '',
		  first_seen BIGINT NOT NULL,
		  UNIQUE(platform, external_id)
		)`,
		`CREATE TABLE IF NOT EXISTS metric_snapshots (
		  id BIGSERIAL PRIMARY KEY,
		  account_id BIGINT NOT NULL REFERENCES accounts(id),
		  timestamp_utc BIGINT NOT NULL,
		  follower_count BIGINT NOT NULL DEFAULT 0,
		  follower_growth BIGINT NOT NULL DEFAULT 0,
		  impressions BIGINT NOT NULL DEFAULT 0,
		  engagement_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		  link_clicks BIGINT NOT NULL DEFAULT 0,
		  profile_visits BIGINT NOT NULL DEFAULT 0,
		  reposts BIGINT NOT NULL DEFAULT 0,
		  mentions BIGINT NOT NULL DEFAULT 0,
		  UNIQUE(account_id, timestamp_utc)
		)`,
		`CREATE TABLE IF NOT EXISTS posts (
		  id BIGSERIAL PRIMARY KEY,
		  account_id BIGINT NOT NULL REFERENCES accounts(id),
		  external_post_id TEXT NOT NULL,
		  posted_at BIGINT NOT NULL DEFAULT 0,
		  impressions BIGINT NOT NULL DEFAULT 0,
		  engagement_count BIGINT NOT NULL DEFAULT 0,
		  share_count BIGINT NOT NULL DEFAULT 0,
		  updated_at BIGINT NOT NULL,
		  UNIQUE(account_id, external_post_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_posted ON posts(account_id, posted_at)`,
	},
	lockAccount: `SELECT id FROM accounts WHERE id = ? FOR UPDATE`,
}
