package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialpulse/internal/model"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	s.now = func() time.Time { return t0 }
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertAccountIsIdempotent(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	a, err := s.UpsertAccount(ctx, model.PlatformX, "42", "alice")
	require.NoError(t, err)
	b, err := s.UpsertAccount(ctx, model.PlatformX, "42", "alice_renamed")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	accts, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accts, 1)
	assert.Equal(t, "alice", accts[0].Handle)
	assert.Equal(t, t0, accts[0].FirstSeen)
}

func TestFollowerGrowthSequence(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	id, err := s.UpsertAccount(ctx, model.PlatformX, "42", "alice")
	require.NoError(t, err)

	var growth []int64
	for i, n := range []int64{100, 110, 105} {
		snap, err := s.AppendSnapshot(ctx, id, model.MetricSnapshot{
			Timestamp: t0.Add(time.Duration(i) * time.Hour), FollowerCount: n,
		})
		require.NoError(t, err)
		growth = append(growth, snap.FollowerGrowth)
	}
	assert.Equal(t, []int64{0, 10, -5}, growth)

	latest, ok, err := s.LatestSnapshot(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 105, latest.FollowerCount)
	assert.Equal(t, t0.Add(2*time.Hour), latest.Timestamp)
}

func TestTimestampsStrictlyIncrease(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	id, err := s.UpsertAccount(ctx, model.PlatformX, "42", "alice")
	require.NoError(t, err)

	ts := t0.Add(500 * time.Millisecond)
	for i := 0; i < 3; i++ {
		_, err := s.AppendSnapshot(ctx, id, model.MetricSnapshot{Timestamp: ts, FollowerCount: int64(i)})
		require.NoError(t, err)
	}
	snaps, err := s.Snapshots(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, t0, snaps[0].Timestamp)
	assert.Equal(t, t0.Add(time.Second), snaps[1].Timestamp)
	assert.Equal(t, t0.Add(2*time.Second), snaps[2].Timestamp)

	recent, err := s.Snapshots(ctx, id, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.EqualValues(t, 1, recent[0].FollowerCount)
}

func TestLatestSnapshotMissing(t *testing.T) {
	s := openTest(t)
	_, ok, err := s.LatestSnapshot(context.Background(), 99)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpsertPostUpdatesInPlace(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	id, err := s.UpsertAccount(ctx, model.PlatformX, "42", "alice")
	require.NoError(t, err)

	posted := t0.Add(-time.Hour)
	require.NoError(t, s.UpsertPost(ctx, id, model.PostRecord{ExternalPostID: "t1", PostedAt: posted, Impressions: 10}))
	require.NoError(t, s.UpsertPost(ctx, id, model.PostRecord{ExternalPostID: "t1", Impressions: 50, EngagementCount: 4}))

	posts, err := s.Posts(ctx, id, 10)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.EqualValues(t, 50, posts[0].Impressions)
	assert.EqualValues(t, 4, posts[0].EngagementCount)
	assert.Equal(t, posted, posts[0].PostedAt, "a missing posted_at keeps the stored one")
}

func TestPersistCycleEndToEnd(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	id, err := s.UpsertAccount(ctx, model.PlatformX, "42", "alice")
	require.NoError(t, err)
	_, err = s.AppendSnapshot(ctx, id, model.MetricSnapshot{Timestamp: t0.Add(-6 * time.Hour), FollowerCount: 100})
	require.NoError(t, err)

	snap, err := s.PersistCycle(ctx, model.CycleData{
		Platform: model.PlatformX, ExternalID: "42", Handle: "alice",
		Snapshot: model.MetricSnapshot{Timestamp: t0, FollowerCount: 115, Impressions: 500, EngagementRate: 4.0},
		Posts: []model.PostRecord{
			{ExternalPostID: "t1", Impressions: 300, EngagementCount: 8},
			{ExternalPostID: "t2", Impressions: 200, EngagementCount: 12},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, id, snap.AccountID)
	assert.EqualValues(t, 15, snap.FollowerGrowth)
	assert.Equal(t, 4.0, snap.EngagementRate)

	posts, err := s.Posts(ctx, id, 0)
	require.NoError(t, err)
	assert.Len(t, posts, 2)
	assert.Equal(t, t0, posts[0].UpdatedAt)
}

func TestPersistCycleIsAtomic(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	boom := errors.New("disk full")
	s.beforeCommit = func() error { return boom }

	_, err := s.PersistCycle(ctx, model.CycleData{
		Platform: model.PlatformX, ExternalID: "42", Handle: "alice",
		Snapshot: model.MetricSnapshot{Timestamp: t0, FollowerCount: 115},
		Posts:    []model.PostRecord{{ExternalPostID: "t1"}},
	})
	var se *model.StorageError
	require.True(t, errors.As(err, &se))
	assert.ErrorIs(t, err, boom)

	accts, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, accts, "account row must roll back with the cycle")

	s.beforeCommit = nil
	snap, err := s.PersistCycle(ctx, model.CycleData{
		Platform: model.PlatformX, ExternalID: "42", Handle: "alice",
		Snapshot: model.MetricSnapshot{Timestamp: t0, FollowerCount: 115},
	})
	require.NoError(t, err)
	assert.Zero(t, snap.FollowerGrowth)
}

func TestConcurrentPersistSameAccount(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.PersistCycle(ctx, model.CycleData{
				Platform: model.PlatformDiscord, ExternalID: "1", Handle: "gophers",
				Snapshot: model.MetricSnapshot{Timestamp: t0, FollowerCount: int64(100 + n)},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	acct, ok, err := s.FindAccount(ctx, model.PlatformDiscord, "1")
	require.NoError(t, err)
	require.True(t, ok)
	snaps, err := s.Snapshots(ctx, acct.ID, 0)
	require.NoError(t, err)
	require.Len(t, snaps, 8)
	for i := 1; i < len(snaps); i++ {
		assert.True(t, snaps[i].Timestamp.After(snaps[i-1].Timestamp))
		assert.Equal(t, snaps[i].FollowerCount-snaps[i-1].FollowerCount, snaps[i].FollowerGrowth)
	}
}

func TestFindAccountByHandle(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	_, err := s.UpsertAccount(ctx, model.PlatformReddit, "2rc7j", "golang")
	require.NoError(t, err)

	a, ok, err := s.FindAccount(ctx, model.PlatformReddit, "r/GoLang")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2rc7j", a.ExternalID)

	_, ok, err = s.FindAccount(ctx, model.PlatformX, "golang")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "")
	var se *model.StorageError
	assert.True(t, errors.As(err, &se))
}
