package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialpulse/internal/events"
	"socialpulse/internal/metrics"
	"socialpulse/internal/model"
	"socialpulse/internal/poller"
	"socialpulse/internal/provider"
	"socialpulse/internal/provider/fake"
	"socialpulse/internal/ratelimit"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type memStore struct {
	mu    sync.Mutex
	saved map[string]int
}

func (m *memStore) PersistCycle(_ context.Context, cd model.CycleData) (model.MetricSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = make(map[string]int)
	}
	m.saved[cd.Handle]++
	return cd.Snapshot, nil
}

func (m *memStore) count(handle string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved[handle]
}

// scripted answers per handle so one provider can serve several targets.
type scripted struct {
	platform model.Platform
	byHandle map[string]fake.Step
}

func (s *scripted) Platform() model.Platform { return s.platform }

func (s *scripted) FetchAccount(ctx context.Context, h string) (provider.AccountPayload, ratelimit.Observation, error) {
	st := s.byHandle[h]
	if st.Err != nil {
		return nil, ratelimit.Observation{}, st.Err
	}
	if st.Account == nil {
		panic("no script for " + h)
	}
	return st.Account, ratelimit.Observation{}, nil
}

func (s *scripted) FetchRecentPosts(ctx context.Context, h string) ([]provider.PostPayload, ratelimit.Observation, error) {
	return s.byHandle[h].Posts, ratelimit.Observation{}, nil
}

func xStep(id, name string, followers int64) fake.Step {
	return fake.Step{Account: &provider.XUser{ID: id, Username: name, Followers: followers}}
}

func newScripted() *scripted {
	return &scripted{platform: model.PlatformX, byHandle: map[string]fake.Step{
		"alice": xStep("1", "alice", 100),
		"bob":   xStep("2", "bob", 50),
		"ghost": {Err: &model.InvalidTargetError{Target: model.Target{Platform: model.PlatformX, Handle: "ghost"}, Reason: "user not found"}},
	}}
}

func TestDedupeKeepsFirst(t *testing.T) {
	in := []model.Target{
		{Platform: model.PlatformX, Handle: "alice"},
		{Platform: model.PlatformX, Handle: "@Alice"},
		{Platform: model.PlatformReddit, Handle: "alice"},
	}
	out := Dedupe(in)
	require.Len(t, out, 2)
	assert.Equal(t, "alice", out[0].Handle)
	assert.Equal(t, model.PlatformReddit, out[1].Platform)
}

func TestRunIsolatesFailures(t *testing.T) {
	clk := clockwork.NewFakeClockAt(t0)
	rec := events.NewRecorder(64)
	st := &memStore{}
	providers := provider.Set{}
	providers.Add(newScripted())
	o := New(providers, nil, st, rec, clk, testConfig())

	targets := []model.Target{
		{Platform: model.PlatformX, Handle: "alice"},
		{Platform: model.PlatformX, Handle: "ghost"},
		{Platform: model.PlatformX, Handle: "bob"},
		{Platform: model.PlatformX, Handle: "ALICE"},
		{Platform: model.PlatformTelegram, Handle: "news"},
		{Platform: model.PlatformX, Handle: "crash"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Report, 1)
	go func() { done <- o.Run(ctx, targets) }()

	require.Eventually(t, func() bool {
		return st.count("alice") == 1 && st.count("bob") == 1 && len(rec.Of(events.PollerStopped)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	select {
	case <-done:
		t.Fatal("Run must keep going while healthy pollers remain")
	case <-time.After(20 * time.Millisecond):
	}
	cancel()

	var rep Report
	select {
	case rep = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 4, rep.Started)
	require.Len(t, rep.Failures, 3)

	byHandle := map[string]error{}
	for _, f := range rep.Failures {
		byHandle[f.Target.Handle] = f.Err
	}
	var it *model.InvalidTargetError
	assert.True(t, errors.As(byHandle["ghost"], &it))
	assert.True(t, errors.As(byHandle["news"], &it))
	assert.ErrorContains(t, byHandle["crash"], "poller panic")
	assert.Error(t, rep.Err())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.ActivePollers))
}

func TestRunWaitsForCancelWhenAllFail(t *testing.T) {
	providers := provider.Set{}
	providers.Add(newScripted())
	o := New(providers, nil, &memStore{}, nil, clockwork.NewFakeClockAt(t0), testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Report, 1)
	go func() { done <- o.Run(ctx, []model.Target{{Platform: model.PlatformX, Handle: "ghost"}}) }()

	select {
	case <-done:
		t.Fatal("Run returned before cancellation")
	case <-time.After(50 * time.Millisecond):
	}
	cancel()
	rep := <-done
	assert.Len(t, rep.Failures, 1)
}

func TestRunReportsFailuresAsTheyHappen(t *testing.T) {
	providers := provider.Set{}
	providers.Add(newScripted())
	o := New(providers, nil, &memStore{}, nil, clockwork.NewFakeClockAt(t0), testConfig())
	live := make(chan Failure, 4)
	o.OnFailure = func(f Failure) { live <- f }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Report, 1)
	go func() {
		done <- o.Run(ctx, []model.Target{
			{Platform: model.PlatformX, Handle: "alice"},
			{Platform: model.PlatformX, Handle: "ghost"},
			{Platform: model.PlatformReddit, Handle: "golang"},
		})
	}()

	got := map[string]bool{}
	for len(got) < 2 {
		select {
		case f := <-live:
			got[f.Target.Handle] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("failures not reported before cancel, got %v", got)
		}
	}
	assert.True(t, got["ghost"])
	assert.True(t, got["golang"])

	cancel()
	rep := <-done
	assert.Len(t, rep.Failures, 2)
	assert.Empty(t, live)
}

func TestScanOnce(t *testing.T) {
	st := &memStore{}
	providers := provider.Set{}
	providers.Add(newScripted())
	o := New(providers, nil, st, nil, clockwork.NewFakeClockAt(t0), testConfig())
	o.Concurrency = 2

	rep := o.ScanOnce(context.Background(), []model.Target{
		{Platform: model.PlatformX, Handle: "alice"},
		{Platform: model.PlatformX, Handle: "bob"},
		{Platform: model.PlatformX, Handle: "ghost"},
		{Platform: model.PlatformDiscord, Handle: "123"},
	})
	assert.Equal(t, 4, rep.Started)
	assert.Len(t, rep.Failures, 2)
	require.Len(t, rep.Snapshots, 2)
	assert.EqualValues(t, 100, rep.Snapshots["x/alice"].FollowerCount)
	assert.EqualValues(t, 50, rep.Snapshots["x/bob"].FollowerCount)
	assert.Equal(t, 1, st.count("alice"))
}

func TestReportErrNilWhenClean(t *testing.T) {
	assert.NoError(t, Report{}.Err())
}

func testConfig() poller.Config { return poller.Config{Interval: time.Hour} }
