package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialpulse/internal/logging"
	"socialpulse/internal/metrics"
	"socialpulse/internal/model"
)

var alice = model.Target{Platform: model.PlatformX, Handle: "alice"}

func TestKafkaSinkPublishesJSON(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var w wireEvent
		if err := json.Unmarshal(val, &w); err != nil {
			return err
		}
		if w.Kind != "cycle_completed" || w.Snapshot == nil || w.Snapshot.FollowerGrowth != 15 {
			return errors.New("unexpected payload: " + string(val))
		}
		return nil
	})
	sink := NewKafkaSink(sp, "socialpulse.cycles", 8)
	sink.Publish(context.Background(), Event{
		Kind:     CycleCompleted,
		Time:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Target:   alice,
		Snapshot: &model.MetricSnapshot{FollowerCount: 115, FollowerGrowth: 15, EngagementRate: 4},
		Posts:    2,
	})
	require.NoError(t, sink.Close())
}

func TestKafkaSinkSwallowsSendErrors(t *testing.T) {
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	defer logging.SetOutput(os.Stdout)

	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	sink := NewKafkaSink(sp, "t", 8)
	sink.Publish(context.Background(), Event{Kind: CycleFailed, Target: alice, Err: errors.New("boom")})
	require.NoError(t, sink.Close())
	assert.Contains(t, buf.String(), "kafka_publish_failed")
}

// stalledProducer blocks every send until release is closed, like a broker
// that accepts connections but never acks.
type stalledProducer struct {
	*mocks.SyncProducer
	release chan struct{}
	sends   atomic.Int32
}

func (p *stalledProducer) SendMessage(*sarama.ProducerMessage) (int32, int64, error) {
	p.sends.Add(1)
	<-p.release
	return 0, 0, nil
}

func TestKafkaSinkPublishDoesNotWaitOnBroker(t *testing.T) {
	sp := &stalledProducer{SyncProducer: mocks.NewSyncProducer(t, nil), release: make(chan struct{})}
	sink := NewKafkaSink(sp, "t", 1)
	sink.FlushTimeout = 50 * time.Millisecond
	before := testutil.ToFloat64(metrics.KafkaDropped)

	start := time.Now()
	for i := 0; i < 5; i++ {
		sink.Publish(context.Background(), Event{Kind: RateLimitWaiting, Target: alice, Wait: time.Minute})
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.KafkaDropped)-before, 3.0)

	start = time.Now()
	require.NoError(t, sink.Close())
	assert.Less(t, time.Since(start), time.Second)

	close(sp.release)
	select {
	case <-sink.done:
	case <-time.After(2 * time.Second):
		t.Fatal("sender did not exit after the broker recovered")
	}
	assert.LessOrEqual(t, sp.sends.Load(), int32(2))
}

func TestToWireRateLimit(t *testing.T) {
	reset := time.Date(2024, 3, 1, 12, 15, 0, 0, time.UTC)
	w := toWire(Event{Kind: RateLimitWaiting, Target: alice, Provider: model.PlatformX, Wait: 90 * time.Second, ResetAt: reset})
	assert.Equal(t, 90.0, w.Wait)
	require.NotNil(t, w.ResetAt)
	assert.Equal(t, reset, *w.ResetAt)
	assert.Nil(t, w.Extra)
}

func TestMultiAndRecorder(t *testing.T) {
	rec := NewRecorder(4)
	var calls int
	m := Multi{rec, nil, SinkFunc(func(context.Context, Event) { calls++ })}
	m.Publish(context.Background(), Event{Kind: CycleCompleted, Target: alice})
	m.Publish(context.Background(), Event{Kind: CycleFailed, Target: alice})

	assert.Equal(t, 2, calls)
	assert.Len(t, rec.Of(CycleFailed), 1)
	e := <-rec.C()
	assert.Equal(t, CycleCompleted, e.Kind)
}

func TestMetricsSink(t *testing.T) {
	before := testutil.ToFloat64(metrics.TerminalFailures.WithLabelValues("telegram"))
	MetricsSink{}.Publish(context.Background(), Event{
		Kind: PollerStopped, Target: model.Target{Platform: model.PlatformTelegram, Handle: "x"}, Err: errors.New("gone"),
	})
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.TerminalFailures.WithLabelValues("telegram")))
}

func TestLogSinkWritesEventName(t *testing.T) {
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	defer logging.SetOutput(os.Stdout)

	LogSink{}.Publish(context.Background(), Event{Kind: RateLimitWaiting, Target: alice, Provider: model.PlatformX, Wait: time.Minute})
	assert.Contains(t, buf.String(), `"message":"rate_limit_waiting"`)
	assert.Contains(t, buf.String(), `"wait_seconds":60`)
}
