package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"socialpulse/internal/logging"
	"socialpulse/internal/metrics"
)

// DefaultKafkaFlushTimeout bounds how long Close keeps sending queued events.
const DefaultKafkaFlushTimeout = 2 * time.Second

// KafkaSink publishes events as JSON, keyed by target so one account's
// history stays on one partition. Sends happen on a single background
// goroutine behind a bounded queue; Publish never waits on the broker.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
	queue    chan *sarama.ProducerMessage
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
	closeErr error

	// FlushTimeout bounds Close; zero means DefaultKafkaFlushTimeout.
	FlushTimeout time.Duration
}

// NewKafkaProducer builds a sync producer that waits for all replicas.
func NewKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_8_1_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Timeout = 5 * time.Second
	return sarama.NewSyncProducer(brokers, cfg)
}

// NewKafkaSink starts the sender goroutine. queueSize below one is treated
// as one.
func NewKafkaSink(producer sarama.SyncProducer, topic string, queueSize int) *KafkaSink {
	if queueSize < 1 {
		queueSize = 1
	}
	k := &KafkaSink{
		producer: producer,
		topic:    topic,
		queue:    make(chan *sarama.ProducerMessage, queueSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go k.loop()
	return k
}

// Close flushes what is queued for up to FlushTimeout and closes the
// producer. If a send is still stuck at the deadline Close returns anyway and
// the sender closes the producer once that send gives up.
func (k *KafkaSink) Close() error {
	k.once.Do(func() { close(k.stop) })
	select {
	case <-k.done:
		return k.closeErr
	case <-time.After(k.flushTimeout() + 100*time.Millisecond):
		logging.Warn("kafka_close_timeout", map[string]any{"topic": k.topic, "queued": len(k.queue)})
		return nil
	}
}

func (k *KafkaSink) flushTimeout() time.Duration {
	if k.FlushTimeout > 0 {
		return k.FlushTimeout
	}
	return DefaultKafkaFlushTimeout
}

func (k *KafkaSink) loop() {
	defer close(k.done)
	defer func() { k.closeErr = k.producer.Close() }()
	for {
		select {
		case <-k.stop:
			k.flush()
			return
		default:
		}
		select {
		case msg := <-k.queue:
			k.send(msg)
		case <-k.stop:
			k.flush()
			return
		}
	}
}

// flush sends what is left in the queue until the flush deadline and drops
// the rest.
func (k *KafkaSink) flush() {
	deadline := time.Now().Add(k.flushTimeout())
	dropped := 0
	for {
		select {
		case msg := <-k.queue:
			if time.Now().After(deadline) {
				dropped++
				metrics.KafkaDropped.Inc()
				continue
			}
			k.send(msg)
		default:
			if dropped > 0 {
				logging.Warn("kafka_flush_dropped", map[string]any{"topic": k.topic, "dropped": dropped})
			}
			return
		}
	}
}

func (k *KafkaSink) send(msg *sarama.ProducerMessage) {
	if _, _, err := k.producer.SendMessage(msg); err != nil {
		logging.Warn("kafka_publish_failed", map[string]any{"topic": k.topic, "error": err.Error()})
	}
}

// wireEvent is the JSON shape on the topic.
type wireEvent struct {
	Kind     string         `json:"kind"`
	Time     time.Time      `json:"time"`
	CycleID  string         `json:"cycleId,omitempty"`
	Platform string         `json:"platform"`
	Handle   string         `json:"handle"`
	Snapshot *wireSnapshot  `json:"snapshot,omitempty"`
	Posts    int            `json:"posts,omitempty"`
	Wait     float64        `json:"waitSeconds,omitempty"`
	ResetAt  *time.Time     `json:"resetAt,omitempty"`
	Error    string         `json:"error,omitempty"`
	Retrying bool           `json:"retrying,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

type wireSnapshot struct {
	AccountID      int64     `json:"accountId"`
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

func toWire(e Event) wireEvent {
	w := wireEvent{
		Kind:     string(e.Kind),
		Time:     e.Time.UTC(),
		CycleID:  e.CycleID,
		Platform: string(e.Target.Platform),
		Handle:   e.Target.Handle,
		Posts:    e.Posts,
		Wait:     e.Wait.Seconds(),
		Retrying: e.Retrying,
	}
	if s := e.Snapshot; s != nil {
		w.Snapshot = &wireSnapshot{
			AccountID: s.AccountID, Timestamp: s.Timestamp.UTC(),
			FollowerCount: s.FollowerCount, FollowerGrowth: s.FollowerGrowth,
			Impressions: s.Impressions, EngagementRate: s.EngagementRate,
			LinkClicks: s.LinkClicks, ProfileVisits: s.ProfileVisits,
			Reposts: s.Reposts, Mentions: s.Mentions,
		}
	}
	if !e.ResetAt.IsZero() {
		r := e.ResetAt.UTC()
		w.ResetAt = &r
	}
	if e.Err != nil {
		w.Error = e.Err.Error()
	}
	if e.Provider != "" && e.Provider != e.Target.Platform {
		w.Extra = map[string]any{"provider": string(e.Provider)}
	}
	return w
}

// Publish encodes e and queues it. When the queue is full the event is
// dropped and counted.
func (k *KafkaSink) Publish(_ context.Context, e Event) {
	b, err := json.Marshal(toWire(e))
	if err != nil {
		logging.Error("kafka_encode_failed", map[string]any{"kind": string(e.Kind), "error": err.Error()})
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(e.Target.Key()),
		Value: sarama.ByteEncoder(b),
	}
	select {
	case <-k.stop:
		metrics.KafkaDropped.Inc()
		return
	default:
	}
	select {
	case k.queue <- msg:
	default:
		metrics.KafkaDropped.Inc()
		logging.Warn("kafka_event_dropped", map[string]any{"kind": string(e.Kind), "topic": k.topic, "reason": "queue full"})
	}
}
