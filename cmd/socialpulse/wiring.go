package main

import (
	"context"
	"net/http"

	"github.com/jonboulle/clockwork"

	"socialpulse/internal/config"
	"socialpulse/internal/events"
	"socialpulse/internal/logging"
	"socialpulse/internal/model"
	"socialpulse/internal/orchestrator"
	"socialpulse/internal/poller"
	"socialpulse/internal/provider"
	"socialpulse/internal/provider/discord"
	"socialpulse/internal/provider/fake"
	"socialpulse/internal/provider/httpx"
	"socialpulse/internal/provider/reddit"
	"socialpulse/internal/provider/telegram"
	"socialpulse/internal/provider/xapi"
	"socialpulse/internal/ratelimit"
	"socialpulse/internal/store"
)

// loadConfig reads and validates the config and applies its logging section.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	logging.Configure(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, cfg.Validate()
}

// buildProviders creates one provider per platform the targets use. Missing
// credentials only warn: the provider's first call then fails as an invalid
// target and stops just those pollers.
func buildProviders(cfg config.Config, targets []model.Target, clock clockwork.Clock) (provider.Set, error) {
	needed := map[model.Platform]bool{}
	for _, t := range targets {
		needed[t.Platform] = true
	}
	httpOpts := []httpx.Option{
		httpx.WithHTTPClient(&http.Client{Timeout: cfg.HTTP.Timeout}),
		httpx.WithPacing(cfg.HTTP.RPS, cfg.HTTP.Burst),
		httpx.WithRetries(cfg.HTTP.MaxAttempts, cfg.HTTP.BaseBackoff),
	}
	warnMissing := func(p model.Platform, env string) {
		logging.Warn("missing_credentials", map[string]any{"platform": string(p), "env": env})
	}

	set := provider.Set{}
	for p := range needed {
		switch p {
		case model.PlatformX:
			if cfg.Credentials.XBearerToken == "" {
				warnMissing(p, "X_BEARER_TOKEN")
			}
			set.Add(xapi.New(cfg.Credentials.XBearerToken, httpOpts...))
		case model.PlatformTelegram:
			if cfg.Credentials.TelegramBotToken == "" {
				warnMissing(p, "TELEGRAM_BOT_TOKEN")
			}
			set.Add(telegram.New(cfg.Credentials.TelegramBotToken, httpOpts...))
		case model.PlatformDiscord:
			if cfg.Credentials.DiscordBotToken == "" {
				warnMissing(p, "DISCORD_BOT_TOKEN")
			}
			d := discord.New(cfg.Credentials.DiscordBotToken, httpOpts...)
			d.MaxChannels = cfg.Discord.MaxChannels
			set.Add(d)
		case model.PlatformReddit:
			rc := cfg.Credentials.Reddit
			r, err := reddit.New(reddit.Credentials{
				ID: rc.ClientID, Secret: rc.ClientSecret, Username: rc.Username, Password: rc.Password, UserAgent: rc.UserAgent,
			})
			if err != nil {
				return nil, err
			}
			set.Add(r)
		case model.PlatformMock:
			set.Add(fake.NewDemo(clock))
		}
	}
	return set, nil
}

// buildSink always logs and counts events; Kafka is added when brokers are
// configured. The returned closer releases the producer.
func buildSink(cfg config.Config) (events.Sink, func(), error) {
	sinks := events.Multi{events.LogSink{}, events.MetricsSink{}}
	if len(cfg.Kafka.Brokers) == 0 {
		return sinks, func() {}, nil
	}
	producer, err := events.NewKafkaProducer(cfg.Kafka.Brokers)
	if err != nil {
		return nil, nil, err
	}
	k := events.NewKafkaSink(producer, cfg.Kafka.Topic, cfg.Kafka.QueueSize)
	logging.Info("kafka_sink_enabled", map[string]any{"brokers": cfg.Kafka.Brokers, "topic": cfg.Kafka.Topic})
	return append(sinks, k), func() {
		if err := k.Close(); err != nil {
			logging.Warn("kafka_close_failed", map[string]any{"error": err.Error()})
		}
	}, nil
}

func openStore(ctx context.Context, cfg config.Config) (*store.Store, error) {
	return store.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
}

// engine is everything run and scan share.
type engine struct {
	store *store.Store
	orch  *orchestrator.Orchestrator
	close func()
}

func buildEngine(ctx context.Context, cfg config.Config, targets []model.Target) (*engine, error) {
	clock := clockwork.NewRealClock()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	providers, err := buildProviders(cfg, targets, clock)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	sink, closeSink, err := buildSink(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	limiters := ratelimit.NewRegistry(ratelimit.Config{
		SafetyMargin: cfg.RateLimit.SafetyMargin,
		BaseBackoff:  cfg.RateLimit.BaseBackoff,
		MaxBackoff:   cfg.RateLimit.MaxBackoff,
	}, clock)
	orch := orchestrator.New(providers, limiters, st, sink, clock, poller.Config{
		Interval:           cfg.Polling.Interval,
		MaxPersistAttempts: cfg.Polling.MaxPersistAttempts,
		PersistRetryDelay:  cfg.Polling.PersistRetryDelay,
		CallTimeout:        cfg.Polling.CallTimeout,
	})
	return &engine{store: st, orch: orch, close: func() {
		closeSink()
		_ = st.Close()
	}}, nil
}
