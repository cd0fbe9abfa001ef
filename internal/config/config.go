package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"socialpulse/internal/model"
)

// Config is the application's configuration model.
// It captures the tracked targets, polling cadence, rate-limit tuning,
// provider credentials, and where history is stored.
type Config struct {
	Targets     []TargetConfig    `yaml:"targets"`
	Polling     PollingConfig     `yaml:"polling"`
	RateLimit   RateLimitConfig   `yaml:"rateLimit"`
	HTTP        HTTPConfig        `yaml:"http"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Discord     DiscordConfig     `yaml:"discord"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
	Server      ServerConfig      `yaml:"server"`
	Kafka       KafkaConfig       `yaml:"kafka"`
}

type TargetConfig struct {
	Platform string `yaml:"platform"`
	Handle   string `yaml:"handle"`
	// Optional per-target override of polling.interval
	Interval time.Duration `yaml:"interval,omitempty"`
}

type PollingConfig struct {
	Interval           time.Duration `yaml:"interval"`
	MaxPersistAttempts int           `yaml:"maxPersistAttempts"`
	PersistRetryDelay  time.Duration `yaml:"persistRetryDelay"`
	// Upper bound for a single provider call
	CallTimeout time.Duration `yaml:"callTimeout"`
}

type RateLimitConfig struct {
	SafetyMargin time.Duration `yaml:"safetyMargin"`
	BaseBackoff  time.Duration `yaml:"baseBackoff"`
	MaxBackoff   time.Duration `yaml:"maxBackoff"`
}

// HTTPConfig paces and retries raw provider requests.
type HTTPConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	RPS         float64       `yaml:"rps"`
	Burst       int           `yaml:"burst"`
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseBackoff time.Duration `yaml:"baseBackoff"`
}

type CredentialsConfig struct {
	// X API bearer token. If empty, read from env X_BEARER_TOKEN
	XBearerToken string `yaml:"xBearerToken"`
	// If empty, read from env TELEGRAM_BOT_TOKEN
	TelegramBotToken string `yaml:"telegramBotToken"`
	// If empty, read from env DISCORD_BOT_TOKEN
	DiscordBotToken string `yaml:"discordBotToken"`
	Reddit          RedditCredentials `yaml:"reddit"`
}

// RedditCredentials are script-app credentials. Empty ID means read-only
// anonymous access.
type RedditCredentials struct {
	ClientID     string `yaml:"clientId"`
	ClientSecret string `yaml:"clientSecret"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	UserAgent    string `yaml:"userAgent"`
}

type DiscordConfig struct {
	// How many text channels to sample for recent messages
	MaxChannels int `yaml:"maxChannels"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

type ServerConfig struct {
	// Listen address of the read API; empty disables it
	Addr string `yaml:"addr"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`

	// Events buffered ahead of the producer; new events are dropped when full.
	QueueSize int `yaml:"queue_size"`
}

// Default returns a sensible default configuration.
func Default() Config {
	return Config{
		Targets: []TargetConfig{
			{Platform: "mock", Handle: "demo"},
		},
		Polling: PollingConfig{
			Interval:           DefaultInterval,
			MaxPersistAttempts: DefaultMaxPersistAttempts,
			PersistRetryDelay:  DefaultPersistRetryDelay,
			CallTimeout:        DefaultCallTimeout,
		},
		RateLimit: RateLimitConfig{
			SafetyMargin: DefaultSafetyMargin,
			BaseBackoff:  DefaultBaseBackoff,
			MaxBackoff:   DefaultMaxBackoff,
		},
		HTTP: HTTPConfig{
			Timeout:     DefaultHTTPTimeout,
			RPS:         DefaultHTTPRPS,
			Burst:       DefaultHTTPBurst,
			MaxAttempts: DefaultHTTPMaxAttempts,
			BaseBackoff: DefaultHTTPBaseBackoff,
		},
		Discord: DiscordConfig{MaxChannels: DefaultDiscordMaxChannels},
		Storage: StorageConfig{Driver: DriverSQLite, DSN: DefaultSQLitePath},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Server:  ServerConfig{Addr: DefaultServerAddr},
		Kafka:   KafkaConfig{Topic: DefaultKafkaTopic, QueueSize: DefaultKafkaQueueSize},
	}
}

// ResolveEnv fills in config fields from environment variables if not set.
func (c *Config) ResolveEnv() {
	setIfEmpty(&c.Credentials.XBearerToken, "X_BEARER_TOKEN")
	setIfEmpty(&c.Credentials.TelegramBotToken, "TELEGRAM_BOT_TOKEN")
	setIfEmpty(&c.Credentials.DiscordBotToken, "DISCORD_BOT_TOKEN")
	setIfEmpty(&c.Credentials.Reddit.ClientID, "REDDIT_CLIENT_ID")
	setIfEmpty(&c.Credentials.Reddit.ClientSecret, "REDDIT_CLIENT_SECRET")
	setIfEmpty(&c.Credentials.Reddit.Username, "REDDIT_USERNAME")
	setIfEmpty(&c.Credentials.Reddit.Password, "REDDIT_PASSWORD")
	setIfEmpty(&c.Credentials.Reddit.UserAgent, "REDDIT_USER_AGENT")
	setIfEmpty(&c.Storage.DSN, "SOCIALPULSE_DSN")

	// Env overrides for HTTP pacing, handy when sharing one token across tools.
	if v := os.Getenv("X_API_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.HTTP.RPS = f
		}
	}
	if v := os.Getenv("X_API_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.HTTP.Burst = n
		}
	}
	if v := os.Getenv("X_API_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.HTTP.MaxAttempts = n
		}
	}
	if v := os.Getenv("X_API_BASE_BACKOFF_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.HTTP.BaseBackoff = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.Server.Addr = v
	}
}

func setIfEmpty(dst *string, env string) {
	if *dst == "" {
		*dst = os.Getenv(env)
	}
}

// Load reads YAML config from path. A .env file in the working directory,
// if present, is loaded first.
func Load(path string) (Config, error) {
	_ = godotenv.Load()
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	// Decoding over the defaults keeps any section the file omits.
	cfg.Targets = nil
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	cfg.applyDefaults()
	cfg.ResolveEnv()
	return cfg, nil
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// ModelTargets converts configured targets, applying the global interval
// where no override is set. Call Validate first.
func (c Config) ModelTargets() []model.Target {
	out := make([]model.Target, 0, len(c.Targets))
	for _, tc := range c.Targets {
		p, ok := model.ParsePlatform(tc.Platform)
		if !ok {
			continue
		}
		iv := tc.Interval
		if iv <= 0 {
			iv = c.Polling.Interval
		}
		out = append(out, model.Target{Platform: p, Handle: model.CleanHandle(p, tc.Handle), Interval: iv})
	}
	return out
}
