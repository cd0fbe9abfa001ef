package config

import "time"

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	DefaultInterval           = 6 * time.Hour
	DefaultMaxPersistAttempts = 3
	DefaultPersistRetryDelay  = 2 * time.Second
	DefaultCallTimeout        = 30 * time.Second

	DefaultSafetyMargin = time.Second
	DefaultBaseBackoff  = 5 * time.Second
	DefaultMaxBackoff   = 15 * time.Minute

	DefaultHTTPTimeout     = 20 * time.Second
	DefaultHTTPRPS         = 1.0
	DefaultHTTPBurst       = 2
	DefaultHTTPMaxAttempts = 3
	DefaultHTTPBaseBackoff = 500 * time.Millisecond

	DefaultDiscordMaxChannels = 5
	DefaultSQLitePath         = "./socialpulse.db"
	DefaultServerAddr         = ":9108"
	DefaultKafkaTopic         = "socialpulse.cycles"
	DefaultKafkaQueueSize     = 1024
)

func (c *Config) applyDefaults() {
	if c.Polling.Interval <= 0 {
		c.Polling.Interval = DefaultInterval
	}
	if c.Polling.MaxPersistAttempts <= 0 {
		c.Polling.MaxPersistAttempts = DefaultMaxPersistAttempts
	}
	if c.Polling.PersistRetryDelay <= 0 {
		c.Polling.PersistRetryDelay = DefaultPersistRetryDelay
	}
	if c.Polling.CallTimeout <= 0 {
		c.Polling.CallTimeout = DefaultCallTimeout
	}
	if c.RateLimit.SafetyMargin <= 0 {
		c.RateLimit.SafetyMargin = DefaultSafetyMargin
	}
	if c.RateLimit.BaseBackoff <= 0 {
		c.RateLimit.BaseBackoff = DefaultBaseBackoff
	}
	if c.RateLimit.MaxBackoff <= 0 {
		c.RateLimit.MaxBackoff = DefaultMaxBackoff
	}
	if c.HTTP.Timeout <= 0 {
		c.HTTP.Timeout = DefaultHTTPTimeout
	}
	if c.HTTP.RPS <= 0 {
		c.HTTP.RPS = DefaultHTTPRPS
	}
	if c.HTTP.Burst <= 0 {
		c.HTTP.Burst = DefaultHTTPBurst
	}
	if c.HTTP.MaxAttempts <= 0 {
		c.HTTP.MaxAttempts = DefaultHTTPMaxAttempts
	}
	if c.HTTP.BaseBackoff <= 0 {
		c.HTTP.BaseBackoff = DefaultHTTPBaseBackoff
	}
	if c.Discord.MaxChannels <= 0 {
		c.Discord.MaxChannels = DefaultDiscordMaxChannels
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverSQLite
	}
	if c.Storage.DSN == "" && c.Storage.Driver == DriverSQLite {
		c.Storage.DSN = DefaultSQLitePath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = DefaultKafkaTopic
	}
	if c.Kafka.QueueSize <= 0 {
		c.Kafka.QueueSize = DefaultKafkaQueueSize
	}
}
