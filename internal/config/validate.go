package config

import (
	"errors"
	"fmt"

	"socialpulse/internal/model"
)

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if len(c.Targets) == 0 {
		errs = append(errs, errors.New("no targets configured"))
	}
	seen := make(map[string]bool)
	for i, tc := range c.Targets {
		p, ok := model.ParsePlatform(tc.Platform)
		if !ok {
			errs = append(errs, fmt.Errorf("targets[%d]: unknown platform %q", i, tc.Platform))
			continue
		}
		if model.CleanHandle(p, tc.Handle) == "" {
			errs = append(errs, fmt.Errorf("targets[%d]: empty handle", i))
			continue
		}
		if tc.Interval < 0 {
			errs = append(errs, fmt.Errorf("targets[%d]: negative interval", i))
		}
		key := model.Target{Platform: p, Handle: tc.Handle}.Key()
		if seen[key] {
			errs = append(errs, fmt.Errorf("targets[%d]: duplicate target %s", i, key))
		}
		seen[key] = true
	}
	if c.Polling.Interval <= 0 {
		errs = append(errs, errors.New("polling.interval must be positive"))
	}
	if c.RateLimit.MaxBackoff < c.RateLimit.BaseBackoff {
		errs = append(errs, errors.New("rateLimit.maxBackoff must be >= rateLimit.baseBackoff"))
	}
	switch c.Storage.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	return errors.Join(errs...)
}
