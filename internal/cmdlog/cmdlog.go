package cmdlog

import (
	"time"

	"socialpulse/internal/logging"
	"socialpulse/internal/metrics"
)

// Run executes one CLI command, counting it and logging how it ended.
func Run(cmd string, f func() error) error {
	metrics.IncCommandRun(cmd)
	start := time.Now()
	err := f()
	fields := map[string]any{"command": cmd, "duration_ms": time.Since(start).Milliseconds()}
	if err != nil {
		metrics.IncCommandError(cmd)
		fields["error"] = err.Error()
		logging.Error("command_failed", fields)
	} else {
		logging.Info("command_ok", fields)
	}
	return err
}
