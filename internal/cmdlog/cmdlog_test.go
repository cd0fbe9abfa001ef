package cmdlog

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"socialpulse/internal/logging"
	"socialpulse/internal/metrics"
)

func TestRunCountsErrors(t *testing.T) {
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	defer logging.SetOutput(os.Stdout)

	assert.NoError(t, Run("scan", func() error { return nil }))
	err := Run("scan", func() error { return errors.New("no targets") })
	assert.EqualError(t, err, "no targets")

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.CommandRuns.WithLabelValues("scan")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CommandErrors.WithLabelValues("scan")))
	assert.Contains(t, buf.String(), "command_failed")
	assert.Contains(t, buf.String(), `"command":"scan"`)
}
