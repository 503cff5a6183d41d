package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initBuffer(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})
	return &buf
}

func logLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	return line
}

// The With* helpers return a child logger by value; callers bind it to a
// variable and log through that.
func TestWithComponentCarriesField(t *testing.T) {
	buf := initBuffer(t)

	logger := WithComponent("controller")
	logger.Info().Msg("sweep done")

	line := logLine(t, buf)
	assert.Equal(t, "controller", line["component"])
	assert.Equal(t, "sweep done", line["message"])
	assert.NotEmpty(t, line["time"])
}

func TestWithWorkloadAndInstanceFields(t *testing.T) {
	buf := initBuffer(t)

	logger := WithWorkload("greeter")
	logger.Warn().Str("reason", "scale down").Msg("terminating")

	line := logLine(t, buf)
	assert.Equal(t, "greeter", line["workload"])
	assert.Equal(t, "scale down", line["reason"])

	buf.Reset()
	logger = WithInstance("i-1")
	logger.Debug().Msg("probe flip")
	assert.Equal(t, "i-1", logLine(t, buf)["instance_id"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: ErrorLevel, JSONOutput: true, Output: &buf})

	logger := WithEndpoint("greeter-svc")
	logger.Info().Msg("dropped")
	assert.Empty(t, buf.Bytes())

	logger.Error().Msg("kept")
	assert.Equal(t, "greeter-svc", logLine(t, &buf)["endpoint"])
}
