package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})
	defer func() { Logger = zerolog.Nop() }()

	rlog := WithRecord("cron_job", "alice-1")
	rlog.Info().Int64("revision", 2).Msg("applied")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "cron_job", entry["kind"])
	assert.Equal(t, "alice-1", entry["key"])
	assert.Equal(t, float64(2), entry["revision"])
	assert.Equal(t, "applied", entry["message"])
}

func TestInitLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})
	defer func() {
		Logger = zerolog.Nop()
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}()

	logger := WithComponent("executor")
	logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn().Msg("shown")
	assert.Contains(t, buf.String(), `"component":"executor"`)
}
