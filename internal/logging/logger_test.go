package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfoWritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	Info("submit_ok", Fields{"run_id": 7})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "submit_ok", line["message"])
	assert.Equal(t, "info", line["level"])
	assert.EqualValues(t, 7, line["run_id"])
	assert.NotEmpty(t, line["time"])
}

func TestConfigureFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	Configure("warn", "json")
	defer Configure("info", "json")

	Info("hidden", nil)
	assert.Zero(t, buf.Len())
	Warn("shown", Fields{"error": "boom"})
	assert.Contains(t, buf.String(), `"shown"`)
}
