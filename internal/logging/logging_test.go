package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAddsLevelAndTimestamp(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLogger(&buf, LevelInfo)

	l.Info(map[string]any{"msg": "launching workload on free gpu", "gpu": 2})

	var fields map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fields))
	assert.Equal(t, "info", fields["level"])
	assert.Equal(t, "launching workload on free gpu", fields["msg"])
	assert.Equal(t, float64(2), fields["gpu"])
	assert.NotEmpty(t, fields["ts"])
}

func TestMinimumLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLogger(&buf, LevelWarn)

	l.Debug(map[string]any{"msg": "dropped"})
	l.Info(map[string]any{"msg": "dropped"})
	l.Warn(map[string]any{"msg": "kept"})
	l.Error(map[string]any{"msg": "kept"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" Warning "))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
}
