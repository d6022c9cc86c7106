package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want zerolog.Level
	}{
		{raw: "", want: zerolog.InfoLevel},
		{raw: "debug", want: zerolog.DebugLevel},
		{raw: " WARNING ", want: zerolog.WarnLevel},
		{raw: "error", want: zerolog.ErrorLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Config{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	sweep := Component(log, "sweep")
	sweep.Info().Int("due", 2).Msg("checked tasks")
	log.Debug().Msg("hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "sweep", entry["component"])
	assert.Equal(t, "checked tasks", entry["message"])
	assert.EqualValues(t, 2, entry["due"])
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New(Config{Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestPrintf(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Config{Format: "json"}, &buf)
	require.NoError(t, err)

	Printf{Log: log, Level: zerolog.WarnLevel}.Printf("slow query %dms\n", 250)
	assert.Contains(t, buf.String(), `"message":"slow query 250ms"`)
	assert.Contains(t, buf.String(), `"level":"warn"`)
}
