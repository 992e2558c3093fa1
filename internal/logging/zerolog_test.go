package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseZerologLevel(t *testing.T) {
	assert.Equal(t, zerolog.TraceLevel, ParseZerologLevel("trace"))
	assert.Equal(t, zerolog.DebugLevel, ParseZerologLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseZerologLevel("warn"))
	assert.Equal(t, zerolog.ErrorLevel, ParseZerologLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, ParseZerologLevel("bogus"))
}

func TestNewZerolog_WritesConsoleAndJSON(t *testing.T) {
	var console, sink bytes.Buffer
	log := NewZerolog(&console, "info", "database", "alpha", &sink)

	log.Debug().Msg("hidden")
	log.Info().Str("table", "vein_records").Msg("migrated")

	assert.Contains(t, console.String(), "migrated")
	assert.NotContains(t, console.String(), "hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(sink.Bytes(), &entry))
	assert.Equal(t, "migrated", entry["message"])
	assert.Equal(t, "database", entry["component"])
	assert.Equal(t, "alpha", entry["worldId"])
	assert.Equal(t, "vein_records", entry["table"])
}

func TestNewGraylogWriter(t *testing.T) {
	// UDP needs no listener to open
	w, err := NewGraylogWriter("127.0.0.1:12201", "worldserver")
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, "worldserver", w.Facility)

	_, err = NewGraylogWriter("not an address", "worldserver")
	assert.Error(t, err)
}
