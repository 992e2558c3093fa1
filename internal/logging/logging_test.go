package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var runStart = time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

func TestLogFilePath(t *testing.T) {
	tests := []struct {
		name    string
		logsDir string
		file    string
		want    string
	}{
		{"relative dir", "logs", "worldserver", filepath.Join("logs", "worldserver.20260212_213836.log")},
		{"dotted dir", "./logs", "worldserver.otel", filepath.Join("logs", "worldserver.otel.20260212_213836.log")},
		{"absolute dir", filepath.Join("/var", "log", "vein"), "worldserver", filepath.Join("/var", "log", "vein", "worldserver.20260212_213836.log")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LogFilePath(tt.logsDir, tt.file, runStart))
		})
	}
}

func TestOpenLogFile_CreatesDirAndAppends(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")

	for _, line := range []string{"first\n", "second\n"} {
		f, err := OpenLogFile(dir, "worldserver", runStart)
		require.NoError(t, err)
		_, err = f.WriteString(line)
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}

	data, err := os.ReadFile(LogFilePath(dir, "worldserver", runStart))
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}
