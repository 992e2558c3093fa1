package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const fileStamp = "20060102_150405"

// LogFilePath names a per-run log file: {logsDir}/{name}.{start}.log.
func LogFilePath(logsDir, name string, start time.Time) string {
	return filepath.Join(logsDir, fmt.Sprintf("%s.%s.log", name, start.Format(fileStamp)))
}

// OpenLogFile creates logsDir if needed and opens the run's file for
// appending, so a restart within the same second keeps earlier output.
func OpenLogFile(logsDir, name string, start time.Time) (*os.File, error) {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating logs dir: %w", err)
	}
	path := LogFilePath(logsDir, name, start)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return f, nil
}
