package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai4ce/vpr-collector/internal/dispatcher"
)

var _ dispatcher.Logger = (*DispatcherLogger)(nil)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestDispatcherLogger_Levels(t *testing.T) {
	tests := []struct {
		level string
		log   func(*DispatcherLogger)
	}{
		{"debug", func(l *DispatcherLogger) { l.Debug("test message", "topic", "cam1", "frame", 42) }},
		{"info", func(l *DispatcherLogger) { l.Info("test message", "topic", "cam1", "frame", 42) }},
		{"error", func(l *DispatcherLogger) { l.Error("test message", "topic", "cam1", "frame", 42) }},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(NewDispatcherLogger(NewDispatcherZerolog(&buf, "debug")))

			entry := decode(t, &buf)
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, "test message", entry["message"])
			assert.Equal(t, "dispatcher", entry["component"])
			assert.Equal(t, "cam1", entry["topic"])
			assert.Equal(t, float64(42), entry["frame"])
			assert.Contains(t, entry, "time")
		})
	}
}

func TestDispatcherLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewDispatcherLogger(NewDispatcherZerolog(&buf, "info"))
	l.Debug("hidden")
	assert.Empty(t, buf.String())
}

func TestDispatcherZerolog_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := NewDispatcherLogger(NewDispatcherZerolog(&buf, "loud"))
	l.Debug("hidden")
	assert.Empty(t, buf.String())
	l.Info("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestToFields(t *testing.T) {
	assert.Equal(t, map[string]any{"a": 1}, toFields([]any{"a", 1, 2, "x", "dangling"}))
	assert.Empty(t, toFields(nil))
}
