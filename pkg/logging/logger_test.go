package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(level Level, format Format) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := New(&Config{Level: level, Output: &buf, Format: format})
	return logger, &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"TRACE", TRACE},
		{"debug", DEBUG},
		{"Info", INFO},
		{"WARN", WARN},
		{"warning", WARN},
		{"ERROR", ERROR},
		{"bogus", INFO},
		{"", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger(WARN, FormatText)

	logger.Debug("hidden")
	logger.Info("hidden")
	assert.Empty(t, buf.String())

	logger.Warn("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestSetLevel(t *testing.T) {
	logger, buf := newBufferLogger(ERROR, FormatText)

	logger.Info("before")
	assert.Empty(t, buf.String())

	logger.SetLevel(INFO)
	logger.Info("after")
	assert.Contains(t, buf.String(), "after")
}

func TestTextFormatIncludesFields(t *testing.T) {
	logger, buf := newBufferLogger(INFO, FormatText)

	logger.Info("something happened", map[string]interface{}{"key": "user:1"})

	out := buf.String()
	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "something happened")
	assert.Contains(t, out, "key=user:1")
}

func TestJSONFormat(t *testing.T) {
	logger, buf := newBufferLogger(INFO, FormatJSON)

	logger.Warn("disk slow", map[string]interface{}{"latency_ms": 120})

	var entry Entry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry.Level)
	assert.Equal(t, "disk slow", entry.Message)
	assert.Equal(t, float64(120), entry.Fields["latency_ms"])
}

func TestWithComponentPropagates(t *testing.T) {
	logger, buf := newBufferLogger(INFO, FormatText)

	logger.WithComponent("segment").Info("recovered")
	assert.Contains(t, buf.String(), "component=segment")
}

func TestWithFieldDoesNotMutateParent(t *testing.T) {
	logger, buf := newBufferLogger(INFO, FormatText)

	child := logger.WithField("tier", "hot")
	child.Info("child line")
	assert.Contains(t, buf.String(), "tier=hot")

	buf.Reset()
	logger.Info("parent line")
	assert.NotContains(t, buf.String(), "tier=hot")
}

func TestCallFieldsOverrideContextFields(t *testing.T) {
	logger, buf := newBufferLogger(INFO, FormatText)

	logger.WithField("key", "old").Info("msg", map[string]interface{}{"key": "new"})

	out := buf.String()
	assert.Contains(t, out, "key=new")
	assert.Equal(t, 1, strings.Count(out, "key="))
}

func TestNopLoggerIsSilent(t *testing.T) {
	// must not panic or write anywhere visible
	logger := Nop()
	logger.Error("dropped")
}
