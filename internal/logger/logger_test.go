package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var e LogEntry
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		entries = append(entries, e)
	}
	return entries
}

func TestLoggerWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)

	l.Info("order", "created")
	l.Critical("saga", "integrity mismatch")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "INFO", entries[0].Level)
	assert.Equal(t, "ORDER", entries[0].Category)
	assert.Equal(t, "created", entries[0].Message)
	assert.Equal(t, "FATAL", entries[1].Level)
	assert.Equal(t, "logger_test.go", entries[1].File)
}

func TestSpecializedHelpers(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)

	l.LogOrder("REFUND", 42, "local state updated")
	l.LogSecurity("TOKEN", "expired")
	l.LogDatabase("FALLBACK", "payments", "charge ch_1 resolved without the index")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 3)
	assert.Equal(t, "[REFUND] 42 - local state updated", entries[0].Message)
	assert.Equal(t, "WARN", entries[1].Level)
	assert.Equal(t, "SECURITY", entries[1].Category)
	assert.Equal(t, "DATABASE", entries[2].Category)
	assert.Equal(t, "[FALLBACK] payments - charge ch_1 resolved without the index", entries[2].Message)
}
