package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, &Config{LogFormat: "json"}).Info("decision", slog.String("resource", "sales"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "decision", line["msg"])
	assert.Equal(t, "sales", line["resource"])
}

func TestPrettyLoggerWritesPlainTextWhenNotATerminal(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, &Config{LogFormat: "pretty"}).Error("lookup failed", slog.Any("error", errors.New("db down")))

	out := buf.String()
	assert.Contains(t, out, "lookup failed")
	assert.Contains(t, out, "db down")
	assert.NotContains(t, out, "\x1b[", "no ANSI colours outside a terminal")
}
