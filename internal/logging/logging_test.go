// Copyright 2026 Bjørn Erik Pedersen
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	var b bytes.Buffer
	// A buffer is no terminal.
	logger, err := New(&b, Config{})
	require.NoError(t, err)
	logger.Info("cloned", "repo", "hugo")
	logger.Debug("hidden")

	var line map[string]any
	require.NoError(t, json.Unmarshal(b.Bytes(), &line))
	assert.Equal(t, "cloned", line["msg"])
	assert.Equal(t, "hugo", line["repo"])

	b.Reset()
	logger, err = New(&b, Config{Level: "debug", Format: FormatText})
	require.NoError(t, err)
	logger.Debug("probed", "repo", "hugo")
	assert.Contains(t, b.String(), "level=DEBUG msg=probed repo=hugo")

	_, err = New(&b, Config{Format: "xml"})
	assert.ErrorContains(t, err, "unknown log format")
	_, err = New(&b, Config{Level: "verbose"})
	assert.ErrorContains(t, err, "unknown log level")
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":        slog.LevelInfo,
		"info":    slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, IsTerminal(&bytes.Buffer{}))
}
