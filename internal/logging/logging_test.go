package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, level)

	level, err = ParseLevel(" WARN ")
	require.NoError(t, err)
	require.Equal(t, slog.LevelWarn, level)

	_, err = ParseLevel("loud")
	require.Error(t, err)
}

func TestNewFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, slog.LevelWarn)

	log.Info("hidden")
	require.Zero(t, buf.Len())

	log.Warn("shown", "topic_id", 7)
	require.Contains(t, buf.String(), "shown")
	require.Contains(t, buf.String(), "topic_id")
}
