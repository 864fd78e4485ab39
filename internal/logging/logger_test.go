package logging

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestInitJSONComponent(t *testing.T) {
	prev := Logger
	t.Cleanup(func() { Logger = prev })

	var buf bytes.Buffer
	closer, err := Init(Config{Level: "debug", Format: FormatJSON, Output: &buf})
	require.NoError(t, err)
	defer closer.Close()

	log := Component("dedup")
	log.Debug().Str("reason", "bad-timestamp").Msg("event dropped")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "dedup", entry["component"])
	require.Equal(t, "bad-timestamp", entry["reason"])
	require.Equal(t, "debug", entry["level"])
}

func TestInitWritesFile(t *testing.T) {
	prev := Logger
	t.Cleanup(func() { Logger = prev })

	path := filepath.Join(t.TempDir(), "gmic.log")
	closer, err := Init(Config{Level: "info", Format: FormatJSON, File: path})
	require.NoError(t, err)
	Logger.Info().Msg("hello")
	require.NoError(t, closer.Close())
	require.FileExists(t, path)
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, zerolog.WarnLevel, parseLevel("WARNING"))
	require.Equal(t, zerolog.InfoLevel, parseLevel("bogus"))
	require.True(t, ValidLevel("trace"))
	require.False(t, ValidLevel("loud"))
}

func TestFromContextFallsBackToGlobal(t *testing.T) {
	var buf bytes.Buffer
	scoped := zerolog.New(&buf)
	ctx := WithContext(t.Context(), scoped)
	got := FromContext(ctx)
	got.Info().Msg("scoped")
	require.Contains(t, buf.String(), "scoped")
}
