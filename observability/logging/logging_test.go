package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEmitsRenamedKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Options{Service: "lendingd", Env: "test", Level: "debug"})
	logger.Debug("auction filled", "auction", 7)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "auction filled", line["message"])
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "lendingd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
	require.EqualValues(t, 7, line["auction"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Options{Service: "lendingd", Level: "warn"})
	logger.Info("dropped")
	require.Zero(t, buf.Len())
	logger.Warn("kept")
	require.NotZero(t, buf.Len())

	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
	require.Equal(t, slog.LevelError, ParseLevel(" ERROR "))
}

func TestMasking(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("adminToken", "secret").Value.String())
	require.Equal(t, "BASE", MaskField("asset", "BASE").Value.String())
	require.Equal(t, "", MaskField("adminToken", "").Value.String())
	require.Equal(t, "Bearer "+RedactedValue, MaskBearer("Bearer abc.def.ghi"))
	require.Equal(t, "", MaskBearer(""))
	require.True(t, IsAllowlisted(" Market "))
	require.Equal(t, RedactedValue, MaskField("dsn", "postgres://u:p@db/lending").Value.String())
}
