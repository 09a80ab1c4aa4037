package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

// Expectation: A non-JSON handler should be returned.
func Test_NewLogger_WantTint_Success(t *testing.T) {
	t.Parallel()

	logger := NewLogger(Options{Logout: &bytes.Buffer{}})
	_, ok := logger.Handler().(*slog.JSONHandler)

	require.False(t, ok)
}

// Expectation: A JSON handler should be returned and write JSON.
func Test_NewLogger_WantJSON_Success(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := NewLogger(Options{Logout: &buf, WantJSON: true})
	_, ok := logger.Handler().(*slog.JSONHandler)
	require.True(t, ok)

	logger.Info("stored group", "group", 3)
	require.Contains(t, buf.String(), `"group":3`)
}

// Expectation: Records below the configured level should be dropped.
func Test_NewLogger_Level_Success(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := NewLogger(Options{Level: slog.LevelWarn, Logout: &buf, WantJSON: true})
	logger.Info("hidden")
	logger.Warn("shown")

	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "shown")
}

// Expectation: Known level names should parse regardless of case.
func Test_ParseLevel_Names_Success(t *testing.T) {
	t.Parallel()

	for s, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	} {
		got, err := ParseLevel(s)
		require.NoError(t, err, s)
		require.Equal(t, want, got, s)
	}
}

// Expectation: An unknown level name should be rejected.
func Test_ParseLevel_Unknown_Error(t *testing.T) {
	t.Parallel()

	_, err := ParseLevel("verbose")

	require.ErrorIs(t, err, errInvalidLevel)
}
