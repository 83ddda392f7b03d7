package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFormatRFC3339Millis(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 1, 15, 10, 30, 5, 123_456_789, time.FixedZone("x", 3600))
	require.Equal(t, "2024-01-15T09:30:05.123Z", formatRFC3339Millis(ts))
}

func TestNewWriterDropsEmptyStrings(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, slog.LevelInfo)
	log.Info("written", "table", "sales", "note", "")
	log.Debug("hidden")

	out := buf.String()
	require.Contains(t, out, "written")
	require.Contains(t, out, "sales")
	require.NotContains(t, out, "note")
	require.False(t, strings.Contains(out, "hidden"))
}
