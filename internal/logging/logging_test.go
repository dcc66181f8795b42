package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLevels(t *testing.T) {
	var buf bytes.Buffer
	log := New(false, &buf)
	log.Debug("hidden")
	log.Info("shown", zap.Int("files", 3))
	require.NoError(t, log.Sync())
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "shown", entry["msg"])
	require.Equal(t, "info", entry["level"])
	require.EqualValues(t, 3, entry["files"])

	buf.Reset()
	log = New(true, &buf)
	log.Debug("visible")
	require.Contains(t, buf.String(), "visible")
}

func TestOrNop(t *testing.T) {
	require.NotNil(t, OrNop(nil))
	l := zap.NewExample()
	require.Same(t, l, OrNop(l))
}
