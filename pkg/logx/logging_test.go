package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterLoggerFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))

	log.Warn("trigger misfired", String("trigger", "daily.report"), Duration("late", 2*time.Second), Err(errors.New("boom")))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "trigger misfired", line["message"])
	assert.Equal(t, "test", line["comp"])
	assert.Equal(t, "daily.report", line["trigger"])
	assert.Equal(t, "boom", line["err"])
	assert.Contains(t, line["caller"], "logging_test.go")
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")

	log.Info("dropped")
	assert.Zero(t, buf.Len())
	assert.False(t, log.Enabled(LevelDebug))
	assert.True(t, log.Enabled(LevelError))
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var log Logger
	assert.True(t, log.IsZero())
	log.Error("nobody hears this")
	assert.False(t, Nop().IsZero())
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want Level
	}{
		{raw: "debug", want: LevelDebug},
		{raw: " WARNING ", want: LevelWarn},
		{raw: "error", want: LevelError},
		{raw: "nonsense", want: LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.raw, LevelInfo), tt.raw)
	}
}

func TestValidLevel(t *testing.T) {
	t.Parallel()
	assert.True(t, ValidLevel("Trace"))
	assert.True(t, ValidLevel("warning"))
	assert.False(t, ValidLevel(""))
	assert.False(t, ValidLevel("loud"))
}

func TestServiceApply(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "cronwire.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("first", Strings("jobs", []string{"a", "b"}))
	log.Debug("hidden")

	// Same path: the file stays open, only the level changes.
	f := svc.file
	require.NoError(t, svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}}))
	assert.Same(t, f, svc.file)
	log.Debug("now visible")

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 2)
	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, []any{"a", "b"}, first["jobs"])
	assert.Contains(t, lines[1], "now visible")

	// A path under a regular file cannot be opened; the error is returned
	// and the previous file is closed.
	bad := filepath.Join(path, "nested.log")
	require.Error(t, svc.Apply(Config{Level: "info", File: FileConfig{Enabled: true, Path: bad}}))
	assert.Nil(t, svc.file)
	assert.Equal(t, bad, svc.Config().File.Path)

	require.NoError(t, svc.Close())
}
