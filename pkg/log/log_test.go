package log

import (
	"bytes"
	stdlog "log"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(stdlog.New(&buf, "", 0))
	t.Cleanup(func() {
		SetOutput(stdlog.Default())
		SetLevel(LevelInfo)
	})
	return &buf
}

func TestLevels(t *testing.T) {
	buf := capture(t)
	SetLevel(LevelWarn)

	Debug("not shown", nil)
	Info("not shown either", nil)
	Warn("shown", nil)
	Error("also shown", nil)

	out := buf.String()
	assert.NotContains(t, out, "not shown")
	assert.Contains(t, out, "[WARN] shown")
	assert.Contains(t, out, "[ERROR] also shown")
}

func TestParams_SortedKeyValues(t *testing.T) {
	buf := capture(t)
	SetLevel(LevelDebug)

	Debug("commit applied", map[string]any{"removed": 1, "added": 2})

	line := strings.TrimSpace(buf.String())
	assert.Equal(t, "[DEBUG] commit applied added=2 removed=1", line)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
	assert.Equal(t, LevelInfo, ParseLevel("whatever"))
}
