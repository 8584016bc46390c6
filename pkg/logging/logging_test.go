package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_PrefixAndLevels(t *testing.T) {
	var lines []string
	record := func(level string) LogFunc {
		return func(format string, args ...interface{}) {
			lines = append(lines, level+" "+fmt.Sprintf(format, args...))
		}
	}

	logger := NewLogger("memcached: ", LogFuncs{
		Infof:  record("INFO"),
		Errorf: record("ERROR"),
	})

	logger.Infof("started, pid: %d", 42)
	logger.Debugf("dropped")
	logger.Errorf("failed: %s", "boom")
	logger.LogLevelf(LogLevelWarn, "dropped too")

	assert.Equal(t, []string{
		"INFO memcached: started, pid: 42",
		"ERROR memcached: failed: boom",
	}, lines)
}

func TestNewZapLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "supervisor.log")

	logger, err := NewZapLogger(DefaultFileConfig(path))
	require.NoError(t, err)

	logger.With("port", 11211).Infof("launched, pid: %d", 1234)
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"launched, pid: 1234"`)
	assert.Contains(t, string(data), `"port":11211`)
}

func TestNewZapLogger_InvalidLevel(t *testing.T) {
	_, err := NewZapLogger(ZapConfig{Level: "chatty"})
	assert.Error(t, err)
}
