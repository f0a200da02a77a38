package observability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lanl/halo-exchange/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("chatty"))
}

func TestSetupLoggerWritesFiles(t *testing.T) {
	prev := zap.L()
	defer zap.ReplaceGlobals(prev)

	dir := t.TempDir()
	plain := filepath.Join(dir, "sub", "plain.log")
	rotated := filepath.Join(dir, "rotated.log")

	for _, tc := range []struct {
		name string
		cfg  config.LogConfig
		file string
	}{
		{"plain", config.LogConfig{Level: "debug", Format: "json", Outputs: []string{plain}}, plain},
		{"rotated", config.LogConfig{
			Level:    "info",
			Outputs:  []string{"ignored.log"},
			Rotation: config.RotationConfig{Enable: true, Filename: rotated},
		}, rotated},
	} {
		t.Run(tc.name, func(t *testing.T) {
			logger, err := SetupLogger(tc.cfg)
			require.NoError(t, err)
			zap.L().Named("comm").Info("packed", zap.Int("bytes", 64))
			_ = logger.Sync()

			data, err := os.ReadFile(tc.file)
			require.NoError(t, err)
			assert.Contains(t, string(data), "packed")
			assert.Contains(t, string(data), "comm")
		})
	}
}

func TestSetupLoggerLevelFilters(t *testing.T) {
	prev := zap.L()
	defer zap.ReplaceGlobals(prev)

	path := filepath.Join(t.TempDir(), "warn.log")
	logger, err := SetupLogger(config.LogConfig{Level: "warn", Outputs: []string{path}})
	require.NoError(t, err)
	zap.L().Info("quiet")
	zap.L().Warn("loud")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "quiet")
	assert.Contains(t, string(data), "loud")
}
