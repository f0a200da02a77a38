package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("HALOEX_CONFIG", "")
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestFileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "haloex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
run:
  backend: Typed
  policy: native
  nx: 4
  cycles: 9
`), 0o644))

	t.Setenv("HALOEX_RUN_CYCLES", "3")
	t.Setenv("HALOEX_RUN_GHOST", "2")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("nx", 0, "")
	flags.Int("ghost", 0, "")
	flags.String("metrics-addr", "", "")
	require.NoError(t, flags.Parse([]string{"--nx=7", "--metrics-addr=:9100"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "typed", cfg.Run.Backend)
	assert.Equal(t, "native", cfg.Run.Policy)
	assert.Equal(t, 7, cfg.Run.NX, "flag beats file")
	assert.Equal(t, 3, cfg.Run.Cycles, "env beats file")
	assert.Equal(t, 2, cfg.Run.Ghost, "env beats unset flag")
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
	assert.Equal(t, 16, cfg.Run.NY)
}

func TestInvalidLevel(t *testing.T) {
	t.Setenv("HALOEX_CONFIG", "")
	t.Setenv("HALOEX_LOG_LEVEL", "loud")
	_, err := Load("", nil)
	assert.ErrorContains(t, err, "log.level")
}

func TestMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.Error(t, err)
}
