package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanl/halo-exchange/comm"
	"github.com/lanl/halo-exchange/config"
	"github.com/lanl/halo-exchange/exec"
)

func TestNewParametersDefaults(t *testing.T) {
	p, err := NewParameters(config.Default())
	require.NoError(t, err)
	assert.Equal(t, comm.Raw, p.Backend)
	assert.Equal(t, exec.KindSeq, p.Policy)
	assert.Equal(t, Grid{NX: 16, NY: 16, NZ: 16, Ghost: 1}, p.Grid)
	assert.Equal(t, "local", p.Transport)
}

func TestNewParametersRejects(t *testing.T) {
	tests := []struct {
		name string
		edit func(r *config.RunConfig)
	}{
		{"backend", func(r *config.RunConfig) { r.Backend = "shmem" }},
		{"policy", func(r *config.RunConfig) { r.Policy = "gpu" }},
		{"transport", func(r *config.RunConfig) { r.Transport = "tcp" }},
		{"ranks", func(r *config.RunConfig) { r.Ranks = 0 }},
		{"extent", func(r *config.RunConfig) { r.NY = 0 }},
		{"ghost", func(r *config.RunConfig) { r.Ghost = 0 }},
		{"wide ghost", func(r *config.RunConfig) { r.Ghost = r.NZ + 1 }},
		{"vars", func(r *config.RunConfig) { r.Vars = 0 }},
		{"cycles", func(r *config.RunConfig) { r.Cycles = 0 }},
		{"workers", func(r *config.RunConfig) { r.Workers = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.edit(&cfg.Run)
			_, err := NewParameters(cfg)
			assert.Error(t, err)
		})
	}
}

func TestNewParametersUnsupportedPairing(t *testing.T) {
	for _, backend := range []string{"raw", "direct"} {
		cfg := config.Default()
		cfg.Run.Backend = backend
		cfg.Run.Policy = "native"
		_, err := NewParameters(cfg)
		require.Error(t, err)
		assert.ErrorIs(t, err, comm.ErrUnsupported)
		var ce *comm.ConfigError
		assert.ErrorAs(t, err, &ce)
	}
}
