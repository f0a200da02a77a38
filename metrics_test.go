package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCollectsCycleTimes(t *testing.T) {
	reg, err := newRegistry()
	require.NoError(t, err)

	cycleSeconds.WithLabelValues("raw", "seq").Observe(0.001)
	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["halo_exchange_cycle_seconds"])
	assert.True(t, names["go_goroutines"])
}
