// This file defines program parameters and routines for initializing them
// from the loaded configuration.

package main

import (
	"fmt"

	"github.com/lanl/halo-exchange/comm"
	"github.com/lanl/halo-exchange/config"
	"github.com/lanl/halo-exchange/exec"
)

// Parameters is a collection of all program parameters.
type Parameters struct {
	Ranks         int          // Number of in-process ranks (local transport only)
	Transport     string       // Name of the transport: "local" or "mpi"
	Backend       comm.Backend // How messages reach the transport
	Policy        exec.Kind    // Execution context that packs and unpacks
	Grid          Grid         // Per-rank block shape
	Vars          int          // Variables per cell, one message item each
	Cycles        int          // Number of exchange cycles to time
	Workers       int          // Goroutines for the parallel policy
	QueueCapacity int          // Persistent work-queue capacity
	BatchSize     int          // Loops per batch launch
	PoolLimit     int64        // Byte limit of each rank's buffer pool
	MetricsAddr   string       // Address to serve Prometheus metrics on
}

// NewParameters converts a configuration into validated parameters.
func NewParameters(cfg *config.Config) (*Parameters, error) {
	r := cfg.Run
	p := &Parameters{
		Ranks:         r.Ranks,
		Transport:     r.Transport,
		Grid:          Grid{NX: r.NX, NY: r.NY, NZ: r.NZ, Ghost: r.Ghost},
		Vars:          r.Vars,
		Cycles:        r.Cycles,
		Workers:       r.Workers,
		QueueCapacity: r.QueueCapacity,
		BatchSize:     r.BatchSize,
		PoolLimit:     int64(r.PoolLimitMB) << 20,
		MetricsAddr:   cfg.Metrics.Addr,
	}

	// Map names to their enumerated values.
	var ok bool
	if p.Backend, ok = comm.ParseBackend(r.Backend); !ok {
		return nil, fmt.Errorf("--backend must be one of raw, typed or direct, not %q", r.Backend)
	}
	if p.Policy, ok = exec.ParseKind(r.Policy); !ok {
		return nil, fmt.Errorf("--policy must be one of seq, parallel, native, stream, batch or persistent, not %q", r.Policy)
	}

	// Validate the arguments.
	switch {
	case p.Transport != "local" && p.Transport != "mpi":
		return nil, fmt.Errorf("--transport must be local or mpi, not %q", p.Transport)
	case p.Ranks < 1:
		return nil, fmt.Errorf("--ranks must be positive")
	case p.Grid.NX < 1 || p.Grid.NY < 1 || p.Grid.NZ < 1:
		return nil, fmt.Errorf("--nx, --ny and --nz must be positive")
	case p.Grid.Ghost < 1:
		return nil, fmt.Errorf("--ghost must be positive")
	case p.Grid.Ghost > p.Grid.NZ:
		return nil, fmt.Errorf("--ghost must not exceed --nz")
	case p.Vars < 1:
		return nil, fmt.Errorf("--vars must be positive")
	case p.Cycles < 1:
		return nil, fmt.Errorf("--cycles must be positive")
	case p.Workers < 0 || p.QueueCapacity < 0 || p.BatchSize < 0 || p.PoolLimit < 0:
		return nil, fmt.Errorf("--workers, --queue-capacity, --batch-size and --pool-limit-mb must be non-negative")
	}

	// Reject backend and policy pairings the messages cannot serve.
	if _, err := comm.NewMessage[float64](p.Backend, p.Policy, 0, 0, p.Vars > 1); err != nil {
		return nil, err
	}
	return p, nil
}
