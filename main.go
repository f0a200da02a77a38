/*
Exchange halo data among the ranks of a periodically decomposed 3-D grid and
report how long each exchange cycle takes.
*/

package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lanl/halo-exchange/config"
	"github.com/lanl/halo-exchange/observability"
)

// notify is used to output error messages.
var notify = zap.NewNop().Sugar()

// info is used to output status messages.
var info = zap.NewNop().Sugar()

// newRootCommand defines the command line.
func newRootCommand() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:          "haloex",
		Short:        "Time halo exchanges among ranks",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath, cmd.Flags())
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	d := config.Default()
	f := cmd.Flags()
	f.StringVar(&cfgPath, "config", "", "YAML configuration file")
	f.String("log-level", d.Log.Level, "Log level: debug, info, warn or error")
	f.String("log-format", d.Log.Format, "Log format: console or json")
	f.Int("ranks", d.Run.Ranks, "Number of in-process ranks (local transport)")
	f.String("transport", d.Run.Transport, "Transport: local or mpi")
	f.String("backend", d.Run.Backend, "Message backend: raw, typed or direct")
	f.String("policy", d.Run.Policy, "Execution policy: seq, parallel, native, stream, batch or persistent")
	f.Int("nx", d.Run.NX, "Cells per rank along x")
	f.Int("ny", d.Run.NY, "Cells per rank along y")
	f.Int("nz", d.Run.NZ, "Interior cells per rank along z")
	f.Int("ghost", d.Run.Ghost, "Ghost width")
	f.Int("vars", d.Run.Vars, "Variables per cell")
	f.Int("cycles", d.Run.Cycles, "Number of exchange cycles")
	f.Int("workers", d.Run.Workers, "Goroutines for the parallel policy (0 for GOMAXPROCS)")
	f.Int("queue-capacity", d.Run.QueueCapacity, "Persistent work-queue capacity")
	f.Int("batch-size", d.Run.BatchSize, "Loops per batch launch")
	f.Int("pool-limit-mb", d.Run.PoolLimitMB, "Buffer pool limit in MiB (0 for half of physical memory)")
	f.String("metrics-addr", d.Metrics.Addr, "Serve Prometheus metrics on this address")
	return cmd
}

// run performs a complete benchmark run.
func run(cfg *config.Config) error {
	// Initialize logging.
	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	notify = logger.Named("haloex").Sugar()
	info = logger.Named("haloex").Sugar()

	// Initialize program parameters.
	p, err := NewParameters(cfg)
	if err != nil {
		notify.Fatal(err)
	}
	if p.MetricsAddr != "" {
		reg, err := newRegistry()
		if err != nil {
			notify.Fatal(err)
		}
		srv := serveMetrics(p.MetricsAddr, reg)
		defer srv.Close()
		info.Infof("Serving metrics on %s", p.MetricsAddr)
	}

	// Exchange halos for the requested number of cycles.
	info.Infof("Running %d cycle(s) with backend %s and policy %s", p.Cycles, p.Backend, p.Policy)
	var results []RankResult
	if p.Transport == "mpi" {
		results, err = RunMPI(p)
	} else {
		results, err = RunLocal(p)
	}
	if err != nil {
		notify.Fatal(err)
	}
	if results == nil {
		return nil
	}
	if bad := outputReport(os.Stdout, p, results); bad > 0 {
		notify.Fatalf("%d ghost cell(s) hold wrong values", bad)
	}
	return nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
