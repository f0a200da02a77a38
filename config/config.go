// Package config provides layered configuration for haloex: built-in
// defaults, an optional YAML file, HALOEX_ environment variables and
// command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the root configuration.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Run     RunConfig     `mapstructure:"run"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// RunConfig describes one halo-exchange run.
type RunConfig struct {
	Ranks         int    `mapstructure:"ranks"`          // In-process ranks for the local transport
	Transport     string `mapstructure:"transport"`      // local or mpi
	Backend       string `mapstructure:"backend"`        // raw, typed or direct
	Policy        string `mapstructure:"policy"`         // Execution context kind
	NX            int    `mapstructure:"nx"`             // Cells per rank along x
	NY            int    `mapstructure:"ny"`             // Cells per rank along y
	NZ            int    `mapstructure:"nz"`             // Interior cells per rank along z
	Ghost         int    `mapstructure:"ghost"`          // Ghost width
	Vars          int    `mapstructure:"vars"`           // Variables per cell
	Cycles        int    `mapstructure:"cycles"`         // Exchange cycles
	Workers       int    `mapstructure:"workers"`        // Goroutines for the parallel policy
	QueueCapacity int    `mapstructure:"queue_capacity"` // Persistent work queue size
	BatchSize     int    `mapstructure:"batch_size"`     // Loops per batch launch
	PoolLimitMB   int    `mapstructure:"pool_limit_mb"`  // Buffer pool limit, 0 for automatic
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // Listen address, empty to disable
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Filename:   "logs/haloex.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Run: RunConfig{
			Ranks:         2,
			Transport:     "local",
			Backend:       "raw",
			Policy:        "seq",
			NX:            16,
			NY:            16,
			NZ:            16,
			Ghost:         1,
			Vars:          1,
			Cycles:        5,
			QueueCapacity: 1024,
			BatchSize:     256,
		},
	}
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"log-level":      "log.level",
	"log-format":     "log.format",
	"ranks":          "run.ranks",
	"transport":      "run.transport",
	"backend":        "run.backend",
	"policy":         "run.policy",
	"nx":             "run.nx",
	"ny":             "run.ny",
	"nz":             "run.nz",
	"ghost":          "run.ghost",
	"vars":           "run.vars",
	"cycles":         "run.cycles",
	"workers":        "run.workers",
	"queue-capacity": "run.queue_capacity",
	"batch-size":     "run.batch_size",
	"pool-limit-mb":  "run.pool_limit_mb",
	"metrics-addr":   "metrics.addr",
}

// Load reads configuration from path, if non-empty, or from HALOEX_CONFIG.
// Environment variables use the prefix HALOEX with "." replaced by "_",
// e.g. HALOEX_RUN_BACKEND=direct.  Flags in flags that were set on the
// command line override everything else; flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("HALOEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Seed defaults so env-only configs work.
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("run.ranks", cfg.Run.Ranks)
	v.SetDefault("run.transport", cfg.Run.Transport)
	v.SetDefault("run.backend", cfg.Run.Backend)
	v.SetDefault("run.policy", cfg.Run.Policy)
	v.SetDefault("run.nx", cfg.Run.NX)
	v.SetDefault("run.ny", cfg.Run.NY)
	v.SetDefault("run.nz", cfg.Run.NZ)
	v.SetDefault("run.ghost", cfg.Run.Ghost)
	v.SetDefault("run.vars", cfg.Run.Vars)
	v.SetDefault("run.cycles", cfg.Run.Cycles)
	v.SetDefault("run.workers", cfg.Run.Workers)
	v.SetDefault("run.queue_capacity", cfg.Run.QueueCapacity)
	v.SetDefault("run.batch_size", cfg.Run.BatchSize)
	v.SetDefault("run.pool_limit_mb", cfg.Run.PoolLimitMB)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path == "" {
		path = os.Getenv("HALOEX_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}
	c.Run.Transport = strings.ToLower(strings.TrimSpace(c.Run.Transport))
	c.Run.Backend = strings.ToLower(strings.TrimSpace(c.Run.Backend))
	c.Run.Policy = strings.ToLower(strings.TrimSpace(c.Run.Policy))
	return nil
}
