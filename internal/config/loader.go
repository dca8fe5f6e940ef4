package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// RegisterFlags sets up the run command's flags on the provided flag set.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("store", "", "Store adapter name (see 'esbench adapters')")
	flags.StringP("workload", "w", "", "Path to workload YAML file")
	flags.StringP("output", "o", "results/raw", "Output directory base for raw results")
	flags.String("uri", "", "Connection URI passed through to the adapter")
	flags.StringSlice("option", nil, "Adapter option in key=value form (repeatable)")
	flags.Uint64("seed", 0, "Override the workload's random seed")
	flags.Duration("grace", 5*time.Second, "Max wait for in-flight operations after the stop condition fires")
	flags.Bool("json-output", false, "Emit the summary as JSON to stdout")
	flags.Bool("log-errors", false, "Log each failed operation to stderr")
	flags.Bool("no-progress", false, "Disable the live progress line")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")
	flags.String("trace-endpoint", "", "OTLP endpoint for run-phase tracing (empty disables tracing)")
	flags.String("trace-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.Bool("trace-insecure", false, "Skip TLS verification on the OTLP exporter")
	flags.Float64("trace-sample-rate", 1.0, "Trace sampling ratio in [0,1]")
}

// Load builds a Config from a parsed flag set and the optional config file.
// Flags that were explicitly set win over file settings.
func Load(flags *pflag.FlagSet) (*Config, error) {
	cfg := &Config{
		OutputDir: "results/raw",
		Grace:     5 * time.Second,
		Options:   map[string]string{},
		Tracing:   TracingConfig{Protocol: "grpc", SampleRate: 1.0},
	}

	configPath, _ := flags.GetString("config")
	if configPath != "" {
		v := viper.New()
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		cfg.ConfigFile = configPath
	}

	if err := applyFlagOverrides(cfg, flags); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlagOverrides(cfg *Config, flags *pflag.FlagSet) error {
	var err error
	flags.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "store":
			cfg.Store, _ = flags.GetString("store")
		case "workload":
			cfg.WorkloadPath, _ = flags.GetString("workload")
		case "output":
			cfg.OutputDir, _ = flags.GetString("output")
		case "uri":
			cfg.URI, _ = flags.GetString("uri")
		case "option":
			pairs, _ := flags.GetStringSlice("option")
			for _, pair := range pairs {
				key, value, found := strings.Cut(pair, "=")
				if !found || key == "" {
					err = fmt.Errorf("invalid --option %q: want key=value", pair)
					return
				}
				cfg.Options[key] = value
			}
		case "seed":
			cfg.Seed, _ = flags.GetUint64("seed")
			cfg.SeedSet = true
		case "grace":
			cfg.Grace, _ = flags.GetDuration("grace")
		case "json-output":
			cfg.JSONOutput, _ = flags.GetBool("json-output")
		case "log-errors":
			cfg.LogErrors, _ = flags.GetBool("log-errors")
		case "no-progress":
			cfg.NoProgress, _ = flags.GetBool("no-progress")
		case "trace-endpoint":
			cfg.Tracing.Endpoint, _ = flags.GetString("trace-endpoint")
		case "trace-protocol":
			cfg.Tracing.Protocol, _ = flags.GetString("trace-protocol")
		case "trace-insecure":
			cfg.Tracing.Insecure, _ = flags.GetBool("trace-insecure")
		case "trace-sample-rate":
			cfg.Tracing.SampleRate, _ = flags.GetFloat64("trace-sample-rate")
		}
	})
	return err
}
