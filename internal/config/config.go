// Package config carries the engine's run configuration: which adapter to
// target, which workload file to execute, where raw results land, and the
// opaque connection parameters passed through to the adapter.
package config

import (
	"fmt"
	"time"
)

// Config is the validated run configuration assembled from flags and an
// optional config file.
type Config struct {
	Store        string            `mapstructure:"store"`
	WorkloadPath string            `mapstructure:"workload"`
	OutputDir    string            `mapstructure:"output"`
	URI          string            `mapstructure:"uri"`
	Options      map[string]string `mapstructure:"options"`
	Seed         uint64            `mapstructure:"seed"`
	SeedSet      bool              `mapstructure:"-"`
	Grace        time.Duration     `mapstructure:"grace"`
	JSONOutput   bool              `mapstructure:"json_output"`
	LogErrors    bool              `mapstructure:"log_errors"`
	NoProgress   bool              `mapstructure:"no_progress"`
	ConfigFile   string            `mapstructure:"-"`
	Tracing      TracingConfig     `mapstructure:"tracing"`
}

// TracingConfig controls optional OTLP run-phase tracing.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "grpc" or "http"
	ServiceName string  `mapstructure:"service_name"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// Enabled reports whether an exporter endpoint was configured.
func (t TracingConfig) Enabled() bool { return t.Endpoint != "" }

// Validate checks the configuration before a run starts.
func (c *Config) Validate() error {
	if c.Store == "" {
		return fmt.Errorf("no store adapter selected (use --store)")
	}
	if c.WorkloadPath == "" {
		return fmt.Errorf("no workload file given (use --workload)")
	}
	if c.Grace < 0 {
		return fmt.Errorf("grace period must not be negative, got %s", c.Grace)
	}
	if r := c.Tracing.SampleRate; r < 0 || r > 1 {
		return fmt.Errorf("tracing sample_rate must be between 0.0 and 1.0, got %g", r)
	}
	return nil
}
