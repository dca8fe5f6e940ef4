// Package workload holds the typed, validated representation of a benchmark
// workload definition. Definitions are loaded once, validated, and treated as
// immutable for the run's duration.
package workload

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Distribution kinds for stream selection.
const (
	DistUniform = "uniform"
	DistZipf    = "zipf"
)

// Durability modes.
const (
	DurabilityFsyncOn  = "fsync_on"
	DurabilityFsyncOff = "fsync_off"
	DurabilityAsync    = "async"
)

// StreamsConfig describes the stream keyspace and its selection distribution.
type StreamsConfig struct {
	Distribution  string  `yaml:"distribution"`
	UniqueStreams uint64  `yaml:"unique_streams"`
	ZipfSkew      float64 `yaml:"zipf_skew"`
}

// TagsConfig controls tag generation on synthetic events.
type TagsConfig struct {
	Cardinality uint64 `yaml:"cardinality"`
	PerEvent    int    `yaml:"per_event"`
}

// ReadMixConfig splits reader traffic between stream reads and tag queries.
type ReadMixConfig struct {
	TagQueryRatio float64 `yaml:"tag_query_ratio"`
}

// CrashConfig enables the crash/recovery phase of a durability test.
type CrashConfig struct {
	Enabled                bool    `yaml:"enabled"`
	AtSeconds              float64 `yaml:"at_seconds"`
	AfterEvents            int64   `yaml:"after_events"`
	RecoveryTimeoutSeconds float64 `yaml:"recovery_timeout_seconds"`
	Verify                 bool    `yaml:"verify"`
}

// DurabilityConfig names the durability mode and optional crash phase.
type DurabilityConfig struct {
	Mode  string      `yaml:"mode"`
	Crash CrashConfig `yaml:"crash"`
}

// SetupConfig prepopulates streams before measurement starts.
type SetupConfig struct {
	EventsToPrepopulate uint64 `yaml:"events_to_prepopulate"`
	PrepopulateStreams  uint64 `yaml:"prepopulate_streams"`
}

// Definition is a fully parsed workload. Exactly one of DurationSeconds and
// TargetEvents must be set.
type Definition struct {
	Name            string           `yaml:"name"`
	DurationSeconds float64          `yaml:"duration_seconds"`
	TargetEvents    int64            `yaml:"target_events"`
	Writers         int              `yaml:"writers"`
	Readers         int              `yaml:"readers"`
	EventSizeBytes  int              `yaml:"event_size_bytes"`
	RateEPS         int              `yaml:"rate_eps"`
	Streams         StreamsConfig    `yaml:"streams"`
	ConflictRate    float64          `yaml:"conflict_rate"`
	Tags            TagsConfig       `yaml:"tags"`
	ReadMix         ReadMixConfig    `yaml:"read_mix"`
	Durability      DurabilityConfig `yaml:"durability"`
	Setup           *SetupConfig     `yaml:"setup"`
	Seed            uint64           `yaml:"seed"`
}

// ValidationError identifies the offending field of a rejected definition.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("workload field %q: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Load reads and validates a workload definition from a YAML file.
func Load(path string) (*Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workload: %w", err)
	}
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("parse workload %s: %w", path, err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks every invariant of the definition. It returns a
// *ValidationError naming the first offending field.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return invalid("name", "must not be empty")
	}
	hasDuration := d.DurationSeconds > 0
	hasTarget := d.TargetEvents > 0
	if hasDuration == hasTarget {
		return invalid("duration_seconds/target_events", "exactly one must be set")
	}
	if d.DurationSeconds < 0 {
		return invalid("duration_seconds", "must not be negative")
	}
	if d.TargetEvents < 0 {
		return invalid("target_events", "must not be negative")
	}
	if d.Writers <= 0 {
		return invalid("writers", "must be a positive integer, got %d", d.Writers)
	}
	if d.Readers < 0 {
		return invalid("readers", "must not be negative, got %d", d.Readers)
	}
	if d.EventSizeBytes <= 0 {
		return invalid("event_size_bytes", "must be positive, got %d", d.EventSizeBytes)
	}
	if d.RateEPS < 0 {
		return invalid("rate_eps", "must not be negative, got %d", d.RateEPS)
	}
	switch d.Streams.Distribution {
	case DistUniform:
	case DistZipf:
		if d.Streams.ZipfSkew <= 1 {
			return invalid("streams.zipf_skew", "must be > 1 for a zipf distribution, got %g", d.Streams.ZipfSkew)
		}
	default:
		return invalid("streams.distribution", "unknown kind %q (want %s or %s)", d.Streams.Distribution, DistUniform, DistZipf)
	}
	if d.Streams.UniqueStreams == 0 {
		return invalid("streams.unique_streams", "must be positive")
	}
	if d.ConflictRate < 0 || d.ConflictRate > 1 {
		return invalid("conflict_rate", "must be within [0,1], got %g", d.ConflictRate)
	}
	if d.Tags.PerEvent < 0 {
		return invalid("tags.per_event", "must not be negative, got %d", d.Tags.PerEvent)
	}
	if d.Tags.PerEvent > 0 && d.Tags.Cardinality == 0 {
		return invalid("tags.cardinality", "must be positive when tags.per_event is set")
	}
	if r := d.ReadMix.TagQueryRatio; r < 0 || r > 1 {
		return invalid("read_mix.tag_query_ratio", "must be within [0,1], got %g", r)
	}
	switch d.Durability.Mode {
	case "", DurabilityFsyncOn, DurabilityFsyncOff, DurabilityAsync:
	default:
		return invalid("durability.mode", "unknown mode %q", d.Durability.Mode)
	}
	if c := d.Durability.Crash; c.Enabled {
		if c.AtSeconds <= 0 && c.AfterEvents <= 0 {
			return invalid("durability.crash", "needs at_seconds or after_events")
		}
		if c.AtSeconds > 0 && c.AfterEvents > 0 {
			return invalid("durability.crash", "at_seconds and after_events are mutually exclusive")
		}
		if c.RecoveryTimeoutSeconds < 0 {
			return invalid("durability.crash.recovery_timeout_seconds", "must not be negative")
		}
	}
	if s := d.Setup; s != nil {
		if s.PrepopulateStreams > 0 && s.EventsToPrepopulate == 0 {
			return invalid("setup.events_to_prepopulate", "must be set when prepopulate_streams is set")
		}
	}
	return nil
}

// Warnings reports low-realism conditions that do not reject the definition.
func (d *Definition) Warnings() []string {
	var warns []string
	if d.Streams.UniqueStreams < uint64(d.Writers) {
		warns = append(warns, fmt.Sprintf(
			"unique_streams (%d) is below writer concurrency (%d); contention will dominate and realism is low",
			d.Streams.UniqueStreams, d.Writers))
	}
	return warns
}

// DurabilityMode returns the configured mode, defaulting to fsync_on.
func (d *Definition) DurabilityMode() string {
	if d.Durability.Mode == "" {
		return DurabilityFsyncOn
	}
	return d.Durability.Mode
}
