package output

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/esbench/esbench/internal/metrics"
	"github.com/esbench/esbench/internal/resource"
)

// Summary is the immutable per-run result written once to summary.json.
type Summary struct {
	Workload      string               `json:"workload"`
	Adapter       string               `json:"adapter"`
	Writers       int                  `json:"writers"`
	Readers       int                  `json:"readers"`
	DurationS     float64              `json:"duration_s"`
	EventsWritten int64                `json:"events_written"`
	EventsRead    int64                `json:"events_read"`
	Conflicts     int64                `json:"conflicts"`
	Errors        int64                `json:"errors"`
	Abandoned     int64                `json:"abandoned"`
	ThroughputEPS float64              `json:"throughput_eps"`
	Latency       metrics.LatencyStats `json:"latency"`
	Resources     resource.Usage       `json:"resources"`
	RecoveryMS    *float64             `json:"recovery_time_ms,omitempty"`
}

// Meta is the minimal locator written to run.meta.json so the analysis layer
// can associate raw files with a reproducible configuration.
type Meta struct {
	Workload     string `json:"workload"`
	WorkloadHash string `json:"workload_sha256"`
	Adapter      string `json:"adapter"`
	Seed         uint64 `json:"seed"`
	Version      string `json:"version"`
}

// WriteSummary writes summary.json.
func (d *RunDir) WriteSummary(s Summary) error {
	return writeJSON(filepath.Join(d.Path, "summary.json"), s)
}

// WriteSamples streams the drained sample set to samples.jsonl, one JSON
// object per line in emission order.
func (d *RunDir) WriteSamples(samples []metrics.Sample) error {
	f, err := os.Create(filepath.Join(d.Path, "samples.jsonl"))
	if err != nil {
		return fmt.Errorf("create samples.jsonl: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, s := range samples {
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

// WriteMeta hashes the workload file and writes run.meta.json.
func (d *RunDir) WriteMeta(workloadPath, adapter string, seed uint64, version string) error {
	raw, err := os.ReadFile(workloadPath)
	if err != nil {
		return fmt.Errorf("hash workload: %w", err)
	}
	sum := sha256.Sum256(raw)
	return writeJSON(filepath.Join(d.Path, "run.meta.json"), Meta{
		Workload:     workloadPath,
		WorkloadHash: hex.EncodeToString(sum[:]),
		Adapter:      adapter,
		Seed:         seed,
		Version:      version,
	})
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return f.Sync()
}
