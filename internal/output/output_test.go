package output

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/esbench/esbench/internal/metrics"
)

func TestRunDirLayoutAndLock(t *testing.T) {
	base := t.TempDir()
	dir, err := NewRunDir(base, "steady-writes", "memory_w4_r2")
	if err != nil {
		t.Fatalf("new run dir: %v", err)
	}
	defer dir.Close()

	rel, err := filepath.Rel(base, dir.Path)
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) != 2 || parts[0] != "steady-writes" || !strings.HasPrefix(parts[1], "memory_w4_r2-") {
		t.Fatalf("unexpected run dir layout: %s", rel)
	}
	if _, err := os.Stat(filepath.Join(dir.Path, ".lock")); err != nil {
		t.Fatalf("lock file missing: %v", err)
	}

	// Distinct runs get distinct ULIDs, never a collision on the same path.
	other, err := NewRunDir(base, "steady-writes", "memory_w4_r2")
	if err != nil {
		t.Fatalf("second run dir: %v", err)
	}
	defer other.Close()
	if other.Path == dir.Path {
		t.Fatal("two runs mapped to the same directory")
	}
}

func TestRunLabel(t *testing.T) {
	cases := []struct {
		writers, readers int
		want             string
	}{
		{4, 2, "memory_w4_r2"},
		{4, 0, "memory_w4"},
		{0, 2, "memory_r2"},
	}
	for _, tc := range cases {
		if got := RunLabel("memory", tc.writers, tc.readers); got != tc.want {
			t.Errorf("RunLabel(memory, %d, %d) = %q, want %q", tc.writers, tc.readers, got, tc.want)
		}
	}
}

func TestWriteSummary(t *testing.T) {
	dir, err := NewRunDir(t.TempDir(), "wl", "memory_w1")
	if err != nil {
		t.Fatal(err)
	}
	defer dir.Close()

	rec := 412.5
	summary := Summary{
		Workload:      "steady-writes",
		Adapter:       "memory",
		Writers:       4,
		Readers:       2,
		DurationS:     30,
		EventsWritten: 120000,
		EventsRead:    4000,
		Conflicts:     600,
		Errors:        3,
		ThroughputEPS: 4000,
		Latency:       metrics.LatencyStats{P50MS: 1.2, P95MS: 3.4, P99MS: 8.8, P999MS: 20.1},
		RecoveryMS:    &rec,
	}
	if err := dir.WriteSummary(summary); err != nil {
		t.Fatalf("write summary: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir.Path, "summary.json"))
	if err != nil {
		t.Fatal(err)
	}
	doc := string(raw)
	if !gjson.Valid(doc) {
		t.Fatal("summary.json is not valid JSON")
	}
	if got := gjson.Get(doc, "events_written").Int(); got != 120000 {
		t.Fatalf("events_written = %d", got)
	}
	if got := gjson.Get(doc, "latency.p99_ms").Float(); got != 8.8 {
		t.Fatalf("latency.p99_ms = %v", got)
	}
	if got := gjson.Get(doc, "recovery_time_ms").Float(); got != 412.5 {
		t.Fatalf("recovery_time_ms = %v", got)
	}

	// Without a crash phase the recovery field is omitted entirely.
	summary.RecoveryMS = nil
	if err := dir.WriteSummary(summary); err != nil {
		t.Fatal(err)
	}
	raw, _ = os.ReadFile(filepath.Join(dir.Path, "summary.json"))
	if gjson.Get(string(raw), "recovery_time_ms").Exists() {
		t.Fatal("recovery_time_ms present without a crash phase")
	}
}

func TestWriteSamples(t *testing.T) {
	dir, err := NewRunDir(t.TempDir(), "wl", "memory_w1")
	if err != nil {
		t.Fatal(err)
	}
	defer dir.Close()

	base := time.UnixMilli(1700000000000)
	samples := []metrics.Sample{
		metrics.NewSample(base, metrics.OpAppend, 1500*time.Microsecond, metrics.OutcomeOK),
		metrics.NewSample(base.Add(time.Second), metrics.OpRead, 2*time.Millisecond, metrics.OutcomeConflict),
	}
	if err := dir.WriteSamples(samples); err != nil {
		t.Fatalf("write samples: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir.Path, "samples.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("samples.jsonl has %d lines, want 2", len(lines))
	}
	first := lines[0]
	if got := gjson.Get(first, "t_ms").Int(); got != 1700000000000 {
		t.Fatalf("t_ms = %d", got)
	}
	if got := gjson.Get(first, "op").String(); got != "append" {
		t.Fatalf("op = %q", got)
	}
	if got := gjson.Get(first, "latency_ms").Float(); got != 1.5 {
		t.Fatalf("latency_ms = %v", got)
	}
	if got := gjson.Get(lines[1], "outcome").String(); got != "conflict" {
		t.Fatalf("outcome = %q", got)
	}
}

func TestWriteMeta(t *testing.T) {
	dir, err := NewRunDir(t.TempDir(), "wl", "memory_w1")
	if err != nil {
		t.Fatal(err)
	}
	defer dir.Close()

	wl := filepath.Join(t.TempDir(), "wl.yaml")
	if err := os.WriteFile(wl, []byte("name: x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := dir.WriteMeta(wl, "memory", 42, "0.1.0"); err != nil {
		t.Fatalf("write meta: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir.Path, "run.meta.json"))
	if err != nil {
		t.Fatal(err)
	}
	doc := string(raw)
	if got := gjson.Get(doc, "adapter").String(); got != "memory" {
		t.Fatalf("adapter = %q", got)
	}
	if got := gjson.Get(doc, "seed").Uint(); got != 42 {
		t.Fatalf("seed = %d", got)
	}
	hash := gjson.Get(doc, "workload_sha256").String()
	if len(hash) != 64 {
		t.Fatalf("workload_sha256 = %q, want 64 hex chars", hash)
	}

	// Identical workload bytes hash identically across runs.
	other, err := NewRunDir(t.TempDir(), "wl", "memory_w1")
	if err != nil {
		t.Fatal(err)
	}
	defer other.Close()
	if err := other.WriteMeta(wl, "memory", 42, "0.1.0"); err != nil {
		t.Fatal(err)
	}
	raw2, _ := os.ReadFile(filepath.Join(other.Path, "run.meta.json"))
	if gjson.Get(string(raw2), "workload_sha256").String() != hash {
		t.Fatal("workload hash unstable across runs")
	}
}
