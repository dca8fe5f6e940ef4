package output

import (
	"encoding/json"
	"fmt"
	"io"
)

// PrintReport outputs a human-readable run summary.
func PrintReport(w io.Writer, s Summary) {
	fmt.Fprintln(w, "\n--- Benchmark Results ---")
	fmt.Fprintf(w, "Workload:          %s\n", s.Workload)
	fmt.Fprintf(w, "Adapter:           %s\n", s.Adapter)
	fmt.Fprintf(w, "Writers/Readers:   %d/%d\n", s.Writers, s.Readers)
	fmt.Fprintf(w, "Duration:          %.2fs\n", s.DurationS)
	fmt.Fprintf(w, "Events Written:    %d\n", s.EventsWritten)
	if s.EventsRead > 0 {
		fmt.Fprintf(w, "Events Read:       %d\n", s.EventsRead)
	}
	fmt.Fprintf(w, "Conflicts:         %d\n", s.Conflicts)
	fmt.Fprintf(w, "Errors:            %d\n", s.Errors)
	if s.Abandoned > 0 {
		fmt.Fprintf(w, "Abandoned:         %d\n", s.Abandoned)
	}
	fmt.Fprintf(w, "Throughput:        %.2f events/sec\n", s.ThroughputEPS)
	fmt.Fprintln(w, "\nLatency:")
	fmt.Fprintf(w, "  P50:             %.3fms\n", s.Latency.P50MS)
	fmt.Fprintf(w, "  P95:             %.3fms\n", s.Latency.P95MS)
	fmt.Fprintf(w, "  P99:             %.3fms\n", s.Latency.P99MS)
	fmt.Fprintf(w, "  P99.9:           %.3fms\n", s.Latency.P999MS)
	if s.Resources.Snapshots > 0 {
		fmt.Fprintln(w, "\nResources:")
		fmt.Fprintf(w, "  CPU:             %.1f%% avg, %.1f%% peak\n", s.Resources.CPUPercentAvg, s.Resources.CPUPercentPeak)
		fmt.Fprintf(w, "  Memory:          %.1fMB avg, %.1fMB peak\n", s.Resources.MemoryMBAvg, s.Resources.MemoryMBPeak)
	}
	if s.RecoveryMS != nil {
		fmt.Fprintf(w, "\nRecovery Time:     %.1fms\n", *s.RecoveryMS)
	}
}

// PrintJSONReport outputs the summary as indented JSON.
func PrintJSONReport(w io.Writer, s Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
