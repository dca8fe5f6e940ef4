package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/esbench/esbench/internal/metrics"
)

// ProgressReporter displays a real-time progress line from collector
// snapshots.
type ProgressReporter struct {
	collector *metrics.Collector
	ticker    *time.Ticker
	done      chan struct{}
	finished  chan struct{}
	writer    io.Writer
	active    int32
	start     time.Time
}

// NewProgressReporter creates a reporter that updates at the given interval.
func NewProgressReporter(collector *metrics.Collector, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		collector: collector,
		ticker:    time.NewTicker(interval),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		writer:    writer,
		start:     time.Now(),
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			snap := p.collector.Snapshot()
			elapsed := time.Since(p.start).Seconds()
			eps := 0.0
			if elapsed > 0 {
				eps = float64(snap.OK) / elapsed
			}
			fmt.Fprintf(p.writer,
				"\rOps: %d | OK: %d | Conflicts: %d | Errors: %d | EPS: %.1f | P50: %.2fms | P99: %.2fms",
				snap.Total, snap.OK, snap.Conflicts, snap.Errors, eps, snap.P50MS, snap.P99MS)
		case <-p.done:
			return
		}
	}
}
