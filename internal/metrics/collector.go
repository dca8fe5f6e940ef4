// Package metrics ingests per-operation samples from all worker tasks and
// turns them into percentile statistics at run end. The hot path is sharded
// so measurement does not distort the measured latencies: a worker contends
// only on 1/32 of the buffer space and never waits on another worker's shard.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const shardCount = 32

// Collector is a multi-producer sample buffer. Producers append concurrently
// through Record; the single drain happens only after all workers stopped.
type Collector struct {
	shards [shardCount]shard
	next   atomic.Uint64

	crashAt     atomic.Int64 // unix nanos, 0 = no crash marked
	recoveredAt atomic.Int64
}

type shard struct {
	mu      sync.Mutex
	samples []Sample
	hist    *hdrhistogram.Histogram
}

// NewCollector builds a collector tracking latencies from 1µs to 60s with
// 3 significant figures in its live histograms.
func NewCollector() *Collector {
	c := &Collector{}
	for i := range c.shards {
		c.shards[i].samples = make([]Sample, 0, 4096)
		c.shards[i].hist = hdrhistogram.New(1, 60_000_000, 3)
	}
	return c
}

// Record appends one sample. Shards are chosen round-robin by a cheap atomic
// counter so load spreads evenly regardless of worker count.
func (c *Collector) Record(s Sample) {
	if s.Outcome == OutcomeOK {
		if crash := c.crashAt.Load(); crash != 0 && c.recoveredAt.Load() == 0 {
			c.recoveredAt.CompareAndSwap(0, s.Time.UnixNano())
		}
	}
	sh := &c.shards[c.next.Add(1)%shardCount]
	sh.mu.Lock()
	sh.samples = append(sh.samples, s)
	us := int64(s.LatencyMS * 1000)
	if us < 1 {
		us = 1
	}
	if us > sh.hist.HighestTrackableValue() {
		us = sh.hist.HighestTrackableValue()
	}
	_ = sh.hist.RecordValue(us)
	sh.mu.Unlock()
}

// MarkCrash records the crash instant. The first subsequent successful
// operation closes the recovery window.
func (c *Collector) MarkCrash(t time.Time) {
	c.crashAt.CompareAndSwap(0, t.UnixNano())
}

// RecoveryTime returns crash-to-first-success elapsed time, if both ends of
// the window were observed.
func (c *Collector) RecoveryTime() (time.Duration, bool) {
	crash := c.crashAt.Load()
	rec := c.recoveredAt.Load()
	if crash == 0 || rec == 0 {
		return 0, false
	}
	return time.Duration(rec - crash), true
}

// RecoveryWindow returns the crash instant and the first post-crash success.
func (c *Collector) RecoveryWindow() (start, end time.Time, ok bool) {
	crash := c.crashAt.Load()
	rec := c.recoveredAt.Load()
	if crash == 0 || rec == 0 {
		return time.Time{}, time.Time{}, false
	}
	return time.Unix(0, crash), time.Unix(0, rec), true
}

// Snapshot is a cheap live view for progress reporting, backed by the merged
// histograms rather than a full sort.
type Snapshot struct {
	Total     int64
	OK        int64
	Conflicts int64
	Errors    int64
	P50MS     float64
	P99MS     float64
}

// Snapshot merges shard histograms and outcome counts. Meant for the progress
// ticker, not for final statistics.
func (c *Collector) Snapshot() Snapshot {
	merged := hdrhistogram.New(1, 60_000_000, 3)
	var snap Snapshot
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.Lock()
		merged.Merge(sh.hist)
		for _, s := range sh.samples {
			snap.Total++
			switch s.Outcome {
			case OutcomeOK:
				snap.OK++
			case OutcomeConflict:
				snap.Conflicts++
			default:
				snap.Errors++
			}
		}
		sh.mu.Unlock()
	}
	if merged.TotalCount() > 0 {
		snap.P50MS = float64(merged.ValueAtQuantile(50)) / 1000
		snap.P99MS = float64(merged.ValueAtQuantile(99)) / 1000
	}
	return snap
}

// Drain returns every recorded sample ordered by emission time. Call only
// after all producers have stopped.
func (c *Collector) Drain() []Sample {
	var out []Sample
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.Lock()
		out = append(out, sh.samples...)
		sh.samples = nil
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}
