package runner

import (
	"io"
	"time"

	"golang.org/x/time/rate"

	"github.com/esbench/esbench/internal/keyspace"
	"github.com/esbench/esbench/internal/metrics"
	"github.com/esbench/esbench/internal/store"
)

// Options configure a Runner for one workload execution.
type Options struct {
	Writers int // concurrent write-workers
	Readers int // concurrent read-workers (0 allowed)

	// Exactly one stop condition is active: a count of successful appends or
	// a wall-clock measurement duration.
	TargetEvents int64
	Duration     time.Duration

	// Unmeasured lead-in and tail around the measurement window. Only
	// meaningful for duration-based runs.
	Warmup   time.Duration
	Cooldown time.Duration

	RateEPS int           // append pacing in events/sec (0 means unlimited)
	Grace   time.Duration // max wait for in-flight operations after stop

	EventSize     int     // synthetic payload bytes per event
	TagQueryRatio float64 // fraction of reads that are tag queries
	ReadLimit     int     // max events per stream read / tag query

	// Prepopulation before the measurement phase (setup config).
	PrepopulateEvents  uint64
	PrepopulateStreams uint64

	Store     store.Adapter       // required
	Keys      *keyspace.Generator // required
	Collector *metrics.Collector  // required

	ErrorLog io.Writer // when set, each failed operation is logged here

	LimiterFactory func(eps int) *rate.Limiter // optional injection for tests
}

func (o *Options) normalize() {
	if o.Writers <= 0 {
		o.Writers = 1
	}
	if o.Readers < 0 {
		o.Readers = 0
	}
	if o.Grace <= 0 {
		o.Grace = 5 * time.Second
	}
	if o.EventSize <= 0 {
		o.EventSize = 64
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 100
	}
	if o.Warmup < 0 {
		o.Warmup = 0
	}
	if o.Cooldown < 0 {
		o.Cooldown = 0
	}
	if o.TargetEvents > 0 {
		// Count-targeted runs measure from the first operation.
		o.Warmup = 0
		o.Cooldown = 0
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(eps int) *rate.Limiter {
			if eps <= 0 {
				return rate.NewLimiter(rate.Inf, 0)
			}
			// Burst equal to eps smooths pacing under concurrency.
			return rate.NewLimiter(rate.Limit(eps), eps)
		}
	}
}
