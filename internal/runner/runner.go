// Package runner orchestrates concurrent writer and reader workers against a
// store adapter for a configured duration or event target, then performs an
// ordered shutdown bounded by a grace period. Per-operation failures become
// samples; nothing a single operation does can abort the run.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/esbench/esbench/internal/keyspace"
	"github.com/esbench/esbench/internal/metrics"
	"github.com/esbench/esbench/internal/store"
)

// Result captures execution totals for the summary.
type Result struct {
	EventsWritten int64
	EventsRead    int64
	Conflicts     int64
	Errors        int64
	Abandoned     int64
	Duration      time.Duration // measured window wall-clock duration
}

// Runner coordinates one workload execution.
type Runner struct {
	opt     Options
	limiter *rate.Limiter

	reserved  atomic.Int64 // committed successes + in-flight reservations (count mode)
	successes atomic.Int64
	reads     atomic.Int64
	conflicts atomic.Int64
	failures  atomic.Int64
	abandoned atomic.Int64
	issued    atomic.Int64
	inflight  atomic.Int64
}

func New(opt Options) *Runner {
	opt.normalize()
	return &Runner{opt: opt, limiter: opt.LimiterFactory(opt.RateEPS)}
}

// Issued returns the number of appends submitted so far, acknowledged or not.
// The crash controller uses it for mid-write trigger points.
func (r *Runner) Issued() int64 { return r.issued.Load() }

// Prepopulate appends setup events round-robin across the configured stream
// count before measurement starts. Failures here are fatal: a broken adapter
// must surface before workers spin up.
func (r *Runner) Prepopulate(ctx context.Context) error {
	total := r.opt.PrepopulateEvents
	if total == 0 {
		return nil
	}
	streams := r.opt.PrepopulateStreams
	if streams == 0 {
		streams = 1
	}
	payload := make([]byte, r.opt.EventSize)
	claims := r.opt.Keys.Claims()
	for i := uint64(0); i < total; i++ {
		key := fmt.Sprintf("stream-%d", i%streams)
		v, err := r.opt.Store.Append(ctx, key, []store.Event{{Type: "setup", Payload: payload}}, store.AnyVersion)
		if err != nil {
			return fmt.Errorf("prepopulate append %d to %s: %w", i, key, err)
		}
		claims.Release(key, v, true)
	}
	return nil
}

// Run executes the workload and blocks until shutdown completes.
func (r *Runner) Run(ctx context.Context) Result {
	start := time.Now()
	measureStart := start.Add(r.opt.Warmup)
	measureEnd := time.Time{}
	if r.opt.Duration > 0 {
		measureEnd = measureStart.Add(r.opt.Duration)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if r.opt.Duration > 0 {
		deadlineCtx, deadlineCancel := context.WithDeadline(runCtx, measureEnd.Add(r.opt.Cooldown))
		runCtx = deadlineCtx
		defer deadlineCancel()
	}

	// Operations outlive the stop signal by up to the grace period, so they
	// run on a separate context that is cancelled only at forced finalize.
	hardCtx, hardCancel := context.WithCancel(context.Background())
	defer hardCancel()

	var writersWG, readersWG sync.WaitGroup
	writersWG.Add(r.opt.Writers)
	for i := 0; i < r.opt.Writers; i++ {
		gen := r.opt.Keys.ForWorker(i)
		go func() {
			defer writersWG.Done()
			r.writeLoop(runCtx, hardCtx, gen, measureStart, measureEnd)
		}()
	}
	readersWG.Add(r.opt.Readers)
	for i := 0; i < r.opt.Readers; i++ {
		gen := r.opt.Keys.ForWorker(r.opt.Writers + i)
		go func() {
			defer readersWG.Done()
			r.readLoop(runCtx, hardCtx, gen, measureStart, measureEnd)
		}()
	}

	// Count-targeted runs have no deadline; readers stop once the writers
	// have landed the final event.
	if r.opt.TargetEvents > 0 {
		go func() {
			writersWG.Wait()
			cancel()
		}()
	}

	done := make(chan struct{})
	go func() {
		writersWG.Wait()
		readersWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-runCtx.Done():
		// Stop signaled: wait out in-flight operations, bounded by grace.
		grace := time.NewTimer(r.opt.Grace)
		select {
		case <-done:
			grace.Stop()
		case <-grace.C:
			r.abandoned.Add(r.inflight.Load())
			hardCancel()
			<-done
		}
	}

	measured := time.Since(measureStart)
	if r.opt.Duration > 0 {
		measured = r.opt.Duration
	}
	return Result{
		EventsWritten: r.successes.Load(),
		EventsRead:    r.reads.Load(),
		Conflicts:     r.conflicts.Load(),
		Errors:        r.failures.Load(),
		Abandoned:     r.abandoned.Load(),
		Duration:      measured,
	}
}

// reserve claims one slot toward the event target so count-based runs finish
// with exactly the targeted number of successful appends.
func (r *Runner) reserve() bool {
	for {
		cur := r.reserved.Load()
		if cur >= r.opt.TargetEvents {
			return false
		}
		if r.reserved.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (r *Runner) writeLoop(runCtx, hardCtx context.Context, gen *keyspace.WorkerGen, measureStart, measureEnd time.Time) {
	counted := r.opt.TargetEvents > 0
	for {
		// Stop conditions are checked between operations only; an issued
		// operation always runs to resolution or the grace cutoff.
		if runCtx.Err() != nil {
			return
		}
		if counted && !r.reserve() {
			return
		}
		if r.opt.RateEPS > 0 {
			if err := r.limiter.Wait(runCtx); err != nil {
				if counted {
					r.reserved.Add(-1)
				}
				return
			}
		}

		sel := gen.Next()
		evt := store.Event{Type: "bench", Payload: make([]byte, r.opt.EventSize), Tags: gen.Tags()}

		r.issued.Add(1)
		r.inflight.Add(1)
		t0 := time.Now()
		version, err := r.opt.Store.Append(hardCtx, sel.Key, []store.Event{evt}, sel.Expected)
		latency := time.Since(t0)
		r.inflight.Add(-1)
		sel.Done(version, err == nil)

		outcome := r.classify(err)
		switch outcome {
		case metrics.OutcomeOK:
			r.successes.Add(1)
		case metrics.OutcomeConflict:
			r.conflicts.Add(1)
		default:
			r.failures.Add(1)
			if r.opt.ErrorLog != nil {
				fmt.Fprintf(r.opt.ErrorLog, "append %s: %v\n", sel.Key, err)
			}
		}
		if counted && outcome != metrics.OutcomeOK {
			r.reserved.Add(-1)
		}
		r.record(metrics.OpAppend, t0.Add(latency), latency, outcome, measureStart, measureEnd)
		if outcome == metrics.OutcomeAbandoned {
			return
		}
	}
}

func (r *Runner) readLoop(runCtx, hardCtx context.Context, gen *keyspace.WorkerGen, measureStart, measureEnd time.Time) {
	offsets := make(map[string]int64)
	for {
		if runCtx.Err() != nil {
			return
		}

		var (
			op  metrics.OpKind
			n   int
			err error
		)
		r.inflight.Add(1)
		t0 := time.Now()
		if gen.TagQuery(r.opt.TagQueryRatio) {
			op = metrics.OpTagQuery
			var events []store.StoredEvent
			events, err = r.opt.Store.QueryByTag(hardCtx, gen.Tag(), r.opt.ReadLimit)
			n = len(events)
		} else {
			op = metrics.OpRead
			key := gen.ReadKey()
			var events []store.StoredEvent
			events, err = r.opt.Store.ReadStream(hardCtx, key, offsets[key], r.opt.ReadLimit)
			n = len(events)
			offsets[key] += int64(n)
		}
		latency := time.Since(t0)
		r.inflight.Add(-1)

		outcome := r.classify(err)
		if outcome == metrics.OutcomeOK {
			r.reads.Add(int64(n))
		} else if outcome != metrics.OutcomeConflict {
			r.failures.Add(1)
			if r.opt.ErrorLog != nil {
				fmt.Fprintf(r.opt.ErrorLog, "%s: %v\n", op, err)
			}
		}
		r.record(op, t0.Add(latency), latency, outcome, measureStart, measureEnd)
		if outcome == metrics.OutcomeAbandoned {
			return
		}
	}
}

func (r *Runner) record(op metrics.OpKind, at time.Time, latency time.Duration, outcome metrics.Outcome, measureStart, measureEnd time.Time) {
	if at.Before(measureStart) {
		return
	}
	if !measureEnd.IsZero() && at.After(measureEnd) {
		return
	}
	r.opt.Collector.Record(metrics.NewSample(at, op, latency, outcome))
}

func (r *Runner) classify(err error) metrics.Outcome {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, store.ErrConflict):
		return metrics.OutcomeConflict
	case errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeTimeout
	case errors.Is(err, context.Canceled):
		return metrics.OutcomeAbandoned
	default:
		return metrics.OutcomeError
	}
}
