// Package chaos drives the crash/recovery phase of durability workloads: it
// triggers an abrupt simulated failure at a configured point, times recovery
// to the first successful operation, and optionally verifies that everything
// acknowledged before the crash survived it.
package chaos

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/esbench/esbench/internal/keyspace"
	"github.com/esbench/esbench/internal/metrics"
	"github.com/esbench/esbench/internal/store"
)

// State of the controller's crash lifecycle.
type State int32

const (
	StateRunning State = iota
	StateCrashing
	StateDown
	StateRecovering
	StateResumed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCrashing:
		return "crashing"
	case StateDown:
		return "down"
	case StateRecovering:
		return "recovering"
	case StateResumed:
		return "resumed"
	default:
		return "unknown"
	}
}

// RecoveryError reports an adapter that failed to come back within the
// recovery timeout. Fatal for the run; reported, never retried.
type RecoveryError struct {
	Elapsed time.Duration
	Err     error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("store failed to recover within %s: %v", e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *RecoveryError) Unwrap() error { return e.Err }

// Options configure one controller. Exactly one of AtOffset / AfterEvents
// selects the trigger point.
type Options struct {
	AtOffset        time.Duration // wall-clock trigger after run start
	AfterEvents     int64         // mid-write trigger: fire once this many appends were issued
	RecoveryTimeout time.Duration
	Verify          bool

	Crasher   store.Crasher
	Store     store.Adapter // used by the consistency check
	Collector *metrics.Collector
	Claims    *keyspace.ClaimTable
	Issued    func() int64 // scheduler's issued-appends probe
}

// Controller runs the RUNNING -> CRASHING -> DOWN -> RECOVERING -> RUNNING
// state machine once per run. A workload without a crash phase never
// constructs one; the component is inert by absence.
type Controller struct {
	opt   Options
	state atomic.Int32
	err   atomic.Pointer[RecoveryError]
}

func New(opt Options) *Controller {
	if opt.RecoveryTimeout <= 0 {
		opt.RecoveryTimeout = 30 * time.Second
	}
	return &Controller{opt: opt}
}

// State returns the current lifecycle state.
func (c *Controller) State() State { return State(c.state.Load()) }

// Err returns the fatal recovery error, if the run's recovery timed out.
func (c *Controller) Err() *RecoveryError { return c.err.Load() }

// Run blocks until the trigger point, crashes the adapter, then recovers it.
// It returns when the store is back or recovery failed. A run that ends
// before the trigger fires returns nil (no crash phase happened), as does a
// run that ends while recovery is still in flight: outlasting recovery is not
// a recovery verdict, and only the timeout is fatal.
func (c *Controller) Run(ctx context.Context) error {
	if !c.waitTrigger(ctx) {
		return nil
	}

	c.state.Store(int32(StateCrashing))
	var acked map[string]int64
	if c.opt.Verify && c.opt.Claims != nil {
		acked = c.opt.Claims.Acked()
	}
	crashAt := time.Now()
	c.opt.Collector.MarkCrash(crashAt)
	if err := c.opt.Crasher.Crash(ctx); err != nil {
		// A crash capability that cannot crash leaves nothing to measure.
		recErr := &RecoveryError{Elapsed: 0, Err: fmt.Errorf("crash: %w", err)}
		c.err.Store(recErr)
		return recErr
	}
	c.state.Store(int32(StateDown))

	c.state.Store(int32(StateRecovering))
	recovered, err := c.recover(ctx, crashAt)
	if err != nil {
		return err
	}
	if !recovered {
		return nil
	}
	c.state.Store(int32(StateResumed))

	if c.opt.Verify && acked != nil {
		c.verify(ctx, acked)
	}
	return nil
}

func (c *Controller) waitTrigger(ctx context.Context) bool {
	if c.opt.AtOffset > 0 {
		t := time.NewTimer(c.opt.AtOffset)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			return true
		}
	}
	// Mid-write trigger: poll the scheduler's issued counter so the crash
	// lands after submission but possibly before durability is acknowledged.
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if c.opt.Issued != nil && c.opt.Issued() >= c.opt.AfterEvents {
				return true
			}
		}
	}
}

// recover polls the crasher until the store is back. The bool reports whether
// recovery actually completed: a run-context cancellation before the timeout
// means the run ended mid-recovery, which is not a failure.
func (c *Controller) recover(ctx context.Context, crashAt time.Time) (bool, error) {
	deadline := crashAt.Add(c.opt.RecoveryTimeout)
	var lastErr error
	for {
		attemptCtx, cancel := context.WithDeadline(ctx, deadline)
		err := c.opt.Crasher.Recover(attemptCtx)
		cancel()
		if err == nil {
			return true, nil
		}
		lastErr = err
		if ctx.Err() != nil && time.Now().Before(deadline) {
			return false, nil
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			recErr := &RecoveryError{Elapsed: time.Since(crashAt), Err: lastErr}
			c.err.Store(recErr)
			return false, recErr
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// verify replays every acknowledged stream after recovery: all events
// acknowledged before the crash must be readable with gapless offsets.
// Violations become consistency-error samples, not silent drops.
func (c *Controller) verify(ctx context.Context, acked map[string]int64) {
	for key, version := range acked {
		t0 := time.Now()
		events, err := c.opt.Store.ReadStream(ctx, key, 0, 0)
		latency := time.Since(t0)

		outcome := metrics.OutcomeOK
		switch {
		case err != nil:
			outcome = metrics.OutcomeError
		case int64(len(events)) < version:
			outcome = metrics.OutcomeConsistency
		default:
			for i, e := range events {
				if e.Offset != int64(i) {
					outcome = metrics.OutcomeConsistency
					break
				}
			}
		}
		c.opt.Collector.Record(metrics.NewSample(t0.Add(latency), metrics.OpVerify, latency, outcome))
	}
}
