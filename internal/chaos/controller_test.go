package chaos

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/esbench/esbench/internal/keyspace"
	"github.com/esbench/esbench/internal/metrics"
	"github.com/esbench/esbench/internal/store"
)

// crashableStore simulates an adapter with a crash capability and a fixed
// recovery delay. Recover fails until the delay has elapsed since Crash.
type crashableStore struct {
	recoverDelay time.Duration
	truncate     map[string]int64 // stream -> post-crash event count override

	mu       sync.Mutex
	down     bool
	crashAt  time.Time
	versions map[string]int64
}

func newCrashableStore() *crashableStore {
	return &crashableStore{versions: make(map[string]int64)}
}

func (c *crashableStore) Append(ctx context.Context, stream string, events []store.Event, expected int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return 0, store.ErrUnavailable
	}
	c.versions[stream] += int64(len(events))
	return c.versions[stream], nil
}

func (c *crashableStore) ReadStream(ctx context.Context, stream string, from int64, limit int) ([]store.StoredEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return nil, store.ErrUnavailable
	}
	n := c.versions[stream]
	if cut, ok := c.truncate[stream]; ok {
		n = cut
	}
	out := make([]store.StoredEvent, 0, n)
	for i := from; i < n; i++ {
		out = append(out, store.StoredEvent{Stream: stream, Offset: i})
	}
	return out, nil
}

func (c *crashableStore) QueryByTag(ctx context.Context, tag string, limit int) ([]store.StoredEvent, error) {
	return nil, nil
}

func (c *crashableStore) Close(ctx context.Context) error { return nil }

func (c *crashableStore) Crash(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down = true
	c.crashAt = time.Now()
	return nil
}

func (c *crashableStore) Recover(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.crashAt) < c.recoverDelay {
		return store.ErrUnavailable
	}
	c.down = false
	return nil
}

// The measured recovery window should track the store's actual recovery
// delay, not the polling or timeout configuration.
func TestRecoveryTimeTracksDelay(t *testing.T) {
	cs := newCrashableStore()
	cs.recoverDelay = 300 * time.Millisecond
	collector := metrics.NewCollector()

	ctrl := New(Options{
		AtOffset:        10 * time.Millisecond,
		RecoveryTimeout: 5 * time.Second,
		Crasher:         cs,
		Store:           cs,
		Collector:       collector,
	})

	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("controller failed: %v", err)
	}
	if ctrl.State() != StateResumed {
		t.Fatalf("final state %v, want resumed", ctrl.State())
	}

	// First post-recovery success closes the window.
	collector.Record(metrics.NewSample(time.Now(), metrics.OpAppend, time.Millisecond, metrics.OutcomeOK))
	rec, ok := collector.RecoveryTime()
	if !ok {
		t.Fatal("no recovery time captured")
	}
	if rec < 300*time.Millisecond || rec > time.Second {
		t.Fatalf("recovery time %v, want a little over 300ms", rec)
	}
}

func TestRecoveryTimeout(t *testing.T) {
	cs := newCrashableStore()
	cs.recoverDelay = time.Hour
	collector := metrics.NewCollector()

	ctrl := New(Options{
		AtOffset:        5 * time.Millisecond,
		RecoveryTimeout: 200 * time.Millisecond,
		Crasher:         cs,
		Store:           cs,
		Collector:       collector,
	})

	err := ctrl.Run(context.Background())
	var recErr *RecoveryError
	if !errors.As(err, &recErr) {
		t.Fatalf("expected *RecoveryError, got %v", err)
	}
	if recErr.Elapsed < 200*time.Millisecond {
		t.Fatalf("elapsed %v shorter than the timeout", recErr.Elapsed)
	}
	if ctrl.Err() == nil {
		t.Fatal("controller must retain the fatal error")
	}
}

func TestMidWriteTrigger(t *testing.T) {
	cs := newCrashableStore()
	collector := metrics.NewCollector()
	var issued atomic.Int64

	ctrl := New(Options{
		AfterEvents:     100,
		RecoveryTimeout: time.Second,
		Crasher:         cs,
		Store:           cs,
		Collector:       collector,
		Issued:          issued.Load,
	})

	done := make(chan error, 1)
	go func() { done <- ctrl.Run(context.Background()) }()

	// Below the threshold the controller must hold fire.
	issued.Store(99)
	time.Sleep(50 * time.Millisecond)
	if ctrl.State() != StateRunning {
		t.Fatalf("crashed below threshold, state %v", ctrl.State())
	}

	issued.Store(100)
	if err := <-done; err != nil {
		t.Fatalf("controller failed: %v", err)
	}
	if ctrl.State() != StateResumed {
		t.Fatalf("final state %v, want resumed", ctrl.State())
	}
}

// A run that ends while the store is still recovering is not a recovery
// failure; only the configured timeout produces a fatal error.
func TestRunEndDuringRecoveryIsNotTimeout(t *testing.T) {
	cs := newCrashableStore()
	cs.recoverDelay = time.Hour
	ctrl := New(Options{
		AtOffset:        5 * time.Millisecond,
		RecoveryTimeout: time.Hour,
		Crasher:         cs,
		Store:           cs,
		Collector:       metrics.NewCollector(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("run-end cancellation reported as failure: %v", err)
	}
	if ctrl.Err() != nil {
		t.Fatalf("fatal error retained: %v", ctrl.Err())
	}
	if ctrl.State() != StateRecovering {
		t.Fatalf("state %v, want recovering (no verdict)", ctrl.State())
	}
}

func TestNoTriggerBeforeRunEnd(t *testing.T) {
	cs := newCrashableStore()
	ctrl := New(Options{
		AtOffset:  time.Hour,
		Crasher:   cs,
		Store:     cs,
		Collector: metrics.NewCollector(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ctrl.Run(ctx); err != nil {
		t.Fatalf("untriggered controller must return nil, got %v", err)
	}
	if ctrl.State() != StateRunning {
		t.Fatalf("state %v, want running", ctrl.State())
	}
}

// The consistency check replays acknowledged streams after recovery; a stream
// that lost acknowledged events yields a consistency-error sample.
func TestVerifyDetectsLostEvents(t *testing.T) {
	cs := newCrashableStore()
	collector := metrics.NewCollector()
	claims := keyspace.NewClaimTable()

	// Ten events acknowledged on each stream before the crash; stream-1 comes
	// back with only six.
	cs.versions["stream-0"] = 10
	cs.versions["stream-1"] = 10
	claims.Release("stream-0", 10, true)
	claims.Release("stream-1", 10, true)
	cs.truncate = map[string]int64{"stream-1": 6}

	ctrl := New(Options{
		AtOffset:        5 * time.Millisecond,
		RecoveryTimeout: time.Second,
		Verify:          true,
		Crasher:         cs,
		Store:           cs,
		Collector:       collector,
		Claims:          claims,
	})

	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("controller failed: %v", err)
	}

	stats := metrics.Compute(collector.Drain(), time.Time{}, time.Time{})
	verify := stats.PerOp[metrics.OpVerify]
	if verify.Count != 2 {
		t.Fatalf("verify samples = %d, want one per acknowledged stream", verify.Count)
	}
	if verify.Outcomes[metrics.OutcomeConsistency] != 1 {
		t.Fatalf("expected one consistency error, got %v", verify.Outcomes)
	}
	if verify.Outcomes[metrics.OutcomeOK] != 1 {
		t.Fatalf("intact stream must verify clean, got %v", verify.Outcomes)
	}
}
