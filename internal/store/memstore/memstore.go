// Package memstore is the in-memory reference adapter. It implements the full
// store contract including optimistic concurrency, a tag index and simulated
// crash/recovery, and supports fault-injection options used by calibration
// runs and tests.
package memstore

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/esbench/esbench/internal/store"
)

func init() {
	store.Register("memory", func(p store.Params) (store.Adapter, error) {
		return New(p)
	})
}

// Store keeps per-stream event slices plus a tag index. With durability off
// ("async" or "fsync_off"), appends land in an unflushed tail that a Crash
// discards, mirroring a real store losing unsynced writes.
type Store struct {
	mu      sync.RWMutex
	streams map[string]*stream
	tags    map[string][]store.StoredEvent

	durable bool
	down    atomic.Bool

	latency      time.Duration
	failEvery    int64
	recoverDelay time.Duration
	ops          atomic.Int64
}

type stream struct {
	events  []store.StoredEvent
	flushed int // events guaranteed to survive a crash
}

// New builds a Store from connection parameters. Recognized options:
// durability (fsync_on|fsync_off|async), latency (Go duration, fixed per-op
// delay), fail_every (every Nth operation errors), recover_delay (delay before
// Recover reports ready).
func New(p store.Params) (*Store, error) {
	s := &Store{
		streams: make(map[string]*stream),
		tags:    make(map[string][]store.StoredEvent),
		durable: true,
	}
	switch p.Option("durability", "fsync_on") {
	case "fsync_on":
		s.durable = true
	case "fsync_off", "async":
		s.durable = false
	default:
		return nil, fmt.Errorf("memstore: unknown durability option %q", p.Options["durability"])
	}
	if v := p.Option("latency", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("memstore: bad latency option %q: %w", v, err)
		}
		s.latency = d
	}
	if v := p.Option("fail_every", ""); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("memstore: bad fail_every option %q", v)
		}
		s.failEvery = n
	}
	if v := p.Option("recover_delay", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("memstore: bad recover_delay option %q: %w", v, err)
		}
		s.recoverDelay = d
	}
	return s, nil
}

func (s *Store) before(ctx context.Context) error {
	if s.down.Load() {
		return store.ErrUnavailable
	}
	if n := s.failEvery; n > 0 && s.ops.Add(1)%n == 0 {
		return fmt.Errorf("memstore: injected fault")
	}
	if s.latency > 0 {
		t := time.NewTimer(s.latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return ctx.Err()
}

func (s *Store) Append(ctx context.Context, name string, events []store.Event, expected int64) (int64, error) {
	if err := s.before(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down.Load() {
		return 0, store.ErrUnavailable
	}
	st := s.streams[name]
	if st == nil {
		st = &stream{}
		s.streams[name] = st
	}
	current := int64(len(st.events))
	if expected != store.AnyVersion && expected != current {
		return current, store.ErrConflict
	}
	now := time.Now()
	for _, e := range events {
		se := store.StoredEvent{
			Stream:     name,
			Offset:     int64(len(st.events)),
			Type:       e.Type,
			Payload:    e.Payload,
			Tags:       e.Tags,
			AppendedAt: now,
		}
		st.events = append(st.events, se)
		for _, tag := range e.Tags {
			s.tags[tag] = append(s.tags[tag], se)
		}
	}
	if s.durable {
		st.flushed = len(st.events)
	}
	return int64(len(st.events)), nil
}

func (s *Store) ReadStream(ctx context.Context, name string, from int64, limit int) ([]store.StoredEvent, error) {
	if err := s.before(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.streams[name]
	if st == nil || from >= int64(len(st.events)) {
		return nil, nil
	}
	if from < 0 {
		from = 0
	}
	out := st.events[from:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	res := make([]store.StoredEvent, len(out))
	copy(res, out)
	return res, nil
}

func (s *Store) QueryByTag(ctx context.Context, tag string, limit int) ([]store.StoredEvent, error) {
	if err := s.before(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.tags[tag]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	res := make([]store.StoredEvent, len(out))
	copy(res, out)
	return res, nil
}

// Crash marks the store unavailable and discards every unflushed tail,
// exercising in-flight unacknowledged writes. It is abrupt: no flush happens.
func (s *Store) Crash(ctx context.Context) error {
	s.down.Store(true)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.durable {
		for _, st := range s.streams {
			st.events = st.events[:st.flushed]
		}
		s.rebuildTags()
	}
	return nil
}

// Recover brings the store back after the configured recover_delay.
func (s *Store) Recover(ctx context.Context) error {
	if s.recoverDelay > 0 {
		t := time.NewTimer(s.recoverDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	s.mu.Lock()
	for _, st := range s.streams {
		st.flushed = len(st.events)
	}
	s.mu.Unlock()
	s.down.Store(false)
	return nil
}

func (s *Store) Close(ctx context.Context) error { return nil }

// rebuildTags drops tag index entries pointing at truncated events.
// Caller holds s.mu.
func (s *Store) rebuildTags() {
	for tag, events := range s.tags {
		kept := events[:0]
		for _, se := range events {
			st := s.streams[se.Stream]
			if st != nil && se.Offset < int64(len(st.events)) {
				kept = append(kept, se)
			}
		}
		if len(kept) == 0 {
			delete(s.tags, tag)
			continue
		}
		s.tags[tag] = kept
	}
}
