// Package store defines the capability contract every target event store
// adapter must satisfy, plus the registry used to select one by name.
// The engine core depends only on this contract and never inspects an
// adapter's internals.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// AnyVersion disables the optimistic concurrency check on Append.
const AnyVersion int64 = -1

// ErrConflict is returned by Append when the expected stream version does not
// match the store's current version.
var ErrConflict = errors.New("store: expected version conflict")

// ErrUnavailable is returned while an adapter is crashed and not yet recovered.
var ErrUnavailable = errors.New("store: unavailable")

// Event is a payload handed to Append. It is owned by the calling writer until
// the append resolves and is not retained afterwards.
type Event struct {
	Type    string
	Payload []byte
	Tags    []string
}

// StoredEvent is an event read back from a store. Offset is the per-stream
// sequence number starting at 0.
type StoredEvent struct {
	Stream     string
	Offset     int64
	Type       string
	Payload    []byte
	Tags       []string
	AppendedAt time.Time
}

// Params carries connection settings through to an adapter. The engine treats
// URI and Options as opaque.
type Params struct {
	URI     string
	Options map[string]string
}

// Option returns the named option or a fallback.
func (p Params) Option(key, fallback string) string {
	if v, ok := p.Options[key]; ok {
		return v
	}
	return fallback
}

// Adapter is the capability set consumed polymorphically by the scheduler,
// collector and crash controller.
type Adapter interface {
	// Append appends events to a stream. When expected is not AnyVersion the
	// append succeeds only if the stream currently holds exactly expected
	// events; otherwise it fails with ErrConflict. Returns the stream's event
	// count after the append.
	Append(ctx context.Context, stream string, events []Event, expected int64) (int64, error)

	// ReadStream returns events from a stream in offset order, starting at
	// from, returning at most limit events (limit <= 0 means no cap).
	ReadStream(ctx context.Context, stream string, from int64, limit int) ([]StoredEvent, error)

	// QueryByTag returns events carrying the tag. Ordering is adapter-defined
	// and callers must not assume a global order across stores.
	QueryByTag(ctx context.Context, tag string, limit int) ([]StoredEvent, error)

	Close(ctx context.Context) error
}

// Crasher is implemented by adapters that can simulate abrupt failure.
// Crash must be effective before the next adapter call; Recover blocks until
// the store is operable again or fails.
type Crasher interface {
	Crash(ctx context.Context) error
	Recover(ctx context.Context) error
}

// InitError reports an adapter that failed to construct or connect. It is
// fatal: the run aborts before any worker starts.
type InitError struct {
	Adapter string
	Err     error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("adapter %q failed to initialize: %v", e.Adapter, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }
