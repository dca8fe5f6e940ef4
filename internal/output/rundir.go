// Package output persists a run's raw results for the external analysis
// layer: summary.json, samples.jsonl and run.meta.json inside a uniquely
// identified, lock-protected run directory.
package output

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/oklog/ulid/v2"
)

// RunDir is one run's output directory, exclusively locked for the run's
// lifetime so concurrent invocations cannot interleave writes.
type RunDir struct {
	Path string
	ID   string
	lock *flock.Flock
}

// NewRunDir creates <base>/<workloadStem>/<label>-<ulid> and takes the lock.
func NewRunDir(base, workloadStem, label string) (*RunDir, error) {
	id := ulid.Make().String()
	path := filepath.Join(base, workloadStem, fmt.Sprintf("%s-%s", label, id))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	lock := flock.New(filepath.Join(path, ".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock run dir: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("run dir %s is locked by another run", path)
	}
	return &RunDir{Path: path, ID: id, lock: lock}, nil
}

// Close releases the directory lock.
func (d *RunDir) Close() error {
	if d.lock == nil {
		return nil
	}
	return d.lock.Unlock()
}

// RunLabel builds the adapter/concurrency directory label, e.g. memory_w4_r2.
func RunLabel(adapter string, writers, readers int) string {
	switch {
	case readers > 0 && writers == 0:
		return fmt.Sprintf("%s_r%d", adapter, readers)
	case writers > 0 && readers == 0:
		return fmt.Sprintf("%s_w%d", adapter, writers)
	default:
		return fmt.Sprintf("%s_w%d_r%d", adapter, writers, readers)
	}
}
