// Package keyspace produces deterministic, seeded sequences of stream keys
// and tags for worker tasks, including intentional optimistic-concurrency
// conflict injection against streams held by other in-flight writers.
package keyspace

import (
	"fmt"
	"math/rand"

	"github.com/esbench/esbench/internal/workload"
)

// Generator derives per-worker sub-generators from one workload definition
// and seed. The same (seed, definition) pair reproduces identical key
// sequences on every invocation; worker i always derives seed+i, so adding
// workers never perturbs existing sequences.
type Generator struct {
	def    *workload.Definition
	seed   uint64
	claims *ClaimTable
}

func NewGenerator(def *workload.Definition, seed uint64) *Generator {
	return &Generator{def: def, seed: seed, claims: NewClaimTable()}
}

// Claims exposes the shared claim table (the chaos controller reads
// acknowledged versions from it during the consistency check).
func (g *Generator) Claims() *ClaimTable { return g.claims }

// ForWorker returns the deterministic sub-generator for worker index i.
func (g *Generator) ForWorker(i int) *WorkerGen {
	rnd := rand.New(rand.NewSource(int64(g.seed) + int64(i)))
	w := &WorkerGen{
		rnd:          rnd,
		claims:       g.claims,
		unique:       g.def.Streams.UniqueStreams,
		conflictRate: g.def.ConflictRate,
		tagCard:      g.def.Tags.Cardinality,
		tagsPerEvent: g.def.Tags.PerEvent,
	}
	if g.def.Streams.Distribution == workload.DistZipf {
		w.zipf = rand.NewZipf(rnd, g.def.Streams.ZipfSkew, 1, g.def.Streams.UniqueStreams-1)
	}
	return w
}

// Selection is one stream pick handed to a writer. For claimed selections the
// writer must call Done exactly once after the append resolves; injected
// selections carry a deliberately stale expected version and hold no claim.
type Selection struct {
	Key      string
	Expected int64
	Injected bool

	claims  *ClaimTable
	claimed bool
}

// Done releases the claim, recording the acknowledged version when the append
// succeeded. Safe to call on unclaimed selections.
func (s *Selection) Done(newVersion int64, ok bool) {
	if !s.claimed {
		return
	}
	s.claimed = false
	s.claims.Release(s.Key, newVersion, ok)
}

// WorkerGen is the single-goroutine generator owned by one worker. All
// randomness flows from its seeded source; only the claim table is shared.
type WorkerGen struct {
	rnd          *rand.Rand
	zipf         *rand.Zipf
	claims       *ClaimTable
	unique       uint64
	conflictRate float64
	tagCard      uint64
	tagsPerEvent int
}

const claimRetries = 8

// Next picks the stream for the worker's next append. With probability equal
// to the workload's conflict rate it targets a stream currently claimed by
// another writer and returns an expected version guaranteed stale, forcing
// the adapter's optimistic check to reject the append. Otherwise it draws
// from the configured distribution, skipping claimed keys, and claims the
// winner for the duration of the append.
func (w *WorkerGen) Next() Selection {
	if w.conflictRate > 0 && w.rnd.Float64() < w.conflictRate {
		key, found := w.claims.RandomClaimed(w.rnd.Intn)
		if !found {
			key = w.draw()
		}
		// At most one writer holds a claim, so the live version is the
		// acknowledged one or its successor; +2 can never match either.
		return Selection{
			Key:      key,
			Expected: w.claims.Version(key) + 2,
			Injected: true,
			claims:   w.claims,
		}
	}
	key := w.draw()
	claimed := w.claims.Claim(key)
	for i := 0; !claimed && i < claimRetries; i++ {
		key = w.draw()
		claimed = w.claims.Claim(key)
	}
	// Past the retry budget the collision stands; whatever outcome the
	// adapter returns for the contended append is recorded as-is.
	return Selection{
		Key:      key,
		Expected: w.claims.Version(key),
		claims:   w.claims,
		claimed:  claimed,
	}
}

// ReadKey draws a stream key without claiming, for reader workers.
func (w *WorkerGen) ReadKey() string { return w.draw() }

// TagQuery reports whether the next read should be a tag query, per ratio.
func (w *WorkerGen) TagQuery(ratio float64) bool {
	return ratio > 0 && w.rnd.Float64() < ratio
}

// Tags draws the event's tag set from the configured cardinality space.
func (w *WorkerGen) Tags() []string {
	if w.tagsPerEvent == 0 || w.tagCard == 0 {
		return nil
	}
	tags := make([]string, w.tagsPerEvent)
	for i := range tags {
		tags[i] = fmt.Sprintf("tag-%d", w.rnd.Int63n(int64(w.tagCard)))
	}
	return tags
}

// Tag draws a single tag for reader tag queries.
func (w *WorkerGen) Tag() string {
	if w.tagCard == 0 {
		return "tag-0"
	}
	return fmt.Sprintf("tag-%d", w.rnd.Int63n(int64(w.tagCard)))
}

func (w *WorkerGen) draw() string {
	var idx uint64
	if w.zipf != nil {
		idx = w.zipf.Uint64()
	} else {
		idx = uint64(w.rnd.Int63n(int64(w.unique)))
	}
	return fmt.Sprintf("stream-%d", idx)
}
