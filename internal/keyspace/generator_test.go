package keyspace

import (
	"testing"

	"github.com/esbench/esbench/internal/workload"
)

func testDefinition() *workload.Definition {
	return &workload.Definition{
		Name:            "keys",
		DurationSeconds: 1,
		Writers:         1,
		EventSizeBytes:  64,
		Streams:         workload.StreamsConfig{Distribution: workload.DistUniform, UniqueStreams: 100},
		Tags:            workload.TagsConfig{Cardinality: 10, PerEvent: 2},
		Seed:            1,
	}
}

// TestDeterministicSequence checks the reproducibility guarantee: the same
// (seed, workload) pair yields an identical key sequence and injection
// pattern on every invocation.
func TestDeterministicSequence(t *testing.T) {
	def := testDefinition()
	def.ConflictRate = 0.1

	sequence := func() ([]string, []bool) {
		gen := NewGenerator(def, 42).ForWorker(0)
		keys := make([]string, 0, 1000)
		injected := make([]bool, 0, 1000)
		for i := 0; i < 1000; i++ {
			sel := gen.Next()
			keys = append(keys, sel.Key)
			injected = append(injected, sel.Injected)
			sel.Done(1, true)
		}
		return keys, injected
	}

	keys1, inj1 := sequence()
	keys2, inj2 := sequence()
	for i := range keys1 {
		if keys1[i] != keys2[i] {
			t.Fatalf("key sequence diverged at %d: %s vs %s", i, keys1[i], keys2[i])
		}
		if inj1[i] != inj2[i] {
			t.Fatalf("injection pattern diverged at %d", i)
		}
	}
}

func TestWorkerSeedsDiffer(t *testing.T) {
	def := testDefinition()
	g := NewGenerator(def, 42)
	a, b := g.ForWorker(0), g.ForWorker(1)
	same := 0
	for i := 0; i < 100; i++ {
		sa, sb := a.Next(), b.Next()
		if sa.Key == sb.Key {
			same++
		}
		sa.Done(0, false)
		sb.Done(0, false)
	}
	if same == 100 {
		t.Fatal("distinct workers produced identical sequences")
	}
}

// TestConflictInjectionRate checks the empirical injection proportion over a
// large draw count stays within ±1% of the configured rate.
func TestConflictInjectionRate(t *testing.T) {
	def := testDefinition()
	def.ConflictRate = 0.05
	gen := NewGenerator(def, 7).ForWorker(0)

	const n = 20000
	injected := 0
	for i := 0; i < n; i++ {
		sel := gen.Next()
		if sel.Injected {
			injected++
		}
		sel.Done(0, false)
	}
	got := float64(injected) / n
	if got < 0.04 || got > 0.06 {
		t.Fatalf("injection rate %.4f outside [0.04, 0.06]", got)
	}
}

// TestInjectedSelectionsConflict verifies an injected expected version can
// never match the stream's live version, whether or not the claimant's
// in-flight append has landed.
func TestInjectedSelectionsConflict(t *testing.T) {
	def := testDefinition()
	def.ConflictRate = 1.0
	g := NewGenerator(def, 3)
	claims := g.Claims()

	// Another writer holds stream-5 at acknowledged version 4 with an append
	// in flight, so the live version is either 4 or 5.
	claims.Release("stream-5", 4, true)
	if !claims.Claim("stream-5") {
		t.Fatal("claim failed on fresh key")
	}

	gen := g.ForWorker(0)
	for i := 0; i < 100; i++ {
		sel := gen.Next()
		if !sel.Injected {
			t.Fatal("conflict_rate=1 must always inject")
		}
		if sel.Key != "stream-5" {
			t.Fatalf("injection must target the claimed stream, got %s", sel.Key)
		}
		if sel.Expected == 4 || sel.Expected == 5 {
			t.Fatalf("stale expected version %d could match the live version", sel.Expected)
		}
	}
}

func TestZipfFavorsHotStreams(t *testing.T) {
	def := testDefinition()
	def.Streams = workload.StreamsConfig{
		Distribution:  workload.DistZipf,
		UniqueStreams: 1000,
		ZipfSkew:      1.5,
	}
	gen := NewGenerator(def, 11).ForWorker(0)

	counts := make(map[string]int)
	const n = 10000
	for i := 0; i < n; i++ {
		sel := gen.Next()
		counts[sel.Key]++
		sel.Done(0, false)
	}
	// Heavy tail: the single hottest stream should take a large share while
	// the keyspace stays far from uniformly covered.
	if counts["stream-0"] < n/10 {
		t.Fatalf("rank-0 stream only drew %d of %d", counts["stream-0"], n)
	}
	if len(counts) > 800 {
		t.Fatalf("zipf draw touched %d distinct streams, looks uniform", len(counts))
	}
}

func TestUniformCoversKeyspace(t *testing.T) {
	gen := NewGenerator(testDefinition(), 11).ForWorker(0)
	counts := make(map[string]int)
	for i := 0; i < 10000; i++ {
		sel := gen.Next()
		counts[sel.Key]++
		sel.Done(0, false)
	}
	if len(counts) != 100 {
		t.Fatalf("uniform draw over 100 streams touched %d", len(counts))
	}
}

func TestClaimTable(t *testing.T) {
	ct := NewClaimTable()
	if !ct.Claim("stream-1") {
		t.Fatal("first claim must succeed")
	}
	if ct.Claim("stream-1") {
		t.Fatal("second claim on held key must fail")
	}
	ct.Release("stream-1", 3, true)
	if got := ct.Version("stream-1"); got != 3 {
		t.Fatalf("expected version 3, got %d", got)
	}
	if !ct.Claim("stream-1") {
		t.Fatal("claim after release must succeed")
	}
	ct.Release("stream-1", 0, false)
	if got := ct.Version("stream-1"); got != 3 {
		t.Fatalf("failed append must not move version, got %d", got)
	}

	acked := ct.Acked()
	if len(acked) != 1 || acked["stream-1"] != 3 {
		t.Fatalf("unexpected acked snapshot: %v", acked)
	}
}

func TestTagsAreDeterministic(t *testing.T) {
	def := testDefinition()
	a := NewGenerator(def, 9).ForWorker(0)
	b := NewGenerator(def, 9).ForWorker(0)
	for i := 0; i < 100; i++ {
		sa, sb := a.Next(), b.Next()
		ta, tb := a.Tags(), b.Tags()
		if len(ta) != 2 || len(tb) != 2 || ta[0] != tb[0] || ta[1] != tb[1] {
			t.Fatalf("tag sequences diverged at %d: %v vs %v", i, ta, tb)
		}
		sa.Done(0, false)
		sb.Done(0, false)
	}
}
