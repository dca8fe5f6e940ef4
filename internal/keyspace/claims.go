package keyspace

import (
	"hash/fnv"
	"sync"
)

const claimShards = 32

// ClaimTable tracks streams with an in-flight writer plus the last
// acknowledged version per stream. It is sharded so claim traffic never
// serializes writers globally; one shard mutex covers only 1/32 of the
// keyspace.
type ClaimTable struct {
	shards [claimShards]claimShard
}

type claimShard struct {
	mu       sync.Mutex
	claimed  map[string]struct{}
	versions map[string]int64
}

// NewClaimTable returns an empty table.
func NewClaimTable() *ClaimTable {
	t := &ClaimTable{}
	for i := range t.shards {
		t.shards[i].claimed = make(map[string]struct{})
		t.shards[i].versions = make(map[string]int64)
	}
	return t
}

func (t *ClaimTable) shard(key string) *claimShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &t.shards[h.Sum32()%claimShards]
}

// Claim marks key as held by an in-flight writer. Returns false if another
// writer already holds it.
func (t *ClaimTable) Claim(key string) bool {
	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.claimed[key]; held {
		return false
	}
	s.claimed[key] = struct{}{}
	return true
}

// Release drops a claim and, when ok, records the acknowledged version.
func (t *ClaimTable) Release(key string, version int64, ok bool) {
	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, key)
	if ok {
		s.versions[key] = version
	}
}

// Version returns the last acknowledged version of key (0 if never written).
func (t *ClaimTable) Version(key string) int64 {
	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[key]
}

// RandomClaimed returns a currently claimed stream, scanning shards from a
// position chosen by pick (a seeded source keeps selection deterministic).
func (t *ClaimTable) RandomClaimed(pick func(n int) int) (string, bool) {
	start := pick(claimShards)
	for i := 0; i < claimShards; i++ {
		s := &t.shards[(start+i)%claimShards]
		s.mu.Lock()
		for key := range s.claimed {
			s.mu.Unlock()
			return key, true
		}
		s.mu.Unlock()
	}
	return "", false
}

// Acked snapshots the acknowledged version of every written stream. Used by
// the post-recovery consistency check.
func (t *ClaimTable) Acked() map[string]int64 {
	out := make(map[string]int64)
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for key, v := range s.versions {
			out[key] = v
		}
		s.mu.Unlock()
	}
	return out
}
