package flow

import (
	"hash/fnv"
	"sync"
)

const lockShards = 64

// keyedMutex serializes read-then-write sequences per key. Keys are hashed
// onto a fixed set of shards; unrelated keys may occasionally share a shard,
// which trades a little contention for a bounded lock table.
type keyedMutex struct {
	shards [lockShards]sync.Mutex
}

func (m *keyedMutex) lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	shard := &m.shards[h.Sum32()%lockShards]
	shard.Lock()
	return shard.Unlock
}
