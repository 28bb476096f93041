package room

import (
	"hash/fnv"
	"sync"
)

const lockShards = 32

// keyedMutex serializes mutations per room id: one writer at a time for a
// given room, rooms on different shards proceed independently.
type keyedMutex struct {
	shards [lockShards]sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{}
}

func (m *keyedMutex) lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	shard := &m.shards[h.Sum32()%lockShards]
	shard.Lock()

	return shard.Unlock
}
