// Package syncutil provides keyed locking for the escrow stores and
// the release path, where work must serialize per hold id.
package syncutil

import (
	"hash/fnv"
	"sync"
)

const shardCount = 256

// ShardedMutex maps string keys, typically hold ids, onto a fixed pool
// of mutexes. Memory stays bounded no matter how many holds pass
// through; two ids that hash to the same shard simply serialize.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the shard for key and returns its unlock.
func (s *ShardedMutex) Lock(key string) func() {
	mu := &s.shards[shardIndex(key)]
	mu.Lock()
	return mu.Unlock
}

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
