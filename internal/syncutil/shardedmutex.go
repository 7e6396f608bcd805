// Package syncutil holds small concurrency helpers shared across packages.
package syncutil

import (
	"hash/fnv"
	"sync"
)

const shardCount = 256

// ShardedMutex is a fixed-size pool of mutexes keyed by string, used for
// per-address critical sections in the lockout tracker. Memory stays bounded
// no matter how many distinct addresses are seen; two addresses that hash to
// the same shard occasionally contend with each other, which only costs a
// short wait.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the mutex for the given key and returns an unlock function.
func (s *ShardedMutex) Lock(key string) func() {
	mu := s.shard(key)
	mu.Lock()
	return mu.Unlock
}

func (s *ShardedMutex) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%shardCount]
}
