package syncutil

import (
	"sync"
	"testing"
)

func TestShardedMutex_MutualExclusionPerKey(t *testing.T) {
	var m ShardedMutex

	counter := 0
	var wg sync.WaitGroup
	const n = 200

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			unlock := m.Lock("same-key")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != n {
		t.Errorf("counter = %d, want %d (lost increments)", counter, n)
	}
}

func TestShardedMutex_StableShardPerKey(t *testing.T) {
	var m ShardedMutex

	for _, key := range []string{"10.0.0.1", "203.0.113.9", ""} {
		if m.shard(key) != m.shard(key) {
			t.Errorf("shard for %q is not stable", key)
		}
	}
}

func TestShardedMutex_SpreadsKeys(t *testing.T) {
	var m ShardedMutex

	// A set of distinct addresses should not all collapse into one shard.
	shards := map[*sync.Mutex]bool{}
	for _, key := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "192.168.1.1", "203.0.113.9"} {
		shards[m.shard(key)] = true
	}
	if len(shards) < 2 {
		t.Errorf("all keys hashed to a single shard")
	}
}
