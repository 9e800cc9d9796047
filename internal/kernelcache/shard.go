package kernelcache

import "sync"

const shardCount = 32

type hashKey interface {
	comparable
	Hash() uint64
}

// shardedMap is an insert-only concurrent map. Keys are spread over
// independently locked shards by their Hash.
type shardedMap[K hashKey, V any] struct {
	shards [shardCount]shard[K, V]
}

type shard[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

func newShardedMap[K hashKey, V any]() *shardedMap[K, V] {
	s := &shardedMap[K, V]{}
	for i := range s.shards {
		s.shards[i].m = make(map[K]V)
	}
	return s
}

func (s *shardedMap[K, V]) shard(k K) *shard[K, V] {
	return &s.shards[k.Hash()%shardCount]
}

func (s *shardedMap[K, V]) load(k K) (V, bool) {
	sh := s.shard(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	v, ok := sh.m[k]
	return v, ok
}

// store inserts v unless k is present. It returns the value that ends up
// stored and whether it was v.
func (s *shardedMap[K, V]) store(k K, v V) (V, bool) {
	sh := s.shard(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if old, ok := sh.m[k]; ok {
		return old, false
	}
	sh.m[k] = v
	return v, true
}

func (s *shardedMap[K, V]) len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		n += len(sh.m)
		sh.mu.RUnlock()
	}
	return n
}

// drain empties the map and returns what it held.
func (s *shardedMap[K, V]) drain() []V {
	var out []V
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k, v := range sh.m {
			out = append(out, v)
			delete(sh.m, k)
		}
		sh.mu.Unlock()
	}
	return out
}
