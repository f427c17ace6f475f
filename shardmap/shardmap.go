// shardmap is a concurrent map from buffer keys to cached objects, split
// into independently locked shards.
package shardmap

import (
	"sync"

	"github.com/mit-pdos/go-fsrepair/addr"
)

type mapShard struct {
	mu    *sync.RWMutex
	state map[addr.Key]interface{}
}

type ShardMap struct {
	shards []*mapShard
}

const NSHARD uint64 = 257

func mkMapShard() *mapShard {
	return &mapShard{
		mu:    new(sync.RWMutex),
		state: make(map[addr.Key]interface{}),
	}
}

func MkShardMap() *ShardMap {
	var shards []*mapShard
	for i := uint64(0); i < NSHARD; i++ {
		shards = append(shards, mkMapShard())
	}
	return &ShardMap{shards: shards}
}

func (m *ShardMap) getShard(k addr.Key) *mapShard {
	return m.shards[k.Flatid()%NSHARD]
}

func (m *ShardMap) Lookup(k addr.Key) (interface{}, bool) {
	shard := m.getShard(k)
	shard.mu.RLock()
	v, ok := shard.state[k]
	shard.mu.RUnlock()
	return v, ok
}

// LookupOrInsert returns the value cached under k, inserting mk() first if
// there is none. mk runs with the shard locked.
func (m *ShardMap) LookupOrInsert(k addr.Key, mk func() interface{}) interface{} {
	shard := m.getShard(k)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	v, ok := shard.state[k]
	if !ok {
		v = mk()
		shard.state[k] = v
	}
	return v
}

func (m *ShardMap) Delete(k addr.Key) {
	shard := m.getShard(k)
	shard.mu.Lock()
	delete(shard.state, k)
	shard.mu.Unlock()
}

// Apply calls f on every entry. f must not modify the map.
func (m *ShardMap) Apply(f func(addr.Key, interface{})) {
	for _, shard := range m.shards {
		shard.mu.RLock()
		for k, v := range shard.state {
			f(k, v)
		}
		shard.mu.RUnlock()
	}
}
