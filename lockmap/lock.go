// lockmap is a sharded table of exclusive buffer holds.
//
// The API is as if there were a lock for every possible buffer key;
// LockMap.Acquire(k) blocks until the caller is the only holder of k and
// LockMap.Release(k) gives it up. Only keys that are held (or waited on) take
// space. Shard i is responsible for keys whose Flatid() % NSHARD == i.
package lockmap

import (
	"sync"

	"github.com/mit-pdos/go-fsrepair/addr"
)

type holdState struct {
	held    bool
	cond    *sync.Cond
	waiters uint64
}

type holdShard struct {
	mu    *sync.Mutex
	state map[addr.Key]*holdState
}

func mkHoldShard() *holdShard {
	mu := new(sync.Mutex)
	return &holdShard{
		mu:    mu,
		state: make(map[addr.Key]*holdState),
	}
}

func (s *holdShard) acquire(k addr.Key) {
	s.mu.Lock()
	for {
		st, ok := s.state[k]
		if !ok {
			st = &holdState{cond: sync.NewCond(s.mu)}
			s.state[k] = st
		}
		if !st.held {
			st.held = true
			break
		}
		st.waiters += 1
		st.cond.Wait()
		st.waiters -= 1
	}
	s.mu.Unlock()
}

func (s *holdShard) tryAcquire(k addr.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state[k]
	if ok && st.held {
		return false
	}
	if !ok {
		st = &holdState{cond: sync.NewCond(s.mu)}
		s.state[k] = st
	}
	st.held = true
	return true
}

func (s *holdShard) release(k addr.Key) {
	s.mu.Lock()
	st, ok := s.state[k]
	if !ok || !st.held {
		s.mu.Unlock()
		panic("lockmap: release of a buffer that is not held")
	}
	st.held = false
	if st.waiters > 0 {
		st.cond.Signal()
	} else {
		delete(s.state, k)
	}
	s.mu.Unlock()
}

const NSHARD uint64 = 43

type LockMap struct {
	shards []*holdShard
}

func MkLockMap() *LockMap {
	var shards []*holdShard
	for i := uint64(0); i < NSHARD; i++ {
		shards = append(shards, mkHoldShard())
	}
	return &LockMap{shards: shards}
}

func (lmap *LockMap) shard(k addr.Key) *holdShard {
	return lmap.shards[k.Flatid()%NSHARD]
}

func (lmap *LockMap) Acquire(k addr.Key) {
	lmap.shard(k).acquire(k)
}

// TryAcquire takes the hold only if nobody has it.
func (lmap *LockMap) TryAcquire(k addr.Key) bool {
	return lmap.shard(k).tryAcquire(k)
}

func (lmap *LockMap) Release(k addr.Key) {
	lmap.shard(k).release(k)
}
