// lockmap is a sharded lock map.
//
// The API is as if LockMap consisted of a lock for every possible uint64
// (here, inode sector numbers): LockMap.Acquire(a) acquires the lock
// associated with a and LockMap.Release(a) releases it. The implementation
// maintains a fixed collection of shards so that shard i is responsible for
// the lock state of all a such that a % NSHARD == i; only threads touching
// the same shard synchronize.
package lockmap

import (
	"sync"
)

type lockState struct {
	held    bool
	cond    *sync.Cond
	waiters uint64
}

type lockShard struct {
	mu    *sync.Mutex
	state map[uint64]*lockState
}

func mkLockShard() *lockShard {
	mu := new(sync.Mutex)
	a := &lockShard{
		mu:    mu,
		state: make(map[uint64]*lockState),
	}
	return a
}

func (shard *lockShard) acquire(addr uint64) {
	shard.mu.Lock()
	for {
		state, ok := shard.state[addr]
		if !ok {
			state = &lockState{
				held: false,
				cond: sync.NewCond(shard.mu),
			}
			shard.state[addr] = state
		}

		if !state.held {
			state.held = true
			break
		}

		state.waiters += 1
		state.cond.Wait()
		if state2, ok := shard.state[addr]; ok {
			state2.waiters -= 1
		}
	}
	shard.mu.Unlock()
}

func (shard *lockShard) release(addr uint64) {
	shard.mu.Lock()
	state := shard.state[addr]
	state.held = false
	if state.waiters > 0 {
		state.cond.Signal()
	} else {
		delete(shard.state, addr)
	}
	shard.mu.Unlock()
}

const NSHARD uint64 = 43

type LockMap struct {
	shards []*lockShard
}

func MkLockMap() *LockMap {
	var shards []*lockShard
	for i := uint64(0); i < NSHARD; i++ {
		shards = append(shards, mkLockShard())
	}
	return &LockMap{shards: shards}
}

func (lmap *LockMap) Acquire(flataddr uint64) {
	shard := lmap.shards[flataddr%NSHARD]
	shard.acquire(flataddr)
}

func (lmap *LockMap) Release(flataddr uint64) {
	shard := lmap.shards[flataddr%NSHARD]
	shard.release(flataddr)
}
