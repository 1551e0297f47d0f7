// Package syncutil provides keyed mutual exclusion for per-escrow serialization.
package syncutil

import (
	"context"
	"hash/fnv"
)

// shardCount bounds memory regardless of how many escrow IDs are seen.
// Two escrows hashing to the same shard contend occasionally; correctness
// only requires that the SAME escrow always maps to the same mutex.
const shardCount = 512

// KeyedMutex serializes work per string key using a fixed pool of
// channel-based mutexes. The channel implementation allows acquisition to
// respect context cancellation, so a caller stuck behind a slow holder can
// bail out when its request deadline expires.
type KeyedMutex struct {
	shards [shardCount]chan struct{}
}

// NewKeyedMutex creates a keyed mutex with all shards unlocked.
func NewKeyedMutex() *KeyedMutex {
	m := &KeyedMutex{}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
		m.shards[i] <- struct{}{}
	}
	return m
}

// Lock acquires the mutex for key, blocking until acquired or ctx is done.
// On success it returns an unlock function that MUST be called exactly once.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	ch := m.shards[m.index(key)]
	select {
	case <-ch:
		return func() { ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryLock acquires the mutex for key without blocking. It returns the unlock
// function and true, or nil and false if the mutex is held.
func (m *KeyedMutex) TryLock(key string) (func(), bool) {
	ch := m.shards[m.index(key)]
	select {
	case <-ch:
		return func() { ch <- struct{}{} }, true
	default:
		return nil, false
	}
}

func (m *KeyedMutex) index(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
