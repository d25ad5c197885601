package syncutil

import (
	"context"
)

// ContextShardedMutex is the context-aware variant of ShardedMutex:
// acquisition waits on a channel, so a caller whose context ends while
// queued behind another release of the same hold gives up instead of
// blocking forever.
type ContextShardedMutex struct {
	shards [shardCount]chan struct{}
}

// NewContextShardedMutex creates the mutex pool with every shard
// unlocked.
func NewContextShardedMutex() *ContextShardedMutex {
	m := &ContextShardedMutex{}
	for i := range m.shards {
		ch := make(chan struct{}, 1)
		ch <- struct{}{}
		m.shards[i] = ch
	}
	return m
}

// LockContext acquires the shard for key. The returned unlock must be
// called exactly once; on context cancellation the unlock is nil and
// the context's error is returned.
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	ch := m.shards[shardIndex(key)]
	select {
	case <-ch:
		return func() { ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
