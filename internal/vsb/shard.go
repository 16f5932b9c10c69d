package vsb

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/semaphore"
)

// Shards maps keys onto a fixed set of single-holder semaphores. Waiters
// queue FIFO; the ticket deadline bounds the wait.
type Shards struct {
	sems []*semaphore.Weighted
}

// NewShards creates n shards. n must be positive.
func NewShards(n int) *Shards {
	if n <= 0 {
		panic("shard count must be positive")
	}
	sems := make([]*semaphore.Weighted, n)
	for i := range sems {
		sems[i] = semaphore.NewWeighted(1)
	}
	return &Shards{sems: sems}
}

func (s *Shards) forKey(key string) *semaphore.Weighted {
	return s.sems[xxhash.Sum64String(key)%uint64(len(s.sems))]
}

// acquire takes the shard for key, re-running recheck after any
// contended wait. If the recheck produces a value the shard is released
// immediately and the value returned instead of a permit: the previous
// holder did the work for us.
//
// A waiter that observes ticket expiry (context deadline) releases
// nothing and returns a retryable error without touching the inner
// store.
func acquire[T any](ctx context.Context, shards *Shards, key string, recheck func() (*T, error)) (release func(), cached *T, err error) {
	sem := shards.forKey(key)
	if !sem.TryAcquire(1) {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, nil, fmt.Errorf("shard wait for %q: %w", key, err)
		}
		// The holder we waited on may have populated the cache.
		cached, err := recheck()
		if err != nil {
			sem.Release(1)
			return nil, nil, err
		}
		if cached != nil {
			sem.Release(1)
			return nil, cached, nil
		}
	}
	return func() { sem.Release(1) }, nil, nil
}
