// Package vsb implements the virtually sharded blobstore: a layer over
// an inner blobstore that serializes access per key, deduplicates
// concurrent gets and puts, caches content and presence in-process, and
// applies ticketed rate limiting.
//
// The shards are not data shards: every key's bytes live in the inner
// store. A shard is one of N single-holder semaphores a key hashes
// onto, so at most one miss per key population is in flight at a time;
// everyone else coalesces onto the cache fill.
package vsb

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/treestore/treestore/internal/blobstore"
)

type comprehensiveLookupKey struct{}

// WithComprehensiveLookup marks the context so presence checks consult
// the inner store even when the cache says the key exists. Used by
// callers that need an authoritative answer.
func WithComprehensiveLookup(ctx context.Context) context.Context {
	return context.WithValue(ctx, comprehensiveLookupKey{}, true)
}

func isComprehensiveLookup(ctx context.Context) bool {
	v, _ := ctx.Value(comprehensiveLookupKey{}).(bool)
	return v
}

// Options configures a Store.
type Options struct {
	// Shards is the number of per-key semaphores for each of the read
	// and write sides. Values below one are treated as one.
	Shards int
	// BlobCacheEntries and PresenceCacheEntries bound the LRU pools.
	BlobCacheEntries     int
	PresenceCacheEntries int
	// AttemptZstd permits compressing oversized values into cache cells.
	AttemptZstd bool
	// CacheFilter, when set, can reject encoded values from the cache.
	CacheFilter func([]byte) error
	// Limits caps read and write throughput. Zero value is unlimited.
	Limits RateLimits
	// Stats receives counters. Nil means discard.
	Stats StatsSink
	// Logger for structured events.
	Logger zerolog.Logger
}

// Store is the virtually sharded blobstore.
type Store struct {
	inner       blobstore.Blobstore
	readShards  *Shards
	writeShards *Shards
	cache       *Cache
	limits      RateLimits
	stats       StatsSink
	logger      zerolog.Logger
}

// New wraps inner with sharding, caching, and rate limiting.
func New(inner blobstore.Blobstore, opts Options) (*Store, error) {
	if opts.Shards <= 0 {
		opts.Shards = 1
	}
	if opts.BlobCacheEntries <= 0 {
		opts.BlobCacheEntries = 1024
	}
	if opts.PresenceCacheEntries <= 0 {
		opts.PresenceCacheEntries = 4096
	}
	if opts.Stats == nil {
		opts.Stats = NopStats{}
	}
	cache, err := newCache(opts.BlobCacheEntries, opts.PresenceCacheEntries, opts.AttemptZstd, opts.CacheFilter)
	if err != nil {
		return nil, err
	}
	return &Store{
		inner:       inner,
		readShards:  NewShards(opts.Shards),
		writeShards: NewShards(opts.Shards),
		cache:       cache,
		limits:      opts.Limits,
		stats:       opts.Stats,
		logger:      opts.Logger,
	}, nil
}

// Get returns the value for key, serving from cache when possible. On a
// cold key the read shard serializes concurrent misses: the first caller
// performs the inner get and fills the cache, later callers coalesce.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.stats.Gets(1)
	ck := cacheKey(key)

	takeLease := true
	if data, err := s.cache.getFromCache(ck); err == nil && data != nil {
		if !data.NotStorable {
			return data.Value, nil
		}
		// Known uncacheable: go straight to the inner store so misses
		// are not serialized through the semaphore.
		s.stats.GetsNotStorable(1)
		takeLease = false
	}

	ticket := NewTicket(ctx, s.limits, AccessRead)
	var release func()
	if takeLease {
		rel, cached, err := acquire(ctx, s.readShards, key, func() (*CacheData, error) {
			return s.cache.getFromCache(ck)
		})
		if err != nil {
			ticket.Cancel()
			return nil, err
		}
		switch {
		case cached != nil && !cached.NotStorable:
			// The holder we waited on filled the cache for us.
			s.stats.GetsDeduped(1)
			ticket.Cancel()
			return cached.Value, nil
		case cached != nil:
			s.stats.GetsNotStorable(1)
			if err := ticket.Finish(); err != nil {
				return nil, err
			}
		default:
			release = rel
			if err := ticket.Finish(); err != nil {
				release()
				return nil, err
			}
		}
	} else {
		if err := ticket.Finish(); err != nil {
			return nil, err
		}
	}
	if release != nil {
		defer release()
	}

	value, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if value != nil {
		s.cache.setInCache(ck, presenceGet, value)
	}
	return value, nil
}

// Put writes the value for key unless an identical write is already
// known to have landed, in which case it is deduplicated. Distinct
// bytes for the same key are never deduplicated.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	s.stats.Puts(1)
	ck := cacheKey(key)
	presence := presenceFromPut(value)

	if ok, err := s.cache.checkPresence(ck, presence); err == nil && ok {
		s.reportDeduplicatedPut(key)
		return nil
	}

	ticket := NewTicket(ctx, s.limits, AccessWrite)
	rel, known, err := acquire(ctx, s.writeShards, key, func() (*struct{}, error) {
		ok, err := s.cache.checkPresence(ck, presence)
		if err != nil {
			return nil, err
		}
		if ok {
			return &struct{}{}, nil
		}
		return nil, nil
	})
	if err != nil {
		ticket.Cancel()
		return err
	}
	if known != nil {
		s.reportDeduplicatedPut(key)
		ticket.Cancel()
		return nil
	}
	defer rel()
	if err := ticket.Finish(); err != nil {
		return err
	}

	if err := s.inner.Put(ctx, key, value); err != nil {
		return err
	}
	s.cache.setInCache(ck, presence, value)
	return nil
}

// IsPresent reports whether key exists, consulting the presence cache
// first unless the context asks for a comprehensive lookup.
func (s *Store) IsPresent(ctx context.Context, key string) (bool, error) {
	ck := cacheKey(key)
	if !isComprehensiveLookup(ctx) {
		if ok, err := s.cache.checkPresence(ck, presenceGet); err == nil && ok {
			return true, nil
		}
	}

	ticket := NewTicket(ctx, s.limits, AccessRead)
	if err := ticket.Finish(); err != nil {
		return false, err
	}
	present, err := s.inner.IsPresent(ctx, key)
	if err != nil {
		return false, err
	}
	if present {
		s.cache.setIsPresent(ck, presenceGet)
	}
	return present, nil
}

// EvictFromCache drops both cache cells for a key. Intended for tests
// and cache-pressure simulation; correctness never depends on a cell
// being present.
func (s *Store) EvictFromCache(key string) {
	s.cache.evict(cacheKey(key))
}

func (s *Store) reportDeduplicatedPut(key string) {
	s.stats.PutsDeduped(1)
	s.logger.Debug().Str("key", key).Msg("put deduplicated")
}
