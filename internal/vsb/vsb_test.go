package vsb

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// testBlobstore counts inner calls and can hold gets or puts on a
// channel so tests control when the inner store responds.
type testBlobstore struct {
	mu       sync.Mutex
	data     map[string][]byte
	gets     map[string]int
	puts     map[string]int
	getGates map[string]chan struct{}
	putGates map[string]chan struct{}
}

func newTestBlobstore() *testBlobstore {
	return &testBlobstore{
		data:     map[string][]byte{},
		gets:     map[string]int{},
		puts:     map[string]int{},
		getGates: map[string]chan struct{}{},
		putGates: map[string]chan struct{}{},
	}
}

func (b *testBlobstore) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	b.gets[key]++
	gate := b.getGates[key]
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.data[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (b *testBlobstore) Put(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	b.puts[key]++
	gate := b.putGates[key]
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	b.data[key] = stored
	return nil
}

func (b *testBlobstore) IsPresent(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.data[key]
	return ok, nil
}

func (b *testBlobstore) getCount(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gets[key]
}

func (b *testBlobstore) putCount(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.puts[key]
}

func (b *testBlobstore) set(key string, value []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
}

func newStore(t *testing.T, inner *testBlobstore) *Store {
	t.Helper()
	s, err := New(inner, Options{Shards: 4, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return s
}

func TestGetMissThenHit(t *testing.T) {
	ctx := context.Background()
	inner := newTestBlobstore()
	inner.set("k", []byte("value"))
	s := newStore(t, inner)

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("value"), got)
	require.Equal(t, 1, inner.getCount("k"))

	// Second get is a pure cache hit.
	got, err = s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("value"), got)
	require.Equal(t, 1, inner.getCount("k"))
}

func TestDedupeReads(t *testing.T) {
	ctx := context.Background()
	inner := newTestBlobstore()
	gate := make(chan struct{})
	inner.set("foo", []byte("foo"))
	inner.getGates["foo"] = gate
	s := newStore(t, inner)

	const concurrency = 10
	results := make(chan []byte, concurrency)
	errs := make(chan error, concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			v, err := s.Get(ctx, "foo")
			results <- v
			errs <- err
		}()
	}

	// Exactly one task reaches the inner store; the rest are parked on
	// the shard.
	require.Eventually(t, func() bool { return inner.getCount("foo") == 1 },
		time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, 1, inner.getCount("foo"))

	close(gate)
	for i := 0; i < concurrency; i++ {
		require.NoError(t, <-errs)
		require.Equal(t, []byte("foo"), <-results)
	}
	require.Equal(t, 1, inner.getCount("foo"))

	// A second wave is served entirely from cache.
	for i := 0; i < concurrency; i++ {
		v, err := s.Get(ctx, "foo")
		require.NoError(t, err)
		require.Equal(t, []byte("foo"), v)
	}
	require.Equal(t, 1, inner.getCount("foo"))
}

func TestDedupeWrites(t *testing.T) {
	ctx := context.Background()
	inner := newTestBlobstore()
	gate := make(chan struct{})
	inner.putGates["k"] = gate
	s := newStore(t, inner)

	const concurrency = 10
	errs := make(chan error, concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			errs <- s.Put(ctx, "k", []byte("same bytes"))
		}()
	}
	require.Eventually(t, func() bool { return inner.putCount("k") == 1 },
		time.Second, time.Millisecond)
	close(gate)
	for i := 0; i < concurrency; i++ {
		require.NoError(t, <-errs)
	}
	// One writer landed; the rest deduplicated against its fingerprint.
	require.Equal(t, 1, inner.putCount("k"))

	// Another identical put afterwards is deduplicated outright.
	require.NoError(t, s.Put(ctx, "k", []byte("same bytes")))
	require.Equal(t, 1, inner.putCount("k"))
}

func TestDedupeWritesDifferentData(t *testing.T) {
	ctx := context.Background()
	inner := newTestBlobstore()
	s := newStore(t, inner)

	v1 := []byte("version one")
	v2 := []byte("version two")

	require.NoError(t, s.Put(ctx, "k", v1))
	require.Equal(t, 1, inner.putCount("k"))

	// Identical bytes dedupe.
	require.NoError(t, s.Put(ctx, "k", v1))
	require.Equal(t, 1, inner.putCount("k"))

	// Distinct bytes never dedupe.
	require.NoError(t, s.Put(ctx, "k", v2))
	require.Equal(t, 2, inner.putCount("k"))

	// After eviction, a get records Get presence, which must not mask a
	// subsequent put of known bytes.
	s.EvictFromCache("k")
	_, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "k", v2))
	require.Equal(t, 3, inner.putCount("k"))
}

func TestReadAfterWrite(t *testing.T) {
	ctx := context.Background()
	inner := newTestBlobstore()
	s := newStore(t, inner)

	require.NoError(t, s.Put(ctx, "k", []byte("written")))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("written"), got)
	// The put populated the content cache; no inner get happened.
	require.Equal(t, 0, inner.getCount("k"))
}

func TestNotStorableBypass(t *testing.T) {
	ctx := context.Background()
	inner := newTestBlobstore()
	big := bytes.Repeat([]byte{'x'}, MaxCacheValueSize+1)
	inner.set("big", big)
	s := newStore(t, inner)

	got, err := s.Get(ctx, "big")
	require.NoError(t, err)
	require.Equal(t, len(big), len(got))
	require.Equal(t, 1, inner.getCount("big"))

	// The value cannot be cached, so the next get goes to the inner
	// store again, without queuing on a shard.
	got, err = s.Get(ctx, "big")
	require.NoError(t, err)
	require.Equal(t, len(big), len(got))
	require.Equal(t, 2, inner.getCount("big"))
}

func TestCacheFilterRejection(t *testing.T) {
	ctx := context.Background()
	inner := newTestBlobstore()
	inner.set("k", []byte("rejected"))
	rejected := errors.New("rejected")
	s, err := New(inner, Options{
		Shards:      1,
		CacheFilter: func([]byte) error { return rejected },
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)

	_, err = s.Get(ctx, "k")
	require.NoError(t, err)
	_, err = s.Get(ctx, "k")
	require.NoError(t, err)
	// Both gets hit the inner store: the filter kept the value out.
	require.Equal(t, 2, inner.getCount("k"))
}

func TestIsPresent(t *testing.T) {
	ctx := context.Background()
	inner := newTestBlobstore()
	s := newStore(t, inner)

	ok, err := s.IsPresent(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Put(ctx, "k", []byte("v")))

	// Served from the presence cache.
	ok, err = s.IsPresent(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	// A comprehensive lookup consults the inner store even with a
	// populated presence cache.
	inner.mu.Lock()
	delete(inner.data, "k")
	inner.mu.Unlock()
	ok, err = s.IsPresent(WithComprehensiveLookup(ctx), "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPresenceTransitions(t *testing.T) {
	cache, err := newCache(16, 16, false, nil)
	require.NoError(t, err)

	key := cacheKey("k")
	put1 := presenceFromPut([]byte("one"))
	put2 := presenceFromPut([]byte("two"))

	// Nothing stored: everything misses.
	hit, err := cache.checkPresence(key, presenceGet)
	require.NoError(t, err)
	require.False(t, hit)

	// Stored Get satisfies Get but no Put.
	cache.setIsPresent(key, presenceGet)
	hit, _ = cache.checkPresence(key, presenceGet)
	require.True(t, hit)
	hit, _ = cache.checkPresence(key, put1)
	require.False(t, hit)

	// Stored Put satisfies Get and the matching Put only.
	cache.setIsPresent(key, put1)
	hit, _ = cache.checkPresence(key, presenceGet)
	require.True(t, hit)
	hit, _ = cache.checkPresence(key, put1)
	require.True(t, hit)
	hit, _ = cache.checkPresence(key, put2)
	require.False(t, hit)

	// A Get record never downgrades a stored Put.
	cache.setIsPresent(key, presenceGet)
	hit, _ = cache.checkPresence(key, put1)
	require.True(t, hit)
}

func TestTicketDeadlineWhileWaiting(t *testing.T) {
	inner := newTestBlobstore()
	gate := make(chan struct{})
	inner.set("k", []byte("v"))
	inner.getGates["k"] = gate
	s := newStore(t, inner)

	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = s.Get(context.Background(), "k")
	}()
	<-started
	require.Eventually(t, func() bool { return inner.getCount("k") == 1 },
		time.Second, time.Millisecond)

	// A second get with an expired deadline must give up while waiting
	// on the shard without touching the inner store.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Get(ctx, "k")
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, inner.getCount("k"))

	close(gate)
}
