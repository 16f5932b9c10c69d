package vsb

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"
)

// MaxCacheValueSize is the ceiling for an encoded cache cell: 4MiB minus
// a little headroom for the prefix and key, plus 128 bytes so values
// sitting exactly at the common chunking threshold are not recompressed.
const MaxCacheValueSize = 4*1024*1024 - 1024 + 128

const (
	prefixNotStorable = 0
	prefixStored      = 1
)

const (
	encodingRaw  = 0
	encodingZstd = 1
)

// cacheKey namespaces blobstore keys inside the shared cache pools.
func cacheKey(key string) string {
	return "vsb." + key
}

// CacheData is a decoded blob-pool cell: either the stored bytes, or a
// marker that the key's value cannot be cached. NotStorable keys bypass
// shard acquisition so misses are not serialized through the semaphore.
type CacheData struct {
	NotStorable bool
	Value       []byte
}

// PresenceData records what the cache knows about a key's existence in
// the inner store. A Get record means "something exists"; a Put record
// means "we wrote bytes with this fingerprint".
type PresenceData struct {
	IsPut       bool
	Fingerprint uint64
}

// presenceGet is the "we read this at some point" record. It never
// deduplicates puts.
var presenceGet = PresenceData{}

// presenceFromPut fingerprints a put payload with a fast
// non-cryptographic hash.
func presenceFromPut(value []byte) PresenceData {
	return PresenceData{IsPut: true, Fingerprint: xxhash.Sum64(value)}
}

func (p PresenceData) serialize() []byte {
	if !p.IsPut {
		return []byte{0}
	}
	out := make([]byte, 9)
	out[0] = 1
	binary.LittleEndian.PutUint64(out[1:], p.Fingerprint)
	return out
}

func deserializePresence(data []byte) (PresenceData, error) {
	if len(data) == 0 {
		return PresenceData{}, fmt.Errorf("empty presence cache cell")
	}
	switch data[0] {
	case 0:
		return presenceGet, nil
	case 1:
		if len(data) != 9 {
			return PresenceData{}, fmt.Errorf("invalid put data in presence cache")
		}
		return PresenceData{IsPut: true, Fingerprint: binary.LittleEndian.Uint64(data[1:])}, nil
	default:
		return PresenceData{}, fmt.Errorf("invalid presence prefix %d", data[0])
	}
}

// Cache is the two-level in-process cache: content cells in blobPool,
// presence records in presencePool.
type Cache struct {
	blobPool     *lru.Cache[string, []byte]
	presencePool *lru.Cache[string, []byte]
	filter       func([]byte) error
	attemptZstd  bool
	enc          *zstd.Encoder
	dec          *zstd.Decoder
}

func newCache(blobEntries, presenceEntries int, attemptZstd bool, filter func([]byte) error) (*Cache, error) {
	blobPool, err := lru.New[string, []byte](blobEntries)
	if err != nil {
		return nil, err
	}
	presencePool, err := lru.New[string, []byte](presenceEntries)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		filter = func([]byte) error { return nil }
	}
	return &Cache{
		blobPool:     blobPool,
		presencePool: presencePool,
		filter:       filter,
		attemptZstd:  attemptZstd,
		enc:          enc,
		dec:          dec,
	}, nil
}

// getFromCache decodes the blob-pool cell for a key, or returns nil on a
// miss.
func (c *Cache) getFromCache(key string) (*CacheData, error) {
	cell, ok := c.blobPool.Get(key)
	if !ok {
		return nil, nil
	}
	if len(cell) == 0 {
		return nil, fmt.Errorf("empty blob cache cell")
	}
	switch cell[0] {
	case prefixNotStorable:
		return &CacheData{NotStorable: true}, nil
	case prefixStored:
		value, err := c.decode(cell[1:])
		if err != nil {
			return nil, fmt.Errorf("invalid data in blob cache: %w", err)
		}
		return &CacheData{Value: value}, nil
	default:
		return nil, fmt.Errorf("invalid blob cache prefix %d", cell[0])
	}
}

// setIsPresent records presence for a key. Put records overwrite so the
// latest fingerprint wins; Get records never displace an existing
// record, since a put record is strictly more informative.
func (c *Cache) setIsPresent(key string, value PresenceData) {
	if value.IsPut {
		c.presencePool.Add(key, value.serialize())
		return
	}
	if !c.presencePool.Contains(key) {
		c.presencePool.Add(key, value.serialize())
	}
}

// setInCache records presence and attempts to cache the content. If the
// encoded value exceeds the cell ceiling, or the filter rejects it, the
// cell is downgraded to NotStorable. A spuriously NotStorable cell is
// self-healing: the next cacheable read or write overwrites it.
func (c *Cache) setInCache(key string, presence PresenceData, value []byte) {
	c.setIsPresent(key, presence)

	encoded, ok := c.encode(value)
	if ok {
		if err := c.filter(encoded); err != nil {
			ok = false
		}
	}
	if !ok {
		c.blobPool.Add(key, []byte{prefixNotStorable})
		return
	}
	cell := make([]byte, 0, 1+len(encoded))
	cell = append(cell, prefixStored)
	cell = append(cell, encoded...)
	c.blobPool.Add(key, cell)
}

// checkPresence asks whether the inner store is known to satisfy the
// requested presence. A Get request is satisfied by any record; a Put
// request only by a Put record with a matching fingerprint.
func (c *Cache) checkPresence(key string, request PresenceData) (bool, error) {
	cell, ok := c.presencePool.Get(key)
	if !ok {
		return false, nil
	}
	stored, err := deserializePresence(cell)
	if err != nil {
		return false, err
	}
	switch {
	case !request.IsPut:
		return true, nil
	case !stored.IsPut:
		// We want a specific value but only know something exists.
		return false, nil
	default:
		return stored.Fingerprint == request.Fingerprint, nil
	}
}

// encode prepares value for a cache cell, compressing when permitted.
// Returns false if the value cannot fit.
func (c *Cache) encode(value []byte) ([]byte, bool) {
	if len(value)+1 <= MaxCacheValueSize {
		out := make([]byte, 0, 1+len(value))
		out = append(out, encodingRaw)
		return append(out, value...), true
	}
	if !c.attemptZstd {
		return nil, false
	}
	compressed := c.enc.EncodeAll(value, []byte{encodingZstd})
	if len(compressed) > MaxCacheValueSize {
		return nil, false
	}
	return compressed, true
}

func (c *Cache) decode(cell []byte) ([]byte, error) {
	if len(cell) == 0 {
		return nil, fmt.Errorf("empty encoded cell")
	}
	switch cell[0] {
	case encodingRaw:
		out := make([]byte, len(cell)-1)
		copy(out, cell[1:])
		return out, nil
	case encodingZstd:
		return c.dec.DecodeAll(cell[1:], nil)
	default:
		return nil, fmt.Errorf("unknown cell encoding %d", cell[0])
	}
}

// evict drops a key's cells from both pools. Exposed for tests that
// need to simulate cache pressure.
func (c *Cache) evict(key string) {
	c.blobPool.Remove(key)
	c.presencePool.Remove(key)
}
