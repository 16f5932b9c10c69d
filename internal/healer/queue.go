// Package healer reconciles a multi-replica blobstore through a durable
// queue. Writers enqueue "blob k should exist in replica b" intents;
// the healer drains the queue and drives catch-up puts until every live
// replica holds every announced blob.
package healer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

// QueueEntry is one replication intent: blob Key was written to replica
// StoreID at Timestamp. ID is assigned durably on insert.
type QueueEntry struct {
	Key       string    `json:"key"`
	StoreID   uint32    `json:"store_id"`
	Timestamp time.Time `json:"timestamp"`
	ID        uint64    `json:"-"`
}

// Queue is the durable intent queue. Deletes are keyed by entry id and
// must be at-most-once per id.
type Queue interface {
	// Add appends entries, assigning fresh ids.
	Add(ctx context.Context, entries []QueueEntry) error
	// Iter returns up to limit entries with Timestamp before olderThan,
	// optionally filtered to keys with the given prefix — plus every
	// other entry sharing a key with a selected entry, regardless of
	// age, so a key group is always seen whole.
	Iter(ctx context.Context, keyPrefix string, olderThan time.Time, limit int) ([]QueueEntry, error)
	// Del removes entries by id. Unknown ids are ignored.
	Del(ctx context.Context, entries []QueueEntry) error
}

var queueBucket = []byte("sync-queue")

// BoltQueue is a Queue stored in a bbolt database.
type BoltQueue struct {
	db *bolt.DB
}

// OpenBoltQueue opens (creating on demand) a queue database at path.
func OpenBoltQueue(path string) (*BoltQueue, error) {
	db, err := bolt.Open(path, 0o666, nil)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(queueBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create queue bucket: %w", err)
	}
	return &BoltQueue{db: db}, nil
}

// Close closes the underlying database.
func (q *BoltQueue) Close() error { return q.db.Close() }

func seqKey(id uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], id)
	return key[:]
}

// Add implements Queue.Add.
func (q *BoltQueue) Add(_ context.Context, entries []QueueEntry) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(queueBucket)
		for _, entry := range entries {
			id, err := bucket.NextSequence()
			if err != nil {
				return err
			}
			value, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			if err := bucket.Put(seqKey(id), value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Iter implements Queue.Iter.
func (q *BoltQueue) Iter(_ context.Context, keyPrefix string, olderThan time.Time, limit int) ([]QueueEntry, error) {
	var selected []QueueEntry
	selectedKeys := map[string]bool{}
	var rest []QueueEntry

	err := q.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(queueBucket).Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var entry QueueEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("decode queue entry %x: %w", k, err)
			}
			entry.ID = binary.BigEndian.Uint64(k)
			if keyPrefix != "" && !strings.HasPrefix(entry.Key, keyPrefix) {
				continue
			}
			if len(selected) < limit && entry.Timestamp.Before(olderThan) {
				selected = append(selected, entry)
				selectedKeys[entry.Key] = true
			} else {
				rest = append(rest, entry)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Pull in the rest of each selected key's group so age checks see
	// every entry for the key.
	for _, entry := range rest {
		if selectedKeys[entry.Key] {
			selected = append(selected, entry)
		}
	}
	return selected, nil
}

// Del implements Queue.Del.
func (q *BoltQueue) Del(_ context.Context, entries []QueueEntry) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(queueBucket)
		for _, entry := range entries {
			if err := bucket.Delete(seqKey(entry.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Len returns the number of queued entries.
func (q *BoltQueue) Len() (int, error) {
	n := 0
	err := q.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(queueBucket).Stats().KeyN
		return nil
	})
	return n, err
}
