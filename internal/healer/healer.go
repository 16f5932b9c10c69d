package healer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/treestore/treestore/internal/blobstore"
)

// MinEntryAge is the minimal age of a queue entry before it is
// considered for healing. Younger entries usually describe writes whose
// multiplexed siblings are still in flight.
const MinEntryAge = 2 * time.Minute

// HealStats aggregates the outcome counters of one batch.
type HealStats struct {
	QueueAdd   int
	QueueDel   int
	PutSuccess int
	PutFailure int
}

// Add sums two stat sets.
func (s HealStats) Add(other HealStats) HealStats {
	return HealStats{
		QueueAdd:   s.QueueAdd + other.QueueAdd,
		QueueDel:   s.QueueDel + other.QueueDel,
		PutSuccess: s.PutSuccess + other.PutSuccess,
		PutFailure: s.PutFailure + other.PutFailure,
	}
}

// Healer drains the replication queue against a set of live replicas.
type Healer struct {
	batchLimit int
	queue      Queue
	stores     map[uint32]blobstore.Blobstore
	keyPrefix  string
	drainOnly  bool
	logger     zerolog.Logger

	// now is overridable in tests.
	now func() time.Time
}

// New creates a healer. batchLimit bounds how many queue entries one
// batch consumes; keyPrefix, when non-empty, restricts healing to
// matching keys; drainOnly deletes entries without healing.
func New(batchLimit int, queue Queue, stores map[uint32]blobstore.Blobstore, keyPrefix string, drainOnly bool, logger zerolog.Logger) *Healer {
	return &Healer{
		batchLimit: batchLimit,
		queue:      queue,
		stores:     stores,
		keyPrefix:  keyPrefix,
		drainOnly:  drainOnly,
		logger:     logger,
		now:        time.Now,
	}
}

// Heal runs one batch. It returns stats and whether the batch was full,
// meaning another round is likely to find more work. A batch that finds
// nothing old enough reports caught up (full == false).
func (h *Healer) Heal(ctx context.Context) (HealStats, bool, error) {
	deadline := h.now().Add(-MinEntryAge)
	entries, err := h.queue.Iter(ctx, h.keyPrefix, deadline, h.batchLimit)
	if err != nil {
		return HealStats{}, false, fmt.Errorf("iterate queue: %w", err)
	}

	groups := map[string][]QueueEntry{}
	for _, entry := range entries {
		groups[entry.Key] = append(groups[entry.Key], entry)
	}

	type result struct {
		stats   HealStats
		entries []QueueEntry
	}

	var mu sync.Mutex
	var results []result
	g, gctx := errgroup.WithContext(ctx)
	processed := 0
	for key, group := range groups {
		if h.drainOnly {
			mu.Lock()
			results = append(results, result{
				stats:   HealStats{QueueDel: len(group)},
				entries: group,
			})
			mu.Unlock()
			processed++
			continue
		}
		if !h.eligible(deadline, group) {
			// Part of the group is too young; leave the whole key on
			// the queue rather than re-adding entries forever.
			continue
		}
		processed++
		g.Go(func() error {
			stats, err := h.healBlob(gctx, key, group)
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, result{stats: stats, entries: group})
			mu.Unlock()
			return nil
		})
	}
	if processed == 0 {
		h.logger.Info().Msg("all caught up, nothing to do")
		return HealStats{}, false, nil
	}
	if err := g.Wait(); err != nil {
		return HealStats{}, false, err
	}

	var summary HealStats
	var toDelete []QueueEntry
	for _, r := range results {
		summary = summary.Add(r.stats)
		toDelete = append(toDelete, r.entries...)
	}
	if err := h.queue.Del(ctx, toDelete); err != nil {
		return summary, false, fmt.Errorf("cleanup after healing: %w", err)
	}
	h.logger.Info().
		Int("blobs", len(results)).
		Int("queue_add", summary.QueueAdd).
		Int("queue_del", summary.QueueDel).
		Int("put_success", summary.PutSuccess).
		Int("put_failure", summary.PutFailure).
		Msg("healed batch")
	return summary, len(entries) >= h.batchLimit, nil
}

// eligible reports whether every entry in a key group has aged past
// the healing deadline. Groups are healed whole or not at all.
func (h *Healer) eligible(deadline time.Time, group []QueueEntry) bool {
	for _, entry := range group {
		if !entry.Timestamp.Before(deadline) {
			return false
		}
	}
	return true
}

// healBlob ensures the group's key exists in every live replica,
// requeueing sources for anything left unhealed.
func (h *Healer) healBlob(ctx context.Context, key string, group []QueueEntry) (HealStats, error) {
	var stats HealStats
	seen := map[uint32]bool{}
	unknown := map[uint32]bool{}
	for _, entry := range group {
		if _, ok := h.stores[entry.StoreID]; ok {
			seen[entry.StoreID] = true
		} else {
			unknown[entry.StoreID] = true
		}
	}
	if len(unknown) > 0 {
		h.logger.Warn().Str("key", key).Uints32("blobstore_ids", sortedIDs(unknown)).
			Msg("ignoring unknown blobstores")
	}

	targets := map[uint32]bool{}
	for id := range h.stores {
		if !seen[id] {
			targets[id] = true
		}
	}

	stats.QueueDel = len(group)

	if len(targets) == 0 || len(seen) == 0 {
		// Fully replicated, or every entry names a store we no longer
		// know: requeue the unknowns and drop the group.
		if err := h.requeue(ctx, key, unknown); err != nil {
			return stats, err
		}
		stats.QueueAdd = len(unknown)
		return stats, nil
	}

	blob, goodSources, missingSources, err := h.fetchBlob(ctx, key, seen)
	if err != nil {
		return stats, err
	}
	// Replicas that claimed to hold the blob but returned nothing need
	// healing too.
	for _, id := range missingSources {
		h.logger.Warn().Str("key", key).Uint32("blobstore_id", id).
			Msg("source blobstore returned no data despite queue entry")
		targets[id] = true
	}

	healed := map[uint32]bool{}
	unhealed := map[uint32]bool{}
	var putMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range sortedIDs(targets) {
		target := h.stores[id]
		g.Go(func() error {
			err := target.Put(gctx, key, blob)
			putMu.Lock()
			defer putMu.Unlock()
			if err != nil {
				h.logger.Warn().Err(err).Str("key", key).Uint32("blobstore_id", id).
					Msg("heal put failed")
				unhealed[id] = true
			} else {
				healed[id] = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	stats.PutSuccess = len(healed)
	stats.PutFailure = len(unhealed)

	if len(unhealed) > 0 || len(unknown) > 0 {
		// Requeue every known-good location (healed targets plus the
		// sources we fetched from) so the next round has full data for
		// this key, and carry the unknowns along for a later retry.
		requeueSet := map[uint32]bool{}
		for id := range healed {
			requeueSet[id] = true
		}
		for _, id := range goodSources {
			requeueSet[id] = true
		}
		for id := range unknown {
			requeueSet[id] = true
		}
		h.logger.Warn().Str("key", key).
			Uints32("sources", sortedIDs(requeueSet)).
			Uints32("unhealed", sortedIDs(unhealed)).
			Msg("requeueing so failed destinations are retried later")
		if err := h.requeue(ctx, key, requeueSet); err != nil {
			return stats, err
		}
		stats.QueueAdd = len(requeueSet)
	}
	return stats, nil
}

// fetchBlob loads the blob from the replicas that claim to hold it.
// Replicas that error are logged and skipped; replicas that return
// nothing are reported as missing sources.
func (h *Healer) fetchBlob(ctx context.Context, key string, seen map[uint32]bool) (blob []byte, goodSources, missingSources []uint32, err error) {
	for _, id := range sortedIDs(seen) {
		data, gerr := h.stores[id].Get(ctx, key)
		switch {
		case gerr != nil:
			h.logger.Warn().Err(gerr).Str("key", key).Uint32("blobstore_id", id).
				Msg("error loading from source blobstore")
		case data == nil:
			missingSources = append(missingSources, id)
		default:
			blob = data
			goodSources = append(goodSources, id)
		}
	}
	if blob == nil {
		return nil, nil, nil, fmt.Errorf("fetching blob %q: none of the source blobstores responded", key)
	}
	return blob, goodSources, missingSources, nil
}

func (h *Healer) requeue(ctx context.Context, key string, stores map[uint32]bool) error {
	if len(stores) == 0 {
		return nil
	}
	now := h.now()
	entries := make([]QueueEntry, 0, len(stores))
	for _, id := range sortedIDs(stores) {
		entries = append(entries, QueueEntry{Key: key, StoreID: id, Timestamp: now})
	}
	return h.queue.Add(ctx, entries)
}

func sortedIDs(set map[uint32]bool) []uint32 {
	out := make([]uint32, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
