package blobstore

import (
	"context"
	"fmt"

	"github.com/treestore/treestore/internal/hash"
	"github.com/treestore/treestore/internal/store"
)

// StoreAdapter exposes a content store as a Blobstore keyed by hex ids.
// Writes go through the arbitrary-key path so that derived keys (pointer
// and augmented blobs) replicate unchanged.
type StoreAdapter struct {
	store *store.Store
}

// NewStoreAdapter wraps a content store.
func NewStoreAdapter(s *store.Store) *StoreAdapter {
	return &StoreAdapter{store: s}
}

func parseKey(key string) (hash.ID, error) {
	id, err := hash.IDFromHex(key)
	if err != nil {
		return hash.NullID, fmt.Errorf("blobstore key %q: %w", key, err)
	}
	return id, nil
}

// Get implements Blobstore.Get.
func (a *StoreAdapter) Get(_ context.Context, key string) ([]byte, error) {
	id, err := parseKey(key)
	if err != nil {
		return nil, err
	}
	return a.store.Get(id)
}

// Put implements Blobstore.Put.
func (a *StoreAdapter) Put(_ context.Context, key string, value []byte) error {
	id, err := parseKey(key)
	if err != nil {
		return err
	}
	return a.store.PutArbitrary(id, value)
}

// IsPresent implements Blobstore.IsPresent.
func (a *StoreAdapter) IsPresent(_ context.Context, key string) (bool, error) {
	id, err := parseKey(key)
	if err != nil {
		return false, err
	}
	return a.store.Has(id)
}
