package xrepo

import (
	"context"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/treestore/treestore/internal/hash"
)

// Buckets
var (
	bucketMapping      = []byte("synced-mapping")  // src:commit:dst -> candidate list
	bucketWorkingCopy  = []byte("wc-equivalence")  // src:commit:dst -> equivalence
	bucketLargeVersion = []byte("large-repo-vers") // repo:commit -> version
)

// BoltMapping is a Mapping persisted in a bbolt database.
type BoltMapping struct {
	db *bolt.DB
}

// OpenBoltMapping opens (creating on demand) a mapping database.
func OpenBoltMapping(path string) (*BoltMapping, error) {
	db, err := bolt.Open(path, 0o666, nil)
	if err != nil {
		return nil, fmt.Errorf("open mapping db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketMapping, bucketWorkingCopy, bucketLargeVersion} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create mapping buckets: %w", err)
	}
	return &BoltMapping{db: db}, nil
}

// Close closes the underlying database.
func (m *BoltMapping) Close() error { return m.db.Close() }

func pairKey(srcRepo RepoID, srcID hash.ID, dstRepo RepoID) []byte {
	return []byte(fmt.Sprintf("%d:%s:%d", srcRepo, srcID.Hex(), dstRepo))
}

func repoKey(repo RepoID, id hash.ID) []byte {
	return []byte(fmt.Sprintf("%d:%s", repo, id.Hex()))
}

type storedCandidate struct {
	ID      string  `json:"id"`
	Version *string `json:"version,omitempty"`
}

// AddEntry appends a RewrittenAs candidate for a commit pair.
func (m *BoltMapping) AddEntry(srcRepo RepoID, srcID hash.ID, dstRepo RepoID, dstID hash.ID, version Version) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMapping)
		key := pairKey(srcRepo, srcID, dstRepo)
		var stored []storedCandidate
		if existing := bucket.Get(key); existing != nil {
			if err := json.Unmarshal(existing, &stored); err != nil {
				return err
			}
		}
		v := string(version)
		stored = append(stored, storedCandidate{ID: dstID.Hex(), Version: &v})
		value, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		return bucket.Put(key, value)
	})
}

// SetWorkingCopyEquivalence records the working-copy relationship of a
// commit pair.
func (m *BoltMapping) SetWorkingCopyEquivalence(srcRepo RepoID, srcID hash.ID, dstRepo RepoID, eq WorkingCopyEquivalence) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		value, err := json.Marshal(eq)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketWorkingCopy).Put(pairKey(srcRepo, srcID, dstRepo), value)
	})
}

// SetLargeRepoCommitVersion records the sync version a large-repo
// commit was created under.
func (m *BoltMapping) SetLargeRepoCommitVersion(repo RepoID, id hash.ID, version Version) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLargeVersion).Put(repoKey(repo, id), []byte(version))
	})
}

// Get implements Mapping.Get.
func (m *BoltMapping) Get(_ context.Context, srcRepo RepoID, srcID hash.ID, dstRepo RepoID) ([]MappingEntry, error) {
	var out []MappingEntry
	err := m.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(bucketMapping).Get(pairKey(srcRepo, srcID, dstRepo))
		if value == nil {
			return nil
		}
		var stored []storedCandidate
		if err := json.Unmarshal(value, &stored); err != nil {
			return err
		}
		for _, candidate := range stored {
			id, err := hash.IDFromHex(candidate.ID)
			if err != nil {
				return err
			}
			entry := MappingEntry{ID: id}
			if candidate.Version != nil {
				entry.Version = Version(*candidate.Version)
				entry.HasVersion = true
			}
			out = append(out, entry)
		}
		return nil
	})
	return out, err
}

// GetEquivalentWorkingCopy implements Mapping.GetEquivalentWorkingCopy.
func (m *BoltMapping) GetEquivalentWorkingCopy(_ context.Context, srcRepo RepoID, srcID hash.ID, dstRepo RepoID) (*WorkingCopyEquivalence, error) {
	var out *WorkingCopyEquivalence
	err := m.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(bucketWorkingCopy).Get(pairKey(srcRepo, srcID, dstRepo))
		if value == nil {
			return nil
		}
		var eq WorkingCopyEquivalence
		if err := json.Unmarshal(value, &eq); err != nil {
			return err
		}
		out = &eq
		return nil
	})
	return out, err
}

// GetLargeRepoCommitVersion implements Mapping.GetLargeRepoCommitVersion.
func (m *BoltMapping) GetLargeRepoCommitVersion(_ context.Context, repo RepoID, id hash.ID) (Version, bool, error) {
	var version Version
	found := false
	err := m.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(bucketLargeVersion).Get(repoKey(repo, id))
		if value != nil {
			version = Version(value)
			found = true
		}
		return nil
	})
	return version, found, err
}
