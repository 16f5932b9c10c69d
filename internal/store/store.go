// Package store implements the content-addressed blob store: a
// verifiable SHA1-keyed byte store with a parallel namespace of pointer
// keys that resolve BLAKE3 content digests back to canonical ids.
//
// Blobs are kept as individual files under a two-level fanout directory,
// written atomically via a temp file and rename.
package store

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/treestore/treestore/internal/hash"
	"github.com/treestore/treestore/internal/manifest"
)

// Store is a SHA1 key/value content store. SHA1 keys are verifiable:
// the key equals the hash of the framed bytes stored under it. Pointer
// and augmented keys live in the same keyspace but are derived, not
// content hashes.
type Store struct {
	root   string
	format manifest.Format
	logger zerolog.Logger
}

// Open opens (creating on demand) a store rooted at dir.
func Open(dir string, format manifest.Format, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &Store{root: dir, format: format, logger: logger}, nil
}

// Format returns the framing the store was opened with.
func (s *Store) Format() manifest.Format {
	return s.format
}

// blobPath returns the file path for an id, using the first two hex
// characters as a fanout directory.
func (s *Store) blobPath(id hash.ID) string {
	hexStr := id.Hex()
	return filepath.Join(s.root, hexStr[:2], hexStr[2:])
}

// PutSHA1 hashes the framed bytes, inserts them if absent, and returns
// the id. Insertion is idempotent: a duplicate arrival verifies that the
// stored bytes are identical. The optional bases are an advisory
// delta-chain hint; this store keeps full content and ignores them.
func (s *Store) PutSHA1(data []byte, bases ...hash.ID) (hash.ID, error) {
	_ = bases
	id := hash.SumSHA1(data)
	if err := s.writeBlob(id, data, false); err != nil {
		return hash.NullID, err
	}
	return id, nil
}

// PutArbitrary inserts bytes under a caller-chosen key. Used only for
// derived keys (pointers, augmented blobs); the last writer wins.
func (s *Store) PutArbitrary(id hash.ID, data []byte) error {
	return s.writeBlob(id, data, true)
}

func (s *Store) writeBlob(id hash.ID, data []byte, overwrite bool) error {
	path := s.blobPath(id)
	if existing, err := os.ReadFile(path); err == nil {
		if overwrite {
			if bytes.Equal(existing, data) {
				return nil
			}
		} else {
			if !bytes.Equal(existing, data) {
				return fmt.Errorf("blob %s: duplicate insert with different content", id)
			}
			return nil
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read blob %s: %w", id, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create blob directory: %w", err)
	}

	// Write to a temporary file first, then rename. Concurrent writers
	// of the same content race harmlessly: both rename identical bytes.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write blob %s: %w", id, werr)
	}
	if cerr != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close blob %s: %w", id, cerr)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename blob %s: %w", id, err)
	}
	return nil
}

// Get returns the framed bytes for an id, or nil if absent.
func (s *Store) Get(id hash.ID) ([]byte, error) {
	f, err := os.Open(s.blobPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open blob %s: %w", id, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", id, err)
	}
	return data, nil
}

// Has reports whether an id is present.
func (s *Store) Has(id hash.ID) (bool, error) {
	_, err := os.Stat(s.blobPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat blob %s: %w", id, err)
	}
	return true, nil
}

// GetContent returns the payload of a blob with its framing stripped.
// The null id resolves to empty bytes without touching storage.
func (s *Store) GetContent(id hash.ID) ([]byte, error) {
	if id.IsNull() {
		return []byte{}, nil
	}
	data, err := s.Get(id)
	if err != nil || data == nil {
		return nil, err
	}
	switch s.format {
	case manifest.FormatGit:
		_, payload, err := manifest.SplitGit(data)
		if err != nil {
			return nil, fmt.Errorf("blob %s: %w", id, err)
		}
		return payload, nil
	default:
		_, _, payload, err := manifest.SplitHg(data)
		if err != nil {
			return nil, fmt.Errorf("blob %s: %w", id, err)
		}
		return payload, nil
	}
}
