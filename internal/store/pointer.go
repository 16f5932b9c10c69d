package store

import (
	"bytes"
	"crypto/sha1"
	"fmt"

	"github.com/treestore/treestore/internal/hash"
	"github.com/treestore/treestore/internal/manifest"
)

// CasPointer resolves a content digest to a canonical id. Tree pointers
// target augmented tree blobs, which are stored in their egress format;
// file pointers target SHA1 file blobs, which carry framing and header
// metadata that must be stripped on the way out.
type CasPointer struct {
	ID     hash.ID
	IsTree bool
}

const casPointerLen = 1 + hash.IDLen

// serialize encodes the pointer as a type byte followed by the id.
func (p CasPointer) serialize() []byte {
	out := make([]byte, 0, casPointerLen)
	if p.IsTree {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	return append(out, p.ID[:]...)
}

func deserializeCasPointer(data []byte) (CasPointer, error) {
	if len(data) != casPointerLen {
		return CasPointer{}, fmt.Errorf("bad CAS pointer length %d", len(data))
	}
	id, err := hash.IDFromBytes(data[1:])
	if err != nil {
		return CasPointer{}, err
	}
	switch data[0] {
	case 0:
		return CasPointer{ID: id, IsTree: false}, nil
	case 1:
		return CasPointer{ID: id, IsTree: true}, nil
	default:
		return CasPointer{}, fmt.Errorf("bad CAS pointer type %d", data[0])
	}
}

// AugmentedID derives the key under which a blob's augmented companion
// is stored. Hashing a domain prefix in keeps augmented blobs from ever
// colliding with their SHA1 originals.
func AugmentedID(id hash.ID) hash.ID {
	h := sha1.New()
	h.Write([]byte("augmented"))
	h.Write(id[:])
	var out hash.ID
	copy(out[:], h.Sum(nil))
	return out
}

// DigestID derives the pointer key for a content digest.
func DigestID(digest hash.CasDigest) hash.ID {
	h := sha1.New()
	h.Write(digest.Hash[:])
	var out hash.ID
	copy(out[:], h.Sum(nil))
	return out
}

// AddCasMapping records that the given digest resolves to the pointer
// target. Pointer writes may overwrite; the last writer wins.
func (s *Store) AddCasMapping(digest hash.CasDigest, pointer CasPointer) error {
	return s.PutArbitrary(DigestID(digest), pointer.serialize())
}

// PutAugmentedTree stores the serialized augmented tree (with its digest
// header) under the augmented key of id, and records the digest pointer
// so the tree is locatable by content digest.
func (s *Store) PutAugmentedTree(id hash.ID, digest hash.CasDigest, data []byte) error {
	if err := s.PutArbitrary(AugmentedID(id), data); err != nil {
		return err
	}
	return s.AddCasMapping(digest, CasPointer{ID: id, IsTree: true})
}

// GetAugmented returns the augmented blob stored for id, or nil.
func (s *Store) GetAugmented(id hash.ID) ([]byte, error) {
	return s.Get(AugmentedID(id))
}

// GetCAS resolves a content digest through its pointer. For a tree
// pointer it returns the augmented tree bytes with the leading digest
// header stripped; for a file pointer it returns the raw file payload
// with header metadata stripped. Returns nil if the digest is unknown
// or the target is missing.
func (s *Store) GetCAS(digest hash.CasDigest) ([]byte, error) {
	pointerData, err := s.Get(DigestID(digest))
	if err != nil || pointerData == nil {
		return nil, err
	}
	pointer, err := deserializeCasPointer(pointerData)
	if err != nil {
		return nil, fmt.Errorf("digest %s: %w", digest, err)
	}
	if pointer.IsTree {
		blob, err := s.GetAugmented(pointer.ID)
		if err != nil || blob == nil {
			return nil, err
		}
		idx := bytes.IndexByte(blob, '\n')
		if idx < 0 {
			return nil, fmt.Errorf("augmented tree %s has no digest header", pointer.ID)
		}
		return blob[idx+1:], nil
	}
	content, err := s.GetContent(pointer.ID)
	if err != nil || content == nil {
		return nil, err
	}
	raw, _ := manifest.SplitFileMetadata(content)
	return raw, nil
}
