package memtree

import (
	"context"
	"fmt"

	"github.com/treestore/treestore/internal/blobstore"
	"github.com/treestore/treestore/internal/hash"
	"github.com/treestore/treestore/internal/manifest"
)

// IO is the blobstore surface the manifest needs: loading tree payloads
// and uploading freshly built trees.
type IO interface {
	// TreeContent returns the tree blob payload for id, framing
	// stripped, or nil if the store has no such blob.
	TreeContent(ctx context.Context, id hash.ID) ([]byte, error)
	// UploadTree frames and stores a tree payload with the given
	// parents, returning the id it landed under.
	UploadTree(ctx context.Context, payload []byte, p1, p2 hash.ID) (hash.ID, error)
}

// StoreIO implements IO over a Blobstore keyed by hex ids, typically the
// virtually sharded wrapper around a content store.
type StoreIO struct {
	bs     blobstore.Blobstore
	format manifest.Format
}

// NewStoreIO wraps a blobstore with the given framing.
func NewStoreIO(bs blobstore.Blobstore, format manifest.Format) *StoreIO {
	return &StoreIO{bs: bs, format: format}
}

// TreeContent implements IO.TreeContent.
func (s *StoreIO) TreeContent(ctx context.Context, id hash.ID) ([]byte, error) {
	data, err := s.bs.Get(ctx, id.Hex())
	if err != nil || data == nil {
		return nil, err
	}
	switch s.format {
	case manifest.FormatGit:
		_, payload, err := manifest.SplitGit(data)
		if err != nil {
			return nil, fmt.Errorf("tree %s: %w", id, err)
		}
		return payload, nil
	default:
		_, _, payload, err := manifest.SplitHg(data)
		if err != nil {
			return nil, fmt.Errorf("tree %s: %w", id, err)
		}
		return payload, nil
	}
}

// UploadTree implements IO.UploadTree.
func (s *StoreIO) UploadTree(ctx context.Context, payload []byte, p1, p2 hash.ID) (hash.ID, error) {
	var framed []byte
	switch s.format {
	case manifest.FormatGit:
		framed = manifest.FrameGit(payload, "tree")
	default:
		framed = manifest.FrameHg(payload, p1, p2)
	}
	id := hash.SumSHA1(framed)
	if err := s.bs.Put(ctx, id.Hex(), framed); err != nil {
		return hash.NullID, err
	}
	return id, nil
}
