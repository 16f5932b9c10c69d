package augmented

import (
	"bufio"
	"bytes"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/treestore/treestore/internal/hash"
	"github.com/treestore/treestore/internal/manifest"
	"github.com/treestore/treestore/internal/store"
)

// Deriver computes and caches augmented trees. Derivation for a given
// id runs at most once at a time; concurrent requests for the same id
// coalesce. Distinct ids derive in parallel.
type Deriver struct {
	store  *store.Store
	group  singleflight.Group
	logger zerolog.Logger
}

// NewDeriver creates a deriver over a store. The store must use HG
// framing: augmented manifests are only defined for that format.
func NewDeriver(s *store.Store, logger zerolog.Logger) *Deriver {
	return &Deriver{store: s, logger: logger}
}

// Derive returns the digest-headed augmented blob for the tree id,
// deriving and storing it (and every descendant) on first request.
// Returns nil without error when a prerequisite blob is missing; the
// caller may retry once inputs become available.
func (d *Deriver) Derive(id hash.ID) ([]byte, error) {
	out, err, _ := d.group.Do(id.Hex(), func() (any, error) {
		return d.derive(id)
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	return out.([]byte), nil
}

func (d *Deriver) derive(id hash.ID) ([]byte, error) {
	if d.store.Format() != manifest.FormatHg {
		return nil, fmt.Errorf("augmented trees require hg framing, store uses %s", d.store.Format())
	}
	if cached, err := d.store.GetAugmented(id); err != nil || cached != nil {
		return cached, err
	}

	treeBlob, err := d.store.Get(id)
	if err != nil {
		return nil, err
	}
	if treeBlob == nil {
		// Cannot derive until the flat manifest arrives.
		return nil, nil
	}
	p1, p2, payload, err := manifest.SplitHg(treeBlob)
	if err != nil {
		return nil, fmt.Errorf("tree %s: %w", id, err)
	}
	parsed, err := manifest.ParseTree(payload)
	if err != nil {
		return nil, fmt.Errorf("tree %s: %w", id, err)
	}

	tree := &Tree{ID: id, P1: p1, P2: p2}
	for _, el := range parsed.Elements {
		if el.Flag.IsDir() {
			subtree, err := d.Derive(el.ID)
			if err != nil {
				return nil, err
			}
			if subtree == nil {
				return nil, nil
			}
			digest, err := DeserializeDigest(bufio.NewReader(bytes.NewReader(subtree)))
			if err != nil {
				return nil, fmt.Errorf("subtree %s: %w", el.ID, err)
			}
			tree.Entries = append(tree.Entries, TreeEntry{Name: el.Name, Node: &DirNode{
				Treenode:      el.ID,
				AugmentedID:   digest.Hash,
				AugmentedSize: digest.Size,
			}})
			continue
		}

		fileBlob, err := d.store.Get(el.ID)
		if err != nil {
			return nil, err
		}
		if fileBlob == nil {
			return nil, nil
		}
		_, _, filePayload, err := manifest.SplitHg(fileBlob)
		if err != nil {
			return nil, fmt.Errorf("file %s: %w", el.ID, err)
		}
		raw, headerMetadata := manifest.SplitFileMetadata(filePayload)
		aux := ComputeFileAux(raw)

		// Record the content-digest pointer so the file is locatable by
		// digest later.
		if err := d.store.AddCasMapping(aux.CasDigest(), store.CasPointer{ID: el.ID}); err != nil {
			return nil, err
		}

		tree.Entries = append(tree.Entries, TreeEntry{Name: el.Name, Node: &FileNode{
			FileType:       el.Flag.FileType(),
			Filenode:       el.ID,
			ContentBlake3:  aux.Blake3,
			ContentSHA1:    aux.SHA1,
			TotalSize:      aux.TotalSize,
			HeaderMetadata: headerMetadata,
		}})
	}

	digest, err := tree.Digest()
	if err != nil {
		return nil, err
	}
	withDigest := &TreeWithDigest{Digest: digest, Tree: tree}
	buf, err := withDigest.Bytes()
	if err != nil {
		return nil, err
	}
	if err := d.store.PutAugmentedTree(id, digest, buf); err != nil {
		return nil, err
	}
	d.logger.Debug().Str("tree", id.Hex()).Str("digest", digest.String()).
		Int("flat_size", tree.FlatBlobSize()).Msg("derived augmented tree")
	return buf, nil
}
