package memtree

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/treestore/treestore/internal/hash"
	"github.com/treestore/treestore/internal/manifest"
	"github.com/treestore/treestore/internal/repopath"
	"github.com/treestore/treestore/internal/store"
)

// Root is an in-memory manifest built over zero, one, or two parent
// manifests. It is single-owner: one mutation session per Root.
type Root struct {
	io     IO
	logger zerolog.Logger
	root   Entry
}

// NewRoot creates an in-memory manifest based on the given parents. With
// two parents, the trees are merged entry-by-entry and incompatible
// entries become conflicts that must be resolved before save.
func NewRoot(ctx context.Context, io IO, logger zerolog.Logger, p1, p2 hash.ID) (*Root, error) {
	switch {
	case p1.IsNull() && p2.IsNull():
		return &Root{io: io, logger: logger, root: EmptyTree()}, nil
	case p2.IsNull():
		root, err := ConvertTreenode(ctx, io, p1)
		if err != nil {
			return nil, err
		}
		return &Root{io: io, logger: logger, root: root}, nil
	default:
		t1, err := ConvertTreenode(ctx, io, p1)
		if err != nil {
			return nil, err
		}
		t2, err := ConvertTreenode(ctx, io, p2)
		if err != nil {
			return nil, err
		}
		merged, err := MergeWithConflicts(t1, t2)
		if err != nil {
			return nil, err
		}
		return &Root{io: io, logger: logger, root: merged}, nil
	}
}

// ConvertTreenode loads an on-disk manifest into a fresh tree with the
// manifest id as p1 and no pending changes.
func ConvertTreenode(ctx context.Context, io IO, manifestID hash.ID) (*Tree, error) {
	payload, err := io.TreeContent(ctx, manifestID)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, &store.ManifestMissingError{ID: manifestID}
	}
	parsed, err := manifest.ParseTree(payload)
	if err != nil {
		return nil, err
	}
	tree := EmptyTree()
	tree.p1 = manifestID
	for _, el := range parsed.Elements {
		if el.Flag.IsDir() {
			child, err := ConvertTreenode(ctx, io, el.ID)
			if err != nil {
				return nil, err
			}
			tree.children[el.Name] = child
		} else {
			tree.children[el.Name] = &Blob{ID: el.ID, Flag: el.Flag}
		}
	}
	return tree, nil
}

// Entry returns the root entry.
func (r *Root) Entry() Entry {
	return r.root
}

// SetEntry places a blob at path, creating missing directories and
// replacing any existing entry unconditionally.
func (r *Root) SetEntry(path repopath.Path, blob *Blob) error {
	target, err := r.target(path)
	if err != nil {
		return err
	}
	tree, ok := target.(*Tree)
	if !ok {
		return ErrNotADirectory
	}
	tree.set(path.Basename(), blob)
	return nil
}

// Remove records a delete for the leaf at path.
func (r *Root) Remove(path repopath.Path) error {
	target, err := r.target(path)
	if err != nil {
		return err
	}
	tree, ok := target.(*Tree)
	if !ok {
		return ErrNotADirectory
	}
	tree.remove(path.Basename())
	return nil
}

// target resolves the directory entry containing the leaf at path.
func (r *Root) target(path repopath.Path) (Entry, error) {
	dir, _ := path.SplitDirname()
	if dir == nil {
		return r.root, nil
	}
	rootTree, ok := r.root.(*Tree)
	if !ok {
		return nil, ErrNotADirectory
	}
	target, found := rootTree.findMut(dir.Elems())
	if !found {
		return nil, &PathNotFoundError{Path: path}
	}
	return target, nil
}

// Save writes the manifest recursively to the blob store and returns
// the root manifest id. Conflicts anywhere in the tree fail the save;
// a clean single-parent tree saves as a no-op returning p1.
func (r *Root) Save(ctx context.Context) (hash.ID, error) {
	saved, err := save(ctx, r.io, r.logger, r.root, "")
	if err != nil {
		return hash.NullID, err
	}
	return saved.ID, nil
}
