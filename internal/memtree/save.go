package memtree

import (
	"context"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/treestore/treestore/internal/manifest"
	"github.com/treestore/treestore/internal/repopath"
)

// containsConflict reports whether any effective entry under e is a
// conflict.
func containsConflict(e Entry) bool {
	switch entry := e.(type) {
	case *Conflict:
		return true
	case *Tree:
		for _, child := range entry.changes {
			if containsConflict(child) {
				return true
			}
		}
		for name, child := range entry.children {
			if entry.deleted[name] {
				continue
			}
			if _, changed := entry.changes[name]; changed {
				continue
			}
			if containsConflict(child) {
				return true
			}
		}
	}
	return false
}

// save recursively writes an entry and returns its saved handle.
// Sub-trees save in parallel; the parent payload is emitted only after
// every child id is bound, in sorted name order.
func save(ctx context.Context, io IO, logger zerolog.Logger, entry Entry, path string) (*Blob, error) {
	switch e := entry.(type) {
	case *Blob:
		return e, nil
	case *Conflict:
		return nil, ErrUnresolvedConflicts
	case *Tree:
		if !e.IsModified() {
			if !e.p2.IsNull() {
				// An unmodified merge either still carries conflicts
				// that mutations must resolve, or introduced no change
				// at all; neither can be written.
				if containsConflict(e) {
					return nil, ErrUnresolvedConflicts
				}
				return nil, ErrUnchangedManifest
			}
			if e.p1.IsNull() {
				return nil, ErrUnchangedManifest
			}
			return &Blob{ID: e.p1, Flag: manifest.FlagDir}, nil
		}

		effective := make(map[repopath.Elem]Entry, len(e.children)+len(e.changes))
		for name, child := range e.children {
			if e.deleted[name] {
				continue
			}
			effective[name] = child
		}
		for name, child := range e.changes {
			effective[name] = child
		}

		names := make([]repopath.Elem, 0, len(effective))
		for name, child := range effective {
			if child.IsEmpty() {
				continue
			}
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool { return names[i].Less(names[j]) })

		saved := make([]*Blob, len(names))
		g, gctx := errgroup.WithContext(ctx)
		for i, name := range names {
			childPath := name.String()
			if path != "" {
				childPath = path + "/" + childPath
			}
			child := effective[name]
			g.Go(func() error {
				ref, err := save(gctx, io, logger, child, childPath)
				if err != nil {
					return err
				}
				saved[i] = ref
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		tree := manifest.Tree{Elements: make([]manifest.Element, len(names))}
		for i, name := range names {
			tree.Elements[i] = manifest.Element{Name: name, ID: saved[i].ID, Flag: saved[i].Flag}
		}
		payload := tree.Serialize()

		id, err := io.UploadTree(ctx, payload, e.p1, e.p2)
		if err != nil {
			return nil, err
		}
		logger.Debug().Str("path", path).Str("tree", id.Hex()).Int("entries", len(names)).
			Msg("saved manifest tree")
		return &Blob{ID: id, Flag: manifest.FlagDir}, nil
	default:
		return nil, ErrNotADirectory
	}
}
