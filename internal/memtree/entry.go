// Package memtree implements the in-memory manifest: a mutable overlay
// over immutable tree manifests that supports path mutations, merging
// with conflict tracking, and recursive write-back to the blob store.
package memtree

import (
	"github.com/treestore/treestore/internal/hash"
	"github.com/treestore/treestore/internal/manifest"
	"github.com/treestore/treestore/internal/repopath"
)

// Entry is one node of the in-memory manifest.
//
// The three implementations are Blob (a concrete leaf already in the
// store), Conflict (incompatible candidates awaiting resolution), and
// Tree (a directory with pending changes overlaid on its base view).
// Merges never mutate their inputs; entries lifted into a tree's change
// map are deep-cloned first.
type Entry interface {
	// IsEmpty reports whether the entry contributes nothing to a saved
	// manifest. A tree is empty iff every change is a delete or an
	// empty entry and every base child is shadowed or itself empty.
	IsEmpty() bool
	// IsModified reports pending changes. Only trees can be modified.
	IsModified() bool

	clone() Entry
}

// Blob is a concrete leaf entry: an id already present in the store,
// with its wire flag. A Blob with FlagDir is a handle to an on-disk
// tree.
type Blob struct {
	ID   hash.ID
	Flag manifest.Flag
}

func (b *Blob) IsEmpty() bool    { return false }
func (b *Blob) IsModified() bool { return false }
func (b *Blob) clone() Entry     { c := *b; return &c }

// Conflict carries two or more incompatible candidates for a path. The
// candidates keep merge order: the first came from p1, the second from
// p2.
type Conflict struct {
	Entries []Entry
}

func (c *Conflict) IsEmpty() bool    { return false }
func (c *Conflict) IsModified() bool { return false }

func (c *Conflict) clone() Entry {
	entries := make([]Entry, len(c.Entries))
	for i, e := range c.Entries {
		entries[i] = e.clone()
	}
	return &Conflict{Entries: entries}
}

// Tree is an in-memory directory. children is the immutable base view
// loaded from the store; changes overlays it with additions and
// replacements, and deleted records removed names. The effective
// manifest is computed at save time.
type Tree struct {
	children map[repopath.Elem]Entry
	p1, p2   hash.ID
	changes  map[repopath.Elem]Entry
	deleted  map[repopath.Elem]bool
}

// EmptyTree returns a fresh tree with no parents and no children.
func EmptyTree() *Tree {
	return &Tree{
		children: map[repopath.Elem]Entry{},
		changes:  map[repopath.Elem]Entry{},
		deleted:  map[repopath.Elem]bool{},
	}
}

func (t *Tree) IsModified() bool {
	return len(t.changes) > 0 || len(t.deleted) > 0
}

func (t *Tree) IsEmpty() bool {
	for _, e := range t.changes {
		if !e.IsEmpty() {
			return false
		}
	}
	for name, e := range t.children {
		if t.deleted[name] {
			continue
		}
		if _, changed := t.changes[name]; changed {
			continue
		}
		if !e.IsEmpty() {
			return false
		}
	}
	return true
}

func (t *Tree) clone() Entry {
	children := make(map[repopath.Elem]Entry, len(t.children))
	for k, v := range t.children {
		children[k] = v.clone()
	}
	changes := make(map[repopath.Elem]Entry, len(t.changes))
	for k, v := range t.changes {
		changes[k] = v.clone()
	}
	deleted := make(map[repopath.Elem]bool, len(t.deleted))
	for k, v := range t.deleted {
		deleted[k] = v
	}
	return &Tree{children: children, p1: t.p1, p2: t.p2, changes: changes, deleted: deleted}
}

// set records a blob under name in this tree's changes.
func (t *Tree) set(name repopath.Elem, blob *Blob) {
	delete(t.deleted, name)
	t.changes[name] = blob
}

// remove records a delete for name.
func (t *Tree) remove(name repopath.Elem) {
	delete(t.changes, name)
	t.deleted[name] = true
}

// conflictToMemTree converts a conflict into an empty tree whose
// parents are taken from the first two unmodified tree-like candidates,
// preserving ancestry so further mutations become ordinary overlay
// writes. Non-conflicts pass through unchanged.
func conflictToMemTree(e Entry) Entry {
	conflict, ok := e.(*Conflict)
	if !ok {
		return e
	}
	var parents []hash.ID
	for _, cand := range conflict.Entries {
		if len(parents) == 2 {
			break
		}
		switch c := cand.(type) {
		case *Tree:
			if !c.IsModified() && !c.p1.IsNull() {
				parents = append(parents, c.p1)
			}
		case *Blob:
			if c.Flag.IsDir() {
				parents = append(parents, c.ID)
			}
		}
	}
	tree := EmptyTree()
	if len(parents) > 0 {
		tree.p1 = parents[0]
	}
	if len(parents) > 1 {
		tree.p2 = parents[1]
	}
	return tree
}

// findMut walks path from this tree, materializing missing intermediate
// directories in changes and resolving conflicts on the way into empty
// trees. Returns false if a non-directory or a pending delete blocks
// the walk.
func (t *Tree) findMut(path []repopath.Elem) (Entry, bool) {
	if len(path) == 0 {
		return t, true
	}
	elem := path[0]

	entry, changed := t.changes[elem]
	switch {
	case t.deleted[elem]:
		return nil, false
	case !changed:
		existing, ok := t.children[elem]
		if ok {
			entry = conflictToMemTree(existing.clone())
		} else {
			entry = EmptyTree()
		}
		t.changes[elem] = entry
	}

	if len(path) == 1 {
		return entry, true
	}
	sub, ok := entry.(*Tree)
	if !ok {
		return nil, false
	}
	return sub.findMut(path[1:])
}

// MergeWithConflicts merges two unmodified entries, tracking conflicts.
// Conflict candidates keep strict order: self first, other second.
func MergeWithConflicts(self, other Entry) (Entry, error) {
	if self.IsModified() || other.IsModified() {
		return nil, ErrMergeModified
	}

	if _, ok := self.(*Conflict); ok {
		return nil, ErrUnresolvedConflicts
	}
	if _, ok := other.(*Conflict); ok {
		return nil, ErrUnresolvedConflicts
	}

	selfBlob, selfIsBlob := self.(*Blob)
	otherBlob, otherIsBlob := other.(*Blob)
	if selfIsBlob && otherIsBlob && *selfBlob == *otherBlob {
		return self.clone(), nil
	}
	if selfIsBlob || otherIsBlob {
		return &Conflict{Entries: []Entry{self.clone(), other.clone()}}, nil
	}

	selfTree := self.(*Tree)
	otherTree := other.(*Tree)
	if !selfTree.p1.IsNull() && selfTree.p1 == otherTree.p1 {
		return self.clone(), nil
	}

	merged := selfTree.clone().(*Tree)
	for name, otherEntry := range otherTree.children {
		mine, ok := merged.children[name]
		if !ok {
			merged.children[name] = otherEntry.clone()
			continue
		}
		mergedChild, err := MergeWithConflicts(mine, otherEntry)
		if err != nil {
			return nil, err
		}
		merged.children[name] = mergedChild
	}
	merged.p1 = selfTree.p1
	merged.p2 = otherTree.p1
	return merged, nil
}
