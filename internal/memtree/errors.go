package memtree

import (
	"errors"
	"fmt"

	"github.com/treestore/treestore/internal/repopath"
)

// ErrUnresolvedConflicts is returned when a save or merge reaches a
// conflict entry that path mutations have not resolved.
var ErrUnresolvedConflicts = errors.New("unresolved conflicts in manifest")

// ErrUnchangedManifest is returned when saving a clean merge: a manifest
// with two parents must introduce at least one change.
var ErrUnchangedManifest = errors.New("manifest unchanged")

// ErrNotADirectory is returned when a mutation lands on a blob entry.
var ErrNotADirectory = errors.New("not a directory")

// ErrMergeModified is returned when merge inputs carry pending changes.
var ErrMergeModified = errors.New("cannot merge modified manifests")

// PathNotFoundError reports a mutation that traversed through a missing
// or blocked element.
type PathNotFoundError struct {
	Path repopath.Path
}

func (e *PathNotFoundError) Error() string {
	return fmt.Sprintf("path %q not found", e.Path.String())
}
