package store

import (
	"fmt"
	"strings"

	"github.com/treestore/treestore/internal/hash"
)

// ManifestMissingError reports a manifest id the store has no blob for.
type ManifestMissingError struct {
	ID hash.ID
}

func (e *ManifestMissingError) Error() string {
	return fmt.Sprintf("manifest %s is missing from the store", e.ID)
}

// CommitMissingPathsError reports a commit that was inserted while some
// of the tree or file content it references is absent.
type CommitMissingPathsError struct {
	Commit hash.ID
	Tree   hash.ID
	Paths  []string
}

func (e *CommitMissingPathsError) Error() string {
	return fmt.Sprintf("commit %s (tree %s) references missing paths: %s",
		e.Commit, e.Tree, strings.Join(e.Paths, ", "))
}

// BookmarkMissingCommitError reports a bookmark set to a commit the
// store does not hold.
type BookmarkMissingCommitError struct {
	Name string
	ID   hash.ID
}

func (e *BookmarkMissingCommitError) Error() string {
	return fmt.Sprintf("bookmark %q points to missing commit %s", e.Name, e.ID)
}

// RequirementsMismatchError reports a repo opened with a feature set
// this implementation cannot honor.
type RequirementsMismatchError struct {
	Path        string
	Unsupported []string
	Missing     []string
}

func (e *RequirementsMismatchError) Error() string {
	return fmt.Sprintf("requirements mismatch in %s: unsupported %v, missing %v",
		e.Path, e.Unsupported, e.Missing)
}
