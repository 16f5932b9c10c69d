// Package xrepo resolves cross-repo commit equivalence: given a commit
// in a source repo, it returns the equivalent commit in a target repo,
// disambiguating multi-candidate mappings with caller-supplied
// topological hints.
package xrepo

import (
	"context"
	"fmt"

	"github.com/treestore/treestore/internal/hash"
)

// RepoID identifies a repository in the mapping tables.
type RepoID int32

// Version names the sync configuration a mapping was produced under.
type Version string

// Direction distinguishes which way a query crosses the repo pair.
type Direction int

const (
	// DirectionForward queries small repo to large repo.
	DirectionForward Direction = iota
	// DirectionBackward queries large repo to small repo.
	DirectionBackward
)

// OutcomeKind tags an Outcome.
type OutcomeKind int

const (
	// NotSyncCandidate: the commit is not suitable for syncing to the
	// target repo.
	NotSyncCandidate OutcomeKind = iota
	// RewrittenAs: a 1:1 semantic mapping, possibly rewritten to a new
	// id by the sync process.
	RewrittenAs
	// EquivalentWorkingCopyAncestor: the commit itself was elided; the
	// given commit has the same working copy.
	EquivalentWorkingCopyAncestor
)

// Candidate is one (commit, version) mapping candidate.
type Candidate struct {
	ID      hash.ID
	Version Version
}

// Outcome is the singular resolution of a cross-repo query.
type Outcome struct {
	Kind    OutcomeKind
	ID      hash.ID // unset for NotSyncCandidate
	Version Version
}

// PluralOutcome is the raw resolution, which may carry several
// RewrittenAs candidates.
type PluralOutcome struct {
	Kind       OutcomeKind
	Candidates []Candidate // RewrittenAs only
	ID         hash.ID     // EquivalentWorkingCopyAncestor only
	Version    Version     // NotSyncCandidate / EquivalentWorkingCopyAncestor
}

// MappingEntry is a row of the synced-commit mapping table. A row
// without a version is a data fault surfaced to the caller.
type MappingEntry struct {
	ID         hash.ID
	Version    Version
	HasVersion bool
}

// WorkingCopyEquivalence describes the working-copy mapping of a
// commit: either "no working copy in the target" or an equivalent
// ancestor.
type WorkingCopyEquivalence struct {
	NoWorkingCopy bool
	ID            hash.ID
	Version       Version
}

// Mapping is the synced-commit mapping store.
type Mapping interface {
	Get(ctx context.Context, srcRepo RepoID, srcID hash.ID, dstRepo RepoID) ([]MappingEntry, error)
	GetEquivalentWorkingCopy(ctx context.Context, srcRepo RepoID, srcID hash.ID, dstRepo RepoID) (*WorkingCopyEquivalence, error)
	GetLargeRepoCommitVersion(ctx context.Context, largeRepo RepoID, id hash.ID) (Version, bool, error)
}

// Config answers which small repos participate in a sync version.
type Config interface {
	SmallReposForVersion(largeRepo RepoID, version Version) ([]RepoID, error)
}

// CommitGraph answers ancestry questions in the target repo.
type CommitGraph interface {
	IsAncestor(ctx context.Context, ancestor, descendant hash.ID) (bool, error)
}

// Bookmarks resolves bookmark names in the target repo.
type Bookmarks interface {
	Get(ctx context.Context, name string) (hash.ID, bool, error)
}

// HintKind tags a candidate selection hint.
type HintKind int

const (
	// HintOnly requires the candidate list to have exactly one entry.
	HintOnly HintKind = iota
	// HintExact requires the candidate equal to the hint commit.
	HintExact
	// HintAncestorOfCommit selects the candidate that is an ancestor of
	// the hint commit.
	HintAncestorOfCommit
	// HintDescendantOfCommit selects the candidate that is a descendant
	// of the hint commit.
	HintDescendantOfCommit
	// HintAncestorOfBookmark and HintDescendantOfBookmark behave as
	// their commit counterparts if the bookmark exists, or as HintOnly
	// otherwise.
	HintAncestorOfBookmark
	HintDescendantOfBookmark
)

// Hint disambiguates multi-candidate mappings. It is a hint, not a
// requirement: a single candidate is returned unconditionally.
type Hint struct {
	Kind     HintKind
	ID       hash.ID
	Bookmark string
}

// String implements fmt.Stringer for logging.
func (h Hint) String() string {
	switch h.Kind {
	case HintOnly:
		return "Hint::Only"
	case HintExact:
		return fmt.Sprintf("Hint::Exact(%s)", h.ID)
	case HintAncestorOfCommit:
		return fmt.Sprintf("Hint::AncestorOfCommit(%s)", h.ID)
	case HintDescendantOfCommit:
		return fmt.Sprintf("Hint::DescendantOfCommit(%s)", h.ID)
	case HintAncestorOfBookmark:
		return fmt.Sprintf("Hint::AncestorOfBookmark(%s)", h.Bookmark)
	case HintDescendantOfBookmark:
		return fmt.Sprintf("Hint::DescendantOfBookmark(%s)", h.Bookmark)
	default:
		return "Hint::Unknown"
	}
}
