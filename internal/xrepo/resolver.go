package xrepo

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/treestore/treestore/internal/hash"
)

// Resolver answers cross-repo equivalence queries for one (source,
// target) repo pair.
type Resolver struct {
	srcRepo   RepoID
	dstRepo   RepoID
	direction Direction
	mapping   Mapping
	config    Config
	graph     CommitGraph
	bookmarks Bookmarks
	logger    zerolog.Logger
}

// NewResolver creates a resolver. graph and bookmarks belong to the
// target repo.
func NewResolver(srcRepo, dstRepo RepoID, direction Direction, mapping Mapping, config Config, graph CommitGraph, bookmarks Bookmarks, logger zerolog.Logger) *Resolver {
	return &Resolver{
		srcRepo:   srcRepo,
		dstRepo:   dstRepo,
		direction: direction,
		mapping:   mapping,
		config:    config,
		graph:     graph,
		bookmarks: bookmarks,
		logger:    logger,
	}
}

// GetPluralOutcome looks up the raw, possibly multi-candidate outcome
// for a source commit. Returns nil when the commit has no recorded
// relationship with the target repo.
func (r *Resolver) GetPluralOutcome(ctx context.Context, srcID hash.ID) (*PluralOutcome, error) {
	remapped, err := r.mapping.Get(ctx, r.srcRepo, srcID, r.dstRepo)
	if err != nil {
		return nil, err
	}
	if len(remapped) > 0 {
		candidates := make([]Candidate, len(remapped))
		for i, entry := range remapped {
			if !entry.HasVersion {
				return nil, fmt.Errorf(
					"no sync commit version specified for remapping of %s -> %s (source repo %d, target repo %d)",
					srcID, entry.ID, r.srcRepo, r.dstRepo)
			}
			candidates[i] = Candidate{ID: entry.ID, Version: entry.Version}
		}
		return &PluralOutcome{Kind: RewrittenAs, Candidates: candidates}, nil
	}

	equivalence, err := r.mapping.GetEquivalentWorkingCopy(ctx, r.srcRepo, srcID, r.dstRepo)
	if err != nil {
		return nil, err
	}
	if equivalence != nil {
		if equivalence.NoWorkingCopy {
			return &PluralOutcome{Kind: NotSyncCandidate, Version: equivalence.Version}, nil
		}
		return &PluralOutcome{
			Kind:    EquivalentWorkingCopyAncestor,
			ID:      equivalence.ID,
			Version: equivalence.Version,
		}, nil
	}

	if r.direction == DirectionBackward {
		version, ok, err := r.mapping.GetLargeRepoCommitVersion(ctx, r.srcRepo, srcID)
		if err != nil {
			return nil, err
		}
		if ok {
			smallRepos, err := r.config.SmallReposForVersion(r.srcRepo, version)
			if err != nil {
				return nil, err
			}
			participates := false
			for _, repo := range smallRepos {
				if repo == r.dstRepo {
					participates = true
					break
				}
			}
			if !participates {
				return &PluralOutcome{Kind: NotSyncCandidate, Version: version}, nil
			}
		}
	}
	return nil, nil
}

// OutcomeExists reports whether the commit has any recorded outcome,
// including NotSyncCandidate and EquivalentWorkingCopyAncestor.
func (r *Resolver) OutcomeExists(ctx context.Context, srcID hash.ID) (bool, error) {
	plural, err := r.GetPluralOutcome(ctx, srcID)
	if err != nil {
		return false, err
	}
	return plural != nil, nil
}

// GetOutcome resolves a singular outcome, requiring at most one
// RewrittenAs candidate.
func (r *Resolver) GetOutcome(ctx context.Context, srcID hash.ID) (*Outcome, error) {
	return r.GetOutcomeWithHint(ctx, srcID, Hint{Kind: HintOnly})
}

// GetOutcomeWithHint resolves a singular outcome, using the hint to
// pick among multiple RewrittenAs candidates.
func (r *Resolver) GetOutcomeWithHint(ctx context.Context, srcID hash.ID, hint Hint) (*Outcome, error) {
	plural, err := r.GetPluralOutcome(ctx, srcID)
	if err != nil {
		return nil, err
	}
	if plural == nil {
		return nil, nil
	}

	relationship, err := r.desiredRelationship(ctx, hint)
	if err != nil {
		return nil, err
	}
	if relationship != nil {
		r.logger.Debug().Str("hint", hint.String()).Str("relationship", relationship.String()).
			Msg("hint converted into desired relationship")
	}
	return r.reduce(ctx, srcID, plural, relationship)
}

// desiredRelationship converts a hint into a topological relationship
// where one exists. A bookmark hint whose bookmark is missing is
// downgraded to nil (i.e. HintOnly semantics): the hint may be in use
// for bookmark creation or after deletion, and that must not hard-fail.
func (r *Resolver) desiredRelationship(ctx context.Context, hint Hint) (*desiredRelationship, error) {
	switch hint.Kind {
	case HintOnly:
		return nil, nil
	case HintExact:
		return &desiredRelationship{kind: relEqual, id: hint.ID}, nil
	case HintAncestorOfCommit:
		return &desiredRelationship{kind: relAncestorOf, id: hint.ID}, nil
	case HintDescendantOfCommit:
		return &desiredRelationship{kind: relDescendantOf, id: hint.ID}, nil
	case HintAncestorOfBookmark, HintDescendantOfBookmark:
		id, ok, err := r.bookmarks.Get(ctx, hint.Bookmark)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		kind := relAncestorOf
		if hint.Kind == HintDescendantOfBookmark {
			kind = relDescendantOf
		}
		return &desiredRelationship{kind: kind, id: id}, nil
	default:
		return nil, fmt.Errorf("unknown hint kind %d", hint.Kind)
	}
}

type relKind int

const (
	relEqual relKind = iota
	relAncestorOf
	relDescendantOf
)

type desiredRelationship struct {
	kind relKind
	id   hash.ID
}

func (d *desiredRelationship) String() string {
	switch d.kind {
	case relEqual:
		return fmt.Sprintf("EqualTo(%s)", d.id)
	case relAncestorOf:
		return fmt.Sprintf("AncestorOf(%s)", d.id)
	default:
		return fmt.Sprintf("DescendantOf(%s)", d.id)
	}
}

// holdsFor checks whether a candidate is in the desired relationship. A
// commit is both an ancestor and a descendant of itself.
func (d *desiredRelationship) holdsFor(ctx context.Context, graph CommitGraph, candidate hash.ID) (bool, error) {
	if candidate == d.id {
		return true, nil
	}
	switch d.kind {
	case relEqual:
		return false, nil
	case relAncestorOf:
		return graph.IsAncestor(ctx, candidate, d.id)
	default:
		return graph.IsAncestor(ctx, d.id, candidate)
	}
}

func (d *desiredRelationship) noneErr(srcID hash.ID, dstRepo RepoID) error {
	switch d.kind {
	case relAncestorOf:
		return fmt.Errorf("%s does not rewrite into any ancestor of %s in %d", srcID, d.id, dstRepo)
	case relDescendantOf:
		return fmt.Errorf("%s does not rewrite into any descendant of %s in %d", srcID, d.id, dstRepo)
	default:
		return fmt.Errorf("%s does not rewrite into %s in %d", srcID, d.id, dstRepo)
	}
}

func (d *desiredRelationship) multipleErr(srcID hash.ID, first, second hash.ID, dstRepo RepoID) error {
	switch d.kind {
	case relAncestorOf:
		return fmt.Errorf("%s rewrites into multiple ancestors of %s in %d: %s, %s (may be more)",
			srcID, d.id, dstRepo, first, second)
	case relDescendantOf:
		return fmt.Errorf("%s rewrites into multiple descendants of %s in %d: %s, %s (may be more)",
			srcID, d.id, dstRepo, first, second)
	default:
		return fmt.Errorf("%s rewrites into %s and %s, both equal to %s in %d",
			srcID, first, second, d.id, dstRepo)
	}
}

// reduce turns a plural outcome into a singular one. A single
// RewrittenAs candidate is returned unconditionally, even when it does
// not satisfy the relationship; with several, exactly one must survive
// the relationship filter.
func (r *Resolver) reduce(ctx context.Context, srcID hash.ID, plural *PluralOutcome, relationship *desiredRelationship) (*Outcome, error) {
	switch plural.Kind {
	case NotSyncCandidate:
		return &Outcome{Kind: NotSyncCandidate, Version: plural.Version}, nil
	case EquivalentWorkingCopyAncestor:
		return &Outcome{Kind: EquivalentWorkingCopyAncestor, ID: plural.ID, Version: plural.Version}, nil
	}

	candidates := plural.Candidates
	switch {
	case len(candidates) == 0:
		return nil, fmt.Errorf("programming error: RewrittenAs has empty payload for %s", srcID)
	case len(candidates) == 1:
		return &Outcome{Kind: RewrittenAs, ID: candidates[0].ID, Version: candidates[0].Version}, nil
	case relationship == nil:
		return nil, fmt.Errorf("too many rewritten candidates for %s: %s, %s (may be more)",
			srcID, candidates[0].ID, candidates[1].ID)
	}

	var surviving []Candidate
	for _, candidate := range candidates {
		ok, err := relationship.holdsFor(ctx, r.graph, candidate.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			surviving = append(surviving, candidate)
		}
	}
	switch len(surviving) {
	case 0:
		return nil, relationship.noneErr(srcID, r.dstRepo)
	case 1:
		return &Outcome{Kind: RewrittenAs, ID: surviving[0].ID, Version: surviving[0].Version}, nil
	default:
		return nil, relationship.multipleErr(srcID, surviving[0].ID, surviving[1].ID, r.dstRepo)
	}
}

// FilterByRelationship narrows a plural outcome's candidates to those
// in the given hint's relationship, leaving other outcome kinds
// untouched.
func (r *Resolver) FilterByRelationship(ctx context.Context, plural *PluralOutcome, hint Hint) (*PluralOutcome, error) {
	relationship, err := r.desiredRelationship(ctx, hint)
	if err != nil {
		return nil, err
	}
	if relationship == nil || plural.Kind != RewrittenAs {
		return plural, nil
	}
	out := &PluralOutcome{Kind: RewrittenAs}
	for _, candidate := range plural.Candidates {
		ok, err := relationship.holdsFor(ctx, r.graph, candidate.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Candidates = append(out.Candidates, candidate)
		}
	}
	return out, nil
}
