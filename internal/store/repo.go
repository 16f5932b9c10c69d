package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/treestore/treestore/internal/hash"
	"github.com/treestore/treestore/internal/manifest"
)

// DotDir is the metadata directory name inside a repo.
const DotDir = ".ts"

// On-disk layout inside the dot dir. The commit graph, metalog, and
// mutation log directories belong to external collaborators; only the
// content store and requires files are managed here.
const (
	storeSubdir = "store"
	blobsSubdir = "hgcommits/v1"
)

var workingCopyRequires = []string{"store", "treestate", "windowssymlinks"}

var storeRequiresBase = []string{
	"narrowheads", "visibleheads", "segmentedchangelog", "eagerepo", "invalidatelinkrev",
}

// Tokens this implementation understands at each level. Anything else in
// a requires file makes the repo unreadable for us.
var (
	supportedWorkingCopyTokens = tokenSet(workingCopyRequires)
	supportedStoreTokens       = tokenSet(append(append([]string{}, storeRequiresBase...), "git", "eagercompat"))
)

func tokenSet(tokens []string) map[string]bool {
	m := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		m[t] = true
	}
	return m
}

// Repo is a content store inside a repository directory, together with
// the feature metadata that gates access to it.
type Repo struct {
	dir    string
	store  *Store
	format manifest.Format
	logger zerolog.Logger

	bookmarkMu sync.Mutex
}

// InitRepo creates a repo at dir with the given framing, writing the
// requires files, and opens it.
func InitRepo(dir string, format manifest.Format, logger zerolog.Logger) (*Repo, error) {
	dotDir := filepath.Join(dir, DotDir)
	storeDir := filepath.Join(dotDir, storeSubdir)
	if err := os.MkdirAll(storeDir, 0o755); err != nil {
		return nil, fmt.Errorf("create repo layout: %w", err)
	}
	if err := writeRequires(dotDir, workingCopyRequires); err != nil {
		return nil, err
	}
	storeTokens := append([]string{}, storeRequiresBase...)
	if format == manifest.FormatGit {
		storeTokens = append(storeTokens, "git")
	}
	if err := writeRequires(storeDir, storeTokens); err != nil {
		return nil, err
	}
	return OpenRepo(dir, logger)
}

// OpenRepo opens an existing repo, validating its requires files. The
// framing mode is read from the store requires ("git" selects GIT
// framing).
func OpenRepo(dir string, logger zerolog.Logger) (*Repo, error) {
	dotDir := filepath.Join(dir, DotDir)
	storeDir := filepath.Join(dotDir, storeSubdir)

	if err := checkRequires(dotDir, supportedWorkingCopyTokens, []string{"store"}); err != nil {
		return nil, err
	}
	storeTokens, err := checkRequiresRead(storeDir, supportedStoreTokens, []string{"eagerepo"})
	if err != nil {
		return nil, err
	}

	format := manifest.FormatHg
	if storeTokens["git"] {
		format = manifest.FormatGit
	}

	blobDir := filepath.Join(storeDir, blobsSubdir)
	s, err := Open(blobDir, format, logger)
	if err != nil {
		return nil, err
	}
	return &Repo{dir: dir, store: s, format: format, logger: logger}, nil
}

func writeRequires(dir string, tokens []string) error {
	path := filepath.Join(dir, "requires")
	content := strings.Join(tokens, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write requires: %w", err)
	}
	return nil
}

func readRequires(dir string) (map[string]bool, error) {
	path := filepath.Join(dir, "requires")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{}, nil
		}
		return nil, fmt.Errorf("read requires: %w", err)
	}
	return tokenSet(strings.Fields(string(data))), nil
}

func checkRequires(dir string, supported map[string]bool, needed []string) error {
	_, err := checkRequiresRead(dir, supported, needed)
	return err
}

func checkRequiresRead(dir string, supported map[string]bool, needed []string) (map[string]bool, error) {
	found, err := readRequires(dir)
	if err != nil {
		return nil, err
	}
	var unsupported, missing []string
	for token := range found {
		if !supported[token] {
			unsupported = append(unsupported, token)
		}
	}
	for _, token := range needed {
		if !found[token] {
			missing = append(missing, token)
		}
	}
	if len(unsupported) > 0 || len(missing) > 0 {
		sort.Strings(unsupported)
		sort.Strings(missing)
		return nil, &RequirementsMismatchError{
			Path:        filepath.Join(dir, "requires"),
			Unsupported: unsupported,
			Missing:     missing,
		}
	}
	return found, nil
}

// Store returns the underlying content store.
func (r *Repo) Store() *Store {
	return r.store
}

// Format returns the repo's framing mode.
func (r *Repo) Format() manifest.Format {
	return r.format
}

// Dir returns the repository directory.
func (r *Repo) Dir() string {
	return r.dir
}

// AddCommit frames and stores a commit blob, then validates that every
// tree and file the commit references is present. Missing paths fail
// the insert with CommitMissingPathsError; the blob itself remains
// stored, matching the insert-only store contract.
func (r *Repo) AddCommit(parents []hash.ID, text []byte) (hash.ID, error) {
	var framed []byte
	switch r.format {
	case manifest.FormatGit:
		framed = manifest.FrameGit(text, "commit")
	default:
		p1, p2 := hash.NullID, hash.NullID
		if len(parents) > 0 {
			p1 = parents[0]
		}
		if len(parents) > 1 {
			p2 = parents[1]
		}
		framed = manifest.FrameHg(text, p1, p2)
	}
	id, err := r.store.PutSHA1(framed)
	if err != nil {
		return hash.NullID, err
	}

	treeID, err := rootTreeID(text, r.format)
	if err != nil {
		// Not every commit text carries a resolvable tree reference;
		// store it without validation, as a bare content write.
		r.logger.Debug().Err(err).Str("commit", id.Hex()).Msg("commit has no root tree reference")
		return id, nil
	}

	var missing []string
	if err := r.findMissingReferences(treeID, manifest.FlagDir, "", &missing); err != nil {
		return hash.NullID, err
	}
	if len(missing) > 0 {
		return hash.NullID, &CommitMissingPathsError{Commit: id, Tree: treeID, Paths: missing}
	}
	return id, nil
}

// rootTreeID extracts the root tree id from commit text. HG commit text
// starts with the manifest hex on its first line; GIT commit text starts
// with a "tree <hex>" line.
func rootTreeID(text []byte, format manifest.Format) (hash.ID, error) {
	line := string(text)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	if format == manifest.FormatGit {
		rest, ok := strings.CutPrefix(line, "tree ")
		if !ok {
			return hash.NullID, fmt.Errorf("commit text has no tree line")
		}
		return hash.IDFromHex(rest)
	}
	return hash.IDFromHex(line)
}

// findMissingReferences walks the tree rooted at id and appends the
// paths of absent blobs to missing. Submodule references cannot be
// checked and are skipped.
func (r *Repo) findMissingReferences(id hash.ID, flag manifest.Flag, path string, missing *[]string) error {
	if flag == manifest.FlagSubmodule {
		return nil
	}
	content, err := r.store.GetContent(id)
	if err != nil {
		return err
	}
	if content == nil {
		if path == "" {
			path = "."
		}
		*missing = append(*missing, path)
		return nil
	}
	if !flag.IsDir() {
		return nil
	}
	tree, err := manifest.ParseTree(content)
	if err != nil {
		return fmt.Errorf("tree %s: %w", id, err)
	}
	for _, el := range tree.Elements {
		childPath := el.Name.String()
		if path != "" {
			childPath = path + "/" + childPath
		}
		if err := r.findMissingReferences(el.ID, el.Flag, childPath, missing); err != nil {
			return err
		}
	}
	return nil
}

// bookmarksPath is the bookmark metadata file inside the store dir.
func (r *Repo) bookmarksPath() string {
	return filepath.Join(r.dir, DotDir, storeSubdir, "bookmarks")
}

// Bookmarks returns the bookmark map, name to commit id.
func (r *Repo) Bookmarks() (map[string]hash.ID, error) {
	data, err := os.ReadFile(r.bookmarksPath())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]hash.ID{}, nil
		}
		return nil, fmt.Errorf("read bookmarks: %w", err)
	}
	out := map[string]hash.ID{}
	for _, line := range strings.Split(string(data), "\n") {
		words := strings.Fields(line)
		if len(words) != 2 {
			continue
		}
		id, err := hash.IDFromHex(words[0])
		if err != nil {
			continue
		}
		out[words[1]] = id
	}
	return out, nil
}

// GetBookmark returns the commit id of a bookmark, or the null id if it
// does not exist.
func (r *Repo) GetBookmark(name string) (hash.ID, bool, error) {
	bookmarks, err := r.Bookmarks()
	if err != nil {
		return hash.NullID, false, err
	}
	id, ok := bookmarks[name]
	return id, ok, nil
}

// SetBookmark updates or removes (id == NullID) a single bookmark. The
// target commit must be present in the store.
func (r *Repo) SetBookmark(name string, id hash.ID) error {
	r.bookmarkMu.Lock()
	defer r.bookmarkMu.Unlock()

	bookmarks, err := r.Bookmarks()
	if err != nil {
		return err
	}
	if id.IsNull() {
		delete(bookmarks, name)
	} else {
		ok, err := r.store.Has(id)
		if err != nil {
			return err
		}
		if !ok {
			return &BookmarkMissingCommitError{Name: name, ID: id}
		}
		bookmarks[name] = id
	}

	names := make([]string, 0, len(bookmarks))
	for n := range bookmarks {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, n := range names {
		fmt.Fprintf(&b, "%s %s\n", bookmarks[n].Hex(), n)
	}
	if err := os.WriteFile(r.bookmarksPath(), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write bookmarks: %w", err)
	}
	return nil
}
