// Package repopath implements validated repository paths.
//
// A path is a non-empty ordered sequence of elements. Elements are opaque
// byte strings that may not be empty and may not contain NUL, 0x01, '/',
// or '\n'. Those bytes are all load-bearing in the wire formats: names are
// NUL-terminated in tree blobs, entries are newline-separated, and 0x01
// frames file header metadata.
package repopath

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// InvalidPathError reports a path or element that failed validation.
type InvalidPathError struct {
	Path   string
	Reason string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("invalid path %q: %s", e.Path, e.Reason)
}

// Elem is a single validated path component.
type Elem struct {
	s string
}

// NewElem validates and constructs a path element.
func NewElem(s string) (Elem, error) {
	if err := verifyElem(s); err != nil {
		return Elem{}, err
	}
	return Elem{s: s}, nil
}

func verifyElem(s string) error {
	if s == "" {
		return &InvalidPathError{Path: s, Reason: "path elements cannot be empty"}
	}
	for _, forbidden := range []struct {
		b      byte
		reason string
	}{
		{0, `path elements cannot contain '\0'`},
		{1, `path elements cannot contain '\x01'`},
		{'/', `path elements cannot contain '/'`},
		{'\n', `path elements cannot contain '\n'`},
	} {
		if strings.IndexByte(s, forbidden.b) >= 0 {
			return &InvalidPathError{Path: s, Reason: forbidden.reason}
		}
	}
	return nil
}

// String returns the element as a string.
func (e Elem) String() string { return e.s }

// Bytes returns the element as bytes.
func (e Elem) Bytes() []byte { return []byte(e.s) }

// Len returns the element length in bytes.
func (e Elem) Len() int { return len(e.s) }

// Less reports whether e sorts before other in byte order. Tree blob
// entries are emitted in this order.
func (e Elem) Less(other Elem) bool { return e.s < other.s }

// Path is a non-empty sequence of elements. The zero value is not a valid
// path; construct through New, FromElems, or Join.
type Path struct {
	elems []Elem
}

// New parses a '/'-separated path string.
func New(s string) (Path, error) {
	if s == "" {
		return Path{}, &InvalidPathError{Path: s, Reason: "paths cannot be empty"}
	}
	parts := strings.Split(s, "/")
	elems := make([]Elem, 0, len(parts))
	for _, part := range parts {
		e, err := NewElem(part)
		if err != nil {
			return Path{}, &InvalidPathError{Path: s, Reason: err.(*InvalidPathError).Reason}
		}
		elems = append(elems, e)
	}
	return Path{elems: elems}, nil
}

// FromElems builds a path from one or more elements.
func FromElems(elems ...Elem) (Path, error) {
	if len(elems) == 0 {
		return Path{}, &InvalidPathError{Path: "", Reason: "paths cannot be empty"}
	}
	out := make([]Elem, len(elems))
	copy(out, elems)
	return Path{elems: out}, nil
}

// Elems returns the path's elements. The returned slice must not be
// mutated.
func (p Path) Elems() []Elem { return p.elems }

// NumComponents returns the number of elements in the path.
func (p Path) NumComponents() int { return len(p.elems) }

// String joins the elements with '/'.
func (p Path) String() string {
	var b strings.Builder
	for i, e := range p.elems {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(e.s)
	}
	return b.String()
}

// Bytes returns the wire encoding of the path: elements joined by '/'.
func (p Path) Bytes() []byte { return []byte(p.String()) }

// Equal reports element-wise equality.
func (p Path) Equal(other Path) bool {
	if len(p.elems) != len(other.elems) {
		return false
	}
	for i := range p.elems {
		if p.elems[i] != other.elems[i] {
			return false
		}
	}
	return true
}

// Join appends elements to the path, returning a new path.
func (p Path) Join(elems ...Elem) Path {
	out := make([]Elem, 0, len(p.elems)+len(elems))
	out = append(out, p.elems...)
	out = append(out, elems...)
	return Path{elems: out}
}

// JoinPath concatenates two paths.
func (p Path) JoinPath(other Path) Path {
	return p.Join(other.elems...)
}

// SplitDirname splits the path into its directory prefix and basename.
// The prefix is nil for a single-element path.
func (p Path) SplitDirname() (*Path, Elem) {
	last := p.elems[len(p.elems)-1]
	if len(p.elems) == 1 {
		return nil, last
	}
	dir := Path{elems: p.elems[:len(p.elems)-1]}
	return &dir, last
}

// Basename returns the final element of the path.
func (p Path) Basename() Elem {
	return p.elems[len(p.elems)-1]
}

// CommonComponents returns the number of leading elements shared with
// other.
func (p Path) CommonComponents(other Path) int {
	n := 0
	for n < len(p.elems) && n < len(other.elems) && p.elems[n] == other.elems[n] {
		n++
	}
	return n
}

// IsPrefixOf reports whether every element of p is a leading element of
// other. A path is a prefix of itself.
func (p Path) IsPrefixOf(other Path) bool {
	return p.CommonComponents(other) == len(p.elems)
}

// StripPrefix removes a leading prefix from the path. It returns nil if
// the paths are equal, and an error if prefix is not actually a prefix.
func (p Path) StripPrefix(prefix Path) (*Path, error) {
	if !prefix.IsPrefixOf(p) {
		return nil, fmt.Errorf("%q is not a prefix of %q", prefix.String(), p.String())
	}
	rest := p.elems[len(prefix.elems):]
	if len(rest) == 0 {
		return nil, nil
	}
	out := Path{elems: rest}
	return &out, nil
}

// pathHashKey keys the path hash so it cannot collide with other BLAKE2
// uses of path bytes. It must stay stable across all producers.
var pathHashKey = []byte("pathhash")

// Hash returns the deterministic keyed-BLAKE2b hash of the path's wire
// encoding.
func (p Path) Hash() [32]byte {
	h, err := blake2b.New256(pathHashKey)
	if err != nil {
		panic(err) // key length is a compile-time constant
	}
	h.Write(p.Bytes())
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// NotPathConflictFreeError reports two changed paths where one is a
// prefix of the other.
type NotPathConflictFreeError struct {
	A Path
	B Path
}

func (e *NotPathConflictFreeError) Error() string {
	return fmt.Sprintf("paths are not conflict-free: %q is a prefix of %q", e.A.String(), e.B.String())
}

// EnsureConflictFree verifies that no path in the set is a proper prefix
// of another. Such a set cannot describe a consistent tree mutation: a
// path cannot be both a file and a directory.
func EnsureConflictFree(paths []Path) error {
	sorted := make([]Path, len(paths))
	copy(sorted, paths)
	sort.Slice(sorted, func(i, j int) bool {
		return lessElems(sorted[i].elems, sorted[j].elems)
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].IsPrefixOf(sorted[i]) && !sorted[i-1].Equal(sorted[i]) {
			return &NotPathConflictFreeError{A: sorted[i-1], B: sorted[i]}
		}
	}
	return nil
}

// lessElems orders element-wise, so that a path sorts immediately before
// any path it is a proper prefix of.
func lessElems(a, b []Elem) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i].s < b[i].s
		}
	}
	return len(a) < len(b)
}
