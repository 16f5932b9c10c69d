package repopath

import (
	"errors"
	"testing"
)

func TestNewElemValidation(t *testing.T) {
	valid := []string{"a", "file.txt", "with space", "répertoire", ".."}
	for _, name := range valid {
		if _, err := NewElem(name); err != nil {
			t.Errorf("NewElem(%q) failed: %v", name, err)
		}
	}

	invalid := []string{"", "a/b", "a\x00b", "a\x01b", "a\nb"}
	for _, name := range invalid {
		_, err := NewElem(name)
		if err == nil {
			t.Errorf("NewElem(%q) should have failed", name)
			continue
		}
		var pathErr *InvalidPathError
		if !errors.As(err, &pathErr) {
			t.Errorf("NewElem(%q) returned %T, want *InvalidPathError", name, err)
		}
	}
}

func TestNewPath(t *testing.T) {
	p, err := New("a/b/c")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if p.NumComponents() != 3 {
		t.Errorf("expected 3 components, got %d", p.NumComponents())
	}
	if p.String() != "a/b/c" {
		t.Errorf("round trip mismatch: %q", p.String())
	}

	if _, err := New(""); err == nil {
		t.Error("empty path should fail")
	}
	if _, err := New("a//b"); err == nil {
		t.Error("path with empty element should fail")
	}
}

func TestJoinAndSplit(t *testing.T) {
	p, _ := New("a/b")
	e, _ := NewElem("c")
	joined := p.Join(e)
	if joined.String() != "a/b/c" {
		t.Errorf("join produced %q", joined.String())
	}
	// Join must not mutate the receiver.
	if p.String() != "a/b" {
		t.Errorf("join mutated receiver: %q", p.String())
	}

	dir, base := joined.SplitDirname()
	if dir == nil || dir.String() != "a/b" {
		t.Errorf("split dirname produced %v", dir)
	}
	if base.String() != "c" {
		t.Errorf("split basename produced %q", base)
	}

	single, _ := New("only")
	dir, base = single.SplitDirname()
	if dir != nil {
		t.Errorf("single element path has dirname %v", dir)
	}
	if base.String() != "only" {
		t.Errorf("single element basename %q", base)
	}
}

func TestCommonComponentsAndPrefix(t *testing.T) {
	a, _ := New("x/y/z")
	b, _ := New("x/y/q")
	if n := a.CommonComponents(b); n != 2 {
		t.Errorf("common components = %d, want 2", n)
	}

	prefix, _ := New("x/y")
	if !prefix.IsPrefixOf(a) {
		t.Error("x/y should be a prefix of x/y/z")
	}
	if a.IsPrefixOf(prefix) {
		t.Error("x/y/z should not be a prefix of x/y")
	}
	// Element-wise, not byte-wise: "x/yy" is not extended by "x/y".
	yy, _ := New("x/yy")
	if prefix.IsPrefixOf(yy) {
		t.Error("x/y should not be a prefix of x/yy")
	}

	rest, err := a.StripPrefix(prefix)
	if err != nil {
		t.Fatalf("strip prefix failed: %v", err)
	}
	if rest == nil || rest.String() != "z" {
		t.Errorf("strip prefix produced %v", rest)
	}
	same, err := a.StripPrefix(a)
	if err != nil || same != nil {
		t.Errorf("stripping self should produce nil, got %v, %v", same, err)
	}
	if _, err := prefix.StripPrefix(a); err == nil {
		t.Error("stripping a non-prefix should fail")
	}
}

func TestPathHashDeterministic(t *testing.T) {
	a1, _ := New("some/deep/path.txt")
	a2, _ := New("some/deep/path.txt")
	b, _ := New("some/deep/other.txt")

	if a1.Hash() != a2.Hash() {
		t.Error("equal paths must hash equal")
	}
	if a1.Hash() == b.Hash() {
		t.Error("distinct paths should hash differently")
	}
}

func TestEnsureConflictFree(t *testing.T) {
	mk := func(s string) Path {
		p, err := New(s)
		if err != nil {
			t.Fatalf("New(%q): %v", s, err)
		}
		return p
	}

	if err := EnsureConflictFree([]Path{mk("a/b"), mk("a/c"), mk("d")}); err != nil {
		t.Errorf("disjoint paths flagged: %v", err)
	}

	err := EnsureConflictFree([]Path{mk("a/b/c"), mk("d"), mk("a/b")})
	if err == nil {
		t.Fatal("prefix pair not flagged")
	}
	var conflictErr *NotPathConflictFreeError
	if !errors.As(err, &conflictErr) {
		t.Fatalf("wrong error type %T", err)
	}
	if conflictErr.A.String() != "a/b" || conflictErr.B.String() != "a/b/c" {
		t.Errorf("wrong conflict pair: %q, %q", conflictErr.A.String(), conflictErr.B.String())
	}

	// Byte-order neighbors that are not element prefixes must pass.
	if err := EnsureConflictFree([]Path{mk("a/b"), mk("a/b!x"), mk("a/bc")}); err != nil {
		t.Errorf("non-prefix neighbors flagged: %v", err)
	}
}
