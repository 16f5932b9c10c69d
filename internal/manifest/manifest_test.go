package manifest

import (
	"bytes"
	"testing"

	"github.com/treestore/treestore/internal/hash"
	"github.com/treestore/treestore/internal/repopath"
)

func elem(t *testing.T, s string) repopath.Elem {
	t.Helper()
	e, err := repopath.NewElem(s)
	if err != nil {
		t.Fatalf("NewElem(%q): %v", s, err)
	}
	return e
}

func TestTreeSerializeParseRoundTrip(t *testing.T) {
	tree := &Tree{Elements: []Element{
		{Name: elem(t, "zebra"), ID: hash.ID{1}, Flag: FlagFile},
		{Name: elem(t, "alpha"), ID: hash.ID{2}, Flag: FlagDir},
		{Name: elem(t, "beta.sh"), ID: hash.ID{3}, Flag: FlagExecutable},
		{Name: elem(t, "link"), ID: hash.ID{4}, Flag: FlagSymlink},
	}}

	serialized := tree.Serialize()
	parsed, err := ParseTree(serialized)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	// Entries come back in sorted order.
	wantOrder := []string{"alpha", "beta.sh", "link", "zebra"}
	for i, el := range parsed.Elements {
		if el.Name.String() != wantOrder[i] {
			t.Errorf("entry %d is %q, want %q", i, el.Name.String(), wantOrder[i])
		}
	}
	// parse(S).serialize() == S
	if !bytes.Equal(parsed.Serialize(), serialized) {
		t.Error("serialize(parse(S)) != S")
	}
}

func TestTreeSerializeWireFormat(t *testing.T) {
	id, _ := hash.IDFromHex("1111111111111111111111111111111111111111")
	tree := &Tree{Elements: []Element{
		{Name: elem(t, "dir"), ID: id, Flag: FlagDir},
		{Name: elem(t, "file"), ID: id, Flag: FlagFile},
	}}
	want := "dir\x001111111111111111111111111111111111111111t\n" +
		"file\x001111111111111111111111111111111111111111\n"
	if got := string(tree.Serialize()); got != want {
		t.Errorf("wire mismatch:\nwant %q\ngot  %q", want, got)
	}
}

func TestParseTreeErrors(t *testing.T) {
	cases := [][]byte{
		[]byte("noterminator"),
		[]byte("noseparator\n"),
		[]byte("name\x00tooshort\n"),
		[]byte("name\x001111111111111111111111111111111111111111q\n"),
	}
	for _, data := range cases {
		if _, err := ParseTree(data); err == nil {
			t.Errorf("ParseTree(%q) should have failed", data)
		}
	}
}

func TestHgFraming(t *testing.T) {
	payload := []byte("tree payload")
	p1, _ := hash.IDFromHex("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	p2, _ := hash.IDFromHex("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	framed := FrameHg(payload, p1, p2)
	// Parents are stored sorted: identity is order-independent.
	if !bytes.Equal(framed, FrameHg(payload, p2, p1)) {
		t.Error("framing must not depend on parent order")
	}

	gotP1, gotP2, gotPayload, err := SplitHg(framed)
	if err != nil {
		t.Fatalf("split failed: %v", err)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Errorf("payload mismatch: %q", gotPayload)
	}
	// Sorted storage: p2 slot holds the smaller id.
	if gotP2 != p2 || gotP1 != p1 {
		t.Errorf("parents mismatch: p1=%s p2=%s", gotP1, gotP2)
	}

	// A single parent pairs with the null id, which sorts first.
	single := FrameHg(payload, p1, hash.NullID)
	gotP1, gotP2, _, err = SplitHg(single)
	if err != nil {
		t.Fatalf("split failed: %v", err)
	}
	if gotP1 != p1 || !gotP2.IsNull() {
		t.Errorf("single parent mismatch: p1=%s p2=%s", gotP1, gotP2)
	}

	if _, _, _, err := SplitHg([]byte("short")); err == nil {
		t.Error("splitting a short blob should fail")
	}
}

func TestGitFraming(t *testing.T) {
	payload := []byte("blob body")
	framed := FrameGit(payload, "blob")
	if want := "blob 9\x00blob body"; string(framed) != want {
		t.Errorf("git framing produced %q, want %q", framed, want)
	}

	typ, gotPayload, err := SplitGit(framed)
	if err != nil {
		t.Fatalf("split failed: %v", err)
	}
	if typ != "blob" || !bytes.Equal(gotPayload, payload) {
		t.Errorf("split produced %q %q", typ, gotPayload)
	}

	if _, _, err := SplitGit([]byte("blob 3\x00toolong")); err == nil {
		t.Error("size mismatch should fail")
	}
	if _, _, err := SplitGit([]byte("noheader")); err == nil {
		t.Error("missing header terminator should fail")
	}
}

func TestSplitFileMetadata(t *testing.T) {
	plain := []byte("just content")
	raw, header := SplitFileMetadata(plain)
	if !bytes.Equal(raw, plain) || header != nil {
		t.Errorf("plain payload split to %q %q", raw, header)
	}

	withMeta := []byte("\x01\ncopy: a/b\ncopyrev: cafe\x01\nactual content")
	raw, header = SplitFileMetadata(withMeta)
	if !bytes.Equal(raw, []byte("actual content")) {
		t.Errorf("raw = %q", raw)
	}
	if !bytes.Equal(header, []byte("\x01\ncopy: a/b\ncopyrev: cafe\x01\n")) {
		t.Errorf("header = %q", header)
	}
	if !bytes.Equal(JoinFileMetadata(raw, header), withMeta) {
		t.Error("join(split(x)) != x")
	}

	// An unterminated envelope is treated as content.
	unterminated := []byte("\x01\nno closing delimiter")
	raw, header = SplitFileMetadata(unterminated)
	if !bytes.Equal(raw, unterminated) || header != nil {
		t.Errorf("unterminated split to %q %q", raw, header)
	}
}

func TestFlagMapping(t *testing.T) {
	for _, fileType := range []FileType{Regular, Executable, Symlink, Submodule} {
		flag := FlagForFileType(fileType)
		if flag.IsDir() {
			t.Errorf("file type %v mapped to dir flag", fileType)
		}
		if got := flag.FileType(); got != fileType {
			t.Errorf("flag round trip: %v -> %v", fileType, got)
		}
	}
}
