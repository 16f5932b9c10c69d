package augmented

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/treestore/treestore/internal/hash"
	"github.com/treestore/treestore/internal/manifest"
	"github.com/treestore/treestore/internal/repopath"
	"github.com/treestore/treestore/internal/store"
)

const sampleTree = "v1 1111111111111111111111111111111111111111 - 2222222222222222222222222222222222222222 3333333333333333333333333333333333333333\n" +
	"a.rs\x004444444444444444444444444444444444444444r 4444444444444444444444444444444444444444444444444444444444444444 10 4444444444444444444444444444444444444444 -\n" +
	"b.rs\x002222222222222222222222222222222222222222r 2222222222222222222222222222222222222222222222222222222222222222 1000 2121212121212121212121212121212121212121 -\n" +
	"dir_1\x003333333333333333333333333333333333333333t 3333333333333333333333333333333333333333333333333333333333333333 10\n" +
	"dir_2\x001111111111111111111111111111111111111111t 1111111111111111111111111111111111111111111111111111111111111111 10000\n"

func TestDeserializeSampleTree(t *testing.T) {
	tree, err := Deserialize(bufio.NewReader(strings.NewReader(sampleTree)))
	require.NoError(t, err)

	require.Len(t, tree.Entries, 4)
	require.Equal(t, "1111111111111111111111111111111111111111", tree.ID.Hex())
	require.True(t, tree.ComputedID.IsNull())
	require.Equal(t, "2222222222222222222222222222222222222222", tree.P1.Hex())
	require.Equal(t, "3333333333333333333333333333333333333333", tree.P2.Hex())

	file, ok := tree.Entries[0].Node.(*FileNode)
	require.True(t, ok)
	require.Equal(t, manifest.Regular, file.FileType)
	require.EqualValues(t, 10, file.TotalSize)
	require.Nil(t, file.HeaderMetadata)

	dir, ok := tree.Entries[2].Node.(*DirNode)
	require.True(t, ok)
	require.EqualValues(t, 10, dir.AugmentedSize)

	var flat bytes.Buffer
	require.NoError(t, tree.FlatBlob(&flat))
	want := "a.rs\x004444444444444444444444444444444444444444\n" +
		"b.rs\x002222222222222222222222222222222222222222\n" +
		"dir_1\x003333333333333333333333333333333333333333t\n" +
		"dir_2\x001111111111111111111111111111111111111111t\n"
	require.Equal(t, want, flat.String())
	require.Equal(t, flat.Len(), tree.FlatBlobSize())
}

func TestSerializeRoundTrip(t *testing.T) {
	tree, err := Deserialize(bufio.NewReader(strings.NewReader(sampleTree)))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, tree.Serialize(&out))
	require.Equal(t, sampleTree, out.String())

	reparsed, err := Deserialize(bufio.NewReader(bytes.NewReader(out.Bytes())))
	require.NoError(t, err)
	require.Equal(t, tree, reparsed)
}

func TestHeaderMetadataBase64(t *testing.T) {
	id := strings.Repeat("ab", 20)
	b3 := strings.Repeat("cd", 32)
	// "copy" encodes to "Y29weQ==": exercise both padded and unpadded
	// decoding.
	for _, b64 := range []string{"Y29weQ==", "Y29weQ"} {
		input := "v1 " + id + " - - -\n" +
			"f\x00" + id + "r " + b3 + " 4 " + id + " " + b64 + "\n"
		tree, err := Deserialize(bufio.NewReader(strings.NewReader(input)))
		require.NoError(t, err, "input %q", b64)
		file := tree.Entries[0].Node.(*FileNode)
		require.Equal(t, []byte("copy"), file.HeaderMetadata)
	}
}

func TestDigestStable(t *testing.T) {
	tree, err := Deserialize(bufio.NewReader(strings.NewReader(sampleTree)))
	require.NoError(t, err)

	d1, err := tree.Digest()
	require.NoError(t, err)
	d2, err := tree.Digest()
	require.NoError(t, err)
	require.Equal(t, d1, d2)
	require.EqualValues(t, len(sampleTree), d1.Size)

	// The digest covers the serialized bytes: any change moves it.
	tree.Entries = tree.Entries[:3]
	d3, err := tree.Digest()
	require.NoError(t, err)
	require.NotEqual(t, d1.Hash, d3.Hash)
}

func TestSubmoduleRejected(t *testing.T) {
	elem := mustElem(t, "sub")
	tree := &Tree{
		ID: hash.ID{1},
		Entries: []TreeEntry{{Name: elem, Node: &FileNode{
			FileType: manifest.Submodule,
			Filenode: hash.ID{2},
		}}},
	}
	var buf bytes.Buffer
	err := tree.Serialize(&buf)
	require.Error(t, err)
	var invalid *InvalidBonsaiError
	require.ErrorAs(t, err, &invalid)
}

func TestWithDigestRoundTrip(t *testing.T) {
	tree, err := Deserialize(bufio.NewReader(strings.NewReader(sampleTree)))
	require.NoError(t, err)
	digest, err := tree.Digest()
	require.NoError(t, err)

	withDigest := &TreeWithDigest{Digest: digest, Tree: tree}
	blob, err := withDigest.Bytes()
	require.NoError(t, err)

	// Header only.
	gotDigest, err := DeserializeDigest(bufio.NewReader(bytes.NewReader(blob)))
	require.NoError(t, err)
	require.Equal(t, digest, gotDigest)

	// Full blob.
	reparsed, err := DeserializeWithDigest(bufio.NewReader(bytes.NewReader(blob)))
	require.NoError(t, err)
	require.Equal(t, digest, reparsed.Digest)
	require.Equal(t, tree, reparsed.Tree)
}

func testDeriveStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir(), manifest.FormatHg, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func mustElem(t *testing.T, s string) repopath.Elem {
	t.Helper()
	e, err := repopath.NewElem(s)
	require.NoError(t, err)
	return e
}

func TestDeriveEndToEnd(t *testing.T) {
	s := testDeriveStore(t)
	deriver := NewDeriver(s, zerolog.Nop())

	content := []byte("hello augmented world")
	fileID, err := s.PutSHA1(manifest.FrameHg(content, hash.NullID, hash.NullID))
	require.NoError(t, err)

	treePayload := []byte("a.txt\x00" + fileID.Hex() + "\n")
	treeID, err := s.PutSHA1(manifest.FrameHg(treePayload, hash.NullID, hash.NullID))
	require.NoError(t, err)

	blob, err := deriver.Derive(treeID)
	require.NoError(t, err)
	require.NotNil(t, blob)

	parsed, err := DeserializeWithDigest(bufio.NewReader(bytes.NewReader(blob)))
	require.NoError(t, err)
	require.Equal(t, treeID, parsed.Tree.ID)
	require.True(t, parsed.Tree.P1.IsNull())
	require.Len(t, parsed.Tree.Entries, 1)

	file := parsed.Tree.Entries[0].Node.(*FileNode)
	require.Equal(t, fileID, file.Filenode)
	require.Equal(t, hash.SumSHA1(content), file.ContentSHA1)
	require.EqualValues(t, len(content), file.TotalSize)
	require.Nil(t, file.HeaderMetadata)

	// The digest in the header matches a recomputation.
	digest, err := parsed.Tree.Digest()
	require.NoError(t, err)
	require.Equal(t, digest, parsed.Digest)

	// A second derivation returns the cached blob.
	again, err := deriver.Derive(treeID)
	require.NoError(t, err)
	require.Equal(t, blob, again)

	// The file is locatable by its content digest.
	aux := ComputeFileAux(content)
	fromCAS, err := s.GetCAS(aux.CasDigest())
	require.NoError(t, err)
	require.Equal(t, content, fromCAS)

	// So is the tree, with its digest header stripped.
	fromCAS, err = s.GetCAS(digest)
	require.NoError(t, err)
	var treeBody bytes.Buffer
	require.NoError(t, parsed.Tree.Serialize(&treeBody))
	require.Equal(t, treeBody.Bytes(), fromCAS)
}

func TestDeriveNestedTrees(t *testing.T) {
	s := testDeriveStore(t)
	deriver := NewDeriver(s, zerolog.Nop())

	content := []byte("nested file")
	fileID, err := s.PutSHA1(manifest.FrameHg(content, hash.NullID, hash.NullID))
	require.NoError(t, err)
	subPayload := []byte("leaf\x00" + fileID.Hex() + "\n")
	subID, err := s.PutSHA1(manifest.FrameHg(subPayload, hash.NullID, hash.NullID))
	require.NoError(t, err)
	rootPayload := []byte("sub\x00" + subID.Hex() + "t\n")
	rootID, err := s.PutSHA1(manifest.FrameHg(rootPayload, hash.NullID, hash.NullID))
	require.NoError(t, err)

	blob, err := deriver.Derive(rootID)
	require.NoError(t, err)
	require.NotNil(t, blob)

	parsed, err := DeserializeWithDigest(bufio.NewReader(bytes.NewReader(blob)))
	require.NoError(t, err)
	dir := parsed.Tree.Entries[0].Node.(*DirNode)
	require.Equal(t, subID, dir.Treenode)

	// The recorded child digest matches the child's own stored blob.
	subBlob, err := s.GetAugmented(subID)
	require.NoError(t, err)
	require.NotNil(t, subBlob)
	subDigest, err := DeserializeDigest(bufio.NewReader(bytes.NewReader(subBlob)))
	require.NoError(t, err)
	require.Equal(t, dir.AugmentedID, subDigest.Hash)
	require.Equal(t, dir.AugmentedSize, subDigest.Size)
}

func TestDeriveMissingInputs(t *testing.T) {
	s := testDeriveStore(t)
	deriver := NewDeriver(s, zerolog.Nop())

	// Unknown tree id: nothing to derive from.
	missing, _ := hash.IDFromHex("00000000000000000000000000000000000000ff")
	blob, err := deriver.Derive(missing)
	require.NoError(t, err)
	require.Nil(t, blob)

	// Tree referencing an absent file: derivation is recoverable, not
	// an error.
	absent, _ := hash.IDFromHex("1111111111111111111111111111111111111100")
	payload := []byte("gone\x00" + absent.Hex() + "\n")
	treeID, err := s.PutSHA1(manifest.FrameHg(payload, hash.NullID, hash.NullID))
	require.NoError(t, err)
	blob, err = deriver.Derive(treeID)
	require.NoError(t, err)
	require.Nil(t, blob)

	// Once the file arrives (stored under the referenced id),
	// derivation succeeds.
	require.NoError(t, s.PutArbitrary(absent, manifest.FrameHg([]byte("arrived"), hash.NullID, hash.NullID)))
	blob, err = deriver.Derive(treeID)
	require.NoError(t, err)
	require.NotNil(t, blob)
}

func TestFileMetadataCarriedIntoAugmentedEntry(t *testing.T) {
	s := testDeriveStore(t)
	deriver := NewDeriver(s, zerolog.Nop())

	raw := []byte("file body")
	header := []byte("\x01\ncopy: old/name\x01\n")
	fileID, err := s.PutSHA1(manifest.FrameHg(manifest.JoinFileMetadata(raw, header), hash.NullID, hash.NullID))
	require.NoError(t, err)
	payload := []byte("moved\x00" + fileID.Hex() + "\n")
	treeID, err := s.PutSHA1(manifest.FrameHg(payload, hash.NullID, hash.NullID))
	require.NoError(t, err)

	blob, err := deriver.Derive(treeID)
	require.NoError(t, err)
	parsed, err := DeserializeWithDigest(bufio.NewReader(bytes.NewReader(blob)))
	require.NoError(t, err)

	file := parsed.Tree.Entries[0].Node.(*FileNode)
	require.Equal(t, header, file.HeaderMetadata)
	// Aux data covers the raw payload only.
	require.Equal(t, hash.SumSHA1(raw), file.ContentSHA1)
	require.EqualValues(t, len(raw), file.TotalSize)
}
