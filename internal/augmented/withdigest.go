package augmented

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/treestore/treestore/internal/hash"
)

// TreeWithDigest is an augmented tree together with its content digest,
// the form stored in the blob store and shipped to a remote CAS.
type TreeWithDigest struct {
	Digest hash.CasDigest
	Tree   *Tree
}

// Serialize prepends the digest header `hex(blake3) ' ' size '\n'` to
// the serialized tree.
func (t *TreeWithDigest) Serialize(w io.Writer) error {
	var buf bytes.Buffer
	buf.WriteString(t.Digest.Hash.Hex())
	buf.WriteByte(' ')
	buf.WriteString(strconv.FormatUint(t.Digest.Size, 10))
	buf.WriteByte('\n')
	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}
	return t.Tree.Serialize(w)
}

// Bytes serializes into a fresh buffer.
func (t *TreeWithDigest) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeserializeDigest reads just the digest header, leaving the reader
// positioned at the tree body. This is all a parent derivation needs
// from a child's augmented blob.
func DeserializeDigest(r *bufio.Reader) (hash.CasDigest, error) {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return hash.CasDigest{}, fmt.Errorf("augmented tree: missing digest header: %w", err)
	}
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return hash.CasDigest{}, fmt.Errorf("augmented tree: malformed digest header %q", line)
	}
	id, err := hash.Blake3FromHex(fields[0])
	if err != nil {
		return hash.CasDigest{}, fmt.Errorf("augmented tree: digest id: %w", err)
	}
	size, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return hash.CasDigest{}, fmt.Errorf("augmented tree: digest size: %w", err)
	}
	return hash.CasDigest{Hash: id, Size: size}, nil
}

// DeserializeWithDigest parses a full digest-headed augmented blob.
func DeserializeWithDigest(r *bufio.Reader) (*TreeWithDigest, error) {
	digest, err := DeserializeDigest(r)
	if err != nil {
		return nil, err
	}
	tree, err := Deserialize(r)
	if err != nil {
		return nil, err
	}
	return &TreeWithDigest{Digest: digest, Tree: tree}, nil
}
