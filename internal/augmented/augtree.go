// Package augmented implements augmented manifests: trees annotated
// with per-file content metadata (SHA1, BLAKE3, size) and identified by
// a keyed-BLAKE3 digest suitable for publication to a remote CAS.
package augmented

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"

	"lukechampine.com/blake3"

	"github.com/treestore/treestore/internal/hash"
	"github.com/treestore/treestore/internal/manifest"
	"github.com/treestore/treestore/internal/repopath"
)

// digestKey keys every BLAKE3 digest in the augmented namespace. All
// producers and consumers of these digests must agree on it.
var digestKey = []byte("20220728-2357111317192329313741#")

// InvalidBonsaiError reports an input that cannot be represented in an
// augmented manifest.
type InvalidBonsaiError struct {
	Reason string
}

func (e *InvalidBonsaiError) Error() string {
	return "invalid bonsai: " + e.Reason
}

// FileNode is the augmented form of a file entry.
type FileNode struct {
	FileType       manifest.FileType
	Filenode       hash.ID
	ContentBlake3  hash.Blake3ID
	ContentSHA1    hash.ID
	TotalSize      uint64
	HeaderMetadata []byte
}

// DirNode is the augmented form of a directory entry: the child tree's
// id together with its augmented digest.
type DirNode struct {
	Treenode      hash.ID
	AugmentedID   hash.Blake3ID
	AugmentedSize uint64
}

// Node is either a *FileNode or a *DirNode.
type Node interface {
	isNode()
}

func (*FileNode) isNode() {}
func (*DirNode) isNode()  {}

// TreeEntry pairs an entry name with its augmented node.
type TreeEntry struct {
	Name repopath.Elem
	Node Node
}

// Tree is a fully derived augmented tree.
type Tree struct {
	// ID is the tree's manifest id. ComputedID, when not null, carries
	// the recomputed content hash for legacy root trees whose recorded
	// id differs from the hash of their flat manifest.
	ID         hash.ID
	ComputedID hash.ID
	P1, P2     hash.ID
	Entries    []TreeEntry
}

func writeOptionalID(w *bytes.Buffer, id hash.ID) {
	if id.IsNull() {
		w.WriteByte('-')
	} else {
		w.WriteString(id.Hex())
	}
}

// Serialize produces the exact wire bytes of the augmented tree:
//
//	header   = "v1 " hex(id) " " (hex(computed)|"-") " " (hex(p1)|"-") " " (hex(p2)|"-") "\n"
//	entry    = name "\0" hex(id) flag " " value "\n"
//	tree_val = hex(blake3) " " size
//	file_val = hex(blake3) " " size " " hex(sha1) " " (b64(hdr)|"-")
//
// Submodule entries cannot be represented and fail the serialization.
func (t *Tree) Serialize(w io.Writer) error {
	var buf bytes.Buffer
	buf.WriteString("v1 ")
	buf.WriteString(t.ID.Hex())
	buf.WriteByte(' ')
	writeOptionalID(&buf, t.ComputedID)
	buf.WriteByte(' ')
	writeOptionalID(&buf, t.P1)
	buf.WriteByte(' ')
	writeOptionalID(&buf, t.P2)
	buf.WriteByte('\n')
	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}

	for _, entry := range t.Entries {
		buf.Reset()
		buf.Write(entry.Name.Bytes())
		buf.WriteByte(0)
		switch n := entry.Node.(type) {
		case *FileNode:
			buf.WriteString(n.Filenode.Hex())
			switch n.FileType {
			case manifest.Regular:
				buf.WriteByte('r')
			case manifest.Executable:
				buf.WriteByte('x')
			case manifest.Symlink:
				buf.WriteByte('l')
			default:
				return &InvalidBonsaiError{Reason: "submodules not supported in augmented manifests"}
			}
			buf.WriteByte(' ')
			buf.WriteString(n.ContentBlake3.Hex())
			buf.WriteByte(' ')
			buf.WriteString(strconv.FormatUint(n.TotalSize, 10))
			buf.WriteByte(' ')
			buf.WriteString(n.ContentSHA1.Hex())
			buf.WriteByte(' ')
			if len(n.HeaderMetadata) == 0 {
				buf.WriteByte('-')
			} else {
				buf.WriteString(base64.StdEncoding.EncodeToString(n.HeaderMetadata))
			}
		case *DirNode:
			buf.WriteString(n.Treenode.Hex())
			buf.WriteString("t ")
			buf.WriteString(n.AugmentedID.Hex())
			buf.WriteByte(' ')
			buf.WriteString(strconv.FormatUint(n.AugmentedSize, 10))
		}
		buf.WriteByte('\n')
		if _, err := w.Write(buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// Digest computes the keyed-BLAKE3 content digest over the exact
// serialized bytes.
func (t *Tree) Digest() (hash.CasDigest, error) {
	hasher := blake3.New(hash.Blake3Len, digestKey)
	var size uint64
	if err := t.Serialize(countingWriter{hasher, &size}); err != nil {
		return hash.CasDigest{}, err
	}
	id, err := hash.Blake3FromBytes(hasher.Sum(nil))
	if err != nil {
		return hash.CasDigest{}, err
	}
	return hash.CasDigest{Hash: id, Size: size}, nil
}

type countingWriter struct {
	w    io.Writer
	size *uint64
}

func (c countingWriter) Write(p []byte) (int, error) {
	*c.size += uint64(len(p))
	return c.w.Write(p)
}

// FlatBlob writes the flat (non-augmented) tree blob the augmented tree
// was derived from: `name '\0' hex(id) flag '\n'` per entry, where flag
// is 't' for directories, 'x' for executables, 'l' for symlinks, and
// empty for regular files.
func (t *Tree) FlatBlob(w io.Writer) error {
	for _, entry := range t.Entries {
		var buf bytes.Buffer
		buf.Write(entry.Name.Bytes())
		buf.WriteByte(0)
		switch n := entry.Node.(type) {
		case *DirNode:
			buf.WriteString(n.Treenode.Hex())
			buf.WriteByte('t')
		case *FileNode:
			buf.WriteString(n.Filenode.Hex())
			switch n.FileType {
			case manifest.Executable:
				buf.WriteByte('x')
			case manifest.Symlink:
				buf.WriteByte('l')
			}
		}
		buf.WriteByte('\n')
		if _, err := w.Write(buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// FlatBlobSize predicts the byte count FlatBlob will produce.
func (t *Tree) FlatBlobSize() int {
	size := 0
	for _, entry := range t.Entries {
		size += entry.Name.Len() + 2
		size += hash.IDLen * 2
		switch n := entry.Node.(type) {
		case *DirNode:
			size++
		case *FileNode:
			if n.FileType == manifest.Executable || n.FileType == manifest.Symlink {
				size++
			}
		}
	}
	return size
}

func parseOptionalID(s string) (hash.ID, error) {
	if s == "-" {
		return hash.NullID, nil
	}
	return hash.IDFromHex(s)
}

// decodeHeaderMetadata accepts both padded and unpadded base64.
func decodeHeaderMetadata(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}

// Deserialize parses the wire form produced by Serialize.
func Deserialize(r *bufio.Reader) (*Tree, error) {
	line, err := r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return nil, fmt.Errorf("augmented tree: missing header: %w", err)
	}
	header := strings.Split(strings.TrimRight(line, "\n"), " ")
	if len(header) != 5 {
		return nil, fmt.Errorf("augmented tree: malformed header %q", line)
	}
	if header[0] != "v1" {
		return nil, fmt.Errorf("augmented tree: unsupported version %q", header[0])
	}
	tree := &Tree{}
	if tree.ID, err = hash.IDFromHex(header[1]); err != nil {
		return nil, fmt.Errorf("augmented tree: node id: %w", err)
	}
	if tree.ComputedID, err = parseOptionalID(header[2]); err != nil {
		return nil, fmt.Errorf("augmented tree: computed node id: %w", err)
	}
	if tree.P1, err = parseOptionalID(header[3]); err != nil {
		return nil, fmt.Errorf("augmented tree: p1: %w", err)
	}
	if tree.P2, err = parseOptionalID(header[4]); err != nil {
		return nil, fmt.Errorf("augmented tree: p2: %w", err)
	}

	for {
		line, err := r.ReadString('\n')
		if line == "" && err != nil {
			break
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			continue
		}
		name, rest, found := strings.Cut(line, "\x00")
		if !found {
			return nil, fmt.Errorf("augmented tree: invalid child entry %q", line)
		}
		elem, perr := repopath.NewElem(name)
		if perr != nil {
			return nil, fmt.Errorf("augmented tree: %w", perr)
		}
		parts := strings.Split(rest, " ")
		if len(parts) < 2 {
			return nil, fmt.Errorf("augmented tree: truncated child entry %q", line)
		}
		idPart := parts[0]
		if len(idPart) != hash.IDLen*2+1 {
			return nil, fmt.Errorf("augmented tree: bad id part %q", idPart)
		}
		flag := idPart[len(idPart)-1]
		id, perr := hash.IDFromHex(idPart[:len(idPart)-1])
		if perr != nil {
			return nil, fmt.Errorf("augmented tree: child id: %w", perr)
		}
		blake3ID, perr := hash.Blake3FromHex(parts[1])
		if perr != nil {
			return nil, fmt.Errorf("augmented tree: child blake3: %w", perr)
		}
		if len(parts) < 3 {
			return nil, fmt.Errorf("augmented tree: missing size in %q", line)
		}
		size, perr := strconv.ParseUint(parts[2], 10, 64)
		if perr != nil {
			return nil, fmt.Errorf("augmented tree: child size: %w", perr)
		}

		var node Node
		if flag == 't' {
			node = &DirNode{Treenode: id, AugmentedID: blake3ID, AugmentedSize: size}
		} else {
			if len(parts) < 5 {
				return nil, fmt.Errorf("augmented tree: truncated file entry %q", line)
			}
			sha1ID, perr := hash.IDFromHex(parts[3])
			if perr != nil {
				return nil, fmt.Errorf("augmented tree: child sha1: %w", perr)
			}
			var header []byte
			if parts[4] != "-" {
				header, perr = decodeHeaderMetadata(parts[4])
				if perr != nil {
					return nil, fmt.Errorf("augmented tree: header metadata: %w", perr)
				}
			}
			var fileType manifest.FileType
			switch flag {
			case 'r':
				fileType = manifest.Regular
			case 'x':
				fileType = manifest.Executable
			case 'l':
				fileType = manifest.Symlink
			default:
				return nil, fmt.Errorf("augmented tree: invalid flag %q in child entry for tree %s", flag, tree.ID)
			}
			node = &FileNode{
				FileType:       fileType,
				Filenode:       id,
				ContentBlake3:  blake3ID,
				ContentSHA1:    sha1ID,
				TotalSize:      size,
				HeaderMetadata: header,
			}
		}
		tree.Entries = append(tree.Entries, TreeEntry{Name: elem, Node: node})
		if err != nil {
			break
		}
	}
	return tree, nil
}
