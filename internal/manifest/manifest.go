// Package manifest implements the wire formats shared by the blob store
// and the manifest layers: line-oriented tree blobs, the two SHA1 blob
// framings, and the HG file-blob header metadata envelope.
package manifest

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/treestore/treestore/internal/hash"
	"github.com/treestore/treestore/internal/repopath"
)

// FileType classifies a file entry in a tree.
type FileType int8

const (
	Regular FileType = iota
	Executable
	Symlink
	Submodule
)

// String implements fmt.Stringer.
func (t FileType) String() string {
	switch t {
	case Regular:
		return "regular"
	case Executable:
		return "executable"
	case Symlink:
		return "symlink"
	case Submodule:
		return "submodule"
	default:
		return fmt.Sprintf("unknown(%d)", int8(t))
	}
}

// Flag encodes the subtype of a tree entry as it appears on the wire.
type Flag int8

const (
	FlagFile       Flag = iota // regular file, empty wire flag
	FlagDir                    // 't'
	FlagExecutable             // 'x'
	FlagSymlink                // 'l'
	FlagSubmodule              // 'm'
)

// IsDir reports whether the flag denotes a sub-tree.
func (f Flag) IsDir() bool { return f == FlagDir }

// FileType returns the file type for a non-directory flag.
func (f Flag) FileType() FileType {
	switch f {
	case FlagExecutable:
		return Executable
	case FlagSymlink:
		return Symlink
	case FlagSubmodule:
		return Submodule
	default:
		return Regular
	}
}

// FlagForFileType returns the wire flag for a file type.
func FlagForFileType(t FileType) Flag {
	switch t {
	case Executable:
		return FlagExecutable
	case Symlink:
		return FlagSymlink
	case Submodule:
		return FlagSubmodule
	default:
		return FlagFile
	}
}

func (f Flag) wire() string {
	switch f {
	case FlagDir:
		return "t"
	case FlagExecutable:
		return "x"
	case FlagSymlink:
		return "l"
	case FlagSubmodule:
		return "m"
	default:
		return ""
	}
}

// Element is a single tree entry: a name mapped to a child id and its
// subtype.
type Element struct {
	Name repopath.Elem
	ID   hash.ID
	Flag Flag
}

// Tree is an ordered list of elements, sorted by name byte order.
type Tree struct {
	Elements []Element
}

// Sort orders the elements by name byte order, the only order the wire
// format permits.
func (t *Tree) Sort() {
	sort.Slice(t.Elements, func(i, j int) bool {
		return t.Elements[i].Name.Less(t.Elements[j].Name)
	})
}

// Get returns the element with the given name, or nil.
func (t *Tree) Get(name repopath.Elem) *Element {
	for i := range t.Elements {
		if t.Elements[i].Name == name {
			return &t.Elements[i]
		}
	}
	return nil
}

// Serialize writes the tree in wire form: one line per element,
// `name '\0' hex(id) flag '\n'`, strictly sorted by name.
func (t *Tree) Serialize() []byte {
	sorted := make([]Element, len(t.Elements))
	copy(sorted, t.Elements)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name.Less(sorted[j].Name)
	})
	var buf bytes.Buffer
	for _, el := range sorted {
		buf.Write(el.Name.Bytes())
		buf.WriteByte(0)
		buf.WriteString(el.ID.Hex())
		buf.WriteString(el.Flag.wire())
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// ParseTree parses a serialized tree blob payload.
func ParseTree(data []byte) (*Tree, error) {
	tree := &Tree{}
	for len(data) > 0 {
		nl := bytes.IndexByte(data, '\n')
		if nl < 0 {
			return nil, fmt.Errorf("tree blob: unterminated entry %q", data)
		}
		line := data[:nl]
		data = data[nl+1:]

		sep := bytes.IndexByte(line, 0)
		if sep < 0 {
			return nil, fmt.Errorf("tree blob: entry has no name separator: %q", line)
		}
		name, err := repopath.NewElem(string(line[:sep]))
		if err != nil {
			return nil, fmt.Errorf("tree blob: %w", err)
		}
		rest := line[sep+1:]
		if len(rest) < hash.IDLen*2 {
			return nil, fmt.Errorf("tree blob: entry id too short: %q", line)
		}
		id, err := hash.IDFromHex(string(rest[:hash.IDLen*2]))
		if err != nil {
			return nil, fmt.Errorf("tree blob: %w", err)
		}
		flag := FlagFile
		switch string(rest[hash.IDLen*2:]) {
		case "":
		case "t":
			flag = FlagDir
		case "x":
			flag = FlagExecutable
		case "l":
			flag = FlagSymlink
		case "m":
			flag = FlagSubmodule
		default:
			return nil, fmt.Errorf("tree blob: unknown flag %q in %q", rest[hash.IDLen*2:], line)
		}
		tree.Elements = append(tree.Elements, Element{Name: name, ID: id, Flag: flag})
	}
	return tree, nil
}
