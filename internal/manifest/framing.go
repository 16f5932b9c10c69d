package manifest

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/treestore/treestore/internal/hash"
)

// Format selects the framing over which SHA1 blob identities are
// computed. It is a property of a store, fixed at open time.
type Format int8

const (
	// FormatHg frames a blob as min(p1,p2) || max(p1,p2) || payload.
	FormatHg Format = iota
	// FormatGit frames a blob as "<type> <decimal-size>\0" || payload.
	FormatGit
)

// String implements fmt.Stringer.
func (f Format) String() string {
	if f == FormatGit {
		return "git"
	}
	return "hg"
}

const hgParentsLen = hash.IDLen * 2

// FrameHg produces the HG framed bytes for a payload and its parents.
// Parents are stored sorted so the identity is order-independent.
func FrameHg(payload []byte, p1, p2 hash.ID) []byte {
	lo, hi := p1, p2
	if bytes.Compare(hi[:], lo[:]) < 0 {
		lo, hi = hi, lo
	}
	out := make([]byte, 0, hgParentsLen+len(payload))
	out = append(out, lo[:]...)
	out = append(out, hi[:]...)
	out = append(out, payload...)
	return out
}

// SplitHg splits HG framed bytes into parents and payload. The first
// stored parent is returned as p2 and the second as p1, so that a blob
// with a single (null-padded) parent reports it as p1.
func SplitHg(data []byte) (p1, p2 hash.ID, payload []byte, err error) {
	if len(data) < hgParentsLen {
		return p1, p2, nil, fmt.Errorf("hg blob too short: %d bytes", len(data))
	}
	copy(p2[:], data[:hash.IDLen])
	copy(p1[:], data[hash.IDLen:hgParentsLen])
	return p1, p2, data[hgParentsLen:], nil
}

// FrameGit produces the GIT framed bytes for a payload of the given
// object type ("blob", "tree", "commit").
func FrameGit(payload []byte, typ string) []byte {
	header := typ + " " + strconv.Itoa(len(payload))
	out := make([]byte, 0, len(header)+1+len(payload))
	out = append(out, header...)
	out = append(out, 0)
	out = append(out, payload...)
	return out
}

// SplitGit splits GIT framed bytes into the object type and payload.
func SplitGit(data []byte) (typ string, payload []byte, err error) {
	sep := bytes.IndexByte(data, 0)
	if sep < 0 {
		return "", nil, fmt.Errorf("git blob has no header terminator")
	}
	header := data[:sep]
	payload = data[sep+1:]
	sp := bytes.IndexByte(header, ' ')
	if sp < 0 {
		return "", nil, fmt.Errorf("git blob header has no size: %q", header)
	}
	size, err := strconv.Atoi(string(header[sp+1:]))
	if err != nil {
		return "", nil, fmt.Errorf("git blob header size: %w", err)
	}
	if size != len(payload) {
		return "", nil, fmt.Errorf("git blob size mismatch: header %d, payload %d", size, len(payload))
	}
	return string(header[:sp]), payload, nil
}

// metadataDelimiter frames optional header metadata at the start of an
// HG file payload.
var metadataDelimiter = []byte{1, '\n'}

// SplitFileMetadata splits an HG file payload into its raw content and
// the optional header metadata envelope. The envelope, when present,
// includes its delimiters so that header || content reassembles the
// payload.
func SplitFileMetadata(payload []byte) (raw, header []byte) {
	if !bytes.HasPrefix(payload, metadataDelimiter) {
		return payload, nil
	}
	end := bytes.Index(payload[len(metadataDelimiter):], metadataDelimiter)
	if end < 0 {
		return payload, nil
	}
	headerLen := len(metadataDelimiter)*2 + end
	return payload[headerLen:], payload[:headerLen]
}

// JoinFileMetadata prepends a header metadata envelope to raw content.
// A nil header returns the content unchanged.
func JoinFileMetadata(raw, header []byte) []byte {
	if len(header) == 0 {
		return raw
	}
	out := make([]byte, 0, len(header)+len(raw))
	out = append(out, header...)
	out = append(out, raw...)
	return out
}
