package augmented

import (
	"lukechampine.com/blake3"

	"github.com/treestore/treestore/internal/hash"
)

// FileAuxData is the content metadata derived for a file payload.
type FileAuxData struct {
	SHA1      hash.ID
	Blake3    hash.Blake3ID
	TotalSize uint64
}

// ComputeFileAux derives aux data over a raw file payload (framing and
// header metadata already stripped). The BLAKE3 hash is keyed with the
// same constant as tree digests so one key family covers the whole
// augmented namespace.
func ComputeFileAux(content []byte) FileAuxData {
	hasher := blake3.New(hash.Blake3Len, digestKey)
	hasher.Write(content)
	var b3 hash.Blake3ID
	copy(b3[:], hasher.Sum(nil))
	return FileAuxData{
		SHA1:      hash.SumSHA1(content),
		Blake3:    b3,
		TotalSize: uint64(len(content)),
	}
}

// CasDigest returns the content digest the aux data implies.
func (a FileAuxData) CasDigest() hash.CasDigest {
	return hash.CasDigest{Hash: a.Blake3, Size: a.TotalSize}
}
