// Package hash fixes the hash function used by Merkle commitments and by the
// challenge transcript. Changing it invalidates every existing commitment.
package hash

import (
	"encoding/binary"

	"github.com/minio/sha256-simd"
)

// Size is the width of every digest (and of every Merkle node).
const Size = sha256.Size

// Leaf hashes raw leaf bytes.
func Leaf(data []byte) []byte {
	result := sha256.Sum256(data)
	return result[:]
}

// Node hashes the concatenation of two children. There is no domain
// separation between leaves and nodes; the leaf encoding is fixed-width.
func Node(lChild, rChild []byte) []byte {
	hasher := sha256.New()
	hasher.Write(lChild)
	hasher.Write(rChild)
	return hasher.Sum(nil)
}

// GenTranscriptHashFunc generates hash functions that derive challenge digests
// from a seed. The tag is prepended to the seed and a big-endian counter is
// appended, so different tags (and counters) never share a digest.
func GenTranscriptHashFunc(tag []byte) func(seed []byte, counter uint32) []byte {
	return func(seed []byte, counter uint32) []byte {
		var ib [4]byte
		binary.BigEndian.PutUint32(ib[:], counter)
		hasher := sha256.New()
		hasher.Write(tag)
		hasher.Write(seed)
		hasher.Write(ib[:])
		return hasher.Sum(nil)
	}
}
