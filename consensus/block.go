package consensus

import (
	"encoding/binary"
	"io"

	"github.com/zeebo/blake3"

	"github.com/spacemeshos/endgame/accumulator/rs"
	"github.com/spacemeshos/endgame/field"
)

// HashSize is the size of a block hash.
const HashSize = 32

// Block carries a node's accumulated state together with the proof for it.
type Block struct {
	ParentHash [HashSize]byte
	Height     uint64
	// Timestamp is in seconds since the Unix epoch.
	Timestamp uint64

	Accumulator *rs.Accumulator
	StateProof  *rs.Proof
}

// NewBlock builds a block on top of parent. A nil parent makes a genesis block.
func NewBlock(parent *Block, timestamp uint64, acc *rs.Accumulator, proof *rs.Proof) *Block {
	b := &Block{
		Timestamp:   timestamp,
		Accumulator: acc,
		StateProof:  proof,
	}
	if parent != nil {
		b.ParentHash = parent.Hash()
		b.Height = parent.Height + 1
	}
	return b
}

// Hash commits to the header and to the Merkle root of the state proof.
func (b *Block) Hash() [HashSize]byte {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], b.Height)
	binary.BigEndian.PutUint64(buf[8:], b.Timestamp)

	hasher := blake3.New()
	_, _ = hasher.Write(b.ParentHash[:])
	_, _ = hasher.Write(buf[:])
	if b.StateProof != nil {
		_, _ = hasher.Write(b.StateProof.MerkleRoot)
	}

	var h [HashSize]byte
	hasher.Sum(h[:0])
	return h
}

// stateKey identifies a block together with the state its accumulator holds
// and every field of its state proof, so a verdict is only reused for the
// exact proof that earned it.
func (b *Block) stateKey() [HashSize]byte {
	hash := b.Hash()
	hasher := blake3.New()
	_, _ = hasher.Write(hash[:])
	if b.Accumulator != nil {
		writeBytes(hasher, b.Accumulator.Root())
	}
	if p := b.StateProof; p != nil {
		writeUint64(hasher, p.Degree)
		writeUint64(hasher, uint64(len(p.EvalIndices)))
		for _, index := range p.EvalIndices {
			writeUint64(hasher, index)
		}
		writeElements(hasher, p.DomainEvals)
		writeUint64(hasher, uint64(len(p.MerkleProofs)))
		for _, path := range p.MerkleProofs {
			writeUint64(hasher, uint64(len(path)))
			for _, node := range path {
				writeBytes(hasher, node)
			}
		}
		writeBytes(hasher, p.MerkleRoot)
		writeElements(hasher, p.ChallengePoints)
		writeElements(hasher, p.ChallengeEvals)
	}
	var h [HashSize]byte
	hasher.Sum(h[:0])
	return h
}

func writeUint64(w io.Writer, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, _ = w.Write(buf[:])
}

// writeBytes length-prefixes b so adjacent fields cannot run into each other.
func writeBytes(w io.Writer, b []byte) {
	writeUint64(w, uint64(len(b)))
	_, _ = w.Write(b)
}

func writeElements(w io.Writer, elements []field.Element) {
	writeUint64(w, uint64(len(elements)))
	for _, e := range elements {
		writeUint64(w, e.Uint64())
	}
}
