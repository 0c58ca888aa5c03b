package rs

import (
	"golang.org/x/exp/slices"

	"github.com/spacemeshos/endgame/field"
)

// Proof is a self-contained opening of a Reed-Solomon commitment.
//
// The Merkle part (EvalIndices, DomainEvals, MerkleProofs, MerkleRoot, Degree)
// can be checked by anyone. The challenge part (ChallengePoints,
// ChallengeEvals) is checked against the verifier's own accumulator.
type Proof struct {
	// Degree is the number of committed evaluations, i.e. the leaf count of
	// the tree MerkleRoot is the root of.
	Degree uint64

	EvalIndices  []uint64
	DomainEvals  []field.Element
	MerkleProofs [][][]byte
	MerkleRoot   []byte

	ChallengePoints []field.Element
	ChallengeEvals  []field.Element
}

// Clone returns a deep copy of the proof.
func (p *Proof) Clone() *Proof {
	if p == nil {
		return nil
	}
	paths := make([][][]byte, len(p.MerkleProofs))
	for i, path := range p.MerkleProofs {
		paths[i] = make([][]byte, len(path))
		for j, node := range path {
			paths[i][j] = slices.Clone(node)
		}
	}
	return &Proof{
		Degree:          p.Degree,
		EvalIndices:     slices.Clone(p.EvalIndices),
		DomainEvals:     slices.Clone(p.DomainEvals),
		MerkleProofs:    paths,
		MerkleRoot:      slices.Clone(p.MerkleRoot),
		ChallengePoints: slices.Clone(p.ChallengePoints),
		ChallengeEvals:  slices.Clone(p.ChallengeEvals),
	}
}
