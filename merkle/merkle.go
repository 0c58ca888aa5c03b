// Package merkle implements an array-backed binary Merkle tree over opaque
// byte leaves.
//
// Node i has children 2i+1 and 2i+2, the leaves occupy the last leafCount
// slots and node 0 is the root. Leaf nodes hold H(leaf) and internal nodes
// hold H(left || right). The tree is built once and never updated.
package merkle

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/spacemeshos/endgame/hash"
)

// NodeSize is the width of every node in the tree.
const NodeSize = hash.Size

var (
	ErrIndexOutOfRange = errors.New("leaf index out of range")
	ErrLeafCountTooBig = errors.New("leaf count too big")
)

// MaxLeafCount is the largest leaf count whose array positions fit in uint64.
const MaxLeafCount = math.MaxUint64 / 2

// EmptyRoot is the root of a tree with no leaves. It commits to nothing and
// must not be accepted as a commitment to non-empty data.
var EmptyRoot = make([]byte, NodeSize)

type Tree struct {
	nodes     [][]byte
	leafCount uint64
}

// New builds a tree over the given leaves.
func New(leaves [][]byte) *Tree {
	if len(leaves) == 0 {
		return &Tree{nodes: [][]byte{make([]byte, NodeSize)}}
	}

	leafCount := uint64(len(leaves))
	nodes := make([][]byte, 2*leafCount-1)
	for i, leaf := range leaves {
		nodes[leafCount-1+uint64(i)] = hash.Leaf(leaf)
	}
	for i := int(leafCount) - 2; i >= 0; i-- {
		nodes[i] = hash.Node(nodes[2*i+1], nodes[2*i+2])
	}
	return &Tree{nodes: nodes, leafCount: leafCount}
}

// Root returns a copy of the root node.
func (t *Tree) Root() []byte {
	return slices.Clone(t.nodes[0])
}

func (t *Tree) LeafCount() uint64 {
	return t.leafCount
}

// GenerateProof returns the sibling hashes on the path from the leaf at index
// up to, but not including, the root. A single-leaf tree yields an empty path.
func (t *Tree) GenerateProof(index uint64) ([][]byte, error) {
	if index >= t.leafCount {
		return nil, fmt.Errorf("%w: %d (leaf count %d)", ErrIndexOutOfRange, index, t.leafCount)
	}

	var proof [][]byte
	current := t.leafCount - 1 + index
	for current > 0 {
		sibling := current + 1
		if current%2 == 0 {
			sibling = current - 1
		}
		proof = append(proof, slices.Clone(t.nodes[sibling]))
		current = (current - 1) / 2
	}
	return proof, nil
}

// Verify recomputes the root from a leaf and its audit path and reports whether
// it matches root. It does not need the tree, only the leaf count the tree was
// built over, which fixes where the leaf sits in the array layout.
//
// At each step the current node's array position decides the order: an odd
// position is a left child (sibling appended on the right), an even one a
// right child. For power-of-two leaf counts that is the same as "even leaf
// index is a left child, then halve the index".
func Verify(root, leaf []byte, proof [][]byte, index, leafCount uint64) (bool, error) {
	if leafCount > MaxLeafCount {
		return false, fmt.Errorf("%w: %d", ErrLeafCountTooBig, leafCount)
	}
	if index >= leafCount {
		return false, fmt.Errorf("%w: %d (leaf count %d)", ErrIndexOutOfRange, index, leafCount)
	}

	current := hash.Leaf(leaf)
	position := leafCount - 1 + index
	for _, sibling := range proof {
		if position == 0 {
			// path is longer than the leaf's depth
			return false, nil
		}
		if position%2 == 1 {
			current = hash.Node(current, sibling)
		} else {
			current = hash.Node(sibling, current)
		}
		position = (position - 1) / 2
	}
	return position == 0 && bytes.Equal(current, root), nil
}

// String dumps the tree level by level, for debugging.
func (t *Tree) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "leaf count: %d, nodes: %d\n", t.leafCount, len(t.nodes))
	levelSize, printed := 1, 0
	for level := 0; printed < len(t.nodes); level++ {
		fmt.Fprintf(&sb, "level %d:\n", level)
		for i := printed; i < printed+levelSize && i < len(t.nodes); i++ {
			fmt.Fprintf(&sb, "  %d: %x\n", i, t.nodes[i])
		}
		printed += levelSize
		levelSize *= 2
	}
	return sb.String()
}
