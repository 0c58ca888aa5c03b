package hash

import (
	stdsha256 "crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLeaf(t *testing.T) {
	t.Parallel()

	expected := stdsha256.Sum256([]byte{1})
	require.Equal(t, expected[:], Leaf([]byte{1}))
	require.Len(t, Leaf(nil), Size)
}

func TestNode(t *testing.T) {
	t.Parallel()

	lChild, rChild := []byte("l"), []byte("r")
	expected := stdsha256.Sum256([]byte("lr"))
	require.Equal(t, expected[:], Node(lChild, rChild))

	// different order -> different hash
	require.NotEqual(t, Node(lChild, rChild), Node(rChild, lChild))

	// inputs are not modified
	require.Equal(t, []byte("l"), lChild)
}

func TestGenTranscriptHashFunc(t *testing.T) {
	t.Parallel()

	aTag, bTag := []byte("a"), []byte("b")
	seed := []byte("seed")

	// same tag, seed and counter -> same hash
	aHash := GenTranscriptHashFunc(aTag)(seed, 0)
	require.Equal(t, aHash, GenTranscriptHashFunc(aTag)(seed, 0))
	require.Len(t, aHash, Size)

	// different tag -> different hash
	require.NotEqual(t, aHash, GenTranscriptHashFunc(bTag)(seed, 0))

	// different counter -> different hash
	require.NotEqual(t, aHash, GenTranscriptHashFunc(aTag)(seed, 1))

	// different seed -> different hash
	require.NotEqual(t, aHash, GenTranscriptHashFunc(aTag)([]byte("other"), 0))

	expected := stdsha256.Sum256([]byte("aseed\x00\x00\x00\x02"))
	require.Equal(t, expected[:], GenTranscriptHashFunc(aTag)(seed, 2))
}
