package rs

import (
	"crypto/rand"
	"io"

	"github.com/spacemeshos/endgame/field"
	"github.com/spacemeshos/endgame/hash"
)

// Challenger supplies the field elements a proof is challenged with: the
// out-of-domain points and the fold coefficient. The seed binds a challenge to
// the commitment it is drawn for and the counter enumerates draws (including
// re-draws after a collision with the domain).
type Challenger interface {
	Challenge(seed []byte, counter uint32) (field.Element, error)
}

// RandomChallenger ignores the seed and samples from a random source.
// A prover using it can re-sample until it likes the result, so proofs built
// with it are only meaningful when the verifier trusts the prover's sampling.
type RandomChallenger struct {
	rand io.Reader
}

func NewRandomChallenger(r io.Reader) *RandomChallenger {
	if r == nil {
		r = rand.Reader
	}
	return &RandomChallenger{rand: r}
}

func (c *RandomChallenger) Challenge([]byte, uint32) (field.Element, error) {
	return field.Random(c.rand)
}

// TranscriptChallenger derives challenges by hashing the seed (Fiat-Shamir),
// so they are fixed by the commitment and cannot be biased by the prover.
type TranscriptChallenger struct {
	hash func(seed []byte, counter uint32) []byte
}

func NewTranscriptChallenger(tag []byte) *TranscriptChallenger {
	return &TranscriptChallenger{hash: hash.GenTranscriptHashFunc(tag)}
}

func (c *TranscriptChallenger) Challenge(seed []byte, counter uint32) (field.Element, error) {
	return field.FromHash(c.hash(seed, counter)), nil
}

var transcriptTag = []byte("endgame/rs/v1")

func challengerFor(mode string) Challenger {
	if mode == ChallengesTranscript {
		return NewTranscriptChallenger(transcriptTag)
	}
	return NewRandomChallenger(nil)
}
