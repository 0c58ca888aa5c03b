package rs

import (
	"bytes"
	"errors"
	mrand "math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/spacemeshos/endgame/field"
	"github.com/spacemeshos/endgame/merkle"
)

type challengeCall struct {
	seed  []byte
	value field.Element
}

// recordingChallenger remembers every challenge it hands out.
type recordingChallenger struct {
	inner Challenger

	mu    sync.Mutex
	calls []challengeCall
}

func (c *recordingChallenger) Challenge(seed []byte, counter uint32) (field.Element, error) {
	v, err := c.inner.Challenge(seed, counter)
	if err != nil {
		return v, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, challengeCall{seed: append([]byte{}, seed...), value: v})
	return v, nil
}

func (c *recordingChallenger) foldCoefficients() []field.Element {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []field.Element
	for _, call := range c.calls {
		if bytes.HasPrefix(call.seed, []byte("fold")) {
			out = append(out, call.value)
		}
	}
	return out
}

type constChallenger field.Element

func (c constChallenger) Challenge([]byte, uint32) (field.Element, error) {
	return field.Element(c), nil
}

type failingChallenger struct{}

func (failingChallenger) Challenge([]byte, uint32) (field.Element, error) {
	return field.Element{}, errors.New("no entropy")
}

func seeded(seed int64) Challenger {
	return NewRandomChallenger(mrand.New(mrand.NewSource(seed)))
}

func newTestAccumulator(t testing.TB, domainSize, numChallenges int, opts ...newAccumulatorOptionFunc) *Accumulator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DomainSize = domainSize
	cfg.NumChallenges = numChallenges
	acc, err := New(append([]newAccumulatorOptionFunc{WithConfig(cfg), WithChallenger(seeded(1))}, opts...)...)
	require.NoError(t, err)
	return acc
}

func sequence(from, to uint64) []field.Element {
	var out []field.Element
	for i := from; i < to; i++ {
		out = append(out, field.New(i))
	}
	return out
}

func TestNewValidatesConfig(t *testing.T) {
	for _, tc := range []struct {
		name string
		cfg  Config
	}{
		{"zero domain", Config{DomainSize: 0, NumChallenges: 2}},
		{"domain larger than field", Config{DomainSize: int(field.P), NumChallenges: 2}},
		{"no challenges", Config{DomainSize: 8, NumChallenges: 0}},
		{"unknown mode", Config{DomainSize: 8, NumChallenges: 2, Challenges: "dice"}},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(WithConfig(tc.cfg))
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestNewDefaults(t *testing.T) {
	acc, err := New()
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), acc.Config())
	require.Len(t, acc.Domain(), DefaultDomainSize)
	require.Equal(t, field.New(255), acc.Domain()[255])
	require.Zero(t, acc.Degree())
	require.Equal(t, merkle.EmptyRoot, acc.Root())
}

func TestAccumulateVerifyConcreteState(t *testing.T) {
	acc, err := New()
	require.NoError(t, err)

	proof, err := acc.Accumulate(field.Elements(1, 2, 3))
	require.NoError(t, err)
	require.True(t, acc.Verify(proof))
	require.NoError(t, acc.Check(proof))

	require.Equal(t, uint64(3), proof.Degree)
	require.Equal(t, []uint64{0, 1}, proof.EvalIndices)
	require.Equal(t, field.Elements(1, 2), proof.DomainEvals)
	require.Equal(t, acc.Root(), proof.MerkleRoot)
	require.Len(t, proof.ChallengePoints, DefaultNumChallenges)
	for _, x := range proof.ChallengePoints {
		require.GreaterOrEqual(t, x.Uint64(), uint64(3))
	}

	t.Run("claimed value", func(t *testing.T) {
		for i := range proof.DomainEvals {
			bad := proof.Clone()
			bad.DomainEvals[i] = bad.DomainEvals[i].Add(field.One())
			require.False(t, acc.Verify(bad))
		}
	})
	t.Run("audit path byte", func(t *testing.T) {
		for i := range proof.MerkleProofs {
			for j := range proof.MerkleProofs[i] {
				for k := range proof.MerkleProofs[i][j] {
					bad := proof.Clone()
					bad.MerkleProofs[i][j][k] ^= 0x80
					require.False(t, acc.Verify(bad))
				}
			}
		}
	})
	t.Run("challenge evaluation", func(t *testing.T) {
		for i := range proof.ChallengeEvals {
			bad := proof.Clone()
			bad.ChallengeEvals[i] = bad.ChallengeEvals[i].Add(field.One())
			err := acc.Check(bad)
			require.ErrorIs(t, err, ErrProofVerificationFailed)
			require.False(t, acc.Verify(bad))
		}
	})
	t.Run("root", func(t *testing.T) {
		bad := proof.Clone()
		bad.MerkleRoot[0] ^= 0x01
		require.False(t, acc.Verify(bad))
	})
	t.Run("opening index", func(t *testing.T) {
		bad := proof.Clone()
		bad.EvalIndices[1] = 2
		require.False(t, acc.Verify(bad))
	})

	// the tampering above worked on copies
	require.True(t, acc.Verify(proof))
}

func TestAccumulateVerifyRoundTrip(t *testing.T) {
	const domainSize = 16
	for _, k := range []int{1, 2, 3} {
		acc := newTestAccumulator(t, domainSize, k)
		for n := uint64(1); n <= domainSize; n++ {
			proof, err := acc.Accumulate(sequence(100, 100+n))
			require.NoError(t, err)
			require.Equal(t, int(n), acc.Degree())
			require.NoError(t, acc.Check(proof), "k=%d n=%d", k, n)
		}
	}
}

func TestAccumulateFullDefaultDomain(t *testing.T) {
	acc, err := New(WithChallenger(seeded(7)))
	require.NoError(t, err)
	proof, err := acc.Accumulate(sequence(0, DefaultDomainSize))
	require.NoError(t, err)
	require.True(t, acc.Verify(proof))
}

func TestAccumulateRejectsOversizedState(t *testing.T) {
	acc := newTestAccumulator(t, 4, 2)
	_, err := acc.Accumulate(sequence(0, 5))
	require.ErrorIs(t, err, ErrStateTooLarge)
	require.Zero(t, acc.Degree())

	_, err = acc.Accumulate(sequence(0, 4))
	require.NoError(t, err)
}

func TestAccumulateRejectsEmptyState(t *testing.T) {
	acc := newTestAccumulator(t, 4, 2)
	_, err := acc.Accumulate(nil)
	require.ErrorIs(t, err, ErrEmptyState)
}

func TestVerifyDetectsDifferentPolynomial(t *testing.T) {
	a := newTestAccumulator(t, 16, 2)
	b := newTestAccumulator(t, 16, 2)

	proof, err := a.Accumulate(sequence(0, 8))
	require.NoError(t, err)
	_, err = b.Accumulate(sequence(1, 9))
	require.NoError(t, err)

	require.True(t, a.Verify(proof))
	require.False(t, b.Verify(proof))

	// a stale proof does not verify against a re-accumulated state
	_, err = a.Accumulate(sequence(5, 13))
	require.NoError(t, err)
	require.False(t, a.Verify(proof))
}

func TestVerifyRejectsMalformedProofs(t *testing.T) {
	acc := newTestAccumulator(t, 8, 2)
	proof, err := acc.Accumulate(sequence(1, 5))
	require.NoError(t, err)

	for _, tc := range []struct {
		name   string
		mutate func(p *Proof) *Proof
	}{
		{"nil", func(*Proof) *Proof { return nil }},
		{"zero degree", func(p *Proof) *Proof { p.Degree = 0; return p }},
		{"degree beyond domain", func(p *Proof) *Proof { p.Degree = 9; return p }},
		{"short root", func(p *Proof) *Proof { p.MerkleRoot = p.MerkleRoot[:8]; return p }},
		{"missing opening", func(p *Proof) *Proof { p.EvalIndices = p.EvalIndices[:1]; return p }},
		{"missing path", func(p *Proof) *Proof { p.MerkleProofs = p.MerkleProofs[:1]; return p }},
		{"missing challenge", func(p *Proof) *Proof { p.ChallengePoints = p.ChallengePoints[:1]; return p }},
		{"missing challenge eval", func(p *Proof) *Proof { p.ChallengeEvals = nil; return p }},
		{"empty", func(*Proof) *Proof { return &Proof{} }},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			bad := tc.mutate(proof.Clone())
			require.NotPanics(t, func() {
				require.ErrorIs(t, acc.Check(bad), ErrProofMalformed)
				require.False(t, acc.Verify(bad))
			})
		})
	}

	t.Run("wrong degree", func(t *testing.T) {
		bad := proof.Clone()
		bad.Degree = 5
		require.ErrorIs(t, acc.Check(bad), ErrProofVerificationFailed)
	})
}

func TestVerifyOnEmptyAccumulator(t *testing.T) {
	a := newTestAccumulator(t, 8, 2)
	proof, err := a.Accumulate(sequence(0, 3))
	require.NoError(t, err)

	empty := newTestAccumulator(t, 8, 2)
	require.False(t, empty.Verify(proof))
}

func TestCheckReportsAllFailures(t *testing.T) {
	acc := newTestAccumulator(t, 8, 2)
	proof, err := acc.Accumulate(sequence(3, 7))
	require.NoError(t, err)

	proof.DomainEvals[0] = proof.DomainEvals[0].Add(field.One())
	proof.ChallengeEvals[1] = proof.ChallengeEvals[1].Add(field.One())
	err = acc.Check(proof)
	require.ErrorIs(t, err, ErrProofVerificationFailed)
	require.Contains(t, err.Error(), "merkle path for position 0")
	require.Contains(t, err.Error(), "challenge 1 evaluates to")
}

func TestEvaluateInterpolates(t *testing.T) {
	// f(x) = 3x^2 + 2x + 1
	f := func(x field.Element) field.Element {
		return field.New(3).Mul(x).Mul(x).Add(field.New(2).Mul(x)).Add(field.One())
	}
	acc := newTestAccumulator(t, 16, 2)

	var state []field.Element
	for i := uint64(0); i < 5; i++ {
		state = append(state, f(field.New(i)))
	}
	_, err := acc.Accumulate(state)
	require.NoError(t, err)

	for _, x := range []uint64{0, 4, 5, 1000, field.P - 1} {
		y, err := acc.Evaluate(field.New(x))
		require.NoError(t, err)
		require.Equal(t, f(field.New(x)), y, "x=%d", x)
	}

	_, err = newTestAccumulator(t, 16, 2).Evaluate(field.One())
	require.ErrorIs(t, err, ErrEmptyState)
}

func TestShrinkingStateIgnoresStalePositions(t *testing.T) {
	acc := newTestAccumulator(t, 8, 2)
	_, err := acc.Accumulate(sequence(10, 18))
	require.NoError(t, err)

	proof, err := acc.Accumulate(field.Elements(7, 7))
	require.NoError(t, err)
	require.Equal(t, field.Elements(7, 7), acc.Evaluations())
	require.True(t, acc.Verify(proof))

	// constant polynomial
	y, err := acc.Evaluate(field.New(123456))
	require.NoError(t, err)
	require.Equal(t, field.New(7), y)
}

func TestFoldPreservesVerifiability(t *testing.T) {
	a := newTestAccumulator(t, 32, 2)
	b := newTestAccumulator(t, 32, 2)

	proofA, err := a.Accumulate(sequence(0, 10))
	require.NoError(t, err)
	require.True(t, a.Verify(proofA))
	proofB, err := b.Accumulate(sequence(10, 20))
	require.NoError(t, err)
	require.True(t, b.Verify(proofB))

	folded, err := a.Fold(b)
	require.NoError(t, err)
	require.True(t, a.Verify(folded))

	// other is read-only
	require.Equal(t, sequence(10, 20), b.Evaluations())
	require.True(t, b.Verify(proofB))

	// the pre-fold proof no longer matches a
	require.False(t, a.Verify(proofA))
}

func TestFoldLinearity(t *testing.T) {
	recorder := &recordingChallenger{inner: seeded(3)}
	a := newTestAccumulator(t, 32, 2, WithChallenger(recorder))
	b := newTestAccumulator(t, 32, 2)

	stateA := sequence(1, 8)
	stateB := sequence(50, 62)
	_, err := a.Accumulate(stateA)
	require.NoError(t, err)
	_, err = b.Accumulate(stateB)
	require.NoError(t, err)

	proof, err := a.Fold(b)
	require.NoError(t, err)
	require.True(t, a.Verify(proof))

	alphas := recorder.foldCoefficients()
	require.Len(t, alphas, 1)
	alpha := alphas[0]

	require.Equal(t, len(stateB), a.Degree())
	got := a.Evaluations()
	for i := range got {
		expected := alpha.Mul(stateB[i])
		if i < len(stateA) {
			expected = stateA[i].Add(expected)
		}
		require.Equal(t, expected, got[i], "position %d", i)
	}
}

func TestFoldWithKnownCoefficient(t *testing.T) {
	a := newTestAccumulator(t, 8, 1, WithChallenger(constChallenger(field.New(1<<20))))
	b := newTestAccumulator(t, 8, 1)
	_, err := a.Accumulate(field.Elements(1, 2, 3, 4))
	require.NoError(t, err)
	_, err = b.Accumulate(field.Elements(5, 6))
	require.NoError(t, err)

	alpha := field.New(1 << 20)
	_, err = a.Fold(b)
	require.NoError(t, err)
	require.Equal(t, []field.Element{
		field.New(1).Add(alpha.Mul(field.New(5))),
		field.New(2).Add(alpha.Mul(field.New(6))),
		field.New(3),
		field.New(4),
	}, a.Evaluations())
}

func TestFoldIntoItself(t *testing.T) {
	a := newTestAccumulator(t, 8, 2)
	_, err := a.Accumulate(sequence(1, 4))
	require.NoError(t, err)
	proof, err := a.Fold(a)
	require.NoError(t, err)
	require.True(t, a.Verify(proof))
}

func TestFoldRejectsIncompatibleDomain(t *testing.T) {
	a := newTestAccumulator(t, 8, 2)
	b := newTestAccumulator(t, 16, 2)
	_, err := a.Accumulate(sequence(0, 3))
	require.NoError(t, err)
	_, err = b.Accumulate(sequence(0, 3))
	require.NoError(t, err)

	_, err = a.Fold(b)
	require.ErrorIs(t, err, ErrIncompatibleDomain)
	_, err = a.Fold(nil)
	require.ErrorIs(t, err, ErrIncompatibleDomain)
}

func TestFoldTwoEmptyAccumulators(t *testing.T) {
	a := newTestAccumulator(t, 8, 2)
	b := newTestAccumulator(t, 8, 2)
	_, err := a.Fold(b)
	require.ErrorIs(t, err, ErrEmptyState)
}

func TestChallengerErrors(t *testing.T) {
	acc := newTestAccumulator(t, 8, 2, WithChallenger(failingChallenger{}))
	_, err := acc.Accumulate(sequence(0, 3))
	require.Error(t, err)

	// zero is a domain point, so it can never be used as a challenge
	acc = newTestAccumulator(t, 8, 2, WithChallenger(constChallenger(field.Zero())))
	_, err = acc.Accumulate(sequence(0, 3))
	require.ErrorIs(t, err, ErrChallengeSampling)
}

func TestTranscriptChallenges(t *testing.T) {
	cfg := Config{DomainSize: 16, NumChallenges: 3, Challenges: ChallengesTranscript}
	a, err := New(WithConfig(cfg))
	require.NoError(t, err)
	b, err := New(WithConfig(cfg))
	require.NoError(t, err)

	proofA, err := a.Accumulate(sequence(2, 9))
	require.NoError(t, err)
	proofB, err := b.Accumulate(sequence(2, 9))
	require.NoError(t, err)

	// same commitment, same challenges
	require.Equal(t, proofA, proofB)
	require.True(t, b.Verify(proofA))

	// a point that was not derived from the commitment is rejected even when
	// its evaluation is correct
	bad := proofA.Clone()
	bad.ChallengePoints[0] = bad.ChallengePoints[0].Add(field.One())
	bad.ChallengeEvals[0], err = a.Evaluate(bad.ChallengePoints[0])
	require.NoError(t, err)
	require.False(t, a.Verify(bad))

	proof, err := a.Fold(b)
	require.NoError(t, err)
	require.True(t, a.Verify(proof))
}

func TestTranscriptCheckWithWrappedChallenger(t *testing.T) {
	cfg := Config{DomainSize: 16, NumChallenges: 2, Challenges: ChallengesTranscript}
	wrapped := &recordingChallenger{inner: NewTranscriptChallenger(transcriptTag)}
	acc, err := New(WithConfig(cfg), WithChallenger(wrapped))
	require.NoError(t, err)

	proof, err := acc.Accumulate(sequence(5, 12))
	require.NoError(t, err)
	require.NotEmpty(t, wrapped.calls)
	require.NoError(t, acc.Check(proof))

	// Points from the same transcript as an unwrapped challenger.
	plain, err := New(WithConfig(cfg))
	require.NoError(t, err)
	plainProof, err := plain.Accumulate(sequence(5, 12))
	require.NoError(t, err)
	require.Equal(t, plainProof.ChallengePoints, proof.ChallengePoints)

	bad := proof.Clone()
	bad.ChallengePoints[1] = bad.ChallengePoints[1].Add(field.New(7))
	bad.ChallengeEvals[1], err = acc.Evaluate(bad.ChallengePoints[1])
	require.NoError(t, err)
	require.ErrorIs(t, acc.Check(bad), ErrProofVerificationFailed)
}

func TestRestore(t *testing.T) {
	a := newTestAccumulator(t, 16, 2)
	proof, err := a.Accumulate(sequence(4, 11))
	require.NoError(t, err)

	restored, err := Restore(a.Evaluations(), WithConfig(a.Config()))
	require.NoError(t, err)
	require.Equal(t, a.Root(), restored.Root())
	require.True(t, restored.Verify(proof))

	_, err = Restore(nil)
	require.ErrorIs(t, err, ErrEmptyState)
}

func TestClone(t *testing.T) {
	a := newTestAccumulator(t, 16, 2)
	proof, err := a.Accumulate(sequence(0, 6))
	require.NoError(t, err)

	clone := a.Clone()
	require.True(t, clone.Verify(proof))

	_, err = a.Accumulate(sequence(6, 12))
	require.NoError(t, err)
	require.True(t, clone.Verify(proof))
	require.False(t, a.Verify(proof))
	require.Equal(t, sequence(0, 6), clone.Evaluations())
}

func TestConcurrentVerify(t *testing.T) {
	acc := newTestAccumulator(t, 64, 4)
	proof, err := acc.Accumulate(sequence(9, 73))
	require.NoError(t, err)

	var eg errgroup.Group
	for i := 0; i < 8; i++ {
		eg.Go(func() error {
			if !acc.Verify(proof) {
				return errors.New("proof rejected")
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())
}

func BenchmarkAccumulate(b *testing.B) {
	acc := newTestAccumulator(b, DefaultDomainSize, DefaultNumChallenges)
	state := sequence(0, DefaultDomainSize)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := acc.Accumulate(state); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkVerify(b *testing.B) {
	acc := newTestAccumulator(b, DefaultDomainSize, DefaultNumChallenges)
	proof, err := acc.Accumulate(sequence(0, DefaultDomainSize))
	require.NoError(b, err)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if !acc.Verify(proof) {
			b.Fatal("proof rejected")
		}
	}
}
