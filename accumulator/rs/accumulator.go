// Package rs implements a Reed-Solomon state accumulator.
//
// A state of n field elements is read as the evaluations of a polynomial of
// degree < n on the first n points of a fixed domain. The evaluations are
// committed with a Merkle tree. A proof opens a few committed positions and
// evaluates the polynomial at out-of-domain challenge points, which the holder
// of the accumulator recomputes from its own evaluations. Two accumulators
// are folded by taking a random linear combination of their evaluations.
package rs

import (
	"encoding/binary"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/spacemeshos/endgame/accumulator"
	"github.com/spacemeshos/endgame/field"
	"github.com/spacemeshos/endgame/merkle"
)

var (
	ErrStateTooLarge      = errors.New("state is larger than the evaluation domain")
	ErrEmptyState         = errors.New("state is empty")
	ErrIncompatibleDomain = errors.New("accumulators use different evaluation domains")
	ErrChallengeSampling  = errors.New("could not sample an out-of-domain challenge")
)

// maxResamples bounds the re-draws per challenge point. With a random or hash
// challenger a collision with the domain has probability about DomainSize / P.
const maxResamples = 64

var _ accumulator.Accumulator[*Accumulator, []field.Element, *Proof] = (*Accumulator)(nil)

// Accumulator is a Reed-Solomon accumulator. It is not safe for concurrent
// mutation; Verify, Check and Evaluate may run concurrently with each other.
type Accumulator struct {
	cfg        Config
	challenger Challenger
	logger     *zap.Logger

	domain []field.Element
	evals  []field.Element
	degree int

	// weights are the barycentric weights of domain[:degree].
	weights []field.Element
	tree    *merkle.Tree
}

// New creates an accumulator with an empty state.
func New(opts ...newAccumulatorOptionFunc) (*Accumulator, error) {
	options := &newAccumulatorOptions{
		cfg:    DefaultConfig(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(options)
	}
	if err := options.cfg.Validate(); err != nil {
		return nil, err
	}
	if options.challenger == nil {
		options.challenger = challengerFor(options.cfg.Challenges)
	}

	domain := make([]field.Element, options.cfg.DomainSize)
	for i := range domain {
		domain[i] = field.New(uint64(i))
	}

	return &Accumulator{
		cfg:        options.cfg,
		challenger: options.challenger,
		logger:     options.logger,
		domain:     domain,
		evals:      make([]field.Element, options.cfg.DomainSize),
		tree:       merkle.New(nil),
	}, nil
}

// Restore creates an accumulator committed to state without producing a proof.
func Restore(state []field.Element, opts ...newAccumulatorOptionFunc) (*Accumulator, error) {
	acc, err := New(opts...)
	if err != nil {
		return nil, err
	}
	if err := acc.commit(state); err != nil {
		return nil, err
	}
	return acc, nil
}

// Accumulate commits to state and returns a proof for the new commitment.
// On error the accumulator may hold the new state without a proof for it.
func (a *Accumulator) Accumulate(state []field.Element) (*Proof, error) {
	if err := a.commit(state); err != nil {
		return nil, err
	}
	proof, err := a.prove()
	if err != nil {
		return nil, err
	}
	a.logger.Debug("accumulated state",
		zap.Int("degree", a.degree),
		zap.Binary("root", proof.MerkleRoot),
	)
	return proof, nil
}

// Fold replaces the state with self[i] + alpha*other[i] for a freshly sampled
// alpha and returns the proof for the combined state. Positions beyond either
// accumulator's degree count as zero. other is not modified.
func (a *Accumulator) Fold(other *Accumulator) (*Proof, error) {
	if other == nil {
		return nil, fmt.Errorf("%w: nothing to fold", ErrIncompatibleDomain)
	}
	if other.cfg.DomainSize != a.cfg.DomainSize {
		return nil, fmt.Errorf("%w: %d and %d", ErrIncompatibleDomain, a.cfg.DomainSize, other.cfg.DomainSize)
	}

	alpha, err := a.challenger.Challenge(a.foldSeed(other), 0)
	if err != nil {
		return nil, fmt.Errorf("sampling fold coefficient: %w", err)
	}

	n := a.degree
	if other.degree > n {
		n = other.degree
	}
	combined := make([]field.Element, n)
	for i := range combined {
		var mine, theirs field.Element
		if i < a.degree {
			mine = a.evals[i]
		}
		if i < other.degree {
			theirs = other.evals[i]
		}
		combined[i] = mine.Add(alpha.Mul(theirs))
	}

	a.logger.Debug("folding accumulators",
		zap.Int("degree", a.degree),
		zap.Int("other_degree", other.degree),
		zap.Stringer("alpha", alpha),
	)
	return a.Accumulate(combined)
}

// Evaluate returns the committed polynomial's value at x.
func (a *Accumulator) Evaluate(x field.Element) (field.Element, error) {
	if a.degree == 0 {
		return field.Element{}, ErrEmptyState
	}
	return a.evaluate(x)
}

// Clone returns an independent copy of the accumulator.
func (a *Accumulator) Clone() *Accumulator {
	return &Accumulator{
		cfg:        a.cfg,
		challenger: a.challenger,
		logger:     a.logger,
		domain:     slices.Clone(a.domain),
		evals:      slices.Clone(a.evals),
		degree:     a.degree,
		weights:    slices.Clone(a.weights),
		tree:       a.tree,
	}
}

func (a *Accumulator) Config() Config {
	return a.cfg
}

// Degree is the length of the committed state.
func (a *Accumulator) Degree() int {
	return a.degree
}

// Root is the Merkle root of the committed evaluations. It is merkle.EmptyRoot
// before the first accumulation.
func (a *Accumulator) Root() []byte {
	return a.tree.Root()
}

// Evaluations returns a copy of the committed state.
func (a *Accumulator) Evaluations() []field.Element {
	return slices.Clone(a.evals[:a.degree])
}

// Domain returns a copy of the full evaluation domain.
func (a *Accumulator) Domain() []field.Element {
	return slices.Clone(a.domain)
}

func (a *Accumulator) commit(state []field.Element) error {
	switch {
	case len(state) == 0:
		return ErrEmptyState
	case len(state) > len(a.domain):
		return fmt.Errorf("%w: %d elements (domain size %d)", ErrStateTooLarge, len(state), len(a.domain))
	}

	weights, err := barycentricWeights(a.domain[:len(state)])
	if err != nil {
		return err
	}

	copy(a.evals, state)
	a.degree = len(state)
	a.weights = weights

	leaves := make([][]byte, a.degree)
	for i, e := range a.evals[:a.degree] {
		leaves[i] = e.Bytes()
	}
	a.tree = merkle.New(leaves)
	return nil
}

func (a *Accumulator) prove() (*Proof, error) {
	k := a.cfg.NumChallenges
	proof := &Proof{
		Degree:       uint64(a.degree),
		MerkleRoot:   a.tree.Root(),
		EvalIndices:  make([]uint64, 0, k),
		DomainEvals:  make([]field.Element, 0, k),
		MerkleProofs: make([][][]byte, 0, k),
	}

	for i := 0; i < k; i++ {
		index := uint64(i % a.degree)
		path, err := a.tree.GenerateProof(index)
		if err != nil {
			return nil, err
		}
		proof.EvalIndices = append(proof.EvalIndices, index)
		proof.DomainEvals = append(proof.DomainEvals, a.evals[index])
		proof.MerkleProofs = append(proof.MerkleProofs, path)
	}

	points, err := a.challengePoints(proof.MerkleRoot, a.degree)
	if err != nil {
		return nil, err
	}
	proof.ChallengePoints = points
	proof.ChallengeEvals = make([]field.Element, len(points))
	for i, x := range points {
		if proof.ChallengeEvals[i], err = a.evaluate(x); err != nil {
			return nil, fmt.Errorf("evaluating challenge %d: %w", i, err)
		}
	}
	return proof, nil
}

// challengePoints draws NumChallenges points outside domain[:degree].
func (a *Accumulator) challengePoints(root []byte, degree int) ([]field.Element, error) {
	seed := a.challengeSeed(root, degree)
	points := make([]field.Element, 0, a.cfg.NumChallenges)
	limit := uint32(a.cfg.NumChallenges * maxResamples)
	for counter := uint32(0); len(points) < a.cfg.NumChallenges; counter++ {
		if counter == limit {
			return nil, ErrChallengeSampling
		}
		x, err := a.challenger.Challenge(seed, counter)
		if err != nil {
			return nil, fmt.Errorf("sampling challenge: %w", err)
		}
		if slices.Contains(a.domain[:degree], x) {
			continue
		}
		points = append(points, x)
	}
	return points, nil
}

// challengeSeed binds out-of-domain challenges to the commitment and the
// public parameters.
func (a *Accumulator) challengeSeed(root []byte, degree int) []byte {
	seed := make([]byte, 0, 3+len(root)+16)
	seed = append(seed, "ood"...)
	seed = append(seed, root...)
	seed = binary.BigEndian.AppendUint64(seed, uint64(degree))
	seed = binary.BigEndian.AppendUint64(seed, uint64(len(a.domain)))
	return seed
}

func (a *Accumulator) foldSeed(other *Accumulator) []byte {
	mine, theirs := a.tree.Root(), other.tree.Root()
	seed := make([]byte, 0, 4+len(mine)+len(theirs))
	seed = append(seed, "fold"...)
	seed = append(seed, mine...)
	return append(seed, theirs...)
}

func (a *Accumulator) evaluate(x field.Element) (field.Element, error) {
	points := a.domain[:a.degree]
	weights := a.weights
	if len(weights) != a.degree {
		var err error
		if weights, err = barycentricWeights(points); err != nil {
			return field.Element{}, err
		}
	}
	return interpolate(points, a.evals[:a.degree], weights, x)
}
