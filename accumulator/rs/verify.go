package rs

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/spacemeshos/endgame/merkle"
)

var (
	ErrProofMalformed          = errors.New("malformed proof")
	ErrProofVerificationFailed = errors.New("proof verification failed")
)

// Verify reports whether proof is valid for this accumulator.
func (a *Accumulator) Verify(proof *Proof) bool {
	if err := a.Check(proof); err != nil {
		a.logger.Debug("proof rejected", zap.Error(err))
		return false
	}
	return true
}

// Check verifies proof and returns every failed check. Openings are checked
// against the proof's own Merkle root; challenge evaluations are recomputed
// from this accumulator's evaluations, which ties the proof to the polynomial
// the verifier holds.
func (a *Accumulator) Check(proof *Proof) error {
	if err := a.checkShape(proof); err != nil {
		return err
	}

	var result *multierror.Error
	for i, index := range proof.EvalIndices {
		if expected := uint64(i) % proof.Degree; index != expected {
			result = multierror.Append(result, fmt.Errorf("%w: opening %d is for position %d (expected %d)",
				ErrProofVerificationFailed, i, index, expected))
			continue
		}
		ok, err := merkle.Verify(proof.MerkleRoot, proof.DomainEvals[i].Bytes(), proof.MerkleProofs[i], index, proof.Degree)
		switch {
		case err != nil:
			result = multierror.Append(result, fmt.Errorf("%w: opening %d: %v", ErrProofVerificationFailed, i, err))
		case !ok:
			result = multierror.Append(result, fmt.Errorf("%w: merkle path for position %d", ErrProofVerificationFailed, index))
		}
	}

	if a.degree == 0 {
		result = multierror.Append(result, fmt.Errorf("%w: accumulator holds no state", ErrProofVerificationFailed))
		return result.ErrorOrNil()
	}

	if a.derivesChallenges() {
		if err := a.checkTranscript(proof); err != nil {
			result = multierror.Append(result, err)
		}
	}

	for i, x := range proof.ChallengePoints {
		y, err := a.evaluate(x)
		switch {
		case err != nil:
			result = multierror.Append(result, fmt.Errorf("%w: challenge %d: %v", ErrProofVerificationFailed, i, err))
		case !y.Equal(proof.ChallengeEvals[i]):
			result = multierror.Append(result, fmt.Errorf("%w: challenge %d evaluates to %v (claimed %v)",
				ErrProofVerificationFailed, i, y, proof.ChallengeEvals[i]))
		}
	}
	return result.ErrorOrNil()
}

func (a *Accumulator) checkShape(proof *Proof) error {
	switch {
	case proof == nil:
		return fmt.Errorf("%w: nil proof", ErrProofMalformed)
	case proof.Degree == 0 || proof.Degree > uint64(len(a.domain)):
		return fmt.Errorf("%w: degree %d", ErrProofMalformed, proof.Degree)
	case len(proof.MerkleRoot) != merkle.NodeSize:
		return fmt.Errorf("%w: root length %d", ErrProofMalformed, len(proof.MerkleRoot))
	case len(proof.EvalIndices) != a.cfg.NumChallenges ||
		len(proof.DomainEvals) != a.cfg.NumChallenges ||
		len(proof.MerkleProofs) != a.cfg.NumChallenges:
		return fmt.Errorf("%w: %d indices, %d evaluations, %d paths (expected %d)", ErrProofMalformed,
			len(proof.EvalIndices), len(proof.DomainEvals), len(proof.MerkleProofs), a.cfg.NumChallenges)
	case len(proof.ChallengePoints) != a.cfg.NumChallenges ||
		len(proof.ChallengeEvals) != a.cfg.NumChallenges:
		return fmt.Errorf("%w: %d challenge points, %d challenge evaluations (expected %d)", ErrProofMalformed,
			len(proof.ChallengePoints), len(proof.ChallengeEvals), a.cfg.NumChallenges)
	}
	return nil
}

// derivesChallenges reports whether challenge points are fixed by the
// commitment and must be re-derived when checking a proof. A challenger
// wrapping the transcript one is covered by the config.
func (a *Accumulator) derivesChallenges() bool {
	if a.cfg.Challenges == ChallengesTranscript {
		return true
	}
	_, ok := a.challenger.(*TranscriptChallenger)
	return ok
}

// checkTranscript re-derives the challenge points from the proof's commitment.
func (a *Accumulator) checkTranscript(proof *Proof) error {
	expected, err := a.challengePoints(proof.MerkleRoot, int(proof.Degree))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProofVerificationFailed, err)
	}
	for i, x := range expected {
		if !x.Equal(proof.ChallengePoints[i]) {
			return fmt.Errorf("%w: challenge %d is %v (transcript gives %v)",
				ErrProofVerificationFailed, i, proof.ChallengePoints[i], x)
		}
	}
	return nil
}
