// Package accumulator defines the contract shared by state accumulators.
//
// An accumulator commits to a state, produces a proof that a holder of the
// accumulator can check independently, and folds another accumulator of the
// same kind into itself. The Reed-Solomon scheme in package rs is one
// implementation; callers that only need the contract depend on this package.
package accumulator

// Accumulator commits to states of type S with proofs of type P. A is the
// concrete accumulator type, so Fold only accepts an accumulator of the same
// kind.
//
// Accumulate and Fold mutate the receiver and must not run concurrently with
// any other call on the same instance. Verify is read-only.
type Accumulator[A any, S any, P any] interface {
	// Accumulate commits to state and returns a proof for the new commitment.
	Accumulate(state S) (P, error)

	// Verify checks a proof against the accumulator's current commitment.
	// A false result is an ordinary outcome, not a failure of the call.
	Verify(proof P) bool

	// Fold replaces the receiver's state with a random linear combination of
	// its state and other's, and returns a proof for the combination.
	Fold(other A) (P, error)
}

// Constructor creates a fresh, empty accumulator.
type Constructor[A any] func() (A, error)

// AccumulateAll creates an accumulator per state and accumulates each state
// into its own instance. It returns the accumulators with their proofs in
// input order.
func AccumulateAll[A Accumulator[A, S, P], S any, P any](newAcc Constructor[A], states []S) ([]A, []P, error) {
	accs := make([]A, 0, len(states))
	proofs := make([]P, 0, len(states))
	for _, state := range states {
		acc, err := newAcc()
		if err != nil {
			return nil, nil, err
		}
		proof, err := acc.Accumulate(state)
		if err != nil {
			return nil, nil, err
		}
		accs = append(accs, acc)
		proofs = append(proofs, proof)
	}
	return accs, proofs, nil
}

// FoldAll folds every accumulator in others into acc, in order, and returns
// the proof of the last fold. With no others it returns the zero proof.
func FoldAll[A Accumulator[A, S, P], S any, P any](acc A, others ...A) (P, error) {
	var proof P
	for _, other := range others {
		var err error
		if proof, err = acc.Fold(other); err != nil {
			return proof, err
		}
	}
	return proof, nil
}
