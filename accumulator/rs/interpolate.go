package rs

import (
	"fmt"

	"github.com/spacemeshos/endgame/field"
)

// barycentricWeights returns w_i = 1 / prod_{j != i} (points[i] - points[j]).
// Points must be pairwise distinct.
//
// This is the O(n^2) brute-force construction. Over a multiplicative subgroup
// domain the weights have a closed form and evaluation can move to an FFT.
func barycentricWeights(points []field.Element) ([]field.Element, error) {
	weights := make([]field.Element, len(points))
	for i := range points {
		denominator := field.One()
		for j := range points {
			if i != j {
				denominator = denominator.Mul(points[i].Sub(points[j]))
			}
		}
		w, err := denominator.Inverse()
		if err != nil {
			return nil, fmt.Errorf("weight %d: %w", i, err)
		}
		weights[i] = w
	}
	return weights, nil
}

// interpolate evaluates at x the unique polynomial of degree < len(points)
// that takes values[i] at points[i], using the first barycentric form
//
//	L(x) = prod_j (x - points[j]) * sum_i weights[i] * values[i] / (x - points[i]).
//
// A query on a domain point is answered by direct lookup, since its term
// would divide by zero.
func interpolate(points, values, weights []field.Element, x field.Element) (field.Element, error) {
	for i, p := range points {
		if p.Equal(x) {
			return values[i], nil
		}
	}

	numerator := field.One()
	for _, p := range points {
		numerator = numerator.Mul(x.Sub(p))
	}

	sum := field.Zero()
	for i, p := range points {
		term, err := weights[i].Mul(values[i]).Div(x.Sub(p))
		if err != nil {
			return field.Element{}, fmt.Errorf("term %d: %w", i, err)
		}
		sum = sum.Add(term)
	}
	return numerator.Mul(sum), nil
}
