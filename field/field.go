// Package field implements arithmetic in the prime field of order P = 2^31 - 1.
//
// Elements are immutable values. Every operation returns a new element whose
// residue is already reduced into [0, P).
package field

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// P is the field modulus (the Mersenne prime 2^31 - 1).
	P uint64 = 2_147_483_647

	// Size is the length of the canonical encoding of an element.
	Size = 8
)

var ErrDivisionByZero = errors.New("division by zero")

// Element is a residue modulo P.
type Element struct {
	v uint64
}

// New returns value mod P.
func New(value uint64) Element {
	return Element{v: value % P}
}

func Zero() Element {
	return Element{}
}

func One() Element {
	return Element{v: 1}
}

// Random draws 8 bytes from r and reduces them mod P.
// The result is unbiased enough for spot checks but carries no guarantee
// beyond "not chosen by the verifier".
func Random(r io.Reader) (Element, error) {
	var buf [Size]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Element{}, fmt.Errorf("reading randomness: %w", err)
	}
	return New(binary.LittleEndian.Uint64(buf[:])), nil
}

// FromHash maps the first 8 bytes of a digest to an element.
func FromHash(digest []byte) Element {
	var buf [Size]byte
	copy(buf[:], digest)
	return New(binary.LittleEndian.Uint64(buf[:]))
}

// FromBytes decodes the little-endian encoding produced by Bytes.
func FromBytes(b []byte) (Element, error) {
	if len(b) != Size {
		return Element{}, fmt.Errorf("invalid element encoding length %d (expected %d)", len(b), Size)
	}
	return New(binary.LittleEndian.Uint64(b)), nil
}

// Uint64 returns the normalized residue.
func (e Element) Uint64() uint64 {
	return e.v
}

func (e Element) IsZero() bool {
	return e.v == 0
}

func (e Element) Equal(o Element) bool {
	return e.v == o.v
}

// Cmp orders elements by residue.
func (e Element) Cmp(o Element) int {
	switch {
	case e.v < o.v:
		return -1
	case e.v > o.v:
		return 1
	default:
		return 0
	}
}

func (e Element) Add(o Element) Element {
	sum := e.v + o.v
	if sum >= P {
		sum -= P
	}
	return Element{v: sum}
}

func (e Element) Sub(o Element) Element {
	if e.v >= o.v {
		return Element{v: e.v - o.v}
	}
	return Element{v: P - (o.v - e.v)}
}

func (e Element) Neg() Element {
	return Zero().Sub(e)
}

// Mul multiplies two residues. Both are below 2^31 so the product fits in 64 bits.
func (e Element) Mul(o Element) Element {
	return Element{v: e.v * o.v % P}
}

// Pow computes e^exp by square-and-multiply. Pow(0) is one for every base.
func (e Element) Pow(exp uint64) Element {
	result := One()
	base := e
	for exp > 0 {
		if exp&1 == 1 {
			result = result.Mul(base)
		}
		base = base.Mul(base)
		exp >>= 1
	}
	return result
}

// Inverse returns e^(P-2), the multiplicative inverse by Fermat's little theorem.
func (e Element) Inverse() (Element, error) {
	if e.IsZero() {
		return Element{}, ErrDivisionByZero
	}
	return e.Pow(P - 2), nil
}

func (e Element) Div(o Element) (Element, error) {
	inv, err := o.Inverse()
	if err != nil {
		return Element{}, err
	}
	return e.Mul(inv), nil
}

// Bytes returns the 8-byte little-endian encoding of the residue.
// Merkle commitments are computed over this encoding.
func (e Element) Bytes() []byte {
	buf := make([]byte, Size)
	binary.LittleEndian.PutUint64(buf, e.v)
	return buf
}

func (e Element) String() string {
	return fmt.Sprintf("%d", e.v)
}

// Elements converts a list of integers into field elements.
func Elements(values ...uint64) []Element {
	out := make([]Element, len(values))
	for i, v := range values {
		out[i] = New(v)
	}
	return out
}
