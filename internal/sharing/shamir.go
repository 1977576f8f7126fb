// Package sharing implements Shamir threshold secret sharing over the same
// prime-order scalar field used by internal/voprf, in the shape of
// wurp-go-oprf's toprf package and cloudflare/circl/secretsharing's
// Recover, adapted to github.com/bytemare/ecc scalars so both primitives
// share one field.
package sharing

import (
	"errors"
	"fmt"

	"github.com/bytemare/ecc"
)

func group() ecc.Group {
	return ecc.Group(ecc.Ristretto255Sha512)
}

// ErrThreshold is returned when threshold/count parameters are invalid.
var ErrThreshold = errors.New("sharing: threshold must be >= 1 and <= count <= 255")

// ErrDuplicateIndex is returned when two shares given to Reconstruct carry
// the same index.
var ErrDuplicateIndex = errors.New("sharing: duplicate share index")

// ErrTooFewShares is returned when Reconstruct is given fewer shares than
// the threshold requires the caller to supply.
var ErrTooFewShares = errors.New("sharing: fewer shares than required threshold")

// Share is one point (index, value) on the sharing polynomial. Index is in
// 1..=255 and unique within a single CreateShares call.
type Share struct {
	Index uint8
	Value *ecc.Scalar
}

// CreateShares splits secret into count shares such that any threshold of
// them reconstruct it via Lagrange interpolation, and fewer reveal nothing
// information-theoretically. Indexes are 1..count, in order.
func CreateShares(secret *ecc.Scalar, threshold, count uint8) ([]Share, error) {
	if threshold < 1 || threshold > count || count == 0 {
		return nil, ErrThreshold
	}

	// Random polynomial f(x) = secret + a1*x + ... + a_{t-1}*x^(t-1).
	coeffs := make([]*ecc.Scalar, threshold)
	coeffs[0] = secret.Copy()
	for i := 1; i < int(threshold); i++ {
		coeffs[i] = group().NewScalar().Random()
	}

	shares := make([]Share, count)
	for idx := uint8(1); idx <= count; idx++ {
		shares[idx-1] = Share{
			Index: idx,
			Value: evaluatePolynomial(coeffs, idx),
		}
	}

	return shares, nil
}

func evaluatePolynomial(coeffs []*ecc.Scalar, x uint8) *ecc.Scalar {
	xs := scalarFromUint8(x)

	// Horner's method: walk coefficients from highest degree down.
	acc := group().NewScalar().Zero()
	for i := len(coeffs) - 1; i >= 0; i-- {
		acc = acc.Multiply(xs).Add(coeffs[i])
	}

	return acc
}

func scalarFromUint8(x uint8) *ecc.Scalar {
	s := group().NewScalar()
	s.SetUInt64(uint64(x))
	return s
}

// Reconstruct recovers the secret from at least `threshold` shares using
// Lagrange interpolation at x=0, using only the first `threshold` of them.
// It returns ErrTooFewShares when len(shares) < threshold. The caller is
// responsible for passing exactly the shares it trusts; a `threshold`
// argument lower than the one given to CreateShares yields a value
// unrelated to the real secret rather than an error.
func Reconstruct(shares []Share, threshold uint8) (*ecc.Scalar, error) {
	if len(shares) < int(threshold) {
		return nil, ErrTooFewShares
	}

	used := shares[:threshold]

	seen := make(map[uint8]bool, len(used))
	for _, s := range used {
		if seen[s.Index] {
			return nil, ErrDuplicateIndex
		}
		seen[s.Index] = true
	}

	indices := make([]uint8, len(used))
	for i, s := range used {
		indices[i] = s.Index
	}

	coeffs, err := LagrangeCoefficientsAtZero(indices)
	if err != nil {
		return nil, err
	}

	acc := group().NewScalar().Zero()
	for i, si := range used {
		acc = acc.Add(si.Value.Copy().Multiply(coeffs[i]))
	}

	return acc, nil
}

// LagrangeCoefficientsAtZero computes, for each index in indices, the
// Lagrange basis polynomial of those indices evaluated at x=0: product
// over j != i of (0 - x_j) / (x_i - x_j). Any value indexed the same way
// Shamir shares are — not just the shares themselves — can be linearly
// recombined with these coefficients; internal/voprf's threshold combiner
// uses this to recombine group elements rather than scalars.
func LagrangeCoefficientsAtZero(indices []uint8) ([]*ecc.Scalar, error) {
	coeffs := make([]*ecc.Scalar, len(indices))
	for i := range indices {
		c, err := lagrangeCoefficientAtZero(indices, i)
		if err != nil {
			return nil, err
		}
		coeffs[i] = c
	}
	return coeffs, nil
}

// lagrangeCoefficientAtZero computes the i-th Lagrange basis polynomial of
// `indices` evaluated at x=0.
func lagrangeCoefficientAtZero(indices []uint8, i int) (*ecc.Scalar, error) {
	xi := scalarFromUint8(indices[i])

	num := group().NewScalar()
	num.SetUInt64(1)
	den := group().NewScalar()
	den.SetUInt64(1)

	for j, xjIdx := range indices {
		if j == i {
			continue
		}
		xj := scalarFromUint8(xjIdx)

		num = num.Multiply(xj.Copy().Negate())
		diff := xi.Copy().Subtract(xj)
		if diff.IsZero() {
			return nil, fmt.Errorf("sharing: duplicate share index %d", indices[i])
		}
		den = den.Multiply(diff)
	}

	return num.Multiply(den.Invert()), nil
}
