// Package sharing implements (k,n) Shamir secret sharing over a prime-order
// group. The secret is the constant term of a random degree-(k-1)
// polynomial; shares are evaluations at x=1..n. Any k distinct shares
// recover the secret by Lagrange interpolation at x=0.
package sharing

import (
	"errors"

	group "github.com/bytemare/crypto"
)

var (
	// ErrInsufficientShares is returned when fewer than threshold shares
	// are supplied to Combine.
	ErrInsufficientShares = errors.New("insufficient shares")
	// ErrDuplicateIndex is returned when two shares carry the same
	// evaluation point.
	ErrDuplicateIndex = errors.New("duplicate share index")
	// ErrThresholdIsZero rejects k == 0.
	ErrThresholdIsZero = errors.New("threshold is zero")
	// ErrTooFewNodes rejects n < k.
	ErrTooFewNodes = errors.New("total nodes below threshold")
	// ErrZeroIndex rejects shares evaluated at x == 0, which would leak
	// the secret directly.
	ErrZeroIndex = errors.New("share index is zero")
)

// Share is one point on the sharing polynomial.
type Share struct {
	Index uint32
	Value *group.Scalar
}

// polynomial holds k coefficients, constant term first.
type polynomial []*group.Scalar

// evaluate computes p(x) with Horner's method.
func (p polynomial) evaluate(g group.Group, x *group.Scalar) *group.Scalar {
	value := g.NewScalar().Zero().Add(p[len(p)-1])
	for i := len(p) - 2; i >= 0; i-- {
		value.Multiply(x)
		value.Add(p[i])
	}
	return value
}

// Split shards secret into n shares with threshold k. A nil secret is
// replaced by a fresh random scalar. The polynomial is zeroed before
// returning so only the shares survive the call.
func Split(g group.Group, secret *group.Scalar, n, k uint32) ([]Share, error) {
	if k == 0 {
		return nil, ErrThresholdIsZero
	}
	if n < k {
		return nil, ErrTooFewNodes
	}
	if secret == nil {
		secret = g.NewScalar().Random()
	}

	p := make(polynomial, k)
	p[0] = secret.Copy()
	for i := uint32(1); i < k; i++ {
		p[i] = g.NewScalar().Random()
	}

	shares := make([]Share, n)
	for i := uint32(1); i <= n; i++ {
		x := g.NewScalar().SetUInt64(uint64(i))
		shares[i-1] = Share{Index: i, Value: p.evaluate(g, x)}
	}

	for _, c := range p {
		c.Zero()
	}
	return shares, nil
}

// LagrangeCoefficient derives lambda_i(0) for the interpolation subset given
// by indices. Every index must be non-zero and distinct, and i must be a
// member of the subset.
func LagrangeCoefficient(g group.Group, i uint32, indices []uint32) (*group.Scalar, error) {
	if i == 0 {
		return nil, ErrZeroIndex
	}
	found := false
	seen := make(map[uint32]struct{}, len(indices))
	for _, j := range indices {
		if j == 0 {
			return nil, ErrZeroIndex
		}
		if _, dup := seen[j]; dup {
			return nil, ErrDuplicateIndex
		}
		seen[j] = struct{}{}
		if j == i {
			found = true
		}
	}
	if !found {
		return nil, errors.New("index not in interpolation subset")
	}

	xi := g.NewScalar().SetUInt64(uint64(i))
	numerator := g.NewScalar().One()
	denominator := g.NewScalar().One()
	for _, j := range indices {
		if j == i {
			continue
		}
		xj := g.NewScalar().SetUInt64(uint64(j))
		numerator.Multiply(xj)
		denominator.Multiply(xj.Copy().Subtract(xi))
	}
	return numerator.Multiply(denominator.Invert()), nil
}

// Combine recovers the secret from at least k shares with distinct indices.
// Exactly the first k shares (after index validation) take part in the
// interpolation, so any qualifying subset of one sharing yields the same
// secret.
func Combine(g group.Group, shares []Share, k uint32) (*group.Scalar, error) {
	if k == 0 {
		return nil, ErrThresholdIsZero
	}
	if uint32(len(shares)) < k {
		return nil, ErrInsufficientShares
	}
	seen := make(map[uint32]struct{}, len(shares))
	for _, s := range shares {
		if s.Index == 0 {
			return nil, ErrZeroIndex
		}
		if _, dup := seen[s.Index]; dup {
			return nil, ErrDuplicateIndex
		}
		seen[s.Index] = struct{}{}
	}

	subset := shares[:k]
	indices := make([]uint32, k)
	for i, s := range subset {
		indices[i] = s.Index
	}

	secret := g.NewScalar().Zero()
	for _, s := range subset {
		lambda, err := LagrangeCoefficient(g, s.Index, indices)
		if err != nil {
			return nil, err
		}
		secret.Add(s.Value.Copy().Multiply(lambda))
	}
	return secret, nil
}
