// Package schnorr implements the threshold Schnorr proving protocol:
// worker-side partial contributions and the coordinator-side Lagrange
// weighted combination that turns them into a transcript verifiable under
// the plain single-party Schnorr equation.
package schnorr

import (
	"errors"
	"sort"

	group "github.com/bytemare/crypto"

	"github.com/proofmesh/proofmesh-network/internal/sharing"
)

// challengeDST domain-separates the Fiat-Shamir hash from other protocol
// hashes over the same group.
const challengeDST = "proofmesh/schnorr/v1/challenge"

var (
	// ErrThresholdNotMet is returned when a combination step receives
	// fewer qualifying partial values than the threshold.
	ErrThresholdNotMet = errors.New("threshold not met")
	// ErrSubsetMismatch is returned when the response subset differs from
	// the committed subset of a round.
	ErrSubsetMismatch = errors.New("response subset differs from committed subset")
)

// Transcript carries the three Schnorr protocol values. The challenge is
// always Fiat-Shamir derived, never chosen by a party.
type Transcript struct {
	Commitment *group.Element
	Challenge  *group.Scalar
	Response   *group.Scalar
}

// PartialCommitment is one worker's nonce point R_i = g^{r_i}.
type PartialCommitment struct {
	Index uint32
	Point *group.Element
}

// PartialResponse is one worker's response scalar s_i = r_i + c*x_i.
type PartialResponse struct {
	Index uint32
	Value *group.Scalar
}

// Challenge derives the Fiat-Shamir challenge from the aggregate
// commitment, the public key, the message, and any extra binding inputs
// (the blind variant passes the witness commitment here).
func Challenge(g group.Group, commitment, publicKey *group.Element, message []byte, binding ...[]byte) *group.Scalar {
	input := make([]byte, 0, 128)
	input = append(input, commitment.Encode()...)
	input = append(input, publicKey.Encode()...)
	input = append(input, message...)
	for _, b := range binding {
		input = append(input, b...)
	}
	return g.HashToScalar(input, []byte(challengeDST))
}

// Commit samples a fresh nonce and returns it with its public point.
// Run worker-side, once per (session, round).
func Commit(g group.Group) (nonce *group.Scalar, point *group.Element) {
	nonce = g.NewScalar().Random()
	return nonce, g.Base().Multiply(nonce)
}

// Respond computes a worker's partial response from its share, its round
// nonce, and the broadcast challenge.
func Respond(share, nonce, challenge *group.Scalar) *group.Scalar {
	return nonce.Copy().Add(challenge.Copy().Multiply(share))
}

// sortedSubset validates distinct non-zero indices and returns the k lowest
// partial indices in ascending order.
func sortedSubset(indices []uint32, k uint32) ([]uint32, error) {
	if k == 0 {
		return nil, sharing.ErrThresholdIsZero
	}
	if uint32(len(indices)) < k {
		return nil, ErrThresholdNotMet
	}
	seen := make(map[uint32]struct{}, len(indices))
	for _, i := range indices {
		if i == 0 {
			return nil, sharing.ErrZeroIndex
		}
		if _, dup := seen[i]; dup {
			return nil, sharing.ErrDuplicateIndex
		}
		seen[i] = struct{}{}
	}
	out := append([]uint32(nil), indices...)
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out[:k], nil
}

// CombineCommitments folds at least k partial commitments into the
// aggregate commitment R = sum(lambda_i * R_i) and returns the index subset
// the weights were computed over. The response phase must use exactly that
// subset.
func CombineCommitments(g group.Group, partials []PartialCommitment, k uint32) (*group.Element, []uint32, error) {
	indices := make([]uint32, len(partials))
	byIndex := make(map[uint32]*group.Element, len(partials))
	for i, p := range partials {
		indices[i] = p.Index
		byIndex[p.Index] = p.Point
	}
	subset, err := sortedSubset(indices, k)
	if err != nil {
		return nil, nil, err
	}

	acc := g.NewElement()
	for _, idx := range subset {
		lambda, err := sharing.LagrangeCoefficient(g, idx, subset)
		if err != nil {
			return nil, nil, err
		}
		acc.Add(byIndex[idx].Copy().Multiply(lambda))
	}
	return acc, subset, nil
}

// CombineResponses folds the partial responses of the committed subset into
// the final response scalar. Every subset member must be present exactly
// once.
func CombineResponses(g group.Group, partials []PartialResponse, subset []uint32) (*group.Scalar, error) {
	if len(partials) != len(subset) {
		return nil, ErrSubsetMismatch
	}
	byIndex := make(map[uint32]*group.Scalar, len(partials))
	for _, p := range partials {
		if _, dup := byIndex[p.Index]; dup {
			return nil, sharing.ErrDuplicateIndex
		}
		byIndex[p.Index] = p.Value
	}

	acc := g.NewScalar().Zero()
	for _, idx := range subset {
		v, ok := byIndex[idx]
		if !ok {
			return nil, ErrSubsetMismatch
		}
		lambda, err := sharing.LagrangeCoefficient(g, idx, subset)
		if err != nil {
			return nil, err
		}
		acc.Add(v.Copy().Multiply(lambda))
	}
	return acc, nil
}

// Verify checks the standalone Schnorr equation
// g^response == commitment + publicKey*challenge after recomputing the
// challenge from the transcript and context. Pure function, no network.
func Verify(g group.Group, publicKey *group.Element, message []byte, t *Transcript, binding ...[]byte) bool {
	if t == nil || t.Commitment == nil || t.Challenge == nil || t.Response == nil {
		return false
	}
	expected := Challenge(g, t.Commitment, publicKey, message, binding...)
	if expected.Equal(t.Challenge) != 1 {
		return false
	}
	lhs := g.Base().Multiply(t.Response)
	rhs := t.Commitment.Copy().Add(publicKey.Copy().Multiply(t.Challenge))
	return lhs.Equal(rhs) == 1
}

// ProveSingle produces a transcript with the whole secret in one place.
// Threshold transcripts are required to be indistinguishable from its
// output; tests pin that equivalence.
func ProveSingle(g group.Group, secret *group.Scalar, message []byte, binding ...[]byte) *Transcript {
	nonce, point := Commit(g)
	publicKey := g.Base().Multiply(secret)
	c := Challenge(g, point, publicKey, message, binding...)
	return &Transcript{Commitment: point, Challenge: c, Response: Respond(secret, nonce, c)}
}
