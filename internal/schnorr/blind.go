package schnorr

import (
	"crypto/hmac"
	"errors"

	group "github.com/bytemare/crypto"
	"golang.org/x/crypto/sha3"
)

// secretDST domain-separates blind session secret derivation.
const secretDST = "proofmesh/schnorr/v1/blind-secret"

// ErrWitnessCommitmentMismatch is returned when a revealed (witness, salt)
// pair does not hash to the committed value. Fatal, the proof is rejected.
var ErrWitnessCommitmentMismatch = errors.New("witness commitment mismatch")

// BlindProof ties a transcript to a committed but hidden witness.
type BlindProof struct {
	WitnessCommitment []byte
	Transcript
}

// CommitWitness computes the binding commitment SHA3-256(witness || salt).
// Run client-side before any network call.
func CommitWitness(witness, salt []byte) []byte {
	h := sha3.New256()
	h.Write(witness)
	h.Write(salt)
	return h.Sum(nil)
}

// VerifyReveal checks a revealed witness and salt against the commitment.
func VerifyReveal(witness, salt, commitment []byte) error {
	if !hmac.Equal(CommitWitness(witness, salt), commitment) {
		return ErrWitnessCommitmentMismatch
	}
	return nil
}

// SecretFromCommitment derives the blind session secret from a witness
// commitment. Deterministic, so the sharing is bound to the commitment and
// the witness never crosses the wire.
func SecretFromCommitment(g group.Group, commitment []byte) *group.Scalar {
	return g.HashToScalar(commitment, []byte(secretDST))
}

// VerifyBlind checks a blind proof: the challenge must bind the witness
// commitment in addition to the usual transcript context.
func VerifyBlind(g group.Group, publicKey *group.Element, message []byte, p *BlindProof) bool {
	if p == nil || len(p.WitnessCommitment) == 0 {
		return false
	}
	return Verify(g, publicKey, message, &p.Transcript, p.WitnessCommitment)
}
