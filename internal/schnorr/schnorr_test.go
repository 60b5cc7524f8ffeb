package schnorr

import (
	"bytes"
	"testing"

	group "github.com/bytemare/crypto"

	"github.com/proofmesh/proofmesh-network/internal/sharing"
)

var g = group.Ristretto255Sha512

// runRound simulates a full threshold round in-process: each share holder
// commits, the combiner derives the challenge, each holder responds.
func runRound(t *testing.T, secret *group.Scalar, n, k uint32, message []byte, binding ...[]byte) *Transcript {
	t.Helper()
	shares, err := sharing.Split(g, secret, n, k)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	publicKey := g.Base().Multiply(secret)

	nonces := make(map[uint32]*group.Scalar, n)
	partials := make([]PartialCommitment, 0, n)
	for _, s := range shares {
		nonce, point := Commit(g)
		nonces[s.Index] = nonce
		partials = append(partials, PartialCommitment{Index: s.Index, Point: point})
	}

	commitment, subset, err := CombineCommitments(g, partials, k)
	if err != nil {
		t.Fatalf("combine commitments: %v", err)
	}
	challenge := Challenge(g, commitment, publicKey, message, binding...)

	responses := make([]PartialResponse, 0, len(subset))
	for _, s := range shares {
		for _, idx := range subset {
			if s.Index == idx {
				responses = append(responses, PartialResponse{
					Index: s.Index,
					Value: Respond(s.Value, nonces[s.Index], challenge),
				})
			}
		}
	}
	response, err := CombineResponses(g, responses, subset)
	if err != nil {
		t.Fatalf("combine responses: %v", err)
	}
	return &Transcript{Commitment: commitment, Challenge: challenge, Response: response}
}

func TestThresholdProve_VerifiesForAllKN(t *testing.T) {
	message := []byte("threshold round-trip")
	for n := uint32(1); n <= 5; n++ {
		for k := uint32(1); k <= n; k++ {
			secret := g.NewScalar().Random()
			tr := runRound(t, secret, n, k, message)
			if !Verify(g, g.Base().Multiply(secret), message, tr) {
				t.Fatalf("n=%d k=%d: transcript failed verification", n, k)
			}
		}
	}
}

func TestVerify_RejectsTampering(t *testing.T) {
	secret := g.NewScalar().Random()
	publicKey := g.Base().Multiply(secret)
	message := []byte("bind me")
	tr := runRound(t, secret, 4, 3, message)

	if Verify(g, publicKey, []byte("other message"), tr) {
		t.Fatalf("verification passed for a different message")
	}
	forged := &Transcript{Commitment: tr.Commitment, Challenge: tr.Challenge, Response: g.NewScalar().Random()}
	if Verify(g, publicKey, message, forged) {
		t.Fatalf("verification passed for a forged response")
	}
	otherKey := g.Base().Multiply(g.NewScalar().Random())
	if Verify(g, otherKey, message, tr) {
		t.Fatalf("verification passed under a different public key")
	}
}

// A threshold transcript must satisfy the same equation as a single-party
// proof over the same secret.
func TestThresholdMatchesSingleProverEquation(t *testing.T) {
	secret := g.NewScalar().Random()
	publicKey := g.Base().Multiply(secret)
	message := []byte("equivalence")
	if !Verify(g, publicKey, message, ProveSingle(g, secret, message)) {
		t.Fatalf("single-party transcript failed verification")
	}
	if !Verify(g, publicKey, message, runRound(t, secret, 5, 3, message)) {
		t.Fatalf("threshold transcript failed the single-party equation")
	}
}

func TestCombineCommitments_ThresholdNotMet(t *testing.T) {
	_, point := Commit(g)
	partials := []PartialCommitment{{Index: 1, Point: point}}
	if _, _, err := CombineCommitments(g, partials, 2); err != ErrThresholdNotMet {
		t.Fatalf("want ErrThresholdNotMet, got %v", err)
	}
}

func TestCombineCommitments_PicksLowestIndices(t *testing.T) {
	partials := make([]PartialCommitment, 0, 4)
	for _, idx := range []uint32{5, 2, 4, 1} {
		_, point := Commit(g)
		partials = append(partials, PartialCommitment{Index: idx, Point: point})
	}
	_, subset, err := CombineCommitments(g, partials, 3)
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	want := []uint32{1, 2, 4}
	for i := range want {
		if subset[i] != want[i] {
			t.Fatalf("subset=%v want=%v", subset, want)
		}
	}
}

func TestCombineResponses_SubsetMismatch(t *testing.T) {
	r := []PartialResponse{{Index: 1, Value: g.NewScalar().Random()}, {Index: 3, Value: g.NewScalar().Random()}}
	if _, err := CombineResponses(g, r, []uint32{1, 2}); err != ErrSubsetMismatch {
		t.Fatalf("want ErrSubsetMismatch, got %v", err)
	}
	if _, err := CombineResponses(g, r[:1], []uint32{1, 3}); err != ErrSubsetMismatch {
		t.Fatalf("want ErrSubsetMismatch for short responses, got %v", err)
	}
}

func TestBlind_RevealBinding(t *testing.T) {
	witness := []byte("the hidden witness")
	salt := []byte("0123456789abcdef")
	commitment := CommitWitness(witness, salt)

	if err := VerifyReveal(witness, salt, commitment); err != nil {
		t.Fatalf("honest reveal rejected: %v", err)
	}
	if err := VerifyReveal([]byte("tampered"), salt, commitment); err != ErrWitnessCommitmentMismatch {
		t.Fatalf("tampered witness accepted: %v", err)
	}
	if err := VerifyReveal(witness, []byte("wrong salt value!"), commitment); err != ErrWitnessCommitmentMismatch {
		t.Fatalf("tampered salt accepted: %v", err)
	}
}

func TestBlind_ProofBindsCommitment(t *testing.T) {
	commitment := CommitWitness([]byte("w"), []byte("s"))
	secret := SecretFromCommitment(g, commitment)
	publicKey := g.Base().Multiply(secret)
	message := []byte("blind prove")

	tr := runRound(t, secret, 4, 2, message, commitment)
	proof := &BlindProof{WitnessCommitment: commitment, Transcript: *tr}
	if !VerifyBlind(g, publicKey, message, proof) {
		t.Fatalf("blind proof failed verification")
	}

	other := CommitWitness([]byte("w2"), []byte("s2"))
	if bytes.Equal(other, commitment) {
		t.Fatalf("distinct witnesses hashed to the same commitment")
	}
	proof.WitnessCommitment = other
	if VerifyBlind(g, publicKey, message, proof) {
		t.Fatalf("blind proof verified under a swapped commitment")
	}
}

func TestSecretFromCommitment_Deterministic(t *testing.T) {
	c := CommitWitness([]byte("w"), []byte("s"))
	if SecretFromCommitment(g, c).Equal(SecretFromCommitment(g, c)) != 1 {
		t.Fatalf("secret derivation is not deterministic")
	}
}
