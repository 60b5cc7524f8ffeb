package worker

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	group "github.com/bytemare/crypto"

	"github.com/proofmesh/proofmesh-network/internal/circuit"
	"github.com/proofmesh/proofmesh-network/internal/schnorr"
	"github.com/proofmesh/proofmesh-network/internal/sharing"
	"github.com/proofmesh/proofmesh-network/internal/wire"
)

var g = group.Ristretto255Sha512

func newTestService() *Service {
	return New("w-test", ":0", g, circuit.NewRegistry(circuit.RollupV1{}))
}

func post(t *testing.T, s *Service, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func deliverShare(t *testing.T, s *Service, sessionID string) sharing.Share {
	t.Helper()
	shares, err := sharing.Split(g, g.NewScalar().Random(), 3, 2)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	rr := post(t, s, wire.PathWorkerShare, wire.ShareRequest{
		SessionID: sessionID, Index: shares[0].Index, Share: shares[0].Value.Encode(), Threshold: 2,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("share delivery: %d %s", rr.Code, rr.Body.String())
	}
	return shares[0]
}

func TestHandleShare_IdempotentAndConflict(t *testing.T) {
	s := newTestService()
	share := deliverShare(t, s, "s1")

	// identical re-delivery is a no-op
	rr := post(t, s, wire.PathWorkerShare, wire.ShareRequest{SessionID: "s1", Index: share.Index, Share: share.Value.Encode(), Threshold: 2})
	if rr.Code != http.StatusOK {
		t.Fatalf("re-delivery rejected: %d", rr.Code)
	}
	// a different share for the same session is a conflict
	rr = post(t, s, wire.PathWorkerShare, wire.ShareRequest{SessionID: "s1", Index: share.Index + 1, Share: share.Value.Encode(), Threshold: 2})
	if rr.Code != http.StatusConflict {
		t.Fatalf("conflicting delivery accepted: %d", rr.Code)
	}
}

func TestHandleCommit_IdempotentPerRound(t *testing.T) {
	s := newTestService()
	deliverShare(t, s, "s1")

	var first, second wire.PartialCommitResponse
	rr := post(t, s, wire.PathWorkerCommit, wire.PartialCommitRequest{SessionID: "s1", Round: 1})
	if rr.Code != http.StatusOK {
		t.Fatalf("commit: %d %s", rr.Code, rr.Body.String())
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &first)
	rr = post(t, s, wire.PathWorkerCommit, wire.PartialCommitRequest{SessionID: "s1", Round: 1})
	_ = json.Unmarshal(rr.Body.Bytes(), &second)
	if !bytes.Equal(first.Point, second.Point) {
		t.Fatalf("coordinator retry observed a different nonce point")
	}

	rr = post(t, s, wire.PathWorkerCommit, wire.PartialCommitRequest{SessionID: "s1", Round: 2})
	var other wire.PartialCommitResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &other)
	if bytes.Equal(first.Point, other.Point) {
		t.Fatalf("nonce reused across rounds")
	}
}

func TestHandleRespond_RequiresCommitAndVerifies(t *testing.T) {
	s := newTestService()
	share := deliverShare(t, s, "s1")

	challenge := g.NewScalar().Random()
	rr := post(t, s, wire.PathWorkerRespond, wire.PartialRespondRequest{SessionID: "s1", Round: 1, Challenge: challenge.Encode()})
	if rr.Code != http.StatusPreconditionFailed {
		t.Fatalf("respond before commit: %d", rr.Code)
	}

	rr = post(t, s, wire.PathWorkerCommit, wire.PartialCommitRequest{SessionID: "s1", Round: 1})
	var commit wire.PartialCommitResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &commit)

	rr = post(t, s, wire.PathWorkerRespond, wire.PartialRespondRequest{SessionID: "s1", Round: 1, Challenge: challenge.Encode()})
	if rr.Code != http.StatusOK {
		t.Fatalf("respond: %d %s", rr.Code, rr.Body.String())
	}
	var resp wire.PartialRespondResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)

	// g^{s_i} == R_i + X_i*c must hold for the partial values
	value := g.NewScalar()
	if err := value.Decode(resp.Value); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	point := g.NewElement()
	if err := point.Decode(commit.Point); err != nil {
		t.Fatalf("decode point: %v", err)
	}
	lhs := g.Base().Multiply(value)
	rhs := point.Add(g.Base().Multiply(share.Value).Multiply(challenge))
	if lhs.Equal(rhs) != 1 {
		t.Fatalf("partial response does not satisfy the partial equation")
	}
}

func TestHandleTeardown_WipesSession(t *testing.T) {
	s := newTestService()
	deliverShare(t, s, "s1")
	if s.store.Sessions() != 1 {
		t.Fatalf("sessions=%d", s.store.Sessions())
	}
	post(t, s, wire.PathWorkerTeardown, wire.TeardownRequest{SessionID: "s1"})
	if s.store.Sessions() != 0 {
		t.Fatalf("session survived teardown")
	}
	rr := post(t, s, wire.PathWorkerCommit, wire.PartialCommitRequest{SessionID: "s1", Round: 1})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("commit after teardown: %d", rr.Code)
	}
}

func TestHandleShare_ExpiredSession(t *testing.T) {
	s := newTestService()
	shares, _ := sharing.Split(g, g.NewScalar().Random(), 3, 2)
	post(t, s, wire.PathWorkerShare, wire.ShareRequest{
		SessionID: "old", Index: shares[0].Index, Share: shares[0].Value.Encode(),
		Threshold: 2, ExpiresAt: time.Now().Add(-time.Minute).Unix(),
	})
	rr := post(t, s, wire.PathWorkerCommit, wire.PartialCommitRequest{SessionID: "old", Round: 1})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expired session served: %d", rr.Code)
	}
}

func TestHandleChunk_ProvesAndRejects(t *testing.T) {
	s := newTestService()
	req := wire.ChunkProveRequest{
		BatchID: "b1", Circuit: string(circuit.KindRollupV1), ChunkIndex: 0,
		PreStateRoot: bytes.Repeat([]byte{1}, 32),
		Txs:          []wire.Tx{{From: "a", To: "b", Amount: 1, Nonce: 0}},
	}
	rr := post(t, s, wire.PathWorkerChunk, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("chunk prove: %d %s", rr.Code, rr.Body.String())
	}
	var resp wire.ChunkProveResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if len(resp.Proof) == 0 || len(resp.PostStateRoot) == 0 {
		t.Fatalf("empty chunk proof body")
	}

	req.Circuit = string(circuit.KindShieldedTransferV2)
	if rr := post(t, s, wire.PathWorkerChunk, req); rr.Code != http.StatusNotImplemented {
		t.Fatalf("unimplemented circuit: %d", rr.Code)
	}
	req.Circuit = "bogus"
	if rr := post(t, s, wire.PathWorkerChunk, req); rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown circuit: %d", rr.Code)
	}
}

func TestHandlers_MethodAndBodyValidation(t *testing.T) {
	s := newTestService()
	req := httptest.NewRequest(http.MethodGet, wire.PathWorkerCommit, nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET commit: %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, wire.PathWorkerCommit, bytes.NewBufferString("{"))
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad json: %d", rr.Code)
	}
}

// The store must emit partials that combine into a verifying transcript.
func TestStore_PartialsCombine(t *testing.T) {
	secret := g.NewScalar().Random()
	shares, _ := sharing.Split(g, secret, 3, 2)
	publicKey := g.Base().Multiply(secret)

	stores := make([]*Store, 3)
	partials := make([]schnorr.PartialCommitment, 3)
	for i, sh := range shares {
		stores[i] = NewStore(g)
		if err := stores[i].PutShare("s", sh.Index, sh.Value.Encode(), 2, time.Time{}); err != nil {
			t.Fatalf("put share: %v", err)
		}
		idx, point, err := stores[i].Commit("s", 1)
		if err != nil {
			t.Fatalf("commit: %v", err)
		}
		partials[i] = schnorr.PartialCommitment{Index: idx, Point: point}
	}

	commitment, subset, err := schnorr.CombineCommitments(g, partials, 2)
	if err != nil {
		t.Fatalf("combine commitments: %v", err)
	}
	message := []byte("store partials")
	challenge := schnorr.Challenge(g, commitment, publicKey, message)

	responses := make([]schnorr.PartialResponse, 0, len(subset))
	for i, sh := range shares {
		for _, idx := range subset {
			if sh.Index == idx {
				_, value, err := stores[i].Respond("s", 1, challenge)
				if err != nil {
					t.Fatalf("respond: %v", err)
				}
				responses = append(responses, schnorr.PartialResponse{Index: idx, Value: value})
			}
		}
	}
	response, err := schnorr.CombineResponses(g, responses, subset)
	if err != nil {
		t.Fatalf("combine responses: %v", err)
	}
	tr := &schnorr.Transcript{Commitment: commitment, Challenge: challenge, Response: response}
	if !schnorr.Verify(g, publicKey, message, tr) {
		t.Fatalf("worker partials did not combine into a valid transcript")
	}
}
