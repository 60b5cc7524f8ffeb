// Package wire defines the JSON request/response contracts between
// clients, the coordinator, and workers. Keys are lower_snake_case and
// []byte fields ride as base64, stable regardless of transport.
package wire

import (
	"github.com/proofmesh/proofmesh-network/internal/circuit"
)

// Coordinator and worker route paths.
const (
	PathSetup       = "/v1/setup"
	PathProve       = "/v1/prove"
	PathVerify      = "/v1/verify"
	PathBlindSetup  = "/v1/blind/setup"
	PathBlindProve  = "/v1/blind/prove"
	PathBlindVerify = "/v1/blind/verify"
	PathBatchProve  = "/v1/batch/prove"
	PathTeardown    = "/v1/teardown"
	PathRegister    = "/v1/register"
	PathHealth      = "/health"

	PathWorkerShare    = "/v1/share"
	PathWorkerCommit   = "/v1/partial/commit"
	PathWorkerRespond  = "/v1/partial/respond"
	PathWorkerChunk    = "/v1/chunk/prove"
	PathWorkerTeardown = "/v1/session/teardown"
)

// Error is the uniform error body. Code carries the taxonomy name
// (threshold_unavailable, threshold_not_met, chunk_proving_failed, ...).
type Error struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// Proof is the wire form of a Schnorr transcript.
type Proof struct {
	Commitment []byte `json:"commitment"`
	Challenge  []byte `json:"challenge"`
	Response   []byte `json:"response"`
}

// BlindProof additionally binds the witness commitment.
type BlindProof struct {
	WitnessCommitment []byte `json:"witness_commitment"`
	Commitment        []byte `json:"commitment"`
	Challenge         []byte `json:"challenge"`
	Response          []byte `json:"response"`
}

type SetupRequest struct {
	// Secret is optional; if absent the coordinator generates one.
	Secret []byte `json:"secret,omitempty"`
}

type SetupResponse struct {
	SessionID string `json:"session_id"`
	Generator []byte `json:"generator"`
	PublicKey []byte `json:"public_key"`
	NumNodes  int    `json:"num_nodes"`
	Threshold int    `json:"threshold"`
}

type ProveRequest struct {
	SessionID string `json:"session_id"`
	Message   []byte `json:"message"`
}

type ProveData struct {
	Proof        Proof    `json:"proof"`
	Participants []uint32 `json:"participants"`
}

type ProveResponse struct {
	Status string    `json:"status"`
	Data   ProveData `json:"data"`
}

type VerifyRequest struct {
	SessionID string `json:"session_id,omitempty"`
	PublicKey []byte `json:"public_key,omitempty"`
	Message   []byte `json:"message"`
	Proof     Proof  `json:"proof"`
}

type VerifyResponse struct {
	Valid bool `json:"valid"`
}

type BlindSetupRequest struct {
	WitnessCommitment []byte `json:"witness_commitment"`
}

type BlindSetupResponse struct {
	SessionID         string `json:"session_id"`
	Generator         []byte `json:"generator"`
	WitnessCommitment []byte `json:"witness_commitment"`
	NumNodes          int    `json:"num_nodes"`
	Threshold         int    `json:"threshold"`
}

type BlindProveRequest struct {
	SessionID string `json:"session_id"`
	Message   []byte `json:"message,omitempty"`
}

type BlindProveData struct {
	BlindProof   BlindProof `json:"blind_proof"`
	Participants []uint32   `json:"participants"`
}

type BlindProveResponse struct {
	Status string         `json:"status"`
	Data   BlindProveData `json:"data"`
}

type BlindVerifyRequest struct {
	SessionID string     `json:"session_id"`
	Witness   []byte     `json:"witness"`
	Salt      []byte     `json:"salt"`
	Message   []byte     `json:"message,omitempty"`
	Proof     BlindProof `json:"proof"`
}

// Tx is the wire-format counterpart of circuit.Tx.
type Tx struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Amount     uint64 `json:"amount"`
	Nonce      uint64 `json:"nonce"`
	Shielded   bool   `json:"shielded,omitempty"`
	Withdrawal bool   `json:"withdrawal,omitempty"`
}

// ToInternal converts a wire transaction to its circuit form.
func (t Tx) ToInternal() circuit.Tx {
	return circuit.Tx{From: t.From, To: t.To, Amount: t.Amount, Nonce: t.Nonce, Shielded: t.Shielded, Withdrawal: t.Withdrawal}
}

// TxFromInternal converts a circuit transaction to its wire form.
func TxFromInternal(t circuit.Tx) Tx {
	return Tx{From: t.From, To: t.To, Amount: t.Amount, Nonce: t.Nonce, Shielded: t.Shielded, Withdrawal: t.Withdrawal}
}

type BatchProveRequest struct {
	BatchID         string `json:"batch_id"`
	Circuit         string `json:"circuit,omitempty"`
	ChunkSize       int    `json:"chunk_size,omitempty"`
	PreStateRoot    []byte `json:"pre_state_root"`
	PreShieldedRoot []byte `json:"pre_shielded_root,omitempty"`
	Txs             []Tx   `json:"txs"`
}

// BatchProofResponse carries the accumulated public inputs a settlement
// verifier checks plus the aggregate proof.
type BatchProofResponse struct {
	BatchID          string `json:"batch_id"`
	PreStateRoot     []byte `json:"pre_state_root"`
	PostStateRoot    []byte `json:"post_state_root"`
	PreShieldedRoot  []byte `json:"pre_shielded_root"`
	PostShieldedRoot []byte `json:"post_shielded_root"`
	WithdrawalRoot   []byte `json:"withdrawal_root"`
	BatchHash        []byte `json:"batch_hash"`
	NumChunks        int    `json:"num_chunks"`
	Proof            []byte `json:"proof"`
}

// RegisterRequest announces a worker to a running coordinator.
// Re-registering an existing ID updates its URL.
type RegisterRequest struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// RegisterResponse reports the immediate probe outcome; an offline worker
// stays registered and is picked up by the next health sweep.
type RegisterResponse struct {
	Status string `json:"status"`
	Online bool   `json:"online"`
}

// ShareRequest delivers one secret share to a worker for a session.
// Idempotent: re-delivery of the same (session_id, index, share) is a no-op.
type ShareRequest struct {
	SessionID string `json:"session_id"`
	Index     uint32 `json:"index"`
	Share     []byte `json:"share"`
	Threshold int    `json:"threshold"`
	ExpiresAt int64  `json:"expires_at"`
}

type ShareResponse struct {
	Status string `json:"status"`
}

// PartialCommitRequest asks a worker for its nonce point for a round.
// Idempotent per (session_id, round): repeats return the cached point.
type PartialCommitRequest struct {
	SessionID string `json:"session_id"`
	Round     uint64 `json:"round"`
}

type PartialCommitResponse struct {
	Index uint32 `json:"index"`
	Point []byte `json:"point"`
}

type PartialRespondRequest struct {
	SessionID string `json:"session_id"`
	Round     uint64 `json:"round"`
	Challenge []byte `json:"challenge"`
}

type PartialRespondResponse struct {
	Index uint32 `json:"index"`
	Value []byte `json:"value"`
}

type ChunkProveRequest struct {
	BatchID         string `json:"batch_id"`
	Circuit         string `json:"circuit"`
	ChunkIndex      int    `json:"chunk_index"`
	PreStateRoot    []byte `json:"pre_state_root"`
	PreShieldedRoot []byte `json:"pre_shielded_root,omitempty"`
	Txs             []Tx   `json:"txs"`
}

type ChunkProveResponse struct {
	ChunkIndex       int    `json:"chunk_index"`
	Proof            []byte `json:"proof"`
	PostStateRoot    []byte `json:"post_state_root"`
	PostShieldedRoot []byte `json:"post_shielded_root"`
	WithdrawalRoot   []byte `json:"withdrawal_root"`
}

type TeardownRequest struct {
	SessionID string `json:"session_id"`
}

// WorkerHealth is the worker /health body.
type WorkerHealth struct {
	Status   string `json:"status"`
	ID       string `json:"id"`
	Sessions int    `json:"sessions"`
}

// NodeHealth is one registry entry in the coordinator /health body.
type NodeHealth struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Online bool   `json:"online"`
	Ready  bool   `json:"ready"`
}

type HealthResponse struct {
	Status string       `json:"status"`
	Nodes  []NodeHealth `json:"nodes"`
}
