// Package circuit is the boundary to the pluggable circuit executor.
// Circuit semantics are an external collaborator; this package fixes the
// capability surface (a closed Kind set and per-chunk proving) and ships a
// deterministic in-process executor for the rollup circuit.
package circuit

import (
	"context"
	"errors"
	"fmt"
)

// Kind identifies a circuit. The set is closed: adding a circuit means
// adding a constant and registering an executor at startup.
type Kind string

const (
	// KindRollupV1 is the batch rollup circuit, executable in-process.
	KindRollupV1 Kind = "rollup_v1"
	// KindShieldedTransferV2 is declared but has no executable capability
	// yet; looking it up yields ErrNotImplemented rather than a runtime
	// failure inside a proving round.
	KindShieldedTransferV2 Kind = "shielded_transfer_v2"
)

var (
	// ErrNotImplemented marks a declared circuit without an executor.
	ErrNotImplemented = errors.New("circuit not implemented")
	// ErrUnknownCircuit marks a kind outside the closed set.
	ErrUnknownCircuit = errors.New("unknown circuit")
)

// Tx is one transaction of an ordered batch. Validation of membership,
// balance and nonce rules happens inside the executor.
type Tx struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Amount     uint64 `json:"amount"`
	Nonce      uint64 `json:"nonce"`
	Shielded   bool   `json:"shielded,omitempty"`
	Withdrawal bool   `json:"withdrawal,omitempty"`
}

// Chunk is an ordered contiguous slice of a batch plus the pre-chunk roots.
type Chunk struct {
	Index           int
	PreStateRoot    []byte
	PreShieldedRoot []byte
	Txs             []Tx
}

// ChunkProof is the proof fragment for one chunk with its output roots.
type ChunkProof struct {
	Index            int
	Proof            []byte
	PostStateRoot    []byte
	PostShieldedRoot []byte
	WithdrawalRoot   []byte
}

// Executor proves a single chunk. Implementations must be deterministic in
// the chunk contents so batch proofs are reproducible across worker
// assignments. ExecuteChunk computes only the output roots (state
// execution, cheap); ProveChunk additionally produces the proof fragment
// and is the part delegated to workers.
type Executor interface {
	Kind() Kind
	ExecuteChunk(ctx context.Context, c Chunk) (ChunkProof, error)
	ProveChunk(ctx context.Context, c Chunk) (ChunkProof, error)
}

// Registry is the capability table, built once at startup.
type Registry struct {
	executors map[Kind]Executor
	declared  map[Kind]struct{}
}

// NewRegistry declares the closed kind set and registers the given
// executors under their own kinds.
func NewRegistry(executors ...Executor) *Registry {
	r := &Registry{
		executors: make(map[Kind]Executor, len(executors)),
		declared: map[Kind]struct{}{
			KindRollupV1:           {},
			KindShieldedTransferV2: {},
		},
	}
	for _, e := range executors {
		r.executors[e.Kind()] = e
	}
	return r
}

// Lookup resolves a kind to its executor. Declared kinds without an
// executor return ErrNotImplemented; kinds outside the set return
// ErrUnknownCircuit.
func (r *Registry) Lookup(k Kind) (Executor, error) {
	if e, ok := r.executors[k]; ok {
		return e, nil
	}
	if _, ok := r.declared[k]; ok {
		return nil, fmt.Errorf("%w: %s", ErrNotImplemented, k)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCircuit, k)
}
