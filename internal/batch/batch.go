// Package batch applies the worker pool to rollup batches: it partitions an
// ordered transaction list into fixed-size chunks, proves the chunks in
// parallel across workers, and folds the chunk proofs into one batch proof
// with accumulated public inputs. The pipeline fails closed: a single chunk
// failure rejects the whole batch.
package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/proofmesh/proofmesh-network/internal/circuit"
)

const DefaultChunkSize = 100

var (
	// ErrChunkProvingFailed rejects the whole batch when any chunk fails.
	ErrChunkProvingFailed = errors.New("chunk proving failed")
	// ErrRootMismatch marks a chunk proof whose output roots disagree
	// with the planned state transition.
	ErrRootMismatch = errors.New("chunk output root mismatch")
	// ErrEmptyBatch rejects batches without transactions.
	ErrEmptyBatch = errors.New("empty batch")
	// ErrNoWorkers is returned when no node is available for dispatch.
	ErrNoWorkers = errors.New("no workers available for batch dispatch")
)

// Proof is the recursive aggregation result: the only artifact persisted
// past a run, handed to the settlement verifier.
type Proof struct {
	BatchID          string
	PreStateRoot     []byte
	PostStateRoot    []byte
	PreShieldedRoot  []byte
	PostShieldedRoot []byte
	WithdrawalRoot   []byte
	BatchHash        []byte
	NumChunks        int
	Aggregate        []byte
}

// SplitChunks partitions txs into fixed windows preserving order. Chunk i
// covers txs[i*size:(i+1)*size); roots are filled in by planning.
func SplitChunks(txs []circuit.Tx, size int) []circuit.Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	chunks := make([]circuit.Chunk, 0, (len(txs)+size-1)/size)
	for i := 0; i*size < len(txs); i++ {
		end := (i + 1) * size
		if end > len(txs) {
			end = len(txs)
		}
		chunks = append(chunks, circuit.Chunk{Index: i, Txs: txs[i*size : end]})
	}
	return chunks
}

// plan runs the cheap state execution sequentially, assigning each chunk
// its pre-roots and recording the expected outputs.
func plan(ctx context.Context, exec circuit.Executor, chunks []circuit.Chunk, preState, preShielded []byte) ([]circuit.ChunkProof, error) {
	expected := make([]circuit.ChunkProof, len(chunks))
	state, shielded := preState, preShielded
	for i := range chunks {
		chunks[i].PreStateRoot = state
		chunks[i].PreShieldedRoot = shielded
		out, err := exec.ExecuteChunk(ctx, chunks[i])
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %d: %v", ErrChunkProvingFailed, i, err)
		}
		expected[i] = out
		state, shielded = out.PostStateRoot, out.PostShieldedRoot
	}
	return expected, nil
}
