package batch

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"lukechampine.com/blake3"

	"github.com/proofmesh/proofmesh-network/internal/circuit"
	"github.com/proofmesh/proofmesh-network/pkg/logger"
	"github.com/proofmesh/proofmesh-network/pkg/metrics"
)

const (
	batchHashDomain = "proofmesh/batch-v1/hash"
	aggregateDomain = "proofmesh/batch-v1/aggregate"
)

// Dispatcher sends one chunk proving job to a worker. Implementations are
// the coordinator's HTTP client in production and a local executor in
// tests.
type Dispatcher interface {
	// Workers returns the endpoints currently eligible for chunk work.
	Workers() []string
	// ProveChunk proves one chunk on the given worker.
	ProveChunk(ctx context.Context, worker, batchID string, kind circuit.Kind, c circuit.Chunk) (circuit.ChunkProof, error)
}

// loadPicker assigns work to the worker with the fewest in-flight chunks,
// preferring earlier entries on ties.
type loadPicker struct {
	mu       sync.Mutex
	workers  []string
	inflight []int
}

func newLoadPicker(workers []string) *loadPicker {
	return &loadPicker{workers: workers, inflight: make([]int, len(workers))}
}

func (p *loadPicker) acquire() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	best := 0
	for i := 1; i < len(p.workers); i++ {
		if p.inflight[i] < p.inflight[best] {
			best = i
		}
	}
	p.inflight[best]++
	return p.workers[best]
}

func (p *loadPicker) release(worker string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.workers {
		if w == worker {
			p.inflight[i]--
			return
		}
	}
}

// Pipeline proves batches through a worker pool.
type Pipeline struct {
	exec       circuit.Executor
	dispatcher Dispatcher
	chunkSize  int
}

func NewPipeline(exec circuit.Executor, d Dispatcher, chunkSize int) *Pipeline {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Pipeline{exec: exec, dispatcher: d, chunkSize: chunkSize}
}

// ProveBatch partitions the ordered batch, proves every chunk in parallel
// across the pool, and aggregates the chunk proofs in chunk order. Chunks
// are independent work items; no secret sharing is involved here.
func (p *Pipeline) ProveBatch(ctx context.Context, batchID string, txs []circuit.Tx, preStateRoot, preShieldedRoot []byte) (*Proof, error) {
	begin := time.Now()
	if len(txs) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(preShieldedRoot) == 0 {
		preShieldedRoot = make([]byte, 32)
	}
	workers := p.dispatcher.Workers()
	if len(workers) == 0 {
		return nil, ErrNoWorkers
	}

	chunks := SplitChunks(txs, p.chunkSize)
	expected, err := plan(ctx, p.exec, chunks, preStateRoot, preShieldedRoot)
	if err != nil {
		metrics.Inc("batch_runs_total", map[string]string{"result": "plan_error"})
		return nil, err
	}

	// Parallel proving; each chunk goes to the worker with the fewest
	// in-flight chunks. Any failure cancels the remaining dispatches.
	proofs := make([]circuit.ChunkProof, len(chunks))
	picker := newLoadPicker(workers)
	grp, gctx := errgroup.WithContext(ctx)
	for i := range chunks {
		worker := picker.acquire()
		grp.Go(func() error {
			defer picker.release(worker)
			out, err := p.dispatcher.ProveChunk(gctx, worker, batchID, p.exec.Kind(), chunks[i])
			if err != nil {
				return fmt.Errorf("%w: chunk %d on %s: %v", ErrChunkProvingFailed, i, worker, err)
			}
			proofs[i] = out
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		metrics.Inc("batch_runs_total", map[string]string{"result": "chunk_error"})
		logger.ErrorJ("batch_prove", map[string]any{"batch_id": batchID, "result": "rejected", "err": err.Error()})
		return nil, err
	}

	proof, err := aggregate(batchID, preStateRoot, preShieldedRoot, expected, proofs)
	if err != nil {
		metrics.Inc("batch_runs_total", map[string]string{"result": "aggregate_error"})
		return nil, err
	}

	durMs := time.Since(begin).Milliseconds()
	metrics.Inc("batch_runs_total", map[string]string{"result": "ok"})
	metrics.ObserveSummary("batch_prove_ms", nil, float64(durMs))
	logger.InfoJ("batch_prove", map[string]any{
		"batch_id": batchID, "result": "ok", "chunks": len(chunks),
		"txs": len(txs), "latency_ms": durMs,
	})
	return proof, nil
}

// aggregate folds the ordered chunk proofs into the batch proof. Ordering
// is strict: chunk i's pre-root must be chunk i-1's post-root, which the
// planning step fixed and each returned proof must reproduce.
func aggregate(batchID string, preStateRoot, preShieldedRoot []byte, expected, proofs []circuit.ChunkProof) (*Proof, error) {
	batchHash := blake3.New(32, nil)
	batchHash.Write([]byte(batchHashDomain))
	batchHash.Write([]byte(batchID))

	agg := blake3.New(32, nil)
	agg.Write([]byte(aggregateDomain))

	withdrawal := make([]byte, 32)
	for i, cp := range proofs {
		if cp.Index != i {
			return nil, fmt.Errorf("%w: chunk %d reported index %d", ErrRootMismatch, i, cp.Index)
		}
		if !bytes.Equal(cp.PostStateRoot, expected[i].PostStateRoot) ||
			!bytes.Equal(cp.PostShieldedRoot, expected[i].PostShieldedRoot) ||
			!bytes.Equal(cp.WithdrawalRoot, expected[i].WithdrawalRoot) {
			return nil, fmt.Errorf("%w: chunk %d", ErrRootMismatch, i)
		}
		if len(cp.Proof) == 0 {
			return nil, fmt.Errorf("%w: chunk %d returned no proof", ErrChunkProvingFailed, i)
		}
		batchHash.Write(cp.PostStateRoot)
		batchHash.Write(cp.PostShieldedRoot)
		batchHash.Write(cp.WithdrawalRoot)
		agg.Write(binary.BigEndian.AppendUint64(nil, uint64(i)))
		agg.Write(cp.Proof)

		wh := blake3.New(32, nil)
		wh.Write(withdrawal)
		wh.Write(cp.WithdrawalRoot)
		withdrawal = wh.Sum(nil)
	}

	last := proofs[len(proofs)-1]
	return &Proof{
		BatchID:          batchID,
		PreStateRoot:     preStateRoot,
		PostStateRoot:    last.PostStateRoot,
		PreShieldedRoot:  preShieldedRoot,
		PostShieldedRoot: last.PostShieldedRoot,
		WithdrawalRoot:   withdrawal,
		BatchHash:        batchHash.Sum(nil),
		NumChunks:        len(proofs),
		Aggregate:        agg.Sum(nil),
	}, nil
}
