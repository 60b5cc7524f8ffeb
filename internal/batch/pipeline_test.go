package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/proofmesh/proofmesh-network/internal/circuit"
)

// localDispatcher proves chunks in-process and records assignments.
type localDispatcher struct {
	mu       sync.Mutex
	workers  []string
	exec     circuit.Executor
	failIdx  int // chunk index to fail, -1 for none
	assigned map[int]string
	barrier  *sync.WaitGroup // optional: hold every chunk in flight
}

func newLocalDispatcher(workers ...string) *localDispatcher {
	return &localDispatcher{workers: workers, exec: circuit.RollupV1{}, failIdx: -1, assigned: map[int]string{}}
}

func (d *localDispatcher) Workers() []string { return d.workers }

func (d *localDispatcher) ProveChunk(ctx context.Context, worker, _ string, _ circuit.Kind, c circuit.Chunk) (circuit.ChunkProof, error) {
	d.mu.Lock()
	d.assigned[c.Index] = worker
	d.mu.Unlock()
	if d.barrier != nil {
		d.barrier.Done()
		d.barrier.Wait()
	}
	if c.Index == d.failIdx {
		return circuit.ChunkProof{}, errors.New("prover crashed")
	}
	return d.exec.ProveChunk(ctx, c)
}

func makeTxs(n int) []circuit.Tx {
	txs := make([]circuit.Tx, n)
	for i := range txs {
		txs[i] = circuit.Tx{
			From: fmt.Sprintf("acct-%d", i%17), To: fmt.Sprintf("acct-%d", (i+1)%17),
			Amount: uint64(i + 1), Nonce: uint64(i),
			Shielded: i%5 == 0, Withdrawal: i%11 == 0,
		}
	}
	return txs
}

func preRoot() []byte { return bytes.Repeat([]byte{7}, 32) }

func TestSplitChunks_PreservesOrderAndBounds(t *testing.T) {
	txs := makeTxs(250)
	chunks := SplitChunks(txs, 100)
	if len(chunks) != 3 {
		t.Fatalf("chunks=%d, want 3", len(chunks))
	}
	if len(chunks[0].Txs) != 100 || len(chunks[1].Txs) != 100 || len(chunks[2].Txs) != 50 {
		t.Fatalf("chunk sizes: %d/%d/%d", len(chunks[0].Txs), len(chunks[1].Txs), len(chunks[2].Txs))
	}
	if chunks[1].Txs[0].Nonce != 100 {
		t.Fatalf("chunk 1 does not start at tx 100")
	}
}

// A 250-tx batch at chunk size 100 splits into three chunks; the aggregate
// pre-root equals the batch's initial root and the post-root equals chunk
// 3's output root.
func TestProveBatch_RootChaining(t *testing.T) {
	d := newLocalDispatcher("w1", "w2")
	p := NewPipeline(circuit.RollupV1{}, d, 100)
	txs := makeTxs(250)

	proof, err := p.ProveBatch(context.Background(), "b-1", txs, preRoot(), nil)
	if err != nil {
		t.Fatalf("prove batch: %v", err)
	}
	if proof.NumChunks != 3 {
		t.Fatalf("chunks=%d", proof.NumChunks)
	}
	if !bytes.Equal(proof.PreStateRoot, preRoot()) {
		t.Fatalf("pre root not preserved")
	}

	// replay the transition to find chunk 3's expected output root
	chunks := SplitChunks(txs, 100)
	expected, err := plan(context.Background(), circuit.RollupV1{}, chunks, preRoot(), make([]byte, 32))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !bytes.Equal(proof.PostStateRoot, expected[2].PostStateRoot) {
		t.Fatalf("post root is not chunk 3's output root")
	}
}

// Property: identical inputs give identical public inputs even when the
// chunk-to-worker assignment differs.
func TestProveBatch_DeterministicAcrossAssignments(t *testing.T) {
	txs := makeTxs(250)
	run := func(workers ...string) *Proof {
		p := NewPipeline(circuit.RollupV1{}, newLocalDispatcher(workers...), 100)
		proof, err := p.ProveBatch(context.Background(), "b-det", txs, preRoot(), nil)
		if err != nil {
			t.Fatalf("prove: %v", err)
		}
		return proof
	}
	a := run("w1", "w2", "w3")
	b := run("solo")
	if !bytes.Equal(a.BatchHash, b.BatchHash) || !bytes.Equal(a.PostStateRoot, b.PostStateRoot) ||
		!bytes.Equal(a.WithdrawalRoot, b.WithdrawalRoot) || !bytes.Equal(a.Aggregate, b.Aggregate) {
		t.Fatalf("batch proof differs across worker assignments")
	}
}

// Property: if any chunk fails, no batch proof is produced.
func TestProveBatch_AtomicOnChunkFailure(t *testing.T) {
	d := newLocalDispatcher("w1", "w2")
	d.failIdx = 1
	p := NewPipeline(circuit.RollupV1{}, d, 100)

	proof, err := p.ProveBatch(context.Background(), "b-fail", makeTxs(250), preRoot(), nil)
	if !errors.Is(err, ErrChunkProvingFailed) {
		t.Fatalf("want ErrChunkProvingFailed, got %v", err)
	}
	if proof != nil {
		t.Fatalf("partial batch proof produced")
	}
}

func TestProveBatch_EmptyBatchAndNoWorkers(t *testing.T) {
	p := NewPipeline(circuit.RollupV1{}, newLocalDispatcher("w1"), 100)
	if _, err := p.ProveBatch(context.Background(), "b", nil, preRoot(), nil); err != ErrEmptyBatch {
		t.Fatalf("want ErrEmptyBatch, got %v", err)
	}
	p = NewPipeline(circuit.RollupV1{}, newLocalDispatcher(), 100)
	if _, err := p.ProveBatch(context.Background(), "b", makeTxs(3), preRoot(), nil); err != ErrNoWorkers {
		t.Fatalf("want ErrNoWorkers, got %v", err)
	}
}

func TestLoadPicker_PrefersIdleWorker(t *testing.T) {
	p := newLoadPicker([]string{"w1", "w2"})
	if w := p.acquire(); w != "w1" {
		t.Fatalf("first acquire: %s", w)
	}
	if w := p.acquire(); w != "w2" {
		t.Fatalf("second acquire: %s", w)
	}
	if w := p.acquire(); w != "w1" {
		t.Fatalf("tie break: %s", w)
	}
	p.release("w1")
	p.release("w1")
	if w := p.acquire(); w != "w1" {
		t.Fatalf("after release: %s", w)
	}
}

// With every chunk held in flight at once, least-loaded assignment must
// spread the chunks evenly over the pool.
func TestProveBatch_BalancesLoadAcrossWorkers(t *testing.T) {
	d := newLocalDispatcher("w1", "w2")
	var barrier sync.WaitGroup
	barrier.Add(4)
	d.barrier = &barrier
	p := NewPipeline(circuit.RollupV1{}, d, 100)

	if _, err := p.ProveBatch(context.Background(), "b-lb", makeTxs(400), preRoot(), nil); err != nil {
		t.Fatalf("prove: %v", err)
	}
	counts := map[string]int{}
	for _, w := range d.assigned {
		counts[w]++
	}
	if counts["w1"] != 2 || counts["w2"] != 2 {
		t.Fatalf("unbalanced assignment: %+v", d.assigned)
	}
}

// A worker returning wrong roots must be treated as a failed batch, not
// silently aggregated.
func TestAggregate_RejectsRootMismatch(t *testing.T) {
	chunks := SplitChunks(makeTxs(20), 10)
	expected, err := plan(context.Background(), circuit.RollupV1{}, chunks, preRoot(), make([]byte, 32))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	proofs := make([]circuit.ChunkProof, len(chunks))
	for i, c := range chunks {
		proofs[i], err = circuit.RollupV1{}.ProveChunk(context.Background(), c)
		if err != nil {
			t.Fatalf("prove chunk %d: %v", i, err)
		}
	}
	proofs[1].PostStateRoot = bytes.Repeat([]byte{9}, 32)
	if _, err := aggregate("b", preRoot(), make([]byte, 32), expected, proofs); !errors.Is(err, ErrRootMismatch) {
		t.Fatalf("want ErrRootMismatch, got %v", err)
	}
}
