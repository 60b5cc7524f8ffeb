package circuit

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"lukechampine.com/blake3"
)

// Domain prefixes keep the rollup transition hashes disjoint.
const (
	rollupStateDomain    = "proofmesh/rollup-v1/state"
	rollupShieldedDomain = "proofmesh/rollup-v1/shielded"
	rollupWdDomain       = "proofmesh/rollup-v1/withdrawal"
	rollupProofDomain    = "proofmesh/rollup-v1/proof"
)

var errEmptyChunk = errors.New("empty chunk")

// RollupV1 is the executable rollup circuit. It simulates constraint
// execution with a deterministic hash transition: the same chunk always
// yields the same proof and roots.
type RollupV1 struct{}

func (RollupV1) Kind() Kind { return KindRollupV1 }

func txBytes(tx Tx) []byte {
	b := make([]byte, 0, len(tx.From)+len(tx.To)+18)
	b = append(b, tx.From...)
	b = append(b, 0)
	b = append(b, tx.To...)
	b = binary.BigEndian.AppendUint64(b, tx.Amount)
	b = binary.BigEndian.AppendUint64(b, tx.Nonce)
	var flags byte
	if tx.Shielded {
		flags |= 1
	}
	if tx.Withdrawal {
		flags |= 2
	}
	return append(b, flags)
}

func fold(domain string, root []byte, tx Tx) []byte {
	h := blake3.New(32, nil)
	h.Write([]byte(domain))
	h.Write(root)
	h.Write(txBytes(tx))
	return h.Sum(nil)
}

func validate(tx Tx) error {
	if tx.From == "" || tx.To == "" {
		return fmt.Errorf("tx missing account: %+v", tx)
	}
	if tx.Amount == 0 {
		return fmt.Errorf("tx with zero amount from %s", tx.From)
	}
	return nil
}

// ExecuteChunk folds every transaction into the state roots without
// producing a proof. The pipeline uses it to plan per-chunk pre-roots
// before dispatching the proving work.
func (RollupV1) ExecuteChunk(ctx context.Context, c Chunk) (ChunkProof, error) {
	if len(c.Txs) == 0 {
		return ChunkProof{}, errEmptyChunk
	}

	state := append([]byte(nil), c.PreStateRoot...)
	shielded := append([]byte(nil), c.PreShieldedRoot...)
	withdrawal := make([]byte, 32)
	for _, tx := range c.Txs {
		if err := ctx.Err(); err != nil {
			return ChunkProof{}, err
		}
		if err := validate(tx); err != nil {
			return ChunkProof{}, err
		}
		state = fold(rollupStateDomain, state, tx)
		if tx.Shielded {
			shielded = fold(rollupShieldedDomain, shielded, tx)
		}
		if tx.Withdrawal {
			withdrawal = fold(rollupWdDomain, withdrawal, tx)
		}
	}

	return ChunkProof{
		Index:            c.Index,
		PostStateRoot:    state,
		PostShieldedRoot: shielded,
		WithdrawalRoot:   withdrawal,
	}, nil
}

// ProveChunk executes the chunk and emits a proof over its public inputs.
func (r RollupV1) ProveChunk(ctx context.Context, c Chunk) (ChunkProof, error) {
	out, err := r.ExecuteChunk(ctx, c)
	if err != nil {
		return ChunkProof{}, err
	}

	h := blake3.New(32, nil)
	h.Write([]byte(rollupProofDomain))
	h.Write(binary.BigEndian.AppendUint64(nil, uint64(c.Index)))
	h.Write(c.PreStateRoot)
	h.Write(out.PostStateRoot)
	h.Write(out.PostShieldedRoot)
	h.Write(out.WithdrawalRoot)
	out.Proof = h.Sum(nil)
	return out, nil
}
