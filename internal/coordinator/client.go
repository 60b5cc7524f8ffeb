package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/proofmesh/proofmesh-network/internal/circuit"
	"github.com/proofmesh/proofmesh-network/internal/registry"
	"github.com/proofmesh/proofmesh-network/internal/wire"
	"github.com/proofmesh/proofmesh-network/pkg/trace"
)

// Client is the coordinator's worker transport: stateless JSON calls with
// per-call timeouts. Every operation is idempotent on the worker side, so
// retries are safe.
type Client struct {
	http    *http.Client
	timeout time.Duration
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{http: &http.Client{Timeout: timeout}, timeout: timeout}
}

func (c *Client) post(ctx context.Context, url, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if tid, ok := trace.FromContext(ctx); ok {
		req.Header.Set(trace.Header, tid)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var werr wire.Error
		if json.Unmarshal(raw, &werr) == nil && werr.Error != "" {
			return fmt.Errorf("worker %s%s: %s: %s", url, path, werr.Code, werr.Error)
		}
		return fmt.Errorf("worker %s%s: status %d", url, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// Probe implements registry.Prober against the worker /health endpoint.
func (c *Client) Probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+wire.PathHealth, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) SendShare(ctx context.Context, url string, req wire.ShareRequest) error {
	return c.post(ctx, url, wire.PathWorkerShare, req, nil)
}

func (c *Client) Commit(ctx context.Context, url string, req wire.PartialCommitRequest) (wire.PartialCommitResponse, error) {
	var out wire.PartialCommitResponse
	err := c.post(ctx, url, wire.PathWorkerCommit, req, &out)
	return out, err
}

func (c *Client) Respond(ctx context.Context, url string, req wire.PartialRespondRequest) (wire.PartialRespondResponse, error) {
	var out wire.PartialRespondResponse
	err := c.post(ctx, url, wire.PathWorkerRespond, req, &out)
	return out, err
}

func (c *Client) Teardown(ctx context.Context, url, sessionID string) error {
	return c.post(ctx, url, wire.PathWorkerTeardown, wire.TeardownRequest{SessionID: sessionID}, nil)
}

var _ registry.Prober = (*Client)(nil)

// chunkDispatcher adapts the client and registry to the batch pipeline.
type chunkDispatcher struct {
	reg    *registry.Registry
	client *Client
}

// Workers returns online worker URLs; chunk work needs no share custody.
func (d *chunkDispatcher) Workers() []string {
	nodes := d.reg.Online()
	urls := make([]string, len(nodes))
	for i, n := range nodes {
		urls[i] = n.URL
	}
	return urls
}

func (d *chunkDispatcher) ProveChunk(ctx context.Context, worker, batchID string, kind circuit.Kind, ch circuit.Chunk) (circuit.ChunkProof, error) {
	txs := make([]wire.Tx, len(ch.Txs))
	for i, t := range ch.Txs {
		txs[i] = wire.TxFromInternal(t)
	}
	var out wire.ChunkProveResponse
	err := d.client.post(ctx, worker, wire.PathWorkerChunk, wire.ChunkProveRequest{
		BatchID:         batchID,
		Circuit:         string(kind),
		ChunkIndex:      ch.Index,
		PreStateRoot:    ch.PreStateRoot,
		PreShieldedRoot: ch.PreShieldedRoot,
		Txs:             txs,
	}, &out)
	if err != nil {
		return circuit.ChunkProof{}, err
	}
	return circuit.ChunkProof{
		Index:            out.ChunkIndex,
		Proof:            out.Proof,
		PostStateRoot:    out.PostStateRoot,
		PostShieldedRoot: out.PostShieldedRoot,
		WithdrawalRoot:   out.WithdrawalRoot,
	}, nil
}
