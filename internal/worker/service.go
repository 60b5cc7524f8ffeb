package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	group "github.com/bytemare/crypto"

	"github.com/proofmesh/proofmesh-network/internal/circuit"
	"github.com/proofmesh/proofmesh-network/internal/wire"
	"github.com/proofmesh/proofmesh-network/pkg/lifecycle"
	"github.com/proofmesh/proofmesh-network/pkg/logger"
	"github.com/proofmesh/proofmesh-network/pkg/metrics"
	"github.com/proofmesh/proofmesh-network/pkg/trace"
)

// Service is one worker node: share custody plus partial computation. It
// never aggregates across workers and holds no cross-session state.
type Service struct {
	id       string
	addr     string
	g        group.Group
	store    *Store
	circuits *circuit.Registry
	srv      *http.Server
}

func New(id, addr string, g group.Group, circuits *circuit.Registry) *Service {
	return &Service{id: id, addr: addr, g: g, store: NewStore(g), circuits: circuits}
}

func (s *Service) Name() string { return "worker" }

// Handler exposes the route table; tests mount it on httptest servers.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(wire.PathWorkerShare, s.handleShare)
	mux.HandleFunc(wire.PathWorkerCommit, s.handleCommit)
	mux.HandleFunc(wire.PathWorkerRespond, s.handleRespond)
	mux.HandleFunc(wire.PathWorkerChunk, s.handleChunk)
	mux.HandleFunc(wire.PathWorkerTeardown, s.handleTeardown)
	mux.HandleFunc(wire.PathHealth, s.handleHealth)
	return mux
}

func (s *Service) Start(ctx context.Context) error {
	s.srv = &http.Server{Addr: s.addr, Handler: s.Handler()}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorJ("worker_listen", map[string]any{"id": s.id, "addr": s.addr, "err": err.Error()})
		}
	}()
	logger.InfoJ("service_op", map[string]any{"service": "worker", "op": "start", "id": s.id, "addr": s.addr})
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, wire.Error{Code: code, Error: msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return false
	}
	return true
}

func (s *Service) handleShare(w http.ResponseWriter, r *http.Request) {
	var req wire.ShareRequest
	if !decode(w, r, &req) {
		return
	}
	var expires time.Time
	if req.ExpiresAt > 0 {
		expires = time.Unix(req.ExpiresAt, 0)
	}
	if err := s.store.PutShare(req.SessionID, req.Index, req.Share, req.Threshold, expires); err != nil {
		metrics.Inc("worker_requests_total", map[string]string{"op": "share", "result": "error"})
		writeErr(w, http.StatusConflict, "share_rejected", err.Error())
		return
	}
	metrics.Inc("worker_requests_total", map[string]string{"op": "share", "result": "ok"})
	logger.InfoJ("worker_share", map[string]any{"id": s.id, "session_id": req.SessionID, "index": req.Index, "trace_id": trace.FromRequest(r)})
	writeJSON(w, http.StatusOK, wire.ShareResponse{Status: "ok"})
}

func (s *Service) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req wire.PartialCommitRequest
	if !decode(w, r, &req) {
		return
	}
	index, point, err := s.store.Commit(req.SessionID, req.Round)
	if err != nil {
		metrics.Inc("worker_requests_total", map[string]string{"op": "commit", "result": "error"})
		writeErr(w, statusOf(err), "commit_rejected", err.Error())
		return
	}
	metrics.Inc("worker_requests_total", map[string]string{"op": "commit", "result": "ok"})
	writeJSON(w, http.StatusOK, wire.PartialCommitResponse{Index: index, Point: point.Encode()})
}

func (s *Service) handleRespond(w http.ResponseWriter, r *http.Request) {
	var req wire.PartialRespondRequest
	if !decode(w, r, &req) {
		return
	}
	challenge := s.g.NewScalar()
	if err := challenge.Decode(req.Challenge); err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", "malformed challenge scalar")
		return
	}
	index, value, err := s.store.Respond(req.SessionID, req.Round, challenge)
	if err != nil {
		metrics.Inc("worker_requests_total", map[string]string{"op": "respond", "result": "error"})
		writeErr(w, statusOf(err), "respond_rejected", err.Error())
		return
	}
	metrics.Inc("worker_requests_total", map[string]string{"op": "respond", "result": "ok"})
	writeJSON(w, http.StatusOK, wire.PartialRespondResponse{Index: index, Value: value.Encode()})
}

func (s *Service) handleChunk(w http.ResponseWriter, r *http.Request) {
	var req wire.ChunkProveRequest
	if !decode(w, r, &req) {
		return
	}
	exec, err := s.circuits.Lookup(circuit.Kind(req.Circuit))
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, circuit.ErrNotImplemented) {
			status = http.StatusNotImplemented
		}
		writeErr(w, status, "circuit_unavailable", err.Error())
		return
	}
	txs := make([]circuit.Tx, len(req.Txs))
	for i, t := range req.Txs {
		txs[i] = t.ToInternal()
	}
	begin := time.Now()
	out, err := exec.ProveChunk(r.Context(), circuit.Chunk{
		Index:           req.ChunkIndex,
		PreStateRoot:    req.PreStateRoot,
		PreShieldedRoot: req.PreShieldedRoot,
		Txs:             txs,
	})
	durMs := time.Since(begin).Milliseconds()
	if err != nil {
		metrics.Inc("worker_requests_total", map[string]string{"op": "chunk", "result": "error"})
		logger.ErrorJ("worker_chunk", map[string]any{"id": s.id, "batch_id": req.BatchID, "chunk": req.ChunkIndex, "err": err.Error(), "latency_ms": durMs})
		writeErr(w, http.StatusUnprocessableEntity, "chunk_proving_failed", err.Error())
		return
	}
	metrics.Inc("worker_requests_total", map[string]string{"op": "chunk", "result": "ok"})
	metrics.ObserveSummary("worker_chunk_ms", nil, float64(durMs))
	logger.InfoJ("worker_chunk", map[string]any{"id": s.id, "batch_id": req.BatchID, "chunk": req.ChunkIndex, "txs": len(txs), "latency_ms": durMs, "trace_id": trace.FromRequest(r)})
	writeJSON(w, http.StatusOK, wire.ChunkProveResponse{
		ChunkIndex:       out.Index,
		Proof:            out.Proof,
		PostStateRoot:    out.PostStateRoot,
		PostShieldedRoot: out.PostShieldedRoot,
		WithdrawalRoot:   out.WithdrawalRoot,
	})
}

func (s *Service) handleTeardown(w http.ResponseWriter, r *http.Request) {
	var req wire.TeardownRequest
	if !decode(w, r, &req) {
		return
	}
	s.store.Teardown(req.SessionID)
	metrics.Inc("worker_requests_total", map[string]string{"op": "teardown", "result": "ok"})
	writeJSON(w, http.StatusOK, wire.ShareResponse{Status: "ok"})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, wire.WorkerHealth{Status: "ok", ID: s.id, Sessions: s.store.Sessions()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrUnknownSession), errors.Is(err, ErrSessionExpired):
		return http.StatusNotFound
	case errors.Is(err, ErrNoNonce):
		return http.StatusPreconditionFailed
	case errors.Is(err, ErrShareConflict):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

var _ lifecycle.Service = (*Service)(nil)
