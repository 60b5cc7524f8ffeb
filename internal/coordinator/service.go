// Package coordinator runs the proving sessions: it splits secrets into
// shares, drives collaborative rounds across the worker fleet, and fans
// batches out to chunk provers. Workers never talk to each other; all
// aggregation happens here.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	group "github.com/bytemare/crypto"
	"github.com/google/uuid"

	"github.com/proofmesh/proofmesh-network/internal/batch"
	"github.com/proofmesh/proofmesh-network/internal/circuit"
	"github.com/proofmesh/proofmesh-network/internal/registry"
	"github.com/proofmesh/proofmesh-network/internal/schnorr"
	"github.com/proofmesh/proofmesh-network/internal/wire"
	"github.com/proofmesh/proofmesh-network/pkg/bus"
	"github.com/proofmesh/proofmesh-network/pkg/lifecycle"
	"github.com/proofmesh/proofmesh-network/pkg/logger"
	"github.com/proofmesh/proofmesh-network/pkg/metrics"
)

// Config carries the coordinator knobs. Zero durations fall back to the
// defaults below.
type Config struct {
	Addr         string
	Threshold    int
	SessionTTL   time.Duration
	RoundTimeout time.Duration
	ChunkSize    int
	DataDir      string
}

const (
	defaultSessionTTL   = 15 * time.Minute
	defaultRoundTimeout = 10 * time.Second
)

type Service struct {
	cfg      Config
	g        group.Group
	reg      *registry.Registry
	client   *Client
	sessions *Sessions
	circuits *circuit.Registry
	bus      *bus.Bus
	srv      *http.Server
}

func New(cfg Config, g group.Group, reg *registry.Registry, client *Client, circuits *circuit.Registry, b *bus.Bus) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.RoundTimeout <= 0 {
		cfg.RoundTimeout = defaultRoundTimeout
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = batch.DefaultChunkSize
	}
	return &Service{
		cfg:      cfg,
		g:        g,
		reg:      reg,
		client:   client,
		sessions: NewSessions(g, cfg.DataDir),
		circuits: circuits,
		bus:      b,
	}
}

func (s *Service) Name() string { return "coordinator" }

var _ lifecycle.Service = (*Service)(nil)

// Handler exposes the route table; tests mount it on httptest servers.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(wire.PathSetup, s.handleSetup)
	mux.HandleFunc(wire.PathProve, s.handleProve)
	mux.HandleFunc(wire.PathVerify, s.handleVerify)
	mux.HandleFunc(wire.PathBlindSetup, s.handleBlindSetup)
	mux.HandleFunc(wire.PathBlindProve, s.handleBlindProve)
	mux.HandleFunc(wire.PathBlindVerify, s.handleBlindVerify)
	mux.HandleFunc(wire.PathBatchProve, s.handleBatchProve)
	mux.HandleFunc(wire.PathTeardown, s.handleTeardown)
	mux.HandleFunc(wire.PathRegister, s.handleRegister)
	mux.HandleFunc(wire.PathHealth, s.handleHealth)
	return mux
}

func (s *Service) Start(ctx context.Context) error {
	s.srv = &http.Server{Addr: s.cfg.Addr, Handler: s.Handler()}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorJ("coordinator_listen", map[string]any{"addr": s.cfg.Addr, "err": err.Error()})
		}
	}()
	logger.InfoJ("service_op", map[string]any{"service": "coordinator", "op": "start", "addr": s.cfg.Addr, "threshold": s.cfg.Threshold})
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

func newSessionID() string { return uuid.NewString() }

func (s *Service) publish(ev bus.Event) {
	if s.bus != nil {
		s.bus.Publish(context.Background(), ev)
	}
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

// failWith maps the error taxonomy to HTTP statuses and wire codes.
func failWith(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrThresholdUnavailable), errors.Is(err, batch.ErrNoWorkers):
		writeErr(w, http.StatusServiceUnavailable, "threshold_unavailable", err.Error())
	case errors.Is(err, ErrThresholdNotMet):
		writeErr(w, http.StatusBadGateway, "threshold_not_met", err.Error())
	case errors.Is(err, ErrVerificationFailed):
		writeErr(w, http.StatusBadGateway, "verification_failed", err.Error())
	case errors.Is(err, ErrSessionNotFound):
		writeErr(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, ErrSessionExpired):
		writeErr(w, http.StatusGone, "session_expired", err.Error())
	case errors.Is(err, ErrNotBlind):
		writeErr(w, http.StatusBadRequest, "not_blind", err.Error())
	case errors.Is(err, batch.ErrChunkProvingFailed), errors.Is(err, batch.ErrRootMismatch):
		writeErr(w, http.StatusBadGateway, "chunk_proving_failed", err.Error())
	case errors.Is(err, batch.ErrEmptyBatch), errors.Is(err, circuit.ErrUnknownCircuit):
		writeErr(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, circuit.ErrNotImplemented):
		writeErr(w, http.StatusNotImplemented, "not_implemented", err.Error())
	default:
		writeErr(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func (s *Service) handleSetup(w http.ResponseWriter, r *http.Request) {
	var req wire.SetupRequest
	if !decode(w, r, &req) {
		return
	}
	var secret *group.Scalar
	if len(req.Secret) > 0 {
		secret = s.g.NewScalar()
		if err := secret.Decode(req.Secret); err != nil {
			writeErr(w, http.StatusBadRequest, "bad_request", "malformed secret scalar")
			return
		}
	}
	sess, err := s.setup(r.Context(), secret, nil)
	if err != nil {
		failWith(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.SetupResponse{
		SessionID: sess.ID,
		Generator: s.g.Base().Encode(),
		PublicKey: sess.PublicKey.Encode(),
		NumNodes:  sess.N,
		Threshold: sess.K,
	})
}

func (s *Service) handleProve(w http.ResponseWriter, r *http.Request) {
	var req wire.ProveRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := s.sessions.Get(req.SessionID)
	if err != nil {
		failWith(w, err)
		return
	}
	if sess.Blind() {
		writeErr(w, http.StatusBadRequest, "bad_request", "blind sessions prove via "+wire.PathBlindProve)
		return
	}
	tr, participants, err := s.prove(r.Context(), sess, req.Message)
	if err != nil {
		failWith(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.ProveResponse{
		Status: "ok",
		Data: wire.ProveData{
			Proof:        transcriptToWire(tr),
			Participants: participants,
		},
	})
}

func (s *Service) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req wire.VerifyRequest
	if !decode(w, r, &req) {
		return
	}
	publicKey := s.g.NewElement()
	switch {
	case req.SessionID != "":
		sess, err := s.sessions.Get(req.SessionID)
		if err != nil {
			failWith(w, err)
			return
		}
		publicKey = sess.PublicKey
	case len(req.PublicKey) > 0:
		if err := publicKey.Decode(req.PublicKey); err != nil {
			writeErr(w, http.StatusBadRequest, "bad_request", "malformed public key")
			return
		}
	default:
		writeErr(w, http.StatusBadRequest, "bad_request", "session_id or public_key required")
		return
	}
	tr, err := transcriptFromWire(s.g, req.Proof)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	valid := schnorr.Verify(s.g, publicKey, req.Message, tr)
	metrics.Inc("verify_total", map[string]string{"result": boolResult(valid)})
	writeJSON(w, http.StatusOK, wire.VerifyResponse{Valid: valid})
}

func (s *Service) handleBlindSetup(w http.ResponseWriter, r *http.Request) {
	var req wire.BlindSetupRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.WitnessCommitment) == 0 {
		writeErr(w, http.StatusBadRequest, "bad_request", "witness_commitment required")
		return
	}
	secret := schnorr.SecretFromCommitment(s.g, req.WitnessCommitment)
	sess, err := s.setup(r.Context(), secret, req.WitnessCommitment)
	if err != nil {
		failWith(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.BlindSetupResponse{
		SessionID:         sess.ID,
		Generator:         s.g.Base().Encode(),
		WitnessCommitment: sess.WitnessCommitment,
		NumNodes:          sess.N,
		Threshold:         sess.K,
	})
}

func (s *Service) handleBlindProve(w http.ResponseWriter, r *http.Request) {
	var req wire.BlindProveRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := s.sessions.Get(req.SessionID)
	if err != nil {
		failWith(w, err)
		return
	}
	if !sess.Blind() {
		failWith(w, ErrNotBlind)
		return
	}
	tr, participants, err := s.prove(r.Context(), sess, req.Message, sess.WitnessCommitment)
	if err != nil {
		failWith(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.BlindProveResponse{
		Status: "ok",
		Data: wire.BlindProveData{
			BlindProof: wire.BlindProof{
				WitnessCommitment: sess.WitnessCommitment,
				Commitment:        tr.Commitment.Encode(),
				Challenge:         tr.Challenge.Encode(),
				Response:          tr.Response.Encode(),
			},
			Participants: participants,
		},
	})
}

func (s *Service) handleBlindVerify(w http.ResponseWriter, r *http.Request) {
	var req wire.BlindVerifyRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := s.sessions.Get(req.SessionID)
	if err != nil {
		failWith(w, err)
		return
	}
	if !sess.Blind() {
		failWith(w, ErrNotBlind)
		return
	}
	if err := schnorr.VerifyReveal(req.Witness, req.Salt, req.Proof.WitnessCommitment); err != nil {
		metrics.Inc("verify_total", map[string]string{"result": "reveal_mismatch"})
		writeJSON(w, http.StatusOK, wire.VerifyResponse{Valid: false})
		return
	}
	tr, err := transcriptFromWire(s.g, wire.Proof{
		Commitment: req.Proof.Commitment,
		Challenge:  req.Proof.Challenge,
		Response:   req.Proof.Response,
	})
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	bp := &schnorr.BlindProof{WitnessCommitment: req.Proof.WitnessCommitment, Transcript: *tr}
	valid := schnorr.VerifyBlind(s.g, sess.PublicKey, req.Message, bp)
	metrics.Inc("verify_total", map[string]string{"result": boolResult(valid)})
	writeJSON(w, http.StatusOK, wire.VerifyResponse{Valid: valid})
}

func (s *Service) handleBatchProve(w http.ResponseWriter, r *http.Request) {
	var req wire.BatchProveRequest
	if !decode(w, r, &req) {
		return
	}
	kind := circuit.KindRollupV1
	if req.Circuit != "" {
		kind = circuit.Kind(req.Circuit)
	}
	exec, err := s.circuits.Lookup(kind)
	if err != nil {
		failWith(w, err)
		return
	}
	chunkSize := s.cfg.ChunkSize
	if req.ChunkSize > 0 {
		chunkSize = req.ChunkSize
	}
	batchID := req.BatchID
	if batchID == "" {
		batchID = uuid.NewString()
	}
	txs := make([]circuit.Tx, len(req.Txs))
	for i, t := range req.Txs {
		txs[i] = t.ToInternal()
	}
	pipe := batch.NewPipeline(exec, &chunkDispatcher{reg: s.reg, client: s.client}, chunkSize)
	proof, err := pipe.ProveBatch(r.Context(), batchID, txs, req.PreStateRoot, req.PreShieldedRoot)
	if err != nil {
		s.publish(bus.Event{Kind: bus.KindBatch, BatchID: batchID, Result: "failed"})
		failWith(w, err)
		return
	}
	s.publish(bus.Event{Kind: bus.KindBatch, BatchID: batchID, Result: "ok"})
	writeJSON(w, http.StatusOK, wire.BatchProofResponse{
		BatchID:          proof.BatchID,
		PreStateRoot:     proof.PreStateRoot,
		PostStateRoot:    proof.PostStateRoot,
		PreShieldedRoot:  proof.PreShieldedRoot,
		PostShieldedRoot: proof.PostShieldedRoot,
		WithdrawalRoot:   proof.WithdrawalRoot,
		BatchHash:        proof.BatchHash,
		NumChunks:        proof.NumChunks,
		Proof:            proof.Aggregate,
	})
}

func (s *Service) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req wire.RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" || req.URL == "" {
		writeErr(w, http.StatusBadRequest, "bad_request", "id and url required")
		return
	}
	s.reg.Register(req.ID, req.URL)
	online := s.client.Probe(r.Context(), req.URL) == nil
	s.reg.SetOnline(req.ID, online)
	metrics.Inc("registrations_total", map[string]string{"result": boolResult(online)})
	logger.InfoJ("worker_registered", map[string]any{"node": req.ID, "url": req.URL, "online": online})
	writeJSON(w, http.StatusOK, wire.RegisterResponse{Status: "ok", Online: online})
}

func (s *Service) handleTeardown(w http.ResponseWriter, r *http.Request) {
	var req wire.TeardownRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := s.sessions.Get(req.SessionID)
	if err != nil {
		failWith(w, err)
		return
	}
	s.teardown(r.Context(), sess)
	writeJSON(w, http.StatusOK, wire.ShareResponse{Status: "ok"})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	nodes := s.reg.Snapshot()
	out := wire.HealthResponse{Status: "ok", Nodes: make([]wire.NodeHealth, len(nodes))}
	for i, n := range nodes {
		out.Nodes[i] = wire.NodeHealth{ID: n.ID, URL: n.URL, Online: n.Online, Ready: n.Ready}
	}
	writeJSON(w, http.StatusOK, out)
}

func transcriptToWire(t *schnorr.Transcript) wire.Proof {
	return wire.Proof{
		Commitment: t.Commitment.Encode(),
		Challenge:  t.Challenge.Encode(),
		Response:   t.Response.Encode(),
	}
}

func transcriptFromWire(g group.Group, p wire.Proof) (*schnorr.Transcript, error) {
	t := &schnorr.Transcript{
		Commitment: g.NewElement(),
		Challenge:  g.NewScalar(),
		Response:   g.NewScalar(),
	}
	if err := t.Commitment.Decode(p.Commitment); err != nil {
		return nil, errors.New("malformed proof commitment")
	}
	if err := t.Challenge.Decode(p.Challenge); err != nil {
		return nil, errors.New("malformed proof challenge")
	}
	if err := t.Response.Decode(p.Response); err != nil {
		return nil, errors.New("malformed proof response")
	}
	return t, nil
}

func boolResult(ok bool) string {
	if ok {
		return "ok"
	}
	return "invalid"
}
