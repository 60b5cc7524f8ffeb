package coordinator

import (
	"context"
	"fmt"
	"time"

	group "github.com/bytemare/crypto"

	"github.com/proofmesh/proofmesh-network/internal/registry"
	"github.com/proofmesh/proofmesh-network/internal/schnorr"
	"github.com/proofmesh/proofmesh-network/internal/sharing"
	"github.com/proofmesh/proofmesh-network/internal/wire"
	"github.com/proofmesh/proofmesh-network/pkg/bus"
	"github.com/proofmesh/proofmesh-network/pkg/logger"
	"github.com/proofmesh/proofmesh-network/pkg/metrics"
)

// setup splits a secret across all online workers and creates the session.
// A nil secret is generated. The secret scalar is zeroed before returning:
// once shares are out, no single party holds it.
func (s *Service) setup(ctx context.Context, secret *group.Scalar, witnessCommitment []byte) (*Session, error) {
	nodes := s.reg.Online()
	n, k := len(nodes), s.cfg.Threshold
	if n < k {
		metrics.Inc("setup_total", map[string]string{"result": "threshold_unavailable"})
		return nil, fmt.Errorf("%w: %d online of %d required", ErrThresholdUnavailable, n, k)
	}
	if secret == nil {
		secret = s.g.NewScalar().Random()
	}
	publicKey := s.g.Base().Multiply(secret)

	shares, err := sharing.Split(s.g, secret, uint32(n), uint32(k))
	secret.Zero()
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ID:                newSessionID(),
		PublicKey:         publicKey,
		WitnessCommitment: witnessCommitment,
		K:                 k,
		N:                 n,
		NodeIDs:           make([]string, n),
		CreatedAt:         time.Now(),
		ExpiresAt:         time.Now().Add(s.cfg.SessionTTL),
		Phase:             PhaseSetUp,
	}

	// Share i+1 goes to the i-th online node; NodeIDs keeps that mapping
	// for the round subsets.
	type outcome struct {
		node registry.Node
		err  error
	}
	results := make(chan outcome, n)
	for i, node := range nodes {
		sess.NodeIDs[i] = node.ID
		go func(node registry.Node, sh sharing.Share) {
			err := s.client.SendShare(ctx, node.URL, wire.ShareRequest{
				SessionID: sess.ID,
				Index:     sh.Index,
				Share:     sh.Value.Encode(),
				Threshold: k,
				ExpiresAt: sess.ExpiresAt.Unix(),
			})
			results <- outcome{node: node, err: err}
		}(node, shares[i])
	}
	for _, sh := range shares {
		defer sh.Value.Zero()
	}

	delivered := 0
	for i := 0; i < n; i++ {
		r := <-results
		if r.err != nil {
			logger.ErrorJ("share_delivery", map[string]any{"session_id": sess.ID, "node": r.node.ID, "err": r.err.Error()})
			s.reg.SetReady(r.node.ID, false)
			continue
		}
		s.reg.SetReady(r.node.ID, true)
		delivered++
	}
	if delivered < k {
		metrics.Inc("setup_total", map[string]string{"result": "delivery_failed"})
		return nil, fmt.Errorf("%w: only %d of %d shares delivered", ErrThresholdUnavailable, delivered, k)
	}

	s.sessions.Put(sess)
	metrics.Inc("setup_total", map[string]string{"result": "ok"})
	logger.InfoJ("session_setup", map[string]any{
		"session_id": sess.ID, "n": n, "k": k, "delivered": delivered, "blind": sess.Blind(),
	})
	return sess, nil
}

// sessionNodes returns the ready workers of a session keyed by their share
// index.
func (s *Service) sessionNodes(sess *Session) map[uint32]registry.Node {
	ready := s.reg.Ready()
	byID := make(map[string]registry.Node, len(ready))
	for _, n := range ready {
		byID[n.ID] = n
	}
	out := make(map[uint32]registry.Node, len(sess.NodeIDs))
	for i, id := range sess.NodeIDs {
		if n, ok := byID[id]; ok {
			out[uint32(i+1)] = n
		}
	}
	return out
}

// prove runs one collaborative round: commit fan-out, first-k collection,
// Fiat-Shamir challenge, respond fan-out over the fixed subset, combine.
func (s *Service) prove(ctx context.Context, sess *Session, message []byte, binding ...[]byte) (*schnorr.Transcript, []uint32, error) {
	begin := time.Now()
	nodes := s.sessionNodes(sess)
	k := sess.K
	if len(nodes) < k {
		metrics.Inc("rounds_total", map[string]string{"result": "threshold_unavailable"})
		return nil, nil, fmt.Errorf("%w: %d ready of %d required", ErrThresholdUnavailable, len(nodes), k)
	}

	roundID := s.sessions.NextRound(sess)
	rctx, cancel := context.WithTimeout(ctx, s.cfg.RoundTimeout)
	defer cancel()

	// Commit phase: ask every ready session worker, proceed at the first
	// k valid answers; stragglers are cancelled and discarded.
	type commitOutcome struct {
		index uint32
		node  registry.Node
		resp  wire.PartialCommitResponse
		err   error
	}
	cctx, stopCommits := context.WithCancel(rctx)
	defer stopCommits()
	commits := make(chan commitOutcome, len(nodes))
	for index, node := range nodes {
		go func(index uint32, node registry.Node) {
			resp, err := s.client.Commit(cctx, node.URL, wire.PartialCommitRequest{SessionID: sess.ID, Round: roundID})
			commits <- commitOutcome{index: index, node: node, resp: resp, err: err}
		}(index, node)
	}

	partials := make([]schnorr.PartialCommitment, 0, k)
	for i := 0; i < len(nodes) && len(partials) < k; i++ {
		var c commitOutcome
		select {
		case c = <-commits:
		case <-rctx.Done():
			metrics.Inc("rounds_total", map[string]string{"result": "timeout"})
			return nil, nil, fmt.Errorf("%w: commit phase timed out with %d of %d", ErrThresholdNotMet, len(partials), k)
		}
		if c.err != nil {
			s.excludeWorker(sess, c.node, "commit", c.err)
			continue
		}
		point := s.g.NewElement()
		if c.resp.Index != c.index || point.Decode(c.resp.Point) != nil {
			s.excludeWorker(sess, c.node, "commit", fmt.Errorf("malformed partial commitment"))
			continue
		}
		partials = append(partials, schnorr.PartialCommitment{Index: c.index, Point: point})
	}
	stopCommits()
	if len(partials) < k {
		metrics.Inc("rounds_total", map[string]string{"result": "threshold_not_met"})
		return nil, nil, fmt.Errorf("%w: %d valid commitments of %d", ErrThresholdNotMet, len(partials), k)
	}

	commitment, subset, err := schnorr.CombineCommitments(s.g, partials, uint32(k))
	if err != nil {
		return nil, nil, err
	}
	s.sessions.SetPhase(sess, PhaseCommitted)

	challenge := schnorr.Challenge(s.g, commitment, sess.PublicKey, message, binding...)
	s.sessions.SetPhase(sess, PhaseChallenged)

	// Respond phase: exactly the committed subset; the Lagrange weights
	// are already bound to it, so any miss aborts the round.
	type respondOutcome struct {
		index uint32
		node  registry.Node
		resp  wire.PartialRespondResponse
		err   error
	}
	responds := make(chan respondOutcome, len(subset))
	for _, index := range subset {
		node := nodes[index]
		go func(index uint32, node registry.Node) {
			resp, err := s.client.Respond(rctx, node.URL, wire.PartialRespondRequest{
				SessionID: sess.ID, Round: roundID, Challenge: challenge.Encode(),
			})
			responds <- respondOutcome{index: index, node: node, resp: resp, err: err}
		}(index, node)
	}

	responses := make([]schnorr.PartialResponse, 0, len(subset))
	for range subset {
		var r respondOutcome
		select {
		case r = <-responds:
		case <-rctx.Done():
			metrics.Inc("rounds_total", map[string]string{"result": "timeout"})
			return nil, nil, fmt.Errorf("%w: respond phase timed out", ErrThresholdNotMet)
		}
		if r.err != nil {
			s.excludeWorker(sess, r.node, "respond", r.err)
			continue
		}
		value := s.g.NewScalar()
		if r.resp.Index != r.index || value.Decode(r.resp.Value) != nil {
			s.excludeWorker(sess, r.node, "respond", fmt.Errorf("malformed partial response"))
			continue
		}
		responses = append(responses, schnorr.PartialResponse{Index: r.index, Value: value})
	}
	if len(responses) < len(subset) {
		metrics.Inc("rounds_total", map[string]string{"result": "threshold_not_met"})
		return nil, nil, fmt.Errorf("%w: %d responses for a subset of %d", ErrThresholdNotMet, len(responses), len(subset))
	}

	response, err := schnorr.CombineResponses(s.g, responses, subset)
	if err != nil {
		return nil, nil, err
	}
	s.sessions.SetPhase(sess, PhaseResponded)

	tr := &schnorr.Transcript{Commitment: commitment, Challenge: challenge, Response: response}
	if !schnorr.Verify(s.g, sess.PublicKey, message, tr, binding...) {
		s.sessions.SetPhase(sess, PhaseAborted)
		metrics.Inc("rounds_total", map[string]string{"result": "verification_failed"})
		s.publish(bus.Event{Kind: bus.KindRound, SessionID: sess.ID, Result: "verification_failed"})
		return nil, nil, ErrVerificationFailed
	}
	s.sessions.SetPhase(sess, PhaseCombined)

	durMs := time.Since(begin).Milliseconds()
	metrics.Inc("rounds_total", map[string]string{"result": "ok"})
	metrics.ObserveSummary("round_ms", nil, float64(durMs))
	logger.InfoJ("round_combined", map[string]any{
		"session_id": sess.ID, "round": roundID, "participants": subset, "latency_ms": durMs,
	})
	s.publish(bus.Event{Kind: bus.KindRound, SessionID: sess.ID, Result: "ok"})
	return tr, subset, nil
}

// excludeWorker drops a worker from the rest of the session after an
// error, timeout, or malformed response.
func (s *Service) excludeWorker(sess *Session, node registry.Node, phase string, err error) {
	s.reg.SetReady(node.ID, false)
	metrics.Inc("worker_exclusions_total", map[string]string{"phase": phase})
	logger.ErrorJ("worker_excluded", map[string]any{
		"session_id": sess.ID, "node": node.ID, "phase": phase, "err": err.Error(),
	})
}

// teardown wipes worker shares and removes the session.
func (s *Service) teardown(ctx context.Context, sess *Session) {
	nodes := s.reg.Snapshot()
	byID := make(map[string]registry.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	for _, id := range sess.NodeIDs {
		if n, ok := byID[id]; ok {
			_ = s.client.Teardown(ctx, n.URL, sess.ID)
			s.reg.SetReady(id, false)
		}
	}
	s.sessions.Delete(sess.ID)
	logger.InfoJ("session_teardown", map[string]any{"session_id": sess.ID})
}
