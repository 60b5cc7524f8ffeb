// Package worker implements a stateless compute node. The only state it
// holds is one secret share per active session plus the per-round nonces
// derived from it; everything is wiped on teardown or expiry.
package worker

import (
	"errors"
	"sync"
	"time"

	group "github.com/bytemare/crypto"

	"github.com/proofmesh/proofmesh-network/internal/schnorr"
)

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrSessionExpired = errors.New("session expired")
	ErrNoNonce        = errors.New("no nonce for round, commit first")
	ErrShareConflict  = errors.New("conflicting share delivery for session")
)

type round struct {
	nonce *group.Scalar
	point *group.Element
}

type session struct {
	index     uint32
	share     *group.Scalar
	shareRaw  []byte
	threshold int
	expiresAt time.Time
	rounds    map[uint64]*round
}

// Store holds session shares and round nonces. All methods are safe for
// concurrent handlers.
type Store struct {
	g  group.Group
	mu sync.Mutex
	s  map[string]*session
}

func NewStore(g group.Group) *Store { return &Store{g: g, s: make(map[string]*session)} }

// PutShare installs a share for a session. Idempotent: re-delivery of the
// identical share is accepted; a different share for a live session is a
// conflict.
func (st *Store) PutShare(sessionID string, index uint32, raw []byte, threshold int, expiresAt time.Time) error {
	share := st.g.NewScalar()
	if err := share.Decode(raw); err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if cur, ok := st.s[sessionID]; ok {
		if cur.index != index || string(cur.shareRaw) != string(raw) {
			return ErrShareConflict
		}
		return nil
	}
	st.s[sessionID] = &session{
		index:     index,
		share:     share,
		shareRaw:  append([]byte(nil), raw...),
		threshold: threshold,
		expiresAt: expiresAt,
		rounds:    make(map[uint64]*round),
	}
	return nil
}

func (st *Store) live(sessionID string) (*session, error) {
	s, ok := st.s[sessionID]
	if !ok {
		return nil, ErrUnknownSession
	}
	if !s.expiresAt.IsZero() && time.Now().After(s.expiresAt) {
		st.wipeLocked(sessionID, s)
		return nil, ErrSessionExpired
	}
	return s, nil
}

// Commit returns the nonce point for (session, round), sampling the nonce
// on first use. Idempotent per round, so coordinator retries see the same
// point.
func (st *Store) Commit(sessionID string, roundID uint64) (uint32, *group.Element, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, err := st.live(sessionID)
	if err != nil {
		return 0, nil, err
	}
	r, ok := s.rounds[roundID]
	if !ok {
		nonce, point := schnorr.Commit(st.g)
		r = &round{nonce: nonce, point: point}
		s.rounds[roundID] = r
	}
	return s.index, r.point, nil
}

// Respond computes the partial response for (session, round) under the
// broadcast challenge. Requires a prior Commit for the round.
func (st *Store) Respond(sessionID string, roundID uint64, challenge *group.Scalar) (uint32, *group.Scalar, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, err := st.live(sessionID)
	if err != nil {
		return 0, nil, err
	}
	r, ok := s.rounds[roundID]
	if !ok {
		return 0, nil, ErrNoNonce
	}
	return s.index, schnorr.Respond(s.share, r.nonce, challenge), nil
}

func (st *Store) wipeLocked(sessionID string, s *session) {
	s.share.Zero()
	for _, r := range s.rounds {
		r.nonce.Zero()
	}
	for i := range s.shareRaw {
		s.shareRaw[i] = 0
	}
	delete(st.s, sessionID)
}

// Teardown wipes a session's share and nonces. Unknown sessions are a
// no-op so the call stays idempotent.
func (st *Store) Teardown(sessionID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.s[sessionID]; ok {
		st.wipeLocked(sessionID, s)
	}
}

// Sessions returns the number of live sessions.
func (st *Store) Sessions() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.s)
}
