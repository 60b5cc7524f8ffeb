package coordinator

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"
	"time"

	group "github.com/bytemare/crypto"

	"github.com/proofmesh/proofmesh-network/pkg/logger"
)

// Phase tracks the session state machine.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSetUp      Phase = "setup"
	PhaseCommitted  Phase = "committed"
	PhaseChallenged Phase = "challenged"
	PhaseResponded  Phase = "responded"
	PhaseCombined   Phase = "combined"
	PhaseAborted    Phase = "aborted"
)

// Session holds one sharing's public metadata. The secret itself is wiped
// after setup; only workers hold shares.
type Session struct {
	ID                string
	PublicKey         *group.Element
	WitnessCommitment []byte
	K                 int
	N                 int
	NodeIDs           []string
	CreatedAt         time.Time
	ExpiresAt         time.Time

	Phase Phase
	Round uint64
}

// Blind reports whether the session carries a witness commitment.
func (s *Session) Blind() bool { return len(s.WitnessCommitment) > 0 }

// Sessions is the coordinator's session table with optional on-disk
// persistence of session metadata (never key material beyond the public
// key).
type Sessions struct {
	g   group.Group
	mu  sync.Mutex
	m   map[string]*Session
	dir string // empty disables persistence
}

func NewSessions(g group.Group, dir string) *Sessions {
	s := &Sessions{g: g, m: make(map[string]*Session), dir: dir}
	s.loadAll()
	return s
}

// Put registers a session and persists its snapshot.
func (s *Sessions) Put(sess *Session) {
	s.mu.Lock()
	s.m[sess.ID] = sess
	snap := snapshotOf(sess)
	s.mu.Unlock()
	s.persist(snap)
}

// Get returns a live session, expiring it if past deadline.
func (s *Sessions) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if !sess.ExpiresAt.IsZero() && time.Now().After(sess.ExpiresAt) {
		delete(s.m, id)
		s.removeFile(id)
		return nil, ErrSessionExpired
	}
	return sess, nil
}

// Delete drops a session and its snapshot.
func (s *Sessions) Delete(id string) {
	s.mu.Lock()
	delete(s.m, id)
	s.mu.Unlock()
	s.removeFile(id)
}

// NextRound advances the session's round counter.
func (s *Sessions) NextRound(sess *Session) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.Round++
	return sess.Round
}

// SetPhase records a state transition and persists it. The snapshot is
// taken while the lock is held so concurrent rounds never hand persist a
// half-updated session.
func (s *Sessions) SetPhase(sess *Session, p Phase) {
	s.mu.Lock()
	sess.Phase = p
	snap := snapshotOf(sess)
	s.mu.Unlock()
	s.persist(snap)
}

const (
	sessMagic   uint32 = 0x50533031 // 'PS01'
	sessVersion uint16 = 1
)

type sessionSnapshot struct {
	ID                string `json:"id"`
	PublicKey         []byte `json:"public_key"`
	WitnessCommitment []byte `json:"witness_commitment,omitempty"`
	K                 int    `json:"k"`
	N                 int    `json:"n"`
	NodeIDs           []string `json:"node_ids"`
	CreatedAt         int64  `json:"created_at"`
	ExpiresAt         int64  `json:"expires_at"`
	Phase             string `json:"phase"`
	Round             uint64 `json:"round"`
}

func (s *Sessions) pathFor(id string) string {
	return filepath.Join(s.dir, "session_"+id+".dat")
}

// snapshotOf copies the persisted fields. Callers must hold Sessions.mu.
func snapshotOf(sess *Session) sessionSnapshot {
	return sessionSnapshot{
		ID: sess.ID, PublicKey: sess.PublicKey.Encode(),
		WitnessCommitment: sess.WitnessCommitment,
		K:                 sess.K, N: sess.N, NodeIDs: sess.NodeIDs,
		CreatedAt: sess.CreatedAt.Unix(), ExpiresAt: sess.ExpiresAt.Unix(),
		Phase: string(sess.Phase), Round: sess.Round,
	}
}

// persist writes the snapshot with a magic/version/CRC header via a tmp
// file rename, so a torn write never leaves a corrupt record.
func (s *Sessions) persist(snap sessionSnapshot) {
	if s.dir == "" {
		return
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return
	}
	path := s.pathFor(snap.ID)
	tmp := path + ".tmp"
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		logger.ErrorJ("session_store", map[string]any{"op": "save", "session_id": snap.ID, "err": err.Error()})
		return
	}
	var hdr [12]byte
	binary.BigEndian.PutUint32(hdr[0:], sessMagic)
	binary.BigEndian.PutUint16(hdr[4:], sessVersion)
	binary.BigEndian.PutUint16(hdr[6:], 0)
	binary.BigEndian.PutUint32(hdr[8:], crc32.ChecksumIEEE(b))
	if err := os.WriteFile(tmp, append(hdr[:], b...), 0o600); err != nil {
		logger.ErrorJ("session_store", map[string]any{"op": "save", "session_id": snap.ID, "err": err.Error()})
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		logger.ErrorJ("session_store", map[string]any{"op": "save", "session_id": snap.ID, "err": err.Error()})
	}
}

func (s *Sessions) removeFile(id string) {
	if s.dir == "" {
		return
	}
	_ = os.Remove(s.pathFor(id))
}

// loadAll restores persisted sessions at startup, skipping corrupt or
// expired records.
func (s *Sessions) loadAll() {
	if s.dir == "" {
		return
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".dat" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil || len(raw) < 12 {
			continue
		}
		if binary.BigEndian.Uint32(raw[0:]) != sessMagic || binary.BigEndian.Uint16(raw[4:]) != sessVersion {
			continue
		}
		body := raw[12:]
		if crc32.ChecksumIEEE(body) != binary.BigEndian.Uint32(raw[8:]) {
			logger.ErrorJ("session_store", map[string]any{"op": "load", "file": e.Name(), "err": "crc mismatch"})
			continue
		}
		var snap sessionSnapshot
		if json.Unmarshal(body, &snap) != nil {
			continue
		}
		if snap.ExpiresAt > 0 && time.Now().After(time.Unix(snap.ExpiresAt, 0)) {
			_ = os.Remove(filepath.Join(s.dir, e.Name()))
			continue
		}
		pk := s.g.NewElement()
		if pk.Decode(snap.PublicKey) != nil {
			continue
		}
		s.m[snap.ID] = &Session{
			ID: snap.ID, PublicKey: pk, WitnessCommitment: snap.WitnessCommitment,
			K: snap.K, N: snap.N, NodeIDs: snap.NodeIDs,
			CreatedAt: time.Unix(snap.CreatedAt, 0), ExpiresAt: time.Unix(snap.ExpiresAt, 0),
			Phase: Phase(snap.Phase), Round: snap.Round,
		}
	}
	if n := len(s.m); n > 0 {
		logger.InfoJ("session_store", map[string]any{"op": "load", "result": "ok", "sessions": n})
	}
}
