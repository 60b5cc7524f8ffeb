// Package registry tracks worker nodes: transport reachability (online)
// and session availability (ready). Only the coordinator's own callbacks
// mutate entries; workers never touch registry state.
package registry

import (
	"sort"
	"sync"
)

// Node is one worker entry. Online reflects transport reachability; Ready
// means the node holds a valid share for the current session and is not
// failed out of it.
type Node struct {
	ID     string
	URL    string
	Index  uint32
	Online bool
	Ready  bool
}

type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

func New() *Registry { return &Registry{nodes: make(map[string]*Node)} }

// Register adds a worker. Share indices are assigned by registration order
// starting at 1; re-registering an ID updates its URL only.
func (r *Registry) Register(id, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[id]; ok {
		n.URL = url
		return
	}
	r.nodes[id] = &Node{ID: id, URL: url, Index: uint32(len(r.nodes) + 1)}
}

func (r *Registry) get(id string) *Node { return r.nodes[id] }

// SetOnline records a probe outcome. Losing reachability also clears Ready:
// the node cannot serve the current session until shares are redelivered.
// Returns true when the online flag actually changed.
func (r *Registry) SetOnline(id string, online bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.get(id)
	if n == nil || n.Online == online {
		return false
	}
	n.Online = online
	if !online {
		n.Ready = false
	}
	return true
}

// SetReady flips session availability for one node.
func (r *Registry) SetReady(id string, ready bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := r.get(id); n != nil {
		n.Ready = ready && n.Online
	}
}

// ClearReady clears Ready on every node (session teardown).
func (r *Registry) ClearReady() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.nodes {
		n.Ready = false
	}
}

func (r *Registry) snapshotLocked(filter func(*Node) bool) []Node {
	out := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		if filter == nil || filter(n) {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Snapshot returns all nodes in share-index order.
func (r *Registry) Snapshot() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(nil)
}

// Online returns reachable nodes in share-index order.
func (r *Registry) Online() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(func(n *Node) bool { return n.Online })
}

// Ready returns nodes able to serve the current session, in share-index
// order.
func (r *Registry) Ready() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(func(n *Node) bool { return n.Online && n.Ready })
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

func (r *Registry) ReadyCount() int { return len(r.Ready()) }
