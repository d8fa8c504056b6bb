// Package peers implements the thread-safe peer registry (spec §3, §5):
// one mutex guarding a map keyed by node_id, with liveness refreshed on
// every valid inbound frame.
package peers

import (
	"log/slog"
	"sort"
	"sync"

	"sensorhub"
)

// Table is the registry of known peers, keyed by node_id. It never holds
// an entry for the local node's own identity.
type Table struct {
	mu   sync.RWMutex
	self sensorhub.NodeID
	byID map[sensorhub.NodeID]sensorhub.Peer
	log  *slog.Logger
}

// New creates an empty table for the node identified by self.
func New(self sensorhub.NodeID, log *slog.Logger) *Table {
	if log == nil {
		log = slog.Default()
	}
	return &Table{
		self: self,
		byID: make(map[sensorhub.NodeID]sensorhub.Peer),
		log:  log,
	}
}

// Add inserts a newly-learned peer with status alive, returning false
// (no-op) if id is the local node's own id or already known.
func (t *Table) Add(id sensorhub.NodeID, addr sensorhub.Address, nowMs int64) bool {
	if id == t.self || id == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, known := t.byID[id]; known {
		return false
	}
	t.byID[id] = sensorhub.Peer{
		NodeID:     id,
		Address:    addr,
		LastSeenMs: nowMs,
		Status:     sensorhub.PeerAlive,
	}
	return true
}

// Get returns the peer for id, if known.
func (t *Table) Get(id sensorhub.NodeID) (sensorhub.Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.byID[id]
	return p, ok
}

// Known reports whether id is present in the table.
func (t *Table) Known(id sensorhub.NodeID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.byID[id]
	return ok
}

// UpdateAddress refreshes the stored address for a known peer if it
// differs, without touching liveness fields (spec §4.7 PEER_LIST handler).
// Returns false if id is unknown or the address is unchanged.
func (t *Table) UpdateAddress(id sensorhub.NodeID, addr sensorhub.Address) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byID[id]
	if !ok || p.Address == addr {
		return false
	}
	p.Address = addr
	t.byID[id] = p
	return true
}

// Touch refreshes last_seen_ms for a known peer. Returns false if id is
// unknown; the dispatcher relies on this to skip updating liveness for
// peers it has not yet learned about (spec §4.2).
func (t *Table) Touch(id sensorhub.NodeID, nowMs int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byID[id]
	if !ok {
		return false
	}
	p.LastSeenMs = nowMs
	t.byID[id] = p
	return true
}

// All returns a deterministic (node_id-sorted) snapshot of every known
// peer, used for gossip replies and test hooks (spec §4.7, S4).
func (t *Table) All() []sensorhub.Peer {
	t.mu.RLock()
	out := make([]sensorhub.Peer, 0, len(t.byID))
	for _, p := range t.byID {
		out = append(out, p)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// Len reports the number of known peers.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}
