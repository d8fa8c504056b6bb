// Package state implements the LWW register-map CRDT that is the core of
// the sensor hub: a single GlobalState map merged under the (ts_ms, origin)
// total order, with two independent clear-on-read update buffers (spec §4.3).
package state

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"sensorhub"
)

// Engine owns the global sensor map and its two update buffers. All public
// methods are safe for concurrent use; merges and drains are atomic with
// respect to each other under a single mutex (spec §5).
type Engine struct {
	mu       sync.Mutex
	global   map[string]sensorhub.SensorEntry
	ui       []sensorhub.SensorEntry
	repl     []sensorhub.SensorEntry
	log      *slog.Logger
	rejected uint64 // merge_rejected counter, for diagnostics
}

// New creates an empty state engine.
func New(log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		global: make(map[string]sensorhub.SensorEntry),
		log:    log,
	}
}

// ApplyLocal merges an entry produced locally. entry.Origin must equal
// selfID; entries that fail that check are rejected without being merged.
// Accepted entries are appended to both the UI and replication buffers.
func (e *Engine) ApplyLocal(selfID sensorhub.NodeID, entry sensorhub.SensorEntry) bool {
	if entry.Origin != string(selfID) {
		e.log.Warn("rejecting local entry with foreign origin", "key", entry.Key, "origin", entry.Origin, "self", selfID)
		return false
	}
	return e.apply(entry, true)
}

// ApplyRemote merges an entry received over the wire from another node.
// Accepted entries are appended to the UI buffer only — never to the
// replication buffer, which would otherwise cause update echoes (spec §4.3,
// S6).
func (e *Engine) ApplyRemote(entry sensorhub.SensorEntry) bool {
	return e.apply(entry, false)
}

func (e *Engine) apply(entry sensorhub.SensorEntry, local bool) bool {
	if entry.TsMs <= 0 {
		e.log.Debug("merge_rejected: non-positive ts_ms", "key", entry.Key, "ts_ms", entry.TsMs)
		return false
	}
	if !keyMatchesOrigin(entry) {
		e.log.Warn("merge_rejected: key/origin mismatch", "key", entry.Key, "origin", entry.Origin)
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	existing, known := e.global[entry.Key]
	accept := !known || existing.Precedes(entry)
	if !accept {
		e.rejected++
		e.log.Debug("merge_rejected: stale entry", "key", entry.Key, "incoming_ts_ms", entry.TsMs, "stored_ts_ms", existing.TsMs)
		return false
	}

	e.global[entry.Key] = entry
	e.ui = append(e.ui, entry)
	if local {
		e.repl = append(e.repl, entry)
	}
	return true
}

// keyMatchesOrigin enforces the origin-isolation invariant: key must be
// exactly "<origin>:<sensor_id>" with a non-empty sensor_id (spec §3, §4.3).
func keyMatchesOrigin(entry sensorhub.SensorEntry) bool {
	prefix := entry.Origin + ":"
	return strings.HasPrefix(entry.Key, prefix) && len(entry.Key) > len(prefix)
}

// SnapshotState returns a deterministic, deep-copied view of the global
// state grouped by origin node_id (spec §4.3, §6.2).
func (e *Engine) SnapshotState() map[string]map[string]sensorhub.SensorEntryView {
	e.mu.Lock()
	entries := make([]sensorhub.SensorEntry, 0, len(e.global))
	for _, entry := range e.global {
		entries = append(entries, entry)
	}
	e.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	out := make(map[string]map[string]sensorhub.SensorEntryView)
	for _, entry := range entries {
		sensorID := strings.TrimPrefix(entry.Key, entry.Origin+":")
		byOrigin, ok := out[entry.Origin]
		if !ok {
			byOrigin = make(map[string]sensorhub.SensorEntryView)
			out[entry.Origin] = byOrigin
		}
		byOrigin[sensorID] = entry.View()
	}
	return out
}

// DrainUIUpdates atomically returns and clears the UI update buffer.
func (e *Engine) DrainUIUpdates() []sensorhub.SensorEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	drained := e.ui
	e.ui = nil
	return drained
}

// DrainReplicationUpdates atomically returns and clears the replication
// update buffer.
func (e *Engine) DrainReplicationUpdates() []sensorhub.SensorEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	drained := e.repl
	e.repl = nil
	return drained
}

// Len reports the number of distinct keys currently stored (test/debug aid).
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.global)
}
