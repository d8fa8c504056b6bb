package state

import (
	"math/rand"
	"testing"

	"sensorhub"
)

func entry(key, origin string, ts int64, value any) sensorhub.SensorEntry {
	return sensorhub.SensorEntry{Key: key, Value: value, TsMs: ts, Origin: origin}
}

// S1: strictly greater ts_ms replaces the stored entry.
func TestApplyLocal_StrictlyGreaterReplaces(t *testing.T) {
	e := New(nil)
	e.ApplyLocal("n1", entry("n1:t", "n1", 100, 22))
	accepted := e.ApplyLocal("n1", entry("n1:t", "n1", 101, 23))
	if !accepted {
		t.Fatal("expected acceptance")
	}
	snap := e.SnapshotState()
	if snap["n1"]["t"].Value.(int) != 23 {
		t.Fatalf("got %v, want 23", snap["n1"]["t"].Value)
	}
}

// S3: stale entries (lower ts_ms) are discarded.
func TestApplyRemote_StaleDiscarded(t *testing.T) {
	e := New(nil)
	e.ApplyRemote(entry("n1:t", "n1", 200, "first"))
	accepted := e.ApplyRemote(entry("n1:t", "n1", 150, "second"))
	if accepted {
		t.Fatal("expected rejection of stale entry")
	}
	snap := e.SnapshotState()
	if snap["n1"]["t"].TsMs != 200 {
		t.Fatalf("got ts_ms %d, want 200", snap["n1"]["t"].TsMs)
	}
}

// S2 (white-box tie-break, separate from origin isolation per spec §8):
// equal ts_ms breaks to the lexically greater origin, exercised directly
// against the merge core with distinct keys per origin.
func TestPrecedes_TieBreakByOrigin(t *testing.T) {
	a := entry("a:t", "a", 100, 22)
	b := entry("b:t", "b", 100, 99)
	if !a.Precedes(b) {
		t.Fatal("expected b (origin \"b\") to win the tie over a (origin \"a\")")
	}
	if b.Precedes(a) {
		t.Fatal("expected a not to win the tie over b")
	}
}

func TestApplyRemote_RejectsNonPositiveTimestamp(t *testing.T) {
	e := New(nil)
	if e.ApplyRemote(entry("n1:t", "n1", 0, 1)) {
		t.Fatal("expected rejection of ts_ms == 0")
	}
	if e.ApplyRemote(entry("n1:t", "n1", -5, 1)) {
		t.Fatal("expected rejection of negative ts_ms")
	}
}

func TestOriginIsolation_KeyPrefixMismatchRejected(t *testing.T) {
	e := New(nil)
	if e.ApplyRemote(entry("n1:t", "n2", 100, 1)) {
		t.Fatal("expected rejection when key prefix does not match origin")
	}
	if e.Len() != 0 {
		t.Fatalf("expected no entries stored, got %d", e.Len())
	}
}

func TestApplyLocal_RejectsForeignOrigin(t *testing.T) {
	e := New(nil)
	if e.ApplyLocal("n1", entry("n2:t", "n2", 100, 1)) {
		t.Fatal("apply_local must reject entries not originated by self")
	}
}

// Idempotence: merge(merge(S, e), e) == merge(S, e).
func TestMerge_Idempotent(t *testing.T) {
	e := New(nil)
	entry := entry("n1:t", "n1", 100, 42)
	first := e.ApplyRemote(entry)
	second := e.ApplyRemote(entry)
	if !first {
		t.Fatal("first apply should be accepted")
	}
	if second {
		t.Fatal("re-applying the identical entry must not be re-accepted")
	}
	if e.Len() != 1 {
		t.Fatalf("expected exactly one stored entry, got %d", e.Len())
	}
}

// Determinism: any permutation of the same update multiset converges to
// the same final state.
func TestMerge_OrderIndependent(t *testing.T) {
	updates := []sensorhub.SensorEntry{
		entry("n1:t", "n1", 100, "a"),
		entry("n1:t", "n1", 105, "b"),
		entry("n1:t", "n1", 103, "c"),
		entry("n2:t", "n2", 50, "x"),
		entry("n2:t", "n2", 999, "y"),
	}

	final := finalState(updates)
	for i := 0; i < 100; i++ {
		shuffled := append([]sensorhub.SensorEntry(nil), updates...)
		rand.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		if got := finalState(shuffled); !statesEqual(got, final) {
			t.Fatalf("shuffled order produced different state:\ngot  %+v\nwant %+v", got, final)
		}
	}
}

func finalState(updates []sensorhub.SensorEntry) map[string]sensorhub.SensorEntryView {
	e := New(nil)
	for _, u := range updates {
		e.ApplyRemote(u)
	}
	flat := make(map[string]sensorhub.SensorEntryView)
	for origin, bySensor := range e.SnapshotState() {
		for sensorID, v := range bySensor {
			flat[origin+":"+sensorID] = v
		}
	}
	return flat
}

func statesEqual(a, b map[string]sensorhub.SensorEntryView) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		ov, ok := b[k]
		if !ok || ov.TsMs != v.TsMs || ov.Origin != v.Origin || ov.Value != v.Value {
			return false
		}
	}
	return true
}

// Buffer semantics: drains are consume-once and apply_local/apply_remote
// route to the correct buffers (spec §8.5, S6).
func TestBufferSemantics(t *testing.T) {
	e := New(nil)
	e.ApplyLocal("n1", entry("n1:local", "n1", 100, 1))
	e.ApplyRemote(entry("n2:remote", "n2", 100, 2))

	ui := e.DrainUIUpdates()
	if len(ui) != 2 {
		t.Fatalf("expected both entries in UI buffer, got %d", len(ui))
	}
	if empty := e.DrainUIUpdates(); len(empty) != 0 {
		t.Fatalf("expected empty UI buffer after drain, got %d", len(empty))
	}

	repl := e.DrainReplicationUpdates()
	if len(repl) != 1 || repl[0].Key != "n1:local" {
		t.Fatalf("expected only the local entry in replication buffer, got %+v", repl)
	}
	if empty := e.DrainReplicationUpdates(); len(empty) != 0 {
		t.Fatalf("expected empty replication buffer after drain, got %d", len(empty))
	}
}
