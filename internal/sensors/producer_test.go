package sensors

import (
	"context"
	"sync"
	"testing"
	"time"

	"sensorhub"
)

type fakeEngine struct {
	mu      sync.Mutex
	applied []sensorhub.SensorEntry
}

func (f *fakeEngine) ApplyLocal(selfID sensorhub.NodeID, entry sensorhub.SensorEntry) bool {
	f.mu.Lock()
	f.applied = append(f.applied, entry)
	f.mu.Unlock()
	return true
}

func (f *fakeEngine) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

func TestCounter_MonotonicallyIncreases(t *testing.T) {
	c := NewCounter("reqs", time.Second, 10)
	first := c.Next().(int64)
	second := c.Next().(int64)
	third := c.Next().(int64)
	if first != 11 || second != 12 || third != 13 {
		t.Fatalf("expected strictly increasing sequence from 10, got %d %d %d", first, second, third)
	}
}

func TestGauge_StaysWithinBounds(t *testing.T) {
	g := NewGauge("temp", time.Second, 0, 10, 5)
	for i := 0; i < 1000; i++ {
		v := g.Next().(float64)
		if v < 0 || v > 10 {
			t.Fatalf("gauge escaped bounds: %f", v)
		}
	}
}

func TestRunner_AppliesEntryWithContractFields(t *testing.T) {
	engine := &fakeEngine{}
	counter := NewCounter("reqs", 5*time.Millisecond, 0)
	r := NewRunner("node-1", counter, engine, nil, func() int64 { return 42 })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	if engine.count() == 0 {
		t.Fatal("expected at least one applied reading")
	}
	entry := engine.applied[0]
	if entry.Key != "node-1:reqs" {
		t.Fatalf("expected key node-1:reqs, got %s", entry.Key)
	}
	if entry.Origin != "node-1" {
		t.Fatalf("expected origin node-1, got %s", entry.Origin)
	}
	if entry.TsMs != 42 {
		t.Fatalf("expected ts_ms from injected clock, got %d", entry.TsMs)
	}
}
