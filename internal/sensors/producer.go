// Package sensors implements the synthetic producer side of the sensor
// hub: periodic goroutines that generate readings and apply them to the
// local state engine (spec §9's producer contract, supplemented with two
// concrete runnable kinds since the distilled spec leaves producers as an
// external collaborator).
package sensors

import (
	"context"
	"hash/fnv"
	"log/slog"
	"math/rand"
	"time"

	"sensorhub"
)

// Engine is the subset of state.Engine a producer needs.
type Engine interface {
	ApplyLocal(selfID sensorhub.NodeID, entry sensorhub.SensorEntry) bool
}

// Producer generates one reading per call to Next. The key, origin, and
// ts_ms fields of the returned entry are filled in by Runner, never by the
// producer itself, so every producer kind honors the contract uniformly:
// origin == node_id, key == node_id+":"+name, ts_ms == now (spec §9).
type Producer interface {
	Name() string
	Period() time.Duration
	Next() any
}

// Runner drives a single Producer on its own tick, applying each reading
// to Engine under the node's identity.
type Runner struct {
	self     sensorhub.NodeID
	producer Producer
	engine   Engine
	log      *slog.Logger
	now      func() int64
}

// NewRunner creates a Runner for producer, owned by node self.
func NewRunner(self sensorhub.NodeID, producer Producer, engine Engine, log *slog.Logger, now func() int64) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{self: self, producer: producer, engine: engine, log: log, now: now}
}

// Run ticks the producer on its configured period until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	period := r.producer.Period()
	if period <= 0 {
		period = time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			entry := sensorhub.SensorEntry{
				Key:    string(r.self) + ":" + r.producer.Name(),
				Value:  r.producer.Next(),
				TsMs:   r.now(),
				Origin: string(r.self),
			}
			if !r.engine.ApplyLocal(r.self, entry) {
				r.log.Warn("producer reading rejected by engine", "key", entry.Key)
			}
		}
	}
}

// Counter produces a monotonically increasing integer on each tick.
type Counter struct {
	name    string
	period  time.Duration
	current int64
}

// NewCounter creates a Counter whose first reading is start+1.
func NewCounter(name string, period time.Duration, start int64) *Counter {
	return &Counter{name: name, period: period, current: start}
}

func (c *Counter) Name() string          { return c.name }
func (c *Counter) Period() time.Duration { return c.period }

func (c *Counter) Next() any {
	c.current++
	return c.current
}

// Gauge produces a bounded random walk float on each tick, clamped to
// [min, max] and stepping by at most step per tick.
type Gauge struct {
	name     string
	period   time.Duration
	min, max float64
	step     float64
	current  float64
	rng      *rand.Rand
}

// NewGauge creates a Gauge starting at the midpoint of [min, max].
func NewGauge(name string, period time.Duration, min, max, step float64) *Gauge {
	return &Gauge{
		name:    name,
		period:  period,
		min:     min,
		max:     max,
		step:    step,
		current: (min + max) / 2,
		rng:     rand.New(rand.NewSource(seedFromName(name))),
	}
}

func seedFromName(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}

func (g *Gauge) Name() string          { return g.name }
func (g *Gauge) Period() time.Duration { return g.period }

func (g *Gauge) Next() any {
	delta := (g.rng.Float64()*2 - 1) * g.step
	next := g.current + delta
	if next < g.min {
		next = g.min
	}
	if next > g.max {
		next = g.max
	}
	g.current = next
	return g.current
}
