// Package replication implements the periodic replication publisher
// (spec §4.6): a single drift-free loop that drains the state engine's
// replication buffer and broadcasts it to every known peer.
package replication

import (
	"context"
	"log/slog"
	"time"

	"sensorhub"
)

// DefaultPeriod is the publish tick interval (spec §4.6).
const DefaultPeriod = 200 * time.Millisecond

// Engine is the subset of state.Engine the publisher needs.
type Engine interface {
	DrainReplicationUpdates() []sensorhub.SensorEntry
}

// Broadcaster is the subset of outbound.Manager the publisher needs.
type Broadcaster interface {
	Broadcast(env sensorhub.Envelope)
}

// Publisher periodically drains an Engine's replication buffer and
// broadcasts the drained entries as a single SENSOR_UPDATE envelope.
type Publisher struct {
	self   sensorhub.NodeID
	engine Engine
	out    Broadcaster
	log    *slog.Logger
	period time.Duration
	now    func() int64
}

// New creates a Publisher. now supplies the current time in milliseconds,
// injectable for deterministic tests.
func New(self sensorhub.NodeID, engine Engine, out Broadcaster, log *slog.Logger, period time.Duration, now func() int64) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Publisher{self: self, engine: engine, out: out, log: log, period: period, now: now}
}

// Run drives the publish loop until ctx is cancelled. Ticks are scheduled
// with next = last + period so a slow tick never accumulates drift
// (spec §4.6 step 3); a tick that is already overdue fires immediately.
func (p *Publisher) Run(ctx context.Context) error {
	next := time.Now().Add(p.period)
	timer := time.NewTimer(p.period)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			p.tick()
			now := time.Now()
			next = next.Add(p.period)
			delay := next.Sub(now)
			if delay < 0 {
				delay = 0
				next = now
			}
			timer.Reset(delay)
		}
	}
}

func (p *Publisher) tick() {
	updates := p.engine.DrainReplicationUpdates()
	if len(updates) == 0 {
		return
	}
	env, err := sensorhub.NewEnvelope(sensorhub.SensorUpdate, p.self, p.now(), sensorhub.SensorUpdatePayload{Updates: updates})
	if err != nil {
		p.log.Error("replication: failed to build SENSOR_UPDATE envelope", "err", err)
		return
	}
	p.out.Broadcast(env)
	p.log.Debug("replication: broadcast", "count", len(updates))
}
