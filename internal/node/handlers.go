package node

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sensorhub"
	"sensorhub/internal/config"
	"sensorhub/internal/dispatch"
	"sensorhub/internal/sensors"
	"sensorhub/internal/state"
)

// registerSensorUpdateHandler wires SENSOR_UPDATE frames into the state
// engine via ApplyRemote, per spec §4.3/§4.4.
func registerSensorUpdateHandler(d *dispatch.Dispatcher, self sensorhub.NodeID, engine *state.Engine, now func() int64) {
	d.Register(sensorhub.SensorUpdate, func(ctx context.Context, env sensorhub.Envelope, session dispatch.Session) error {
		var payload sensorhub.SensorUpdatePayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return dispatch.ReplyError(session, self, now(), sensorhub.ErrKindSchemaMismatch, err.Error())
		}
		for _, entry := range payload.Updates {
			engine.ApplyRemote(entry)
		}
		return nil
	})
}

// registerPingPongHandlers wires the liveness probe pair (spec §4.7: their
// receipt alone refreshes last_seen_ms via the dispatcher; PING also gets
// an explicit PONG reply).
func registerPingPongHandlers(d *dispatch.Dispatcher, self sensorhub.NodeID, now func() int64) {
	d.Register(sensorhub.Ping, func(ctx context.Context, env sensorhub.Envelope, session dispatch.Session) error {
		pong, err := sensorhub.NewEnvelope(sensorhub.Pong, self, now(), sensorhub.PongPayload{})
		if err != nil {
			return err
		}
		return session.Reply(pong)
	})
	d.Register(sensorhub.Pong, func(ctx context.Context, env sensorhub.Envelope, session dispatch.Session) error {
		return nil
	})
}

// registerReservedHandlers wires GOSSIP_STATE and FULL_SYNC_* to the
// not_implemented ERROR reply the taxonomy specifies (spec §7).
func registerReservedHandlers(d *dispatch.Dispatcher, self sensorhub.NodeID, now func() int64) {
	reserved := []sensorhub.MessageType{sensorhub.GossipState, sensorhub.FullSyncRequest, sensorhub.FullSyncResponse}
	for _, typ := range reserved {
		typ := typ
		d.Register(typ, func(ctx context.Context, env sensorhub.Envelope, session dispatch.Session) error {
			return dispatch.ReplyError(session, self, now(), sensorhub.ErrKindNotImplemented, string(typ)+" is reserved and not implemented")
		})
	}
}

// buildProducer constructs the concrete sensor producer named by spec
// (spec.md §6.3 producer contract, SPEC_FULL.md §6 supplement).
func buildProducer(spec config.SensorSpec) (sensors.Producer, error) {
	period := time.Duration(spec.PeriodMs) * time.Millisecond
	switch spec.Type {
	case "counter":
		return sensors.NewCounter(spec.Name, period, spec.Start), nil
	case "gauge":
		return sensors.NewGauge(spec.Name, period, spec.Min, spec.Max, spec.Step), nil
	default:
		return nil, fmt.Errorf("unrecognised sensor type %q", spec.Type)
	}
}
