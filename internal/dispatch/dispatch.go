// Package dispatch routes decoded envelopes to registered handlers
// (spec §4.2): it refreshes peer liveness, validates the envelope shape,
// and invokes the handler registered for the envelope's type.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"sensorhub"
	"sensorhub/internal/peers"
)

// Session is the per-connection reply surface a handler is given. Inbound
// connections implement it over their socket so membership handlers can
// reply on the same connection (e.g. PEER_LIST in response to JOIN_REQUEST).
type Session interface {
	Reply(env sensorhub.Envelope) error
	RemoteAddr() string
}

// Handler processes one decoded envelope. Handlers must not block for
// unbounded time — long work (state merge, outbound enqueue) is expected
// to be non-blocking or delegated to an owned worker (spec §4.2).
type Handler func(ctx context.Context, env sensorhub.Envelope, session Session) error

// Dispatcher maps MessageType to Handler and refreshes peer liveness on
// every dispatched frame.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[sensorhub.MessageType]Handler
	table    *peers.Table
	log      *slog.Logger
	now      func() int64
	selfID   sensorhub.NodeID
}

// New creates a Dispatcher backed by table for liveness updates. now
// supplies the current time in milliseconds (injectable for tests).
func New(selfID sensorhub.NodeID, table *peers.Table, log *slog.Logger, now func() int64) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[sensorhub.MessageType]Handler),
		table:    table,
		log:      log,
		now:      now,
		selfID:   selfID,
	}
}

// Register installs h as the handler for typ, replacing any prior handler.
func (d *Dispatcher) Register(typ sensorhub.MessageType, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[typ] = h
}

// Dispatch validates env, refreshes the sender's liveness if known, and
// invokes the registered handler. Unknown or unregistered types get an
// ERROR reply and the session is kept open (spec §4.2, §7).
func (d *Dispatcher) Dispatch(ctx context.Context, env sensorhub.Envelope, session Session) error {
	if env.SenderID == "" || !sensorhub.KnownMessageTypes[env.Type] {
		d.log.Warn("schema_mismatch: invalid envelope", "sender_id", env.SenderID, "type", env.Type, "remote", session.RemoteAddr())
		return d.replyError(session, sensorhub.ErrKindSchemaMismatch, "sender_id required and type must be recognised")
	}

	if d.table != nil {
		d.table.Touch(sensorhub.NodeID(env.SenderID), d.now())
	}

	d.mu.RLock()
	handler, ok := d.handlers[env.Type]
	d.mu.RUnlock()
	if !ok {
		d.log.Warn("unknown_type: no handler registered", "type", env.Type, "sender_id", env.SenderID)
		return d.replyError(session, sensorhub.ErrKindUnknownType, fmt.Sprintf("no handler registered for %s", env.Type))
	}

	return handler(ctx, env, session)
}

func (d *Dispatcher) replyError(session Session, kind, detail string) error {
	return ReplyError(session, d.selfID, d.now(), kind, detail)
}

// ReplyError builds and sends an ERROR envelope on session. Exported so
// handlers living outside this package (e.g. membership's not_implemented
// stubs) can reply consistently.
func ReplyError(session Session, selfID sensorhub.NodeID, nowMs int64, kind, detail string) error {
	env, err := sensorhub.NewEnvelope(sensorhub.Error, selfID, nowMs, sensorhub.ErrorPayload{Kind: kind, Detail: detail})
	if err != nil {
		return err
	}
	return session.Reply(env)
}
