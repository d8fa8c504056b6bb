// Package membership implements the JOIN_REQUEST / PEER_LIST handlers that
// drive transitive-closure gossip membership (spec §4.7): each pairwise
// exchange yields the union of both peers' knowledge, eventually producing
// full knowledge across a connected graph. No TTL or hop counter is used;
// redundant re-joins are suppressed by only joining peers that are new to
// the local table (spec §9, strategy (a)).
package membership

import (
	"context"
	"log/slog"

	"sensorhub"
	"sensorhub/internal/dispatch"
	"sensorhub/internal/outbound"
	"sensorhub/internal/peers"
)

// Registrar is the subset of outbound.Manager membership needs: starting a
// worker for a newly-learned peer and enqueueing messages to it.
type Registrar interface {
	EnsureWorker(id sensorhub.NodeID, addr sensorhub.Address) bool
	UpdateAddress(id sensorhub.NodeID, addr sensorhub.Address)
	Send(id sensorhub.NodeID, env sensorhub.Envelope)
}

var _ Registrar = (*outbound.Manager)(nil)

// Handlers owns the dependencies the JOIN_REQUEST / PEER_LIST handlers need
// and exposes them for registration against a dispatch.Dispatcher.
type Handlers struct {
	self  sensorhub.NodeID
	addr  sensorhub.Address
	table *peers.Table
	out   Registrar
	log   *slog.Logger
	now   func() int64
}

// New creates the membership handler set for the local node.
func New(self sensorhub.NodeID, addr sensorhub.Address, table *peers.Table, out Registrar, log *slog.Logger, now func() int64) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{self: self, addr: addr, table: table, out: out, log: log, now: now}
}

// Register installs the JOIN_REQUEST and PEER_LIST handlers on d.
func (h *Handlers) Register(d *dispatch.Dispatcher) {
	d.Register(sensorhub.JoinRequest, h.handleJoinRequest)
	d.Register(sensorhub.PeerList, h.handlePeerList)
}

// handleJoinRequest implements spec §4.7's JOIN_REQUEST handler.
func (h *Handlers) handleJoinRequest(ctx context.Context, env sensorhub.Envelope, session dispatch.Session) error {
	var payload sensorhub.JoinRequestPayload
	if err := unmarshalPayload(env.Payload, &payload); err != nil {
		return dispatch.ReplyError(session, h.self, h.now(), sensorhub.ErrKindSchemaMismatch, err.Error())
	}

	sender := sensorhub.NodeID(env.SenderID)
	addr := sensorhub.Address{Host: payload.Host, Port: payload.Port}
	if h.table.Add(sender, addr, h.now()) {
		h.out.EnsureWorker(sender, addr)
		h.log.Info("peer joined", "peer", sender, "addr", addr)
	}

	reply, err := sensorhub.NewEnvelope(sensorhub.PeerList, h.self, h.now(), sensorhub.PeerListPayload{Peers: h.peerList()})
	if err != nil {
		return err
	}
	return session.Reply(reply)
}

// handlePeerList implements spec §4.7's PEER_LIST handler, including the
// transitive-closure join for entries new to this node.
func (h *Handlers) handlePeerList(ctx context.Context, env sensorhub.Envelope, session dispatch.Session) error {
	var payload sensorhub.PeerListPayload
	if err := unmarshalPayload(env.Payload, &payload); err != nil {
		return dispatch.ReplyError(session, h.self, h.now(), sensorhub.ErrKindSchemaMismatch, err.Error())
	}

	for _, e := range payload.Peers {
		id := sensorhub.NodeID(e.NodeID)
		if id == h.self {
			continue
		}
		addr := sensorhub.Address{Host: e.Host, Port: e.Port}

		if h.table.Known(id) {
			h.table.UpdateAddress(id, addr)
			h.out.UpdateAddress(id, addr)
			continue
		}

		if h.table.Add(id, addr, h.now()) {
			h.out.EnsureWorker(id, addr)
			h.sendJoinRequest(id)
			h.log.Info("peer discovered via gossip", "peer", id, "addr", addr, "via", env.SenderID)
		}
	}
	return nil
}

// Bootstrap seeds outbound workers and JOIN_REQUESTs for statically
// configured addresses at startup (spec §4.7). The peer's node_id is not
// yet known, so the worker is keyed by a synthetic placeholder id until its
// JOIN_REQUEST reply teaches us its real identity via PEER_LIST.
func (h *Handlers) Bootstrap(addrs []sensorhub.Address) {
	for _, addr := range addrs {
		placeholder := sensorhub.NodeID("bootstrap:" + addr.Host + ":" + portString(addr.Port))
		h.out.EnsureWorker(placeholder, addr)
		env, err := sensorhub.NewEnvelope(sensorhub.JoinRequest, h.self, h.now(), sensorhub.JoinRequestPayload{Host: h.addr.Host, Port: h.addr.Port})
		if err != nil {
			h.log.Error("bootstrap: failed to build JOIN_REQUEST", "addr", addr, "err", err)
			continue
		}
		h.out.Send(placeholder, env)
	}
}

func (h *Handlers) sendJoinRequest(to sensorhub.NodeID) {
	env, err := sensorhub.NewEnvelope(sensorhub.JoinRequest, h.self, h.now(), sensorhub.JoinRequestPayload{Host: h.addr.Host, Port: h.addr.Port})
	if err != nil {
		h.log.Error("failed to build JOIN_REQUEST", "to", to, "err", err)
		return
	}
	h.out.Send(to, env)
}

// peerList builds this node's full view, self included, for a PEER_LIST
// reply (spec §4.7: "every peer in its table (including R itself)").
func (h *Handlers) peerList() []sensorhub.PeerAddr {
	known := h.table.All()
	out := make([]sensorhub.PeerAddr, 0, len(known)+1)
	out = append(out, sensorhub.PeerAddr{NodeID: string(h.self), Host: h.addr.Host, Port: h.addr.Port})
	for _, p := range known {
		out = append(out, sensorhub.PeerAddr{NodeID: string(p.NodeID), Host: p.Address.Host, Port: p.Address.Port})
	}
	return out
}
