package membership

import (
	"context"
	"testing"

	"sensorhub"
	"sensorhub/internal/dispatch"
	"sensorhub/internal/peers"
)

type fakeRegistrar struct {
	ensured  []sensorhub.NodeID
	updated  []sensorhub.NodeID
	sent     map[sensorhub.NodeID][]sensorhub.Envelope
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{sent: make(map[sensorhub.NodeID][]sensorhub.Envelope)}
}

func (f *fakeRegistrar) EnsureWorker(id sensorhub.NodeID, addr sensorhub.Address) bool {
	f.ensured = append(f.ensured, id)
	return true
}
func (f *fakeRegistrar) UpdateAddress(id sensorhub.NodeID, addr sensorhub.Address) {
	f.updated = append(f.updated, id)
}
func (f *fakeRegistrar) Send(id sensorhub.NodeID, env sensorhub.Envelope) {
	f.sent[id] = append(f.sent[id], env)
}

type fakeSession struct {
	replies []sensorhub.Envelope
}

func (f *fakeSession) Reply(env sensorhub.Envelope) error {
	f.replies = append(f.replies, env)
	return nil
}
func (f *fakeSession) RemoteAddr() string { return "test" }

func TestHandleJoinRequest_AddsSenderAndRepliesFullPeerList(t *testing.T) {
	table := peers.New("R", nil)
	table.Add("existing", sensorhub.Address{Host: "e", Port: 1}, 5)
	out := newFakeRegistrar()
	h := New("R", sensorhub.Address{Host: "r-host", Port: 9000}, table, out, nil, func() int64 { return 100 })

	env, _ := sensorhub.NewEnvelope(sensorhub.JoinRequest, "S", 50, sensorhub.JoinRequestPayload{Host: "s-host", Port: 8000})
	sess := &fakeSession{}
	if err := h.handleJoinRequest(context.Background(), env, sess); err != nil {
		t.Fatalf("handleJoinRequest: %v", err)
	}

	if !table.Known("S") {
		t.Fatal("expected S to be added to R's peer table")
	}
	if len(out.ensured) != 1 || out.ensured[0] != "S" {
		t.Fatalf("expected outbound worker started for S, got %v", out.ensured)
	}
	if len(sess.replies) != 1 || sess.replies[0].Type != sensorhub.PeerList {
		t.Fatalf("expected a single PEER_LIST reply, got %+v", sess.replies)
	}

	var payload sensorhub.PeerListPayload
	if err := unmarshalPayload(sess.replies[0].Payload, &payload); err != nil {
		t.Fatalf("decode reply payload: %v", err)
	}
	ids := map[string]bool{}
	for _, p := range payload.Peers {
		ids[p.NodeID] = true
	}
	if !ids["R"] || !ids["existing"] || !ids["S"] {
		t.Fatalf("expected R, existing, and S all listed, got %+v", payload.Peers)
	}
}

func TestHandleJoinRequest_KnownSenderSkipsReAdd(t *testing.T) {
	table := peers.New("R", nil)
	table.Add("S", sensorhub.Address{Host: "s-host", Port: 8000}, 5)
	out := newFakeRegistrar()
	h := New("R", sensorhub.Address{}, table, out, nil, func() int64 { return 100 })

	env, _ := sensorhub.NewEnvelope(sensorhub.JoinRequest, "S", 50, sensorhub.JoinRequestPayload{Host: "s-host", Port: 8000})
	if err := h.handleJoinRequest(context.Background(), env, &fakeSession{}); err != nil {
		t.Fatalf("handleJoinRequest: %v", err)
	}
	if len(out.ensured) != 0 {
		t.Fatalf("expected no new worker for an already-known sender, got %v", out.ensured)
	}
}

func TestHandlePeerList_SkipsSelfRefreshesKnownJoinsNew(t *testing.T) {
	table := peers.New("R", nil)
	table.Add("known-peer", sensorhub.Address{Host: "old-host", Port: 1}, 5)
	out := newFakeRegistrar()
	h := New("R", sensorhub.Address{Host: "r-host", Port: 9000}, table, out, nil, func() int64 { return 100 })

	payload := sensorhub.PeerListPayload{Peers: []sensorhub.PeerAddr{
		{NodeID: "R", Host: "r-host", Port: 9000},
		{NodeID: "known-peer", Host: "new-host", Port: 2},
		{NodeID: "new-peer", Host: "new-peer-host", Port: 3},
	}}
	env, _ := sensorhub.NewEnvelope(sensorhub.PeerList, "sender", 50, payload)

	if err := h.handlePeerList(context.Background(), env, &fakeSession{}); err != nil {
		t.Fatalf("handlePeerList: %v", err)
	}

	if table.Known("R") {
		t.Fatal("must never add self to the peer table")
	}

	kp, ok := table.Get("known-peer")
	if !ok || kp.Address.Host != "new-host" {
		t.Fatalf("expected known-peer's address refreshed, got %+v", kp)
	}
	if kp.LastSeenMs != 5 {
		t.Fatalf("PEER_LIST must not clobber liveness, got last_seen_ms=%d", kp.LastSeenMs)
	}

	if !table.Known("new-peer") {
		t.Fatal("expected new-peer to be added")
	}
	found := false
	for _, id := range out.ensured {
		if id == "new-peer" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an outbound worker started for new-peer, got %v", out.ensured)
	}
	if len(out.sent["new-peer"]) != 1 || out.sent["new-peer"][0].Type != sensorhub.JoinRequest {
		t.Fatalf("expected a JOIN_REQUEST enqueued to new-peer (transitive closure), got %v", out.sent["new-peer"])
	}
}

func TestHandlers_RegisterWiresBothTypes(t *testing.T) {
	table := peers.New("R", nil)
	out := newFakeRegistrar()
	h := New("R", sensorhub.Address{}, table, out, nil, func() int64 { return 0 })
	d := dispatch.New("R", table, nil, func() int64 { return 0 })
	h.Register(d)

	env, _ := sensorhub.NewEnvelope(sensorhub.JoinRequest, "S", 1, sensorhub.JoinRequestPayload{Host: "h", Port: 1})
	if err := d.Dispatch(context.Background(), env, &fakeSession{}); err != nil {
		t.Fatalf("expected JOIN_REQUEST to be handled, got %v", err)
	}
}
