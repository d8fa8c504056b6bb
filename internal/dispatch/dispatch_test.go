package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"sensorhub"
	"sensorhub/internal/peers"
)

func mustUnmarshal(t *testing.T, raw json.RawMessage, v any) {
	t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
}

type fakeSession struct {
	replies []sensorhub.Envelope
	addr    string
}

func (f *fakeSession) Reply(env sensorhub.Envelope) error {
	f.replies = append(f.replies, env)
	return nil
}

func (f *fakeSession) RemoteAddr() string { return f.addr }

func fixedClock(ms int64) func() int64 { return func() int64 { return ms } }

func TestDispatch_TouchesKnownPeerLiveness(t *testing.T) {
	tbl := peers.New("self", nil)
	tbl.Add("p1", sensorhub.Address{Host: "h", Port: 1}, 0)

	d := New("self", tbl, nil, fixedClock(500))
	called := false
	d.Register(sensorhub.Ping, func(ctx context.Context, env sensorhub.Envelope, s Session) error {
		called = true
		return nil
	})

	env, _ := sensorhub.NewEnvelope(sensorhub.Ping, "p1", 1, sensorhub.PingPayload{})
	if err := d.Dispatch(context.Background(), env, &fakeSession{}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !called {
		t.Fatal("expected handler to be invoked")
	}
	p, _ := tbl.Get("p1")
	if p.LastSeenMs != 500 {
		t.Fatalf("expected last_seen_ms refreshed to 500, got %d", p.LastSeenMs)
	}
}

func TestDispatch_EmptySenderIDRejected(t *testing.T) {
	d := New("self", nil, nil, fixedClock(1))
	sess := &fakeSession{}
	env, _ := sensorhub.NewEnvelope(sensorhub.Ping, "", 1, sensorhub.PingPayload{})
	if err := d.Dispatch(context.Background(), env, sess); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(sess.replies) != 1 || sess.replies[0].Type != sensorhub.Error {
		t.Fatalf("expected a single ERROR reply, got %+v", sess.replies)
	}
}

func TestDispatch_UnregisteredTypeRepliesErrorAndKeepsSession(t *testing.T) {
	d := New("self", nil, nil, fixedClock(1))
	sess := &fakeSession{}
	env, _ := sensorhub.NewEnvelope(sensorhub.Ping, "p1", 1, sensorhub.PingPayload{})
	if err := d.Dispatch(context.Background(), env, sess); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(sess.replies) != 1 {
		t.Fatalf("expected one ERROR reply, got %d", len(sess.replies))
	}
	var payload sensorhub.ErrorPayload
	mustUnmarshal(t, sess.replies[0].Payload, &payload)
	if payload.Kind != sensorhub.ErrKindUnknownType {
		t.Fatalf("expected unknown_type, got %q", payload.Kind)
	}
}

func TestDispatch_DoesNotTouchUnknownPeer(t *testing.T) {
	tbl := peers.New("self", nil)
	d := New("self", tbl, nil, fixedClock(1))
	d.Register(sensorhub.Ping, func(ctx context.Context, env sensorhub.Envelope, s Session) error { return nil })
	env, _ := sensorhub.NewEnvelope(sensorhub.Ping, "stranger", 1, sensorhub.PingPayload{})
	_ = d.Dispatch(context.Background(), env, &fakeSession{})
	if tbl.Known("stranger") {
		t.Fatal("dispatch must not learn a peer it has no handler-side registration for")
	}
}
