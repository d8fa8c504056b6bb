package sensorhub

import "encoding/json"

// MessageType enumerates the inter-node envelope kinds (spec §3, §6.1).
type MessageType string

const (
	JoinRequest      MessageType = "JOIN_REQUEST"
	PeerList         MessageType = "PEER_LIST"
	Ping             MessageType = "PING"
	Pong             MessageType = "PONG"
	SensorUpdate     MessageType = "SENSOR_UPDATE"
	GossipState      MessageType = "GOSSIP_STATE"
	FullSyncRequest  MessageType = "FULL_SYNC_REQUEST"
	FullSyncResponse MessageType = "FULL_SYNC_RESPONSE"
	Ack              MessageType = "ACK"
	Error            MessageType = "ERROR"
)

// KnownMessageTypes lists every type the wire format can decode without
// error, including the reserved-but-unimplemented ones (spec §9).
var KnownMessageTypes = map[MessageType]bool{
	JoinRequest:      true,
	PeerList:         true,
	Ping:             true,
	Pong:             true,
	SensorUpdate:     true,
	GossipState:      true,
	FullSyncRequest:  true,
	FullSyncResponse: true,
	Ack:              true,
	Error:            true,
}

// Envelope is the message sent over every peer connection: a 4-byte
// big-endian length prefix followed by this struct marshaled as JSON.
type Envelope struct {
	Type     MessageType     `json:"type"`
	SenderID string          `json:"sender_id"`
	TsMs     int64           `json:"ts_ms"`
	Payload  json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload and wraps it in an Envelope stamped with
// nowMs. Callers that need the current time should pass time.Now in
// milliseconds; kept as a parameter so callers stay in control of clock
// access (and tests stay deterministic).
func NewEnvelope(typ MessageType, sender NodeID, nowMs int64, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, SenderID: string(sender), TsMs: nowMs, Payload: raw}, nil
}

// JoinRequestPayload is the sender's advertised listen address (spec §6.1).
type JoinRequestPayload struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// PeerAddr is a single entry in a PEER_LIST payload.
type PeerAddr struct {
	NodeID string `json:"node_id"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
}

// PeerListPayload carries every peer the sender knows about, self included.
type PeerListPayload struct {
	Peers []PeerAddr `json:"peers"`
}

// SensorUpdatePayload carries a batch of accepted sensor entries.
type SensorUpdatePayload struct {
	Updates []SensorEntry `json:"updates"`
}

// PingPayload and PongPayload are empty; their presence refreshes
// last_seen_ms on receipt (spec §4.7).
type PingPayload struct{}
type PongPayload struct{}

// AckPayload is reserved (spec §6.1); not emitted by the core today.
type AckPayload struct {
	RefTsMs int64 `json:"ref_ts_ms"`
}

// ErrorPayload reports a taxonomy kind and free-form detail (spec §7).
type ErrorPayload struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// Error kinds from the taxonomy in spec §7.
const (
	ErrKindFrameDecode    = "frame_decode"
	ErrKindUnknownType    = "unknown_type"
	ErrKindSchemaMismatch = "schema_mismatch"
	ErrKindNotImplemented = "not_implemented"
)
