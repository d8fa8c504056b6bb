// Package wire implements the length-prefixed JSON frame format every
// peer connection speaks (spec §4.1): a 4-byte big-endian length prefix
// followed by exactly that many bytes of UTF-8 JSON encoding an
// sensorhub.Envelope.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"sensorhub"
)

// DefaultMaxFrameSize is the default oversize-frame policy (spec §4.1).
const DefaultMaxFrameSize = 1 << 20 // 1 MiB

// ErrFrameTooLarge is returned by ReadFrame when the decoded length prefix
// exceeds the configured maximum.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")

// DecodeError reports which failure-mode kind (spec §7) a ReadFrame call
// failed with, so callers can log and close without re-parsing the error.
type DecodeError struct {
	Kind string
	Err  error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("wire: %s: %v", e.Kind, e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// WriteFrame encodes env as JSON and writes the length-prefixed frame to w.
func WriteFrame(w io.Writer, env sensorhub.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("wire: marshal envelope: %w", err)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wire: write body: %w", err)
	}
	return nil
}

// ReadFrame reads exactly one length-prefixed frame from r and decodes its
// JSON body into an Envelope. maxSize bounds the accepted length prefix;
// a frame declaring a larger size is rejected without reading its body.
func ReadFrame(r io.Reader, maxSize uint32) (sensorhub.Envelope, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return sensorhub.Envelope{}, &DecodeError{Kind: sensorhub.ErrKindFrameDecode, Err: fmt.Errorf("read length prefix: %w", err)}
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > maxSize {
		return sensorhub.Envelope{}, &DecodeError{Kind: sensorhub.ErrKindFrameDecode, Err: ErrFrameTooLarge}
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return sensorhub.Envelope{}, &DecodeError{Kind: sensorhub.ErrKindFrameDecode, Err: fmt.Errorf("read body: %w", err)}
	}
	var env sensorhub.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return sensorhub.Envelope{}, &DecodeError{Kind: sensorhub.ErrKindFrameDecode, Err: fmt.Errorf("decode envelope: %w", err)}
	}
	if !sensorhub.KnownMessageTypes[env.Type] {
		return sensorhub.Envelope{}, &DecodeError{Kind: sensorhub.ErrKindFrameDecode, Err: fmt.Errorf("unknown message type %q", env.Type)}
	}
	return env, nil
}
