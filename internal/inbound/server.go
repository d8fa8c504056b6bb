// Package inbound accepts peer TCP connections and feeds decoded frames to
// a dispatch.Dispatcher (spec §4.1, §4.4). Each connection is served by its
// own goroutine for its entire lifetime; a decode failure closes it.
package inbound

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"sensorhub"
	"sensorhub/internal/dispatch"
	"sensorhub/internal/wire"
)

// Server listens on a single TCP address and dispatches every frame it
// decodes from an accepted connection.
type Server struct {
	addr       string
	dispatcher *dispatch.Dispatcher
	log        *slog.Logger
	maxFrame   uint32

	mu sync.Mutex
	ln net.Listener
}

// New creates a Server bound to addr (host:port form) that hands decoded
// envelopes to dispatcher.
func New(addr string, dispatcher *dispatch.Dispatcher, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{addr: addr, dispatcher: dispatcher, log: log, maxFrame: wire.DefaultMaxFrameSize}
}

// Addr returns the bound listener's address; valid only after Run has
// started listening (test aid for ephemeral ":0" ports).
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// AddrString returns the configured bind address, as passed to New.
func (s *Server) AddrString() string { return s.addr }

// Run listens and serves connections until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serve(ctx, conn)
		}()
	}
}

// serve reads frames from conn until a decode error or the connection
// closes, dispatching each one and replying on the same connection
// (spec §4.1, §4.4: malformed frame or unknown type closes the connection).
func (s *Server) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	sess := &session{conn: conn}
	for {
		env, err := wire.ReadFrame(conn, s.maxFrame)
		if err != nil {
			s.log.Debug("frame_decode: closing connection", "remote", conn.RemoteAddr(), "err", err)
			return
		}
		if err := s.dispatcher.Dispatch(ctx, env, sess); err != nil {
			s.log.Debug("dispatch error, closing connection", "remote", conn.RemoteAddr(), "err", err)
			return
		}
	}
}

// session implements dispatch.Session over a live inbound connection.
type session struct {
	mu   sync.Mutex
	conn net.Conn
}

func (s *session) Reply(env sensorhub.Envelope) error { return s.writeFrame(env) }

func (s *session) RemoteAddr() string { return s.conn.RemoteAddr().String() }

func (s *session) writeFrame(env sensorhub.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wire.WriteFrame(s.conn, env)
}
