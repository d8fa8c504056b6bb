package outbound

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"sensorhub"
	"sensorhub/internal/wire"
)

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 10 * time.Second
	connectTimeout = 5 * time.Second
	keepAlive      = 30 * time.Second
)

// dialFunc opens a connection to addr; overridable in tests.
type dialFunc func(ctx context.Context, addr sensorhub.Address) (net.Conn, error)

// sleepFunc pauses for d or returns early (false) if ctx is cancelled;
// overridable in tests so backoff sequencing can be asserted without
// real wall-clock delay.
type sleepFunc func(ctx context.Context, d time.Duration) bool

func defaultDial(ctx context.Context, addr sensorhub.Address) (net.Conn, error) {
	dialer := net.Dialer{Timeout: connectTimeout, KeepAlive: keepAlive}
	return dialer.DialContext(ctx, "tcp", net.JoinHostPort(addr.Host, strconv.Itoa(addr.Port)))
}

func defaultSleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// worker owns one persistent outbound connection and FIFO send queue for
// a single peer (spec §4.5).
type worker struct {
	id    sensorhub.NodeID
	log   *slog.Logger
	queue *queue

	dial  dialFunc
	sleep sleepFunc

	mu      sync.Mutex
	addr    sensorhub.Address
	backoff time.Duration
}

func newWorker(id sensorhub.NodeID, addr sensorhub.Address, maxQueue int, log *slog.Logger, dial dialFunc, sleep sleepFunc) *worker {
	if dial == nil {
		dial = defaultDial
	}
	if sleep == nil {
		sleep = defaultSleep
	}
	return &worker{
		id:      id,
		log:     log,
		queue:   newQueue(maxQueue),
		dial:    dial,
		sleep:   sleep,
		addr:    addr,
		backoff: initialBackoff,
	}
}

func (w *worker) send(env sensorhub.Envelope) {
	w.queue.push(env)
}

func (w *worker) updateAddress(addr sensorhub.Address) {
	w.mu.Lock()
	w.addr = addr
	w.mu.Unlock()
}

func (w *worker) targetAddress() sensorhub.Address {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addr
}

// run drives the Disconnected -> Connecting -> Connected state machine
// until ctx is cancelled (spec §4.5 table).
func (w *worker) run(ctx context.Context) {
	for ctx.Err() == nil {
		conn, err := w.dial(ctx, w.targetAddress())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Debug("connect_failed", "peer", w.id, "addr", w.targetAddress(), "err", err, "backoff", w.backoff)
			if !w.sleep(ctx, w.backoff) {
				return
			}
			w.backoff = nextBackoff(w.backoff)
			continue
		}

		w.backoff = initialBackoff // spec §4.5: resets on a successful connect
		w.log.Info("connected", "peer", w.id, "addr", w.targetAddress())

		sendErr := w.serve(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		if sendErr != nil {
			w.log.Debug("send_failed", "peer", w.id, "err", sendErr)
		} else {
			w.log.Debug("peer connection closed", "peer", w.id)
		}
	}
}

// serve dequeues envelopes and writes frames until the connection fails,
// the peer closes it, or ctx is cancelled. Bytes the peer sends back on
// this connection are read only to detect the close and are discarded.
func (w *worker) serve(ctx context.Context, conn net.Conn) error {
	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := conn.Read(buf); err != nil {
				readErr <- err
				return
			}
		}
	}()
	for {
		env, ok := w.queue.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case err := <-readErr:
				return err
			case <-w.queue.signal:
				continue
			}
		}
		if err := wire.WriteFrame(conn, env); err != nil {
			return err
		}
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		next = maxBackoff
	}
	return next
}
