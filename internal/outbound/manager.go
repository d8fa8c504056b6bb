// Package outbound implements the per-peer outbound connection manager
// (spec §4.5): one persistent-reconnecting worker and FIFO send queue per
// known peer, plus fan-out broadcast to every peer but self.
package outbound

import (
	"context"
	"log/slog"
	"sync"

	"sensorhub"
)

// Manager owns one worker per known peer.
type Manager struct {
	mu       sync.Mutex
	self     sensorhub.NodeID
	workers  map[sensorhub.NodeID]*worker
	log      *slog.Logger
	maxQueue int
	dial     dialFunc
	sleep    sleepFunc
	ctx      context.Context
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithMaxQueue overrides the default per-peer queue bound.
func WithMaxQueue(n int) Option { return func(m *Manager) { m.maxQueue = n } }

// WithDialer overrides how workers open connections; used in tests.
func WithDialer(d dialFunc) Option { return func(m *Manager) { m.dial = d } }

// WithSleep overrides how workers back off between connect attempts; used
// in tests to assert backoff sequencing without real delay.
func WithSleep(s sleepFunc) Option { return func(m *Manager) { m.sleep = s } }

// NewManager creates a Manager for node self. Run must be called once with
// the lifecycle context before EnsureWorker spawns any goroutines.
func NewManager(self sensorhub.NodeID, log *slog.Logger, opts ...Option) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		self:     self,
		workers:  make(map[sensorhub.NodeID]*worker),
		log:      log,
		maxQueue: DefaultMaxQueue,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run stores the lifecycle context used to start future workers. Workers
// already started before Run is called are not retroactively affected;
// callers should call Run before the first EnsureWorker.
func (m *Manager) Run(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()
}

// EnsureWorker starts an outbound worker for id at addr if one does not
// already exist, and returns true if a new worker was started (spec §4.5,
// §4.7: "on learning a new peer, an outbound worker is started for it").
func (m *Manager) EnsureWorker(id sensorhub.NodeID, addr sensorhub.Address) bool {
	if id == m.self {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.workers[id]; exists {
		return false
	}
	w := newWorker(id, addr, m.maxQueue, m.log.With("peer", id), m.dial, m.sleep)
	m.workers[id] = w
	ctx := m.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	go w.run(ctx)
	return true
}

// UpdateAddress refreshes the dial target for an existing worker, used
// when PEER_LIST reports a changed address for a peer we already know
// (spec §4.7).
func (m *Manager) UpdateAddress(id sensorhub.NodeID, addr sensorhub.Address) {
	m.mu.Lock()
	w, ok := m.workers[id]
	m.mu.Unlock()
	if ok {
		w.updateAddress(addr)
	}
}

// Send enqueues env for delivery to id. Non-blocking; silently a no-op if
// id has no worker (spec §4.5).
func (m *Manager) Send(id sensorhub.NodeID, env sensorhub.Envelope) {
	m.mu.Lock()
	w, ok := m.workers[id]
	m.mu.Unlock()
	if ok {
		w.send(env)
	}
}

// Broadcast enqueues env to every known peer except self.
func (m *Manager) Broadcast(env sensorhub.Envelope) {
	m.mu.Lock()
	targets := make([]*worker, 0, len(m.workers))
	for _, w := range m.workers {
		targets = append(targets, w)
	}
	m.mu.Unlock()
	for _, w := range targets {
		w.send(env)
	}
}

// KnownPeers reports how many outbound workers are currently running
// (test/debug aid).
func (m *Manager) KnownPeers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}
