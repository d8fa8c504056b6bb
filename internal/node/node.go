// Package node wires every subsystem into a single running process
// (spec §5): the inbound listener, outbound connection manager, membership
// handlers, replication publisher, sensor producers, clock-skew checker,
// and HTTP read API, all under one errgroup so a failure or shutdown
// signal in any one subsystem brings the rest down cleanly.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"sensorhub"
	"sensorhub/internal/clock"
	"sensorhub/internal/config"
	"sensorhub/internal/dispatch"
	"sensorhub/internal/httpapi"
	"sensorhub/internal/inbound"
	"sensorhub/internal/membership"
	"sensorhub/internal/outbound"
	"sensorhub/internal/peers"
	"sensorhub/internal/replication"
	"sensorhub/internal/sensors"
	"sensorhub/internal/state"
)

// Node owns every subsystem for one cluster member.
type Node struct {
	cfg   *config.Config
	log   *slog.Logger
	self  sensorhub.NodeID
	addr  sensorhub.Address

	table   *peers.Table
	engine  *state.Engine
	out     *outbound.Manager
	in      *inbound.Server
	members *membership.Handlers
	pub     *replication.Publisher
	skew    *clock.Checker
	api     *http.Server
}

// New builds a Node from resolved configuration. now supplies the current
// time in milliseconds, used for every timestamp the runtime stamps
// itself (handshake envelopes, liveness touches).
func New(cfg *config.Config, log *slog.Logger, now func() int64) *Node {
	if log == nil {
		log = slog.Default()
	}
	self := sensorhub.NodeID(cfg.NodeID)
	addr := sensorhub.Address{Host: cfg.Host, Port: cfg.Port}

	table := peers.New(self, log)
	engine := state.New(log)
	out := outbound.NewManager(self, log)
	d := dispatch.New(self, table, log, now)

	members := membership.New(self, addr, table, out, log, now)
	members.Register(d)

	registerSensorUpdateHandler(d, self, engine, now)
	registerPingPongHandlers(d, self, now)
	registerReservedHandlers(d, self, now)

	in := inbound.New(net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)), d, log)
	pub := replication.New(self, engine, out, log, replication.DefaultPeriod, now)
	skew := clock.NewChecker(log)

	router := httpapi.NewRouter(engine)
	api := &http.Server{
		Addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.WebAPIPort)),
		Handler: router,
	}

	return &Node{
		cfg: cfg, log: log, self: self, addr: addr,
		table: table, engine: engine, out: out, in: in,
		members: members, pub: pub, skew: skew, api: api,
	}
}

// Run starts every subsystem and blocks until ctx is cancelled or one of
// them fails. Shutdown is idempotent and bounded: cancelling ctx closes the
// inbound listener, stops outbound workers and the publisher, and shuts
// the HTTP server down gracefully (spec §5 "Cancellation and shutdown").
func (n *Node) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	n.out.Run(ctx)
	for _, raw := range n.cfg.BootstrapPeers {
		addr, err := parseHostPort(raw)
		if err != nil {
			return fmt.Errorf("bootstrap peer: %w", err)
		}
		n.members.Bootstrap([]sensorhub.Address{addr})
	}

	g.Go(func() error {
		n.log.Info("inbound listener starting", "addr", n.in.AddrString())
		return n.in.Run(ctx)
	})

	g.Go(func() error { return n.pub.Run(ctx) })

	g.Go(func() error {
		n.skew.Run(ctx)
		return nil
	})

	for _, spec := range n.cfg.Sensors {
		producer, err := buildProducer(spec)
		if err != nil {
			return fmt.Errorf("sensor %s: %w", spec.Name, err)
		}
		runner := sensors.NewRunner(n.self, producer, n.engine, n.log, func() int64 { return time.Now().UnixMilli() })
		g.Go(func() error { return runner.Run(ctx) })
	}

	g.Go(func() error {
		n.log.Info("http api starting", "addr", n.api.Addr)
		err := n.api.ListenAndServe()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return n.api.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func parseHostPort(raw string) (sensorhub.Address, error) {
	host, portStr, err := net.SplitHostPort(raw)
	if err != nil {
		return sensorhub.Address{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return sensorhub.Address{}, fmt.Errorf("invalid port in %q: %w", raw, err)
	}
	return sensorhub.Address{Host: host, Port: port}, nil
}
