// Package clock implements a best-effort clock-skew advisory (SPEC_FULL.md
// §6 supplement): since LWW correctness depends on loosely-synchronized
// wall clocks across nodes, a periodic NTP offset check logs a warning when
// local skew exceeds a threshold. It never feeds back into merge
// semantics — state.Engine remains the sole arbiter of ordering.
package clock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/beevik/ntp"

	"sensorhub/internal/check"
)

const (
	defaultPool      = "pool.ntp.org"
	defaultInterval  = 60 * time.Second
	defaultThreshold = 500 * time.Millisecond
)

// Phase is the checker's current assessment of local clock health.
type Phase uint8

const (
	Unchecked Phase = iota + 1
	Healthy
	UnhealthyOffset
	CheckError
)

func (p Phase) String() string {
	switch p {
	case Unchecked:
		return "unchecked"
	case Healthy:
		return "healthy"
	case UnhealthyOffset:
		return "unhealthy_offset"
	case CheckError:
		return "error"
	default:
		return "unknown"
	}
}

// Transition moves the phase to "to", panicking in debug builds on an edge
// the checker never takes.
func (p Phase) Transition(to Phase) Phase {
	ok := false
	switch p {
	case Unchecked:
		ok = to == Healthy || to == UnhealthyOffset || to == CheckError
	case Healthy:
		ok = to == UnhealthyOffset || to == CheckError
	case UnhealthyOffset:
		ok = to == Healthy || to == CheckError
	case CheckError:
		ok = to == Healthy || to == UnhealthyOffset || to == CheckError
	}
	check.Assertf(ok, "clock phase transition: %s -> %s", p, to)
	if !ok {
		return p
	}
	return to
}

// Status is the checker's last observation.
type Status struct {
	Offset    time.Duration
	Phase     Phase
	Err       string
	CheckedAt time.Time
}

// queryFunc performs one NTP round trip; overridden in tests.
type queryFunc func(pool string) (time.Duration, error)

func defaultQuery(pool string) (time.Duration, error) {
	resp, err := ntp.Query(pool)
	if err != nil {
		return 0, err
	}
	return resp.ClockOffset, nil
}

// Checker periodically queries an NTP pool and logs a warning when local
// clock skew exceeds threshold. It is advisory only.
type Checker struct {
	mu        sync.RWMutex
	status    Status
	pool      string
	interval  time.Duration
	threshold time.Duration
	log       *slog.Logger
	query     queryFunc
}

// NewChecker creates a Checker with the package defaults (pool.ntp.org,
// 60s interval, 500ms threshold).
func NewChecker(log *slog.Logger) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		pool:      defaultPool,
		interval:  defaultInterval,
		threshold: defaultThreshold,
		status:    Status{Phase: Unchecked},
		log:       log,
		query:     defaultQuery,
	}
}

// Run drives the periodic check loop until ctx is cancelled. It checks
// once immediately so Status is populated before the first tick.
func (c *Checker) Run(ctx context.Context) {
	c.check()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.check()
		}
	}
}

func (c *Checker) check() {
	offset, err := c.query(c.pool)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.status = Status{Err: err.Error(), Phase: CheckError, CheckedAt: now}
		c.log.Debug("clock: ntp check failed", "pool", c.pool, "err", err)
		return
	}

	abs := offset
	if abs < 0 {
		abs = -abs
	}
	phase := Healthy
	if abs > c.threshold {
		phase = UnhealthyOffset
		c.log.Warn("clock: skew exceeds threshold", "offset", offset, "threshold", c.threshold)
	}
	c.status = Status{Offset: offset, Phase: phase, CheckedAt: now}
}

// Status returns the last observation.
func (c *Checker) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}
