// Package liveness reaps sessions whose clients have gone silent.
//
// The monitor periodically sweeps all tracked sessions. A session idle for
// longer than the keepalive interval is probed with a ping so a live but
// quiet client can refresh its activity timestamp. A session idle past the
// full timeout is removed, which frees its admission slot and tears down
// its connection.
package liveness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/echogate/internal/observe"
	"github.com/MrWong99/echogate/internal/registry"
)

// Sessions is the subset of the registry the monitor sweeps over.
type Sessions interface {
	Active() []*registry.Session
	Remove(id string)
}

// ProbeFunc sends a keepalive ping to one session. A probe failure is
// treated as a dead connection and removes the session immediately.
type ProbeFunc func(s *registry.Session) error

// Config holds the sweep timing parameters.
type Config struct {
	// Interval is the keepalive interval. Sessions idle longer than this
	// are probed; the sweep itself runs once per interval.
	Interval time.Duration

	// TimeoutMult is the number of intervals of silence after which a
	// session is reaped. Must be at least 2 so a probed client has a full
	// interval to answer.
	TimeoutMult int
}

// Monitor drives the periodic liveness sweep.
type Monitor struct {
	cfg      Config
	sessions Sessions
	probe    ProbeFunc
	metrics  *observe.Metrics
	logger   *slog.Logger

	now func() time.Time
}

// Option configures a [Monitor].
type Option func(*Monitor)

// WithMetrics overrides the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(mon *Monitor) { mon.metrics = m }
}

// WithLogger overrides the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(mon *Monitor) { mon.logger = l }
}

// withClock overrides the time source for tests.
func withClock(now func() time.Time) Option {
	return func(mon *Monitor) { mon.now = now }
}

// New creates a monitor sweeping sessions at the configured interval.
func New(cfg Config, sessions Sessions, probe ProbeFunc, opts ...Option) (*Monitor, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("liveness: interval must be positive, got %v", cfg.Interval)
	}
	if cfg.TimeoutMult < 2 {
		return nil, fmt.Errorf("liveness: timeout multiplier must be at least 2, got %d", cfg.TimeoutMult)
	}
	if sessions == nil {
		return nil, errors.New("liveness: sessions must not be nil")
	}
	if probe == nil {
		return nil, errors.New("liveness: probe must not be nil")
	}
	mon := &Monitor{
		cfg:      cfg,
		sessions: sessions,
		probe:    probe,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(mon)
	}
	if mon.metrics == nil {
		mon.metrics = observe.DefaultMetrics()
	}
	if mon.logger == nil {
		mon.logger = slog.Default()
	}
	return mon, nil
}

// Run sweeps once per interval until ctx is cancelled.
func (mon *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(mon.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			mon.Sweep(ctx)
		}
	}
}

// Sweep inspects every tracked session once, probing idle ones and reaping
// timed-out ones. Exported so tests and operators can trigger it directly.
func (mon *Monitor) Sweep(ctx context.Context) {
	now := mon.now()
	timeout := mon.cfg.Interval * time.Duration(mon.cfg.TimeoutMult)

	for _, s := range mon.sessions.Active() {
		idle := now.Sub(s.LastActivity())
		switch {
		case idle >= timeout:
			mon.logger.Info("reaping unresponsive session",
				slog.String("session_id", s.ID),
				slog.Duration("idle", idle),
			)
			mon.metrics.LivenessTimeouts.Add(ctx, 1)
			mon.sessions.Remove(s.ID)

		case idle >= mon.cfg.Interval:
			if err := mon.probe(s); err != nil {
				mon.logger.Info("probe failed, removing session",
					slog.String("session_id", s.ID),
					slog.String("error", err.Error()),
				)
				mon.metrics.LivenessTimeouts.Add(ctx, 1)
				mon.sessions.Remove(s.ID)
			}
		}
	}
}
