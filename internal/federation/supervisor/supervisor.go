// Package supervisor derives the gateway's operating mode from the composed
// schema. The mode is a pure function of the latest composition outcome and
// the number of configured subgraphs; it is recomputed after every
// composition pass and never set directly.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/federation/composer"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/metrics"
)

type Mode string

const (
	Operational Mode = "OPERATIONAL"
	Partial     Mode = "PARTIAL"
	Minimal     Mode = "MINIMAL"
)

// Gauge maps a mode onto the gateway_mode metric value.
func (m Mode) Gauge() float64 {
	switch m {
	case Operational:
		return 0
	case Partial:
		return 1
	default:
		return 2
	}
}

// ModeFor computes the mode for a composed schema. A nil schema, or one that
// includes no subgraph, means MINIMAL.
func ModeFor(schema *composer.ComposedSchema, configured int) Mode {
	if schema == nil || len(schema.IncludedSubgraphs) == 0 {
		return Minimal
	}
	if len(schema.IncludedSubgraphs) >= configured {
		return Operational
	}
	return Partial
}

type Supervisor struct {
	configured int
	mode       atomic.Value
	metrics    *metrics.Metrics
	events     events.Tracker
	logger     *slog.Logger
}

// New creates a Supervisor in MINIMAL mode; no schema exists until the first
// composition pass.
func New(configured int, m *metrics.Metrics, tracker events.Tracker) *Supervisor {
	if m == nil {
		m = metrics.NewNop()
	}
	if tracker == nil {
		tracker = events.Nop{}
	}
	s := &Supervisor{
		configured: configured,
		metrics:    m,
		events:     tracker,
		logger:     slog.Default().With("component", "supervisor"),
	}
	s.mode.Store(Minimal)
	m.GatewayMode.Set(Minimal.Gauge())
	return s
}

// Observe recomputes the mode from the schema the composer just left active.
func (s *Supervisor) Observe(schema *composer.ComposedSchema) Mode {
	next := ModeFor(schema, s.configured)
	prev := s.mode.Swap(next).(Mode)
	s.metrics.GatewayMode.Set(next.Gauge())
	if prev != next {
		included := 0
		if schema != nil {
			included = len(schema.IncludedSubgraphs)
		}
		log := s.logger.Info
		if next != Operational {
			log = s.logger.Warn
		}
		log("gateway mode changed",
			"from", prev,
			"to", next,
			"included", included,
			"configured", s.configured,
		)
		s.events.Track(events.Event{Type: events.ModeChanged, From: string(prev), To: string(next)})
	}
	return next
}

// Mode returns the current gateway mode.
func (s *Supervisor) Mode() Mode {
	return s.mode.Load().(Mode)
}

// AllowsExecution reports whether federated queries may run.
func (s *Supervisor) AllowsExecution() bool {
	return s.Mode() != Minimal
}

// Check reports the mode to the readiness checker: PARTIAL is degraded and
// MINIMAL is down.
func (s *Supervisor) Check() health.Check {
	return func(context.Context) health.ComponentHealth {
		mode := s.Mode()
		msg := fmt.Sprintf("mode %s", mode)
		switch mode {
		case Operational:
			return health.ComponentHealth{Status: health.StatusUp, Message: msg}
		case Partial:
			return health.ComponentHealth{Status: health.StatusDegraded, Message: msg}
		default:
			return health.ComponentHealth{Status: health.StatusDown, Message: msg}
		}
	}
}
