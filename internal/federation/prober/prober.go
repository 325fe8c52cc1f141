// Package prober implements the gateway's background health prober. Each
// cycle polls every due subgraph's health endpoint concurrently with an
// independent timeout, classifies the outcome as UP, DEGRADED or DOWN, and
// publishes a new immutable snapshot. Request handling only ever reads the
// latest snapshot; it never triggers a probe.
package prober

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/federation/subgraph"
	gwerrors "github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/resilience"
)

const maxHealthBody = 64 << 10

// Transition describes a change of a subgraph's effective state.
type Transition struct {
	Subgraph            string         `json:"subgraph"`
	From                subgraph.State `json:"from"`
	To                  subgraph.State `json:"to"`
	ConsecutiveFailures int            `json:"consecutiveFailures"`
	At                  time.Time      `json:"at"`
}

// Config controls prober behaviour.
type Config struct {
	// FailureThreshold is the number of consecutive failed probes after which
	// a previously UP subgraph leaves composition.
	FailureThreshold int
	Client           *http.Client
	Metrics          *metrics.Metrics
	// OnTransition is called after a cycle for each effective state change.
	OnTransition func(Transition)
}

// Prober owns the HealthStatus map. It is the only writer of health state.
type Prober struct {
	descriptors []subgraph.Descriptor
	cfg         Config
	tick        time.Duration
	snapshot    atomic.Pointer[subgraph.Snapshot]
	changes     chan struct{}
	cycleMu     sync.Mutex
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a Prober with an UNKNOWN status for every descriptor.
func New(descriptors []subgraph.Descriptor, cfg Config) *Prober {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}
	p := &Prober{
		descriptors: append([]subgraph.Descriptor(nil), descriptors...),
		cfg:         cfg,
		changes:     make(chan struct{}, 1),
		logger:      slog.Default().With("component", "prober"),
		now:         time.Now,
	}
	for _, d := range descriptors {
		if p.tick == 0 || d.ProbeInterval < p.tick {
			p.tick = d.ProbeInterval
		}
	}
	if p.tick <= 0 {
		p.tick = 30 * time.Second
	}
	p.snapshot.Store(subgraph.NewSnapshot(descriptors))
	return p
}

// Snapshot returns the latest immutable health snapshot.
func (p *Prober) Snapshot() *subgraph.Snapshot {
	return p.snapshot.Load()
}

// Changes delivers a coalesced signal whenever a subgraph crosses the
// composition-eligibility boundary.
func (p *Prober) Changes() <-chan struct{} {
	return p.changes
}

// Run probes every subgraph immediately and then on each tick probes the
// subgraphs whose interval has elapsed, until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	p.logger.Info("prober started",
		"subgraphs", len(p.descriptors),
		"tick", p.tick,
		"failure_threshold", p.cfg.FailureThreshold,
	)
	p.ProbeAll(ctx)

	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("prober stopped", "reason", ctx.Err())
			return
		case <-ticker.C:
			if due := p.due(p.now()); len(due) > 0 {
				p.probe(ctx, due)
			}
		}
	}
}

// ProbeAll probes every configured subgraph in parallel and returns the
// resulting status of each.
func (p *Prober) ProbeAll(ctx context.Context) map[string]subgraph.HealthStatus {
	return p.probe(ctx, p.descriptors)
}

func (p *Prober) due(now time.Time) []subgraph.Descriptor {
	snap := p.snapshot.Load()
	var due []subgraph.Descriptor
	for _, d := range p.descriptors {
		last := snap.Statuses[d.Name].LastCheckedAt
		if last.IsZero() || now.Sub(last)+p.tick/2 >= d.ProbeInterval {
			due = append(due, d)
		}
	}
	return due
}

type observation struct {
	state   subgraph.State
	latency time.Duration
	err     error
}

func (p *Prober) probe(ctx context.Context, descriptors []subgraph.Descriptor) map[string]subgraph.HealthStatus {
	p.cycleMu.Lock()
	started := p.now()
	observations := make([]observation, len(descriptors))
	var g errgroup.Group
	for i, d := range descriptors {
		g.Go(func() error {
			observations[i] = p.check(ctx, d)
			return nil
		})
	}
	_ = g.Wait()

	prev := p.snapshot.Load()
	statuses := make(map[string]subgraph.HealthStatus, len(prev.Statuses))
	for name, st := range prev.Statuses {
		statuses[name] = st
	}
	result := make(map[string]subgraph.HealthStatus, len(descriptors))
	var transitions []Transition
	eligibilityChanged := false
	for i, d := range descriptors {
		before := statuses[d.Name]
		after := classify(before, observations[i], p.cfg.FailureThreshold, started)
		statuses[d.Name] = after
		result[d.Name] = after
		p.record(d.Name, observations[i], after)

		if before.State != after.State {
			transitions = append(transitions, Transition{
				Subgraph:            d.Name,
				From:                before.State,
				To:                  after.State,
				ConsecutiveFailures: after.ConsecutiveFailures,
				At:                  started,
			})
		}
		if before.Eligible() != after.Eligible() {
			eligibilityChanged = true
		}
	}
	p.snapshot.Store(&subgraph.Snapshot{Statuses: statuses, TakenAt: started})
	p.cycleMu.Unlock()

	for _, t := range transitions {
		p.logger.Info("subgraph state changed",
			"subgraph", t.Subgraph,
			"from", t.From,
			"to", t.To,
			"consecutive_failures", t.ConsecutiveFailures,
		)
		if p.cfg.OnTransition != nil {
			p.cfg.OnTransition(t)
		}
	}
	if eligibilityChanged {
		select {
		case p.changes <- struct{}{}:
		default:
		}
	}
	return result
}

// classify folds one probe observation into the previous status.
//
// An UP observation resets ConsecutiveFailures to 0 and makes the subgraph
// eligible again. Any other observation increments ConsecutiveFailures; a
// subgraph that was UP stays UP until the count reaches threshold, after which
// the effective state follows the observation. Latency is nil when the
// subgraph did not answer at all.
func classify(prev subgraph.HealthStatus, obs observation, threshold int, at time.Time) subgraph.HealthStatus {
	next := prev
	next.Observed = obs.state
	next.LastCheckedAt = at
	next.LastError = ""
	if obs.err != nil {
		next.LastError = obs.err.Error()
	}

	if obs.state == subgraph.StateDown {
		next.LatencyMs = nil
	} else {
		ms := obs.latency.Milliseconds()
		next.LatencyMs = &ms
	}

	if obs.state == subgraph.StateUp {
		next.ConsecutiveFailures = 0
		next.State = subgraph.StateUp
		return next
	}

	next.ConsecutiveFailures = prev.ConsecutiveFailures + 1
	if prev.State == subgraph.StateUp && next.ConsecutiveFailures < threshold {
		next.State = subgraph.StateUp
		return next
	}
	next.State = obs.state
	return next
}

func (p *Prober) record(name string, obs observation, st subgraph.HealthStatus) {
	m := p.cfg.Metrics
	m.ProbeResultsTotal.WithLabelValues(name, strings.ToLower(string(obs.state))).Inc()
	if obs.state != subgraph.StateDown {
		m.ProbeLatency.WithLabelValues(name).Observe(obs.latency.Seconds())
	}
	m.SubgraphState.WithLabelValues(name).Set(st.State.Gauge())
}

// degradedError marks a probe that reached the subgraph but got a bad answer.
type degradedError struct{ reason string }

func (e *degradedError) Error() string { return e.reason }

func (p *Prober) check(ctx context.Context, d subgraph.Descriptor) observation {
	start := time.Now()
	err := resilience.WithTimeout(ctx, d.ProbeTimeout, "probe "+d.Name, func(ctx context.Context) error {
		return p.fetchHealth(ctx, d)
	})
	latency := time.Since(start)

	var degraded *degradedError
	switch {
	case err == nil:
		return observation{state: subgraph.StateUp, latency: latency}
	case errors.As(err, &degraded):
		return observation{state: subgraph.StateDegraded, latency: latency, err: err}
	default:
		return observation{
			state:   subgraph.StateDown,
			latency: latency,
			err:     fmt.Errorf("%w: %v", gwerrors.ErrSubgraphUnreachable, err),
		}
	}
}

func (p *Prober) fetchHealth(ctx context.Context, d subgraph.Descriptor) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.HealthURL(), nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.cfg.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHealthBody))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &degradedError{reason: fmt.Sprintf("reading health body: %v", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &degradedError{reason: fmt.Sprintf("health endpoint returned status %d", resp.StatusCode)}
	}
	if !json.Valid(body) {
		return &degradedError{reason: "health endpoint returned an unparseable body"}
	}
	return nil
}
