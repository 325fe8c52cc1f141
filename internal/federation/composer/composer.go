// Package composer builds the federated schema from the SDL of every
// subgraph the prober currently reports as UP, and publishes it through an
// atomic pointer. Requests snapshot that pointer once and keep using the same
// version for their whole lifetime.
package composer

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/federation/subgraph"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/history"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/metrics"
)

// Pass outcomes.
const (
	OutcomePublished   = "published"
	OutcomeUnchanged   = "unchanged"
	OutcomeRetained    = "retained"
	OutcomeWithdrawn   = "withdrawn"
	OutcomeUnavailable = "unavailable"
	// OutcomePending is reported to a caller that stopped waiting while the
	// pass it joined keeps running.
	OutcomePending = "pending"
)

// HealthSource is the read side of the prober.
type HealthSource interface {
	Snapshot() *subgraph.Snapshot
	Changes() <-chan struct{}
}

// Outcome summarizes one composition pass.
type Outcome struct {
	Result   string            `json:"result"`
	Version  int64             `json:"version"`
	Included []string          `json:"included"`
	Excluded map[string]string `json:"excluded,omitempty"`
	Reason   string            `json:"reason,omitempty"`
}

// Config wires the composer's collaborators. Zero values disable the
// corresponding side effect.
type Config struct {
	RevalidateInterval time.Duration
	Metrics            *metrics.Metrics
	Events             events.Tracker
	History            history.Store
	// OnComposed is called after every pass with the active schema, which is
	// nil when none is being served.
	OnComposed func(*ComposedSchema)
}

// Composer owns the active ComposedSchema pointer.
type Composer struct {
	descriptors  []subgraph.Descriptor
	health       HealthSource
	fetcher      *Fetcher
	cfg          Config
	active       atomic.Pointer[ComposedSchema]
	passMu       sync.Mutex
	version      int64
	lastExcluded map[string]string
	group        singleflight.Group
	baseMu       sync.Mutex
	base         context.Context
	trigger      chan string
	logger       *slog.Logger
	now          func() time.Time
}

func New(descriptors []subgraph.Descriptor, health HealthSource, fetcher *Fetcher, cfg Config) *Composer {
	if cfg.RevalidateInterval <= 0 {
		cfg.RevalidateInterval = time.Minute
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}
	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}
	return &Composer{
		descriptors: descriptors,
		health:      health,
		fetcher:     fetcher,
		cfg:         cfg,
		base:        context.Background(),
		trigger:     make(chan string, 1),
		logger:      slog.Default().With("component", "composer"),
		now:         time.Now,
	}
}

// Active returns the schema currently served, or nil.
func (c *Composer) Active() *ComposedSchema {
	return c.active.Load()
}

// Trigger requests a composition pass from the Run loop without waiting
// for it. Requests made while one is pending are coalesced.
func (c *Composer) Trigger(reason string) {
	select {
	case c.trigger <- reason:
	default:
	}
}

// Run composes once immediately, then again whenever subgraph eligibility
// changes, a pass is triggered, or the revalidation interval elapses.
func (c *Composer) Run(ctx context.Context) {
	c.logger.Info("composer started", "revalidate_interval", c.cfg.RevalidateInterval)
	c.baseMu.Lock()
	c.base = ctx
	c.baseMu.Unlock()
	c.Compose(ctx, "startup")

	ticker := time.NewTicker(c.cfg.RevalidateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("composer stopped", "reason", ctx.Err())
			return
		case <-c.health.Changes():
			c.Compose(ctx, "subgraph eligibility changed")
		case reason := <-c.trigger:
			c.Compose(ctx, reason)
		case <-ticker.C:
			c.Compose(ctx, "revalidation")
		}
	}
}

// Compose runs a composition pass and waits for its outcome. Concurrent
// callers share one pass. The pass runs on the composer's own context: ctx
// only bounds the wait, and a caller that gives up gets OutcomePending.
func (c *Composer) Compose(ctx context.Context, reason string) *Outcome {
	ch := c.group.DoChan("compose", func() (any, error) {
		return c.pass(c.passContext(), reason), nil
	})
	select {
	case res := <-ch:
		return res.Val.(*Outcome)
	case <-ctx.Done():
		c.logger.Info("caller stopped waiting for composition", "reason", reason, "error", ctx.Err())
		return &Outcome{Result: OutcomePending, Reason: reason}
	}
}

// passContext is cancelled only when Run's context is.
func (c *Composer) passContext() context.Context {
	c.baseMu.Lock()
	defer c.baseMu.Unlock()
	return c.base
}

func (c *Composer) pass(ctx context.Context, reason string) *Outcome {
	c.passMu.Lock()
	defer c.passMu.Unlock()

	start := c.now()
	eligible := c.health.Snapshot().Eligible()
	out := &Outcome{Reason: reason}

	if len(eligible) == 0 {
		if prev := c.active.Swap(nil); prev != nil {
			out.Result = OutcomeWithdrawn
			c.logger.Warn("no subgraph is eligible, withdrawing composed schema", "version", prev.Version)
		} else {
			out.Result = OutcomeUnavailable
			c.logger.Debug("no subgraph is eligible for composition")
		}
		c.finish(ctx, out, start, nil)
		return out
	}

	sources, excluded := c.fetch(ctx, eligible)
	merged, err := Merge(sources)
	if merged != nil {
		for name, mergeErr := range merged.Excluded {
			excluded[name] = mergeErr.Error()
		}
	}
	out.Excluded = excluded
	c.reportExclusions(excluded)

	if err != nil {
		out.Reason = err.Error()
		if prev := c.active.Load(); prev != nil {
			out.Result = OutcomeRetained
			out.Version = prev.Version
			out.Included = prev.IncludedSubgraphs
			c.logger.Warn("composition failed, retaining last known-good schema",
				"version", prev.Version,
				"error", err,
			)
		} else {
			out.Result = OutcomeUnavailable
			c.logger.Error("composition failed and no schema is available", "error", err)
		}
		c.finish(ctx, out, start, nil)
		return out
	}

	dg := digest(merged.SDL, merged.Included)
	out.Included = merged.Included
	if prev := c.active.Load(); prev != nil && prev.Digest == dg {
		out.Result = OutcomeUnchanged
		out.Version = prev.Version
		c.finish(ctx, out, start, nil)
		return out
	}

	c.version++
	schema := &ComposedSchema{
		Version:           c.version,
		IncludedSubgraphs: merged.Included,
		Digest:            dg,
		SDL:               merged.SDL,
		Schema:            merged.Schema,
		Providers:         merged.Providers,
		Entities:          merged.Entities,
		Excluded:          excluded,
		CreatedAt:         c.now(),
	}
	c.active.Store(schema)
	out.Result = OutcomePublished
	out.Version = schema.Version
	c.logger.Info("composed schema published",
		"version", schema.Version,
		"included", schema.IncludedSubgraphs,
		"excluded", len(excluded),
		"digest", dg[:12],
	)
	c.finish(ctx, out, start, schema)
	return out
}

func (c *Composer) fetch(ctx context.Context, names []string) ([]Source, map[string]string) {
	byName := make(map[string]subgraph.Descriptor, len(c.descriptors))
	for _, d := range c.descriptors {
		byName[d.Name] = d
	}

	sdls := make([]string, len(names))
	errs := make([]error, len(names))
	var g errgroup.Group
	for i, name := range names {
		d, ok := byName[name]
		if !ok {
			errs[i] = errors.New("unknown subgraph")
			continue
		}
		g.Go(func() error {
			sdls[i], errs[i] = c.fetcher.Fetch(ctx, d)
			return nil
		})
	}
	_ = g.Wait()

	sources := make([]Source, 0, len(names))
	excluded := make(map[string]string)
	for i, name := range names {
		if errs[i] != nil {
			excluded[name] = errs[i].Error()
			continue
		}
		sources = append(sources, Source{Name: name, SDL: sdls[i]})
	}
	return sources, excluded
}

func (c *Composer) reportExclusions(excluded map[string]string) {
	names := make([]string, 0, len(excluded))
	for name := range excluded {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if c.lastExcluded[name] == excluded[name] {
			continue
		}
		c.logger.Warn("subgraph excluded from composition", "subgraph", name, "reason", excluded[name])
		c.cfg.Events.Track(events.Event{
			Type:     events.SubgraphExcluded,
			Subgraph: name,
			Reason:   excluded[name],
		})
	}
	c.lastExcluded = excluded
}

func (c *Composer) finish(ctx context.Context, out *Outcome, start time.Time, published *ComposedSchema) {
	m := c.cfg.Metrics
	m.CompositionsTotal.WithLabelValues(out.Result).Inc()
	active := c.active.Load()
	if active != nil {
		m.SchemaVersion.Set(float64(active.Version))
		m.ComposedSubgraphs.Set(float64(len(active.IncludedSubgraphs)))
	} else {
		m.SchemaVersion.Set(0)
		m.ComposedSubgraphs.Set(0)
	}

	switch out.Result {
	case OutcomePublished:
		c.cfg.Events.Track(events.Event{
			Type:     events.SchemaPublished,
			Version:  published.Version,
			Included: published.IncludedSubgraphs,
			Reason:   out.Reason,
		})
	case OutcomeRetained:
		c.cfg.Events.Track(events.Event{Type: events.SchemaRetained, Version: out.Version, Reason: out.Reason})
	case OutcomeWithdrawn:
		c.cfg.Events.Track(events.Event{Type: events.SchemaWithdrawn, Reason: out.Reason})
	}

	if c.cfg.History != nil && out.Result != OutcomeUnchanged {
		rec := history.Record{
			Outcome:   out.Result,
			Version:   out.Version,
			Included:  out.Included,
			Excluded:  out.Excluded,
			Reason:    out.Reason,
			CreatedAt: start,
		}
		if published != nil {
			rec.Digest = published.Digest
		}
		if rec.Included == nil {
			rec.Included = []string{}
		}
		if err := c.cfg.History.Save(ctx, rec); err != nil {
			c.logger.Warn("failed to record composition", "error", err)
		}
	}

	c.logger.Debug("composition pass finished",
		"result", out.Result,
		"version", out.Version,
		"duration", time.Since(start),
	)
	if c.cfg.OnComposed != nil {
		c.cfg.OnComposed(active)
	}
}
