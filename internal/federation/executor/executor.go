// Package executor runs query plans against subgraphs. Steps of one stage run
// in parallel; their results are merged into a shared data tree between
// stages, and the final response is projected from that tree following the
// operation's selection set with standard null bubbling.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/federation/planner"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/federation/subgraph"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/tracing"
)

// Error codes attached to localized sub-request failures.
const (
	CodeSubgraphUnavailable = "SUBGRAPH_UNAVAILABLE"
	CodeSubgraphError       = "SUBGRAPH_ERROR"
)

const (
	maxResponseBytes = 16 << 20
	// maxFailurePaths caps the per-field errors emitted for one failed step.
	maxFailurePaths = 20
)

// Config configures an Executor.
type Config struct {
	Client            *http.Client
	SubrequestTimeout time.Duration
	Metrics           *metrics.Metrics
	Breaker           resilience.CircuitBreakerConfig
}

// Executor sends plan steps to subgraphs. It is safe for concurrent use.
type Executor struct {
	endpoints map[string]string
	client    *http.Client
	timeout   time.Duration
	metrics   *metrics.Metrics
	cbConfig  resilience.CircuitBreakerConfig
	mu        sync.Mutex
	breakers  map[string]*resilience.CircuitBreaker
	logger    *slog.Logger
}

func New(descriptors []subgraph.Descriptor, cfg Config) *Executor {
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.SubrequestTimeout <= 0 {
		cfg.SubrequestTimeout = 10 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}
	endpoints := make(map[string]string, len(descriptors))
	for _, d := range descriptors {
		endpoints[d.Name] = d.GraphQLURL()
	}
	m := cfg.Metrics
	userHook := cfg.Breaker.OnStateChange
	cfg.Breaker.OnStateChange = func(name string, state resilience.State) {
		m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
		if userHook != nil {
			userHook(name, state)
		}
	}
	return &Executor{
		endpoints: endpoints,
		client:    cfg.Client,
		timeout:   cfg.SubrequestTimeout,
		metrics:   m,
		cbConfig:  cfg.Breaker,
		breakers:  make(map[string]*resilience.CircuitBreaker),
		logger:    slog.Default().With("component", "executor"),
	}
}

func (e *Executor) breaker(name string) *resilience.CircuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	cb, ok := e.breakers[name]
	if !ok {
		cb = resilience.NewCircuitBreaker("subgraph:"+name, e.cbConfig)
		e.breakers[name] = cb
	}
	return cb
}

// Execute runs plan and shapes the response. The request deadline is the
// plan depth times the sub-request timeout.
func (e *Executor) Execute(ctx context.Context, plan *planner.QueryPlan) *Response {
	ctx, span := tracing.StartSpan(ctx, "federated_request", logger.RequestID(ctx))
	span.SetAttr("schema_version", plan.Schema.Version)
	span.SetAttr("steps", len(plan.Steps))
	defer func() {
		span.End()
		span.Log(logger.FromContext(ctx))
	}()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(plan.Depth())*e.timeout)
	defer cancel()

	run := &execution{
		plan: plan,
		data: make(map[string]any),
	}
	for _, stage := range plan.ExecutionOrder {
		e.runStage(ctx, run, stage)
	}

	resp := run.project()
	switch {
	case len(resp.Errors) == 0:
		e.metrics.FederatedQueries.WithLabelValues("ok").Inc()
	default:
		e.metrics.FederatedQueries.WithLabelValues("partial").Inc()
		span.SetAttr("errors", len(resp.Errors))
	}
	return resp
}

// execution is the mutable state of one request.
type execution struct {
	plan *planner.QueryPlan
	data map[string]any
	mu   sync.Mutex
	errs gqlerror.List
}

func (x *execution) addErrors(errs ...*gqlerror.Error) {
	x.mu.Lock()
	x.errs = append(x.errs, errs...)
	x.mu.Unlock()
}

// target is an object in the data tree that an entity step extends.
type target struct {
	path ast.Path
	obj  map[string]any
}

type stepResult struct {
	step    *planner.Step
	targets []target
	data    map[string]any
}

func (e *Executor) runStage(ctx context.Context, x *execution, stage []int) {
	results := make([]*stepResult, len(stage))
	var g errgroup.Group
	for i, id := range stage {
		step := x.plan.Steps[id]
		res := &stepResult{step: step}
		if step.Kind == planner.EntityFetch {
			res.targets = collectTargets(x.data, step.Path, step.TypeName)
			if len(res.targets) == 0 {
				continue
			}
		}
		results[i] = res
		g.Go(func() error {
			e.runStep(ctx, x, res)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if res == nil || res.data == nil {
			continue
		}
		if res.step.Kind == planner.RootFetch {
			mergeInto(x.data, res.data)
			continue
		}
		entities, _ := res.data["_entities"].([]any)
		for i, t := range res.targets {
			if i >= len(entities) {
				break
			}
			if ent, ok := entities[i].(map[string]any); ok {
				mergeInto(t.obj, ent)
			}
		}
	}
}

func (e *Executor) runStep(ctx context.Context, x *execution, res *stepResult) {
	step := res.step
	ctx, span := tracing.StartChildSpan(ctx, "step:"+step.Subgraph)
	span.SetAttr("step", step.ID)
	span.SetAttr("kind", step.Kind.String())
	defer span.End()

	vars := make(map[string]any, len(step.VariableNames)+1)
	for _, name := range step.VariableNames {
		if v, ok := x.plan.Variables[name]; ok {
			vars[name] = v
		}
	}
	if step.Kind == planner.EntityFetch {
		reps := make([]any, len(res.targets))
		for i, t := range res.targets {
			reps[i] = representation(t.obj, step.TypeName, step.KeyFields)
		}
		vars["representations"] = reps
		span.SetAttr("representations", len(reps))
	}

	start := time.Now()
	body, err := e.call(ctx, step.Subgraph, step.Query, vars)
	e.metrics.SubrequestLatency.WithLabelValues(step.Subgraph).Observe(time.Since(start).Seconds())
	if err != nil {
		span.SetError(err)
		outcome := "error"
		if errors.Is(err, resilience.ErrCircuitOpen) {
			outcome = "rejected"
		}
		e.metrics.SubrequestsTotal.WithLabelValues(step.Subgraph, outcome).Inc()
		logger.FromContext(ctx).Warn("sub-request failed",
			"subgraph", step.Subgraph,
			"step", step.ID,
			"error", err,
		)
		x.addErrors(failureErrors(step, res.targets, err)...)
		return
	}
	e.metrics.SubrequestsTotal.WithLabelValues(step.Subgraph, "ok").Inc()

	res.data = body.Data
	if len(body.Errors) > 0 {
		span.SetAttr("graphql_errors", len(body.Errors))
		x.addErrors(rewriteErrors(step, res.targets, body.Errors)...)
	}
}

type subRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type subResponse struct {
	Data   map[string]any    `json:"data"`
	Errors []*gqlerror.Error `json:"errors"`
}

// call sends one sub-request through the subgraph's circuit breaker.
// Cancellations by the client are not held against the subgraph.
func (e *Executor) call(ctx context.Context, name, query string, vars map[string]any) (*subResponse, error) {
	endpoint, ok := e.endpoints[name]
	if !ok {
		return nil, fmt.Errorf("no endpoint for subgraph %s", name)
	}
	var resp *subResponse
	var callErr error
	err := e.breaker(name).Execute(func() error {
		resp, callErr = e.post(ctx, endpoint, query, vars)
		if callErr != nil && errors.Is(callErr, context.Canceled) {
			return nil
		}
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return resp, callErr
}

func (e *Executor) post(ctx context.Context, endpoint, query string, vars map[string]any) (*subResponse, error) {
	payload, err := json.Marshal(subRequest{Query: query, Variables: vars})
	if err != nil {
		return nil, fmt.Errorf("encoding sub-request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if id := logger.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	httpResp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %d", httpResp.StatusCode)
	}
	dec := json.NewDecoder(io.LimitReader(httpResp.Body, maxResponseBytes))
	dec.UseNumber()
	var out subResponse
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding sub-response: %w", err)
	}
	return &out, nil
}
