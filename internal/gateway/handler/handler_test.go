package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/federation/composer"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/federation/executor"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/federation/subgraph"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/federation/supervisor"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/history"
)

const productsSDL = `
type Product @key(fields: "upc") {
  upc: String!
  name: String
}

type Query {
  topProducts: [Product!]!
}
`

type fakeComposer struct {
	schema  atomic.Pointer[composer.ComposedSchema]
	reads   atomic.Int32
	reasons []string
	result  string
}

func (f *fakeComposer) Active() *composer.ComposedSchema {
	f.reads.Add(1)
	return f.schema.Load()
}

func (f *fakeComposer) Compose(_ context.Context, reason string) *composer.Outcome {
	f.reasons = append(f.reasons, reason)
	if f.result == composer.OutcomePending {
		return &composer.Outcome{Result: f.result, Reason: reason}
	}
	return &composer.Outcome{Result: composer.OutcomeUnchanged, Version: 1, Included: []string{"products"}, Reason: reason}
}

type fakeHealth struct{ snap *subgraph.Snapshot }

func (f fakeHealth) Snapshot() *subgraph.Snapshot { return f.snap }

type fakeMode struct{ mode supervisor.Mode }

func (f *fakeMode) Mode() supervisor.Mode { return f.mode }

type fixture struct {
	h        *Handler
	composer *fakeComposer
	mode     *fakeMode
	history  *history.MemoryStore
	cache    *composer.MemoryStore
	hits     atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		composer: &fakeComposer{},
		mode:     &fakeMode{mode: supervisor.Partial},
		history:  history.NewMemoryStore(10),
		cache:    composer.NewMemoryStore(),
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"topProducts":[{"upc":"1","name":"Lamp"}]}}`))
	}))
	t.Cleanup(srv.Close)

	merged, err := composer.Merge([]composer.Source{{Name: "products", SDL: productsSDL}})
	require.NoError(t, err)
	f.composer.schema.Store(&composer.ComposedSchema{
		Version:           3,
		IncludedSubgraphs: merged.Included,
		Digest:            "abc123",
		SDL:               merged.SDL,
		Schema:            merged.Schema,
		Providers:         merged.Providers,
		Entities:          merged.Entities,
	})

	checked := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	latency := int64(12)
	snap := &subgraph.Snapshot{Statuses: map[string]subgraph.HealthStatus{
		"products": {Name: "products", State: subgraph.StateUp, Observed: subgraph.StateUp, LastCheckedAt: checked, LatencyMs: &latency},
		"reviews":  {Name: "reviews", State: subgraph.StateDown, Observed: subgraph.StateDown, LastCheckedAt: checked, ConsecutiveFailures: 4},
	}}

	exec := executor.New([]subgraph.Descriptor{{Name: "products", BaseURL: srv.URL, GraphQLPath: "/graphql"}}, executor.Config{})
	f.h = New(Config{ServiceName: "gateway", Version: "1.2.0", MaxRequestBytes: 512},
		f.composer, fakeHealth{snap: snap}, f.mode, exec, f.history, f.cache, nil)
	f.h.now = func() time.Time { return checked }
	return f
}

func postGraphQL(h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestHealthAlwaysOK(t *testing.T) {
	f := newFixture(t)
	f.mode.mode = supervisor.Minimal

	rec := httptest.NewRecorder()
	f.h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","service":"gateway","version":"1.2.0","timestamp":"2026-01-02T03:04:05Z"}`, rec.Body.String())
}

func TestHealthDetailedReportsCachedState(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.h.HealthDetailed(rec, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Overall   string `json:"overall"`
		Subgraphs []struct {
			Name          string  `json:"name"`
			Status        string  `json:"status"`
			LastCheckedAt *string `json:"lastCheckedAt"`
			LatencyMs     *int64  `json:"latencyMs"`
		} `json:"subgraphs"`
		Schema struct {
			Version           int64    `json:"version"`
			IncludedSubgraphs []string `json:"includedSubgraphs"`
		} `json:"schema"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	assert.Equal(t, "PARTIAL", body.Overall)
	require.Len(t, body.Subgraphs, 2)
	assert.Equal(t, "products", body.Subgraphs[0].Name)
	assert.Equal(t, "UP", body.Subgraphs[0].Status)
	require.NotNil(t, body.Subgraphs[0].LatencyMs)
	assert.EqualValues(t, 12, *body.Subgraphs[0].LatencyMs)
	assert.Equal(t, "reviews", body.Subgraphs[1].Name)
	assert.Equal(t, "DOWN", body.Subgraphs[1].Status)
	assert.Nil(t, body.Subgraphs[1].LatencyMs)
	assert.NotNil(t, body.Subgraphs[1].LastCheckedAt)
	assert.EqualValues(t, 3, body.Schema.Version)
	assert.Equal(t, []string{"products"}, body.Schema.IncludedSubgraphs)
}

func TestGraphQLRejectedInMinimalMode(t *testing.T) {
	f := newFixture(t)
	f.mode.mode = supervisor.Minimal

	rec := postGraphQL(f.h.GraphQL, `{"query":"{ topProducts { name } }"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"errors":[{"message":"gateway is in MINIMAL mode: no subgraph schema is available","extensions":{"code":"SERVICE_DEGRADED"}}]}`, rec.Body.String())
	assert.Zero(t, f.hits.Load(), "router must not run in MINIMAL mode")
	assert.Zero(t, f.composer.reads.Load())
}

func TestGraphQLExecutesAgainstOneSnapshot(t *testing.T) {
	f := newFixture(t)

	rec := postGraphQL(f.h.GraphQL, `{"query":"{ topProducts { name } }"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"topProducts":[{"name":"Lamp"}]}}`, rec.Body.String())
	assert.EqualValues(t, 1, f.composer.reads.Load())
	assert.EqualValues(t, 1, f.hits.Load())
}

func TestGraphQLValidationErrors(t *testing.T) {
	f := newFixture(t)

	rec := postGraphQL(f.h.GraphQL, `{"query":"{ nope }"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotContains(t, body, "data")
	errs := body["errors"].([]any)
	require.NotEmpty(t, errs)
	ext := errs[0].(map[string]any)["extensions"].(map[string]any)
	assert.Equal(t, CodeValidationFailed, ext["code"])
	assert.Zero(t, f.hits.Load())
}

func TestGraphQLBadBodies(t *testing.T) {
	f := newFixture(t)

	rec := postGraphQL(f.h.GraphQL, `{"query":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), CodeBadRequest)

	rec = postGraphQL(f.h.GraphQL, `{"query":"`+strings.Repeat("x", 1024)+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "too large")
}

func TestAdminEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := httptest.NewRecorder()
	f.h.Compose(rec, httptest.NewRequest(http.MethodPost, "/admin/compose", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"admin request"}, f.composer.reasons)
	assert.Contains(t, rec.Body.String(), `"result":"unchanged"`)

	require.NoError(t, f.history.Save(ctx, history.Record{Outcome: composer.OutcomePublished, Version: 1, Included: []string{"products"}}))
	rec = httptest.NewRecorder()
	f.h.ListCompositions(rec, httptest.NewRequest(http.MethodGet, "/admin/compositions?limit=5", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = httptest.NewRecorder()
	f.h.ListCompositions(rec, httptest.NewRequest(http.MethodGet, "/admin/compositions?limit=0", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.NoError(t, f.cache.Put(ctx, "products", productsSDL))
	rec = httptest.NewRecorder()
	f.h.PurgeSDLCache(rec, httptest.NewRequest(http.MethodDelete, "/admin/sdl-cache", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"purged":1}`, rec.Body.String())
}

func TestComposeAcceptedWhenPassOutlivesRequest(t *testing.T) {
	f := newFixture(t)
	f.composer.result = composer.OutcomePending

	rec := httptest.NewRecorder()
	f.h.Compose(rec, httptest.NewRequest(http.MethodPost, "/admin/compose", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"result":"pending"`)
}

func TestAdminEndpointsDisabled(t *testing.T) {
	f := newFixture(t)
	f.h.history = nil
	f.h.sdlCache = nil

	rec := httptest.NewRecorder()
	f.h.ListCompositions(rec, httptest.NewRequest(http.MethodGet, "/admin/compositions", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	f.h.PurgeSDLCache(rec, httptest.NewRequest(http.MethodDelete, "/admin/sdl-cache", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
