package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/federation/composer"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/federation/executor"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/federation/planner"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/federation/subgraph"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/federation/supervisor"
	gwhandler "github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/gateway/handler"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/gateway/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/history"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/metrics"
)

type noSchema struct{}

func (noSchema) Active() *composer.ComposedSchema { return nil }
func (noSchema) Compose(context.Context, string) *composer.Outcome {
	return &composer.Outcome{Result: composer.OutcomeUnavailable}
}

type emptyHealth struct{}

func (emptyHealth) Snapshot() *subgraph.Snapshot { return subgraph.NewSnapshot(nil) }

type noExec struct{}

func (noExec) Execute(context.Context, *planner.QueryPlan) *executor.Response { return nil }

func newRouter(t *testing.T, explorer bool, limit int) http.Handler {
	t.Helper()
	sup := supervisor.New(2, metrics.NewNop(), nil)
	checker := health.NewChecker()
	checker.Register("mode", sup.Check())
	limiter := ratelimit.New(limit, time.Minute)
	t.Cleanup(limiter.Close)

	h := gwhandler.New(gwhandler.Config{ServiceName: "gateway", Version: "test"},
		noSchema{}, emptyHealth{}, sup, noExec{}, history.NewMemoryStore(5), composer.NewMemoryStore(), nil)
	return New(h, Options{
		Explorer:    explorer,
		ServiceName: "gateway",
		Limiter:     limiter,
		Metrics:     metrics.New(prometheus.NewRegistry()),
		Checker:     checker,
	})
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "192.0.2.1:4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutesInMinimalMode(t *testing.T) {
	h := newRouter(t, true, 0)

	rec := serve(h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(h, http.MethodGet, "/health/detailed", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"overall":"MINIMAL"`)

	rec = serve(h, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(h, http.MethodPost, "/graphql", `{"query":"{ a }"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "SERVICE_DEGRADED")
	assert.NotContains(t, rec.Body.String(), `"data"`)
}

func TestExplorerOnlyOutsideProduction(t *testing.T) {
	rec := serve(newRouter(t, true, 0), http.MethodGet, "/graphql", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	rec = serve(newRouter(t, false, 0), http.MethodGet, "/graphql", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	h := newRouter(t, false, 0)

	rec := serve(h, http.MethodPost, "/admin/compose", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"result":"unavailable"`)

	rec = serve(h, http.MethodGet, "/admin/compositions", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(h, http.MethodDelete, "/admin/sdl-cache", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitOnlyGuardsGraphQL(t *testing.T) {
	h := newRouter(t, false, 1)

	assert.Equal(t, http.StatusServiceUnavailable, serve(h, http.MethodPost, "/graphql", `{}`).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, http.MethodPost, "/graphql", `{}`).Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/health", "").Code)
}
