// Package router wires up all gateway routes and applies the middleware
// chain (RequestID → Metrics → CORS → RateLimit).
package router

import (
	"net/http"
	"time"

	gwhandler "github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/gateway/handler"
	gwmw "github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/gateway/middleware"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/gateway/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/middleware"
)

const adminTimeout = 30 * time.Second

// Options selects optional routes and middleware settings.
type Options struct {
	// Explorer enables GET /graphql; it is off in production.
	Explorer    bool
	ServiceName string
	CORSOrigins []string
	Limiter     *ratelimit.Limiter
	Metrics     *metrics.Metrics
	Checker     *health.Checker
}

// New builds the full gateway HTTP handler with all routes and middleware.
//
// Route table:
//
//	GET    /health               → liveness, always 200
//	GET    /health/detailed      → mode, subgraph health, active schema
//	GET    /health/ready         → readiness (mode + enabled dependencies)
//	POST   /graphql              → federated execution
//	GET    /graphql              → explorer (non-production only)
//	POST   /admin/compose        → forced composition pass
//	GET    /admin/compositions   → composition history
//	DELETE /admin/sdl-cache      → drop cached subgraph SDL
//
// Middleware chain (outermost first):
//
//	RequestID → Metrics → CORS → RateLimit → handler
func New(h *gwhandler.Handler, opts Options) http.Handler {
	mux := http.NewServeMux()

	// Health
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /health/detailed", h.HealthDetailed)
	if opts.Checker != nil {
		mux.HandleFunc("GET /health/ready", opts.Checker.ReadyHandler())
	}

	// GraphQL
	mux.HandleFunc("POST /graphql", h.GraphQL)
	if opts.Explorer {
		mux.Handle("GET /graphql", gwhandler.Explorer(opts.ServiceName, "/graphql"))
	}

	// Admin
	admin := pkgmw.Timeout(adminTimeout)
	mux.Handle("POST /admin/compose", admin(http.HandlerFunc(h.Compose)))
	mux.Handle("GET /admin/compositions", admin(http.HandlerFunc(h.ListCompositions)))
	mux.Handle("DELETE /admin/sdl-cache", admin(http.HandlerFunc(h.PurgeSDLCache)))

	// Middleware chain, applied inside-out.
	var chain http.Handler = mux
	chain = gwmw.RateLimit(opts.Limiter)(chain)
	chain = gwmw.CORS(gwmw.DefaultCORSConfig(opts.CORSOrigins))(chain)
	if opts.Metrics != nil {
		chain = pkgmw.Metrics(opts.Metrics)(chain)
	}
	chain = pkgmw.RequestID(chain)

	return chain
}
