package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/federation/composer"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/federation/executor"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/federation/planner"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/federation/subgraph"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/federation/supervisor"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/history"
	gwerrors "github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/metrics"
)

// GraphQL error codes produced by the gateway itself.
const (
	CodeServiceDegraded  = "SERVICE_DEGRADED"
	CodeBadRequest       = "BAD_REQUEST"
	CodeValidationFailed = "GRAPHQL_VALIDATION_FAILED"
)

// Config holds the service identity reported by the health endpoints.
type Config struct {
	ServiceName     string
	Version         string
	MaxRequestBytes int64
}

// Composer is the schema side the handler needs.
type Composer interface {
	Active() *composer.ComposedSchema
	Compose(ctx context.Context, reason string) *composer.Outcome
}

// HealthSource exposes the prober's cached snapshot.
type HealthSource interface {
	Snapshot() *subgraph.Snapshot
}

// ModeSource exposes the supervisor's current mode.
type ModeSource interface {
	Mode() supervisor.Mode
}

// Executor runs query plans.
type Executor interface {
	Execute(ctx context.Context, plan *planner.QueryPlan) *executor.Response
}

// Handler implements the gateway's HTTP endpoints. Every read is served from
// cached state; no handler probes a subgraph or waits for a composition
// except the explicit admin trigger.
type Handler struct {
	cfg      Config
	composer Composer
	health   HealthSource
	mode     ModeSource
	exec     Executor
	history  history.Store
	sdlCache composer.SDLStore
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Handler. history and sdlCache may be nil, which disables the
// corresponding admin endpoints.
func New(cfg Config, c Composer, hs HealthSource, ms ModeSource, exec Executor, hist history.Store, sdlCache composer.SDLStore, m *metrics.Metrics) *Handler {
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = 1 << 20
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Handler{
		cfg:      cfg,
		composer: c,
		health:   hs,
		mode:     ms,
		exec:     exec,
		history:  hist,
		sdlCache: sdlCache,
		metrics:  m,
		logger:   slog.Default().With("component", "gateway-handler"),
		now:      time.Now,
	}
}

// ---------- Health ----------

// Health is the liveness endpoint. It answers 200 in every mode.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"service":   h.cfg.ServiceName,
		"version":   h.cfg.Version,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

type schemaInfo struct {
	Version           int64             `json:"version"`
	Digest            string            `json:"digest"`
	IncludedSubgraphs []string          `json:"includedSubgraphs"`
	Excluded          map[string]string `json:"excluded,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
}

type detailedHealth struct {
	Overall   supervisor.Mode         `json:"overall"`
	Subgraphs []subgraph.HealthStatus `json:"subgraphs"`
	Schema    *schemaInfo             `json:"schema"`
	Timestamp string                  `json:"timestamp"`
}

// HealthDetailed reports the gateway mode, each subgraph's cached health and
// the active schema version.
func (h *Handler) HealthDetailed(w http.ResponseWriter, r *http.Request) {
	out := detailedHealth{
		Overall:   h.mode.Mode(),
		Subgraphs: h.health.Snapshot().Sorted(),
		Timestamp: h.now().UTC().Format(time.RFC3339),
	}
	if out.Subgraphs == nil {
		out.Subgraphs = []subgraph.HealthStatus{}
	}
	if s := h.composer.Active(); s != nil {
		out.Schema = &schemaInfo{
			Version:           s.Version,
			Digest:            s.Digest,
			IncludedSubgraphs: s.IncludedSubgraphs,
			Excluded:          s.Excluded,
			CreatedAt:         s.CreatedAt,
		}
	}
	h.writeJSON(w, http.StatusOK, out)
}

// ---------- GraphQL ----------

// GraphQL executes a federated operation against the schema snapshot active
// when the request arrived.
func (h *Handler) GraphQL(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	if h.mode.Mode() == supervisor.Minimal {
		h.metrics.FederatedQueries.WithLabelValues("rejected").Inc()
		h.writeGraphQLError(w, http.StatusServiceUnavailable, "gateway is in MINIMAL mode: no subgraph schema is available", CodeServiceDegraded)
		return
	}
	schema := h.composer.Active()
	if schema == nil {
		h.metrics.FederatedQueries.WithLabelValues("rejected").Inc()
		h.writeGraphQLError(w, http.StatusServiceUnavailable, "no composed schema is available", CodeServiceDegraded)
		return
	}

	var req planner.Request
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.metrics.FederatedQueries.WithLabelValues("invalid").Inc()
		msg := "invalid request body"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = "request body too large"
		}
		err = fmt.Errorf("%w: %s: %v", gwerrors.ErrInvalidInput, msg, err)
		log.Debug("request body rejected", "error", err)
		h.writeGraphQLError(w, gwerrors.HTTPStatusCode(err), msg, CodeBadRequest)
		return
	}

	plan, errs := planner.Plan(schema, req)
	if len(errs) > 0 {
		h.metrics.FederatedQueries.WithLabelValues("invalid").Inc()
		for _, e := range errs {
			if e.Extensions == nil {
				e.Extensions = map[string]any{}
			}
			if _, ok := e.Extensions["code"]; !ok {
				e.Extensions["code"] = CodeValidationFailed
			}
		}
		log.Debug("operation rejected", "errors", len(errs), "schema_version", schema.Version)
		h.writeJSON(w, http.StatusBadRequest, executor.ErrorResponse(errs))
		return
	}

	resp := h.exec.Execute(r.Context(), plan)
	if resp.Partial() {
		log.Info("federated operation completed with errors",
			"errors", len(resp.Errors),
			"schema_version", schema.Version,
			"error", gwerrors.ErrPartialExecution,
		)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// ---------- Admin ----------

// Compose forces a composition pass and reports its outcome. A pass that
// outlives the request keeps running and is answered with 202.
func (h *Handler) Compose(w http.ResponseWriter, r *http.Request) {
	out := h.composer.Compose(r.Context(), "admin request")
	status := http.StatusOK
	if out.Result == composer.OutcomePending {
		status = http.StatusAccepted
	}
	h.writeJSON(w, status, out)
}

// ListCompositions returns the most recent composition records.
func (h *Handler) ListCompositions(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.writeError(w, http.StatusNotFound, "composition history is disabled")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			h.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	records, err := h.history.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list compositions", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list compositions")
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"compositions": records,
		"count":        len(records),
	})
}

// PurgeSDLCache drops every cached subgraph SDL.
func (h *Handler) PurgeSDLCache(w http.ResponseWriter, r *http.Request) {
	if h.sdlCache == nil {
		h.writeError(w, http.StatusNotFound, "sdl cache is disabled")
		return
	}
	n, err := h.sdlCache.Purge(r.Context())
	if err != nil {
		h.logger.Error("failed to purge sdl cache", "error", err)
		h.writeError(w, gwerrors.HTTPStatusCode(err), "failed to purge sdl cache")
		return
	}
	h.logger.Info("sdl cache purged", "entries", n)
	h.writeJSON(w, http.StatusOK, map[string]int64{"purged": n})
}

// ---------- Helpers ----------

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeGraphQLError answers with an errors-only GraphQL response.
func (h *Handler) writeGraphQLError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, executor.ErrorResponse(gqlerror.List{{
		Message:    message,
		Extensions: map[string]any{"code": code},
	}}))
}
