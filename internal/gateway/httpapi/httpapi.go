// Package httpapi implements the HTTP API gateway for TMWS.
//
// Security:
//   - API key authentication on every request (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-caller rate limiting via token bucket
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/okapi"

	"github.com/tmws-ai/tmws/internal/accesscontrol"
	"github.com/tmws-ai/tmws/internal/observability"
	"github.com/tmws-ai/tmws/internal/ratelimit"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// AccessManager is the gateway's view of the access-control core.
// Both the plain manager and its instrumented wrapper satisfy it.
type AccessManager interface {
	CheckAccess(ctx context.Context, agent, resourceID string, rt accesscontrol.ResourceType, action accesscontrol.ActionType, metadata map[string]any) accesscontrol.Outcome
	AddPolicy(p *accesscontrol.AccessPolicy) error
	RemovePolicy(policyID string) bool
	Policies() []*accesscontrol.AccessPolicy
	GetStats() accesscontrol.Stats
	AuditLog(limit int, filter accesscontrol.AuditFilter) []accesscontrol.AuditEntry
	GetApproval(id string) (*accesscontrol.ApprovalRequest, error)
	ResolveApproval(id, resolverID string, approve bool) error
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIKeys        map[string]string // API key → caller ID mapping. Empty = no auth (dev only).
	MaxRequestSize int64             // Maximum request body in bytes. 0 = 1 MB default.

	// AuditStore serves deep audit history beyond the in-memory tail.
	// Nil when the deployment runs without durable storage.
	AuditStore AuditStore

	// Observability
	MetricsRegistry *prometheus.Registry // Custom Prometheus registry for /metrics.
	MetricsPath     string               // Path for metrics endpoint. Default: "/metrics".
	Probe           *observability.Probe // Readiness probe for /readyz.
	Metrics         *observability.MetricsCollector
	Tracer          trace.Tracer
}

// AuditStore is the gateway's view of durable audit storage.
type AuditStore interface {
	Query(ctx context.Context, filter accesscontrol.AuditFilter, limit int) ([]accesscontrol.AuditEntry, error)
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config  Config
	manager AccessManager
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	server  *http.Server

	okapi *okapi.Okapi
	group *okapi.Group
}

// NewGateway creates an HTTP API gateway over the access-control manager.
func NewGateway(cfg Config, manager AccessManager, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = defaultMaxRequestSize
	}
	return &Gateway{
		config:  cfg,
		manager: manager,
		limiter: rl,
		logger:  logger,
		okapi:   okapi.New(okapi.WithMaxMultipartMemory(cfg.MaxRequestSize)),
	}
}

// WithOpenAPIDocs enables the OpenAPI docs UI.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "TMWS",
			Version: "v0.0.1",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
		return limitRequestBody(g.config.MaxRequestSize, next)
	})
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}

	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", g.authenticate)

	g.group.Post("/access/check", g.handleAccessCheck,
		okapi.DocSummary("Evaluate an access request"),
		okapi.DocTags("Access"),
		okapi.DocRequestBody(AccessCheckRequest{}),
		okapi.DocResponse(AccessCheckResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)

	g.group.Get("/policies", g.handlePolicyList,
		okapi.DocSummary("List installed access policies"),
		okapi.DocTags("Policies"),
		okapi.DocResponse([]PolicyResponse{}),
	)
	g.group.Post("/policies", g.handlePolicyCreate,
		okapi.DocSummary("Install a new access policy"),
		okapi.DocTags("Policies"),
		okapi.DocRequestBody(PolicyRequest{}),
		okapi.DocResponse(http.StatusCreated, PolicyResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)
	g.group.Delete("/policies/{id}", g.handlePolicyDelete,
		okapi.DocSummary("Remove an access policy"),
		okapi.DocTags("Policies"),
		okapi.DocPathParam("id", "string", "Policy ID"),
		okapi.DocResponse(map[string]string{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	g.group.Get("/stats", g.handleStats,
		okapi.DocSummary("Access statistics over the trailing 24 hours"),
		okapi.DocTags("Stats"),
		okapi.DocResponse(accesscontrol.Stats{}),
	)
	g.group.Get("/audit", g.handleAudit,
		okapi.DocSummary("Recent audit log entries, newest first"),
		okapi.DocTags("Audit"),
		okapi.DocResponse([]accesscontrol.AuditEntry{}),
	)

	g.group.Get("/approvals/{id}", g.handleApprovalGet,
		okapi.DocSummary("Get an approval request"),
		okapi.DocTags("Approvals"),
		okapi.DocPathParam("id", "string", "Approval ID"),
		okapi.DocResponse(accesscontrol.ApprovalRequest{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Post("/approvals/{id}/approve", g.handleApprovalApprove,
		okapi.DocSummary("Approve a pending approval request"),
		okapi.DocTags("Approvals"),
		okapi.DocPathParam("id", "string", "Approval ID"),
		okapi.DocResponse(ApprovalResolveResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
	)
	g.group.Post("/approvals/{id}/deny", g.handleApprovalDeny,
		okapi.DocSummary("Deny a pending approval request"),
		okapi.DocTags("Approvals"),
		okapi.DocPathParam("id", "string", "Approval ID"),
		okapi.DocResponse(ApprovalResolveResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
	)

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if len(g.config.APIKeys) == 0 {
			c.Set("callerID", "anonymous")
			return next(c)
		}

		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		callerID := ""
		for key, caller := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				callerID = caller
			}
		}
		if callerID == "" {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("callerID", callerID)
		return next(c)
	}
}

// HealthResponse is the JSON response for the health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.Probe == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	report := g.config.Probe.Run(c.Context())
	code := http.StatusOK
	if report.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, report)
}

// limitRequestBody caps request bodies so oversized payloads fail at read
// time instead of being buffered whole.
func limitRequestBody(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		next.ServeHTTP(w, r)
	})
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
