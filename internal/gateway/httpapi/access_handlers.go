package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jkaninda/okapi"

	"github.com/tmws-ai/tmws/internal/accesscontrol"
)

// AccessCheckRequest is the JSON body for POST /v1/access/check.
type AccessCheckRequest struct {
	AgentID          string         `json:"agent_id"`
	ResourceID       string         `json:"resource_id"`
	ResourceType     string         `json:"resource_type"`
	Action           string         `json:"action"`
	ResourceMetadata map[string]any `json:"resource_metadata,omitempty"`
}

// AccessCheckResponse is the JSON response for POST /v1/access/check.
type AccessCheckResponse struct {
	Status        string `json:"status"` // "granted", "pending" or "denied"
	Decision      string `json:"decision"`
	Monitored     bool   `json:"monitored,omitempty"`
	ApprovalID    string `json:"approval_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

func (g *Gateway) handleAccessCheck(c *okapi.Context) error {
	callerID := c.GetString("callerID")

	if g.limiter != nil {
		if err := g.limiter.Allow(callerID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req AccessCheckRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.AgentID == "" {
		return c.AbortBadRequest("agent_id is required")
	}
	if req.ResourceID == "" {
		return c.AbortBadRequest("resource_id is required")
	}
	rt, err := accesscontrol.ParseResourceType(req.ResourceType)
	if err != nil {
		return c.AbortBadRequest("unknown resource_type")
	}
	action, err := accesscontrol.ParseActionType(req.Action)
	if err != nil {
		return c.AbortBadRequest("unknown action")
	}

	correlationID := newCorrelationID()

	g.logger.Info("http access check",
		slog.String("caller", callerID),
		slog.String("agent", req.AgentID),
		slog.String("correlation_id", correlationID),
	)

	out := g.manager.CheckAccess(c.Context(), req.AgentID, req.ResourceID, rt, action, req.ResourceMetadata)

	return c.OK(AccessCheckResponse{
		Status:        out.Status.String(),
		Decision:      out.Decision.String(),
		Monitored:     out.Monitored,
		ApprovalID:    out.ApprovalID,
		Reason:        out.Reason,
		CorrelationID: correlationID,
	})
}

// PolicyRequest is the JSON body for POST /v1/policies.
type PolicyRequest struct {
	ID            string                    `json:"id"`
	Name          string                    `json:"name"`
	Description   string                    `json:"description,omitempty"`
	ResourceTypes []string                  `json:"resource_types"`
	Actions       []string                  `json:"actions"`
	AgentPatterns []string                  `json:"agent_patterns"`
	Conditions    []accesscontrol.Condition `json:"conditions,omitempty"`
	Decision      string                    `json:"decision"`
	Priority      int                       `json:"priority"`
	ExpiresAt     time.Time                 `json:"expires_at,omitzero"`
}

// PolicyResponse is the JSON form of an installed policy.
type PolicyResponse struct {
	ID            string                    `json:"id"`
	Name          string                    `json:"name"`
	Description   string                    `json:"description,omitempty"`
	ResourceTypes []string                  `json:"resource_types"`
	Actions       []string                  `json:"actions"`
	AgentPatterns []string                  `json:"agent_patterns"`
	Conditions    []accesscontrol.Condition `json:"conditions,omitempty"`
	Decision      string                    `json:"decision"`
	Priority      int                       `json:"priority"`
	CreatedBy     string                    `json:"created_by,omitempty"`
	CreatedAt     time.Time                 `json:"created_at"`
	ExpiresAt     time.Time                 `json:"expires_at,omitzero"`
	Active        bool                      `json:"active"`
}

func toPolicyResponse(p *accesscontrol.AccessPolicy) PolicyResponse {
	rts := make([]string, len(p.ResourceTypes))
	for i, rt := range p.ResourceTypes {
		rts[i] = string(rt)
	}
	acts := make([]string, len(p.Actions))
	for i, a := range p.Actions {
		acts[i] = string(a)
	}
	return PolicyResponse{
		ID:            p.ID,
		Name:          p.Name,
		Description:   p.Description,
		ResourceTypes: rts,
		Actions:       acts,
		AgentPatterns: p.AgentPatterns,
		Conditions:    p.Conditions,
		Decision:      p.Decision.String(),
		Priority:      p.Priority,
		CreatedBy:     p.CreatedBy,
		CreatedAt:     p.CreatedAt,
		ExpiresAt:     p.ExpiresAt,
		Active:        p.Active,
	}
}

func (g *Gateway) handlePolicyList(c *okapi.Context) error {
	policies := g.manager.Policies()
	out := make([]PolicyResponse, len(policies))
	for i, p := range policies {
		out[i] = toPolicyResponse(p)
	}
	return c.OK(out)
}

func (g *Gateway) handlePolicyCreate(c *okapi.Context) error {
	callerID := c.GetString("callerID")

	var req PolicyRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}

	decision, err := accesscontrol.ParseDecision(req.Decision)
	if err != nil {
		return c.AbortBadRequest("unknown decision")
	}
	rts := make([]accesscontrol.ResourceType, 0, len(req.ResourceTypes))
	for _, s := range req.ResourceTypes {
		rt, err := accesscontrol.ParseResourceType(s)
		if err != nil {
			return c.AbortBadRequest("unknown resource_type")
		}
		rts = append(rts, rt)
	}
	acts := make([]accesscontrol.ActionType, 0, len(req.Actions))
	for _, s := range req.Actions {
		at, err := accesscontrol.ParseActionType(s)
		if err != nil {
			return c.AbortBadRequest("unknown action")
		}
		acts = append(acts, at)
	}

	p := &accesscontrol.AccessPolicy{
		ID:            req.ID,
		Name:          req.Name,
		Description:   req.Description,
		ResourceTypes: rts,
		Actions:       acts,
		AgentPatterns: req.AgentPatterns,
		Conditions:    req.Conditions,
		Decision:      decision,
		Priority:      req.Priority,
		CreatedBy:     callerID,
		CreatedAt:     time.Now().UTC(),
		ExpiresAt:     req.ExpiresAt,
		Active:        true,
	}
	if err := g.manager.AddPolicy(p); err != nil {
		return c.AbortBadRequest(err.Error())
	}

	g.logger.Info("http policy created",
		slog.String("caller", callerID),
		slog.String("policy_id", p.ID),
	)
	return c.JSON(http.StatusCreated, toPolicyResponse(p))
}

func (g *Gateway) handlePolicyDelete(c *okapi.Context) error {
	id := c.Param("id")
	if !g.manager.RemovePolicy(id) {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "policy not found"})
	}
	return c.OK(map[string]string{"status": "removed"})
}

func (g *Gateway) handleStats(c *okapi.Context) error {
	return c.OK(g.manager.GetStats())
}

func (g *Gateway) handleAudit(c *okapi.Context) error {
	q := c.Request().URL.Query()

	limit := 100
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.AbortBadRequest("limit must be a positive integer")
		}
		limit = n
	}

	filter := accesscontrol.AuditFilter{
		AgentID:  q.Get("agent_id"),
		Decision: q.Get("decision"),
	}

	entries, err := g.auditEntries(c.Context(), q.Get("source"), limit, filter)
	switch {
	case errors.Is(err, errUnknownAuditSource), errors.Is(err, errDurableAuditDisabled):
		return c.AbortBadRequest(err.Error())
	case err != nil:
		g.logger.Error("durable audit query failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("audit query failed")
	}
	return c.OK(entries)
}

var (
	errUnknownAuditSource   = errors.New("unknown audit source")
	errDurableAuditDisabled = errors.New("durable audit storage not configured")
)

// auditEntries serves the in-memory tail by default; source=db reads the
// full history from durable storage when a store is configured.
func (g *Gateway) auditEntries(ctx context.Context, source string, limit int, filter accesscontrol.AuditFilter) ([]accesscontrol.AuditEntry, error) {
	switch source {
	case "", "memory":
		return g.manager.AuditLog(limit, filter), nil
	case "db":
		if g.config.AuditStore == nil {
			return nil, errDurableAuditDisabled
		}
		return g.config.AuditStore.Query(ctx, filter, limit)
	default:
		return nil, fmt.Errorf("%w %q", errUnknownAuditSource, source)
	}
}

func (g *Gateway) handleApprovalGet(c *okapi.Context) error {
	req, err := g.manager.GetApproval(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "approval not found"})
	}
	return c.OK(req)
}

// ApprovalResolveResponse is the JSON response after resolving an approval.
type ApprovalResolveResponse struct {
	ApprovalID string `json:"approval_id"`
	Status     string `json:"status"`
	ResolvedBy string `json:"resolved_by"`
}

func (g *Gateway) handleApprovalApprove(c *okapi.Context) error {
	return g.resolveApproval(c, true)
}

func (g *Gateway) handleApprovalDeny(c *okapi.Context) error {
	return g.resolveApproval(c, false)
}

func (g *Gateway) resolveApproval(c *okapi.Context, approve bool) error {
	callerID := c.GetString("callerID")
	id := c.Param("id")

	err := g.manager.ResolveApproval(id, callerID, approve)
	switch {
	case err == nil:
	case errors.Is(err, accesscontrol.ErrApprovalNotFound):
		return c.JSON(http.StatusNotFound, okapi.M{"error": "approval not found"})
	case errors.Is(err, accesscontrol.ErrApprovalExpired):
		return c.JSON(http.StatusGone, okapi.M{"error": "approval expired"})
	case errors.Is(err, accesscontrol.ErrApprovalResolved):
		return c.JSON(http.StatusConflict, okapi.M{"error": "approval already resolved"})
	default:
		return c.AbortInternalServerError("resolving approval failed")
	}

	req, err := g.manager.GetApproval(id)
	if err != nil {
		return c.AbortInternalServerError("resolving approval failed")
	}

	g.logger.Info("http approval resolved",
		slog.String("caller", callerID),
		slog.String("approval_id", id),
		slog.String("status", req.Status.String()),
	)
	return c.OK(ApprovalResolveResponse{
		ApprovalID: id,
		Status:     req.Status.String(),
		ResolvedBy: req.ResolvedBy,
	})
}
