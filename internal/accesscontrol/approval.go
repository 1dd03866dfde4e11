package accesscontrol

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// approvalTTL is how long an approval request stays resolvable.
const approvalTTL = 24 * time.Hour

// ApprovalStatus is the state of an approval request.
type ApprovalStatus int

const (
	ApprovalPending ApprovalStatus = iota
	ApprovalApproved
	ApprovalDenied
	ApprovalExpiredStatus
)

func (s ApprovalStatus) String() string {
	switch s {
	case ApprovalPending:
		return "pending"
	case ApprovalApproved:
		return "approved"
	case ApprovalDenied:
		return "denied"
	case ApprovalExpiredStatus:
		return "expired"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the status as its string form.
func (s ApprovalStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// ApprovalRequest is a pending, time-boxed record awaiting out-of-band human
// resolution. Created by the manager on a RequireApproval decision.
type ApprovalRequest struct {
	ID              string         `json:"id"`
	RequestingAgent string         `json:"requesting_agent"`
	ResourceID      string         `json:"resource_id"`
	ResourceType    ResourceType   `json:"resource_type"`
	Action          ActionType     `json:"action"`
	Status          ApprovalStatus `json:"status"`
	ResolvedBy      string         `json:"resolved_by,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	ExpiresAt       time.Time      `json:"expires_at"`
	ResolvedAt      time.Time      `json:"resolved_at,omitzero"`
}

// approvalID derives the request id from (agent, resource, timestamp):
// SHA-256 truncated to 16 hex characters. Two identical requests inside the
// same timestamp granularity collide; at sub-second throughput per agent
// and resource that is a documented boundary of the scheme, not a bug to
// paper over here.
func approvalID(agent, resource string, at time.Time) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%s:%s", agent, resource, at.Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])[:16]
}

func newApprovalRequest(actx *AccessContext) *ApprovalRequest {
	return &ApprovalRequest{
		ID:              approvalID(actx.RequestingAgent, actx.TargetResource, actx.Timestamp),
		RequestingAgent: actx.RequestingAgent,
		ResourceID:      actx.TargetResource,
		ResourceType:    actx.ResourceType,
		Action:          actx.Action,
		Status:          ApprovalPending,
		CreatedAt:       actx.Timestamp,
		ExpiresAt:       actx.Timestamp.Add(approvalTTL),
	}
}
