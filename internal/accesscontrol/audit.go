package accesscontrol

import (
	"context"
	"sync"
	"time"
)

// AuditEntry is a single record in the append-only access log. One entry is
// written for every CheckAccess call, including ones that fail internally.
type AuditEntry struct {
	Timestamp        time.Time      `json:"timestamp"`
	RequestingAgent  string         `json:"requesting_agent"`
	ResourceID       string         `json:"resource_id"`
	ResourceType     ResourceType   `json:"resource_type"`
	Action           ActionType     `json:"action"`
	Decision         AccessDecision `json:"decision"`
	Source           string         `json:"source,omitempty"`
	ResourceMetadata map[string]any `json:"resource_metadata,omitempty"`
}

// AuditSink receives a copy of every audit entry for durable storage.
// The in-memory log is authoritative for Stats and abuse detection; sink
// failures are logged and never affect the decision already made.
type AuditSink interface {
	Append(ctx context.Context, entry AuditEntry) error
}

// AuditFilter narrows AuditLog results. Zero values match everything.
type AuditFilter struct {
	AgentID  string
	Decision string // String form of an AccessDecision.
}

// auditLog is the in-memory append-only store. Appends are atomic under the
// mutex; readers copy entries out so no caller ever observes a torn entry.
// The log grows without bound; rotation is the host process's concern.
type auditLog struct {
	mu      sync.RWMutex
	entries []AuditEntry
}

func (l *auditLog) append(entry AuditEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// recent returns up to limit entries matching the filter, newest first.
func (l *auditLog) recent(limit int, filter AuditFilter) []AuditEntry {
	if limit <= 0 {
		limit = 100
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]AuditEntry, 0, limit)
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := l.entries[i]
		if filter.AgentID != "" && e.RequestingAgent != filter.AgentID {
			continue
		}
		if filter.Decision != "" && e.Decision.String() != filter.Decision {
			continue
		}
		out = append(out, e)
	}
	return out
}

// since returns all entries with a timestamp after the cutoff.
func (l *auditLog) since(cutoff time.Time) []AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]AuditEntry, 0)
	for _, e := range l.entries {
		if e.Timestamp.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// tail returns a copy of the most recent n entries in append order.
func (l *auditLog) tail(n int) []AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	start := len(l.entries) - n
	if start < 0 {
		start = 0
	}
	out := make([]AuditEntry, len(l.entries)-start)
	copy(out, l.entries[start:])
	return out
}
