package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tmws-ai/tmws/internal/accesscontrol"
)

// AuditRepository implements accesscontrol.AuditSink with GORM.
// Append-only: no Update or Delete methods exist on this type.
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates an AuditRepository.
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts a single audit entry. This is the only write method —
// immutability is enforced at the interface level.
func (r *AuditRepository) Append(ctx context.Context, entry accesscontrol.AuditEntry) error {
	model, err := toAuditModel(entry)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

// Query returns audit entries, newest first, optionally filtered by agent id
// and decision. Limit defaults to 100.
func (r *AuditRepository) Query(ctx context.Context, filter accesscontrol.AuditFilter, limit int) ([]accesscontrol.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	q := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit)

	if filter.AgentID != "" {
		q = q.Where("requesting_agent = ?", filter.AgentID)
	}
	if filter.Decision != "" {
		q = q.Where("decision = ?", filter.Decision)
	}

	var models []AuditRecordModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}

	entries := make([]accesscontrol.AuditEntry, len(models))
	for i := range models {
		entries[i] = toAuditEntry(&models[i])
	}
	return entries, nil
}

func toAuditModel(entry accesscontrol.AuditEntry) (AuditRecordModel, error) {
	metadata := "{}"
	if len(entry.ResourceMetadata) > 0 {
		raw, err := json.Marshal(entry.ResourceMetadata)
		if err != nil {
			return AuditRecordModel{}, fmt.Errorf("encoding audit metadata: %w", err)
		}
		metadata = string(raw)
	}
	return AuditRecordModel{
		ID:              uuid.New(),
		RequestingAgent: entry.RequestingAgent,
		ResourceID:      entry.ResourceID,
		ResourceType:    string(entry.ResourceType),
		Action:          string(entry.Action),
		Decision:        entry.Decision.String(),
		Source:          entry.Source,
		Metadata:        metadata,
		CreatedAt:       entry.Timestamp,
	}, nil
}

func toAuditEntry(m *AuditRecordModel) accesscontrol.AuditEntry {
	decision, _ := accesscontrol.ParseDecision(m.Decision)

	var metadata map[string]any
	_ = json.Unmarshal([]byte(m.Metadata), &metadata)

	return accesscontrol.AuditEntry{
		Timestamp:        m.CreatedAt,
		RequestingAgent:  m.RequestingAgent,
		ResourceID:       m.ResourceID,
		ResourceType:     accesscontrol.ResourceType(m.ResourceType),
		Action:           accesscontrol.ActionType(m.Action),
		Decision:         decision,
		Source:           m.Source,
		ResourceMetadata: metadata,
	}
}
