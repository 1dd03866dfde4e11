package storage

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/tmws-ai/tmws/internal/accesscontrol"
	"github.com/tmws-ai/tmws/internal/config"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	cfg := &config.StorageConfig{
		Driver: DriverSQLite,
		SQLite: &config.SQLiteStorageConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	}
	db, err := Open(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(&config.StorageConfig{Driver: "oracle"}, slog.New(slog.DiscardHandler))
	if err == nil {
		t.Fatal("unknown driver must fail")
	}
}

func TestAuditRepository_AppendAndQuery(t *testing.T) {
	db := openTestDB(t)
	repo := NewAuditRepository(db.GormDB())

	now := time.Now().UTC().Truncate(time.Second)
	entries := []accesscontrol.AuditEntry{
		{
			Timestamp:       now.Add(-2 * time.Minute),
			RequestingAgent: "worker-007",
			ResourceID:      "mem-42",
			ResourceType:    accesscontrol.ResourceMemory,
			Action:          accesscontrol.ActionRead,
			Decision:        accesscontrol.DecisionAllow,
			ResourceMetadata: map[string]any{
				"agent_id": "worker-007",
			},
		},
		{
			Timestamp:       now.Add(-time.Minute),
			RequestingAgent: "worker-008",
			ResourceID:      "task-9",
			ResourceType:    accesscontrol.ResourceTask,
			Action:          accesscontrol.ActionShare,
			Decision:        accesscontrol.DecisionDeny,
		},
	}
	for _, e := range entries {
		if err := repo.Append(context.Background(), e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := repo.Query(context.Background(), accesscontrol.AuditFilter{}, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("entries = %d, want 2", len(got))
	}
	// Newest first.
	if got[0].RequestingAgent != "worker-008" {
		t.Errorf("first = %s, want worker-008", got[0].RequestingAgent)
	}
	if got[1].ResourceMetadata["agent_id"] != "worker-007" {
		t.Errorf("metadata round trip = %v", got[1].ResourceMetadata)
	}
}

func TestAuditRepository_Filters(t *testing.T) {
	db := openTestDB(t)
	repo := NewAuditRepository(db.GormDB())

	now := time.Now().UTC()
	seed := []struct {
		agent    string
		decision accesscontrol.AccessDecision
	}{
		{"worker-007", accesscontrol.DecisionAllow},
		{"worker-007", accesscontrol.DecisionDeny},
		{"worker-008", accesscontrol.DecisionDeny},
	}
	for i, s := range seed {
		entry := accesscontrol.AuditEntry{
			Timestamp:       now.Add(time.Duration(i) * time.Second),
			RequestingAgent: s.agent,
			ResourceID:      "r",
			ResourceType:    accesscontrol.ResourceMemory,
			Action:          accesscontrol.ActionRead,
			Decision:        s.decision,
		}
		if err := repo.Append(context.Background(), entry); err != nil {
			t.Fatal(err)
		}
	}

	denied, err := repo.Query(context.Background(), accesscontrol.AuditFilter{Decision: "deny"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(denied) != 2 {
		t.Errorf("deny filter = %d entries, want 2", len(denied))
	}

	both, err := repo.Query(context.Background(),
		accesscontrol.AuditFilter{AgentID: "worker-007", Decision: "deny"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(both) != 1 {
		t.Errorf("combined filter = %d entries, want 1", len(both))
	}
}

func TestDB_Ping(t *testing.T) {
	db := openTestDB(t)
	if err := db.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if db.Driver() != DriverSQLite {
		t.Errorf("driver = %q, want sqlite", db.Driver())
	}
}
