package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/haasonsaas/nexus/internal/orgstate"
	"github.com/haasonsaas/nexus/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadOrgStateRoundTrips(t *testing.T) {
	s := openTestStore(t)
	snap := &orgstate.Snapshot{
		Roles:  []*models.Role{{ID: "role-1", Name: "worker"}},
		Agents: []*models.AgentMeta{{ID: "agent-1", Status: models.AgentActive}},
	}
	if err := s.SaveOrgState(snap); err != nil {
		t.Fatalf("SaveOrgState: %v", err)
	}

	got, err := s.LoadOrgState()
	if err != nil {
		t.Fatalf("LoadOrgState: %v", err)
	}
	if len(got.Roles) != 1 || got.Roles[0].ID != "role-1" {
		t.Fatalf("expected round-tripped role, got %+v", got.Roles)
	}
}

func TestSaveOrgStateOverwritesPreviousSnapshot(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveOrgState(&orgstate.Snapshot{Roles: []*models.Role{{ID: "r1"}}}); err != nil {
		t.Fatalf("SaveOrgState: %v", err)
	}
	if err := s.SaveOrgState(&orgstate.Snapshot{Roles: []*models.Role{{ID: "r2"}}}); err != nil {
		t.Fatalf("SaveOrgState: %v", err)
	}

	got, err := s.LoadOrgState()
	if err != nil {
		t.Fatalf("LoadOrgState: %v", err)
	}
	if len(got.Roles) != 1 || got.Roles[0].ID != "r2" {
		t.Fatalf("expected latest snapshot to win, got %+v", got.Roles)
	}
}

func TestLoadOrgStateEmptyReturnsNilNoError(t *testing.T) {
	s := openTestStore(t)
	got, err := s.LoadOrgState()
	if err != nil {
		t.Fatalf("expected no error for empty org_state table, got %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil snapshot, got %+v", got)
	}
}

func TestConversationRoundTripAndDelete(t *testing.T) {
	s := openTestStore(t)
	turns := []models.Turn{{Role: models.TurnUser, Content: "hi"}}
	usage := models.TokenUsage{TotalTokens: 7}

	if err := s.SaveConversation("agent-1", turns, usage); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}
	gotTurns, gotUsage, ok, err := s.LoadConversation("agent-1")
	if err != nil || !ok {
		t.Fatalf("LoadConversation: ok=%v err=%v", ok, err)
	}
	if len(gotTurns) != 1 || gotTurns[0].Content != "hi" {
		t.Fatalf("expected round-tripped turn, got %+v", gotTurns)
	}
	if gotUsage.TotalTokens != 7 {
		t.Fatalf("expected round-tripped usage, got %+v", gotUsage)
	}

	if err := s.DeleteConversation("agent-1"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	_, _, ok, err = s.LoadConversation("agent-1")
	if err != nil {
		t.Fatalf("LoadConversation after delete: %v", err)
	}
	if ok {
		t.Fatalf("expected conversation gone after delete")
	}
}

func TestListConversationIDs(t *testing.T) {
	s := openTestStore(t)
	for _, id := range []string{"agent-1", "agent-2"} {
		if err := s.SaveConversation(id, nil, models.TokenUsage{}); err != nil {
			t.Fatalf("SaveConversation(%s): %v", id, err)
		}
	}
	ids, err := s.ListConversationIDs()
	if err != nil {
		t.Fatalf("ListConversationIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %v", ids)
	}
}
