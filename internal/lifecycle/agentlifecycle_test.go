package lifecycle

import (
	"testing"

	"github.com/haasonsaas/nexus/internal/bus"
	"github.com/haasonsaas/nexus/internal/concurrency"
	"github.com/haasonsaas/nexus/internal/contacts"
	"github.com/haasonsaas/nexus/internal/conversation"
	"github.com/haasonsaas/nexus/internal/orgstate"
	"github.com/haasonsaas/nexus/pkg/models"
)

type fakeWorkspaces struct {
	assigned map[string]string
}

func newFakeWorkspaces() *fakeWorkspaces {
	return &fakeWorkspaces{assigned: make(map[string]string)}
}

func (f *fakeWorkspaces) Assign(agentID string) (string, error) {
	id := "ws-" + agentID
	f.assigned[agentID] = id
	return id, nil
}

func newTestLifecycle(t *testing.T) (*Lifecycle, *orgstate.OrgState, *bus.Bus) {
	t.Helper()
	org := orgstate.New(nil, nil)
	org.Bootstrap()
	states := NewStateMachine()
	contactsReg := contacts.New()
	b := bus.New(nil)
	conv := conversation.New(nil, 1000, conversation.DefaultThresholds())
	conc := concurrency.New(2)
	ws := newFakeWorkspaces()

	lc := New(org, states, contactsReg, b, conv, conc, ws, nil)
	b.SetStatusOracle(func(agentID string) models.ComputeStatus {
		return states.Status(agentID)
	})
	return lc, org, b
}

func TestSpawnRegistersAgentAndContacts(t *testing.T) {
	lc, org, _ := newTestLifecycle(t)
	role, _ := org.CreateRole("clerk", "prompt", nil, models.ReservedRoot)

	meta, err := lc.Spawn(models.ReservedRoot, role.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.WorkspaceID == "" {
		t.Fatal("expected workspace assigned for agent spawned under root")
	}
	if lc.states.Status(meta.ID) != models.StatusIdle {
		t.Fatal("expected new agent registered idle")
	}
	if !lc.contactsReg.IsContactKnown(meta.ID, models.ReservedRoot) {
		t.Fatal("expected parent seeded as known contact")
	}
}

func TestSpawnWithTaskSendsMessage(t *testing.T) {
	lc, org, b := newTestLifecycle(t)
	role, _ := org.CreateRole("clerk", "prompt", nil, models.ReservedRoot)

	res, err := lc.SpawnWithTask(models.ReservedRoot, role.ID, "handle billing", "please start")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.MessageID == "" {
		t.Fatal("expected a message id")
	}
	if b.QueueDepth(res.ID) != 1 {
		t.Fatal("expected initial message queued for new agent")
	}
}

func TestTerminateRequiresAncestry(t *testing.T) {
	lc, org, _ := newTestLifecycle(t)
	role, _ := org.CreateRole("clerk", "prompt", nil, models.ReservedRoot)
	a, _ := lc.Spawn(models.ReservedRoot, role.ID)
	b2, _ := lc.Spawn(models.ReservedRoot, role.ID)

	if _, err := lc.Terminate(a.ID, b2.ID, "unrelated"); err != ErrNotAuthorized {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestTerminateSelfTargetingRejected(t *testing.T) {
	lc, org, _ := newTestLifecycle(t)
	role, _ := org.CreateRole("clerk", "prompt", nil, models.ReservedRoot)
	a, _ := lc.Spawn(models.ReservedRoot, role.ID)

	if _, err := lc.Terminate(a.ID, a.ID, "self"); err != ErrNotAuthorized {
		t.Fatalf("expected ErrNotAuthorized for self-targeting terminate, got %v", err)
	}
}

func TestAbortSelfTargetingRejected(t *testing.T) {
	lc, org, _ := newTestLifecycle(t)
	role, _ := org.CreateRole("clerk", "prompt", nil, models.ReservedRoot)
	a, _ := lc.Spawn(models.ReservedRoot, role.ID)

	if err := lc.Abort(a.ID, a.ID, false); err != ErrNotAuthorized {
		t.Fatalf("expected ErrNotAuthorized for self-targeting abort, got %v", err)
	}
}

func TestTerminateReservedAgentRejected(t *testing.T) {
	lc, _, _ := newTestLifecycle(t)
	if _, err := lc.Terminate(models.ReservedRoot, models.ReservedUser, ""); err != ErrReservedAgent {
		t.Fatalf("expected ErrReservedAgent, got %v", err)
	}
}

func TestTerminateCascadesAndCleansUp(t *testing.T) {
	lc, org, b := newTestLifecycle(t)
	role, _ := org.CreateRole("clerk", "prompt", nil, models.ReservedRoot)
	parent, _ := lc.Spawn(models.ReservedRoot, role.ID)
	child, _ := lc.Spawn(parent.ID, role.ID)

	res, err := lc.Terminate(models.ReservedRoot, parent.ID, "done")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.OK || res.TerminatedAgentID != parent.ID {
		t.Fatalf("unexpected result: %+v", res)
	}

	meta, _ := org.GetAgent(parent.ID)
	if meta.Status != models.AgentTerminated {
		t.Fatal("expected parent tombstoned")
	}
	childMeta, _ := org.GetAgent(child.ID)
	if childMeta.Status != models.AgentTerminated {
		t.Fatal("expected child tombstoned")
	}
	if b.QueueDepth(parent.ID) != 0 || b.QueueDepth(child.ID) != 0 {
		t.Fatal("expected queues cleared on termination")
	}
	if lc.conversations.Exists(parent.ID) {
		t.Fatal("expected conversation deleted")
	}
}

func TestAbortRequiresAncestry(t *testing.T) {
	lc, org, _ := newTestLifecycle(t)
	role, _ := org.CreateRole("clerk", "prompt", nil, models.ReservedRoot)
	a, _ := lc.Spawn(models.ReservedRoot, role.ID)
	b2, _ := lc.Spawn(models.ReservedRoot, role.ID)

	if err := lc.Abort(a.ID, b2.ID, false); err != ErrNotAuthorized {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

// TestAbortWhileWaitingLLMRejectsSubsequentSend exercises Abort through a
// real entry point (Lifecycle, not the state machine directly): aborting an
// agent mid-turn clears its queue and leaves it unable to accept new sends.
func TestAbortWhileWaitingLLMRejectsSubsequentSend(t *testing.T) {
	lc, org, b := newTestLifecycle(t)
	role, _ := org.CreateRole("clerk", "prompt", nil, models.ReservedRoot)
	a, _ := lc.Spawn(models.ReservedRoot, role.ID)

	lc.states.Transition(a.ID, models.StatusProcessing)
	lc.states.Transition(a.ID, models.StatusWaitingLLM)

	if err := lc.Abort(models.ReservedRoot, a.ID, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lc.states.Status(a.ID) != models.StatusStopping {
		t.Fatalf("expected stopping, got %s", lc.states.Status(a.ID))
	}

	res := b.Send(bus.SendRequest{From: models.ReservedRoot, To: a.ID, Payload: models.Payload{Text: "hi"}})
	if !res.Rejected || res.Reason != "agent_stopping" {
		t.Fatalf("expected rejection with agent_stopping, got %+v", res)
	}
	if b.QueueDepth(a.ID) != 0 {
		t.Fatal("expected queue cleared")
	}
}

func TestAbortIsIdempotent(t *testing.T) {
	lc, org, _ := newTestLifecycle(t)
	role, _ := org.CreateRole("clerk", "prompt", nil, models.ReservedRoot)
	a, _ := lc.Spawn(models.ReservedRoot, role.ID)
	lc.states.Transition(a.ID, models.StatusProcessing)
	lc.states.Transition(a.ID, models.StatusWaitingLLM)

	if err := lc.Abort(models.ReservedRoot, a.ID, false); err != nil {
		t.Fatalf("first abort: unexpected error: %v", err)
	}
	if err := lc.Abort(models.ReservedRoot, a.ID, false); err != nil {
		t.Fatalf("second abort: unexpected error: %v", err)
	}
	if lc.states.Status(a.ID) != models.StatusStopping {
		t.Fatalf("expected stopping after repeated abort, got %s", lc.states.Status(a.ID))
	}
}

func TestFindWorkspaceIdForAgentWalksAncestors(t *testing.T) {
	lc, org, _ := newTestLifecycle(t)
	role, _ := org.CreateRole("clerk", "prompt", nil, models.ReservedRoot)
	parent, _ := lc.Spawn(models.ReservedRoot, role.ID)
	child, _ := lc.Spawn(parent.ID, role.ID)

	if got := lc.FindWorkspaceIdForAgent(child.ID); got != parent.WorkspaceID {
		t.Fatalf("expected %q, got %q", parent.WorkspaceID, got)
	}
}
