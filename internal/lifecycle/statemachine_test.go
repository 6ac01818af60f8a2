package lifecycle

import (
	"testing"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

func TestDefaultStatusIsIdle(t *testing.T) {
	sm := NewStateMachine()
	sm.Register("a")
	if sm.Status("a") != models.StatusIdle {
		t.Fatalf("expected idle, got %s", sm.Status("a"))
	}
}

func TestValidDispatchCycle(t *testing.T) {
	sm := NewStateMachine()
	sm.Register("a")

	if err := sm.Transition("a", models.StatusProcessing); err != nil {
		t.Fatalf("idle->processing should be allowed: %v", err)
	}
	if err := sm.Transition("a", models.StatusWaitingLLM); err != nil {
		t.Fatalf("processing->waiting_llm should be allowed: %v", err)
	}
	if err := sm.Transition("a", models.StatusProcessing); err != nil {
		t.Fatalf("waiting_llm->processing should be allowed: %v", err)
	}
	if err := sm.Transition("a", models.StatusIdle); err != nil {
		t.Fatalf("processing->idle (loop end) should be allowed: %v", err)
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	sm := NewStateMachine()
	sm.Register("a")
	// idle -> waiting_llm directly (skipping processing) is not in the diagram.
	if err := sm.Transition("a", models.StatusWaitingLLM); err == nil {
		t.Fatal("expected invalid transition error")
	}
}

func TestAbortOnlyFromActiveStatesWithoutCascade(t *testing.T) {
	sm := NewStateMachine()
	sm.Register("a")
	if err := sm.Abort("a", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sm.Status("a") != models.StatusIdle {
		t.Fatal("idle agent must not move to stopping without cascade")
	}

	sm.Transition("a", models.StatusProcessing)
	sm.Transition("a", models.StatusWaitingLLM)
	if err := sm.Abort("a", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sm.Status("a") != models.StatusStopping {
		t.Fatalf("expected stopping, got %s", sm.Status("a"))
	}
}

func TestAbortCascadeAcceptsIdle(t *testing.T) {
	sm := NewStateMachine()
	sm.Register("a")
	if err := sm.Abort("a", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sm.Status("a") != models.StatusStopping {
		t.Fatalf("expected stopping, got %s", sm.Status("a"))
	}
}

func TestOnEnterStoppingHookClearsQueue(t *testing.T) {
	sm := NewStateMachine()
	sm.Register("a")
	sm.Transition("a", models.StatusProcessing)
	sm.Transition("a", models.StatusWaitingLLM)

	cleared := false
	sm.OnEnterStopping(func(agentID string, from, to models.ComputeStatus) {
		cleared = true
	})
	sm.Transition("a", models.StatusStopping)
	if !cleared {
		t.Fatal("expected onStopping hook to fire")
	}
}

func TestCheckIdleAgentsIsOneShot(t *testing.T) {
	sm := NewStateMachine()
	sm.Register("a")
	// Force lastActivity into the past by waiting past a tiny threshold.
	time.Sleep(5 * time.Millisecond)

	warned := sm.CheckIdleAgents(1 * time.Millisecond)
	if len(warned) != 1 || warned[0] != "a" {
		t.Fatalf("expected a warned, got %v", warned)
	}

	warned = sm.CheckIdleAgents(1 * time.Millisecond)
	if len(warned) != 0 {
		t.Fatalf("expected no repeat warning, got %v", warned)
	}

	sm.UpdateActivity("a")
	time.Sleep(5 * time.Millisecond)
	warned = sm.CheckIdleAgents(1 * time.Millisecond)
	if len(warned) != 1 {
		t.Fatal("expected warning to resume after activity")
	}
}
