package toolexec

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/artifacts"
	"github.com/haasonsaas/nexus/internal/bus"
	"github.com/haasonsaas/nexus/internal/concurrency"
	"github.com/haasonsaas/nexus/internal/contacts"
	"github.com/haasonsaas/nexus/internal/conversation"
	"github.com/haasonsaas/nexus/internal/lifecycle"
	"github.com/haasonsaas/nexus/internal/orgstate"
	"github.com/haasonsaas/nexus/internal/workspace"
	"github.com/haasonsaas/nexus/pkg/models"
)

func newTestExecutor(t *testing.T) (*Executor, *orgstate.OrgState, *workspace.Manager) {
	t.Helper()
	org := orgstate.New(nil, nil)
	org.Bootstrap()
	states := lifecycle.NewStateMachine()
	contactsReg := contacts.New()
	b := bus.New(nil)
	conv := conversation.New(nil, 1000, conversation.DefaultThresholds())
	conc := concurrency.New(2)
	ws := workspace.NewManager(t.TempDir())
	lc := lifecycle.New(org, states, contactsReg, b, conv, conc, ws, nil)
	b.SetStatusOracle(func(agentID string) models.ComputeStatus { return states.Status(agentID) })

	repo := artifacts.NewMemoryRepository(nil, nil, nil)

	exec := New(org, contactsReg, b, conv, lc, repo, ws, nil)
	return exec, org, ws
}

func TestDispatchUnknownTool(t *testing.T) {
	exec, _, _ := newTestExecutor(t)
	out := exec.Dispatch(context.Background(), ExecContext{CallerAgentID: models.ReservedRoot}, "does_not_exist", nil)
	var res errResult
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Error != "tool_not_found" {
		t.Fatalf("expected tool_not_found, got %q", res.Error)
	}
}

func TestDispatchRecoversPanicAsToolExecutionFailed(t *testing.T) {
	exec, _, _ := newTestExecutor(t)
	exec.register("panics", "org", func(ctx context.Context, ectx ExecContext, e *Executor, args json.RawMessage) (any, error) {
		panic("boom")
	})

	out := exec.Dispatch(context.Background(), ExecContext{CallerAgentID: models.ReservedRoot}, "panics", nil)
	var res errResult
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Error != models.ErrKindToolExecutionFailed {
		t.Fatalf("expected %q, got %q", models.ErrKindToolExecutionFailed, res.Error)
	}
}

func TestDispatchTimeoutReportsToolExecutionFailed(t *testing.T) {
	exec, _, _ := newTestExecutor(t)
	exec.Timeout = time.Millisecond
	exec.register("slow", "org", func(ctx context.Context, ectx ExecContext, e *Executor, args json.RawMessage) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	out := exec.Dispatch(context.Background(), ExecContext{CallerAgentID: models.ReservedRoot}, "slow", nil)
	var res errResult
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Error != models.ErrKindToolExecutionFailed {
		t.Fatalf("expected %q, got %q", models.ErrKindToolExecutionFailed, res.Error)
	}
}

func TestRootPinnedToOrgGroup(t *testing.T) {
	exec, _, _ := newTestExecutor(t)
	ectx := ExecContext{CallerAgentID: models.ReservedRoot}

	out := exec.Dispatch(context.Background(), ectx, "read_file", json.RawMessage(`{"path":"a.txt"}`))
	var res errResult
	json.Unmarshal(out, &res)
	if res.Error != "tool_not_available" {
		t.Fatalf("expected root rejected from workspace group, got %q", res.Error)
	}

	out = exec.Dispatch(context.Background(), ectx, "create_role", json.RawMessage(`{"name":"clerk","rolePrompt":"p"}`))
	var role models.Role
	if err := json.Unmarshal(out, &role); err != nil {
		t.Fatalf("unmarshal role: %v", err)
	}
	if role.Name != "clerk" {
		t.Fatalf("expected role created, got %+v", role)
	}
}

func TestCapabilityGatingByRoleToolGroups(t *testing.T) {
	exec, org, ws := newTestExecutor(t)
	role, err := org.CreateRole("restricted", "prompt", []string{"workspace"}, models.ReservedRoot)
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	meta, err := org.CreateAgent(role.ID, models.ReservedRoot)
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	wsID, err := ws.Assign(meta.ID)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	ectx := ExecContext{CallerAgentID: meta.ID, WorkspaceAncestor: wsID}

	out := exec.Dispatch(context.Background(), ectx, "terminate_agent", json.RawMessage(`{"agentId":"x"}`))
	var res errResult
	json.Unmarshal(out, &res)
	if res.Error != "tool_not_available" {
		t.Fatalf("expected org tool denied for workspace-only role, got %q", res.Error)
	}

	out = exec.Dispatch(context.Background(), ectx, "write_file", json.RawMessage(`{"path":"a.txt","content":"hi"}`))
	var ok map[string]bool
	if err := json.Unmarshal(out, &ok); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !ok["ok"] {
		t.Fatalf("expected write_file to succeed for allowed group, got %s", out)
	}
}

func TestMalformedArgsReportsParseFailure(t *testing.T) {
	exec, _, _ := newTestExecutor(t)
	ectx := ExecContext{CallerAgentID: models.ReservedRoot}
	out := exec.Dispatch(context.Background(), ectx, "create_role", json.RawMessage(`not json`))
	var res errResult
	json.Unmarshal(out, &res)
	if res.Error != "参数解析失败" {
		t.Fatalf("expected malformed-argument error text, got %q", res.Error)
	}
}

func TestSchemaValidationRejectsMissingRequiredField(t *testing.T) {
	exec, _, _ := newTestExecutor(t)
	ectx := ExecContext{CallerAgentID: models.ReservedRoot}

	// rolePrompt is required but omitted; args parse as valid JSON, so this
	// exercises schema validation rather than parseArgs's JSON-syntax check.
	out := exec.Dispatch(context.Background(), ectx, "create_role", json.RawMessage(`{"name":"clerk"}`))
	var res errResult
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Error == "" {
		t.Fatalf("expected a validation error, got %s", out)
	}
}

func TestSchemaValidationRejectsWrongType(t *testing.T) {
	exec, _, _ := newTestExecutor(t)
	ectx := ExecContext{CallerAgentID: models.ReservedRoot}

	out := exec.Dispatch(context.Background(), ectx, "create_role", json.RawMessage(`{"name":123,"rolePrompt":"p"}`))
	var res errResult
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Error == "" {
		t.Fatalf("expected a validation error for wrong-typed name, got %s", out)
	}
}

func TestAbortAgentToolStopsWithoutRemoving(t *testing.T) {
	exec, org, _ := newTestExecutor(t)
	ectx := ExecContext{CallerAgentID: models.ReservedRoot}

	out := exec.Dispatch(context.Background(), ectx, "create_role", json.RawMessage(`{"name":"clerk","rolePrompt":"p"}`))
	var role models.Role
	if err := json.Unmarshal(out, &role); err != nil {
		t.Fatalf("unmarshal role: %v", err)
	}
	meta, err := org.CreateAgent(role.ID, models.ReservedRoot)
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	out = exec.Dispatch(context.Background(), ectx, "abort_agent", json.RawMessage(`{"agentId":"`+meta.ID+`"}`))
	var res map[string]bool
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !res["ok"] {
		t.Fatalf("expected abort_agent to succeed, got %s", out)
	}

	stillThere, ok := org.GetAgent(meta.ID)
	if !ok || stillThere.Status == models.AgentTerminated {
		t.Fatal("expected aborted agent to remain in the agent table, unlike terminate_agent")
	}
}

func TestConsolePrintAllowedForUnrestrictedRole(t *testing.T) {
	exec, org, _ := newTestExecutor(t)
	role, _ := org.CreateRole("any", "p", nil, models.ReservedRoot)
	meta, _ := org.CreateAgent(role.ID, models.ReservedRoot)
	ectx := ExecContext{CallerAgentID: meta.ID}

	out := exec.Dispatch(context.Background(), ectx, "console_print", json.RawMessage(`{"text":"hello"}`))
	var ok map[string]bool
	if err := json.Unmarshal(out, &ok); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !ok["ok"] {
		t.Fatalf("expected console_print to succeed, got %s", out)
	}
}

func TestArtifactRoundTripThroughTools(t *testing.T) {
	exec, org, _ := newTestExecutor(t)
	role, _ := org.CreateRole("any", "p", nil, models.ReservedRoot)
	meta, _ := org.CreateAgent(role.ID, models.ReservedRoot)
	ectx := ExecContext{CallerAgentID: meta.ID}

	out := exec.Dispatch(context.Background(), ectx, "put_artifact", json.RawMessage(`{"type":"note","content":"hello"}`))
	var put putArtifactResult
	if err := json.Unmarshal(out, &put); err != nil {
		t.Fatalf("unmarshal put result: %v", err)
	}
	if put.Ref == "" {
		t.Fatal("expected non-empty artifact ref")
	}

	out = exec.Dispatch(context.Background(), ectx, "get_artifact", json.RawMessage(`{"ref":"`+put.Ref+`"}`))
	var got getArtifactResult
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal get result: %v", err)
	}
	if got.Content != "hello" {
		t.Fatalf("expected round-tripped content, got %q", got.Content)
	}
}
