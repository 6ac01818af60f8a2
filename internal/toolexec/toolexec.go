// Package toolexec implements a fixed, enumerated tool set: a single
// core-owned registry (no user-defined tools), capability gating by role
// tool-group, and a dispatch path that never lets a tool panic escape to
// its caller.
package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/haasonsaas/nexus/internal/artifacts"
	"github.com/haasonsaas/nexus/internal/bus"
	"github.com/haasonsaas/nexus/internal/contacts"
	"github.com/haasonsaas/nexus/internal/conversation"
	"github.com/haasonsaas/nexus/internal/lifecycle"
	"github.com/haasonsaas/nexus/internal/orgstate"
	"github.com/haasonsaas/nexus/internal/workspace"
	"github.com/haasonsaas/nexus/pkg/models"
)

// errToolExecutionFailed is the sentinel error Dispatch reports for
// failures that aren't a handler's own structured error: a panic or a
// timeout, neither of which the handler got a chance to describe itself.
var errToolExecutionFailed = fmt.Errorf(models.ErrKindToolExecutionFailed)

// ExecContext carries everything a tool handler needs about the call site,
// mirroring "{callerAgentId, currentMessage, workspaceAncestor,
// serviceRegistry, …}".
type ExecContext struct {
	CallerAgentID     string
	CurrentMessage    *models.Message
	WorkspaceAncestor string
}

// HandlerFunc is one tool's implementation. It returns a JSON-serializable
// result; a non-nil error is turned into an {"error": …} result by
// Dispatch, never propagated as a Go error to the caller.
type HandlerFunc func(ctx context.Context, ectx ExecContext, e *Executor, args json.RawMessage) (any, error)

type toolEntry struct {
	group string
	fn    HandlerFunc
}

// DefaultTimeout bounds how long a single tool call may run before Dispatch
// reports a timeout error.
const DefaultTimeout = 30 * time.Second

// Executor is the single core-owned dispatcher for the fixed tool set. It
// holds the collaborators tool handlers need and enforces per-role
// capability gating before any handler runs.
type Executor struct {
	Org           *orgstate.OrgState
	Contacts      *contacts.Registry
	Bus           *bus.Bus
	Conversations *conversation.Store
	Lifecycle     *lifecycle.Lifecycle
	Artifacts     artifacts.Repository
	Workspaces    *workspace.Manager
	Logger        *slog.Logger

	Timeout time.Duration

	tools map[string]toolEntry
}

// New wires an Executor from its collaborators and registers the fixed
// tool set. Any collaborator may be nil in tests that only exercise tools
// not touching it.
func New(
	org *orgstate.OrgState,
	contactsReg *contacts.Registry,
	msgBus *bus.Bus,
	conversations *conversation.Store,
	lc *lifecycle.Lifecycle,
	artifactRepo artifacts.Repository,
	workspaces *workspace.Manager,
	logger *slog.Logger,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		Org:           org,
		Contacts:      contactsReg,
		Bus:           msgBus,
		Conversations: conversations,
		Lifecycle:     lc,
		Artifacts:     artifactRepo,
		Workspaces:    workspaces,
		Logger:        logger,
		Timeout:       DefaultTimeout,
		tools:         make(map[string]toolEntry),
	}
	e.registerOrgTools()
	e.registerArtifactTools()
	e.registerWorkspaceTools()
	e.registerCommandTools()
	e.registerContextTools()
	e.registerConsoleTools()
	return e
}

func (e *Executor) register(name, group string, fn HandlerFunc) {
	e.tools[name] = toolEntry{group: group, fn: fn}
}

// ToolNames returns every registered tool name, for building LLM function
// schemas.
func (e *Executor) ToolNames() []string {
	names := make([]string, 0, len(e.tools))
	for name := range e.tools {
		names = append(names, name)
	}
	return names
}

// errResult is the shape every gating/parse/timeout/panic failure returns,
// matching "{error, …} object".
type errResult struct {
	Error string `json:"error"`
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(errResult{Error: fmt.Sprintf("result marshal failed: %v", err)})
	}
	return b
}

// allowsGroup implements the capability gating rule of : root is
// pinned to the org group; any other caller is gated by its role's
// ToolGroups (nil meaning unrestricted).
func (e *Executor) allowsGroup(callerAgentID, group string) bool {
	if callerAgentID == models.ReservedRoot {
		return group == "org"
	}
	if e.Org == nil {
		return true
	}
	meta, ok := e.Org.GetAgent(callerAgentID)
	if !ok || meta.RoleID == "" {
		return true
	}
	role, ok := e.Org.GetRole(meta.RoleID)
	if !ok {
		return true
	}
	return role.AllowsGroup(group)
}

// Dispatch looks up toolName, enforces capability gating, parses args,
// and runs the handler under Timeout with panic recovery. It always
// returns a JSON-serializable result, never a Go error.
func (e *Executor) Dispatch(ctx context.Context, ectx ExecContext, toolName string, rawArgs json.RawMessage) json.RawMessage {
	entry, ok := e.tools[toolName]
	if !ok {
		return mustMarshal(errResult{Error: "tool_not_found"})
	}
	if !e.allowsGroup(ectx.CallerAgentID, entry.group) {
		return mustMarshal(errResult{Error: models.ErrKindToolNotAvailable})
	}
	if err := validateArgs(toolName, rawArgs); err != nil {
		return mustMarshal(errResult{Error: err.Error()})
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.Logger.Error("tool panic", "tool", toolName, "recovered", r, "stack", string(debug.Stack()))
				done <- outcome{err: errToolExecutionFailed}
			}
		}()
		res, err := entry.fn(runCtx, ectx, e, rawArgs)
		done <- outcome{result: res, err: err}
	}()

	select {
	case <-runCtx.Done():
		return mustMarshal(errResult{Error: models.ErrKindToolExecutionFailed})
	case out := <-done:
		if out.err != nil {
			return mustMarshal(errResult{Error: out.err.Error()})
		}
		return mustMarshal(out.result)
	}
}

func (e *Executor) timeout() time.Duration {
	if e.Timeout <= 0 {
		return DefaultTimeout
	}
	return e.Timeout
}

// parseArgs unmarshals rawArgs into dst, reporting a consistent
// malformed-argument error when parsing fails.
func parseArgs(rawArgs json.RawMessage, dst any) error {
	if len(rawArgs) == 0 {
		return nil
	}
	if err := json.Unmarshal(rawArgs, dst); err != nil {
		return fmt.Errorf(models.ErrKindArgParseFailed)
	}
	return nil
}
