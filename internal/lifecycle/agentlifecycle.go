package lifecycle

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/nexus/internal/bus"
	"github.com/haasonsaas/nexus/internal/concurrency"
	"github.com/haasonsaas/nexus/internal/contacts"
	"github.com/haasonsaas/nexus/internal/conversation"
	"github.com/haasonsaas/nexus/internal/orgstate"
	"github.com/haasonsaas/nexus/pkg/models"
)

// WorkspaceAssigner assigns a workspace to a directly-root-spawned agent.
// The concrete implementation (internal/workspace) lazily creates the
// directory on first write, not on assignment.
type WorkspaceAssigner interface {
	Assign(agentID string) (workspaceID string, err error)
}

// SpawnResult is returned by SpawnWithTask.
type SpawnResult struct {
	ID       string
	RoleID   string
	RoleName string
	MessageID string
}

// Lifecycle wires together OrgState, the ComputeStatus StateMachine, the
// ContactRegistry, the MessageBus, the ConversationStore, and the
// ConcurrencyController to implement spawn/terminate/idle-tracking (spec
// §4.4).
type Lifecycle struct {
	org          *orgstate.OrgState
	states       *StateMachine
	contactsReg  *contacts.Registry
	messageBus   *bus.Bus
	conversations *conversation.Store
	concurrency  *concurrency.Controller
	workspaces   WorkspaceAssigner
	logger       *slog.Logger
}

// New wires a Lifecycle from its collaborators. workspaces may be nil if
// workspace assignment is not needed (e.g. in tests).
func New(
	org *orgstate.OrgState,
	states *StateMachine,
	contactsReg *contacts.Registry,
	messageBus *bus.Bus,
	conversations *conversation.Store,
	concurrencyCtl *concurrency.Controller,
	workspaces WorkspaceAssigner,
	logger *slog.Logger,
) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Lifecycle{
		org:           org,
		states:        states,
		contactsReg:   contactsReg,
		messageBus:    messageBus,
		conversations: conversations,
		concurrency:   concurrencyCtl,
		workspaces:    workspaces,
		logger:        logger,
	}
	states.OnEnterStopping(func(agentID string, from, to models.ComputeStatus) {
		messageBus.ClearQueue(agentID)
	})
	return l
}

// Spawn registers a new agent under parentID with roleID, following spec
// §4.4 steps 1-5. It does not send any message.
func (l *Lifecycle) Spawn(parentID, roleID string) (*models.AgentMeta, error) {
	meta, err := l.org.CreateAgent(roleID, parentID)
	if err != nil {
		return nil, err
	}

	l.states.Register(meta.ID)
	l.contactsReg.InitRegistry(meta.ID, parentID, nil)

	if parentID == models.ReservedRoot && l.workspaces != nil {
		wsID, err := l.workspaces.Assign(meta.ID)
		if err != nil {
			l.logger.Error("workspace assignment failed", "agentId", meta.ID, "error", err)
		} else {
			meta.WorkspaceID = wsID
		}
	}

	return meta, nil
}

// SpawnWithTask spawns a new agent and immediately sends initialMessage to
// it on the bus, returning the combined result.
func (l *Lifecycle) SpawnWithTask(parentID, roleID, taskBrief, initialMessage string) (*SpawnResult, error) {
	meta, err := l.Spawn(parentID, roleID)
	if err != nil {
		return nil, err
	}

	roleName := ""
	if role, ok := l.org.GetRole(roleID); ok {
		roleName = role.Name
	}

	res := l.messageBus.Send(bus.SendRequest{
		From: parentID,
		To:   meta.ID,
		Payload: models.Payload{
			Text:  initialMessage,
			Extra: map[string]any{"taskBrief": taskBrief},
		},
	})
	if res.Rejected {
		return nil, fmt.Errorf("initial message rejected: %s", res.Reason)
	}

	return &SpawnResult{ID: meta.ID, RoleID: roleID, RoleName: roleName, MessageID: res.MessageID}, nil
}

// TerminateResult is returned by Terminate.
type TerminateResult struct {
	OK              bool
	TerminatedAgentID string
}

// ErrNotAuthorized is returned when callerID does not have authority over
// targetID: it is neither root nor a direct or transitive ancestor of it.
var ErrNotAuthorized = fmt.Errorf(models.ErrKindNotChildAgent)

// ErrReservedAgent is returned when targetID names a reserved, non-terminable
// identity.
var ErrReservedAgent = fmt.Errorf("agent_not_terminable")

// Abort requests a stop for targetID without removing it from the agent
// table: it cancels any in-flight LLM call, clears the agent's bus queue,
// and drives its ComputeStatus to stopping (spec §4.6/§4.7's cancellation
// semantics, level (i)). With cascade=true the same is applied to every
// descendant of targetID, and an idle target is also accepted (otherwise
// only {waiting_llm, processing} may stop). The caller must be root or a
// direct or transitive ancestor of targetID; targetID may not abort itself.
func (l *Lifecycle) Abort(callerID, targetID string, cascade bool) error {
	if models.IsReserved(targetID) {
		return ErrReservedAgent
	}
	if callerID != models.ReservedRoot && !l.org.IsDescendant(callerID, targetID) {
		return ErrNotAuthorized
	}

	targets := []string{targetID}
	if cascade {
		targets = append(targets, l.org.Descendants(targetID)...)
	}
	for _, id := range targets {
		if err := l.states.Abort(id, cascade); err != nil {
			return err
		}
		l.concurrency.Cancel(id)
		l.messageBus.ClearQueue(id)
	}
	return nil
}

// Terminate tears down targetID and every descendant. The caller must be
// root or a direct or transitive ancestor of targetID; targetID may not
// terminate itself. Per spec.md's "Terminate(agentId) is Abort plus
// removal", it first aborts the whole subtree, then finishes the job:
// tombstone + remove from every in-memory table.
func (l *Lifecycle) Terminate(callerID, targetID, reason string) (*TerminateResult, error) {
	if models.IsReserved(targetID) {
		return nil, ErrReservedAgent
	}
	if callerID != models.ReservedRoot && !l.org.IsDescendant(callerID, targetID) {
		return nil, ErrNotAuthorized
	}

	killOrder := append(l.org.Descendants(targetID), targetID)

	if err := l.Abort(callerID, targetID, true); err != nil {
		return nil, err
	}
	for _, id := range killOrder {
		l.states.Transition(id, models.StatusTerminating)
	}

	l.org.RecordTermination(targetID, callerID, reason)

	for _, id := range killOrder {
		l.states.Forget(id)
		l.contactsReg.Drop(id)
		if err := l.conversations.Delete(id); err != nil {
			l.logger.Error("failed to delete conversation", "agentId", id, "error", err)
		}
	}

	return &TerminateResult{OK: true, TerminatedAgentID: targetID}, nil
}

// States returns the underlying ComputeStatus StateMachine, for
// collaborators (LlmHandler, Scheduler) that need to read or transition
// agent status directly.
func (l *Lifecycle) States() *StateMachine {
	return l.states
}

// UpdateAgentActivity stamps agentID's last-activity time, called on every
// dispatch.
func (l *Lifecycle) UpdateAgentActivity(agentID string) {
	l.states.UpdateActivity(agentID)
}

// GetAgentIdleTime returns how long agentID has been idle.
func (l *Lifecycle) GetAgentIdleTime(agentID string) time.Duration {
	return l.states.IdleTime(agentID)
}

// FindWorkspaceIdForAgent walks parent pointers upward from id until it
// finds an agent that owns a workspace directly, or reaches root/user,
// returning "" if none is found.
func (l *Lifecycle) FindWorkspaceIdForAgent(id string) string {
	cur := id
	for {
		meta, ok := l.org.GetAgent(cur)
		if !ok {
			return ""
		}
		if meta.WorkspaceID != "" {
			return meta.WorkspaceID
		}
		if models.IsReserved(cur) || meta.ParentAgentID == "" {
			return ""
		}
		cur = meta.ParentAgentID
	}
}
