package toolexec

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/nexus/internal/bus"
	"github.com/haasonsaas/nexus/pkg/models"
)

func (e *Executor) registerOrgTools() {
	e.register("find_role_by_name", "org", findRoleByName)
	e.register("create_role", "org", createRole)
	e.register("spawn_agent", "org", spawnAgent)
	e.register("spawn_agent_with_task", "org", spawnAgentWithTask)
	e.register("send_message", "org", sendMessage)
	e.register("terminate_agent", "org", terminateAgent)
	e.register("abort_agent", "org", abortAgent)
}

type findRoleByNameArgs struct {
	Name string `json:"name"`
}

func findRoleByName(_ context.Context, _ ExecContext, e *Executor, args json.RawMessage) (any, error) {
	var in findRoleByNameArgs
	if err := parseArgs(args, &in); err != nil {
		return nil, err
	}
	role, ok := e.Org.FindRoleByName(in.Name)
	if !ok {
		return errResult{Error: "role_not_found"}, nil
	}
	return role, nil
}

type createRoleArgs struct {
	Name       string   `json:"name"`
	RolePrompt string   `json:"rolePrompt"`
	ToolGroups []string `json:"toolGroups,omitempty"`
}

func createRole(_ context.Context, ectx ExecContext, e *Executor, args json.RawMessage) (any, error) {
	var in createRoleArgs
	if err := parseArgs(args, &in); err != nil {
		return nil, err
	}
	role, err := e.Org.CreateRole(in.Name, in.RolePrompt, in.ToolGroups, ectx.CallerAgentID)
	if err != nil {
		return errResult{Error: err.Error()}, nil
	}
	return role, nil
}

type spawnAgentArgs struct {
	RoleID    string `json:"roleId"`
	TaskBrief string `json:"taskBrief,omitempty"`
}

func spawnAgent(_ context.Context, ectx ExecContext, e *Executor, args json.RawMessage) (any, error) {
	var in spawnAgentArgs
	if err := parseArgs(args, &in); err != nil {
		return nil, err
	}
	meta, err := e.Lifecycle.Spawn(ectx.CallerAgentID, in.RoleID)
	if err != nil {
		return errResult{Error: err.Error()}, nil
	}
	return meta, nil
}

type spawnAgentWithTaskArgs struct {
	RoleID         string `json:"roleId"`
	TaskBrief      string `json:"taskBrief"`
	InitialMessage string `json:"initialMessage"`
}

func spawnAgentWithTask(_ context.Context, ectx ExecContext, e *Executor, args json.RawMessage) (any, error) {
	var in spawnAgentWithTaskArgs
	if err := parseArgs(args, &in); err != nil {
		return nil, err
	}
	res, err := e.Lifecycle.SpawnWithTask(ectx.CallerAgentID, in.RoleID, in.TaskBrief, in.InitialMessage)
	if err != nil {
		return errResult{Error: err.Error()}, nil
	}
	return res, nil
}

type sendMessageArgs struct {
	To           string   `json:"to"`
	Payload      string   `json:"payload"`
	QuickReplies []string `json:"quickReplies,omitempty"`
}

type sendMessageResult struct {
	MessageID      string `json:"messageId"`
	YieldRequested bool   `json:"yieldRequested,omitempty"`
}

// sendMessage implements send_message rules: from is forced to
// the caller, the recipient must be known (registered or user/root), and
// quickReplies is validated against the §3 invariant. Sending to user sets
// yieldRequested: a reply reaching the human ends the turn immediately,
// while messages to other agents do not (the caller may still have more
// tool calls queued in the same round).
func sendMessage(_ context.Context, ectx ExecContext, e *Executor, args json.RawMessage) (any, error) {
	var in sendMessageArgs
	if err := parseArgs(args, &in); err != nil {
		return nil, err
	}
	if err := models.ValidateQuickReplies(in.QuickReplies); err != nil {
		return errResult{Error: err.Error()}, nil
	}

	if in.To != models.ReservedUser && in.To != models.ReservedRoot {
		if _, ok := e.Org.GetAgent(in.To); !ok {
			return errResult{Error: models.ErrKindAgentNotFound}, nil
		}
		if e.Contacts != nil && !e.Contacts.IsContactKnown(ectx.CallerAgentID, in.To) {
			e.Contacts.Learn(ectx.CallerAgentID, in.To, "")
		}
	}

	res := e.Bus.Send(bus.SendRequest{
		From: ectx.CallerAgentID,
		To:   in.To,
		Payload: models.Payload{
			Text:         in.Payload,
			QuickReplies: in.QuickReplies,
		},
	})
	if res.Rejected {
		return errResult{Error: res.Reason}, nil
	}
	return sendMessageResult{MessageID: res.MessageID, YieldRequested: in.To == models.ReservedUser}, nil
}

type terminateAgentArgs struct {
	AgentID string `json:"agentId"`
	Reason  string `json:"reason,omitempty"`
}

func terminateAgent(_ context.Context, ectx ExecContext, e *Executor, args json.RawMessage) (any, error) {
	var in terminateAgentArgs
	if err := parseArgs(args, &in); err != nil {
		return nil, err
	}
	res, err := e.Lifecycle.Terminate(ectx.CallerAgentID, in.AgentID, in.Reason)
	if err != nil {
		return errResult{Error: err.Error()}, nil
	}
	return res, nil
}

type abortAgentArgs struct {
	AgentID string `json:"agentId"`
	Cascade bool   `json:"cascade,omitempty"`
}

type abortAgentResult struct {
	OK bool `json:"ok"`
}

// abortAgent stops an agent (and, with cascade, its descendants) without
// removing it from the agent table — distinct from terminate_agent, which
// aborts and then tombstones.
func abortAgent(_ context.Context, ectx ExecContext, e *Executor, args json.RawMessage) (any, error) {
	var in abortAgentArgs
	if err := parseArgs(args, &in); err != nil {
		return nil, err
	}
	if err := e.Lifecycle.Abort(ectx.CallerAgentID, in.AgentID, in.Cascade); err != nil {
		return errResult{Error: err.Error()}, nil
	}
	return abortAgentResult{OK: true}, nil
}
