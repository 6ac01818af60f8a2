// Package llmhandler implements the per-message turn engine: system-prompt
// assembly, the context-exceeded gate, the maxToolRounds loop interleaving
// LLM calls with tool dispatch, the interruption protocol, and double
// error escalation.
package llmhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/nexus/internal/artifacts"
	"github.com/haasonsaas/nexus/internal/bus"
	"github.com/haasonsaas/nexus/internal/concurrency"
	"github.com/haasonsaas/nexus/internal/contacts"
	"github.com/haasonsaas/nexus/internal/conversation"
	"github.com/haasonsaas/nexus/internal/lifecycle"
	"github.com/haasonsaas/nexus/internal/llmclient"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/internal/orgstate"
	"github.com/haasonsaas/nexus/internal/promptbuilder"
	"github.com/haasonsaas/nexus/internal/toolexec"
	"github.com/haasonsaas/nexus/pkg/models"
)

// Error-escalation errorType values.
const (
	ErrorTypeContextLimitExceeded  = models.ErrKindContextLimitExceeded
	ErrorTypeLLMCallFailed         = models.ErrKindLLMCallFailed
	ErrorTypeMaxToolRoundsExceeded = models.ErrKindMaxToolRoundsExceeded
)

// DefaultMaxToolRounds bounds a single Handle call's LLM↔tool iterations.
const DefaultMaxToolRounds = 200

// BasePrompt is prepended to every agent's assembled system prompt ahead
// of its role prompt, task brief, contact list, and tool-group summary.
const BasePrompt = "You are an autonomous agent within a multi-agent orchestration runtime. " +
	"You receive messages, reason about them, and act by calling the tools available to you. " +
	"When you are done acting on a message, reply to the user with send_message."

// toolIntentPatterns matches assistant replies that narrate an intended
// tool call instead of emitting one.
var toolIntentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bi will (now )?(call|use|invoke|run)\b`),
	regexp.MustCompile(`(?i)\blet me (call|use|invoke|run)\b`),
	regexp.MustCompile(`(?i)\bi'?ll (now )?(call|use|invoke|run)\b`),
	regexp.MustCompile(`(?i)\bi am going to (call|use|invoke|run)\b`),
	regexp.MustCompile(`(?i)\bcalling the \w+ tool\b`),
	regexp.MustCompile(`(?i)\busing the \w+ tool\b`),
}

func looksLikeToolIntent(text string) bool {
	for _, p := range toolIntentPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// EventSink receives observable tool-call events emitted during a turn. A
// nil Sink is valid; events are logged only.
type EventSink interface {
	Emit(models.ToolEvent)
}

// Config tunes Handler behavior; zero values are replaced with defaults by
// New.
type Config struct {
	MaxToolRounds int

	// SupportsVision controls whether image attachments are built into a
	// multimodal ContentBlock (see attachments.go) or summarized as text.
	SupportsVision bool
}

func sanitizeConfig(cfg Config) Config {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}
	return cfg
}

// Handler drives one Handle() call per inbound message. It also owns the
// per-agent interruption queues populated by the bus's OnInterruption hook
// (wired in New).
type Handler struct {
	org           *orgstate.OrgState
	lc            *lifecycle.Lifecycle
	contactsReg   *contacts.Registry
	messageBus    *bus.Bus
	conversations *conversation.Store
	concurrency   *concurrency.Controller
	tools         *toolexec.Executor
	llm           llmclient.Client
	prompts       *promptbuilder.Builder
	artifactRepo  artifacts.Repository
	events        EventSink
	metrics       *observability.Metrics
	tracer        *observability.Tracer
	logger        *slog.Logger
	cfg           Config

	interruptMu sync.Mutex
	interrupt   map[string][]*models.Message
}

// New wires a Handler from its collaborators and registers it as the
// bus's interruption handler.
func New(
	org *orgstate.OrgState,
	lc *lifecycle.Lifecycle,
	contactsReg *contacts.Registry,
	messageBus *bus.Bus,
	conversations *conversation.Store,
	concurrencyCtl *concurrency.Controller,
	tools *toolexec.Executor,
	llm llmclient.Client,
	prompts *promptbuilder.Builder,
	artifactRepo artifacts.Repository,
	events EventSink,
	metrics *observability.Metrics,
	logger *slog.Logger,
	cfg Config,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if prompts == nil {
		prompts = promptbuilder.New()
	}
	h := &Handler{
		org:           org,
		lc:            lc,
		contactsReg:   contactsReg,
		messageBus:    messageBus,
		conversations: conversations,
		concurrency:   concurrencyCtl,
		tools:         tools,
		llm:           llm,
		prompts:       prompts,
		artifactRepo:  artifactRepo,
		events:        events,
		metrics:       metrics,
		logger:        logger,
		cfg:           sanitizeConfig(cfg),
		interrupt:     make(map[string][]*models.Message),
	}
	messageBus.OnInterruption(h.onInterruption)
	return h
}

// onInterruption is the bus.InterruptionHandler: it must not block Send,
// so it only appends to the per-agent queue.
func (h *Handler) onInterruption(agentID string, msg *models.Message) {
	h.interruptMu.Lock()
	h.interrupt[agentID] = append(h.interrupt[agentID], msg)
	h.interruptMu.Unlock()
}

// drainInterruptions atomically empties and returns agentID's queued
// interruption messages.
func (h *Handler) drainInterruptions(agentID string) []*models.Message {
	h.interruptMu.Lock()
	defer h.interruptMu.Unlock()
	msgs := h.interrupt[agentID]
	delete(h.interrupt, agentID)
	return msgs
}

// Handle performs one full turn for agentID against msg: check the context
// window, build the prompt, call the LLM, run any requested tools, and
// react to the result.
func (h *Handler) Handle(ctx context.Context, agentID string, msg *models.Message) {
	// Step 1: context-exceeded gate.
	if h.conversations.IsContextExceeded(agentID) {
		h.escalate(agentID, ErrorTypeContextLimitExceeded, "conversation has exceeded its context window", msg)
		h.setStatus(agentID, models.StatusIdle)
		return
	}

	// Step 2: status=processing, system prompt, ensure conversation.
	h.setStatus(agentID, models.StatusProcessing)
	h.conversations.EnsureConversation(agentID, h.systemPrompt(agentID, msg))

	// Step 3-4: format inbound message, append context-status advisory.
	h.conversations.Append(agentID, h.formatIncoming(ctx, msg))
	if advisory := h.contextAdvisory(agentID); advisory != "" {
		h.conversations.Append(agentID, models.Turn{Role: models.TurnSystem, Content: advisory})
	}

	for round := 0; round < h.cfg.MaxToolRounds; round++ {
		// Step 5a: status check.
		switch h.lc.States().Status(agentID) {
		case models.StatusStopped, models.StatusStopping, models.StatusTerminating, models.StatusIdle:
			return
		}

		// Step 5b: drain interruption queue.
		h.applyInterruptions(agentID)

		// Step 5c: call the LLM under a concurrency slot.
		h.setStatus(agentID, models.StatusWaitingLLM)
		req := h.buildChatRequest(agentID)
		callStart := time.Now()
		result, err := h.concurrency.Execute(ctx, agentID, func(runCtx context.Context) (any, error) {
			return h.llm.Chat(runCtx, req)
		})
		if err != nil {
			if llmclient.IsAborted(err) || err == concurrency.ErrDuplicateRequest {
				h.conversations.Append(agentID, models.Turn{
					Role:    models.TurnSystem,
					Content: fmt.Sprintf("[%s] LLM call was cancelled before completion", models.ErrKindLLMCallAborted),
				})
				return
			}
			h.recordLLMCall(callStart, "error", models.TokenUsage{})
			// Step 5e: exhausted retries inside LLMClient.
			h.escalate(agentID, ErrorTypeLLMCallFailed, err.Error(), msg)
			h.setStatus(agentID, models.StatusIdle)
			return
		}
		resp := result.(*llmclient.ChatResponse)
		h.recordLLMCall(callStart, "success", resp.Usage)

		// Step 5f: append reply, update usage, back to processing.
		h.conversations.Append(agentID, models.Turn{
			Role:      models.TurnAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		h.conversations.UpdateFromResponse(agentID, resp.Usage)
		h.setStatus(agentID, models.StatusProcessing)

		if len(resp.ToolCalls) == 0 {
			// Step 5g.
			if looksLikeToolIntent(resp.Content) && round < h.cfg.MaxToolRounds-1 {
				h.conversations.Append(agentID, models.Turn{
					Role: models.TurnSystem,
					Content: "You described a tool action instead of invoking it. " +
						"Call the tool directly, or reply to the user with send_message.",
				})
				continue
			}
			h.autoReply(agentID, resp.Content)
			h.setStatus(agentID, models.StatusIdle)
			return
		}

		// Step 5h-i: dispatch each tool call in order.
		if h.runToolCalls(ctx, agentID, msg, resp.ToolCalls) {
			h.setStatus(agentID, models.StatusIdle)
			return
		}
	}

	// Step 6: maxToolRounds exhausted.
	h.escalate(agentID, ErrorTypeMaxToolRoundsExceeded, "exceeded maximum tool-call rounds for a single turn", msg)
	h.setStatus(agentID, models.StatusIdle)
}

// runToolCalls dispatches each call in order, appending tool-result turns
// and emitting observability events. It returns true if a tool requested a
// yield (ends the turn with status=idle).
func (h *Handler) runToolCalls(ctx context.Context, agentID string, msg *models.Message, calls []models.ToolCall) bool {
	for _, tc := range calls {
		switch h.lc.States().Status(agentID) {
		case models.StatusStopped, models.StatusStopping, models.StatusTerminating:
			return true
		}

		start := time.Now()
		h.emitEvent(models.ToolEvent{
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			Stage:      models.ToolEventStarted,
			Input:      tc.Arguments,
			StartedAt:  start,
		})

		ectx := toolexec.ExecContext{
			CallerAgentID:     agentID,
			CurrentMessage:    msg,
			WorkspaceAncestor: h.workspaceAncestor(agentID),
		}
		raw := h.tools.Dispatch(ctx, ectx, tc.Name, tc.Arguments)

		h.conversations.Append(agentID, models.Turn{
			Role:       models.TurnTool,
			Content:    string(raw),
			ToolCallID: tc.ID,
		})

		isErr, yield := inspectToolResult(raw)
		stage := models.ToolEventSucceeded
		if isErr {
			stage = models.ToolEventFailed
		}
		h.emitEvent(models.ToolEvent{
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			Stage:      stage,
			Output:     string(raw),
			StartedAt:  start,
			FinishedAt: time.Now(),
		})

		if yield {
			return true
		}
	}
	return false
}

// inspectToolResult reports whether a dispatched tool's JSON result carries
// an "error" key, and whether it set yieldRequested=true.
func inspectToolResult(raw json.RawMessage) (isError, yield bool) {
	var probe struct {
		Error          string `json:"error"`
		YieldRequested bool   `json:"yieldRequested"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false, false
	}
	return probe.Error != "", probe.YieldRequested
}

func (h *Handler) emitEvent(ev models.ToolEvent) {
	if h.events != nil {
		h.events.Emit(ev)
	}
	h.logger.Debug("tool call", "tool", ev.ToolName, "stage", ev.Stage, "toolCallId", ev.ToolCallID)
}

// recordLLMCall reports one Chat round-trip to the metrics bundle, if one
// was wired. provider/model are read from h.llm itself rather than passed
// in, so every call site stays correct even if the handler is reconfigured
// with a different backend mid-process.
func (h *Handler) recordLLMCall(start time.Time, status string, usage models.TokenUsage) {
	if h.metrics == nil {
		return
	}
	provider, model := h.llm.Provider(), h.llm.Model()
	h.metrics.RecordLLMRequest(provider, model, status, time.Since(start).Seconds(), usage.PromptTokens, usage.CompletionTokens)
	if usage.TotalTokens > 0 {
		h.metrics.RecordContextWindow(provider, model, usage.TotalTokens)
	}
}

// autoReply sends content as a send_message to user from agentID, used as
// a fallback when the model replies with plain text instead of a tool call.
func (h *Handler) autoReply(agentID, content string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	h.messageBus.Send(bus.SendRequest{
		From:    agentID,
		To:      models.ReservedUser,
		Payload: models.Payload{Text: content},
	})
}

func (h *Handler) setStatus(agentID string, to models.ComputeStatus) {
	if err := h.lc.States().Transition(agentID, to); err != nil {
		h.logger.Debug("status transition rejected", "agentId", agentID, "to", to, "error", err)
	}
}

func (h *Handler) workspaceAncestor(agentID string) string {
	return h.lc.FindWorkspaceIdForAgent(agentID)
}

// escalate sends a double-escalation error notification: a message to the
// failing agent's parent, and a self-addressed diagnostic turn on the
// agent's own conversation.
func (h *Handler) escalate(agentID, errorType, message string, msg *models.Message) {
	parent := ""
	if meta, ok := h.org.GetAgent(agentID); ok {
		parent = meta.ParentAgentID
	}

	extra := map[string]any{
		"agentId":   agentID,
		"errorType": errorType,
		"timestamp": time.Now().Format(time.RFC3339Nano),
	}
	if msg != nil {
		extra["originalMessageId"] = msg.ID
		if msg.TaskID != "" {
			extra["taskId"] = msg.TaskID
		}
	}

	if parent != "" {
		h.messageBus.Send(bus.SendRequest{
			From: agentID,
			To:   parent,
			Payload: models.Payload{
				Kind:      "error",
				ErrorType: errorType,
				Text:      message,
				Extra:     extra,
			},
		})
	}

	h.conversations.Append(agentID, models.Turn{
		Role:    models.TurnSystem,
		Content: fmt.Sprintf("[diagnostic:%s] %s", errorType, message),
	})
}

// applyInterruptions implements the interruption protocol: if any
// messages have queued since the last round, drop the trailing
// assistant-with-tool_calls turn (its tool calls are obsoleted) and append
// the interruptions as user turns.
func (h *Handler) applyInterruptions(agentID string) {
	pending := h.drainInterruptions(agentID)
	if len(pending) == 0 {
		return
	}

	turns := h.conversations.Turns(agentID)
	if n := len(turns); n > 0 && turns[n-1].HasToolCalls() {
		h.conversations.TruncateLast(agentID)
	}

	for _, m := range pending {
		h.conversations.Append(agentID, h.formatIncoming(context.Background(), m))
	}
}

// contextAdvisory returns a system-turn advisory string once usage has
// reached the warning threshold, or "" below it.
func (h *Handler) contextAdvisory(agentID string) string {
	switch h.conversations.UsageBucket(agentID) {
	case conversation.UsageCritical:
		return "Context usage is critical. Wrap up and consider compress_context soon."
	case conversation.UsageWarning:
		return "Context usage has crossed the warning threshold. Consider compress_context if this task continues."
	default:
		return ""
	}
}
