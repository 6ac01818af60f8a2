// Package llmclient implements the LLM client contract: a single
// non-streaming Chat call that encapsulates its own retries and reports
// cancellation distinctly from other failures, so LlmHandler can treat
// "aborted" and "failed" as different outcomes.
package llmclient

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/haasonsaas/nexus/pkg/models"
)

// Message is one entry of the conversation sent to the model, converted
// from models.Turn by the caller. ContentBlocks carries non-text content
// (currently just inline images) alongside Content; a provider that can't
// render a block type drops it rather than failing the call.
type Message struct {
	Role          models.TurnRole
	Content       string
	ContentBlocks []models.ContentBlock
	ToolCalls     []models.ToolCall
	ToolCallID    string
}

// ToolSchema is the OpenAI function-calling shape the core derives from an
// agent's capability-gated tool set.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ChatRequest is the input to Chat.
type ChatRequest struct {
	Messages    []Message
	Tools       []ToolSchema
	Temperature float64
	Meta        map[string]any
}

// ChatResponse is the model's reply: text content, any requested tool
// calls, and the usage record the core reads to update token accounting.
type ChatResponse struct {
	Content   string
	ToolCalls []models.ToolCall
	Usage     models.TokenUsage
}

// ErrAborted is returned (or wrapped) when ctx is cancelled mid-call. The
// handler treats this as an abort diagnostic, never an escalation.
var ErrAborted = errors.New("llm call aborted")

// IsAborted reports whether err represents a cancellation rather than a
// genuine call failure.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled)
}

// Client is the narrow contract LlmHandler depends on. A concrete
// implementation talks to a real provider; Fake (in this package) is used
// by tests. Provider/Model identify the backend for metrics labeling only
// — Chat itself is provider-agnostic from the caller's perspective.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Provider() string
	Model() string
}
