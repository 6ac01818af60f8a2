package llmhandler

import (
	"github.com/haasonsaas/nexus/internal/llmclient"
)

// buildChatRequest assembles the llmclient.ChatRequest for agentID's next
// LLM call from its accumulated conversation turns and the tool schemas
// for every tool currently registered on the executor.
func (h *Handler) buildChatRequest(agentID string) llmclient.ChatRequest {
	turns := h.conversations.Turns(agentID)
	messages := make([]llmclient.Message, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, llmclient.Message{
			Role:          t.Role,
			Content:       t.Content,
			ContentBlocks: t.Blocks,
			ToolCalls:     t.ToolCalls,
			ToolCallID:    t.ToolCallID,
		})
	}

	var tools []llmclient.ToolSchema
	if h.tools != nil {
		tools = buildToolSchemas(h.tools.ToolNames())
	}

	return llmclient.ChatRequest{
		Messages: messages,
		Tools:    tools,
	}
}
