package toolexec

import (
	"context"
	"encoding/json"
)

func (e *Executor) registerContextTools() {
	e.register("compress_context", "context", compressContext)
	e.register("get_context_status", "context", getContextStatus)
}

type compressContextArgs struct {
	Summary         string `json:"summary"`
	KeepRecentCount int    `json:"keepRecentCount,omitempty"`
}

func compressContext(_ context.Context, ectx ExecContext, e *Executor, args json.RawMessage) (any, error) {
	var in compressContextArgs
	if err := parseArgs(args, &in); err != nil {
		return nil, err
	}
	res, err := e.Conversations.Compress(ectx.CallerAgentID, in.Summary, in.KeepRecentCount)
	if err != nil {
		return errResult{Error: err.Error()}, nil
	}
	return res, nil
}

type contextStatusResult struct {
	Bucket           string `json:"bucket"`
	PromptTokens     int    `json:"promptTokens"`
	CompletionTokens int    `json:"completionTokens"`
	TotalTokens      int    `json:"totalTokens"`
}

func getContextStatus(_ context.Context, ectx ExecContext, e *Executor, _ json.RawMessage) (any, error) {
	usage := e.Conversations.Usage(ectx.CallerAgentID)
	return contextStatusResult{
		Bucket:           string(e.Conversations.UsageBucket(ectx.CallerAgentID)),
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
	}, nil
}
