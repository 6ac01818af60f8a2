package models

import "errors"

// Sentinel validation errors surfaced by the data model's own invariants.
var (
	ErrTooManyQuickReplies = errors.New("quick replies exceed maximum of 10")
	ErrEmptyQuickReply     = errors.New("quick reply entries must be non-empty")
)

// Error-kind string constants: the fixed, externally-visible vocabulary of
// spec §7. Every tool/lifecycle/handler failure that matches one of these
// cases reports it with the literal string here, not an ad hoc message, so
// a caller (or the failing agent itself, reasoning about its own
// tool-result turns) can match on a stable vocabulary.
const (
	ErrKindAgentNotFound             = "agent_not_found"
	ErrKindNotChildAgent             = "not_child_agent"
	ErrKindMissingCallerAgent        = "missing_caller_agent"
	ErrKindInvalidParentAgentID      = "invalid_parentAgentId"
	ErrKindToolNotAvailable          = "tool_not_available"
	ErrKindArgParseFailed            = "参数解析失败"
	ErrKindToolExecutionFailed       = "tool_execution_failed"
	ErrKindLLMCallFailed             = "llm_call_failed"
	ErrKindLLMCallAborted            = "llm_call_aborted"
	ErrKindMaxToolRoundsExceeded     = "max_tool_rounds_exceeded"
	ErrKindContextLimitExceeded      = "context_limit_exceeded"
	ErrKindPathTraversalBlocked      = "path_traversal_blocked"
	ErrKindWorkspaceNotBound         = "workspace_not_bound"
	ErrKindFileNotFound              = "file_not_found"
	ErrKindPermissionDenied          = "permission_denied"
	ErrKindBlockedCode               = "blocked_code"
	ErrKindCodeTooLarge              = "code_too_large"
	ErrKindResultTooLarge            = "result_too_large"
	ErrKindNonJSONSerializableReturn = "non_json_serializable_return"
	ErrKindJSExecutionFailed         = "js_execution_failed"
)
