package llmhandler

import (
	"encoding/json"

	"github.com/haasonsaas/nexus/internal/llmclient"
)

// toolSchemaDef is the fixed description/parameter-schema pair for one of
// the enumerated tools of , in the provider-agnostic JSON-schema
// form llmclient's backends translate into each API's function-calling
// shape.
type toolSchemaDef struct {
	description string
	properties  map[string]any
	required    []string
}

func schemaJSON(def toolSchemaDef) json.RawMessage {
	schema := map[string]any{
		"type":       "object",
		"properties": def.properties,
	}
	if len(def.required) > 0 {
		schema["required"] = def.required
	}
	b, _ := json.Marshal(schema)
	return b
}

func strProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func arrProp(desc string) map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": desc}
}

func numProp(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}

// toolSchemas is the fixed registry of tool descriptions and argument
// schemas sent to the LLM alongside every Chat call.
var toolSchemas = map[string]toolSchemaDef{
	"find_role_by_name": {
		description: "Look up a role by its name.",
		properties:  map[string]any{"name": strProp("Role name to search for.")},
		required:    []string{"name"},
	},
	"create_role": {
		description: "Create a new role with a system prompt and optional tool-group restriction.",
		properties: map[string]any{
			"name":       strProp("Role name."),
			"rolePrompt": strProp("System prompt for agents created from this role."),
			"toolGroups": arrProp("Tool groups this role's agents may use; omit for unrestricted."),
		},
		required: []string{"name", "rolePrompt"},
	},
	"spawn_agent": {
		description: "Spawn a child agent under the caller with the given role. Does not send it a message.",
		properties: map[string]any{
			"roleId":    strProp("Role ID to spawn from."),
			"taskBrief": strProp("Task brief recorded for the new agent."),
		},
		required: []string{"roleId"},
	},
	"spawn_agent_with_task": {
		description: "Spawn a child agent and immediately send it an initial message.",
		properties: map[string]any{
			"roleId":         strProp("Role ID to spawn from."),
			"taskBrief":      strProp("Task brief recorded for the new agent."),
			"initialMessage": strProp("First message delivered to the new agent."),
		},
		required: []string{"roleId", "initialMessage"},
	},
	"send_message": {
		description: "Send a message to another agent, or reply to the user.",
		properties: map[string]any{
			"to":           strProp(`Recipient agent ID, or "user" to reply to the human.`),
			"payload":      strProp("Message text."),
			"quickReplies": arrProp("Up to 10 suggested quick-reply strings."),
		},
		required: []string{"to", "payload"},
	},
	"terminate_agent": {
		description: "Terminate an agent and its descendants.",
		properties: map[string]any{
			"agentId": strProp("Agent ID to terminate."),
			"reason":  strProp("Reason for termination."),
		},
		required: []string{"agentId"},
	},
	"abort_agent": {
		description: "Stop an agent's current turn without removing it from the organization. Unlike terminate_agent, the agent can still receive messages afterward.",
		properties: map[string]any{
			"agentId": strProp("Agent ID to abort."),
			"cascade": map[string]any{"type": "boolean", "description": "Also abort every descendant, and accept an idle agent as a valid target."},
		},
		required: []string{"agentId"},
	},
	"put_artifact": {
		description: "Store an opaque artifact and get back a reference.",
		properties: map[string]any{
			"type":    strProp("Artifact type."),
			"content": strProp("Artifact content."),
		},
		required: []string{"type", "content"},
	},
	"get_artifact": {
		description: "Fetch a previously stored artifact by reference.",
		properties:  map[string]any{"ref": strProp("Artifact reference.")},
		required:    []string{"ref"},
	},
	"read_file": {
		description: "Read a file from the caller's workspace.",
		properties:  map[string]any{"path": strProp("Relative path within the workspace.")},
		required:    []string{"path"},
	},
	"write_file": {
		description: "Write a file in the caller's workspace, creating it if needed.",
		properties: map[string]any{
			"path":    strProp("Relative path within the workspace."),
			"content": strProp("File content."),
		},
		required: []string{"path", "content"},
	},
	"list_files": {
		description: "List files under a workspace directory.",
		properties:  map[string]any{"path": strProp("Relative directory path; omit for the workspace root.")},
	},
	"get_workspace_info": {
		description: "Get metadata about the caller's workspace.",
		properties:  map[string]any{},
	},
	"run_command": {
		description: "Run a shell command under a timeout.",
		properties: map[string]any{
			"command":   strProp("Command line to execute."),
			"timeoutMs": numProp("Timeout in milliseconds."),
		},
		required: []string{"command"},
	},
	"run_javascript": {
		description: "Run JavaScript in a restricted sandbox with no module, process, or network access.",
		properties: map[string]any{
			"code":  strProp("JavaScript source to run."),
			"input": strProp("JSON-encoded input made available to the script."),
		},
		required: []string{"code"},
	},
	"compress_context": {
		description: "Replace older conversation history with a summary to free up context.",
		properties: map[string]any{
			"summary":         strProp("Summary to substitute for the compressed range."),
			"keepRecentCount": numProp("Number of most-recent turns to keep verbatim."),
		},
		required: []string{"summary"},
	},
	"get_context_status": {
		description: "Report the caller's current token-usage bucket.",
		properties:  map[string]any{},
	},
	"console_print": {
		description: "Print a diagnostic line to the runtime log.",
		properties:  map[string]any{"text": strProp("Text to log.")},
		required:    []string{"text"},
	},
}

// buildToolSchemas renders the tool schemas for every name currently
// registered on the executor, so an agent only ever sees tools its role's
// capability gating would actually allow it to invoke... minus gating,
// which the executor re-enforces on Dispatch regardless.
func buildToolSchemas(names []string) []llmclient.ToolSchema {
	out := make([]llmclient.ToolSchema, 0, len(names))
	for _, name := range names {
		def, ok := toolSchemas[name]
		if !ok {
			continue
		}
		out = append(out, llmclient.ToolSchema{
			Name:        name,
			Description: def.description,
			Parameters:  schemaJSON(def),
		})
	}
	return out
}
