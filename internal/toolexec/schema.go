package toolexec

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// argSchemas holds the compiled JSON-Schema (draft 2020-12 subset) for each
// tool's argument object. A tool with no entry here is dispatched without
// schema validation; parseArgs still checks field types structurally.
var argSchemas = map[string]*jsonschema.Schema{}

func init() {
	raw := map[string]string{
		"find_role_by_name": `{
			"type": "object",
			"properties": {"name": {"type": "string"}},
			"required": ["name"]
		}`,
		"create_role": `{
			"type": "object",
			"properties": {
				"name": {"type": "string"},
				"rolePrompt": {"type": "string"},
				"toolGroups": {"type": "array", "items": {"type": "string"}}
			},
			"required": ["name", "rolePrompt"]
		}`,
		"spawn_agent": `{
			"type": "object",
			"properties": {
				"roleId": {"type": "string"},
				"taskBrief": {"type": "string"}
			},
			"required": ["roleId"]
		}`,
		"spawn_agent_with_task": `{
			"type": "object",
			"properties": {
				"roleId": {"type": "string"},
				"taskBrief": {"type": "string"},
				"initialMessage": {"type": "string"}
			},
			"required": ["roleId", "initialMessage"]
		}`,
		"send_message": `{
			"type": "object",
			"properties": {
				"to": {"type": "string"},
				"payload": {"type": "string"},
				"quickReplies": {"type": "array", "items": {"type": "string"}, "maxItems": 10}
			},
			"required": ["to", "payload"]
		}`,
		"terminate_agent": `{
			"type": "object",
			"properties": {
				"agentId": {"type": "string"},
				"reason": {"type": "string"}
			},
			"required": ["agentId"]
		}`,
		"abort_agent": `{
			"type": "object",
			"properties": {
				"agentId": {"type": "string"},
				"cascade": {"type": "boolean"}
			},
			"required": ["agentId"]
		}`,
		"put_artifact": `{
			"type": "object",
			"properties": {
				"type": {"type": "string"},
				"content": {"type": "string"}
			},
			"required": ["type", "content"]
		}`,
		"get_artifact": `{
			"type": "object",
			"properties": {"ref": {"type": "string"}},
			"required": ["ref"]
		}`,
		"read_file": `{
			"type": "object",
			"properties": {"path": {"type": "string"}},
			"required": ["path"]
		}`,
		"write_file": `{
			"type": "object",
			"properties": {
				"path": {"type": "string"},
				"content": {"type": "string"}
			},
			"required": ["path", "content"]
		}`,
		"list_files": `{
			"type": "object",
			"properties": {"path": {"type": "string"}}
		}`,
		"run_command": `{
			"type": "object",
			"properties": {
				"command": {"type": "string"},
				"timeoutMs": {"type": "number"}
			},
			"required": ["command"]
		}`,
		"run_javascript": `{
			"type": "object",
			"properties": {
				"code": {"type": "string"},
				"input": {"type": "string"}
			},
			"required": ["code"]
		}`,
		"compress_context": `{
			"type": "object",
			"properties": {
				"summary": {"type": "string"},
				"keepRecentCount": {"type": "number"}
			},
			"required": ["summary"]
		}`,
		"console_print": `{
			"type": "object",
			"properties": {"text": {"type": "string"}},
			"required": ["text"]
		}`,
	}

	for name, src := range raw {
		compiled, err := jsonschema.CompileString(name+".schema.json", src)
		if err != nil {
			panic(fmt.Sprintf("toolexec: invalid built-in schema for %s: %v", name, err))
		}
		argSchemas[name] = compiled
	}
}

// validateArgs checks rawArgs against toolName's registered schema, if any.
// Tools with no entry (get_workspace_info, get_context_status: no
// arguments) skip validation. An empty rawArgs is treated as "{}" so a
// schema with required fields still rejects a call that omits them.
func validateArgs(toolName string, rawArgs json.RawMessage) error {
	schema, ok := argSchemas[toolName]
	if !ok {
		return nil
	}
	payload := rawArgs
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("参数解析失败")
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("tool arguments failed validation: %w", err)
	}
	return nil
}
