package toolexec

import (
	"context"
	"encoding/json"
)

func (e *Executor) registerConsoleTools() {
	e.register("console_print", "console", consolePrint)
}

type consolePrintArgs struct {
	Text string `json:"text"`
}

// consolePrint is a diagnostic tool: its output goes to the runtime log,
// not to any conversation or message recipient.
func consolePrint(_ context.Context, ectx ExecContext, e *Executor, args json.RawMessage) (any, error) {
	var in consolePrintArgs
	if err := parseArgs(args, &in); err != nil {
		return nil, err
	}
	e.Logger.Info("console_print", "agentId", ectx.CallerAgentID, "text", in.Text)
	return map[string]bool{"ok": true}, nil
}
