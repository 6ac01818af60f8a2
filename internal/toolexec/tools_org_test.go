package toolexec

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/haasonsaas/nexus/pkg/models"
)

func TestSendMessageToUnknownAgentReportsAgentNotFound(t *testing.T) {
	exec, _, _ := newTestExecutor(t)
	ectx := ExecContext{CallerAgentID: models.ReservedRoot}

	out := exec.Dispatch(context.Background(), ectx, "send_message", json.RawMessage(`{"to":"does-not-exist","payload":"hi"}`))
	var res errResult
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Error != models.ErrKindAgentNotFound {
		t.Fatalf("expected %q, got %q", models.ErrKindAgentNotFound, res.Error)
	}
}

func TestSendMessageToUserSetsYieldRequested(t *testing.T) {
	exec, org, _ := newTestExecutor(t)
	role, _ := org.CreateRole("clerk", "prompt", nil, models.ReservedRoot)
	meta, _ := org.CreateAgent(role.ID, models.ReservedRoot)
	ectx := ExecContext{CallerAgentID: meta.ID}

	out := exec.Dispatch(context.Background(), ectx, "send_message", json.RawMessage(`{"to":"user","payload":"done"}`))
	var res sendMessageResult
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !res.YieldRequested {
		t.Fatal("expected yieldRequested for a message sent to user")
	}
}
