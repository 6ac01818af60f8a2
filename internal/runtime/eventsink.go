package runtime

import (
	"context"

	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/pkg/models"
)

// eventSink adapts observability.Metrics/EventRecorder to the
// llmhandler.EventSink interface, so every tool-call stage the handler
// emits also lands on the Prometheus counters and the event timeline.
type eventSink struct {
	bundle *observability.Bundle
}

func (s *eventSink) Emit(ev models.ToolEvent) {
	ctx := context.Background()

	if s.bundle.Events != nil {
		switch ev.Stage {
		case models.ToolEventStarted:
			_ = s.bundle.Events.RecordToolStart(ctx, ev.ToolName, string(ev.Input))
		case models.ToolEventSucceeded:
			_ = s.bundle.Events.RecordToolEnd(ctx, ev.ToolName, ev.FinishedAt.Sub(ev.StartedAt), ev.Output, nil)
		case models.ToolEventFailed:
			_ = s.bundle.Events.RecordToolEnd(ctx, ev.ToolName, ev.FinishedAt.Sub(ev.StartedAt), ev.Output, errString(ev.Error))
		default:
			_ = s.bundle.Events.Record(ctx, observability.EventTypeToolProgress, ev.ToolName, map[string]interface{}{
				"tool_call_id":  ev.ToolCallID,
				"stage":         string(ev.Stage),
				"attempt":       ev.Attempt,
				"policy_reason": ev.PolicyReason,
			})
		}
	}

	if s.bundle.Metrics == nil {
		return
	}
	switch ev.Stage {
	case models.ToolEventSucceeded:
		s.bundle.Metrics.RecordToolExecution(ev.ToolName, "success", durationSeconds(ev))
	case models.ToolEventFailed:
		s.bundle.Metrics.RecordToolExecution(ev.ToolName, "error", durationSeconds(ev))
		s.bundle.Metrics.RecordError("toolexec", ev.ToolName)
	case models.ToolEventDenied:
		s.bundle.Metrics.RecordToolExecution(ev.ToolName, "denied", durationSeconds(ev))
	}
}

func durationSeconds(ev models.ToolEvent) float64 {
	if ev.StartedAt.IsZero() || ev.FinishedAt.IsZero() {
		return 0
	}
	return ev.FinishedAt.Sub(ev.StartedAt).Seconds()
}

func errString(s string) error {
	if s == "" {
		return nil
	}
	return errorString(s)
}

type errorString string

func (e errorString) Error() string { return string(e) }
