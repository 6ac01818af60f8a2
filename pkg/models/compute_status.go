package models

// ComputeStatus is the in-memory, per-agent finite state described in spec
// §4.6. It governs whether the bus accepts new messages for an agent and
// whether an in-flight LLM call may be cancelled.
type ComputeStatus string

const (
	StatusIdle        ComputeStatus = "idle"
	StatusWaitingLLM  ComputeStatus = "waiting_llm"
	StatusProcessing  ComputeStatus = "processing"
	StatusStopping    ComputeStatus = "stopping"
	StatusStopped     ComputeStatus = "stopped"
	StatusTerminating ComputeStatus = "terminating"
)

// Active reports whether a handler may currently be using an LLM call or
// running a tool for this status (waiting_llm or processing).
func (s ComputeStatus) Active() bool {
	return s == StatusWaitingLLM || s == StatusProcessing
}

// RejectsInbound reports whether the bus must reject new sends to an agent
// in this status.
func (s ComputeStatus) RejectsInbound() bool {
	return s == StatusStopping || s == StatusStopped || s == StatusTerminating
}

// RejectionReason returns the bus rejection reason string for this status,
// or "" if sends are accepted in this status.
func (s ComputeStatus) RejectionReason() string {
	switch s {
	case StatusStopping:
		return "agent_stopping"
	case StatusStopped:
		return "agent_stopped"
	case StatusTerminating:
		return "agent_terminating"
	default:
		return ""
	}
}
