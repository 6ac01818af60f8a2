// Package lifecycle implements the ComputeStatus state machine and
// AgentLifecycle operations of and §4.6: spawn, terminate,
// idle tracking, and the guarded per-agent status transitions that gate
// bus delivery and LLM cancellation.
package lifecycle

import (
	"sync"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// ErrInvalidTransition is returned when a requested ComputeStatus
// transition is not permitted from the agent's current state.
type ErrInvalidTransition struct {
	From, To models.ComputeStatus
}

func (e *ErrInvalidTransition) Error() string {
	return "invalid transition from " + string(e.From) + " to " + string(e.To)
}

type agentState struct {
	mu           sync.Mutex
	status       models.ComputeStatus
	lastActivity time.Time
	idleWarned   bool
}

// OnTransition is invoked after status changes, outside the per-agent
// lock, so hooks (ClearQueue, cancellation, logging) never deadlock with
// a concurrent state read.
type OnTransition func(agentID string, from, to models.ComputeStatus)

// StateMachine tracks ComputeStatus for every known agent, guarded by a
// per-agent lock so Abort and dispatch never race on the same agent (spec
// §4.6).
type StateMachine struct {
	mu     sync.Mutex
	agents map[string]*agentState

	onStopping   OnTransition
	onTerminated OnTransition
}

// NewStateMachine creates an empty StateMachine.
func NewStateMachine() *StateMachine {
	return &StateMachine{agents: make(map[string]*agentState)}
}

// OnEnterStopping registers a hook fired whenever an agent transitions
// into stopping or stopped (used by the scheduler to clear the bus queue).
func (sm *StateMachine) OnEnterStopping(fn OnTransition) { sm.onStopping = fn }

// OnEnterTerminated registers a hook fired when an agent transitions into
// terminating.
func (sm *StateMachine) OnEnterTerminated(fn OnTransition) { sm.onTerminated = fn }

// Register seeds agentID's status as idle with last-activity=now. No-op if
// already registered.
func (sm *StateMachine) Register(agentID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if _, ok := sm.agents[agentID]; ok {
		return
	}
	sm.agents[agentID] = &agentState{status: models.StatusIdle, lastActivity: time.Now()}
}

// Forget removes agentID from the state machine entirely (post-termination
// cleanup).
func (sm *StateMachine) Forget(agentID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.agents, agentID)
}

func (sm *StateMachine) get(agentID string) *agentState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	st, ok := sm.agents[agentID]
	if !ok {
		st = &agentState{status: models.StatusIdle, lastActivity: time.Now()}
		sm.agents[agentID] = st
	}
	return st
}

// Status returns agentID's current ComputeStatus.
func (sm *StateMachine) Status(agentID string) models.ComputeStatus {
	st := sm.get(agentID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.status
}

// allowedFrom enumerates the legal predecessor states for each target
// status, per the diagram in .
var allowedFrom = map[models.ComputeStatus]map[models.ComputeStatus]bool{
	models.StatusProcessing: {
		models.StatusIdle:       true,
		models.StatusWaitingLLM: true,
	},
	models.StatusWaitingLLM: {
		models.StatusProcessing: true,
	},
	models.StatusIdle: {
		models.StatusProcessing:  true,
		models.StatusWaitingLLM:  true,
		models.StatusStopping:    true, // Abort(cascade=true) may restore idle directly
	},
	models.StatusStopping: {
		models.StatusWaitingLLM: true,
		models.StatusProcessing: true,
		models.StatusIdle:       true,
	},
	models.StatusStopped: {
		models.StatusStopping: true,
	},
	models.StatusTerminating: {
		models.StatusIdle:       true,
		models.StatusProcessing: true,
		models.StatusWaitingLLM: true,
		models.StatusStopping:   true,
		models.StatusStopped:    true,
	},
}

// Transition moves agentID from its current status to to, enforcing the
// allowed-predecessor table. It updates last-activity on any transition
// into processing (i.e. on dispatch).
func (sm *StateMachine) Transition(agentID string, to models.ComputeStatus) error {
	st := sm.get(agentID)

	st.mu.Lock()
	from := st.status
	if from == to {
		st.mu.Unlock()
		return nil
	}
	if preds, ok := allowedFrom[to]; !ok || !preds[from] {
		st.mu.Unlock()
		return &ErrInvalidTransition{From: from, To: to}
	}
	st.status = to
	if to == models.StatusProcessing {
		st.lastActivity = time.Now()
		st.idleWarned = false
	}
	st.mu.Unlock()

	if to == models.StatusStopping || to == models.StatusStopped {
		if sm.onStopping != nil {
			sm.onStopping(agentID, from, to)
		}
	}
	if to == models.StatusTerminating {
		if sm.onTerminated != nil {
			sm.onTerminated(agentID, from, to)
		}
	}
	return nil
}

// Abort requests a stop for agentID. With cascade=false only {waiting_llm,
// processing} may transition to stopping; idle agents are left untouched.
// With cascade=true, idle is also accepted (cascading to descendants is
// the caller's responsibility — AgentLifecycle.Abort).
func (sm *StateMachine) Abort(agentID string, cascade bool) error {
	current := sm.Status(agentID)
	if !cascade && current != models.StatusWaitingLLM && current != models.StatusProcessing {
		return nil
	}
	if current == models.StatusStopping || current == models.StatusStopped || current == models.StatusTerminating {
		return nil
	}
	return sm.Transition(agentID, models.StatusStopping)
}

// MarkStopped finalizes a stopping agent's cleanup into stopped.
func (sm *StateMachine) MarkStopped(agentID string) error {
	return sm.Transition(agentID, models.StatusStopped)
}

// UpdateActivity stamps agentID's last-activity time to now and clears any
// idle warning, called on every dispatch.
func (sm *StateMachine) UpdateActivity(agentID string) {
	st := sm.get(agentID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.lastActivity = time.Now()
	st.idleWarned = false
}

// IdleTime returns how long agentID has been since its last activity.
func (sm *StateMachine) IdleTime(agentID string) time.Duration {
	st := sm.get(agentID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return time.Since(st.lastActivity)
}

// CheckIdleAgents returns the ids of agents whose idle time exceeds
// threshold and have not yet been warned, marking them warned
// idempotently.
func (sm *StateMachine) CheckIdleAgents(threshold time.Duration) []string {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var warned []string
	now := time.Now()
	for id, st := range sm.agents {
		st.mu.Lock()
		if st.status == models.StatusIdle && !st.idleWarned && now.Sub(st.lastActivity) >= threshold {
			st.idleWarned = true
			warned = append(warned, id)
		}
		st.mu.Unlock()
	}
	return warned
}
