// Package scheduler implements the single-goroutine dispatch loop:
// deliver due delayed messages, dispatch at most maxConcurrent handler
// tasks at a time (one per agent, serialized per agent by an
// active-processing set), and drain pending work on shutdown before
// force-delivering any remaining delayed messages.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/nexus/internal/bus"
	"github.com/haasonsaas/nexus/internal/lifecycle"
	"github.com/haasonsaas/nexus/internal/orgstate"
	"github.com/haasonsaas/nexus/pkg/models"
)

// Handler is the per-message turn engine the scheduler dispatches into,
// satisfied by llmhandler.Handler.
type Handler interface {
	Handle(ctx context.Context, agentID string, msg *models.Message)
}

// Config tunes Scheduler behavior; zero values are replaced with defaults
// by New.
type Config struct {
	// MaxConcurrent caps in-flight handler tasks.
	MaxConcurrent int

	// WaitTimeout bounds how long the loop blocks in bus.WaitForMessage
	// when nothing is pending.
	WaitTimeout time.Duration

	// SpinInterval is the fallback sleep when work exists but every
	// candidate agent is already active-processing.
	SpinInterval time.Duration

	// DrainPollInterval governs how often Stop re-checks whether pending
	// work has drained.
	DrainPollInterval time.Duration
}

const (
	DefaultMaxConcurrent     = 8
	DefaultWaitTimeout       = 100 * time.Millisecond
	DefaultSpinInterval      = 10 * time.Millisecond
	DefaultDrainPollInterval = 10 * time.Millisecond
)

func sanitizeConfig(cfg Config) Config {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	if cfg.SpinInterval <= 0 {
		cfg.SpinInterval = DefaultSpinInterval
	}
	if cfg.DrainPollInterval <= 0 {
		cfg.DrainPollInterval = DefaultDrainPollInterval
	}
	return cfg
}

// DrainResult reports the outcome of Stop's shutdown drain.
type DrainResult struct {
	PendingMessages int
	ActiveAgents    int
	TimedOut        bool
}

// Scheduler is the single main-loop dispatcher over a message bus.
type Scheduler struct {
	bus     *bus.Bus
	org     *orgstate.OrgState
	lc      *lifecycle.Lifecycle
	handler Handler
	cfg     Config
	logger  *slog.Logger

	mu      sync.Mutex
	active  map[string]bool
	running bool
	cancel  context.CancelFunc

	wg sync.WaitGroup
}

// New wires a Scheduler from its collaborators.
func New(msgBus *bus.Bus, org *orgstate.OrgState, lc *lifecycle.Lifecycle, handler Handler, logger *slog.Logger, cfg Config) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		bus:     msgBus,
		org:     org,
		lc:      lc,
		handler: handler,
		cfg:     sanitizeConfig(cfg),
		logger:  logger,
		active:  make(map[string]bool),
	}
}

// Start launches the dispatch loop as a detached goroutine. Handler tasks
// are run against ctx directly (not the loop's own cancellation), so an
// in-progress turn is not aborted merely because the loop is told to stop
// accepting new work — Stop drains them instead.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.loop(loopCtx, ctx)

	s.logger.Info("scheduler started", "maxConcurrent", s.cfg.MaxConcurrent)
	return nil
}

// loop delivers due messages, tries to dispatch, and either waits for new
// work or yields briefly if work exists but couldn't be scheduled (every
// candidate agent already active).
func (s *Scheduler) loop(loopCtx, handlerCtx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-loopCtx.Done():
			return
		default:
		}

		s.bus.DeliverDueMessages()
		if !s.tryDispatch(handlerCtx) {
			if !s.bus.HasPending() {
				s.bus.WaitForMessage(s.cfg.WaitTimeout)
			} else {
				time.Sleep(s.cfg.SpinInterval)
			}
		}
	}
}

// tryDispatch attempts to schedule one more handler task: if the in-flight
// count is already at cap, it does nothing. Otherwise it scans registered
// agents in a stable (sorted-by-id) order for the first non-reserved,
// non-terminated, not-already-active agent with a waiting message, marks
// it active-processing, and launches its handler as a detached task.
func (s *Scheduler) tryDispatch(handlerCtx context.Context) bool {
	s.mu.Lock()
	if len(s.active) >= s.cfg.MaxConcurrent {
		s.mu.Unlock()
		return false
	}

	for _, agentID := range s.candidateOrder() {
		if s.active[agentID] {
			continue
		}
		msg := s.bus.ReceiveNext(agentID)
		if msg == nil {
			continue
		}
		s.active[agentID] = true
		s.mu.Unlock()
		s.dispatch(handlerCtx, agentID, msg)
		return true
	}
	s.mu.Unlock()
	return false
}

// candidateOrder returns every non-terminated agent id the loop may dispatch
// work to, in a stable order. user is excluded — it is the human sink with
// no LLM loop of its own — but root is an ordinary LLM-driven agent (its
// tool set is merely pinned to the org group) and must stay eligible, or
// messages sent to it queue forever with no dispatcher to pop them. Must be
// called without s.mu held.
func (s *Scheduler) candidateOrder() []string {
	metas := s.org.ListAgents()
	ids := make([]string, 0, len(metas))
	for _, m := range metas {
		if m.ID == models.ReservedUser || m.Status == models.AgentTerminated {
			continue
		}
		ids = append(ids, m.ID)
	}
	sort.Strings(ids)
	return ids
}

// dispatch runs handler.Handle for agentID/msg in a detached goroutine,
// clearing the active-processing mark on completion and isolating any
// panic at this boundary: the panic never reaches the scheduler loop, the
// agent's status is reset to idle, the failure is logged, and the parent
// is notified.
func (s *Scheduler) dispatch(handlerCtx context.Context, agentID string, msg *models.Message) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.active, agentID)
			s.mu.Unlock()
		}()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("handler panic recovered", "agentId", agentID, "recovered", r, "stack", string(debug.Stack()))
				_ = s.lc.States().Transition(agentID, models.StatusIdle)
				s.escalatePanic(agentID, msg, r)
			}
		}()
		s.handler.Handle(handlerCtx, agentID, msg)
	}()
}

// escalatePanic notifies agentID's parent that its handler failed with an
// unrecovered panic, mirroring llmhandler's error-escalation shape without
// depending on llmhandler (scheduler has no conversation store access; the
// diagnostic-conversation half of double escalation is LlmHandler's
// responsibility for errors it originates itself).
func (s *Scheduler) escalatePanic(agentID string, msg *models.Message, recovered any) {
	meta, ok := s.org.GetAgent(agentID)
	if !ok || meta.ParentAgentID == "" {
		return
	}
	extra := map[string]any{
		"agentId":   agentID,
		"errorType": "handler_panic",
		"timestamp": time.Now().Format(time.RFC3339Nano),
	}
	if msg != nil {
		extra["originalMessageId"] = msg.ID
		if msg.TaskID != "" {
			extra["taskId"] = msg.TaskID
		}
	}
	s.bus.Send(bus.SendRequest{
		From: agentID,
		To:   meta.ParentAgentID,
		Payload: models.Payload{
			Kind:      "error",
			ErrorType: "handler_panic",
			Text:      fmt.Sprintf("handler panicked: %v", recovered),
			Extra:     extra,
		},
	})
}

// IsActive reports whether agentID currently has a handler task running.
func (s *Scheduler) IsActive(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[agentID]
}

// ActiveCount returns the number of agents currently being handled.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Stop drains pending work — the loop keeps delivering due messages and
// dispatching handlers — until both the bus and the active-processing set
// are empty, or ctx's deadline passes, then force-delivers any remaining
// delayed messages and stops the loop.
func (s *Scheduler) Stop(ctx context.Context) DrainResult {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return DrainResult{}
	}
	s.mu.Unlock()

	timedOut := false
	for {
		if s.bus.PendingCount() == 0 && s.ActiveCount() == 0 {
			break
		}
		select {
		case <-ctx.Done():
			timedOut = true
		case <-time.After(s.cfg.DrainPollInterval):
			continue
		}
		if timedOut {
			break
		}
	}

	s.bus.ForceDeliverAllDelayed()

	s.mu.Lock()
	cancel := s.cancel
	s.running = false
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.logger.Info("scheduler stopped", "timedOut", timedOut)
	return DrainResult{
		PendingMessages: s.bus.PendingCount(),
		ActiveAgents:    s.ActiveCount(),
		TimedOut:        timedOut,
	}
}
