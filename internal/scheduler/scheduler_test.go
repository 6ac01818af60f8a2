package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/bus"
	"github.com/haasonsaas/nexus/internal/concurrency"
	"github.com/haasonsaas/nexus/internal/contacts"
	"github.com/haasonsaas/nexus/internal/conversation"
	"github.com/haasonsaas/nexus/internal/lifecycle"
	"github.com/haasonsaas/nexus/internal/orgstate"
	"github.com/haasonsaas/nexus/internal/workspace"
	"github.com/haasonsaas/nexus/pkg/models"
)

// fakeHandler records every agentID/message it is asked to handle, idling
// the agent on completion as the real llmhandler.Handler would, and can be
// told to panic or to block until released.
type fakeHandler struct {
	mu      sync.Mutex
	handled []string
	lc      *lifecycle.Lifecycle

	panicOn string
	block   chan struct{}
}

func (f *fakeHandler) Handle(ctx context.Context, agentID string, msg *models.Message) {
	f.mu.Lock()
	f.handled = append(f.handled, agentID)
	panicNow := f.panicOn == agentID
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if panicNow {
		panic("boom")
	}
	_ = f.lc.States().Transition(agentID, models.StatusIdle)
}

func (f *fakeHandler) handledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handled)
}

type testRig struct {
	org  *orgstate.OrgState
	bus  *bus.Bus
	lc   *lifecycle.Lifecycle
	h    *fakeHandler
	sch  *Scheduler
}

func newTestRig(t *testing.T, cfg Config) *testRig {
	t.Helper()
	org := orgstate.New(nil, nil)
	org.Bootstrap()
	states := lifecycle.NewStateMachine()
	contactsReg := contacts.New()
	b := bus.New(nil)
	conv := conversation.New(nil, 1000, conversation.DefaultThresholds())
	conc := concurrency.New(4)
	ws := workspace.NewManager(t.TempDir())
	lc := lifecycle.New(org, states, contactsReg, b, conv, conc, ws, nil)
	b.SetStatusOracle(func(agentID string) models.ComputeStatus { return states.Status(agentID) })

	h := &fakeHandler{lc: lc}
	sch := New(b, org, lc, h, nil, cfg)
	return &testRig{org: org, bus: b, lc: lc, h: h, sch: sch}
}

func (r *testRig) newAgent(t *testing.T) string {
	t.Helper()
	role, err := r.org.CreateRole("worker", "Handle requests.", nil, models.ReservedRoot)
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	meta, err := r.lc.Spawn(models.ReservedRoot, role.ID)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	return meta.ID
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestSchedulerDispatchesPendingMessage(t *testing.T) {
	rig := newTestRig(t, Config{MaxConcurrent: 2})
	agentID := rig.newAgent(t)
	rig.bus.Send(bus.SendRequest{From: models.ReservedUser, To: agentID, Payload: models.Payload{Text: "hi"}})

	if err := rig.sch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rig.sch.Stop(context.Background())

	waitFor(t, time.Second, func() bool { return rig.h.handledCount() == 1 })
}

func TestSchedulerSerializesPerAgent(t *testing.T) {
	rig := newTestRig(t, Config{MaxConcurrent: 4})
	agentID := rig.newAgent(t)
	block := make(chan struct{})
	rig.h.block = block

	rig.bus.Send(bus.SendRequest{From: models.ReservedUser, To: agentID, Payload: models.Payload{Text: "one"}})

	if err := rig.sch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		close(block)
		rig.sch.Stop(context.Background())
	}()

	waitFor(t, time.Second, func() bool { return rig.sch.IsActive(agentID) })

	// Status stays stuck in waiting/processing while the handler blocks, so
	// a second queued message for the same agent must not be dispatched
	// concurrently — ReceiveNext would hand it to tryDispatch, but the
	// active-processing set should keep it from being picked up twice.
	rig.bus.Send(bus.SendRequest{From: models.ReservedUser, To: agentID, Payload: models.Payload{Text: "two"}})
	time.Sleep(20 * time.Millisecond)
	if rig.sch.ActiveCount() != 1 {
		t.Fatalf("expected exactly one active handler, got %d", rig.sch.ActiveCount())
	}
}

func TestSchedulerRecoversFromHandlerPanic(t *testing.T) {
	rig := newTestRig(t, Config{MaxConcurrent: 2})
	agentID := rig.newAgent(t)
	rig.h.panicOn = agentID

	parent, _ := rig.org.GetAgent(agentID)

	rig.bus.Send(bus.SendRequest{From: models.ReservedUser, To: agentID, Payload: models.Payload{Text: "hi"}})
	if err := rig.sch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rig.sch.Stop(context.Background())

	waitFor(t, time.Second, func() bool { return rig.h.handledCount() == 1 })
	waitFor(t, time.Second, func() bool { return rig.bus.QueueDepth(parent.ParentAgentID) > 0 })

	msg := rig.bus.ReceiveNext(parent.ParentAgentID)
	if msg == nil || msg.Payload.ErrorType != "handler_panic" {
		t.Fatalf("expected handler_panic escalation to parent, got %+v", msg)
	}
	waitFor(t, time.Second, func() bool { return rig.lc.States().Status(agentID) == models.StatusIdle })
}

func TestSchedulerStopDrainsBeforeForceDeliveringDelayed(t *testing.T) {
	rig := newTestRig(t, Config{MaxConcurrent: 2, DrainPollInterval: time.Millisecond})
	agentID := rig.newAgent(t)

	rig.bus.Send(bus.SendRequest{From: models.ReservedUser, To: agentID, Payload: models.Payload{Text: "now"}})
	rig.bus.Send(bus.SendRequest{From: models.ReservedUser, To: agentID, Payload: models.Payload{Text: "later"}, DelayMs: 3600_000})

	if err := rig.sch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, time.Second, func() bool { return rig.h.handledCount() >= 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	result := rig.sch.Stop(ctx)

	if result.TimedOut {
		t.Fatalf("expected drain to finish before deadline, got timeout")
	}
	// The far-future delayed message should have been force-delivered so it
	// isn't silently lost on shutdown.
	if rig.bus.QueueDepth(agentID) == 0 {
		t.Fatalf("expected force-delivered delayed message to land in agent's queue")
	}
}

func TestSchedulerDispatchesMessagesSentToRoot(t *testing.T) {
	rig := newTestRig(t, Config{MaxConcurrent: 2})
	rig.bus.Send(bus.SendRequest{From: models.ReservedUser, To: models.ReservedRoot, Payload: models.Payload{Text: "hello"}})

	if err := rig.sch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rig.sch.Stop(context.Background())

	waitFor(t, time.Second, func() bool { return rig.h.handledCount() == 1 })
	if rig.h.handled[0] != models.ReservedRoot {
		t.Fatalf("expected root to be dispatched, got %v", rig.h.handled)
	}
}

func TestSchedulerCandidateOrderIncludesRootExcludesUser(t *testing.T) {
	rig := newTestRig(t, Config{})
	ids := rig.sch.candidateOrder()
	found := map[string]bool{}
	for _, id := range ids {
		found[id] = true
	}
	if !found[models.ReservedRoot] {
		t.Fatalf("expected root in candidate order, got %v", ids)
	}
	if found[models.ReservedUser] {
		t.Fatalf("expected user excluded from candidate order, got %v", ids)
	}
}

func TestSchedulerCandidateOrderIsStable(t *testing.T) {
	rig := newTestRig(t, Config{})
	a1 := rig.newAgent(t)
	a2 := rig.newAgent(t)

	order1 := rig.sch.candidateOrder()
	order2 := rig.sch.candidateOrder()
	if len(order1) != len(order2) {
		t.Fatalf("candidate order length changed across calls")
	}
	for i := range order1 {
		if order1[i] != order2[i] {
			t.Fatalf("candidate order not stable: %v vs %v", order1, order2)
		}
	}
	found := map[string]bool{}
	for _, id := range order1 {
		found[id] = true
	}
	if !found[a1] || !found[a2] {
		t.Fatalf("expected both agents in candidate order, got %v", order1)
	}
}
