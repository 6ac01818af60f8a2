// Package bus implements the per-recipient message bus: FIFO immediate
// queues, a time-ordered delayed queue, interruption notification, and the
// accept/reject policy driven by recipient compute status.
package bus

import (
	"container/heap"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/nexus/pkg/models"
)

// StatusOracle answers "what is this agent's current ComputeStatus" so Send
// can apply its rejection policy without the bus owning agent state
// itself.
type StatusOracle func(agentID string) models.ComputeStatus

// InterruptionHandler is notified, asynchronously, when an immediate
// message is accepted for a recipient that is currently waiting_llm or
// processing. It must not block Send.
type InterruptionHandler func(agentID string, msg *models.Message)

// SendResult is the outcome of Send.
type SendResult struct {
	MessageID            string
	ScheduledDeliveryTime *time.Time
	Rejected              bool
	Reason                string
}

// SendRequest is the input to Send. DelayMs is coerced: non-positive
// becomes 0 (immediate).
type SendRequest struct {
	From    string
	To      string
	Payload models.Payload
	TaskID  string
	DelayMs int64
}

// Bus is the concurrency-safe message bus. All exported methods are safe
// for concurrent use; queue mutations never interleave partial state.
type Bus struct {
	mu sync.Mutex

	immediate map[string][]*models.Message
	delayed   delayedHeap

	seq int64

	oracle       StatusOracle
	interruption InterruptionHandler

	// notify is closed and replaced whenever any immediate queue gains a
	// message, waking goroutines parked in WaitForMessage.
	notify chan struct{}

	logger *slog.Logger
}

// New creates an empty Bus. If oracle is nil, no recipient is ever
// considered stopped (every Send is accepted) — callers almost always want
// to supply one via SetStatusOracle before the scheduler starts.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		immediate: make(map[string][]*models.Message),
		notify:    make(chan struct{}),
		logger:    logger,
	}
}

// SetStatusOracle registers the callback Send uses to decide whether a
// recipient currently rejects inbound messages.
func (b *Bus) SetStatusOracle(oracle StatusOracle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.oracle = oracle
}

// OnInterruption registers the handler invoked when an immediate message
// arrives for a recipient that is mid-turn (waiting_llm/processing). Only
// one handler may be registered; a later call replaces the former.
func (b *Bus) OnInterruption(handler InterruptionHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interruption = handler
}

// Send accepts or rejects a message. DelayMs<=0 delivers immediately;
// DelayMs>0 enqueues on the delayed heap with deliverAt = now+delayMs.
func (b *Bus) Send(req SendRequest) SendResult {
	if req.DelayMs < 0 {
		req.DelayMs = 0
	}

	b.mu.Lock()

	status := models.ComputeStatus("")
	if b.oracle != nil {
		status = b.oracle(req.To)
	}
	if status.RejectsInbound() {
		b.mu.Unlock()
		return SendResult{Rejected: true, Reason: status.RejectionReason()}
	}

	msg := &models.Message{
		ID:        uuid.NewString(),
		From:      req.From,
		To:        req.To,
		Payload:   req.Payload,
		TaskID:    req.TaskID,
		CreatedAt: time.Now().Format(time.RFC3339Nano),
	}

	if req.DelayMs == 0 {
		b.immediate[req.To] = append(b.immediate[req.To], msg)
		b.wakeLocked()
		interrupt := b.shouldInterruptLocked(req.To, status)
		handler := b.interruption
		b.mu.Unlock()

		if interrupt && handler != nil {
			go handler(req.To, msg)
		}
		return SendResult{MessageID: msg.ID}
	}

	deliverAt := time.Now().Add(time.Duration(req.DelayMs) * time.Millisecond)
	msg.DeliverAt = deliverAt
	b.seq++
	msg.SetEnqueueIndex(b.seq)
	heap.Push(&b.delayed, &delayedEntry{msg: msg})
	b.mu.Unlock()

	return SendResult{MessageID: msg.ID, ScheduledDeliveryTime: &deliverAt}
}

// shouldInterruptLocked reports whether accepting msg for recipient should
// fire the interruption handler. Must be called with b.mu held.
func (b *Bus) shouldInterruptLocked(recipient string, status models.ComputeStatus) bool {
	if status == "" && b.oracle != nil {
		status = b.oracle(recipient)
	}
	return status.Active()
}

// ReceiveNext pops the oldest immediate-queue message for agentID, or nil
// if the queue is empty.
func (b *Bus) ReceiveNext(agentID string) *models.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.immediate[agentID]
	if len(q) == 0 {
		return nil
	}
	msg := q[0]
	b.immediate[agentID] = q[1:]
	return msg
}

// HasPending reports whether any recipient has an immediate message
// waiting. Used by the scheduler to decide whether to wait or spin.
func (b *Bus) HasPending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, q := range b.immediate {
		if len(q) > 0 {
			return true
		}
	}
	return false
}

// DeliverDueMessages moves every delayed entry whose deliverAt has arrived
// into its recipient's immediate queue, preserving (deliverAt, enqueue-index)
// order, and returns how many were moved.
func (b *Bus) DeliverDueMessages() int {
	now := time.Now()
	b.mu.Lock()
	count := b.drainDueLocked(now)
	if count > 0 {
		b.wakeLocked()
	}
	b.mu.Unlock()
	return count
}

// ForceDeliverAllDelayed flushes every delayed entry regardless of
// deliverAt, used during shutdown drain.
func (b *Bus) ForceDeliverAllDelayed() int {
	b.mu.Lock()
	count := 0
	for b.delayed.Len() > 0 {
		entry := heap.Pop(&b.delayed).(*delayedEntry)
		b.immediate[entry.msg.To] = append(b.immediate[entry.msg.To], entry.msg)
		count++
	}
	if count > 0 {
		b.wakeLocked()
	}
	b.mu.Unlock()
	return count
}

// drainDueLocked must be called with b.mu held.
func (b *Bus) drainDueLocked(now time.Time) int {
	count := 0
	for b.delayed.Len() > 0 {
		top := b.delayed[0]
		if top.msg.DeliverAt.After(now) {
			break
		}
		entry := heap.Pop(&b.delayed).(*delayedEntry)
		b.immediate[entry.msg.To] = append(b.immediate[entry.msg.To], entry.msg)
		count++
	}
	return count
}

// WaitForMessage blocks until some recipient's immediate queue becomes
// non-empty or timeout elapses, returning false on timeout.
func (b *Bus) WaitForMessage(timeout time.Duration) bool {
	b.mu.Lock()
	if b.hasPendingLocked() {
		b.mu.Unlock()
		return true
	}
	ch := b.notify
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}

func (b *Bus) hasPendingLocked() bool {
	for _, q := range b.immediate {
		if len(q) > 0 {
			return true
		}
	}
	return false
}

// wakeLocked must be called with b.mu held; it wakes all WaitForMessage
// callers currently parked.
func (b *Bus) wakeLocked() {
	close(b.notify)
	b.notify = make(chan struct{})
}

// QueueDepth returns the number of immediate-queue messages waiting for
// agentID.
func (b *Bus) QueueDepth(agentID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.immediate[agentID])
}

// DelayedCount returns the number of delayed entries for agentID, or the
// total across all recipients if agentID is "".
func (b *Bus) DelayedCount(agentID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if agentID == "" {
		return b.delayed.Len()
	}
	count := 0
	for _, e := range b.delayed {
		if e.msg.To == agentID {
			count++
		}
	}
	return count
}

// PendingCount returns the total number of immediate-queue messages across
// all recipients.
func (b *Bus) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, q := range b.immediate {
		total += len(q)
	}
	return total
}

// ClearQueue discards all immediate-queue messages for agentID, e.g. on
// Abort/Terminate/stop.
func (b *Bus) ClearQueue(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.immediate, agentID)
}

// delayedEntry wraps a message for the delayed min-heap.
type delayedEntry struct {
	msg *models.Message
}

// delayedHeap orders by (deliverAt asc, enqueue-index asc), satisfying
// invariant 3.
type delayedHeap []*delayedEntry

func (h delayedHeap) Len() int { return len(h) }
func (h delayedHeap) Less(i, j int) bool {
	di, dj := h[i].msg.DeliverAt, h[j].msg.DeliverAt
	if di.Equal(dj) {
		return h[i].msg.EnqueueIndex() < h[j].msg.EnqueueIndex()
	}
	return di.Before(dj)
}
func (h delayedHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *delayedHeap) Push(x any)   { *h = append(*h, x.(*delayedEntry)) }
func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
