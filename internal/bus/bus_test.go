package bus

import (
	"testing"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

func allActive(agentID string) models.ComputeStatus { return models.StatusIdle }

func TestSendReceiveFIFO(t *testing.T) {
	b := New(nil)
	b.SetStatusOracle(allActive)

	for i := 0; i < 5; i++ {
		res := b.Send(SendRequest{From: "root", To: "a", Payload: models.Payload{Text: string(rune('0' + i))}})
		if res.Rejected {
			t.Fatalf("unexpected rejection at %d", i)
		}
	}

	for i := 0; i < 5; i++ {
		msg := b.ReceiveNext("a")
		if msg == nil {
			t.Fatalf("expected message %d, got nil", i)
		}
		want := string(rune('0' + i))
		if msg.Payload.Text != want {
			t.Fatalf("out of order: got %q want %q", msg.Payload.Text, want)
		}
	}
	if msg := b.ReceiveNext("a"); msg != nil {
		t.Fatalf("expected empty queue, got %v", msg)
	}
}

func TestZeroAndNegativeDelayAreImmediate(t *testing.T) {
	b := New(nil)
	b.SetStatusOracle(allActive)

	r1 := b.Send(SendRequest{From: "u", To: "a", DelayMs: 0})
	r2 := b.Send(SendRequest{From: "u", To: "a", DelayMs: -5})

	if r1.Rejected || r2.Rejected {
		t.Fatal("unexpected rejection")
	}
	if r1.ScheduledDeliveryTime != nil || r2.ScheduledDeliveryTime != nil {
		t.Fatal("immediate sends must not carry a scheduled delivery time")
	}
	if depth := b.QueueDepth("a"); depth != 2 {
		t.Fatalf("expected queue depth 2, got %d", depth)
	}
}

func TestDelayedFIFOUnderEqualDeadline(t *testing.T) {
	b := New(nil)
	b.SetStatusOracle(allActive)

	for i := 0; i < 5; i++ {
		res := b.Send(SendRequest{From: "u", To: "a", DelayMs: 1, Payload: models.Payload{Text: string(rune('0' + i))}})
		if res.ScheduledDeliveryTime == nil {
			t.Fatalf("expected scheduled delivery time at %d", i)
		}
	}

	time.Sleep(50 * time.Millisecond)
	if n := b.DeliverDueMessages(); n != 5 {
		t.Fatalf("expected 5 delivered, got %d", n)
	}

	for i := 0; i < 5; i++ {
		msg := b.ReceiveNext("a")
		if msg == nil {
			t.Fatalf("expected message %d", i)
		}
		want := string(rune('0' + i))
		if msg.Payload.Text != want {
			t.Fatalf("delayed order broken: got %q want %q", msg.Payload.Text, want)
		}
	}
}

func TestDelayedNotPrematurelyDelivered(t *testing.T) {
	b := New(nil)
	b.SetStatusOracle(allActive)
	b.Send(SendRequest{From: "u", To: "a", DelayMs: 10_000})

	if n := b.DeliverDueMessages(); n != 0 {
		t.Fatalf("expected 0 delivered before deadline, got %d", n)
	}
	if msg := b.ReceiveNext("a"); msg != nil {
		t.Fatal("message delivered prematurely")
	}
}

func TestForceDeliverAllDelayed(t *testing.T) {
	b := New(nil)
	b.SetStatusOracle(allActive)
	for i := 0; i < 3; i++ {
		b.Send(SendRequest{From: "u", To: "a", DelayMs: 60_000})
	}
	if n := b.ForceDeliverAllDelayed(); n != 3 {
		t.Fatalf("expected 3 forced, got %d", n)
	}
	if b.DelayedCount("") != 0 {
		t.Fatal("delayed count should be 0 after force delivery")
	}
	if b.QueueDepth("a") != 3 {
		t.Fatal("expected all 3 in immediate queue")
	}
}

func TestRejectionOfStoppedAgent(t *testing.T) {
	b := New(nil)
	b.SetStatusOracle(func(agentID string) models.ComputeStatus {
		return models.StatusStopped
	})

	res := b.Send(SendRequest{From: "u", To: "a"})
	if !res.Rejected || res.Reason != "agent_stopped" {
		t.Fatalf("expected rejected agent_stopped, got %+v", res)
	}
	if b.QueueDepth("a") != 0 {
		t.Fatal("rejected message must not be queued")
	}
}

func TestInterruptionHandlerFiresForActiveRecipient(t *testing.T) {
	b := New(nil)
	status := models.StatusWaitingLLM
	b.SetStatusOracle(func(agentID string) models.ComputeStatus { return status })

	done := make(chan string, 1)
	b.OnInterruption(func(agentID string, msg *models.Message) {
		done <- agentID
	})

	b.Send(SendRequest{From: "u", To: "a"})

	select {
	case agentID := <-done:
		if agentID != "a" {
			t.Fatalf("expected interruption for a, got %s", agentID)
		}
	case <-time.After(time.Second):
		t.Fatal("interruption handler did not fire")
	}

	// The message must still be queued even though the handler fired.
	if b.QueueDepth("a") != 1 {
		t.Fatal("interrupting message should still be queued")
	}
}

func TestWaitForMessageTimesOut(t *testing.T) {
	b := New(nil)
	if b.WaitForMessage(20 * time.Millisecond) {
		t.Fatal("expected timeout with no pending messages")
	}
}

func TestWaitForMessageWakesOnSend(t *testing.T) {
	b := New(nil)
	b.SetStatusOracle(allActive)

	done := make(chan bool, 1)
	go func() {
		done <- b.WaitForMessage(time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	b.Send(SendRequest{From: "u", To: "a"})

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("expected WaitForMessage to report a message arrived")
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForMessage did not wake up")
	}
}

func TestClearQueue(t *testing.T) {
	b := New(nil)
	b.SetStatusOracle(allActive)
	b.Send(SendRequest{From: "u", To: "a"})
	b.ClearQueue("a")
	if b.QueueDepth("a") != 0 {
		t.Fatal("expected queue cleared")
	}
}
