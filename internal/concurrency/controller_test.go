package concurrency

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestExecuteRunsImmediatelyUnderCap(t *testing.T) {
	c := New(2)
	ran := false
	_, err := c.Execute(context.Background(), "a", func(ctx context.Context) (any, error) {
		ran = true
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Fatal("expected fn to run")
	}
}

func TestDuplicateRequestRejected(t *testing.T) {
	c := New(1)
	started := make(chan struct{})
	release := make(chan struct{})

	go c.Execute(context.Background(), "a", func(ctx context.Context) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	<-started

	_, err := c.Execute(context.Background(), "a", func(ctx context.Context) (any, error) {
		return nil, nil
	})
	if err != ErrDuplicateRequest {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}
	close(release)
}

func TestMaxConcurrentInvariant(t *testing.T) {
	c := New(2)
	var mu sync.Mutex
	maxObserved := 0
	current := 0

	var wg sync.WaitGroup
	release := make(chan struct{})
	for i := 0; i < 5; i++ {
		wg.Add(1)
		agentID := string(rune('a' + i))
		go func() {
			defer wg.Done()
			c.Execute(context.Background(), agentID, func(ctx context.Context) (any, error) {
				mu.Lock()
				current++
				if current > maxObserved {
					maxObserved = current
				}
				mu.Unlock()

				<-release

				mu.Lock()
				current--
				mu.Unlock()
				return nil, nil
			})
		}()
	}

	time.Sleep(50 * time.Millisecond)
	stats := c.GetStats()
	if stats.Active > 2 {
		t.Fatalf("active exceeded cap: %+v", stats)
	}
	close(release)
	wg.Wait()

	if maxObserved > 2 {
		t.Fatalf("observed %d concurrent executions, want <= 2", maxObserved)
	}
}

func TestFIFOOrdering(t *testing.T) {
	c := New(1)
	started := make(chan struct{})
	release := make(chan struct{})
	var order []string
	var mu sync.Mutex

	go c.Execute(context.Background(), "first", func(ctx context.Context) (any, error) {
		close(started)
		<-release
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
		return nil, nil
	})
	<-started

	var wg sync.WaitGroup
	for _, id := range []string{"second", "third", "fourth"} {
		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			c.Execute(context.Background(), agentID, func(ctx context.Context) (any, error) {
				mu.Lock()
				order = append(order, agentID)
				mu.Unlock()
				return nil, nil
			})
		}(id)
		time.Sleep(5 * time.Millisecond) // stabilize queue arrival order
	}

	close(release)
	wg.Wait()

	want := []string{"first", "second", "third", "fourth"}
	if len(order) != len(want) {
		t.Fatalf("got order %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got order %v, want %v", order, want)
		}
	}
}

func TestCancelActiveRequest(t *testing.T) {
	c := New(1)
	started := make(chan struct{})

	resultCh := make(chan error, 1)
	go func() {
		_, err := c.Execute(context.Background(), "a", func(ctx context.Context) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})
		resultCh <- err
	}()

	<-started
	c.Cancel("a")

	select {
	case err := <-resultCh:
		if err == nil {
			t.Fatal("expected cancellation error")
		}
	case <-time.After(time.Second):
		t.Fatal("Execute did not return after Cancel")
	}
}

func TestCancelQueuedRequest(t *testing.T) {
	c := New(1)
	blockStarted := make(chan struct{})
	blockRelease := make(chan struct{})
	go c.Execute(context.Background(), "blocker", func(ctx context.Context) (any, error) {
		close(blockStarted)
		<-blockRelease
		return nil, nil
	})
	<-blockStarted

	queuedCtx, cancel := context.WithCancel(context.Background())
	resultCh := make(chan error, 1)
	go func() {
		_, err := c.Execute(queuedCtx, "queued", func(ctx context.Context) (any, error) {
			return nil, nil
		})
		resultCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if stats := c.GetStats(); stats.QueueLength != 1 {
		t.Fatalf("expected 1 queued, got %+v", stats)
	}

	c.Cancel("queued")
	cancel()

	select {
	case err := <-resultCh:
		if err == nil {
			t.Fatal("expected error for cancelled queued request")
		}
	case <-time.After(time.Second):
		t.Fatal("queued Execute did not return")
	}

	if stats := c.GetStats(); stats.QueueLength != 0 {
		t.Fatalf("expected queue drained, got %+v", stats)
	}
	close(blockRelease)
}

func TestGetStats(t *testing.T) {
	c := New(1)
	stats := c.GetStats()
	if stats.Active != 0 || stats.QueueLength != 0 || stats.Total != 0 {
		t.Fatalf("expected zero stats initially, got %+v", stats)
	}

	c.Execute(context.Background(), "a", func(ctx context.Context) (any, error) { return nil, nil })
	stats = c.GetStats()
	if stats.Total != 1 || stats.Completed != 1 {
		t.Fatalf("expected total=1 completed=1, got %+v", stats)
	}
}
