// Package shutdown implements a two-phase cooperative shutdown protocol: a
// first request drains in-flight work and flushes state within a
// deadline, a second request forces an immediate exit.
package shutdown

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/nexus/internal/conversation"
	"github.com/haasonsaas/nexus/internal/orgstate"
	"github.com/haasonsaas/nexus/internal/scheduler"
)

const DefaultTimeout = 30 * time.Second

// CloseFunc releases an external resource (a listening server, a database
// handle, ...) during the connections phase of drain.
type CloseFunc func(ctx context.Context) error

type closer struct {
	name string
	fn   CloseFunc
}

// Summary is the shutdown log line: what signal triggered it, how long
// drain took, and what was still outstanding when it finished.
type Summary struct {
	Signal          string
	Duration        time.Duration
	PendingMessages int
	ActiveAgents    int
	TimedOut        bool
}

// Manager coordinates process shutdown across the scheduler and the
// durable stores. It is safe for concurrent use; Request may be called
// from a signal handler goroutine while Drain runs on the main goroutine.
type Manager struct {
	scheduler     *scheduler.Scheduler
	org           *orgstate.OrgState
	conversations *conversation.Store
	timeout       time.Duration
	logger        *slog.Logger

	requested atomic.Bool

	mu      sync.Mutex
	closers []closer

	drainOnce sync.Once
	summary   Summary
}

// New wires a Manager. timeout <= 0 uses DefaultTimeout.
func New(sch *scheduler.Scheduler, org *orgstate.OrgState, conversations *conversation.Store, timeout time.Duration, logger *slog.Logger) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		scheduler:     sch,
		org:           org,
		conversations: conversations,
		timeout:       timeout,
		logger:        logger,
	}
}

// RegisterCloser adds an external resource to be closed during Drain,
// after in-flight work has been drained and state flushed.
func (m *Manager) RegisterCloser(name string, fn CloseFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closers = append(m.closers, closer{name: name, fn: fn})
}

// IsShuttingDown reports whether Request has been called, for components
// (the scheduler's dispatch loop, the tool executor's long-running
// commands) that want to observe shutdown-in-progress without a direct
// reference to the Manager.
func (m *Manager) IsShuttingDown() bool {
	return m.requested.Load()
}

// Request records a shutdown request. The first call returns true and the
// caller should proceed to Drain. A second call returns false: a repeat
// signal is treated as a demand for immediate exit, so the caller should
// skip draining and terminate the process directly rather than wait on a
// drain that may itself be stuck.
func (m *Manager) Request() (first bool) {
	return m.requested.CompareAndSwap(false, true)
}

// Drain waits up to the configured timeout for the scheduler to finish
// in-flight handler tasks and force-deliver remaining delayed messages,
// flushes OrgState and every conversation to their persisters, closes
// every registered external resource, and returns a summary for logging.
// Drain runs its work exactly once; later calls return the first result
// immediately.
func (m *Manager) Drain(ctx context.Context, signal string) Summary {
	m.drainOnce.Do(func() {
		start := time.Now()
		m.logger.Info("shutdown drain starting", "signal", signal, "timeout", m.timeout)

		drainCtx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()

		var result scheduler.DrainResult
		if m.scheduler != nil {
			result = m.scheduler.Stop(drainCtx)
		}

		if m.org != nil {
			if err := m.org.Persist(); err != nil {
				m.logger.Warn("shutdown: failed to persist org state", "error", err)
			}
		}
		if m.conversations != nil {
			if err := m.conversations.FlushAll(); err != nil {
				m.logger.Warn("shutdown: failed to flush conversations", "error", err)
			}
		}

		m.mu.Lock()
		closers := append([]closer(nil), m.closers...)
		m.mu.Unlock()
		for _, c := range closers {
			if err := c.fn(drainCtx); err != nil {
				m.logger.Warn("shutdown: closer failed", "name", c.name, "error", err)
			}
		}

		m.summary = Summary{
			Signal:          signal,
			Duration:        time.Since(start),
			PendingMessages: result.PendingMessages,
			ActiveAgents:    result.ActiveAgents,
			TimedOut:        result.TimedOut,
		}
		m.logger.Info("shutdown drain complete",
			"signal", m.summary.Signal,
			"duration", m.summary.Duration,
			"pendingMessages", m.summary.PendingMessages,
			"activeAgents", m.summary.ActiveAgents,
			"timedOut", m.summary.TimedOut,
		)
	})
	return m.summary
}
