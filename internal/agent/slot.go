// ABOUTME: Single-flight task slot enforcing one in-flight query per connection
// ABOUTME: Supports cooperative cancellation and frees itself on any terminal state

package agent

import (
	"context"
	"errors"
	"sync"
)

// ErrTaskActive is returned when a task is started while another is still running
var ErrTaskActive = errors.New("a query is already being processed")

// Slot holds at most one running task. Start rejects a second task while
// the first is non-terminal; Cancel requests cooperative cancellation.
// A task racing cancellation to completion simply completes.
type Slot struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{} // non-nil while a task is active
}

// Start runs fn in its own goroutine with a cancelable child of ctx.
// Returns ErrTaskActive if a prior task has not reached a terminal state.
// Start returns as soon as the task is spawned; fn's error handling is the
// task's own responsibility.
func (s *Slot) Start(ctx context.Context, fn func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		return ErrTaskActive
	}

	taskCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer func() {
			s.mu.Lock()
			s.done = nil
			s.cancel = nil
			s.mu.Unlock()
			cancel()
			close(done)
		}()
		fn(taskCtx)
	}()

	return nil
}

// Cancel requests cancellation of the running task.
// Reports whether a task was active to cancel.
func (s *Slot) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done == nil {
		return false
	}
	s.cancel()
	return true
}

// Active reports whether a task is currently running
func (s *Slot) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

// Wait blocks until the current task, if any, reaches a terminal state
func (s *Slot) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}
