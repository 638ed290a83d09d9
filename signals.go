package fundflow

import (
	"sync"
	"time"
)

// signalTimers tracks the in-process deadline timer of every suspended
// instance. Timers exist for latency only: they fire the timeout path the
// moment the authorization window closes. Losing one to a crash is harmless
// because the expired-awaiting sweep resolves the instance on the next scan.
type signalTimers struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

func newSignalTimers() *signalTimers {
	return &signalTimers{
		timers: make(map[string]*time.Timer),
	}
}

// Arm schedules fn for the deadline, replacing any timer already armed for
// the workflow. A deadline in the past fires immediately.
func (s *signalTimers) Arm(workflowID string, deadline time.Time, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if t, ok := s.timers[workflowID]; ok {
		t.Stop()
	}
	s.timers[workflowID] = time.AfterFunc(time.Until(deadline), func() {
		s.forget(workflowID)
		fn()
	})
}

// Cancel stops and drops the timer for the workflow. Cancelling a workflow
// with no armed timer is a no-op.
func (s *signalTimers) Cancel(workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[workflowID]; ok {
		t.Stop()
		delete(s.timers, workflowID)
	}
}

func (s *signalTimers) forget(workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timers, workflowID)
}

// Armed reports whether a timer is currently armed for the workflow.
func (s *signalTimers) Armed(workflowID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[workflowID]
	return ok
}

// Len returns the number of armed timers.
func (s *signalTimers) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close stops every armed timer and rejects further arming. A timer callback
// already in flight may still run; callers gate those on their own shutdown
// signal.
func (s *signalTimers) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
