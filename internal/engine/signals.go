package engine

import "sync"

// Signals is the run-scoped pause/stop state shared by the scheduler and
// every task of one run. Pause gates forward progress; stop is a one-way
// latch. The zero value is not usable, use NewSignals.
type Signals struct {
	mu      sync.Mutex
	cond    *sync.Cond
	paused  bool
	stopped bool
	done    chan struct{}
}

func NewSignals() *Signals {
	s := &Signals{done: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Pause makes subsequent Wait calls block. Calling it twice is a no-op.
func (s *Signals) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.paused = true
}

// Resume releases every goroutine blocked in Wait.
func (s *Signals) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return
	}
	s.paused = false
	s.cond.Broadcast()
}

// Stop latches the stop signal and wakes paused waiters so they can observe it.
func (s *Signals) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.done)
	s.cond.Broadcast()
}

func (s *Signals) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Signals) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Done is closed once Stop has been called.
func (s *Signals) Done() <-chan struct{} {
	return s.done
}

// Wait blocks while the run is paused. It returns false if the run is (or
// becomes) stopped, true when work may continue.
func (s *Signals) Wait() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.paused && !s.stopped {
		s.cond.Wait()
	}
	return !s.stopped
}
