// Package scheduler provides named, independently cancellable timers so the
// coordinator's delays (pending-flag expiry, stale cutoff, input debounce,
// liveness re-check) live in one place instead of scattered timer calls.
package scheduler

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type Scheduler struct {
	mu      sync.Mutex
	cancels map[string]func()
	stopped bool
	logger  *zap.Logger
}

func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cancels: map[string]func(){},
		logger:  logger,
	}
}

// Schedule runs fn once after d. Scheduling under a name that already has a
// pending timer replaces it, so repeated calls debounce: only the last one
// fires. Each timer is reset only by a new Schedule of its own name.
func (s *Scheduler) Schedule(name string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if cancel, ok := s.cancels[name]; ok {
		cancel()
	}
	timer := time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.cancels, name)
		s.mu.Unlock()
		fn()
	})
	s.cancels[name] = func() { timer.Stop() }
	s.logger.Debug("timer scheduled", zap.String("name", name), zap.Duration("after", d))
}

// Every runs fn on a fixed interval until the name is cancelled or the
// scheduler stops.
func (s *Scheduler) Every(name string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if cancel, ok := s.cancels[name]; ok {
		cancel()
	}
	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	s.cancels[name] = func() { once.Do(func() { close(done) }) }
	s.logger.Debug("ticker scheduled", zap.String("name", name), zap.Duration("every", d))
}

// Cancel stops the named timer if it is still pending.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.cancels[name]
	if !ok {
		return false
	}
	cancel()
	delete(s.cancels, name)
	return true
}

// Pending reports whether the named timer has not fired yet.
func (s *Scheduler) Pending(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cancels[name]
	return ok
}

// Stop cancels every timer. The scheduler accepts no further work.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for name, cancel := range s.cancels {
		cancel()
		delete(s.cancels, name)
	}
}
