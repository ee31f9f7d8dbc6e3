// Package scheduler runs periodic callbacks from a single goroutine.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/itohio/goanalogin/pkg/analogin"
)

// DefaultPeriod is a 1 kHz tick.
const DefaultPeriod = time.Millisecond

// Ensure Scheduler implements analogin.Timer.
var _ analogin.Timer = (*Scheduler)(nil)

// Scheduler invokes every registered callback, in registration order, once
// per period. Callbacks run to completion on the scheduler goroutine and
// receive a tick count that increases by one per period.
type Scheduler struct {
	period time.Duration
	logger *zap.Logger

	// Copy-on-write so the tick never takes a lock.
	callbacks atomic.Pointer[[]func(uint32)]
	regMu     sync.Mutex

	tick atomic.Uint32
	late atomic.Uint64

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates a scheduler with the given period.
func New(period time.Duration, logger *zap.Logger) *Scheduler {
	if period <= 0 {
		period = DefaultPeriod
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		period: period,
		logger: logger,
	}
	s.callbacks.Store(&[]func(uint32){})
	return s
}

// RegisterPeriodic adds fn to the callbacks run every period. It may be
// called while the scheduler is running.
func (s *Scheduler) RegisterPeriodic(fn func(tick uint32)) {
	s.regMu.Lock()
	defer s.regMu.Unlock()

	old := *s.callbacks.Load()
	next := make([]func(uint32), len(old), len(old)+1)
	copy(next, old)
	next = append(next, fn)
	s.callbacks.Store(&next)
}

// Period returns the tick period.
func (s *Scheduler) Period() time.Duration {
	return s.period
}

// Ticks returns the number of ticks run so far.
func (s *Scheduler) Ticks() uint32 {
	return s.tick.Load()
}

// Late returns how many ticks overran their period.
func (s *Scheduler) Late() uint64 {
	return s.late.Load()
}

// Step runs one tick on the calling goroutine. Use it only while the
// scheduler is stopped.
func (s *Scheduler) Step() {
	t := s.tick.Add(1)
	for _, fn := range *s.callbacks.Load() {
		fn(t)
	}
}

// Start runs the tick loop until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.run(ctx, s.done)

	s.logger.Debug("scheduler started", zap.Duration("period", s.period))
	return nil
}

// Stop stops the tick loop and waits for the running tick to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Debug("scheduler stopped", zap.Uint32("ticks", s.Ticks()))
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			s.Step()
			if elapsed := time.Since(start); elapsed > s.period {
				s.late.Add(1)
				s.logger.Warn("tick overran its period",
					zap.Uint32("tick", s.Ticks()),
					zap.Duration("elapsed", elapsed),
					zap.Duration("period", s.period))
			}
		}
	}
}
