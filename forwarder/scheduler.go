package forwarder

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Scheduler triggers a function at a whole-second interval. A zero interval
// disables triggering without stopping the scheduler.
type Scheduler struct {
	run      func(context.Context)
	interval atomic.Int64 // time.Duration
	resetCh  chan struct{}

	cancel      context.CancelFunc
	stopCh      chan struct{} // Stop signal
	doneCh      chan struct{} // Done signal
	running     atomic.Bool
	lifecycleMu sync.Mutex // Protects Start/Stop lifecycle operations
}

// NewScheduler creates a stopped scheduler with triggering disabled
func NewScheduler(run func(context.Context)) *Scheduler {
	return &Scheduler{
		run:     run,
		resetCh: make(chan struct{}, 1),
	}
}

// Reschedule changes the interval. The next trigger is one full interval away.
func (s *Scheduler) Reschedule(interval time.Duration) {
	if interval < 0 {
		interval = 0
	}
	s.interval.Store(int64(interval.Truncate(time.Second)))

	select {
	case s.resetCh <- struct{}{}:
	default:
	}
}

// Interval returns the current interval, 0 when disabled
func (s *Scheduler) Interval() time.Duration {
	return time.Duration(s.interval.Load())
}

// Start starts the scheduler goroutine
func (s *Scheduler) Start() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running.Load() {
		return // Already running
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running.Store(true)

	log.Info().Dur("interval", s.Interval()).Msg("Starting cycle scheduler")

	go s.loop(ctx)
}

// Stop stops the scheduler and waits for a running trigger to return
func (s *Scheduler) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running.Load() {
		return // Not running
	}

	s.cancel()
	close(s.stopCh)
	<-s.doneCh
	s.running.Store(false)

	log.Info().Msg("Cycle scheduler stopped")
}

// IsRunning reports whether the scheduler goroutine is active
func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)

	var timer *time.Timer
	var tick <-chan time.Time
	arm := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, tick = nil, nil
		if d := s.Interval(); d > 0 {
			timer = time.NewTimer(d)
			tick = timer.C
		}
	}
	arm()
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-s.stopCh:
			return
		case <-s.resetCh:
			arm()
		case <-tick:
			s.run(ctx)
			arm()
		}
	}
}
