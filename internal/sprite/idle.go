package sprite

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// IdleScheduler fires ticks that advance the idle animation. The wait
// before each tick is drawn fresh from [MinInterval, MaxInterval]; the
// advance policy is sequential wrap-around, or uniform random excluding
// immediate repeats when Randomize is set and the sequence has more
// than one frame.
//
// The scheduler is free-running: it keeps ticking while the machine is
// talking so the idle index keeps moving and playback resumes mid-cycle.
type IdleScheduler struct {
	mu    sync.Mutex
	cfg   IdleTimerConfig
	rng   *rand.Rand
	reset chan struct{}
	ticks chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// NewIdleScheduler creates a scheduler with the given timer config. A
// nil rng gets a time-seeded one; tests pass a seeded source.
func NewIdleScheduler(cfg IdleTimerConfig, rng *rand.Rand) *IdleScheduler {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &IdleScheduler{
		cfg:   cfg.Normalize(),
		rng:   rng,
		reset: make(chan struct{}, 1),
		ticks: make(chan struct{}),
	}
}

// Ticks is the tick stream consumed by the controller loop.
func (s *IdleScheduler) Ticks() <-chan struct{} {
	return s.ticks
}

// Start launches the timer goroutine.
func (s *IdleScheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop cancels the pending timer and waits for the goroutine to exit.
// No tick is delivered after Stop returns.
func (s *IdleScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// Reconfigure swaps the timer bounds and discards the pending wait so
// the new bounds take effect immediately.
func (s *IdleScheduler) Reconfigure(cfg IdleTimerConfig) {
	s.mu.Lock()
	s.cfg = cfg.Normalize()
	s.mu.Unlock()

	select {
	case s.reset <- struct{}{}:
	default:
	}
}

// Advance applies the configured advance policy to the current idle
// index for a sequence of the given length.
func (s *IdleScheduler) Advance(current, length int) int {
	if length <= 0 {
		return 0
	}
	if current < 0 || current >= length {
		current = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Randomize || length == 1 {
		return (current + 1) % length
	}
	// Uniform over the other length-1 indexes, never the current one.
	next := s.rng.Intn(length - 1)
	if next >= current {
		next++
	}
	return next
}

func (s *IdleScheduler) run(ctx context.Context) {
	defer close(s.done)
	for {
		timer := time.NewTimer(s.drawInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.reset:
			timer.Stop()
			continue
		case <-timer.C:
		}

		select {
		case s.ticks <- struct{}{}:
		case <-ctx.Done():
			return
		case <-s.reset:
		}
	}
}

func (s *IdleScheduler) drawInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	min, max := s.cfg.MinInterval, s.cfg.MaxInterval
	if max <= min {
		return min
	}
	return min + time.Duration(s.rng.Int63n(int64(max-min)+1))
}
