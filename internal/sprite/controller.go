package sprite

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxsprite/voxsprite/internal/audio"
	"github.com/voxsprite/voxsprite/internal/bus"
)

// Controller lifecycle errors
var (
	ErrAlreadyRunning = errors.New("controller already running")
	ErrNotRunning     = errors.New("controller not running")
)

// DeviceStatus reports capture health to the UI layer.
type DeviceStatus string

const (
	StatusOK          DeviceStatus = "ok"
	StatusRetrying    DeviceStatus = "retrying"
	StatusUnavailable DeviceStatus = "unavailable"
)

// Device reacquisition backoff. After unavailableAfter consecutive
// failures the status degrades from retrying to unavailable, but the
// controller never stops trying.
const (
	retryBaseDelay   = 500 * time.Millisecond
	retryMaxDelay    = 30 * time.Second
	unavailableAfter = 5
)

// Controller is the concurrency host of the pipeline: it funnels audio
// blocks, idle-timer ticks, and configuration swaps into one goroutine
// so the state machine is never touched concurrently. All events are
// published from that goroutine, and Stop guarantees none fire after it
// returns.
type Controller struct {
	logger    zerolog.Logger
	events    *bus.EventBus
	meter     *audio.Meter
	scheduler *IdleScheduler

	mu      sync.Mutex
	snap    Snapshot
	running bool
	source  audio.Source
	cancel  context.CancelFunc
	done    chan struct{}

	dirty chan struct{}

	onSprite func(State)
	onLevel  func(level float64, thresholds []float64)
	onStatus func(DeviceStatus)
}

// NewController creates a controller with an initial configuration
// snapshot. The snapshot is normalized; degenerate settings are clamped
// rather than rejected.
func NewController(snap Snapshot, events *bus.EventBus, logger zerolog.Logger) *Controller {
	snap = NormalizeSnapshot(snap)
	return &Controller{
		logger:    logger.With().Str("component", "controller").Logger(),
		events:    events,
		meter:     audio.NewMeter(audio.DefaultSmoothingWindow),
		scheduler: NewIdleScheduler(snap.IdleTimer, rand.New(rand.NewSource(time.Now().UnixNano()))),
		snap:      snap,
		dirty:     make(chan struct{}, 1),
	}
}

// SetSpriteHandler sets the callback for sprite changes. Must be set
// before Start.
func (c *Controller) SetSpriteHandler(fn func(State)) { c.onSprite = fn }

// SetLevelHandler sets the callback for level samples; thresholds carry
// the sorted tier levels for meter markers.
func (c *Controller) SetLevelHandler(fn func(level float64, thresholds []float64)) {
	c.onLevel = fn
}

// SetStatusHandler sets the callback for device status changes.
func (c *Controller) SetStatusHandler(fn func(DeviceStatus)) { c.onStatus = fn }

// Configure replaces the full configuration atomically. Safe to call at
// any time, including while capture is running; the swap is observed as
// a whole by the next update cycle.
func (c *Controller) Configure(snap Snapshot) {
	snap = NormalizeSnapshot(snap)

	c.mu.Lock()
	c.snap = snap
	running := c.running
	c.mu.Unlock()

	if running {
		select {
		case c.dirty <- struct{}{}:
		default:
		}
	}
}

// Snapshot returns the active configuration.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Start begins pulling blocks from the source and driving the pipeline.
// A source that fails to open is not fatal: the controller starts in
// retrying state and keeps attempting acquisition.
func (c *Controller) Start(source audio.Source) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.running = true
	c.source = source
	c.cancel = cancel
	c.done = done
	snap := c.snap
	c.mu.Unlock()

	c.scheduler.Reconfigure(snap.IdleTimer)
	c.scheduler.Start(ctx)

	go c.run(ctx, source, snap, done)
	return nil
}

// Stop shuts the pipeline down. Synchronous: when it returns, the loop
// has exited, capture is unsubscribed, the idle timer is cancelled, and
// no further event fires.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done, source := c.cancel, c.done, c.source
	c.mu.Unlock()

	cancel()
	<-done
	c.scheduler.Stop()
	source.Stop()

	c.mu.Lock()
	c.running = false
	c.source = nil
	c.mu.Unlock()
	return nil
}

// run is the single-threaded update loop. Everything that mutates the
// machine or publishes an event happens here.
func (c *Controller) run(ctx context.Context, source audio.Source, snap Snapshot, done chan struct{}) {
	defer close(done)

	machine := NewMachine(snap)
	status := DeviceStatus("")
	failures := 0
	retryDelay := retryBaseDelay
	var retryCh <-chan time.Time

	c.events.Publish(bus.Event{Type: bus.EventTypeControllerStarted, Data: nil})
	c.publishSprite(machine.State())

	blocks, err := source.Start(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Audio source failed to open, retrying")
		failures = 1
		status = c.setStatus(status, StatusRetrying)
		retryCh = time.After(retryDelay)
	} else {
		status = c.setStatus(status, StatusOK)
	}

	for {
		select {
		case <-ctx.Done():
			c.events.Publish(bus.Event{Type: bus.EventTypeControllerStopped, Data: nil})
			return

		case <-c.dirty:
			c.mu.Lock()
			snap = c.snap
			c.mu.Unlock()
			c.scheduler.Reconfigure(snap.IdleTimer)
			st := machine.ApplySnapshot(snap)
			c.events.Publish(bus.Event{
				Type: bus.EventTypeConfigApplied,
				Data: map[string]any{"tiers": len(snap.Tiers), "idle_frames": len(snap.Idle)},
			})
			c.publishSprite(st)

		case blk, ok := <-blocks:
			if !ok {
				c.logger.Warn().Msg("Audio capture lost, entering retry")
				blocks = nil
				failures = 1
				retryDelay = retryBaseDelay
				status = c.setStatus(status, StatusRetrying)
				retryCh = time.After(retryDelay)
				// Degrade to silence: level 0, back to idle.
				c.meter.Reset()
				c.publishLevel(0.0, snap)
				if st, changed := machine.ApplyTier(NoTier); changed {
					c.publishSprite(st)
				}
				continue
			}
			level := c.meter.Process(blk)
			c.publishLevel(level, snap)
			tier := ResolveTier(level, snap.Tiers, machine.CurrentTier())
			if st, changed := machine.ApplyTier(tier); changed {
				c.publishSprite(st)
			}

		case <-c.scheduler.Ticks():
			if st, publish := machine.ApplyIdleTick(c.scheduler.Advance); publish {
				c.publishSprite(st)
			}

		case <-retryCh:
			ch, err := source.Start(ctx)
			if err != nil {
				failures++
				if retryDelay < retryMaxDelay {
					retryDelay *= 2
					if retryDelay > retryMaxDelay {
						retryDelay = retryMaxDelay
					}
				}
				next := StatusRetrying
				if failures >= unavailableAfter {
					next = StatusUnavailable
				}
				status = c.setStatus(status, next)
				c.logger.Debug().Err(err).Int("failures", failures).
					Dur("next_retry", retryDelay).Msg("Audio source still unavailable")
				retryCh = time.After(retryDelay)
				continue
			}
			c.logger.Info().Msg("Audio source reacquired")
			blocks = ch
			retryCh = nil
			failures = 0
			retryDelay = retryBaseDelay
			c.meter.Reset()
			status = c.setStatus(status, StatusOK)
		}
	}
}

func (c *Controller) publishSprite(st State) {
	if c.onSprite != nil {
		c.onSprite(st)
	}
	c.events.Publish(bus.Event{
		Type: bus.EventTypeSpriteChanged,
		Data: map[string]any{
			"mode":       string(st.Mode),
			"sprite":     string(st.Sprite),
			"tier":       st.Tier,
			"idle_index": st.IdleIndex,
		},
	})
}

func (c *Controller) publishLevel(level float64, snap Snapshot) {
	thresholds := snap.Thresholds()
	if c.onLevel != nil {
		c.onLevel(level, thresholds)
	}
	c.events.Publish(bus.Event{
		Type: bus.EventTypeLevelSample,
		Data: map[string]any{"level": level, "thresholds": thresholds},
	})
}

// setStatus publishes a status event when it changes and returns the new
// value.
func (c *Controller) setStatus(current, next DeviceStatus) DeviceStatus {
	if current == next {
		return current
	}
	if c.onStatus != nil {
		c.onStatus(next)
	}
	c.events.Publish(bus.Event{
		Type: bus.EventTypeDeviceStatus,
		Data: map[string]any{"status": string(next)},
	})
	return next
}
