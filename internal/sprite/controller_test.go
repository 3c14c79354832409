package sprite

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxsprite/voxsprite/internal/audio"
	"github.com/voxsprite/voxsprite/internal/bus"
)

type fakeSource struct {
	mu       sync.Mutex
	blocks   chan audio.Block
	startErr error
	starts   int
}

func newFakeSource() *fakeSource {
	return &fakeSource{blocks: make(chan audio.Block, 64)}
}

func (f *fakeSource) Start(ctx context.Context) (<-chan audio.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return nil, f.startErr
	}
	return f.blocks, nil
}

func (f *fakeSource) Stop() {}

func (f *fakeSource) setStartErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

func (f *fakeSource) replaceChannel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks = make(chan audio.Block, 64)
}

func (f *fakeSource) send(level float64, count int) {
	f.mu.Lock()
	ch := f.blocks
	f.mu.Unlock()

	value := int16(level * 32768)
	for i := 0; i < count; i++ {
		samples := make([]int16, 160)
		for j := range samples {
			samples[j] = value
		}
		ch <- audio.Block{Samples: samples, SampleRate: 16000, Timestamp: time.Now()}
	}
}

type recorder struct {
	mu       sync.Mutex
	sprites  []State
	statuses []DeviceStatus
	levels   []float64
	marks    [][]float64
}

func (r *recorder) attach(c *Controller) {
	c.SetSpriteHandler(func(st State) {
		r.mu.Lock()
		r.sprites = append(r.sprites, st)
		r.mu.Unlock()
	})
	c.SetStatusHandler(func(st DeviceStatus) {
		r.mu.Lock()
		r.statuses = append(r.statuses, st)
		r.mu.Unlock()
	})
	c.SetLevelHandler(func(level float64, thresholds []float64) {
		r.mu.Lock()
		r.levels = append(r.levels, level)
		r.marks = append(r.marks, thresholds)
		r.mu.Unlock()
	})
}

func (r *recorder) lastSprite() (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sprites) == 0 {
		return State{}, false
	}
	return r.sprites[len(r.sprites)-1], true
}

func (r *recorder) spriteCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sprites)
}

func (r *recorder) lastStatus() (DeviceStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return "", false
	}
	return r.statuses[len(r.statuses)-1], true
}

func (r *recorder) handles() []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Handle, len(r.sprites))
	for i, st := range r.sprites {
		out[i] = st.Sprite
	}
	return out
}

// quietTimer keeps the idle scheduler out of a test's way.
func quietTimer() IdleTimerConfig {
	return IdleTimerConfig{MinInterval: time.Hour, MaxInterval: time.Hour}
}

func controllerSnapshot(timer IdleTimerConfig) Snapshot {
	return Snapshot{
		Tiers: []TalkTier{
			{Threshold: 0.1, Sprite: "a.png"},
			{Threshold: 0.3, Sprite: "b.png"},
		},
		Idle:      []Handle{"i1.png"},
		IdleTimer: timer,
	}
}

func TestController_InitialPublishAndLifecycle(t *testing.T) {
	src := newFakeSource()
	rec := &recorder{}
	c := NewController(controllerSnapshot(quietTimer()), bus.NewEventBus(), zerolog.Nop())
	rec.attach(c)

	require.NoError(t, c.Start(src))
	assert.ErrorIs(t, c.Start(src), ErrAlreadyRunning)

	require.Eventually(t, func() bool {
		st, ok := rec.lastSprite()
		return ok && st.Mode == ModeIdle && st.Sprite == "i1.png"
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		st, ok := rec.lastStatus()
		return ok && st == StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Stop())
	assert.ErrorIs(t, c.Stop(), ErrNotRunning)
}

func TestController_TalkAndReleaseToIdle(t *testing.T) {
	src := newFakeSource()
	rec := &recorder{}
	c := NewController(controllerSnapshot(quietTimer()), bus.NewEventBus(), zerolog.Nop())
	rec.attach(c)

	require.NoError(t, c.Start(src))
	defer c.Stop()

	src.send(0.35, 8)
	require.Eventually(t, func() bool {
		st, ok := rec.lastSprite()
		return ok && st.Mode == ModeTalking && st.Sprite == "b.png"
	}, 2*time.Second, 10*time.Millisecond)

	src.send(0.0, 8)
	require.Eventually(t, func() bool {
		st, ok := rec.lastSprite()
		return ok && st.Mode == ModeIdle && st.Sprite == "i1.png"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestController_LevelSamplesCarryThresholdMarkers(t *testing.T) {
	src := newFakeSource()
	rec := &recorder{}
	c := NewController(controllerSnapshot(quietTimer()), bus.NewEventBus(), zerolog.Nop())
	rec.attach(c)

	require.NoError(t, c.Start(src))
	defer c.Stop()

	src.send(0.2, 4)
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.levels) >= 4
	}, 2*time.Second, 10*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []float64{0.1, 0.3}, rec.marks[len(rec.marks)-1])
	for _, level := range rec.levels {
		assert.GreaterOrEqual(t, level, 0.0)
		assert.LessOrEqual(t, level, 1.0)
	}
}

func TestController_StopIsSilentAfterReturn(t *testing.T) {
	src := newFakeSource()
	rec := &recorder{}
	snap := controllerSnapshot(IdleTimerConfig{
		MinInterval: 10 * time.Millisecond,
		MaxInterval: 20 * time.Millisecond,
	})
	snap.Idle = []Handle{"i1.png", "i2.png"}
	c := NewController(snap, bus.NewEventBus(), zerolog.Nop())
	rec.attach(c)

	require.NoError(t, c.Start(src))

	// Let idle ticks flow for a while.
	require.Eventually(t, func() bool {
		return rec.spriteCount() >= 3
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Stop())
	count := rec.spriteCount()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, count, rec.spriteCount(), "events fired after Stop returned")
}

func TestController_DeviceLossRetryAndRecovery(t *testing.T) {
	src := newFakeSource()
	rec := &recorder{}
	c := NewController(controllerSnapshot(quietTimer()), bus.NewEventBus(), zerolog.Nop())
	rec.attach(c)

	require.NoError(t, c.Start(src))
	defer c.Stop()

	require.Eventually(t, func() bool {
		st, ok := rec.lastStatus()
		return ok && st == StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	// Device disappears: channel closes, reacquisition fails.
	src.setStartErr(audio.ErrDeviceNotFound)
	src.mu.Lock()
	close(src.blocks)
	src.mu.Unlock()

	require.Eventually(t, func() bool {
		st, ok := rec.lastStatus()
		return ok && st == StatusRetrying
	}, 2*time.Second, 10*time.Millisecond)

	// Device comes back. No restart required.
	src.replaceChannel()
	src.setStartErr(nil)

	require.Eventually(t, func() bool {
		st, ok := rec.lastStatus()
		return ok && st == StatusOK
	}, 10*time.Second, 20*time.Millisecond)

	src.send(0.35, 8)
	require.Eventually(t, func() bool {
		st, ok := rec.lastSprite()
		return ok && st.Mode == ModeTalking
	}, 2*time.Second, 10*time.Millisecond)
}

func TestController_ConfigureSwapsAtomically(t *testing.T) {
	src := newFakeSource()
	rec := &recorder{}
	c := NewController(controllerSnapshot(quietTimer()), bus.NewEventBus(), zerolog.Nop())
	rec.attach(c)

	require.NoError(t, c.Start(src))
	defer c.Stop()

	require.Eventually(t, func() bool {
		return rec.spriteCount() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	c.Configure(Snapshot{
		Tiers:     []TalkTier{{Threshold: 0.1, Sprite: "c.png"}},
		Idle:      []Handle{"j1.png"},
		IdleTimer: quietTimer(),
	})

	require.Eventually(t, func() bool {
		st, ok := rec.lastSprite()
		return ok && st.Sprite == "j1.png"
	}, 2*time.Second, 10*time.Millisecond)

	src.send(0.35, 8)
	require.Eventually(t, func() bool {
		st, ok := rec.lastSprite()
		return ok && st.Mode == ModeTalking
	}, 2*time.Second, 10*time.Millisecond)

	// Once the new snapshot is visible, nothing from the old one may
	// ever be published again: no torn old/new mix.
	oldHandles := map[Handle]bool{"a.png": true, "b.png": true, "i1.png": true}
	newHandles := map[Handle]bool{"c.png": true, "j1.png": true}
	handles := rec.handles()
	swapped := false
	for i, h := range handles {
		if newHandles[h] {
			swapped = true
		}
		if swapped {
			assert.Falsef(t, oldHandles[h], "old-snapshot sprite %q published after swap at %d", h, i)
		}
	}
	assert.True(t, swapped)
}
