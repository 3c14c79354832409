package audio

import (
	"context"
	"math"
	"sync"
	"time"
)

// ToneSource synthesizes a sine tone at a fixed amplitude. It exists
// for demo mode and for exercising the pipeline without a microphone.
type ToneSource struct {
	cfg       CaptureConfig
	frequency float64
	amplitude float64 // 0..1 of full scale

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewToneSource creates a tone source. Amplitude is clamped to [0, 1].
func NewToneSource(cfg CaptureConfig, frequency, amplitude float64) *ToneSource {
	if amplitude < 0 {
		amplitude = 0
	}
	if amplitude > 1 {
		amplitude = 1
	}
	if frequency <= 0 {
		frequency = 220
	}
	return &ToneSource{
		cfg:       cfg.withDefaults(),
		frequency: frequency,
		amplitude: amplitude,
	}
}

// Start begins block generation paced at real time.
func (t *ToneSource) Start(ctx context.Context) (<-chan Block, error) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	t.mu.Lock()
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	out := make(chan Block)
	go func() {
		defer close(out)
		defer close(done)

		interval := time.Duration(t.cfg.BlockSize) * time.Second / time.Duration(t.cfg.SampleRate)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var phase float64
		step := 2 * math.Pi * t.frequency / float64(t.cfg.SampleRate)
		scale := t.amplitude * 32767

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				samples := make([]int16, t.cfg.BlockSize)
				for i := range samples {
					samples[i] = int16(scale * math.Sin(phase))
					phase += step
				}
				if phase > 2*math.Pi {
					phase = math.Mod(phase, 2*math.Pi)
				}
				select {
				case out <- Block{Samples: samples, SampleRate: t.cfg.SampleRate, Timestamp: now}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Stop cancels generation and waits for the block channel to close.
func (t *ToneSource) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}
