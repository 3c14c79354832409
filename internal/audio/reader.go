package audio

import (
	"context"
	"encoding/binary"
	"io"
	"sync"
	"time"
)

// ReaderSource reads little-endian 16-bit mono PCM from an io.Reader
// (stdin, a pipe from arecord/sox, a capture file) and slices it into
// fixed-size blocks. When the reader is exhausted the block channel
// closes, which the controller treats as a lost device.
type ReaderSource struct {
	cfg    CaptureConfig
	reader io.Reader
	paced  bool // pace blocks at real time (for file playback)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReaderSource wraps an io.Reader as a capture source. When paced is
// true, blocks are delivered at the cadence implied by the sample rate
// rather than as fast as the reader can produce them.
func NewReaderSource(cfg CaptureConfig, r io.Reader, paced bool) *ReaderSource {
	return &ReaderSource{cfg: cfg.withDefaults(), reader: r, paced: paced}
}

// Start begins reading blocks. The returned channel closes on EOF or
// read error.
func (r *ReaderSource) Start(ctx context.Context) (<-chan Block, error) {
	if r.reader == nil {
		return nil, ErrDeviceNotFound
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	r.mu.Lock()
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	out := make(chan Block)
	go func() {
		defer close(out)
		defer close(done)

		interval := time.Duration(r.cfg.BlockSize) * time.Second / time.Duration(r.cfg.SampleRate)
		raw := make([]byte, r.cfg.BlockSize*2)

		for {
			if ctx.Err() != nil {
				return
			}
			n, err := io.ReadFull(r.reader, raw)
			if n < 2 {
				return
			}
			samples := make([]int16, n/2)
			for i := range samples {
				samples[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
			}
			select {
			case out <- Block{Samples: samples, SampleRate: r.cfg.SampleRate, Timestamp: time.Now()}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
			if r.paced {
				select {
				case <-time.After(interval):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Stop cancels reading and waits for the block channel to close. If the
// underlying reader is an io.Closer it is closed to unblock a pending
// Read; no block is delivered after Stop returns.
func (r *ReaderSource) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if closer, ok := r.reader.(io.Closer); ok {
		closer.Close()
	}
	if done != nil {
		<-done
	}
}
