// Package audio provides audio block capture and level metering for VoxSprite.
package audio

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrDeviceNotFound    = errors.New("audio device not found")
	ErrCaptureNotStarted = errors.New("capture not started")
	ErrCaptureStopped    = errors.New("capture stopped")
	ErrSourceExhausted   = errors.New("audio source exhausted")
)

// Block is one chunk of captured mono PCM audio. Blocks are owned by
// the source that produced them and must not be retained after the
// metering pass.
type Block struct {
	Samples    []int16
	SampleRate int
	Timestamp  time.Time
}

// Duration returns the wall-clock span covered by the block.
func (b Block) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

// CaptureConfig holds capture parameters shared by all sources.
type CaptureConfig struct {
	SampleRate int    `json:"sample_rate"` // Default: 16000 Hz
	BlockSize  int    `json:"block_size"`  // Samples per block, default 1600 (100ms)
	Device     string `json:"device"`      // Empty = default device
}

// DefaultCaptureConfig returns sensible defaults.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		SampleRate: 16000,
		BlockSize:  1600,
		Device:     "",
	}
}

func (c CaptureConfig) withDefaults() CaptureConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.BlockSize <= 0 {
		c.BlockSize = 1600
	}
	return c
}

// Source is an audio capture backend. Start returns a channel of blocks
// that closes when the device fails or the context is cancelled; after a
// close the source may be started again to reacquire the device. Stop is
// synchronous: no block is delivered after it returns.
type Source interface {
	Start(ctx context.Context) (<-chan Block, error)
	Stop()
}
