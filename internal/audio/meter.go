package audio

import (
	"math"
	"sync"
)

// DefaultSmoothingWindow is the number of recent blocks averaged into
// the published level. Tuned empirically: long enough to suppress
// single-block spikes, short enough that the meter still feels live.
const DefaultSmoothingWindow = 4

// Meter converts raw PCM blocks into a smoothed, normalized energy
// level in [0, 1]. It computes per-block RMS against the int16 sample
// range and averages it over a short ring buffer.
type Meter struct {
	mu      sync.Mutex
	history []float64
	index   int
	filled  int
}

// NewMeter creates a Meter with the given smoothing window. A window
// of zero or less falls back to DefaultSmoothingWindow.
func NewMeter(window int) *Meter {
	if window <= 0 {
		window = DefaultSmoothingWindow
	}
	return &Meter{history: make([]float64, window)}
}

// Process consumes one block and returns the smoothed energy level.
// A nil or empty block degrades to 0.0 rather than an error: device
// hiccups read as silence, never as a failure.
func (m *Meter) Process(block Block) float64 {
	rms := blockRMS(block.Samples)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.history[m.index] = rms
	m.index = (m.index + 1) % len(m.history)
	if m.filled < len(m.history) {
		m.filled++
	}

	if len(block.Samples) == 0 {
		return 0.0
	}

	var sum float64
	for i := 0; i < m.filled; i++ {
		sum += m.history[i]
	}
	return sum / float64(m.filled)
}

// Reset clears the smoothing history.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.history {
		m.history[i] = 0
	}
	m.index = 0
	m.filled = 0
}

// blockRMS computes normalized RMS energy of signed 16-bit samples.
func blockRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		n := float64(s) / 32768.0
		sum += n * n
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms > 1.0 {
		rms = 1.0
	}
	return rms
}
