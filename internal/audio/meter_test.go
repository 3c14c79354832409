package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func constantBlock(value int16, n int) Block {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = value
	}
	return Block{Samples: samples, SampleRate: 16000}
}

func TestMeter_ConstantSignal(t *testing.T) {
	m := NewMeter(1)

	// RMS of a constant signal is the value itself.
	level := m.Process(constantBlock(16384, 160))
	assert.InDelta(t, 0.5, level, 0.001)

	level = m.Process(constantBlock(0, 160))
	assert.InDelta(t, 0.0, level, 0.001)
}

func TestMeter_EmptyBlockDegradesToSilence(t *testing.T) {
	m := NewMeter(4)

	// Prime with a loud block, then feed a degenerate one.
	m.Process(constantBlock(16384, 160))
	assert.Equal(t, 0.0, m.Process(Block{}))
	assert.Equal(t, 0.0, m.Process(Block{Samples: nil}))
}

func TestMeter_Smoothing(t *testing.T) {
	m := NewMeter(2)

	first := m.Process(constantBlock(16384, 160))
	assert.InDelta(t, 0.5, first, 0.001)

	// Second block at zero averages with the first.
	second := m.Process(constantBlock(0, 160))
	assert.InDelta(t, 0.25, second, 0.001)
}

func TestMeter_Deterministic(t *testing.T) {
	a := NewMeter(4)
	b := NewMeter(4)

	blocks := []Block{
		constantBlock(1000, 160),
		constantBlock(8000, 160),
		constantBlock(200, 160),
		constantBlock(16000, 160),
	}
	for _, blk := range blocks {
		assert.Equal(t, a.Process(blk), b.Process(blk))
	}
}

func TestMeter_Reset(t *testing.T) {
	m := NewMeter(4)
	m.Process(constantBlock(16384, 160))
	m.Reset()

	level := m.Process(constantBlock(3277, 160))
	assert.InDelta(t, 0.1, level, 0.001)
}

func TestMeter_ClampsToUnitRange(t *testing.T) {
	m := NewMeter(1)
	level := m.Process(constantBlock(-32768, 160))
	assert.LessOrEqual(t, level, 1.0)
	assert.GreaterOrEqual(t, level, 0.0)
}

func TestBlockDuration(t *testing.T) {
	blk := constantBlock(0, 1600)
	assert.Equal(t, "100ms", blk.Duration().String())

	assert.Equal(t, "0s", Block{Samples: make([]int16, 10)}.Duration().String())
}
