// Package sprite implements the audio-reactive sprite controller: tier
// resolution over energy levels, idle frame scheduling, and the state
// machine that decides which sprite the renderer shows.
package sprite

import (
	"sort"
	"time"
)

// Handle is an opaque sprite identifier (in practice the configured
// image path). The controller never opens or decodes it.
type Handle string

// None marks "no sprite": published when the idle sequence is empty.
const None Handle = ""

// Threshold bounds of the configuration contract. Values outside are
// clamped, never rejected.
const (
	MinThreshold = 0.001
	MaxThreshold = 0.5
)

// TalkTier pairs an energy threshold with the sprite shown at or above
// it. Tier lists are kept sorted ascending by threshold.
type TalkTier struct {
	Threshold float64 `json:"threshold"`
	Sprite    Handle  `json:"sprite"`
}

// IdleTimerConfig bounds the randomized idle-frame timer.
type IdleTimerConfig struct {
	MinInterval time.Duration `json:"min_interval"`
	MaxInterval time.Duration `json:"max_interval"`
	Randomize   bool          `json:"randomize"`
}

// Normalize clamps degenerate bounds: a non-positive minimum is floored
// and inverted bounds are swapped.
func (c IdleTimerConfig) Normalize() IdleTimerConfig {
	const floor = 50 * time.Millisecond
	if c.MinInterval < floor {
		c.MinInterval = floor
	}
	if c.MaxInterval < c.MinInterval {
		c.MinInterval, c.MaxInterval = c.MaxInterval, c.MinInterval
		if c.MinInterval < floor {
			c.MinInterval = floor
		}
		if c.MaxInterval < c.MinInterval {
			c.MaxInterval = c.MinInterval
		}
	}
	return c
}

// Snapshot is one complete controller configuration. Snapshots are
// immutable once built and swapped wholesale; the controller never
// patches one in place.
type Snapshot struct {
	Tiers     []TalkTier
	Idle      []Handle
	IdleTimer IdleTimerConfig
}

// NormalizeSnapshot rebuilds a snapshot into canonical form: thresholds
// clamped into [MinThreshold, MaxThreshold], tiers re-sorted ascending
// (stable, so equal thresholds keep their given order and resolution
// tie-breaks toward the later entry), timer bounds normalized.
func NormalizeSnapshot(s Snapshot) Snapshot {
	tiers := make([]TalkTier, len(s.Tiers))
	copy(tiers, s.Tiers)
	for i := range tiers {
		if tiers[i].Threshold < MinThreshold {
			tiers[i].Threshold = MinThreshold
		}
		if tiers[i].Threshold > MaxThreshold {
			tiers[i].Threshold = MaxThreshold
		}
	}
	sort.SliceStable(tiers, func(i, j int) bool {
		return tiers[i].Threshold < tiers[j].Threshold
	})

	idle := make([]Handle, len(s.Idle))
	copy(idle, s.Idle)

	return Snapshot{
		Tiers:     tiers,
		Idle:      idle,
		IdleTimer: s.IdleTimer.Normalize(),
	}
}

// Thresholds returns the tier threshold values in ascending order, for
// the level-meter UI markers.
func (s Snapshot) Thresholds() []float64 {
	out := make([]float64, len(s.Tiers))
	for i, t := range s.Tiers {
		out[i] = t.Threshold
	}
	return out
}
