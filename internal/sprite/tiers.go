package sprite

// hysteresisRatio sets the release point of an active tier: once a tier
// is talking it stays active until the level falls below
// threshold*(1-hysteresisRatio). Tuned empirically against real
// microphone input; raw threshold crossings flap badly at boundaries.
const hysteresisRatio = 0.5

// NoTier is the resolver result when no tier qualifies.
const NoTier = -1

// ResolveTier maps a smoothed energy level onto the tier list. Tiers
// must be sorted ascending by threshold (see NormalizeSnapshot).
//
// The base rule picks the highest-indexed tier whose threshold is <=
// level, so equal thresholds resolve to the later (louder) entry and an
// exact crossing qualifies. Hysteresis then keeps the previously active
// tier when the level has dipped below its threshold but not below its
// release point, preventing flicker at the boundary. An out-of-range
// previous index is treated as NoTier.
func ResolveTier(level float64, tiers []TalkTier, previous int) int {
	if len(tiers) == 0 {
		return NoTier
	}
	if previous < 0 || previous >= len(tiers) {
		previous = NoTier
	}

	best := NoTier
	for i, tier := range tiers {
		if level >= tier.Threshold {
			best = i
		}
	}

	if previous != NoTier && best < previous {
		release := tiers[previous].Threshold * (1 - hysteresisRatio)
		if level >= release {
			return previous
		}
	}
	return best
}
