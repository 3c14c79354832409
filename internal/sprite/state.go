package sprite

// Mode tags the state machine's active variant.
type Mode string

const (
	ModeIdle    Mode = "idle"
	ModeTalking Mode = "talking"
)

// State is a point-in-time view of the machine, carried on every
// publication so the renderer and the level-meter UI see one coherent
// instant.
type State struct {
	Mode      Mode   `json:"mode"`
	Tier      int    `json:"tier"`       // valid when talking
	IdleIndex int    `json:"idle_index"` // position in the idle sequence
	Sprite    Handle `json:"sprite"`
}

// Machine owns the Idle/Talking variant and is the only mutator of it.
// It is not safe for concurrent use; the controller loop serializes all
// calls. Every mutating method reports whether the transition must be
// published, and publishes carry exactly one sprite per instant.
type Machine struct {
	snap      Snapshot
	mode      Mode
	tier      int
	idleIndex int
}

// NewMachine starts in Idle at index 0 (inert when the idle sequence is
// empty).
func NewMachine(snap Snapshot) *Machine {
	return &Machine{snap: snap, mode: ModeIdle, tier: NoTier}
}

// State returns the current state with the resolved sprite handle.
func (m *Machine) State() State {
	return State{Mode: m.mode, Tier: m.tier, IdleIndex: m.idleIndex, Sprite: m.currentHandle()}
}

// CurrentTier returns the active talk tier, or NoTier while idle. This
// is the resolver's hysteresis anchor.
func (m *Machine) CurrentTier() int {
	if m.mode == ModeTalking {
		return m.tier
	}
	return NoTier
}

// ApplySnapshot swaps in a new configuration atomically. Indexes that
// no longer fit are reset, a talking tier is re-entered only if it
// still exists, and the resulting state is always republished so the
// renderer never shows a sprite from the old snapshot.
func (m *Machine) ApplySnapshot(snap Snapshot) State {
	m.snap = snap
	if m.idleIndex >= len(snap.Idle) {
		m.idleIndex = 0
	}
	if m.mode == ModeTalking && m.tier >= len(snap.Tiers) {
		m.mode = ModeIdle
		m.tier = NoTier
	}
	return m.State()
}

// ApplyTier consumes a resolver result. NoTier while talking drops to
// Idle at the current idle index; a new tier (from Idle or a different
// tier) enters Talking. Returns the state to publish and whether a
// transition happened.
func (m *Machine) ApplyTier(tier int) (State, bool) {
	if tier < 0 || tier >= len(m.snap.Tiers) {
		tier = NoTier
	}

	switch {
	case tier == NoTier && m.mode == ModeTalking:
		m.mode = ModeIdle
		m.tier = NoTier
		return m.State(), true
	case tier != NoTier && (m.mode == ModeIdle || m.tier != tier):
		m.mode = ModeTalking
		m.tier = tier
		return m.State(), true
	}
	return m.State(), false
}

// ApplyIdleTick advances the idle index with the given advance policy.
// The index moves regardless of mode so playback resumes mid-cycle, but
// the tick is only published while Idle.
func (m *Machine) ApplyIdleTick(advance func(current, length int) int) (State, bool) {
	if len(m.snap.Idle) == 0 {
		return m.State(), false
	}
	m.idleIndex = advance(m.idleIndex, len(m.snap.Idle))
	if m.idleIndex < 0 || m.idleIndex >= len(m.snap.Idle) {
		m.idleIndex = 0
	}
	return m.State(), m.mode == ModeIdle
}

// currentHandle resolves the sprite for the active variant. None when
// idle with an empty sequence.
func (m *Machine) currentHandle() Handle {
	if m.mode == ModeTalking && m.tier >= 0 && m.tier < len(m.snap.Tiers) {
		return m.snap.Tiers[m.tier].Sprite
	}
	if len(m.snap.Idle) == 0 {
		return None
	}
	return m.snap.Idle[m.idleIndex%len(m.snap.Idle)]
}
