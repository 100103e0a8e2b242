package sim

// SpellIdx and AuraIdx are stable dense-array indices, never pointers:
// cross-references between spells/auras (e.g. "cast X if aura Y from X
// is about to expire") are indices into flat arrays, which breaks the
// apparent reference cycle without ever materializing one in memory.
type SpellIdx int

type AuraIdx int

type ProcIdx int

// Cooldown is the ready/on_cooldown (+ optional charges) state machine
// shared by every spell and charged ability.
type Cooldown struct {
	ReadyAt    uint32 // sim-time ms at which the cooldown next becomes ready
	Charges    int
	MaxCharges int
	RechargeMS uint32
}

// IsReady reports readiness at the given sim time: charged cooldowns are
// ready whenever at least one charge is banked.
func (c Cooldown) IsReady(now uint32) bool {
	if c.MaxCharges > 1 {
		return c.Charges >= 1
	}
	return now >= c.ReadyAt
}

// EarliestReady returns the earliest sim time at which this cooldown
// will next be ready, for the rotation engine's predictive gating.
func (c Cooldown) EarliestReady(now uint32) uint32 {
	if c.IsReady(now) {
		return now
	}
	return c.ReadyAt
}

// OnCast transitions the cooldown on spending a charge (or starting the
// single-use cooldown): ready -> on_cooldown(now + d/haste if hasted
// else now + d).
func (c Cooldown) OnCast(now uint32, durationMS uint32, hasted bool, haste float64) Cooldown {
	d := durationMS
	if hasted && haste > 0 {
		d = uint32(float64(durationMS) / haste)
	}
	if c.MaxCharges > 1 {
		c.Charges--
		if c.ReadyAt == 0 || now >= c.ReadyAt {
			c.ReadyAt = now + d
		}
		return c
	}
	c.ReadyAt = now + d
	return c
}

// Reset recovers the cooldown immediately, the cooldown-reset proc
// transition: a charged cooldown regains one charge, a single-use
// cooldown becomes ready at now.
func (c Cooldown) Reset(now uint32) Cooldown {
	if c.MaxCharges > 1 {
		if c.Charges < c.MaxCharges {
			c.Charges++
		}
		return c
	}
	c.ReadyAt = now
	return c
}

// OnTick recovers a charge (or clears the single-use cooldown) once its
// recharge time has elapsed: on_cooldown(t <= now) -> ready.
func (c Cooldown) OnTick(now uint32) Cooldown {
	if c.MaxCharges > 1 {
		if c.Charges < c.MaxCharges && now >= c.ReadyAt {
			c.Charges++
			if c.Charges < c.MaxCharges {
				c.ReadyAt = now + c.RechargeMS
			}
		}
		return c
	}
	return c
}

// AuraRefreshPolicy selects how reapplication of an already-active aura
// behaves.
type AuraRefreshPolicy int

const (
	RefreshToMax AuraRefreshPolicy = iota
	RefreshPandemic
)

// Aura is the absent/present(stacks, until) state machine every
// time-bounded buff or debuff goes through.
type Aura struct {
	Present    bool
	Stacks     int
	MaxStacks  int
	ExpiresAt  uint32
	Snapshot   SnapshottedStats
	Flags      SnapshotFlags
}

// PandemicCap bounds how much remaining duration can be "banked" into an
// extension on reapplication: fixed here at the common convention of
// 30% of base duration; per-aura caps, as a full game-data pipeline
// would have, are out of scope.
func PandemicCap(baseDurationMS uint32) uint32 {
	return baseDurationMS * 3 / 10
}

// Apply reapplies the aura at sim time now, per the configured refresh
// policy: RefreshToMax snaps to the full new duration; RefreshPandemic
// extends by min(remaining, pandemic_cap) + new.
func (a Aura) Apply(now uint32, durationMS uint32, maxStacks int, policy AuraRefreshPolicy, snap SnapshottedStats, flags SnapshotFlags) Aura {
	if !a.Present {
		a.Present = true
		a.Stacks = 1
		a.ExpiresAt = now + durationMS
		a.Snapshot = snap
		a.Flags = flags
		a.MaxStacks = maxStacks
		return a
	}

	if a.Stacks < maxStacks {
		a.Stacks++
	}
	switch policy {
	case RefreshPandemic:
		remaining := uint32(0)
		if a.ExpiresAt > now {
			remaining = a.ExpiresAt - now
		}
		cap := PandemicCap(durationMS)
		if remaining > cap {
			remaining = cap
		}
		a.ExpiresAt = now + remaining + durationMS
	default:
		a.ExpiresAt = now + durationMS
	}
	a.Snapshot = snap
	a.Flags = flags
	return a
}

// Fade clears the aura (absent), e.g. on AuraExpire event dispatch.
func (a Aura) Fade() Aura {
	return Aura{MaxStacks: a.MaxStacks}
}

// RemainingAt returns the aura's remaining duration at sim time now,
// for predictive gating and rotation context building.
func (a Aura) RemainingAt(now uint32) uint32 {
	if !a.Present || a.ExpiresAt <= now {
		return 0
	}
	return a.ExpiresAt - now
}

// PlayerState is the sim kernel's full mutable state for one iteration:
// resource levels, the logical clock, GCD remaining, and the dense
// cooldown/aura arrays the rotation context's per-tick lookups read
// from.
type PlayerState struct {
	Clock        uint32
	GCDReadyAt   uint32
	CastingUntil uint32 // sim-time ms until which a hard-cast occupies the player
	Resource     float64
	ResourceCap  float64
	Haste        float64
	AttackPower  float64
	SpellPower   float64
	CritChance   float64
	Versatility  float64
	Mastery      float64
	Armor        float64

	Cooldowns []Cooldown // indexed by SpellIdx
	Auras     []Aura     // indexed by AuraIdx
	ProcReady []bool     // indexed by ProcIdx; true once a proc's ICD has elapsed

	EnemyHealthFraction float64

	TotalDamage float64
}

// NewPlayerState allocates the dense cooldown/aura/proc arrays sized to
// the capability record's counts.
func NewPlayerState(spellCount, auraCount, procCount int) *PlayerState {
	procReady := make([]bool, procCount)
	for i := range procReady {
		procReady[i] = true
	}
	return &PlayerState{
		Resource:            0,
		Haste:               1,
		CritChance:           0,
		EnemyHealthFraction: 1,
		Cooldowns:           make([]Cooldown, spellCount),
		Auras:               make([]Aura, auraCount),
		ProcReady:           procReady,
	}
}
