package sim

import (
	"github.com/thrasher-corp/wowlab-fleet/internal/rotation"
	"github.com/thrasher-corp/wowlab-fleet/internal/sim/damage"
)

// SpellDef is the static, per-run-immutable description of one castable
// ability the kernel's event handlers reference by SpellIdx.
type SpellDef struct {
	Name        string
	CastTimeMS  uint32
	CooldownMS  uint32
	Charges     int
	ResourceCost float64
	Damage      damage.Input
	GrantsAura  AuraIdx
	HasAura     bool
}

// AuraDef is the static description of one buff/debuff the kernel
// applies/ticks by AuraIdx.
type AuraDef struct {
	Name        string
	DurationMS  uint32
	MaxStacks   int
	TickMS      uint32 // 0 means non-periodic
	RefreshPolicy AuraRefreshPolicy
	Snapshot    SnapshotFlags // which stats ticks freeze at application time
	Damage      damage.Input // for periodic-damage auras; zero value means non-damaging
}

// ProcDef is a triggered-on-event effect (e.g. "15% chance on hit to
// reset cooldown X"), gated by its own internal cooldown (ICD)
// independent of the spell cooldown system.
type ProcDef struct {
	Name   string
	Chance float64
	OnCrit bool // if false, triggers on any hit
	ICDMs  uint32
	Apply  func(ps *PlayerState, c *Capability)

	// ResetsCooldown marks Apply as a cooldown reset of ResetSpell, so
	// the kernel can invalidate the evaluator's predictive gates on that
	// slot when the proc fires — a reset moves the cooldown's true time
	// earlier than any annotated prediction.
	ResetsCooldown bool
	ResetSpell     SpellIdx
}

// Capability is the immutable per-spec record the kernel is parametric
// over: variants are values, not subclasses. One Capability is built
// once per SimConfig and reused across every iteration of every chunk
// that config is assigned to.
type Capability struct {
	Spells []SpellDef // indexed by SpellIdx
	Auras  []AuraDef  // indexed by AuraIdx
	Procs  []ProcDef

	InitPlayer func() *PlayerState
	InitSim    func(ps *PlayerState)

	Rotation *rotation.Script
	Slots    *rotation.SlotMap

	// Talents are the compile-time-constant flags the rotation was folded
	// against; kept here so mixed runtime conditions referencing a
	// talent_* identifier still resolve during evaluation.
	Talents map[string]bool

	ResourceRegenPerSec float64
	AutoAttackSpeedMS   uint32 // 0 disables the auto-attack swing timer
	AutoAttackDamage    damage.Input
}

// SpellByName and AuraByName support building a SlotMap from a
// Capability's definitions when compiling a rotation script.
func (c *Capability) SpellByName(name string) (SpellIdx, bool) {
	for i, s := range c.Spells {
		if s.Name == name {
			return SpellIdx(i), true
		}
	}
	return 0, false
}

func (c *Capability) AuraByName(name string) (AuraIdx, bool) {
	for i, a := range c.Auras {
		if a.Name == name {
			return AuraIdx(i), true
		}
	}
	return 0, false
}

// BuildSlotMap registers every spell/aura name into a rotation.SlotMap
// using their dense indices, the binding the rotation compiler needs to
// resolve "$cooldown.name.ready" / "$aura.name.up" predicates.
func (c *Capability) BuildSlotMap() *rotation.SlotMap {
	m := rotation.NewSlotMap()
	for i, s := range c.Spells {
		m.RegisterCooldown(s.Name, i)
	}
	for i, a := range c.Auras {
		m.RegisterAura(a.Name, i)
	}
	return m
}
