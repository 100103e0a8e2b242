// Package sim assembles the per-iteration event loop out of the rng,
// event, damage and stats packages, parametric over a capability record
// whose variants are values, not subclasses.
package sim

import "github.com/bits-and-blooms/bitset"

// Snapshot flag bit positions, one per periodic-effect-relevant stat:
// AP, SP, crit, haste, versatility, mastery, multipliers.
const (
	SnapAttackPower = iota
	SnapSpellPower
	SnapCrit
	SnapHaste
	SnapVersatility
	SnapMastery
	SnapMultipliers
	snapFlagCount
)

// SnapshotFlags is the bit-set of which fields a periodic effect
// captured at application time; ticks use the snapshotted value for
// flagged fields and the live value otherwise.
type SnapshotFlags struct {
	bits *bitset.BitSet
}

// NewSnapshotFlags builds an empty flag set.
func NewSnapshotFlags() SnapshotFlags {
	return SnapshotFlags{bits: bitset.New(snapFlagCount)}
}

// Set marks field as snapshotted.
func (f SnapshotFlags) Set(field uint) SnapshotFlags {
	if f.bits == nil {
		f.bits = bitset.New(snapFlagCount)
	}
	f.bits.Set(field)
	return f
}

// IsSnapshotted reports whether field was captured at application time.
// The zero value snapshots nothing (ticks always read live stats).
func (f SnapshotFlags) IsSnapshotted(field uint) bool {
	return f.bits != nil && f.bits.Test(field)
}

// IsZero reports whether no field is flagged at all, letting callers
// substitute a default flag set for aura definitions that never named
// one.
func (f SnapshotFlags) IsZero() bool {
	return f.bits == nil || !f.bits.Any()
}

// snapFieldNames maps the config-level snapshot field names onto flag
// bit positions.
var snapFieldNames = map[string]uint{
	"attack_power": SnapAttackPower,
	"spell_power":  SnapSpellPower,
	"crit":         SnapCrit,
	"haste":        SnapHaste,
	"versatility":  SnapVersatility,
	"mastery":      SnapMastery,
	"multipliers":  SnapMultipliers,
}

// SnapshotFlagsFromNames builds a flag set from the field names an
// AuraDef's config declares; unknown names are ignored rather than
// rejected, since a config authored against a newer stat list should
// still run.
func SnapshotFlagsFromNames(names []string) SnapshotFlags {
	var f SnapshotFlags
	for _, n := range names {
		if bit, ok := snapFieldNames[n]; ok {
			f = f.Set(bit)
		}
	}
	return f
}

// SnapshottedStats is the frozen copy of stats captured when a periodic
// effect was applied.
type SnapshottedStats struct {
	AttackPower  float64
	SpellPower   float64
	CritChance   float64
	Haste        float64
	Versatility  float64
	Mastery      float64
	Multipliers  float64
}

// Resolve returns the effective value for one field given the snapshot
// and the current live stats, using the snapshot only where flagged.
func (s SnapshottedStats) Resolve(flags SnapshotFlags, field uint, live float64) float64 {
	if !flags.IsSnapshotted(field) {
		return live
	}
	switch field {
	case SnapAttackPower:
		return s.AttackPower
	case SnapSpellPower:
		return s.SpellPower
	case SnapCrit:
		return s.CritChance
	case SnapHaste:
		return s.Haste
	case SnapVersatility:
		return s.Versatility
	case SnapMastery:
		return s.Mastery
	case SnapMultipliers:
		return s.Multipliers
	default:
		return live
	}
}
