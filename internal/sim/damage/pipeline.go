// Package damage implements the pure damage pipeline: a function over
// (base, coefficients, attacker stats, target armor, rng) producing
// (raw, final, hit result, flags). No package state, no I/O — every
// call is a pure function of its arguments and the supplied RNG stream,
// preserving the kernel's determinism guarantee.
package damage

import "github.com/thrasher-corp/wowlab-fleet/internal/sim/rng"

// HitResult enumerates the outcome of the hit roll.
type HitResult int

const (
	HitMiss HitResult = iota
	HitNormal
	HitCrit
)

// School enumerates damage schools (only physical mitigates via armor).
type School int

const (
	SchoolPhysical School = iota
	SchoolSpell
)

// ArmorConstant is K in armor / (armor + K), the mitigation curve's
// knee point; a fixed constant here, configurable per capability record
// in a full game-data pipeline, which is out of scope.
const ArmorConstant = 400.0

// ArmorCap is the maximum physical mitigation fraction.
const ArmorCap = 0.85

// Input bundles one damage pipeline invocation's parameters.
type Input struct {
	Base         float64
	APCoeff      float64
	SPCoeff      float64
	AttackPower  float64
	SpellPower   float64
	Multipliers  float64 // pre-multiplied stack of all applicable multipliers
	CritChance   float64 // [0, 1]
	CritMultiplier float64
	School       School
	Armor        float64
}

// Output is the pipeline's result.
type Output struct {
	Raw    float64
	Final  float64
	Hit    HitResult
	Flags  uint32
}

// Compute runs the damage pipeline once, consuming exactly one RNG draw
// for the hit/crit roll.
func Compute(in Input, r *rng.Xoshiro256pp) Output {
	raw := in.Base + in.APCoeff*in.AttackPower + in.SPCoeff*in.SpellPower
	raw *= in.Multipliers

	roll := r.Float64()
	hit := HitNormal
	final := raw
	if roll < in.CritChance {
		hit = HitCrit
		mult := in.CritMultiplier
		if mult == 0 {
			mult = 2.0
		}
		final = raw * mult
	}

	if in.School == SchoolPhysical {
		mitigation := in.Armor / (in.Armor + ArmorConstant)
		if mitigation > ArmorCap {
			mitigation = ArmorCap
		}
		final *= 1 - mitigation
	}

	return Output{Raw: raw, Final: final, Hit: hit}
}

// HastedDuration scales a base duration by haste, floored at 1ms: the
// haste-scaled DoT interval is base / haste.
func HastedDuration(baseMS uint32, haste float64) uint32 {
	if haste <= 0 {
		haste = 1
	}
	d := uint32(float64(baseMS) / haste)
	if d < 1 {
		d = 1
	}
	return d
}

// GCD returns the global cooldown duration for a given haste multiplier:
// max(0.75s, 1.5s / haste).
func GCD(haste float64) uint32 {
	if haste <= 0 {
		haste = 1
	}
	gcd := uint32(1500.0 / haste)
	if gcd < 750 {
		gcd = 750
	}
	return gcd
}
