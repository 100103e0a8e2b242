package sim

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/thrasher-corp/wowlab-fleet/internal/model"
	"github.com/thrasher-corp/wowlab-fleet/internal/rotation"
	"github.com/thrasher-corp/wowlab-fleet/internal/sim/damage"
)

// DefaultCritMultiplier is the standard "crit doubles damage" multiplier
// BuildCapability gives every spell, aura tick and auto-attack; there is
// no per-spell override: full per-spec crit multiplier tables are out of
// scope, so a sane default keeps the pipeline runnable without one.
const DefaultCritMultiplier = 2.0

// BuildCapability compiles a content-addressed SimConfig plus its
// rotation script into a runnable Capability: the one place the
// worker's declarative config crosses into the kernel's dense-array,
// index-based representation.
func BuildCapability(cfg model.SimConfig, rotationScript string, talents map[string]bool) (*Capability, error) {
	targetArmor, _ := cfg.Target.Armor.Float64()

	spells := make([]SpellDef, len(cfg.Spells))
	for i, s := range cfg.Spells {
		apCoeff, _ := s.BaseCoeffAP.Float64()
		spCoeff, _ := s.BaseCoeffSP.Float64()
		cost, _ := s.ResourceCost.Float64()
		school := damage.SchoolPhysical
		if spCoeff > 0 {
			school = damage.SchoolSpell
		}
		spells[i] = SpellDef{
			Name:         s.Name,
			CastTimeMS:   s.CastTimeMS,
			CooldownMS:   s.CooldownMS,
			Charges:      s.Charges,
			ResourceCost: cost,
			Damage: damage.Input{
				APCoeff:        apCoeff,
				SPCoeff:        spCoeff,
				Multipliers:    1,
				CritMultiplier: DefaultCritMultiplier,
				School:         school,
				Armor:          targetArmor,
			},
		}
	}

	auras := make([]AuraDef, len(cfg.Auras))
	for i, a := range cfg.Auras {
		tickCoeff := extraFloat(cfg.Extra, "aura_"+a.Name+"_tick_sp_coeff", 0)
		auras[i] = AuraDef{
			Name:       a.Name,
			DurationMS: a.DurationMS,
			MaxStacks:  a.MaxStacks,
			TickMS:     a.TickMS,
			Snapshot:   SnapshotFlagsFromNames(a.Snapshot),
			Damage: damage.Input{
				SPCoeff:        tickCoeff,
				Multipliers:    1,
				CritMultiplier: DefaultCritMultiplier,
				School:         damage.SchoolSpell,
				Armor:          targetArmor,
			},
		}
		if a.TickMS > 0 {
			auras[i].RefreshPolicy = RefreshPandemic
		}
	}

	cap := &Capability{Spells: spells, Auras: auras, Talents: talents}

	// Spell -> aura linkage resolves after both arrays exist: the
	// cross-reference is a dense AuraIdx, never a pointer.
	for i, s := range cfg.Spells {
		if s.AppliesAura == "" {
			continue
		}
		idx, ok := cap.AuraByName(s.AppliesAura)
		if !ok {
			return nil, errors.Errorf("sim: spell %q applies unknown aura %q", s.Name, s.AppliesAura)
		}
		cap.Spells[i].GrantsAura = idx
		cap.Spells[i].HasAura = true
	}

	procs := make([]ProcDef, len(cfg.Procs))
	for i, p := range cfg.Procs {
		chance, _ := p.Chance.Float64()
		def := ProcDef{Name: p.Name, Chance: chance, OnCrit: p.OnCrit, ICDMs: p.ICDMs}
		switch p.Effect {
		case model.ProcEffectResetCooldown:
			idx, ok := cap.SpellByName(p.Target)
			if !ok {
				return nil, errors.Errorf("sim: proc %q resets unknown spell %q", p.Name, p.Target)
			}
			spellIdx := idx
			def.ResetsCooldown = true
			def.ResetSpell = spellIdx
			def.Apply = func(ps *PlayerState, _ *Capability) {
				ps.Cooldowns[spellIdx] = ps.Cooldowns[spellIdx].Reset(ps.Clock)
			}
		default:
			return nil, errors.Errorf("sim: proc %q has unknown effect %q", p.Name, p.Effect)
		}
		procs[i] = def
	}
	cap.Procs = procs

	slots := cap.BuildSlotMap()
	script, err := rotation.Compile(rotationScript, slots, talents)
	if err != nil {
		return nil, errors.Wrap(err, "sim: compile rotation")
	}
	cap.Slots = slots
	cap.Rotation = script

	ap, _ := cfg.Player.AttackPower.Float64()
	sp, _ := cfg.Player.SpellPower.Float64()
	critChance, _ := cfg.Player.CritChance.Float64()
	hasteRating, _ := cfg.Player.HasteRating.Float64()
	mastery, _ := cfg.Player.Mastery.Float64()
	versatility, _ := cfg.Player.Versatility.Float64()
	armor, _ := cfg.Player.Armor.Float64()

	resourceRegen := extraFloat(cfg.Extra, "resource_regen_per_sec", 0)
	resourceCap := extraFloat(cfg.Extra, "resource_cap", 100)
	autoAttackSpeedMS := uint32(extraFloat(cfg.Extra, "auto_attack_speed_ms", 0))
	autoAttackBase := extraFloat(cfg.Extra, "auto_attack_base", 0)

	cap.ResourceRegenPerSec = resourceRegen
	cap.AutoAttackSpeedMS = autoAttackSpeedMS
	cap.AutoAttackDamage = damage.Input{
		Base:           autoAttackBase,
		Multipliers:    1,
		CritMultiplier: DefaultCritMultiplier,
		School:         damage.SchoolPhysical,
		Armor:          targetArmor,
	}

	cap.InitPlayer = func() *PlayerState {
		ps := NewPlayerState(len(cap.Spells), len(cap.Auras), len(cap.Procs))
		ps.AttackPower = ap
		ps.SpellPower = sp
		ps.CritChance = critChance
		ps.Haste = 1 + hasteRating/100
		ps.Mastery = mastery
		ps.Versatility = versatility
		ps.Armor = armor
		ps.ResourceCap = resourceCap
		ps.EnemyHealthFraction = 1
		for i, s := range cap.Spells {
			ps.Cooldowns[i] = Cooldown{
				MaxCharges: maxInt(s.Charges, 1),
				Charges:    maxInt(s.Charges, 1),
				RechargeMS: s.CooldownMS,
			}
		}
		return ps
	}

	return cap, nil
}

// extraFloat reads an optional numeric knob out of a SimConfig's open
// Extra map (e.g. "resource_regen_per_sec"), falling back to def when
// absent — the escape hatch for per-spec numbers the minimal SpellDef/
// AuraDef/PlayerStats shapes don't name individually.
func extraFloat(extra map[string]decimal.Decimal, key string, def float64) float64 {
	v, ok := extra[key]
	if !ok {
		return def
	}
	f, _ := v.Float64()
	return f
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
