package model

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/shopspring/decimal"
)

// PlayerStats uses decimal.Decimal rather than float64 so the canonical
// JSON bytes hashed into a SimConfig's identity are stable across
// platforms: float64 formatting ("%g"-style rounding, exponent
// thresholds) is not portable, and two workers disagreeing on a digit of
// a hashed config would split an otherwise-identical cache entry in two.
type PlayerStats struct {
	AttackPower  decimal.Decimal `json:"attack_power"`
	SpellPower   decimal.Decimal `json:"spell_power"`
	CritChance   decimal.Decimal `json:"crit_chance"`
	HasteRating  decimal.Decimal `json:"haste_rating"`
	Mastery      decimal.Decimal `json:"mastery"`
	Versatility  decimal.Decimal `json:"versatility"`
	Armor        decimal.Decimal `json:"armor"`
}

// TargetConfig describes the simulated encounter target.
type TargetConfig struct {
	Armor      decimal.Decimal `json:"armor"`
	DurationMS uint32          `json:"duration_ms"`
}

// SimConfig is the content-addressed, immutable description of one
// simulation setup.
type SimConfig struct {
	Player     PlayerStats            `json:"player"`
	Spells     []SpellDef              `json:"spells"`
	Auras      []AuraDef               `json:"auras"`
	Procs      []ProcDef               `json:"procs,omitempty"`
	Target     TargetConfig            `json:"target"`
	RotationID string                  `json:"rotation_id"`
	Extra      map[string]decimal.Decimal `json:"extra,omitempty"`
}

// SpellDef and AuraDef are intentionally minimal: the kernel's capability
// record (internal/sim) carries the rest of each spec's behavior, these
// only hold the dense-array registration the rotation context needs.
type SpellDef struct {
	Name         string          `json:"name"`
	BaseCoeffAP  decimal.Decimal `json:"ap_coeff"`
	BaseCoeffSP  decimal.Decimal `json:"sp_coeff"`
	CooldownMS   uint32          `json:"cooldown_ms"`
	CastTimeMS   uint32          `json:"cast_time_ms"`
	Charges      int             `json:"charges"`
	ResourceCost decimal.Decimal `json:"resource_cost"`
	GCD          bool            `json:"gcd"`
	AppliesAura  string          `json:"applies_aura,omitempty"`
}

type AuraDef struct {
	Name         string   `json:"name"`
	DurationMS   uint32   `json:"duration_ms"`
	MaxStacks    int      `json:"max_stacks"`
	TickMS       uint32   `json:"tick_ms"`
	Snapshot     []string `json:"snapshot"` // bit-set field names, see internal/sim/snapshot.go
}

// ProcEffectResetCooldown makes the named target spell ready again, the
// shape of hunter-style "your hits have a chance to reset X" procs.
const ProcEffectResetCooldown = "reset_cooldown"

// ProcDef declares a triggered effect: on a qualifying hit (any hit, or
// crits only), with the given chance, apply the named effect to the
// named target — gated by the proc's own internal cooldown,
// independent of the spell cooldown system.
type ProcDef struct {
	Name   string          `json:"name"`
	Chance decimal.Decimal `json:"chance"` // [0, 1]
	OnCrit bool            `json:"on_crit"`
	ICDMs  uint32          `json:"icd_ms"`
	Effect string          `json:"effect"`
	Target string          `json:"target"`
}

// CanonicalBytes renders deterministic, key-sorted JSON: map iteration in
// Go's encoding/json already sorts object keys, but Extra is the one
// field that is itself a map, so it is flattened through a sorted slice
// before marshaling to guarantee stability independent of json package
// internals.
func (c SimConfig) CanonicalBytes() ([]byte, error) {
	type canonicalExtra struct {
		Key   string          `json:"key"`
		Value decimal.Decimal `json:"value"`
	}
	type canonical struct {
		Player     PlayerStats      `json:"player"`
		Spells     []SpellDef       `json:"spells"`
		Auras      []AuraDef        `json:"auras"`
		Procs      []ProcDef        `json:"procs,omitempty"`
		Target     TargetConfig     `json:"target"`
		RotationID string           `json:"rotation_id"`
		Extra      []canonicalExtra `json:"extra,omitempty"`
	}

	extra := make([]canonicalExtra, 0, len(c.Extra))
	for k, v := range c.Extra {
		extra = append(extra, canonicalExtra{Key: k, Value: v})
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].Key < extra[j].Key })

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(canonical{
		Player:     c.Player,
		Spells:     c.Spells,
		Auras:      c.Auras,
		Procs:      c.Procs,
		Target:     c.Target,
		RotationID: c.RotationID,
		Extra:      extra,
	}); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Hash returns the SimConfig's content address: sha256 over its
// canonical bytes, hex-encoded. Two jobs referencing the same hash share
// the underlying config row.
func (c SimConfig) Hash() (string, error) {
	b, err := c.CanonicalBytes()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// RotationScript is the mutable, checksummed rotation DSL source.
type RotationScript struct {
	ID       string `json:"id"`
	Script   string `json:"script"`
	Checksum string `json:"checksum"`
}

// ChecksumScript computes the RotationScript's content checksum the same
// way the config hash is computed, so cache invalidation can compare
// against a value the coordinator already persisted.
func ChecksumScript(script string) string {
	sum := sha256.Sum256([]byte(script))
	return hex.EncodeToString(sum[:])
}
