package model

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleConfig() SimConfig {
	return SimConfig{
		Player: PlayerStats{
			AttackPower: decimal.NewFromInt(1200),
			CritChance:  decimal.NewFromFloat(0.18),
		},
		Spells: []SpellDef{
			{Name: "kill_command", BaseCoeffAP: decimal.NewFromFloat(1.6), CooldownMS: 7500},
		},
		Target:     TargetConfig{Armor: decimal.NewFromInt(400), DurationMS: 300000},
		RotationID: "bm-single-target",
		Extra: map[string]decimal.Decimal{
			"resource_cap":           decimal.NewFromInt(100),
			"auto_attack_speed_ms":   decimal.NewFromInt(2600),
			"resource_regen_per_sec": decimal.NewFromInt(10),
		},
	}
}

// TestHashIsStable covers content addressing: hashing the same logical
// config twice — including across fresh map allocations, where Go's map
// iteration order differs — must produce the same identity, so two jobs
// referencing the same config share one row.
func TestHashIsStable(t *testing.T) {
	h1, err := sampleConfig().Hash()
	require.NoError(t, err)
	h2, err := sampleConfig().Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64, "sha256 hex")
}

func TestHashChangesWithContent(t *testing.T) {
	base, err := sampleConfig().Hash()
	require.NoError(t, err)

	changed := sampleConfig()
	changed.Player.AttackPower = decimal.NewFromInt(1201)
	h, err := changed.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, base, h)

	extraChanged := sampleConfig()
	extraChanged.Extra["resource_cap"] = decimal.NewFromInt(120)
	h2, err := extraChanged.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, base, h2, "Extra participates in the identity")
}

// TestCanonicalBytesSortsExtra pins the canonicalization detail the
// stability guarantee rests on: the Extra map is flattened into a
// key-sorted list before marshaling.
func TestCanonicalBytesSortsExtra(t *testing.T) {
	cfg := SimConfig{Extra: map[string]decimal.Decimal{
		"zeta":  decimal.NewFromInt(1),
		"alpha": decimal.NewFromInt(2),
	}}
	b, err := cfg.CanonicalBytes()
	require.NoError(t, err)

	canonical := string(b)
	assert.Less(t, strings.Index(canonical, "alpha"), strings.Index(canonical, "zeta"))
}

func TestChecksumScript(t *testing.T) {
	a := ChecksumScript(`cast("a")`)
	b := ChecksumScript(`cast("a")`)
	c := ChecksumScript(`cast("b")`)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
