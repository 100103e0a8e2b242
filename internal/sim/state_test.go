package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCooldownSingleUseLifecycle(t *testing.T) {
	cd := Cooldown{MaxCharges: 1, Charges: 1}
	require.True(t, cd.IsReady(0))

	cd = cd.OnCast(1000, 8000, false, 1)
	assert.False(t, cd.IsReady(5000))
	assert.True(t, cd.IsReady(9000))
	assert.Equal(t, uint32(9000), cd.EarliestReady(5000))
}

func TestCooldownHastedCast(t *testing.T) {
	cd := Cooldown{MaxCharges: 1, Charges: 1}
	cd = cd.OnCast(0, 8000, true, 2.0)
	assert.True(t, cd.IsReady(4000), "2x haste halves the cooldown")
	assert.False(t, cd.IsReady(3999))
}

// TestChargedCooldownLifecycle covers the charge machine: presence of
// any banked charge means ready; each spend starts (or continues) one
// recharge cycle; recoveries arrive one recharge interval apart.
func TestChargedCooldownLifecycle(t *testing.T) {
	cd := Cooldown{MaxCharges: 2, Charges: 2, RechargeMS: 7500}

	cd = cd.OnCast(0, 7500, false, 1)
	assert.Equal(t, 1, cd.Charges)
	assert.True(t, cd.IsReady(0), "one banked charge still reads ready")
	assert.Equal(t, uint32(7500), cd.ReadyAt)

	cd = cd.OnCast(100, 7500, false, 1)
	assert.Equal(t, 0, cd.Charges)
	assert.False(t, cd.IsReady(100))
	assert.Equal(t, uint32(7500), cd.ReadyAt, "a running recharge cycle is not restarted by a second spend")

	// First recovery: one charge back, next cycle scheduled.
	cd = cd.OnTick(7500)
	assert.Equal(t, 1, cd.Charges)
	assert.True(t, cd.IsReady(7500))
	assert.Equal(t, uint32(15000), cd.ReadyAt)

	// Second recovery tops the charges out.
	cd = cd.OnTick(15000)
	assert.Equal(t, 2, cd.Charges)
}

func TestCooldownOnTickBeforeReadyIsNoOp(t *testing.T) {
	cd := Cooldown{MaxCharges: 2, Charges: 0, ReadyAt: 5000, RechargeMS: 5000}
	cd = cd.OnTick(4000)
	assert.Equal(t, 0, cd.Charges)
}

func TestAuraApplyAndFade(t *testing.T) {
	var a Aura
	snap := SnapshottedStats{AttackPower: 1000}
	flags := NewSnapshotFlags().Set(SnapAttackPower)

	a = a.Apply(100, 12000, 3, RefreshToMax, snap, flags)
	require.True(t, a.Present)
	assert.Equal(t, 1, a.Stacks)
	assert.Equal(t, uint32(12100), a.ExpiresAt)
	assert.Equal(t, uint32(11900), a.RemainingAt(200))
	assert.Equal(t, 1000.0, a.Snapshot.AttackPower)

	a = a.Fade()
	assert.False(t, a.Present)
	assert.Zero(t, a.RemainingAt(200))
}

// TestAuraRefreshToMax covers the plain refresh policy: reapplication
// snaps the expiry to now + full duration and adds a stack up to the
// cap.
func TestAuraRefreshToMax(t *testing.T) {
	var a Aura
	a = a.Apply(0, 10000, 2, RefreshToMax, SnapshottedStats{}, SnapshotFlags{})
	a = a.Apply(4000, 10000, 2, RefreshToMax, SnapshottedStats{}, SnapshotFlags{})
	assert.Equal(t, 2, a.Stacks)
	assert.Equal(t, uint32(14000), a.ExpiresAt)

	a = a.Apply(5000, 10000, 2, RefreshToMax, SnapshottedStats{}, SnapshotFlags{})
	assert.Equal(t, 2, a.Stacks, "stacks cap at max")
}

// TestAuraRefreshPandemic covers the pandemic policy: the extension
// banks min(remaining, 30% of base) on top of the fresh duration, so
// early refreshes never waste more than the pandemic window.
func TestAuraRefreshPandemic(t *testing.T) {
	var a Aura
	a = a.Apply(0, 10000, 1, RefreshPandemic, SnapshottedStats{}, SnapshotFlags{})
	require.Equal(t, uint32(10000), a.ExpiresAt)

	// Refresh at 9s: 1s remaining < 3s cap, all of it banks.
	a = a.Apply(9000, 10000, 1, RefreshPandemic, SnapshottedStats{}, SnapshotFlags{})
	assert.Equal(t, uint32(20000), a.ExpiresAt)

	// Refresh immediately: 10s remaining clamps to the 3s cap.
	b := Aura{}
	b = b.Apply(0, 10000, 1, RefreshPandemic, SnapshottedStats{}, SnapshotFlags{})
	b = b.Apply(0, 10000, 1, RefreshPandemic, SnapshottedStats{}, SnapshotFlags{})
	assert.Equal(t, uint32(13000), b.ExpiresAt)
}

// TestSnapshotResolve covers the per-field snapshot/live split ticks
// rely on: flagged fields read the frozen value, unflagged fields read
// whatever is live now.
func TestSnapshotResolve(t *testing.T) {
	snap := SnapshottedStats{AttackPower: 1000, CritChance: 0.3}
	flags := NewSnapshotFlags().Set(SnapAttackPower)

	assert.Equal(t, 1000.0, snap.Resolve(flags, SnapAttackPower, 2000))
	assert.Equal(t, 0.5, snap.Resolve(flags, SnapCrit, 0.5), "unflagged crit reads live")
}

func TestSnapshotZeroValueSnapshotsNothing(t *testing.T) {
	var flags SnapshotFlags
	assert.True(t, flags.IsZero())
	assert.False(t, flags.IsSnapshotted(SnapAttackPower))
	assert.Equal(t, 7.0, SnapshottedStats{AttackPower: 1}.Resolve(flags, SnapAttackPower, 7))
}

func TestSnapshotFlagsFromNames(t *testing.T) {
	f := SnapshotFlagsFromNames([]string{"attack_power", "haste", "unknown_stat"})
	assert.True(t, f.IsSnapshotted(SnapAttackPower))
	assert.True(t, f.IsSnapshotted(SnapHaste))
	assert.False(t, f.IsSnapshotted(SnapCrit))
}
