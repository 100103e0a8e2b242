package sim

import "strings"

// playerContext adapts a PlayerState (plus the Capability's def tables,
// for cooldown/aura duration lookups) to rotation.Context, letting the
// rotation package's compiled scripts read kernel state without the
// rotation package ever importing sim.
type playerContext struct {
	ps  *PlayerState
	cap *Capability
}

func newPlayerContext(ps *PlayerState, c *Capability) playerContext {
	return playerContext{ps: ps, cap: c}
}

func (c playerContext) Now() uint32 { return c.ps.Clock }

func (c playerContext) CooldownReady(slot int) bool {
	if slot < 0 || slot >= len(c.ps.Cooldowns) {
		return false
	}
	return c.ps.Cooldowns[slot].IsReady(c.ps.Clock)
}

func (c playerContext) CooldownReadyAt(slot int) uint32 {
	if slot < 0 || slot >= len(c.ps.Cooldowns) {
		return c.ps.Clock
	}
	return c.ps.Cooldowns[slot].EarliestReady(c.ps.Clock)
}

func (c playerContext) AuraUp(slot int) bool {
	if slot < 0 || slot >= len(c.ps.Auras) {
		return false
	}
	return c.ps.Auras[slot].Present
}

func (c playerContext) AuraStacks(slot int) int {
	if slot < 0 || slot >= len(c.ps.Auras) {
		return 0
	}
	return c.ps.Auras[slot].Stacks
}

func (c playerContext) AuraRemaining(slot int) uint32 {
	if slot < 0 || slot >= len(c.ps.Auras) {
		return 0
	}
	return c.ps.Auras[slot].RemainingAt(c.ps.Clock)
}

// Value resolves the small set of named scalars a rotation script may
// reference beyond dense cooldown/aura slots: resources, GCD remaining,
// target health fraction, and the talent flags the capability was built
// against (mixed conditions like "talent_x and cooldown_y_ready" land
// here for the talent half).
func (c playerContext) Value(name string) (float64, bool) {
	if strings.HasPrefix(name, "talent_") {
		if c.cap.Talents[name] {
			return 1, true
		}
		return 0, true
	}
	switch name {
	case "resource":
		return c.ps.Resource, true
	case "resource_cap":
		return c.ps.ResourceCap, true
	case "haste":
		return c.ps.Haste, true
	case "gcd_remaining":
		if c.ps.GCDReadyAt <= c.ps.Clock {
			return 0, true
		}
		return float64(c.ps.GCDReadyAt - c.ps.Clock), true
	case "enemy_health_fraction":
		return c.ps.EnemyHealthFraction, true
	default:
		return 0, false
	}
}
