package rotation

// Context is the read-only view the compiled rotation exposes to
// condition evaluation each tick. The sim kernel's PlayerState
// implements this without the rotation package ever importing sim,
// keeping the dependency one-directional.
type Context interface {
	Now() uint32

	CooldownReady(slot int) bool
	CooldownReadyAt(slot int) uint32

	AuraUp(slot int) bool
	AuraStacks(slot int) int
	AuraRemaining(slot int) uint32

	// Value resolves an arbitrary named context value (resources, GCD
	// remaining, enemy health fraction, talent flags) that isn't one of
	// the dense cooldown/aura slots above. ok is false for unknown names.
	Value(name string) (float64, bool)
}
