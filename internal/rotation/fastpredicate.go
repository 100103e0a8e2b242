package rotation

import "strings"

// fastPredicate is a condition that resolves directly against a dense
// cooldown/aura slot, bypassing the tengo VM entirely: the two
// recognized condition shapes resolve to array index + compare, never
// a dictionary probe.
type fastPredicate struct {
	negate bool
	kind   fastKind
	slot   int
}

type fastKind int

const (
	fastCooldownReady fastKind = iota
	fastAuraUp
)

func (p fastPredicate) Eval(ctx Context) bool {
	var v bool
	switch p.kind {
	case fastCooldownReady:
		v = ctx.CooldownReady(p.slot)
	case fastAuraUp:
		v = ctx.AuraUp(p.slot)
	}
	if p.negate {
		return !v
	}
	return v
}

// recognizeFastPredicate matches a whole (already-flattened) condition
// expression against the two recognized single-identifier shapes. It
// returns ok=false for anything else, which falls back to the tengo VM.
func recognizeFastPredicate(expr string, slots *SlotMap) (fastPredicate, bool) {
	e := strings.TrimSpace(expr)
	negate := false
	if strings.HasPrefix(e, "!") {
		negate = true
		e = strings.TrimSpace(e[1:])
	} else if strings.HasPrefix(e, "not ") {
		negate = true
		e = strings.TrimSpace(e[4:])
	}

	switch {
	case strings.HasPrefix(e, "cooldown_") && strings.HasSuffix(e, "_ready"):
		name := strings.TrimSuffix(strings.TrimPrefix(e, "cooldown_"), "_ready")
		if idx, ok := slots.cooldownSlot(name); ok {
			return fastPredicate{negate: negate, kind: fastCooldownReady, slot: idx}, true
		}
	case strings.HasPrefix(e, "aura_") && strings.HasSuffix(e, "_up"):
		name := strings.TrimSuffix(strings.TrimPrefix(e, "aura_"), "_up")
		if idx, ok := slots.auraSlot(name); ok {
			return fastPredicate{negate: negate, kind: fastAuraUp, slot: idx}, true
		}
	}
	return fastPredicate{}, false
}
