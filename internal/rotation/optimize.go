package rotation

import "strings"

// talentContext is a throwaway Context used only to evaluate
// talent-only conditions at compile time for constant folding; its
// Value() is the only method that can ever be invoked, since a
// talent-only expression by definition references nothing else.
type talentContext struct {
	talents map[string]bool
}

func (talentContext) Now() uint32                       { return 0 }
func (talentContext) CooldownReady(int) bool             { return false }
func (talentContext) CooldownReadyAt(int) uint32         { return 0 }
func (talentContext) AuraUp(int) bool                    { return false }
func (talentContext) AuraStacks(int) int                 { return 0 }
func (talentContext) AuraRemaining(int) uint32           { return 0 }

func (c talentContext) Value(name string) (float64, bool) {
	v, ok := c.talents[name]
	if !ok {
		return 0, false
	}
	if v {
		return 1, true
	}
	return 0, true
}

// isTalentOnly reports whether every identifier in expr is a
// "talent_"-prefixed name, making the expression a compile-time
// constant once talents are fixed for a simulation run.
func isTalentOnly(expr string) bool {
	names := uniqueIdentifiers(expr)
	if len(names) == 0 {
		return false
	}
	for _, n := range names {
		if !strings.HasPrefix(n, "talent_") {
			return false
		}
	}
	return true
}

// foldConstant evaluates a talent-only expression once at compile time
// and returns its fixed truth value.
func foldConstant(expr string, talents map[string]bool) (bool, error) {
	cond, err := compileExpr(expr, NewSlotMap())
	if err != nil {
		return false, err
	}
	return cond.Eval(talentContext{talents: talents}), nil
}

// optimize applies constant folding and dead-branch pruning to a
// parsed, resolved rule list: false-constant rules are dropped;
// true-constant rules truncate the list (everything after them in the
// priority order is unreachable, since it always fires first).
func optimize(rules []Rule) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if cc, ok := r.Cond.(constCondition); ok {
			if !bool(cc) {
				continue // provably never matches, drop
			}
			out = append(out, r)
			break // provably always matches here, later rules unreachable
		}
		out = append(out, r)
	}
	return out
}
