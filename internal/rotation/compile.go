package rotation

import "github.com/pkg/errors"

// ErrUnknownSlot is wrapped with the offending name when a condition
// references a cooldown/aura not present in the capability record's
// SlotMap.
var ErrUnknownSlot = errors.New("rotation: unknown slot reference")

// Compile runs the full preprocess -> parse -> resolve -> optimize
// pipeline on source and returns an executable Script. talents is the
// fixed-for-this-run set of talent flags used for constant folding;
// recompiling with a different talents map is how a talent swap takes
// effect — the script is recompiled on talent swap, never re-evaluated
// per tick.
func Compile(source string, slots *SlotMap, talents map[string]bool) (*Script, error) {
	flat := Preprocess(source)

	raw, err := Parse(flat)
	if err != nil {
		return nil, err
	}

	rules := make([]Rule, 0, len(raw))
	var fallback Action
	for _, rr := range raw {
		action, ok := parseSentinel(rr.actionSrc)
		if !ok {
			return nil, errors.Errorf("rotation: line %d: bad action %q", rr.line, rr.actionSrc)
		}

		if rr.condSrc == "" {
			fallback = action
			continue
		}

		cond, g, err := resolveCondition(rr.condSrc, slots, talents)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", rr.line)
		}
		rules = append(rules, Rule{Action: action, Cond: cond, gate: g})
	}

	rules = optimize(rules)

	if fallback == (Action{}) {
		fallback = Action{Kind: ActionWaitGCD}
	}
	return &Script{Rules: rules, Fallback: fallback}, nil
}

// resolveCondition chooses, in order: constant folding (talent-only
// expressions), the fast slot-index predicate, or the general tengo VM.
func resolveCondition(expr string, slots *SlotMap, talents map[string]bool) (Condition, *gate, error) {
	if isTalentOnly(expr) {
		v, err := foldConstant(expr, talents)
		if err != nil {
			return nil, nil, err
		}
		return constCondition(v), nil, nil
	}

	if fp, ok := recognizeFastPredicate(expr, slots); ok {
		return fp, newGate(fp), nil
	}

	vmCond, err := compileExpr(expr, slots)
	if err != nil {
		return nil, nil, err
	}
	return vmCond, nil, nil
}
