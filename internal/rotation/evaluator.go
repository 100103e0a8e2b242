package rotation

// Evaluate walks the script's priority list in order, honoring
// predictive gates, and returns the first matching rule's action, or
// the fallback if none match: evaluation is top-down, first match
// wins.
func (s *Script) Evaluate(ctx Context) Action {
	now := ctx.Now()
	for i := range s.Rules {
		r := &s.Rules[i]
		if r.Cond == nil {
			return r.Action
		}
		if r.gate.skip(now) {
			continue
		}
		if r.Cond.Eval(ctx) {
			return r.Action
		}
		r.gate.recompute(ctx)
	}
	return s.Fallback
}

// Clone returns an evaluator-private copy of the script. Gate
// annotations and the fallback VM's global slots are mutable evaluation
// state, so a compiled script must not be shared between concurrent
// evaluators — and a fresh iteration (whose clock restarts at zero)
// must not inherit gate predictions from a previous one. Clones share
// the immutable compiled bytecode underneath.
func (s *Script) Clone() *Script {
	rules := make([]Rule, len(s.Rules))
	for i, r := range s.Rules {
		rules[i] = Rule{Action: r.Action, Cond: r.Cond, gate: r.gate.clone()}
		if vc, ok := r.Cond.(*vmCondition); ok {
			rules[i].Cond = vc.clone()
		}
	}
	return &Script{Rules: rules, Fallback: s.Fallback}
}

// NaiveEvaluate re-evaluates every condition every call, ignoring
// predictive gates entirely. It exists to check the gated Evaluate
// against an unoptimized reference: for any fixed Context sequence the
// two must choose identical actions (the gate only skips conditions
// already known false, it must never change the outcome).
func (s *Script) NaiveEvaluate(ctx Context) Action {
	for _, r := range s.Rules {
		if r.Cond == nil || r.Cond.Eval(ctx) {
			return r.Action
		}
	}
	return s.Fallback
}
