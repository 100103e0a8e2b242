package rotation

// rawRule is one parsed priority-list line: an action sentinel and an
// optional guarding condition source (already preprocessed to flat
// identifiers). A rule with no condition always matches.
type rawRule struct {
	actionSrc string
	condSrc   string // empty means unconditional
	line      int
}

// Rule is one compiled entry in a Script's priority list: an if/else
// priority list of candidate actions.
type Rule struct {
	Action Action
	Cond   Condition // nil means unconditional
	gate   *gate
}

// Condition evaluates a rule's guard against the current tick's
// Context. Two implementations exist: fastPredicate (direct slot
// lookup, no VM) and vmCondition (compiled tengo expression), selected
// at compile time by recognizing the condition's shape.
type Condition interface {
	Eval(ctx Context) bool
}

// constCondition is the result of constant folding: a condition whose
// truth value is known at compile time, from the optimize pass that
// constant-folds talent-gated branches.
type constCondition bool

func (c constCondition) Eval(Context) bool { return bool(c) }

// Script is a fully compiled rotation: an ordered, optimized,
// predictive-gate-annotated list of rules plus the fallback action
// taken when no rule matches (normally ActionWaitGCD).
type Script struct {
	Rules    []Rule
	Fallback Action
}
