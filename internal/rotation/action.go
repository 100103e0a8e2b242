// Package rotation implements the predictive-gating rotation DSL:
// preprocess -> parse -> optimize -> extract, compiled with
// github.com/d5/tengo/v2 — a small embeddable scripting language whose
// scripts return an Action.
package rotation

import "strconv"

// Action is the evaluator's output: cast a spell, wait for GCD, wait a
// fixed duration, or do nothing.
type Action struct {
	Kind  ActionKind
	Spell string        // set when Kind == ActionCast
	Wait  uint32        // milliseconds, set when Kind == ActionWait
}

// ActionKind enumerates the four action shapes.
type ActionKind int

const (
	ActionNoOp ActionKind = iota
	ActionCast
	ActionWaitGCD
	ActionWait
)

// NoOp is the zero-value action, returned when no rule matches.
var NoOp = Action{Kind: ActionNoOp}

// parseSentinel decodes one of the encoded sentinel strings
// ("CAST:spell", "WAIT:1.5", "WAIT_GCD") into an Action.
func parseSentinel(s string) (Action, bool) {
	switch {
	case s == "WAIT_GCD":
		return Action{Kind: ActionWaitGCD}, true
	case len(s) > 5 && s[:5] == "CAST:":
		return Action{Kind: ActionCast, Spell: s[5:]}, true
	case len(s) > 5 && s[:5] == "WAIT:":
		secs, err := strconv.ParseFloat(s[5:], 64)
		if err != nil {
			return Action{}, false
		}
		return Action{Kind: ActionWait, Wait: uint32(secs * 1000)}, true
	default:
		return Action{}, false
	}
}
