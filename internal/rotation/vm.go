package rotation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/d5/tengo/v2"
)

// identifier matches a bare flat identifier (post-Preprocess) inside a
// condition expression, used to discover which Context.Value() lookups
// a compiled tengo condition needs refreshed each tick.
var identifier = regexp.MustCompile(`\b[a-zA-Z_][a-zA-Z0-9_]*\b`)

// tengoKeyword excludes the small set of reserved words/built-ins the
// DSL's boolean-expression subset allows, so they aren't mistaken for
// context identifiers needing a Value() binding.
var tengoKeyword = map[string]bool{
	"true": true, "false": true, "and": true, "or": true, "not": true,
}

// andWord/orWord/notWord rewrite the authoring DSL's word-form boolean
// operators into the operator tokens tengo actually parses. "not" binds
// like "!", so a plain token swap preserves precedence.
var (
	andWord = regexp.MustCompile(`\band\b`)
	orWord  = regexp.MustCompile(`\bor\b`)
	notWord = regexp.MustCompile(`\bnot\b`)
)

func normalizeOperators(expr string) string {
	expr = andWord.ReplaceAllString(expr, "&&")
	expr = orWord.ReplaceAllString(expr, "||")
	return notWord.ReplaceAllString(expr, "!")
}

// vmCondition evaluates an arbitrary boolean expression via a
// precompiled tengo script, the fallback for anything not recognized as
// a fast predicate. Compile() runs once (at script-compile or
// talent-swap time); Eval() runs every tick, pushing only the
// referenced identifiers' current values before invoking the
// precompiled bytecode.
type vmCondition struct {
	compiled  *tengo.Compiled
	resolvers []vmResolver
}

// vmResolver pairs a tengo global name with how to refresh it each
// tick: a dense cooldown/aura slot lookup when the name matches one of
// the recognized shapes, falling back to Context.Value for everything
// else (resources, GCD remaining, talent flags). Compound expressions
// mixing both shapes (e.g. "enemy_health_fraction < 0.2 and
// cooldown_kill_shot_ready") are the reason a single condition needs
// more than one resolver kind.
type vmResolver struct {
	name string
	kind slotKind
	slot int
	fast bool
}

// slotKind extends the two boolean fast-predicate shapes with the
// float-valued slot lookups a compound condition may also reference.
type slotKind int

const (
	slotCooldownReady slotKind = iota
	slotAuraUp
	slotAuraStacks
	slotAuraRemains
	slotCooldownRemains
)

// compileExpr compiles expr (already flattened by Preprocess) into a
// reusable tengo program. Every bare identifier found in expr is
// declared as a tengo global; Eval refreshes each from the fast
// cooldown/aura slot it names, or ctx.Value otherwise, before running.
func compileExpr(expr string, slots *SlotMap) (*vmCondition, error) {
	names := uniqueIdentifiers(expr)

	script := tengo.NewScript([]byte(fmt.Sprintf("__result := (%s)", normalizeOperators(expr))))
	resolvers := make([]vmResolver, 0, len(names))
	for _, n := range names {
		if err := script.Add(n, false); err != nil {
			return nil, fmt.Errorf("rotation: declare global %q: %w", n, err)
		}
		resolvers = append(resolvers, resolverFor(n, slots))
	}

	compiled, err := script.Compile()
	if err != nil {
		return nil, fmt.Errorf("rotation: compile %q: %w", expr, err)
	}
	return &vmCondition{compiled: compiled, resolvers: resolvers}, nil
}

// resolverFor classifies a single identifier the same way
// recognizeFastPredicate classifies a whole condition, so compound
// expressions get the cheap slot lookup for the sub-terms that qualify.
// Beyond the two boolean predicate shapes it also recognizes the
// float-valued slot lookups (aura_X_stacks, aura_X_remains,
// cooldown_X_remains) a priority condition commonly compares against.
func resolverFor(name string, slots *SlotMap) vmResolver {
	if fp, ok := recognizeFastPredicate(name, slots); ok && !fp.negate {
		kind := slotCooldownReady
		if fp.kind == fastAuraUp {
			kind = slotAuraUp
		}
		return vmResolver{name: name, kind: kind, slot: fp.slot, fast: true}
	}

	switch {
	case strings.HasPrefix(name, "aura_") && strings.HasSuffix(name, "_stacks"):
		inner := strings.TrimSuffix(strings.TrimPrefix(name, "aura_"), "_stacks")
		if idx, ok := slots.auraSlot(inner); ok {
			return vmResolver{name: name, kind: slotAuraStacks, slot: idx, fast: true}
		}
	case strings.HasPrefix(name, "aura_") && strings.HasSuffix(name, "_remains"):
		inner := strings.TrimSuffix(strings.TrimPrefix(name, "aura_"), "_remains")
		if idx, ok := slots.auraSlot(inner); ok {
			return vmResolver{name: name, kind: slotAuraRemains, slot: idx, fast: true}
		}
	case strings.HasPrefix(name, "cooldown_") && strings.HasSuffix(name, "_remains"):
		inner := strings.TrimSuffix(strings.TrimPrefix(name, "cooldown_"), "_remains")
		if idx, ok := slots.cooldownSlot(inner); ok {
			return vmResolver{name: name, kind: slotCooldownRemains, slot: idx, fast: true}
		}
	}
	return vmResolver{name: name}
}

func uniqueIdentifiers(expr string) []string {
	seen := map[string]bool{}
	var out []string
	for _, tok := range identifier.FindAllString(expr, -1) {
		if tengoKeyword[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

// clone returns an evaluation-private copy: tengo's Compiled carries
// the mutable global slots Set/Run operate on, so each concurrent
// evaluator needs its own. The bytecode itself is shared.
func (v *vmCondition) clone() *vmCondition {
	return &vmCondition{compiled: v.compiled.Clone(), resolvers: v.resolvers}
}

// Eval implements Condition by refreshing every referenced identifier
// from ctx, running the precompiled bytecode, and reading back the
// boolean result.
func (v *vmCondition) Eval(ctx Context) bool {
	for _, r := range v.resolvers {
		if r.fast {
			switch r.kind {
			case slotCooldownReady:
				_ = v.compiled.Set(r.name, ctx.CooldownReady(r.slot))
			case slotAuraUp:
				_ = v.compiled.Set(r.name, ctx.AuraUp(r.slot))
			case slotAuraStacks:
				_ = v.compiled.Set(r.name, float64(ctx.AuraStacks(r.slot)))
			case slotAuraRemains:
				_ = v.compiled.Set(r.name, float64(ctx.AuraRemaining(r.slot))/1000)
			case slotCooldownRemains:
				var remains float64
				if !ctx.CooldownReady(r.slot) {
					if readyAt, now := ctx.CooldownReadyAt(r.slot), ctx.Now(); readyAt > now {
						remains = float64(readyAt-now) / 1000
					}
				}
				_ = v.compiled.Set(r.name, remains)
			}
			continue
		}
		val, ok := ctx.Value(r.name)
		if !ok {
			_ = v.compiled.Set(r.name, false)
			continue
		}
		if strings.HasPrefix(r.name, "talent_") {
			// Talent flags arrive as 1/0; tengo treats a Float 0 as truthy,
			// so they are bound as booleans.
			_ = v.compiled.Set(r.name, val != 0)
			continue
		}
		_ = v.compiled.Set(r.name, val)
	}
	if err := v.compiled.Run(); err != nil {
		return false
	}
	result := v.compiled.Get("__result")
	if result == nil {
		return false
	}
	return result.Bool()
}
