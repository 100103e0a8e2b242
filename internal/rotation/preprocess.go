package rotation

import "regexp"

// dollarToken matches a $-prefixed dotted reference such as
// "$cooldown.kill_command.ready" or "$aura.frenzy.stacks", optionally
// followed by an empty call "()" for the zero-arg predicate forms the
// authoring DSL allows.
var dollarToken = regexp.MustCompile(`\$([a-zA-Z_][a-zA-Z0-9_.]*)(\(\))?`)

// Preprocess rewrites every "$a.b.c" (or "$a.b.c()") token in src into
// the flat identifier "a_b_c", the form the parser and the tengo
// fallback VM both operate on downstream. This is a textual rewrite
// only; it does not validate that the referenced spell/aura/resource
// exists — that happens during compile against a SlotMap.
func Preprocess(src string) string {
	return dollarToken.ReplaceAllStringFunc(src, func(tok string) string {
		m := dollarToken.FindStringSubmatch(tok)
		dotted := m[1]
		flat := make([]byte, 0, len(dotted))
		for i := 0; i < len(dotted); i++ {
			if dotted[i] == '.' {
				flat = append(flat, '_')
			} else {
				flat = append(flat, dotted[i])
			}
		}
		return string(flat)
	})
}
