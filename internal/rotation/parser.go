package rotation

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrParse is returned, wrapped with line context, for any malformed
// rotation script line.
var ErrParse = errors.New("rotation: parse error")

// Parse splits a preprocessed script into an ordered list of raw rules.
// Grammar, one statement per line:
//
//	ACTION
//	ACTION if CONDITION
//
// Blank lines and lines starting with "#" are ignored. ACTION is one of
// the sentinel forms cast("spell"), wait_gcd(), wait(1.5); CONDITION is
// an arbitrary boolean expression over flat identifiers, evaluated by
// the optimize/extract stages.
func Parse(preprocessed string) ([]rawRule, error) {
	var rules []rawRule
	for i, line := range strings.Split(preprocessed, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		actionPart, condPart, hasCond := strings.Cut(trimmed, " if ")
		actionPart = strings.TrimSpace(actionPart)
		sentinel, err := parseActionSyntax(actionPart)
		if err != nil {
			return nil, errors.Wrapf(ErrParse, "line %d: %v", i+1, err)
		}

		r := rawRule{actionSrc: sentinel, line: i + 1}
		if hasCond {
			r.condSrc = strings.TrimSpace(condPart)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// parseActionSyntax turns the authoring call-syntax action forms into
// the sentinel encoding Action.parseSentinel understands.
func parseActionSyntax(s string) (string, error) {
	switch {
	case s == "wait_gcd()":
		return "WAIT_GCD", nil
	case strings.HasPrefix(s, "cast(") && strings.HasSuffix(s, ")"):
		name := strings.Trim(s[len("cast("):len(s)-1], `"' `)
		if name == "" {
			return "", fmt.Errorf("cast() requires a spell name")
		}
		return "CAST:" + name, nil
	case strings.HasPrefix(s, "wait(") && strings.HasSuffix(s, ")"):
		return "WAIT:" + strings.TrimSpace(s[len("wait("):len(s)-1]), nil
	default:
		return "", fmt.Errorf("unrecognized action %q", s)
	}
}
