package diagnose

import (
	"regexp"
	"strings"
)

// Step is one location step and the separator in front of it ("", "/" or "//").
type Step struct {
	Sep  string
	Text string
}

// SplitSteps breaks a location path on top-level slashes, ignoring slashes inside
// predicates, parentheses and string literals.
func SplitSteps(query string) []Step {
	var (
		steps   []Step
		cur     strings.Builder
		sep     string
		bracket int
		paren   int
		quote   rune
	)
	flush := func() {
		steps = append(steps, Step{Sep: sep, Text: cur.String()})
		cur.Reset()
	}
	runes := []rune(query)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if quote != 0 {
			cur.WriteRune(r)
			if r == quote {
				quote = 0
			}
			continue
		}
		switch r {
		case '"', '\'':
			quote = r
		case '[':
			bracket++
		case ']':
			bracket--
		case '(':
			paren++
		case ')':
			paren--
		case '/':
			if bracket == 0 && paren == 0 {
				if i > 0 || cur.Len() > 0 {
					flush()
				}
				sep = "/"
				if i+1 < len(runes) && runes[i+1] == '/' {
					sep = "//"
					i++
				}
				continue
			}
		}
		cur.WriteRune(r)
	}
	flush()
	return steps
}

// JoinSteps is the inverse of SplitSteps.
func JoinSteps(steps []Step) string {
	var sb strings.Builder
	for _, s := range steps {
		sb.WriteString(s.Sep)
		sb.WriteString(s.Text)
	}
	return sb.String()
}

// isParentStep reports whether a step walks back to the parent.
func isParentStep(text string) bool {
	switch strings.Join(strings.Fields(text), "") {
	case "..", "parent::node()", "parent::*":
		return true
	}
	return false
}

// splitPredicates separates a step into its node test and top-level predicate bodies.
func splitPredicates(step string) (test string, preds []string, ok bool) {
	depth := 0
	var quote rune
	start := -1
	for i, r := range step {
		if quote != 0 {
			if r == quote {
				quote = 0
			}
			continue
		}
		switch r {
		case '"', '\'':
			quote = r
		case '[':
			if depth == 0 {
				if start < 0 && test == "" {
					test = step[:i]
				}
				start = i + 1
			}
			depth++
		case ']':
			depth--
			if depth < 0 {
				return "", nil, false
			}
			if depth == 0 {
				preds = append(preds, step[start:i])
			}
		default:
			if depth == 0 && test != "" && !isSpace(r) {
				// trailing text after a predicate
				return "", nil, false
			}
		}
	}
	if depth != 0 || quote != 0 {
		return "", nil, false
	}
	if len(preds) == 0 {
		test = step
	}
	return strings.TrimSpace(test), preds, true
}

func isSpace(r rune) bool { return r == ' ' || r == '\t' || r == '\n' || r == '\r' }

var (
	nameTest   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.\-]*$`)
	equalsPred = regexp.MustCompile(`^\s*(@?[A-Za-z_][A-Za-z0-9_.\-]*)\s*=\s*(?:"([^"]*)"|'([^']*)')\s*$`)
)

// equality is a `field="value"` predicate on a named step.
type equality struct {
	Name  string
	Field string
	Value string
}

// lastEquality parses the final step when it has the shape name[field="value"].
func lastEquality(steps []Step) (equality, bool) {
	if len(steps) == 0 {
		return equality{}, false
	}
	test, preds, ok := splitPredicates(steps[len(steps)-1].Text)
	if !ok || len(preds) != 1 || !nameTest.MatchString(test) {
		return equality{}, false
	}
	m := equalsPred.FindStringSubmatch(preds[0])
	if m == nil {
		return equality{}, false
	}
	value := m[2]
	if m[3] != "" {
		value = m[3]
	}
	return equality{Name: test, Field: m[1], Value: value}, true
}

// withLast returns the query with its final step text replaced.
func withLast(steps []Step, text string) string {
	out := append([]Step(nil), steps...)
	out[len(out)-1].Text = text
	return JoinSteps(out)
}

// literal quotes s as an XPath string literal.
func literal(s string) (string, bool) {
	switch {
	case !strings.Contains(s, `"`):
		return `"` + s + `"`, true
	case !strings.Contains(s, "'"):
		return "'" + s + "'", true
	default:
		return "", false
	}
}
