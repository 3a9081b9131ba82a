package diagnose

import (
	"strings"

	"github.com/atlas-foundry/xpatch-go/xmldoc"
)

// Input is what a heuristic sees: the original query, its parsed steps and the primary match count.
type Input struct {
	Query   string
	Steps   []Step
	Matched int
}

// Heuristic proposes corrected queries. Implementations must not mutate the document.
type Heuristic interface {
	Name() string
	Suggest(sel Selector, in Input) ([]string, error)
}

// matches reports whether q selects at least one node; invalid rewrites count as no match.
func matches(sel Selector, q string) bool {
	nodes, err := sel.Select(q)
	return err == nil && len(nodes) > 0
}

// BackTraversal rewrites a run of parent steps into a predicate on an earlier step,
// e.g. A/B/C/.. becomes A/B[C].
type BackTraversal struct{}

func (BackTraversal) Name() string { return "back-traversal" }

func (BackTraversal) Suggest(sel Selector, in Input) ([]string, error) {
	rewritten, ok := rewriteParentSteps(in.Steps)
	if !ok || !matches(sel, rewritten) {
		return nil, nil
	}
	return []string{rewritten}, nil
}

func rewriteParentSteps(steps []Step) (string, bool) {
	end := -1
	for i := len(steps) - 1; i >= 0; i-- {
		if isParentStep(steps[i].Text) {
			end = i
			break
		}
	}
	if end < 0 {
		return "", false
	}
	start := end
	for start > 0 && isParentStep(steps[start-1].Text) {
		start--
	}
	run := end - start + 1
	first := start - run
	if first < 0 {
		return "", false
	}
	moved := steps[first:start]
	parts := make([]string, 0, len(moved))
	for i, s := range moved {
		if isParentStep(s.Text) || strings.TrimSpace(s.Text) == "" {
			return "", false
		}
		if i == 0 {
			parts = append(parts, s.Text)
			continue
		}
		// a descendant step inside the run has no forward equivalent: the parents
		// climbed depend on how deep the descendant matched
		if s.Sep == "//" {
			return "", false
		}
		parts = append(parts, s.Sep+s.Text)
	}
	inner := strings.Join(parts, "")
	prefix := JoinSteps(steps[:first])

	var head string
	switch moved[0].Sep {
	case "/":
		if first == 0 {
			// the parent of the document element is the document itself
			return "", false
		}
		head = prefix + "[" + inner + "]"
	case "//":
		if first == 0 {
			head = "//*[" + inner + "]"
		} else {
			head = prefix + "/descendant-or-self::*[" + inner + "]"
		}
	default:
		head = "self::node()[" + inner + "]"
	}
	return head + JoinSteps(steps[end+1:]), true
}

// WildcardRelaxation swaps the final node name for * and proposes each distinct
// element name the relaxed query finds.
type WildcardRelaxation struct{}

func (WildcardRelaxation) Name() string { return "wildcard" }

func (WildcardRelaxation) Suggest(sel Selector, in Input) ([]string, error) {
	if _, ok := lastEquality(in.Steps); !ok {
		return nil, nil
	}
	last := in.Steps[len(in.Steps)-1].Text
	pred := last[strings.Index(last, "["):]
	nodes, err := sel.Select(withLast(in.Steps, "*"+pred))
	if err != nil {
		return nil, err
	}
	var out []string
	seen := map[string]struct{}{}
	for _, n := range nodes {
		if n.Kind != xmldoc.ElementNode {
			continue
		}
		if _, dup := seen[n.Name]; dup {
			continue
		}
		seen[n.Name] = struct{}{}
		out = append(out, withLast(in.Steps, n.Name+pred))
	}
	return out, nil
}

// FieldPair links a child-element field with an attribute that often carries the same value.
type FieldPair struct {
	Field     string `yaml:"field"`
	Attribute string `yaml:"attribute"`
}

// DefaultFieldPairs are the swaps tried when no configuration overrides them.
func DefaultFieldPairs() []FieldPair {
	return []FieldPair{
		{Field: "defName", Attribute: "Name"},
		{Field: "defName", Attribute: "ParentName"},
	}
}

// FieldSwap retries a failed name[field="value"] query with the paired attribute, or vice versa.
type FieldSwap struct {
	Pairs []FieldPair
}

func (FieldSwap) Name() string { return "field-swap" }

func (h FieldSwap) Suggest(sel Selector, in Input) ([]string, error) {
	if in.Matched > 0 {
		return nil, nil
	}
	eq, ok := lastEquality(in.Steps)
	if !ok {
		return nil, nil
	}
	pairs := h.Pairs
	if pairs == nil {
		pairs = DefaultFieldPairs()
	}
	lit, ok := literal(eq.Value)
	if !ok {
		return nil, nil
	}
	var out []string
	for _, p := range pairs {
		var swapped string
		switch eq.Field {
		case p.Field:
			swapped = "@" + p.Attribute
		case "@" + p.Attribute:
			swapped = p.Field
		default:
			continue
		}
		q := withLast(in.Steps, eq.Name+"["+swapped+"="+lit+"]")
		if matches(sel, q) {
			out = append(out, q)
		}
	}
	return out, nil
}

// FuzzyPredicate loosens a failed equality to contains() on the same field and proposes
// an exact predicate for every value that loose match finds.
type FuzzyPredicate struct{}

func (FuzzyPredicate) Name() string { return "fuzzy-predicate" }

func (FuzzyPredicate) Suggest(sel Selector, in Input) ([]string, error) {
	if in.Matched > 0 {
		return nil, nil
	}
	eq, ok := lastEquality(in.Steps)
	if !ok || eq.Value == "" {
		return nil, nil
	}
	needle, ok := literal(eq.Value)
	if !ok {
		return nil, nil
	}
	loose := withLast(in.Steps, eq.Name+"[contains("+eq.Field+", "+needle+")]")
	nodes, err := sel.Select(loose)
	if err != nil {
		return nil, err
	}
	var out []string
	seen := map[string]struct{}{}
	for _, n := range nodes {
		actual, ok := fieldValue(n, eq.Field)
		if !ok {
			continue
		}
		if _, dup := seen[actual]; dup {
			continue
		}
		seen[actual] = struct{}{}
		lit, ok := literal(actual)
		if !ok {
			continue
		}
		out = append(out, withLast(in.Steps, eq.Name+"["+eq.Field+"="+lit+"]"))
	}
	return out, nil
}

// fieldValue reads an attribute (@name) or the text of the first child element with that name.
func fieldValue(n *xmldoc.Node, field string) (string, bool) {
	if strings.HasPrefix(field, "@") {
		return n.Attr(field[1:])
	}
	child := n.FirstChildElement(field)
	if child == nil {
		return "", false
	}
	return child.InnerText(), true
}
