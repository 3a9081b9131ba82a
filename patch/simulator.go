package patch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"

	"github.com/atlas-foundry/xpatch-go/summary"
	"github.com/atlas-foundry/xpatch-go/xmldoc"
)

var (
	// ErrNoDocument is reported when there is nothing to simulate against.
	ErrNoDocument = errors.New("no document loaded")
	// ErrApplyPanic wraps a panic raised while applying an operation.
	ErrApplyPanic = errors.New("operation panicked")
)

// DiffOp classifies one line of a before/after diff.
type DiffOp int

const (
	DiffEqual DiffOp = iota
	DiffInsert
	DiffDelete
)

// Prefix is the unified-diff marker for the op.
func (o DiffOp) Prefix() string {
	switch o {
	case DiffInsert:
		return "+"
	case DiffDelete:
		return "-"
	default:
		return " "
	}
}

// DiffLine is one line of the before/after comparison.
type DiffLine struct {
	Op   DiffOp
	Text string
}

// Result is the outcome of a simulated operation. The simulator never returns an
// error; failures land in Err with Success false.
type Result struct {
	Kind    string
	Query   string
	Before  string
	After   string
	Success bool
	// Applied is what the operation itself reported, before validation.
	Applied bool
	Matches int
	Scope   int
	Diff    []DiffLine
	Err     error
}

// Changed reports whether the diff holds any insert or delete.
func (r Result) Changed() bool {
	for _, l := range r.Diff {
		if l.Op != DiffEqual {
			return true
		}
	}
	return false
}

// FormatDiff renders the diff with +/- markers.
func (r Result) FormatDiff() string {
	var sb strings.Builder
	for _, l := range r.Diff {
		sb.WriteString(l.Op.Prefix())
		sb.WriteString(" ")
		sb.WriteString(l.Text)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Simulator applies operations to a private copy of a document.
type Simulator struct {
	view   summary.Options
	logger *zap.Logger
	dmp    *diffmatchpatch.DiffMatchPatch
}

// SimOption configures a Simulator.
type SimOption func(*Simulator)

// WithSummaryOptions sets how before/after scope nodes are rendered.
func WithSummaryOptions(opts summary.Options) SimOption {
	return func(s *Simulator) { s.view = opts }
}

// WithSimLogger logs apply failures at debug level.
func WithSimLogger(logger *zap.Logger) SimOption {
	return func(s *Simulator) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSimulator returns a simulator rendering scopes with summary.DefaultOptions.
func NewSimulator(opts ...SimOption) *Simulator {
	s := &Simulator{view: summary.DefaultOptions(), logger: zap.NewNop(), dmp: diffmatchpatch.New()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Simulate runs op with a default simulator.
func Simulate(doc *xmldoc.Document, op Operation) Result {
	return NewSimulator().Simulate(doc, op)
}

// Simulate clones doc, renders the scope of op's target, applies op to the clone,
// validates the scope and renders it again. doc is never modified.
func (s *Simulator) Simulate(doc *xmldoc.Document, op Operation) (res Result) {
	res = Result{Kind: op.Kind(), Query: op.Target()}
	if doc == nil {
		res.Err = ErrNoDocument
		return res
	}
	clone := doc.Clone()
	matches, err := clone.Select(res.Query)
	if err != nil {
		res.Err = err
		return res
	}
	res.Matches = len(matches)
	scope := ScopeNodes(matches)
	res.Scope = len(scope)
	res.Before = summary.Summarize(scope, s.view)
	res.After = res.Before

	defer func() {
		if r := recover(); r != nil {
			s.logger.Debug("simulate: apply panicked", zap.String("kind", res.Kind), zap.Any("panic", r))
			res.After = res.Before
			res.Success = false
			res.Diff = s.diff(res.Before, res.After)
			res.Err = fmt.Errorf("%w: %v", ErrApplyPanic, r)
		}
	}()

	applied, err := op.Apply(clone)
	if err != nil {
		s.logger.Debug("simulate: apply failed", zap.String("kind", res.Kind), zap.Error(err))
		res.Err = err
		res.Diff = s.diff(res.Before, res.After)
		return res
	}
	res.Applied = applied
	verr := validateScope(scope)
	res.Success = applied && verr == nil
	if verr != nil {
		res.Err = verr
	}
	res.After = summary.Summarize(scope, s.view)
	res.Diff = s.diff(res.Before, res.After)
	return res
}

// ScopeNodes maps matches to the nodes shown to a reviewer: the parent of each match,
// or the match itself when it is the document element. Duplicates are dropped.
func ScopeNodes(matches []*xmldoc.Node) []*xmldoc.Node {
	var out []*xmldoc.Node
	seen := make(map[*xmldoc.Node]struct{}, len(matches))
	add := func(n *xmldoc.Node) {
		if _, dup := seen[n]; dup {
			return
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	for _, m := range matches {
		if m.Kind == xmldoc.DocumentNode {
			for _, el := range m.ElementChildren() {
				add(el)
			}
			continue
		}
		p := m.Parent()
		if p == nil || p.Kind == xmldoc.DocumentNode {
			add(m)
			continue
		}
		add(p)
	}
	return out
}

func validateScope(scope []*xmldoc.Node) error {
	for _, n := range scope {
		if err := xmldoc.Validate(n); err != nil {
			return fmt.Errorf("validate %s: %w", n.Path(), err)
		}
	}
	return nil
}

func (s *Simulator) diff(before, after string) []DiffLine {
	a, b, lines := s.dmp.DiffLinesToChars(before, after)
	diffs := s.dmp.DiffCharsToLines(s.dmp.DiffMain(a, b, false), lines)
	var out []DiffLine
	for _, d := range diffs {
		op := DiffEqual
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			op = DiffInsert
		case diffmatchpatch.DiffDelete:
			op = DiffDelete
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			out = append(out, DiffLine{Op: op, Text: strings.TrimSuffix(line, "\n")})
		}
	}
	return out
}
