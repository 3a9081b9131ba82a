// Package diagnose runs a query, times it and proposes corrections for near-misses.
package diagnose

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-foundry/xpatch-go/xmldoc"
)

// SuggestionHeading introduces the list of corrected queries.
const SuggestionHeading = "Your search was close. Did you mean one of the following?"

// InvalidQueryMessage is shown in place of results for a malformed query.
const InvalidQueryMessage = "Invalid xpath. Exception caught"

// Selector evaluates queries. *xmldoc.Document satisfies it.
type Selector interface {
	Select(query string) ([]*xmldoc.Node, error)
}

// Suggestion is a corrected query that matches at least one node.
type Suggestion struct {
	CorrectedQuery string
	Heuristic      string
}

// Result is the outcome of a diagnosed query.
type Result struct {
	Query       string
	Matches     []*xmldoc.Node
	Elapsed     time.Duration
	Suggestions []Suggestion
}

// Engine runs the primary query and every registered heuristic.
type Engine struct {
	heuristics []Heuristic
	logger     *zap.Logger
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger routes heuristic failures to logger at debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithFieldPairs replaces the field/attribute swap table.
func WithFieldPairs(pairs []FieldPair) Option {
	return func(e *Engine) {
		for i, h := range e.heuristics {
			if _, ok := h.(FieldSwap); ok {
				e.heuristics[i] = FieldSwap{Pairs: pairs}
			}
		}
	}
}

// WithHeuristics replaces the heuristic set.
func WithHeuristics(hs ...Heuristic) Option {
	return func(e *Engine) { e.heuristics = hs }
}

// NewEngine returns an engine with the four stock heuristics.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		heuristics: []Heuristic{BackTraversal{}, WildcardRelaxation{}, FieldSwap{}, FuzzyPredicate{}},
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Diagnose times the query and collects suggestions. A malformed query returns an error
// wrapping xmldoc.ErrInvalidQuery and runs no heuristics.
func (e *Engine) Diagnose(sel Selector, query string) (Result, error) {
	res := Result{Query: query}
	start := e.now()
	nodes, err := sel.Select(query)
	res.Elapsed = e.now().Sub(start)
	if err != nil {
		if !errors.Is(err, xmldoc.ErrInvalidQuery) {
			err = &xmldoc.QueryError{Query: query, Err: err}
		}
		return Result{Query: query, Elapsed: res.Elapsed}, err
	}
	res.Matches = nodes

	in := Input{Query: query, Steps: SplitSteps(query), Matched: len(nodes)}
	seen := map[string]struct{}{query: {}}
	for _, h := range e.heuristics {
		for _, q := range e.run(h, sel, in) {
			if _, dup := seen[q]; dup {
				continue
			}
			seen[q] = struct{}{}
			res.Suggestions = append(res.Suggestions, Suggestion{CorrectedQuery: q, Heuristic: h.Name()})
		}
	}
	return res, nil
}

// run isolates one heuristic; its errors and panics only cost its own suggestions.
func (e *Engine) run(h Heuristic, sel Selector, in Input) (out []string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Debug("heuristic panicked", zap.String("heuristic", h.Name()), zap.String("query", in.Query), zap.Any("panic", r))
			out = nil
		}
	}()
	out, err := h.Suggest(sel, in)
	if err != nil {
		e.logger.Debug("heuristic failed", zap.String("heuristic", h.Name()), zap.String("query", in.Query), zap.Error(err))
		return nil
	}
	return out
}

// Queries lists the corrected query strings in order.
func (r Result) Queries() []string {
	out := make([]string, len(r.Suggestions))
	for i, s := range r.Suggestions {
		out[i] = s.CorrectedQuery
	}
	return out
}

func (s Suggestion) String() string {
	return fmt.Sprintf("%s (%s)", s.CorrectedQuery, s.Heuristic)
}
