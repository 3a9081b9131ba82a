package xmldoc

import (
	"errors"
	"fmt"

	"github.com/antchfx/xpath"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrInvalidQuery is matched by errors.Is for every malformed or non-node-set query.
var ErrInvalidQuery = errors.New("invalid xpath")

var errNotNodeSet = errors.New("expression does not select nodes")

// QueryError reports why a query could not be evaluated.
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid xpath %q: %v", e.Query, e.Err)
	}
	return fmt.Sprintf("invalid xpath %q", e.Query)
}

func (e *QueryError) Unwrap() error { return e.Err }

func (e *QueryError) Is(target error) bool { return target == ErrInvalidQuery }

// DefaultQueryCacheSize bounds the compiled expression cache.
const DefaultQueryCacheSize = 256

type compiled struct {
	expr    *xpath.Expr
	nodeSet bool
}

var queryCache, _ = lru.New[string, *compiled](DefaultQueryCacheSize)

// CheckQuery reports whether query compiles to a node-set expression. Results are cached.
func CheckQuery(query string) error {
	c, err := compile(query)
	if err != nil {
		return err
	}
	if !c.nodeSet {
		return &QueryError{Query: query, Err: errNotNodeSet}
	}
	return nil
}

func compile(query string) (c *compiled, err error) {
	if cached, ok := queryCache.Get(query); ok {
		return cached, nil
	}
	defer func() {
		if r := recover(); r != nil {
			c, err = nil, &QueryError{Query: query, Err: fmt.Errorf("%v", r)}
		}
	}()
	expr, err := xpath.Compile(query)
	if err != nil {
		return nil, &QueryError{Query: query, Err: err}
	}
	// Probe against an empty tree to learn the result type before the expression is shared.
	_, nodeSet := expr.Evaluate(newNavigator(&Node{Kind: DocumentNode})).(*xpath.NodeIterator)
	c = &compiled{expr: expr, nodeSet: nodeSet}
	queryCache.Add(query, c)
	return c, nil
}

func selectNodes(root *Node, query string) (out []*Node, err error) {
	c, err := compile(query)
	if err != nil {
		return nil, err
	}
	if !c.nodeSet {
		return nil, &QueryError{Query: query, Err: errNotNodeSet}
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, &QueryError{Query: query, Err: fmt.Errorf("%v", r)}
		}
	}()
	iter := c.expr.Select(newNavigator(root))
	out = []*Node{}
	for iter.MoveNext() {
		nav, ok := iter.Current().(*navigator)
		if !ok {
			continue
		}
		out = append(out, nav.node())
	}
	return out, nil
}
