// Package summary renders query results as a bounded, human-legible XML outline.
package summary

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atlas-foundry/xpatch-go/xmldoc"
)

// Options bounds the summary output.
type Options struct {
	MaxDisplayedNodes    int      // top-level results shown; default 5
	MaxDepth             int      // nested containers before "..."; default 5
	MaxChildren          int      // children shown per element before "..."; default 10
	TextLimit            int      // runes of inline text before "..."; default 25
	FullRenderChildLimit int      // a lone result with more direct children is truncated; default 50
	RootNames            []string // element names always treated as whole-document roots
	Indent               string   // default "\t"
	Theme                Theme    // default PlainTheme
}

// DefaultOptions returns the stock bounds.
func DefaultOptions() Options {
	return Options{
		MaxDisplayedNodes:    5,
		MaxDepth:             5,
		MaxChildren:          10,
		TextLimit:            25,
		FullRenderChildLimit: 50,
		RootNames:            []string{"Defs"},
		Indent:               "\t",
		Theme:                PlainTheme{},
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.MaxDisplayedNodes <= 0 {
		o.MaxDisplayedNodes = d.MaxDisplayedNodes
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = d.MaxDepth
	}
	if o.MaxChildren <= 0 {
		o.MaxChildren = d.MaxChildren
	}
	if o.TextLimit <= 0 {
		o.TextLimit = d.TextLimit
	}
	if o.FullRenderChildLimit <= 0 {
		o.FullRenderChildLimit = d.FullRenderChildLimit
	}
	if o.RootNames == nil {
		o.RootNames = d.RootNames
	}
	if o.Indent == "" {
		o.Indent = d.Indent
	}
	if o.Theme == nil {
		o.Theme = d.Theme
	}
	return o
}

// Placeholder marks output cut by a depth or child limit.
const Placeholder = "..."

// ErrorMarker replaces a result that could not be rendered.
const ErrorMarker = "<!-- Unable to display node: malformed XML -->"

// maxWalkDepth stops runaway recursion on cyclic trees when truncation is off.
const maxWalkDepth = 1024

var errMalformed = errors.New("malformed node")

// Summarize renders up to MaxDisplayedNodes results separated by blank lines. It never panics.
func Summarize(nodes []*xmldoc.Node, opts Options) string {
	opts = opts.normalized()
	truncate := shouldTruncate(nodes, opts)
	blocks := make([]string, 0, min(len(nodes), opts.MaxDisplayedNodes))
	for i, n := range nodes {
		if i >= opts.MaxDisplayedNodes {
			break
		}
		blocks = append(blocks, renderTop(n, opts, truncate))
	}
	return strings.Join(blocks, "\n")
}

// Truncates reports whether Summarize would apply depth and child limits to nodes.
func Truncates(nodes []*xmldoc.Node, opts Options) bool {
	return shouldTruncate(nodes, opts.normalized())
}

func shouldTruncate(nodes []*xmldoc.Node, opts Options) bool {
	if len(nodes) > 1 {
		return true
	}
	if len(nodes) == 0 || nodes[0] == nil {
		return false
	}
	n := nodes[0]
	if n.Kind == xmldoc.DocumentNode || len(n.Children) > opts.FullRenderChildLimit || xmldoc.IsDocumentRoot(n) {
		return true
	}
	for _, name := range opts.RootNames {
		if n.Kind == xmldoc.ElementNode && n.Name == name {
			return true
		}
	}
	return false
}

// renderTop isolates one result so a failure only replaces that block.
func renderTop(n *xmldoc.Node, opts Options, truncate bool) (out string) {
	w := &writer{opts: opts, truncate: truncate}
	defer func() {
		if r := recover(); r != nil {
			out = opts.Theme.Comment(ErrorMarker) + "\n"
		}
	}()
	if _, err := w.node(n, 0, 0); err != nil {
		return opts.Theme.Comment(ErrorMarker) + "\n"
	}
	return w.sb.String()
}

// writer carries the traversal state for a single top-level result.
type writer struct {
	sb       strings.Builder
	opts     Options
	truncate bool
}

func (w *writer) pad(indent int) {
	for i := 0; i < indent; i++ {
		w.sb.WriteString(w.opts.Indent)
	}
}

func (w *writer) comment(text string, indent int) {
	w.pad(indent)
	w.sb.WriteString(w.opts.Theme.Comment("<!-- " + text + " -->"))
	w.sb.WriteString("\n")
}

// node writes n and reports whether the caller should keep emitting siblings.
func (w *writer) node(n *xmldoc.Node, depth, indent int) (bool, error) {
	if n == nil {
		return false, errMalformed
	}
	if depth > maxWalkDepth {
		return false, fmt.Errorf("%w: nesting deeper than %d", errMalformed, maxWalkDepth)
	}
	t := w.opts.Theme
	switch n.Kind {
	case xmldoc.TextNode:
		w.pad(indent)
		w.sb.WriteString(t.Text(n.Text))
		w.sb.WriteString("\n")
		return true, nil
	case xmldoc.CommentNode:
		w.comment(n.Text, indent)
		return true, nil
	case xmldoc.AttributeNode:
		w.pad(indent)
		w.sb.WriteString(t.AttrName(n.Name) + t.Text("=") + t.AttrValue(`"`+n.Text+`"`))
		w.sb.WriteString("\n")
		return true, nil
	case xmldoc.DocumentNode:
		for _, c := range n.Children {
			if _, err := w.node(c, depth, indent); err != nil {
				return false, err
			}
		}
		return true, nil
	}
	if n.Name == "" {
		return false, fmt.Errorf("%w: element without a name", errMalformed)
	}
	if n.IsEmpty() {
		w.pad(indent)
		w.sb.WriteString(w.openTag(n, true))
		w.sb.WriteString("\n")
		return true, nil
	}
	for _, c := range n.Children {
		if c == nil {
			return false, fmt.Errorf("%w: nil child under <%s>", errMalformed, n.Name)
		}
	}
	w.pad(indent)
	w.sb.WriteString(w.openTag(n, false))
	if n.IsTextElement() {
		w.sb.WriteString(t.Text(TruncateText(n.InnerText(), w.opts.TextLimit)))
		w.sb.WriteString(t.Node("</" + n.Name + ">"))
		w.sb.WriteString("\n")
		return true, nil
	}
	w.sb.WriteString("\n")
	if w.truncate && depth > w.opts.MaxDepth {
		w.comment(Placeholder, indent+1)
		w.closeTag(n, indent)
		return false, nil
	}
	cut := false
	for i, c := range n.Children {
		if w.truncate && i >= w.opts.MaxChildren {
			cut = true
			break
		}
		more, err := w.node(c, depth+1, indent+1)
		if err != nil {
			return false, err
		}
		if !more {
			break
		}
	}
	if cut {
		w.comment(Placeholder, indent+1)
	}
	w.closeTag(n, indent)
	return true, nil
}

func (w *writer) openTag(n *xmldoc.Node, selfClosing bool) string {
	t := w.opts.Theme
	var sb strings.Builder
	sb.WriteString(t.Node("<" + n.Name))
	for _, a := range n.Attrs {
		sb.WriteString(" ")
		sb.WriteString(t.AttrName(a.Name))
		sb.WriteString(t.Text("="))
		sb.WriteString(t.AttrValue(`"` + a.Value + `"`))
	}
	if selfClosing {
		sb.WriteString(t.Node(" />"))
	} else {
		sb.WriteString(t.Node(">"))
	}
	return sb.String()
}

func (w *writer) closeTag(n *xmldoc.Node, indent int) {
	w.pad(indent)
	w.sb.WriteString(w.opts.Theme.Node("</" + n.Name + ">"))
	w.sb.WriteString("\n")
}

// TruncateText cuts s to limit runes and appends "..." when it was longer.
func TruncateText(s string, limit int) string {
	r := []rune(s)
	if limit <= 0 || len(r) <= limit {
		return s
	}
	return string(r[:limit]) + Placeholder
}

// Header returns the preamble shown above a query summary.
func Header(found int, elapsed time.Duration, opts Options) string {
	opts = opts.normalized()
	disclaimer := ""
	if found > opts.MaxDisplayedNodes {
		disclaimer = fmt.Sprintf(" (Only showing first %d matches)", opts.MaxDisplayedNodes)
	}
	var sb strings.Builder
	sb.WriteString(opts.Theme.Comment(fmt.Sprintf("<!-- Summary: Found %d results.%s -->", found, disclaimer)))
	sb.WriteString("\n")
	sb.WriteString(opts.Theme.Comment(fmt.Sprintf("<!-- Execution time: %s -->", FormatElapsed(elapsed))))
	sb.WriteString("\n\n")
	return sb.String()
}

// FormatElapsed prints a duration as ticks (nanoseconds) with a millisecond figure.
func FormatElapsed(d time.Duration) string {
	return fmt.Sprintf("%d ticks (%.2fms)", d.Nanoseconds(), float64(d)/float64(time.Millisecond))
}
