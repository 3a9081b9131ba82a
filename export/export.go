// Package export serializes query matches and staged patch operations as XML files
// that can be dropped into a content package.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/atlas-foundry/xpatch-go/patch"
	"github.com/atlas-foundry/xpatch-go/xmldoc"
)

const (
	// MatchesRoot wraps exported matches when there is more than one.
	MatchesRoot = "XPathMatches"
	// AttributeName holds an exported attribute match.
	AttributeName = "XPathAttribute"
	// DefaultMatchesFile and DefaultOperationFile are the sink names used by the CLI.
	DefaultMatchesFile   = "xpath_matches.xml"
	DefaultOperationFile = "patch_operation.xml"
)

// ErrNothingToExport is returned for an empty match list or a nil operation.
var ErrNothingToExport = errors.New("nothing to export")

// Options controls serialization.
type Options struct {
	Indent int
	// Header writes the <?xml ...?> declaration.
	Header bool
}

// DefaultOptions indents by two spaces and writes the declaration.
func DefaultOptions() Options { return Options{Indent: 2, Header: true} }

// Matches builds a document from query results. A single element becomes the root;
// anything else is wrapped in <XPathMatches>.
func Matches(nodes []*xmldoc.Node, opts Options) ([]byte, error) {
	if len(nodes) == 0 {
		return nil, ErrNothingToExport
	}
	doc := newDocument(opts)
	if len(nodes) == 1 {
		if el := asElement(nodes[0]); el != nil {
			doc.SetRoot(convert(el))
			return write(doc, opts)
		}
	}
	root := doc.CreateElement(MatchesRoot)
	for _, n := range nodes {
		appendNode(root, n)
	}
	return write(doc, opts)
}

// asElement returns the element a lone match should be exported as, or nil.
func asElement(n *xmldoc.Node) *xmldoc.Node {
	switch {
	case n == nil:
		return nil
	case n.Kind == xmldoc.ElementNode:
		return n
	case n.Kind == xmldoc.DocumentNode:
		for _, c := range n.Children {
			if c.Kind == xmldoc.ElementNode {
				return c
			}
		}
	}
	return nil
}

// Operation writes <Patch><Operation Class="Kind">…</Operation></Patch> holding only the
// fields whose value differs from the field default.
func Operation(op patch.Operation, opts Options) ([]byte, error) {
	if op == nil {
		return nil, ErrNothingToExport
	}
	doc := newDocument(opts)
	root := doc.CreateElement(patch.PatchRoot)
	root.AddChild(operationElement(patch.OperationName, op))
	return write(doc, opts)
}

// operationElement renders op as tag. A nested field holding one <li Class="…"> item is
// written in the <match Class="…"> form.
func operationElement(tag string, op patch.Operation) *etree.Element {
	el := etree.NewElement(tag)
	el.CreateAttr(patch.ClassAttr, op.Kind())
	fields, values := patch.NonDefault(op)
	for i, f := range fields {
		v := values[i]
		if f.Type != patch.FieldFragment {
			el.CreateElement(f.Name).SetText(v.Text())
			continue
		}
		fe := el.CreateElement(f.Name)
		nodes := v.Fragment.Nodes()
		if f.Nested && len(nodes) == 1 && nodes[0].Kind == xmldoc.ElementNode && nodes[0].Name == patch.ItemName {
			if class, ok := nodes[0].Attr(patch.ClassAttr); ok {
				fe.CreateAttr(patch.ClassAttr, class)
				nodes = nodes[0].Children
			}
		}
		for _, n := range nodes {
			appendNode(fe, n)
		}
	}
	return el
}

func newDocument(opts Options) *etree.Document {
	doc := etree.NewDocument()
	if opts.Header {
		doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)
	}
	return doc
}

func write(doc *etree.Document, opts Options) ([]byte, error) {
	if opts.Indent > 0 {
		doc.Indent(opts.Indent)
	}
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return out, nil
}

func appendNode(parent *etree.Element, n *xmldoc.Node) {
	if n == nil {
		return
	}
	switch n.Kind {
	case xmldoc.ElementNode:
		parent.AddChild(convert(n))
	case xmldoc.TextNode:
		parent.CreateText(n.Text)
	case xmldoc.CommentNode:
		parent.CreateComment(n.Text)
	case xmldoc.AttributeNode:
		a := parent.CreateElement(AttributeName)
		a.CreateAttr("Name", n.Name)
		a.SetText(n.Text)
	case xmldoc.DocumentNode:
		for _, c := range n.Children {
			appendNode(parent, c)
		}
	}
}

func convert(n *xmldoc.Node) *etree.Element {
	el := etree.NewElement(n.Name)
	for _, a := range n.Attrs {
		el.CreateAttr(a.Name, a.Value)
	}
	for _, c := range n.Children {
		appendNode(el, c)
	}
	return el
}

// JSONNode is a tooling-friendly view of a match.
type JSONNode struct {
	Kind     string            `json:"kind"`
	Name     string            `json:"name,omitempty"`
	Text     string            `json:"text,omitempty"`
	Path     string            `json:"path,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Children []JSONNode        `json:"children,omitempty"`
}

// JSON renders matches as an indented JSON array. Whitespace-only text is dropped.
func JSON(nodes []*xmldoc.Node) ([]byte, error) {
	out := make([]JSONNode, 0, len(nodes))
	for _, n := range nodes {
		if n == nil {
			continue
		}
		j := jsonNode(n)
		j.Path = n.Path()
		out = append(out, j)
	}
	return json.MarshalIndent(out, "", "  ")
}

func jsonNode(n *xmldoc.Node) JSONNode {
	j := JSONNode{Kind: n.Kind.String(), Name: n.Name, Text: n.Text}
	if len(n.Attrs) > 0 {
		j.Attrs = make(map[string]string, len(n.Attrs))
		for _, a := range n.Attrs {
			j.Attrs[a.Name] = a.Value
		}
	}
	for _, c := range n.Children {
		if c == nil || (c.Kind == xmldoc.TextNode && strings.TrimSpace(c.Text) == "") {
			continue
		}
		j.Children = append(j.Children, jsonNode(c))
	}
	return j
}
