package report

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/atlas-foundry/xpatch-go/xmldoc"
)

// GraphOptions bounds the tree drawn by Graph.
type GraphOptions struct {
	MaxDepth    int // default 3
	MaxChildren int // default 10
	TextLimit   int // default 25
	// MatchColor fills the matched nodes; default "lightblue".
	MatchColor string
}

func (o GraphOptions) normalized() GraphOptions {
	if o.MaxDepth <= 0 {
		o.MaxDepth = 3
	}
	if o.MaxChildren <= 0 {
		o.MaxChildren = 10
	}
	if o.TextLimit <= 0 {
		o.TextLimit = 25
	}
	if o.MatchColor == "" {
		o.MatchColor = "lightblue"
	}
	return o
}

type graphWriter struct {
	buf  bytes.Buffer
	opts GraphOptions
	next int
}

// Graph emits Graphviz DOT for the matched nodes and their subtrees. Elided children
// are drawn as a single "..." node.
func Graph(nodes []*xmldoc.Node, opts GraphOptions) []byte {
	w := &graphWriter{opts: opts.normalized()}
	w.buf.WriteString("digraph G {\n")
	w.buf.WriteString("  node [fontname=\"monospace\"];\n")
	for _, n := range nodes {
		if n == nil {
			continue
		}
		w.node(n, 0, true)
	}
	w.buf.WriteString("}\n")
	return w.buf.Bytes()
}

func (w *graphWriter) id() string {
	id := fmt.Sprintf("n%d", w.next)
	w.next++
	return id
}

func (w *graphWriter) node(n *xmldoc.Node, depth int, matched bool) string {
	id := w.id()
	attrs := map[string]string{"label": w.label(n)}
	switch n.Kind {
	case xmldoc.TextNode, xmldoc.AttributeNode:
		attrs["shape"] = "note"
	case xmldoc.CommentNode:
		attrs["shape"] = "note"
		attrs["style"] = "dashed"
	default:
		attrs["shape"] = "box"
	}
	if matched {
		attrs["fillcolor"] = w.opts.MatchColor
		attrs["style"] = appendStyle(attrs["style"], "filled")
	}
	fmt.Fprintf(&w.buf, "  %q%s;\n", id, dotAttrs(attrs))
	if n.Kind != xmldoc.ElementNode && n.Kind != xmldoc.DocumentNode {
		return id
	}
	if len(n.Children) == 0 {
		return id
	}
	if depth >= w.opts.MaxDepth {
		w.elided(id)
		return id
	}
	for i, c := range n.Children {
		if i >= w.opts.MaxChildren {
			w.elided(id)
			break
		}
		if c == nil {
			continue
		}
		cid := w.node(c, depth+1, false)
		fmt.Fprintf(&w.buf, "  %q -> %q;\n", id, cid)
	}
	return id
}

func (w *graphWriter) elided(parent string) {
	id := w.id()
	fmt.Fprintf(&w.buf, "  %q%s;\n", id, dotAttrs(map[string]string{"label": "...", "shape": "plaintext"}))
	fmt.Fprintf(&w.buf, "  %q -> %q;\n", parent, id)
}

func (w *graphWriter) label(n *xmldoc.Node) string {
	switch n.Kind {
	case xmldoc.ElementNode:
		if v, ok := n.Attr("Name"); ok {
			return fmt.Sprintf("%s Name=%s", n.Name, v)
		}
		if dn := n.FirstChildElement("defName"); dn != nil {
			return fmt.Sprintf("%s (%s)", n.Name, dn.InnerText())
		}
		return n.Name
	case xmldoc.AttributeNode:
		return "@" + n.Name + "=" + w.clip(n.Text)
	case xmldoc.DocumentNode:
		return "/"
	default:
		return w.clip(strings.TrimSpace(n.Text))
	}
}

func (w *graphWriter) clip(s string) string {
	r := []rune(s)
	if len(r) <= w.opts.TextLimit {
		return s
	}
	return string(r[:w.opts.TextLimit]) + "..."
}

func dotAttrs(m map[string]string) string {
	var parts []string
	for k, v := range m {
		if strings.TrimSpace(v) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%q", k, v))
	}
	if len(parts) == 0 {
		return ""
	}
	sort.Strings(parts)
	return " [" + strings.Join(parts, ",") + "]"
}

func appendStyle(existing, extra string) string {
	if strings.TrimSpace(existing) == "" {
		return extra
	}
	return existing + "," + extra
}
