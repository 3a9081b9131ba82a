package xmldoc

import (
	"bytes"
	"strconv"
	"strings"
)

// NodeKind enumerates the node variants held by a Document.
type NodeKind int

const (
	DocumentNode NodeKind = iota
	ElementNode
	TextNode
	CommentNode
	// AttributeNode is only produced by queries that select attributes; it is a
	// detached view whose Parent is the owning element.
	AttributeNode
)

func (k NodeKind) String() string {
	switch k {
	case DocumentNode:
		return "document"
	case ElementNode:
		return "element"
	case TextNode:
		return "text"
	case CommentNode:
		return "comment"
	case AttributeNode:
		return "attribute"
	default:
		return "unknown"
	}
}

// Attr is a single name/value attribute. Order within a node is preserved.
type Attr struct {
	Name  string
	Value string
}

// Node is an element, text, comment or document node.
// Text holds the content of text and comment nodes, and the value of attribute views.
type Node struct {
	Kind     NodeKind
	Name     string
	Text     string
	Attrs    []Attr
	Children []*Node

	parent *Node
}

// NewElement returns a detached element.
func NewElement(name string, attrs ...Attr) *Node {
	n := &Node{Kind: ElementNode, Name: name}
	if len(attrs) > 0 {
		n.Attrs = append([]Attr(nil), attrs...)
	}
	return n
}

// NewText returns a detached text node.
func NewText(text string) *Node {
	return &Node{Kind: TextNode, Text: text}
}

// NewComment returns a detached comment node.
func NewComment(text string) *Node {
	return &Node{Kind: CommentNode, Text: text}
}

// Parent returns the node's parent, or nil when detached.
func (n *Node) Parent() *Node { return n.parent }

// IsEmpty reports whether an element has no children.
func (n *Node) IsEmpty() bool {
	return n.Kind == ElementNode && len(n.Children) == 0
}

// IsTextOnly reports whether an element has exactly one child and it is text.
func (n *Node) IsTextOnly() bool {
	return n.Kind == ElementNode && len(n.Children) == 1 && n.Children[0] != nil && n.Children[0].Kind == TextNode
}

// IsTextElement reports whether the element's serialized content does not start with markup.
func (n *Node) IsTextElement() bool {
	if n.Kind != ElementNode {
		return false
	}
	for _, c := range n.Children {
		if c == nil {
			return false
		}
		if c.Kind != TextNode {
			return false
		}
		if c.Text != "" {
			return true
		}
	}
	return false
}

// Index returns the position of n among its parent's children, or -1.
func (n *Node) Index() int {
	if n.parent == nil || n.Kind == AttributeNode {
		return -1
	}
	for i, c := range n.parent.Children {
		if c == n {
			return i
		}
	}
	return -1
}

// ElementChildren returns the element children in order.
func (n *Node) ElementChildren() []*Node {
	out := make([]*Node, 0, len(n.Children))
	for _, c := range n.Children {
		if c != nil && c.Kind == ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// FirstChildElement returns the first child element with the given name.
func (n *Node) FirstChildElement(name string) *Node {
	for _, c := range n.Children {
		if c != nil && c.Kind == ElementNode && c.Name == name {
			return c
		}
	}
	return nil
}

// Attr returns the value of the named attribute.
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// SetAttr sets or appends an attribute.
func (n *Node) SetAttr(name, value string) {
	for i := range n.Attrs {
		if n.Attrs[i].Name == name {
			n.Attrs[i].Value = value
			return
		}
	}
	n.Attrs = append(n.Attrs, Attr{Name: name, Value: value})
}

// RemoveAttr deletes the named attribute, reporting whether it existed.
func (n *Node) RemoveAttr(name string) bool {
	for i := range n.Attrs {
		if n.Attrs[i].Name == name {
			n.Attrs = append(n.Attrs[:i], n.Attrs[i+1:]...)
			return true
		}
	}
	return false
}

// InnerText concatenates all descendant text.
func (n *Node) InnerText() string {
	switch n.Kind {
	case TextNode, AttributeNode:
		return n.Text
	case CommentNode:
		return ""
	}
	var sb strings.Builder
	var walk func(*Node)
	walk = func(cur *Node) {
		for _, c := range cur.Children {
			if c == nil {
				continue
			}
			switch c.Kind {
			case TextNode:
				sb.WriteString(c.Text)
			case ElementNode:
				walk(c)
			}
		}
	}
	walk(n)
	return sb.String()
}

// InnerXML serializes the node's children without indentation.
func (n *Node) InnerXML() string {
	var buf bytes.Buffer
	for _, c := range n.Children {
		if c == nil {
			continue
		}
		_ = writeNode(&buf, c, EncodeOptions{Compact: true}, 0)
	}
	return buf.String()
}

// OuterXML serializes the node itself without indentation.
func (n *Node) OuterXML() string {
	var buf bytes.Buffer
	_ = writeNode(&buf, n, EncodeOptions{Compact: true}, 0)
	return buf.String()
}

// AppendChild detaches c from its current parent and appends it to n.
func (n *Node) AppendChild(c *Node) {
	c.Detach()
	c.parent = n
	n.Children = append(n.Children, c)
}

// PrependChild detaches c and inserts it as n's first child.
func (n *Node) PrependChild(c *Node) {
	c.Detach()
	c.parent = n
	n.Children = append([]*Node{c}, n.Children...)
}

// InsertBefore inserts c as the sibling immediately preceding n.
func (n *Node) InsertBefore(c *Node) bool {
	return n.insertSibling(c, 0)
}

// InsertAfter inserts c as the sibling immediately following n.
func (n *Node) InsertAfter(c *Node) bool {
	return n.insertSibling(c, 1)
}

func (n *Node) insertSibling(c *Node, offset int) bool {
	p := n.parent
	if p == nil || n.Kind == AttributeNode {
		return false
	}
	c.Detach()
	idx := n.Index()
	if idx < 0 {
		return false
	}
	at := idx + offset
	p.Children = append(p.Children, nil)
	copy(p.Children[at+1:], p.Children[at:])
	p.Children[at] = c
	c.parent = p
	return true
}

// RemoveChild removes c from n's children.
func (n *Node) RemoveChild(c *Node) bool {
	for i, cur := range n.Children {
		if cur == c {
			n.Children = append(n.Children[:i], n.Children[i+1:]...)
			c.parent = nil
			return true
		}
	}
	return false
}

// Detach removes n from its parent. Attribute views remove the attribute from the owner.
func (n *Node) Detach() {
	if n.parent == nil {
		return
	}
	if n.Kind == AttributeNode {
		n.parent.RemoveAttr(n.Name)
		n.parent = nil
		return
	}
	n.parent.RemoveChild(n)
}

// ReplaceWith puts the given nodes in n's place and detaches n.
func (n *Node) ReplaceWith(nodes ...*Node) bool {
	if n.parent == nil || n.Kind == AttributeNode {
		return false
	}
	anchor := n
	for _, r := range nodes {
		if !anchor.InsertAfter(r) {
			return false
		}
		anchor = r
	}
	n.Detach()
	return true
}

// Clone deep-copies n. The copy is detached.
func (n *Node) Clone() *Node {
	cp := &Node{Kind: n.Kind, Name: n.Name, Text: n.Text}
	if len(n.Attrs) > 0 {
		cp.Attrs = append([]Attr(nil), n.Attrs...)
	}
	if len(n.Children) > 0 {
		cp.Children = make([]*Node, 0, len(n.Children))
		for _, c := range n.Children {
			if c == nil {
				continue
			}
			cc := c.Clone()
			cc.parent = cp
			cp.Children = append(cp.Children, cc)
		}
	}
	return cp
}

// Walk visits n and its descendants depth-first. Returning false from fn skips the subtree.
func (n *Node) Walk(fn func(*Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Path returns a simple absolute location such as /Defs/ThingDef[3] for diagnostics.
func (n *Node) Path() string {
	var parts []string
	for cur := n; cur != nil && cur.Kind != DocumentNode; cur = cur.parent {
		switch cur.Kind {
		case AttributeNode:
			parts = append(parts, "@"+cur.Name)
		case TextNode:
			parts = append(parts, "text()")
		case CommentNode:
			parts = append(parts, "comment()")
		default:
			parts = append(parts, cur.Name+positionSuffix(cur))
		}
	}
	var sb strings.Builder
	for i := len(parts) - 1; i >= 0; i-- {
		sb.WriteByte('/')
		sb.WriteString(parts[i])
	}
	return sb.String()
}

func positionSuffix(n *Node) string {
	if n.parent == nil {
		return ""
	}
	pos, total := 0, 0
	for _, c := range n.parent.Children {
		if c == nil || c.Kind != ElementNode || c.Name != n.Name {
			continue
		}
		total++
		if c == n {
			pos = total
		}
	}
	if total <= 1 {
		return ""
	}
	return "[" + strconv.Itoa(pos) + "]"
}
