package xmldoc

import "github.com/antchfx/xpath"

// navigator implements xpath.NodeNavigator over a Node tree.
type navigator struct {
	root, cur *Node
	attrIx    int
}

func newNavigator(root *Node) *navigator {
	return &navigator{root: root, cur: root, attrIx: -1}
}

func (n *navigator) NodeType() xpath.NodeType {
	if n.attrIx >= 0 {
		return xpath.AttributeNode
	}
	switch n.cur.Kind {
	case ElementNode:
		return xpath.ElementNode
	case TextNode:
		return xpath.TextNode
	case CommentNode:
		return xpath.CommentNode
	default:
		return xpath.RootNode
	}
}

func (n *navigator) LocalName() string {
	if n.attrIx >= 0 {
		return n.cur.Attrs[n.attrIx].Name
	}
	return n.cur.Name
}

func (n *navigator) Prefix() string { return "" }

func (n *navigator) Value() string {
	if n.attrIx >= 0 {
		return n.cur.Attrs[n.attrIx].Value
	}
	return n.cur.InnerText()
}

func (n *navigator) Copy() xpath.NodeNavigator {
	cp := *n
	return &cp
}

func (n *navigator) MoveToRoot() {
	n.cur = n.root
	n.attrIx = -1
}

func (n *navigator) MoveToParent() bool {
	if n.attrIx >= 0 {
		n.attrIx = -1
		return true
	}
	if n.cur == n.root || n.cur.parent == nil {
		return false
	}
	n.cur = n.cur.parent
	return true
}

func (n *navigator) MoveToNext() bool {
	if n.attrIx >= 0 {
		return false
	}
	p := n.cur.parent
	if p == nil || n.cur == n.root {
		return false
	}
	idx := n.cur.Index()
	if idx >= 0 && idx+1 < len(p.Children) {
		n.cur = p.Children[idx+1]
		return true
	}
	return false
}

func (n *navigator) MoveToPrevious() bool {
	if n.attrIx >= 0 {
		return false
	}
	p := n.cur.parent
	if p == nil || n.cur == n.root {
		return false
	}
	idx := n.cur.Index()
	if idx > 0 {
		n.cur = p.Children[idx-1]
		return true
	}
	return false
}

func (n *navigator) MoveToChild() bool {
	if n.attrIx >= 0 || len(n.cur.Children) == 0 {
		return false
	}
	n.cur = n.cur.Children[0]
	return true
}

func (n *navigator) MoveToFirst() bool {
	if n.attrIx >= 0 {
		return false
	}
	p := n.cur.parent
	if p == nil || n.cur == n.root || n.cur.Index() <= 0 {
		return false
	}
	n.cur = p.Children[0]
	return true
}

func (n *navigator) MoveToNextAttribute() bool {
	if n.cur.Kind != ElementNode {
		return false
	}
	next := n.attrIx + 1
	if next < len(n.cur.Attrs) {
		n.attrIx = next
		return true
	}
	return false
}

func (n *navigator) MoveTo(other xpath.NodeNavigator) bool {
	o, ok := other.(*navigator)
	if !ok || o.root != n.root {
		return false
	}
	n.cur = o.cur
	n.attrIx = o.attrIx
	return true
}

func (n *navigator) String() string { return n.Value() }

// node materializes the navigator position. Attributes become detached views.
func (n *navigator) node() *Node {
	if n.attrIx >= 0 {
		a := n.cur.Attrs[n.attrIx]
		return &Node{Kind: AttributeNode, Name: a.Name, Text: a.Value, parent: n.cur}
	}
	return n.cur
}
