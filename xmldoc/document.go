package xmldoc

// Document is a parsed XML tree. The root is a synthetic document node whose
// children are the top-level nodes (normally a single element).
type Document struct {
	root *Node
}

// NewDocument builds a document around a detached element.
func NewDocument(el *Node) *Document {
	root := &Node{Kind: DocumentNode}
	if el != nil {
		root.AppendChild(el)
	}
	return &Document{root: root}
}

// Root returns the synthetic document node.
func (d *Document) Root() *Node { return d.root }

// DocumentElement returns the top-level element, or nil for an empty document.
func (d *Document) DocumentElement() *Node {
	for _, c := range d.root.Children {
		if c != nil && c.Kind == ElementNode {
			return c
		}
	}
	return nil
}

// Clone returns a deep copy sharing no mutable state with d.
func (d *Document) Clone() *Document {
	return &Document{root: d.root.Clone()}
}

// Select evaluates an XPath query against the document and returns matches in document order.
func (d *Document) Select(query string) ([]*Node, error) {
	return selectNodes(d.root, query)
}

// SelectOne returns the first match, or nil.
func (d *Document) SelectOne(query string) (*Node, error) {
	nodes, err := d.Select(query)
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return nodes[0], nil
}

// IsDocumentRoot reports whether n is the top-level element of its tree.
func IsDocumentRoot(n *Node) bool {
	return n != nil && n.Kind == ElementNode && n.parent != nil && n.parent.Kind == DocumentNode
}

// Count returns the number of element nodes in the document.
func (d *Document) Count() int {
	total := 0
	d.root.Walk(func(n *Node) bool {
		if n.Kind == ElementNode {
			total++
		}
		return true
	})
	return total
}
