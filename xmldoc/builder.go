package xmldoc

import "fmt"

// Builder provides a fluent API for assembling a node tree in code.
type Builder struct {
	root *Node
	cur  *Node
	err  error
}

// NewBuilder starts a tree rooted at an element named root.
func NewBuilder(root string, attrs ...Attr) *Builder {
	el := NewElement(root, attrs...)
	return &Builder{root: el, cur: el}
}

// Element appends a child element and descends into it.
func (b *Builder) Element(name string, attrs ...Attr) *Builder {
	el := NewElement(name, attrs...)
	b.cur.AppendChild(el)
	b.cur = el
	return b
}

// Leaf appends a child element holding text without descending.
func (b *Builder) Leaf(name, text string, attrs ...Attr) *Builder {
	el := NewElement(name, attrs...)
	if text != "" {
		el.AppendChild(NewText(text))
	}
	b.cur.AppendChild(el)
	return b
}

// Text appends a text node to the current element.
func (b *Builder) Text(text string) *Builder {
	b.cur.AppendChild(NewText(text))
	return b
}

// Attr sets an attribute on the current element.
func (b *Builder) Attr(name, value string) *Builder {
	b.cur.SetAttr(name, value)
	return b
}

// Append attaches a copy of n to the current element.
func (b *Builder) Append(n *Node) *Builder {
	if n != nil {
		b.cur.AppendChild(n.Clone())
	}
	return b
}

// End returns to the parent element.
func (b *Builder) End() *Builder {
	if b.cur == b.root {
		if b.err == nil {
			b.err = fmt.Errorf("builder: End called at root <%s>", b.root.Name)
		}
		return b
	}
	b.cur = b.cur.parent
	return b
}

// Build returns the assembled tree after validating it.
func (b *Builder) Build() (*Node, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := Validate(b.root); err != nil {
		return nil, err
	}
	return b.root, nil
}

// Document wraps the assembled tree in a Document.
func (b *Builder) Document() (*Document, error) {
	root, err := b.Build()
	if err != nil {
		return nil, err
	}
	return NewDocument(root), nil
}

// Container stages the root's children as a fragment.
func (b *Builder) Container() (*Container, error) {
	root, err := b.Build()
	if err != nil {
		return nil, err
	}
	return ContainerOf(root.Children...), nil
}
