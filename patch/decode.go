package patch

import (
	"errors"
	"fmt"

	"github.com/atlas-foundry/xpatch-go/xmldoc"
)

const (
	// ClassAttr names the attribute carrying an operation's kind.
	ClassAttr = "Class"
	// ItemName is the element wrapping each nested operation.
	ItemName = "li"
	// PatchRoot and OperationName form the patch file layout <Patch><Operation Class="…">.
	PatchRoot     = "Patch"
	OperationName = "Operation"
)

// Decode reads an operation element: its Class attribute selects the kind and each
// child element sets the field of the same name.
func (r *Registry) Decode(el *xmldoc.Node) (Operation, error) {
	if el == nil || el.Kind != xmldoc.ElementNode {
		return nil, errors.New("decode operation: not an element")
	}
	class, ok := el.Attr(ClassAttr)
	if !ok {
		return nil, fmt.Errorf("decode operation <%s>: %w: missing %s attribute", el.Name, ErrUnknownKind, ClassAttr)
	}
	op, err := r.New(class)
	if err != nil {
		return nil, fmt.Errorf("decode operation <%s>: %w", el.Name, err)
	}
	fields := op.Fields()
	for _, child := range el.ElementChildren() {
		f, ok := fieldNamed(fields, child.Name)
		if !ok {
			return nil, &FieldError{Kind: class, Field: child.Name, Err: ErrUnknownField}
		}
		v, err := fieldValueOf(f, child)
		if err != nil {
			return nil, err
		}
		if err := op.Set(f.Name, v); err != nil {
			return nil, err
		}
	}
	return op, nil
}

// DecodeAll decodes every element staged in c, in order.
func (r *Registry) DecodeAll(c *xmldoc.Container) ([]Operation, error) {
	holder := c.Holder()
	if holder == nil {
		return nil, nil
	}
	var out []Operation
	for _, el := range holder.ElementChildren() {
		op, err := r.Decode(el)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, nil
}

// DecodeDocument reads a <Patch> file into its operations. A document whose root
// is a single operation element decodes to that one operation.
func (r *Registry) DecodeDocument(doc *xmldoc.Document) ([]Operation, error) {
	root := doc.DocumentElement()
	if root == nil {
		return nil, errors.New("decode patch: empty document")
	}
	if root.Name != PatchRoot {
		op, err := r.Decode(root)
		if err != nil {
			return nil, err
		}
		return []Operation{op}, nil
	}
	var out []Operation
	for _, el := range root.ElementChildren() {
		op, err := r.Decode(el)
		if err != nil {
			return nil, fmt.Errorf("decode patch %s: %w", el.Path(), err)
		}
		out = append(out, op)
	}
	return out, nil
}

// DecodeString parses body and decodes it with DecodeDocument.
func (r *Registry) DecodeString(body string) ([]Operation, error) {
	doc, err := xmldoc.ParseString(body)
	if err != nil {
		return nil, err
	}
	return r.DecodeDocument(doc)
}

func fieldNamed(fields []Field, name string) (Field, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func fieldValueOf(f Field, el *xmldoc.Node) (Value, error) {
	if f.Type != FieldFragment {
		return ParseValue(f, el.InnerText())
	}
	// <match Class="PatchOperationAdd">…</match> stages one nested operation.
	if class, ok := el.Attr(ClassAttr); ok && f.Nested {
		item := xmldoc.NewElement(ItemName, xmldoc.Attr{Name: ClassAttr, Value: class})
		for _, c := range el.Children {
			item.AppendChild(c.Clone())
		}
		return Fragment(xmldoc.ContainerOf(item)), nil
	}
	return Fragment(xmldoc.ContainerOf(el.Children...)), nil
}

// MustNew returns a fresh operation of kind from DefaultRegistry and panics on unknown kinds.
func MustNew(kind string) Operation {
	op, err := DefaultRegistry.New(kind)
	if err != nil {
		panic(err)
	}
	return op
}
