// Package patch models RimWorld-style patch operations and simulates them on a document copy.
package patch

import (
	"errors"
	"fmt"

	"github.com/atlas-foundry/xpatch-go/xmldoc"
)

// Stock operation kinds, named by the Class attribute used in patch files.
const (
	KindAdd             = "PatchOperationAdd"
	KindInsert          = "PatchOperationInsert"
	KindRemove          = "PatchOperationRemove"
	KindReplace         = "PatchOperationReplace"
	KindAttributeAdd    = "PatchOperationAttributeAdd"
	KindAttributeSet    = "PatchOperationAttributeSet"
	KindAttributeRemove = "PatchOperationAttributeRemove"
	KindSetName         = "PatchOperationSetName"
	KindTest            = "PatchOperationTest"
	KindConditional     = "PatchOperationConditional"
	KindSequence        = "PatchOperationSequence"
)

// Success modes map the worker result onto the reported result.
const (
	SuccessNormal = "Normal"
	SuccessInvert = "Invert"
	SuccessAlways = "Always"
	SuccessNever  = "Never"
)

// SuccessModes lists the success options in editor order.
var SuccessModes = []string{SuccessNormal, SuccessInvert, SuccessAlways, SuccessNever}

const (
	OrderAppend  = "Append"
	OrderPrepend = "Prepend"
)

var (
	ErrNotElement  = errors.New("matched node is not an element")
	ErrRootSibling = errors.New("document element cannot have siblings")
	ErrDetached    = errors.New("matched node has no parent")
)

// ApplyError reports a structural failure on one matched node.
type ApplyError struct {
	Kind string
	Path string
	Err  error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("%s at %s: %v", e.Kind, e.Path, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// Pathed carries the xpath and success fields every stock kind starts with.
type Pathed struct {
	Schema
	XPath   string
	Success string
}

func (p *Pathed) init(kind string) {
	p.Schema = NewSchema(kind)
	p.Success = SuccessNormal
	p.Bind(
		StringField("xpath", &p.XPath),
		EnumField("success", &p.Success, SuccessModes...),
	)
}

func (p *Pathed) Target() string { return p.XPath }

func (p *Pathed) finish(worked bool) bool {
	switch p.Success {
	case SuccessInvert:
		return !worked
	case SuccessAlways:
		return true
	case SuccessNever:
		return false
	default:
		return worked
	}
}

func (p *Pathed) fail(n *xmldoc.Node, err error) error {
	return &ApplyError{Kind: p.Kind(), Path: n.Path(), Err: err}
}

// Add appends or prepends the value nodes to every match.
type Add struct {
	Pathed
	Order string
	Value *xmldoc.Container
}

func NewAdd() *Add {
	op := &Add{Order: OrderAppend}
	op.init(KindAdd)
	op.Bind(
		EnumField("order", &op.Order, OrderAppend, OrderPrepend),
		FragmentField("value", &op.Value, false),
	)
	return op
}

func (op *Add) Apply(doc *xmldoc.Document) (bool, error) {
	nodes, err := doc.Select(op.XPath)
	if err != nil {
		return false, err
	}
	worked := false
	for _, n := range nodes {
		if n.Kind != xmldoc.ElementNode {
			return false, op.fail(n, ErrNotElement)
		}
		staged := op.Value.Nodes()
		if op.Order == OrderPrepend {
			for i := len(staged) - 1; i >= 0; i-- {
				n.PrependChild(staged[i])
			}
		} else {
			for _, c := range staged {
				n.AppendChild(c)
			}
		}
		worked = true
	}
	return op.finish(worked), nil
}

// Insert places the value nodes before (Prepend) or after (Append) every match.
type Insert struct {
	Pathed
	Order string
	Value *xmldoc.Container
}

func NewInsert() *Insert {
	op := &Insert{Order: OrderPrepend}
	op.init(KindInsert)
	op.Bind(
		EnumField("order", &op.Order, OrderPrepend, OrderAppend),
		FragmentField("value", &op.Value, false),
	)
	return op
}

func (op *Insert) Apply(doc *xmldoc.Document) (bool, error) {
	nodes, err := doc.Select(op.XPath)
	if err != nil {
		return false, err
	}
	worked := false
	for _, n := range nodes {
		if err := siblingCheck(n); err != nil {
			return false, op.fail(n, err)
		}
		staged := op.Value.Nodes()
		if op.Order == OrderAppend {
			anchor := n
			for _, c := range staged {
				anchor.InsertAfter(c)
				anchor = c
			}
		} else {
			for _, c := range staged {
				n.InsertBefore(c)
			}
		}
		worked = true
	}
	return op.finish(worked), nil
}

func siblingCheck(n *xmldoc.Node) error {
	switch {
	case n.Kind == xmldoc.AttributeNode || n.Kind == xmldoc.DocumentNode:
		return ErrNotElement
	case n.Parent() == nil:
		return ErrDetached
	case n.Parent().Kind == xmldoc.DocumentNode:
		return ErrRootSibling
	}
	return nil
}

// Remove detaches every match. Matched attributes are removed from their element.
type Remove struct {
	Pathed
}

func NewRemove() *Remove {
	op := &Remove{}
	op.init(KindRemove)
	return op
}

func (op *Remove) Apply(doc *xmldoc.Document) (bool, error) {
	nodes, err := doc.Select(op.XPath)
	if err != nil {
		return false, err
	}
	worked := false
	for _, n := range nodes {
		if n.Parent() == nil {
			return false, op.fail(n, ErrDetached)
		}
		n.Detach()
		worked = true
	}
	return op.finish(worked), nil
}

// Replace swaps every match for the value nodes.
type Replace struct {
	Pathed
	Value *xmldoc.Container
}

func NewReplace() *Replace {
	op := &Replace{}
	op.init(KindReplace)
	op.Bind(FragmentField("value", &op.Value, false))
	return op
}

func (op *Replace) Apply(doc *xmldoc.Document) (bool, error) {
	nodes, err := doc.Select(op.XPath)
	if err != nil {
		return false, err
	}
	worked := false
	for _, n := range nodes {
		staged := op.Value.Nodes()
		if err := siblingCheck(n); err != nil && !(errors.Is(err, ErrRootSibling) && len(staged) == 1) {
			return false, op.fail(n, err)
		}
		if !n.ReplaceWith(staged...) {
			return false, op.fail(n, ErrDetached)
		}
		worked = true
	}
	return op.finish(worked), nil
}

// AttributeAdd adds an attribute to matches that do not have it yet.
type AttributeAdd struct {
	Pathed
	Attribute string
	Value     string
}

func NewAttributeAdd() *AttributeAdd {
	op := &AttributeAdd{}
	op.init(KindAttributeAdd)
	op.Bind(StringField("attribute", &op.Attribute), StringField("value", &op.Value))
	return op
}

func (op *AttributeAdd) Apply(doc *xmldoc.Document) (bool, error) {
	return eachElement(&op.Pathed, doc, func(n *xmldoc.Node) bool {
		if _, ok := n.Attr(op.Attribute); !ok {
			n.SetAttr(op.Attribute, op.Value)
		}
		return true
	})
}

// AttributeSet sets an attribute on every match, adding it when missing.
type AttributeSet struct {
	Pathed
	Attribute string
	Value     string
}

func NewAttributeSet() *AttributeSet {
	op := &AttributeSet{}
	op.init(KindAttributeSet)
	op.Bind(StringField("attribute", &op.Attribute), StringField("value", &op.Value))
	return op
}

func (op *AttributeSet) Apply(doc *xmldoc.Document) (bool, error) {
	return eachElement(&op.Pathed, doc, func(n *xmldoc.Node) bool {
		n.SetAttr(op.Attribute, op.Value)
		return true
	})
}

// AttributeRemove deletes an attribute; it only succeeds when some match carried it.
type AttributeRemove struct {
	Pathed
	Attribute string
}

func NewAttributeRemove() *AttributeRemove {
	op := &AttributeRemove{}
	op.init(KindAttributeRemove)
	op.Bind(StringField("attribute", &op.Attribute))
	return op
}

func (op *AttributeRemove) Apply(doc *xmldoc.Document) (bool, error) {
	return eachElement(&op.Pathed, doc, func(n *xmldoc.Node) bool {
		return n.RemoveAttr(op.Attribute)
	})
}

// SetName renames every matched element.
type SetName struct {
	Pathed
	Name string
}

func NewSetName() *SetName {
	op := &SetName{}
	op.init(KindSetName)
	op.Bind(StringField("name", &op.Name))
	return op
}

func (op *SetName) Apply(doc *xmldoc.Document) (bool, error) {
	return eachElement(&op.Pathed, doc, func(n *xmldoc.Node) bool {
		n.Name = op.Name
		return true
	})
}

func eachElement(p *Pathed, doc *xmldoc.Document, fn func(*xmldoc.Node) bool) (bool, error) {
	nodes, err := doc.Select(p.XPath)
	if err != nil {
		return false, err
	}
	worked := false
	for _, n := range nodes {
		if n.Kind != xmldoc.ElementNode {
			return false, p.fail(n, ErrNotElement)
		}
		if fn(n) {
			worked = true
		}
	}
	return p.finish(worked), nil
}

// Test succeeds when the query matches anything. It never changes the document.
type Test struct {
	Pathed
}

func NewTest() *Test {
	op := &Test{}
	op.init(KindTest)
	return op
}

func (op *Test) Apply(doc *xmldoc.Document) (bool, error) {
	n, err := doc.SelectOne(op.XPath)
	if err != nil {
		return false, err
	}
	return op.finish(n != nil), nil
}

// Conditional applies the match operations when the query matches, nomatch otherwise.
type Conditional struct {
	Pathed
	Match   *xmldoc.Container
	NoMatch *xmldoc.Container

	reg *Registry
}

func NewConditional(reg *Registry) *Conditional {
	op := &Conditional{reg: reg}
	op.init(KindConditional)
	op.Bind(
		FragmentField("match", &op.Match, true),
		FragmentField("nomatch", &op.NoMatch, true),
	)
	return op
}

func (op *Conditional) Apply(doc *xmldoc.Document) (bool, error) {
	if op.Match.Len() == 0 && op.NoMatch.Len() == 0 {
		return op.finish(false), nil
	}
	n, err := doc.SelectOne(op.XPath)
	if err != nil {
		return false, err
	}
	branch := op.NoMatch
	if n != nil {
		branch = op.Match
	}
	if branch.Len() == 0 {
		return op.finish(true), nil
	}
	worked, err := applyNested(op.registry(), doc, branch)
	if err != nil {
		return false, err
	}
	return op.finish(worked), nil
}

func (op *Conditional) registry() *Registry {
	if op.reg == nil {
		return DefaultRegistry
	}
	return op.reg
}

// Sequence applies nested operations in order and stops at the first failure.
// Its xpath only scopes simulation; when empty the first nested target is used.
type Sequence struct {
	Pathed
	Operations *xmldoc.Container

	reg *Registry
}

func NewSequence(reg *Registry) *Sequence {
	op := &Sequence{reg: reg}
	op.init(KindSequence)
	op.Bind(FragmentField("operations", &op.Operations, false))
	return op
}

func (op *Sequence) Target() string {
	if op.XPath != "" {
		return op.XPath
	}
	nested, err := op.registry().DecodeAll(op.Operations)
	if err != nil {
		return ""
	}
	for _, n := range nested {
		if t := n.Target(); t != "" {
			return t
		}
	}
	return ""
}

func (op *Sequence) Apply(doc *xmldoc.Document) (bool, error) {
	worked, err := applyNested(op.registry(), doc, op.Operations)
	if err != nil {
		return false, err
	}
	return op.finish(worked), nil
}

func (op *Sequence) registry() *Registry {
	if op.reg == nil {
		return DefaultRegistry
	}
	return op.reg
}

func applyNested(reg *Registry, doc *xmldoc.Document, c *xmldoc.Container) (bool, error) {
	ops, err := reg.DecodeAll(c)
	if err != nil {
		return false, err
	}
	for _, nested := range ops {
		ok, err := nested.Apply(doc)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
