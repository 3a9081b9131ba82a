package xmldoc

import (
	"strconv"
	"strings"
	"unicode"
)

// ContainerName is the element name wrapping staged fragment nodes.
const ContainerName = "value"

// MaxStagedAttributes caps the attributes accepted on a staged node.
const MaxStagedAttributes = 10

// Container holds detached nodes staged for insertion by a patch operation.
// It is never attached to a live document; Nodes returns fresh copies.
type Container struct {
	holder *Node
}

// NewContainer returns an empty container.
func NewContainer() *Container {
	return &Container{holder: NewElement(ContainerName)}
}

// ParseContainer reads an XML fragment (zero or more sibling nodes) into a container.
func ParseContainer(fragment string) (*Container, error) {
	doc, err := ParseString("<" + ContainerName + ">" + fragment + "</" + ContainerName + ">")
	if err != nil {
		return nil, err
	}
	holder := doc.DocumentElement()
	holder.Detach()
	return &Container{holder: holder}, nil
}

// ContainerOf wraps clones of the given nodes.
func ContainerOf(nodes ...*Node) *Container {
	c := NewContainer()
	for _, n := range nodes {
		c.Add(n)
	}
	return c
}

// Add stages a copy of n.
func (c *Container) Add(n *Node) {
	if n == nil {
		return
	}
	c.holder.AppendChild(n.Clone())
}

// Len returns the number of staged nodes.
func (c *Container) Len() int {
	if c == nil || c.holder == nil {
		return 0
	}
	return len(c.holder.Children)
}

// Nodes returns detached copies of the staged nodes, safe to insert into a document.
func (c *Container) Nodes() []*Node {
	if c.Len() == 0 {
		return nil
	}
	out := make([]*Node, 0, len(c.holder.Children))
	for _, n := range c.holder.Children {
		out = append(out, n.Clone())
	}
	return out
}

// Holder returns the wrapping element. Callers must not attach it elsewhere.
func (c *Container) Holder() *Node {
	if c == nil {
		return nil
	}
	return c.holder
}

// InnerXML returns the staged nodes as compact XML.
func (c *Container) InnerXML() string {
	if c.Len() == 0 {
		return ""
	}
	return c.holder.InnerXML()
}

// Equal reports whether both containers stage the same markup.
func (c *Container) Equal(other *Container) bool {
	return c.InnerXML() == other.InnerXML()
}

// StagedNode is a single node assembled field by field before it is staged.
// An empty Name stages Text on its own.
type StagedNode struct {
	Name  string
	Text  string
	Attrs []Attr
}

// FragmentIssues flags the parts of a StagedNode that would not form valid XML.
type FragmentIssues struct {
	NodeInvalid       bool
	TextInvalid       bool
	AttributesInvalid []int
}

// OK reports whether no issue was found.
func (f FragmentIssues) OK() bool {
	return !f.NodeInvalid && !f.TextInvalid && len(f.AttributesInvalid) == 0
}

// Validate checks the staged node without building it.
func (s StagedNode) Validate() FragmentIssues {
	var issues FragmentIssues
	if s.Name != "" && !IsName(s.Name) {
		issues.NodeInvalid = true
	}
	if !legalText(s.Text) {
		issues.TextInvalid = true
	}
	if s.Name == "" {
		return issues
	}
	seen := map[string]struct{}{}
	for i, a := range s.Attrs {
		_, dup := seen[a.Name]
		if a.Name == "" || dup || !IsName(a.Name) || !legalText(a.Value) || i >= MaxStagedAttributes {
			issues.AttributesInvalid = append(issues.AttributesInvalid, i)
			continue
		}
		seen[a.Name] = struct{}{}
	}
	return issues
}

// Build returns the staged node, or an error describing the first issue.
func (s StagedNode) Build() (*Node, FragmentIssues, error) {
	issues := s.Validate()
	if !issues.OK() {
		return nil, issues, &DocError{Type: ErrValidate, Message: describeIssues(s, issues)}
	}
	if s.Name == "" {
		return NewText(s.Text), issues, nil
	}
	el := NewElement(s.Name, s.Attrs...)
	if s.Text != "" {
		el.AppendChild(NewText(s.Text))
	}
	return el, issues, nil
}

func describeIssues(s StagedNode, issues FragmentIssues) string {
	var parts []string
	if issues.NodeInvalid {
		parts = append(parts, "invalid node name "+strconv.Quote(s.Name))
	}
	if issues.TextInvalid {
		parts = append(parts, "invalid text")
	}
	for _, i := range issues.AttributesInvalid {
		parts = append(parts, "invalid attribute #"+strconv.Itoa(i))
	}
	return "staged node: " + strings.Join(parts, ", ")
}

// IsName reports whether s is a legal XML element or attribute name.
func IsName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 {
			if !unicode.IsLetter(r) && r != '_' && r != ':' {
				return false
			}
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != ':' && r != '-' && r != '.' &&
			!unicode.Is(unicode.Mn, r) && !unicode.Is(unicode.Mc, r) {
			return false
		}
	}
	return true
}
