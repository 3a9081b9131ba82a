package xmldoc

import (
	"bytes"
	"fmt"
	"unicode/utf8"
)

// ValidationRootName wraps subtrees re-imported by Validate.
const ValidationRootName = "ValidateXml"

// maxValidateDepth guards against cyclic trees built by hand.
const maxValidateDepth = 4096

// Validate re-imports the subtree rooted at n into a throwaway document and
// reports the first structural problem found. n is not modified.
func Validate(n *Node) error {
	if n == nil {
		return &DocError{Type: ErrStructure, Message: "validate: nil node"}
	}
	if err := checkStructure(n, 0, map[*Node]struct{}{}); err != nil {
		return err
	}
	if n.Kind != ElementNode {
		return nil
	}
	var buf bytes.Buffer
	buf.WriteString("<" + ValidationRootName + ">")
	if err := writeNode(&buf, n, EncodeOptions{Compact: true}, 0); err != nil {
		return &DocError{Type: ErrStructure, Message: "validate: encode " + n.Name, Err: err}
	}
	buf.WriteString("</" + ValidationRootName + ">")
	if _, err := ParseReader(&buf); err != nil {
		return &DocError{Type: ErrStructure, Message: "validate: import " + n.Name, Err: err}
	}
	return nil
}

func checkStructure(n *Node, depth int, seen map[*Node]struct{}) error {
	if depth > maxValidateDepth {
		return &DocError{Type: ErrStructure, Message: "validate: tree too deep or cyclic"}
	}
	if _, ok := seen[n]; ok {
		return &DocError{Type: ErrStructure, Message: fmt.Sprintf("validate: node <%s> appears twice", n.Name)}
	}
	seen[n] = struct{}{}
	switch n.Kind {
	case ElementNode:
		if n.Name == "" {
			return &DocError{Type: ErrStructure, Message: "validate: element with no name"}
		}
		names := make(map[string]struct{}, len(n.Attrs))
		for _, a := range n.Attrs {
			if a.Name == "" {
				return &DocError{Type: ErrStructure, Message: fmt.Sprintf("validate: <%s> has an attribute with no name", n.Name)}
			}
			if _, dup := names[a.Name]; dup {
				return &DocError{Type: ErrStructure, Message: fmt.Sprintf("validate: duplicate attribute %q on <%s>", a.Name, n.Name)}
			}
			names[a.Name] = struct{}{}
			if !legalText(a.Value) {
				return &DocError{Type: ErrStructure, Message: fmt.Sprintf("validate: illegal character in %s/@%s", n.Name, a.Name)}
			}
		}
	case TextNode, CommentNode, AttributeNode:
		if !legalText(n.Text) {
			return &DocError{Type: ErrStructure, Message: "validate: illegal character in " + n.Kind.String()}
		}
	}
	for _, c := range n.Children {
		if c == nil {
			return &DocError{Type: ErrStructure, Message: fmt.Sprintf("validate: nil child under <%s>", n.Name)}
		}
		if c.Kind == DocumentNode {
			return &DocError{Type: ErrStructure, Message: "validate: document node nested in tree"}
		}
		if err := checkStructure(c, depth+1, seen); err != nil {
			return err
		}
	}
	return nil
}

// legalText reports whether s only holds characters allowed by XML 1.0.
func legalText(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		switch {
		case r == 0x09 || r == 0x0A || r == 0x0D:
		case r >= 0x20 && r <= 0xD7FF:
		case r >= 0xE000 && r <= 0xFFFD:
		case r >= 0x10000 && r <= 0x10FFFF:
		default:
			return false
		}
	}
	return true
}
