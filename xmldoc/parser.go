package xmldoc

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// EncodeOptions controls XML serialization.
type EncodeOptions struct {
	Indent        string // indentation used by EncodeWithOptions; default "  "
	IncludeHeader bool   // emit xml.Header when true
	Compact       bool   // when true, disable indentation
}

// ParseOptions controls parsing fidelity.
type ParseOptions struct {
	// PreserveWhitespace keeps whitespace-only text nodes between elements.
	PreserveWhitespace bool
	// KeepComments retains comment nodes. Queries and summaries normally never see them.
	KeepComments bool
}

var defaultParseOptions = ParseOptions{}

// ErrorType classifies a DocError.
type ErrorType string

const (
	ErrDecode    ErrorType = "decode_error"
	ErrValidate  ErrorType = "validation_error"
	ErrStructure ErrorType = "structure_error"
)

// DocError wraps decoding and validation issues with context and type.
type DocError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *DocError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DocError) Unwrap() error { return e.Err }

// ParseString decodes a document from a string.
func ParseString(body string) (*Document, error) {
	return parseWithOptions(strings.NewReader(body), defaultParseOptions)
}

// ParseFile decodes a document from the given file path.
func ParseFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	doc, err := parseWithOptions(f, defaultParseOptions)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// ParseReader decodes a document from an io.Reader.
func ParseReader(r io.Reader) (*Document, error) {
	return parseWithOptions(r, defaultParseOptions)
}

// ParseReaderWithOptions decodes a document with fidelity controls.
func ParseReaderWithOptions(r io.Reader, opts ParseOptions) (*Document, error) {
	return parseWithOptions(r, opts)
}

// Encode writes the document as indented XML with a header.
func (d *Document) Encode(w io.Writer) error {
	return d.EncodeWithOptions(w, EncodeOptions{Indent: "  ", IncludeHeader: true})
}

// EncodeWithOptions writes the document with configurable formatting.
func (d *Document) EncodeWithOptions(w io.Writer, opts EncodeOptions) error {
	if opts.IncludeHeader {
		if _, err := io.WriteString(w, xml.Header); err != nil {
			return err
		}
	}
	for _, c := range d.root.Children {
		if err := writeNode(w, c, opts, 0); err != nil {
			return err
		}
		if !opts.Compact {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
	}
	return nil
}

// String returns the compact serialization of the document.
func (d *Document) String() string {
	var buf bytes.Buffer
	_ = d.EncodeWithOptions(&buf, EncodeOptions{Compact: true})
	return buf.String()
}

// DumpFile writes the document to path atomically using Encode options.
func (d *Document) DumpFile(path string, opts EncodeOptions) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := d.EncodeWithOptions(f, opts); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func parseWithOptions(r io.Reader, opts ParseOptions) (*Document, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = true

	root := &Node{Kind: DocumentNode}
	cur := root
	sawElement := false
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, wrapXMLError(err, "parse xml")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if cur == root && sawElement {
				return nil, &DocError{Type: ErrDecode, Message: fmt.Sprintf("parse xml: multiple root elements (<%s>)", t.Name.Local)}
			}
			sawElement = true
			el := &Node{Kind: ElementNode, Name: qualifiedName(t.Name)}
			if len(t.Attr) > 0 {
				el.Attrs = make([]Attr, 0, len(t.Attr))
				for _, a := range t.Attr {
					name := qualifiedName(a.Name)
					if _, dup := el.Attr(name); dup {
						line, _ := dec.InputPos()
						return nil, &DocError{Type: ErrDecode, Message: fmt.Sprintf("parse xml: duplicate attribute %q on <%s> (line %d)", name, el.Name, line)}
					}
					el.Attrs = append(el.Attrs, Attr{Name: name, Value: a.Value})
				}
			}
			cur.AppendChild(el)
			cur = el
		case xml.EndElement:
			if cur.parent != nil {
				cur = cur.parent
			}
		case xml.CharData:
			if cur == root {
				continue
			}
			text := string(t)
			if !opts.PreserveWhitespace && strings.TrimSpace(text) == "" {
				continue
			}
			// merge adjacent runs (CDATA sections arrive as separate tokens)
			if last := lastChild(cur); last != nil && last.Kind == TextNode {
				last.Text += text
				continue
			}
			cur.AppendChild(NewText(text))
		case xml.Comment:
			if opts.KeepComments && cur != root {
				cur.AppendChild(NewComment(string(t)))
			}
		}
	}
	if !sawElement {
		return nil, &DocError{Type: ErrDecode, Message: "parse xml: unexpected EOF (missing root element?)"}
	}
	return &Document{root: root}, nil
}

func lastChild(n *Node) *Node {
	if len(n.Children) == 0 {
		return nil
	}
	return n.Children[len(n.Children)-1]
}

// qualifiedName keeps xmlns declarations intact and flattens other namespaces to local names.
func qualifiedName(n xml.Name) string {
	switch {
	case n.Space == "xmlns":
		return "xmlns:" + n.Local
	case n.Space == "" || strings.Contains(n.Space, "/") || strings.Contains(n.Space, ":"):
		return n.Local
	default:
		return n.Space + ":" + n.Local
	}
}

func wrapXMLError(err error, context string) error {
	var se *xml.SyntaxError
	if errors.As(err, &se) {
		return &DocError{Type: ErrDecode, Message: fmt.Sprintf("%s (line %d)", context, se.Line), Err: err}
	}
	return &DocError{Type: ErrDecode, Message: context, Err: err}
}

// writeNode serializes n. Elements whose children are all text stay on one line.
func writeNode(w io.Writer, n *Node, opts EncodeOptions, depth int) error {
	indent := opts.Indent
	if indent == "" {
		indent = "  "
	}
	pad := ""
	if !opts.Compact {
		pad = strings.Repeat(indent, depth)
	}
	var buf bytes.Buffer
	switch n.Kind {
	case TextNode:
		buf.WriteString(pad)
		if err := xml.EscapeText(&buf, []byte(n.Text)); err != nil {
			return err
		}
	case CommentNode:
		buf.WriteString(pad)
		buf.WriteString("<!--")
		buf.WriteString(n.Text)
		buf.WriteString("-->")
	case AttributeNode:
		buf.WriteString(pad)
		buf.WriteString(n.Name)
		buf.WriteString(`="`)
		if err := xml.EscapeText(&buf, []byte(n.Text)); err != nil {
			return err
		}
		buf.WriteString(`"`)
	case DocumentNode:
		for i, c := range n.Children {
			if i > 0 && !opts.Compact {
				buf.WriteString("\n")
			}
			if err := writeNode(&buf, c, opts, depth); err != nil {
				return err
			}
		}
	default:
		if n.Name == "" {
			return &DocError{Type: ErrStructure, Message: "element with no name"}
		}
		buf.WriteString(pad)
		buf.WriteByte('<')
		buf.WriteString(n.Name)
		for _, a := range n.Attrs {
			buf.WriteByte(' ')
			buf.WriteString(a.Name)
			buf.WriteString(`="`)
			if err := xml.EscapeText(&buf, []byte(a.Value)); err != nil {
				return err
			}
			buf.WriteByte('"')
		}
		if len(n.Children) == 0 {
			buf.WriteString(" />")
			break
		}
		buf.WriteByte('>')
		inline := opts.Compact || onlyText(n)
		for _, c := range n.Children {
			if c == nil {
				return &DocError{Type: ErrStructure, Message: fmt.Sprintf("nil child under <%s>", n.Name)}
			}
			if inline {
				if err := writeNode(&buf, c, EncodeOptions{Compact: true}, 0); err != nil {
					return err
				}
				continue
			}
			buf.WriteString("\n")
			if err := writeNode(&buf, c, opts, depth+1); err != nil {
				return err
			}
		}
		if !inline {
			buf.WriteString("\n")
			buf.WriteString(pad)
		}
		buf.WriteString("</")
		buf.WriteString(n.Name)
		buf.WriteByte('>')
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func onlyText(n *Node) bool {
	for _, c := range n.Children {
		if c == nil || c.Kind != TextNode {
			return false
		}
	}
	return true
}
