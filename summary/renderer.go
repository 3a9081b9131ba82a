package summary

import (
	"bytes"

	"github.com/atlas-foundry/xpatch-go/xmldoc"
)

// Renderer turns a result set into display text.
type Renderer interface {
	Render(nodes []*xmldoc.Node) (string, error)
}

// Summarizer renders bounded summaries with fixed options.
type Summarizer struct {
	Options Options
}

// NewSummarizer returns a Summarizer with normalized options.
func NewSummarizer(opts Options) Summarizer {
	return Summarizer{Options: opts.normalized()}
}

// Render summarizes nodes. It never fails; malformed results become ErrorMarker blocks.
func (s Summarizer) Render(nodes []*xmldoc.Node) (string, error) {
	return Summarize(nodes, s.Options), nil
}

// XMLRenderer emits every result as full indented XML with no limits.
type XMLRenderer struct {
	Indent string
}

// Render serializes each node; results are separated by a blank line.
func (r XMLRenderer) Render(nodes []*xmldoc.Node) (string, error) {
	indent := r.Indent
	if indent == "" {
		indent = "  "
	}
	var buf bytes.Buffer
	for i, n := range nodes {
		if i > 0 {
			buf.WriteString("\n")
		}
		if err := xmldoc.NewDocument(n.Clone()).EncodeWithOptions(&buf, xmldoc.EncodeOptions{Indent: indent}); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}
