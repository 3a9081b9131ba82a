package summary

import (
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/atlas-foundry/xpatch-go/xmldoc"
)

func mustParse(t *testing.T, body string) *xmldoc.Document {
	t.Helper()
	doc, err := xmldoc.ParseString(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func TestSummarizeEmpty(t *testing.T) {
	if got := Summarize(nil, DefaultOptions()); got != "" {
		t.Fatalf("expected empty summary, got %q", got)
	}
}

func TestSummarizeTextElementTruncated(t *testing.T) {
	doc := mustParse(t, `<Defs><ThingDef><description>0123456789012345678901234567890123456789</description></ThingDef></Defs>`)
	nodes, err := doc.Select(`//description`)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	got := Summarize(nodes, DefaultOptions())
	want := "<description>0123456789012345678901234...</description>\n"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestSummarizeSingleElementRendersFully(t *testing.T) {
	doc := mustParse(t, `<Defs><ThingDef Name="Base"><defName>Gun</defName><tags><li>A</li></tags><empty Class="X"/></ThingDef></Defs>`)
	nodes, _ := doc.Select(`/Defs/ThingDef`)
	got := Summarize(nodes, DefaultOptions())
	want := strings.Join([]string{
		`<ThingDef Name="Base">`,
		"\t<defName>Gun</defName>",
		"\t<tags>",
		"\t\t<li>A</li>",
		"\t</tags>",
		"\t<empty Class=\"X\" />",
		"</ThingDef>",
		"",
	}, "\n")
	if got != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestSummarizeDocumentRootCutsChildren(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("<Defs>")
	for i := 0; i < 12; i++ {
		sb.WriteString("<a/>")
	}
	sb.WriteString("</Defs>")
	doc := mustParse(t, sb.String())
	nodes := []*xmldoc.Node{doc.DocumentElement()}
	if !Truncates(nodes, DefaultOptions()) {
		t.Fatalf("document root should enable truncation")
	}
	got := Summarize(nodes, DefaultOptions())
	want := "<Defs>\n" + strings.Repeat("\t<a />\n", 10) + "\t<!-- ... -->\n</Defs>\n"
	if got != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestSummarizeDepthLimitAbortsSiblings(t *testing.T) {
	doc := mustParse(t, `<Defs><l1><l2><l3><l4><l5><l6><l7>x</l7></l6><sibling/></l5></l4></l3></l2></l1></Defs>`)
	got := Summarize([]*xmldoc.Node{doc.DocumentElement()}, DefaultOptions())
	want := strings.Join([]string{
		"<Defs>",
		"\t<l1>",
		"\t\t<l2>",
		"\t\t\t<l3>",
		"\t\t\t\t<l4>",
		"\t\t\t\t\t<l5>",
		"\t\t\t\t\t\t<l6>",
		"\t\t\t\t\t\t\t<!-- ... -->",
		"\t\t\t\t\t\t</l6>",
		"\t\t\t\t\t</l5>",
		"\t\t\t\t</l4>",
		"\t\t\t</l3>",
		"\t\t</l2>",
		"\t</l1>",
		"</Defs>",
		"",
	}, "\n")
	if got != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestSummarizeSeparatesAndCapsResults(t *testing.T) {
	doc := mustParse(t, `<Defs><a/><b>text</b><c/><d/><e/><f/><g/></Defs>`)
	nodes, _ := doc.Select(`/Defs/*`)
	got := Summarize(nodes, DefaultOptions())
	want := "<a />\n\n<b>text</b>\n\n<c />\n\n<d />\n\n<e />\n"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestSummarizeBareTextAndAttributes(t *testing.T) {
	doc := mustParse(t, `<Defs><ThingDef Name="Gun"><label>revolver</label></ThingDef></Defs>`)
	text, _ := doc.Select(`//label/text()`)
	if got := Summarize(text, DefaultOptions()); got != "revolver\n" {
		t.Fatalf("text summary %q", got)
	}
	attrs, _ := doc.Select(`//ThingDef/@Name`)
	if got := Summarize(attrs, DefaultOptions()); got != "Name=\"Gun\"\n" {
		t.Fatalf("attribute summary %q", got)
	}
}

func TestSummarizeMalformedNodeBecomesMarker(t *testing.T) {
	broken := &xmldoc.Node{Kind: xmldoc.ElementNode, Name: "broken", Children: []*xmldoc.Node{nil}}
	cyclic := xmldoc.NewElement("loop")
	cyclic.Children = append(cyclic.Children, cyclic)
	ok := xmldoc.NewElement("fine")

	got := Summarize([]*xmldoc.Node{broken, ok}, DefaultOptions())
	if got != ErrorMarker+"\n\n<fine />\n" {
		t.Fatalf("unexpected output %q", got)
	}
	if got := Summarize([]*xmldoc.Node{cyclic}, DefaultOptions()); got != ErrorMarker+"\n" {
		t.Fatalf("cyclic tree should degrade to marker, got %d bytes", len(got))
	}
	if got := Summarize([]*xmldoc.Node{nil}, DefaultOptions()); got != ErrorMarker+"\n" {
		t.Fatalf("nil node should degrade to marker, got %q", got)
	}
}

func TestHeader(t *testing.T) {
	got := Header(7, 1500*time.Microsecond, DefaultOptions())
	want := "<!-- Summary: Found 7 results. (Only showing first 5 matches) -->\n<!-- Execution time: 1500000 ticks (1.50ms) -->\n\n"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if strings.Contains(Header(2, 0, DefaultOptions()), "Only showing") {
		t.Fatalf("disclaimer shown for a short result list")
	}
}

func TestColorThemeKeepsContent(t *testing.T) {
	doc := mustParse(t, `<Defs><ThingDef Name="Gun"/></Defs>`)
	opts := DefaultOptions()
	opts.Theme = NewColorTheme(Palette{Node: "#112233"})
	got := Summarize([]*xmldoc.Node{doc.DocumentElement()}, opts)
	for _, part := range []string{"<Defs", "ThingDef", "Name", `"Gun"`, "</Defs>"} {
		if !strings.Contains(got, part) {
			t.Fatalf("missing %q in %q", part, got)
		}
	}
}

func TestXMLRenderer(t *testing.T) {
	doc := mustParse(t, `<Defs><a><b>1</b></a><c/></Defs>`)
	nodes, _ := doc.Select(`/Defs/*`)
	out, err := XMLRenderer{}.Render(nodes)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "<a>\n  <b>1</b>\n</a>\n\n<c />\n" {
		t.Fatalf("unexpected xml %q", out)
	}
	var r Renderer = NewSummarizer(Options{})
	if s, err := r.Render(nodes); err != nil || !strings.HasPrefix(s, "<a>") {
		t.Fatalf("summarizer renderer: %q %v", s, err)
	}
}

var shallowNames = []string{"li", "defName", "statBases", "comps", "label"}

// drawShallow builds trees no deeper than 5 levels with at most 10 children per element.
func drawShallow(t *rapid.T, level int) *xmldoc.Node {
	el := xmldoc.NewElement(rapid.SampledFrom(shallowNames).Draw(t, "name"))
	if rapid.Bool().Draw(t, "attr") {
		el.SetAttr("Class", rapid.SampledFrom([]string{"A", "B"}).Draw(t, "class"))
	}
	if level >= 4 || rapid.IntRange(0, 4).Draw(t, "leaf") == 0 {
		if rapid.Bool().Draw(t, "text") {
			el.AppendChild(xmldoc.NewText(rapid.StringMatching(`[a-z]{1,40}`).Draw(t, "body")))
		}
		return el
	}
	n := rapid.IntRange(1, 10).Draw(t, "children")
	for i := 0; i < n; i++ {
		el.AppendChild(drawShallow(t, level+1))
	}
	return el
}

func TestTruncationInvisibleWithinBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a, b := drawShallow(t, 0), drawShallow(t, 0)
		opts := DefaultOptions()
		together := Summarize([]*xmldoc.Node{a, b}, opts)
		apart := Summarize([]*xmldoc.Node{a}, opts) + "\n" + Summarize([]*xmldoc.Node{b}, opts)
		if together != apart {
			t.Fatalf("truncation changed a bounded tree:\n%s\n---\n%s", together, apart)
		}
	})
}
