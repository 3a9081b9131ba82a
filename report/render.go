package report

import (
	"bytes"
	"fmt"
	"strings"

	goorg "github.com/niklasfasching/go-org/org"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
)

func renderMarkdown(r *Report) string {
	var b strings.Builder
	if t := strings.TrimSpace(r.Title); t != "" {
		b.WriteString("# ")
		b.WriteString(t)
		b.WriteString("\n\n")
	}
	for _, bl := range r.blocks {
		switch bl.kind {
		case blockHeading:
			b.WriteString(strings.Repeat("#", bl.level))
			b.WriteString(" ")
			b.WriteString(bl.text)
		case blockPara:
			b.WriteString(bl.text)
		case blockList:
			for i, it := range bl.items {
				if i > 0 {
					b.WriteByte('\n')
				}
				b.WriteString("- ")
				b.WriteString(it)
			}
		case blockCode:
			fence := codeFence(bl.text)
			b.WriteString(fence)
			b.WriteString(bl.lang)
			b.WriteByte('\n')
			b.WriteString(bl.text)
			b.WriteByte('\n')
			b.WriteString(fence)
		case blockTable:
			for i, row := range bl.rows {
				if i > 0 {
					b.WriteByte('\n')
				}
				b.WriteString(markdownRow(row))
				if i == 0 {
					b.WriteByte('\n')
					b.WriteString(markdownRow(separator(len(row), "---")))
				}
			}
		}
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String()) + "\n"
}

// codeFence returns a backtick fence longer than any run inside body.
func codeFence(body string) string {
	longest, run := 0, 0
	for _, r := range body {
		if r == '`' {
			run++
			longest = max(longest, run)
			continue
		}
		run = 0
	}
	return strings.Repeat("`", max(3, longest+1))
}

func markdownRow(cells []string) string {
	escaped := make([]string, len(cells))
	for i, c := range cells {
		escaped[i] = strings.ReplaceAll(c, "|", `\|`)
	}
	return "| " + strings.Join(escaped, " | ") + " |"
}

func separator(n int, cell string) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = cell
	}
	return out
}

// renderOrg writes the report as Org and normalizes it through the go-org writer.
func renderOrg(r *Report) (string, error) {
	var b strings.Builder
	if t := strings.TrimSpace(r.Title); t != "" {
		b.WriteString("* ")
		b.WriteString(t)
		b.WriteString("\n\n")
	}
	for _, bl := range r.blocks {
		switch bl.kind {
		case blockHeading:
			b.WriteString(strings.Repeat("*", bl.level))
			b.WriteString(" ")
			b.WriteString(bl.text)
		case blockPara:
			b.WriteString(bl.text)
		case blockList:
			for i, it := range bl.items {
				if i > 0 {
					b.WriteByte('\n')
				}
				b.WriteString("- ")
				b.WriteString(orgInline(it))
			}
		case blockCode:
			b.WriteString("#+begin_src ")
			b.WriteString(bl.lang)
			b.WriteByte('\n')
			b.WriteString(bl.text)
			b.WriteString("\n#+end_src")
		case blockTable:
			for i, row := range bl.rows {
				if i > 0 {
					b.WriteByte('\n')
				}
				b.WriteString(orgRow(row))
				if i == 0 && len(bl.rows) > 1 {
					b.WriteString("\n|")
					b.WriteString(strings.Join(separator(len(row), "---"), "+"))
					b.WriteString("|")
				}
			}
		}
		b.WriteString("\n\n")
	}
	doc := goorg.New().Parse(strings.NewReader(b.String()), "")
	out, err := doc.Write(goorg.NewOrgWriter())
	if err != nil {
		return "", fmt.Errorf("render org: %w", err)
	}
	return strings.TrimSpace(out) + "\n", nil
}

// orgInline swaps markdown code spans for Org verbatim markup.
func orgInline(s string) string {
	if strings.HasPrefix(s, "``") {
		return s
	}
	if i := strings.Index(s, "`"); i >= 0 {
		if j := strings.Index(s[i+1:], "`"); j >= 0 {
			return s[:i] + "~" + s[i+1:i+1+j] + "~" + s[i+2+j:]
		}
	}
	return s
}

func orgRow(cells []string) string {
	escaped := make([]string, len(cells))
	for i, c := range cells {
		escaped[i] = strings.ReplaceAll(c, "|", `\vert{}`)
	}
	return "| " + strings.Join(escaped, " | ") + " |"
}

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.Table, extension.Strikethrough, extension.Linkify),
	goldmark.WithParserOptions(parser.WithAutoHeadingID()),
)

// HTML renders the report in format and converts it to an HTML fragment.
func (r *Report) HTML(format Format) (string, error) {
	body, err := r.Render(format)
	if err != nil {
		return "", err
	}
	switch format {
	case FormatOrg:
		doc := goorg.New().Parse(strings.NewReader(body), "")
		out, err := doc.Write(goorg.NewHTMLWriter())
		if err != nil {
			return "", fmt.Errorf("org to html: %w", err)
		}
		return out, nil
	default:
		return MarkdownToHTML(body)
	}
}

// MarkdownToHTML converts Markdown with table and strikethrough support.
func MarkdownToHTML(body string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(body), &buf); err != nil {
		return "", fmt.Errorf("markdown to html: %w", err)
	}
	return buf.String(), nil
}
