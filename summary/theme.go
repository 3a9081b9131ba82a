package summary

import "github.com/charmbracelet/lipgloss"

// Theme decorates the pieces of a summary line.
type Theme interface {
	Node(s string) string
	AttrName(s string) string
	AttrValue(s string) string
	Text(s string) string
	Comment(s string) string
}

// PlainTheme leaves text undecorated.
type PlainTheme struct{}

func (PlainTheme) Node(s string) string      { return s }
func (PlainTheme) AttrName(s string) string  { return s }
func (PlainTheme) AttrValue(s string) string { return s }
func (PlainTheme) Text(s string) string      { return s }
func (PlainTheme) Comment(s string) string   { return s }

// Palette lists the colors used for each syntax part as hex strings.
type Palette struct {
	Node      string `yaml:"node"`
	AttrName  string `yaml:"attribute_name"`
	AttrValue string `yaml:"attribute_value"`
	Text      string `yaml:"text"`
	Comment   string `yaml:"comment"`
}

// Default palette colors.
const (
	LightBlue = "#3CBEF0"
	Salmon    = "#FF9473"
	Pink      = "#E368D3"
	White     = "#FFFFFF"
	Green     = "#009632"
)

// DefaultPalette returns the stock colors.
func DefaultPalette() Palette {
	return Palette{Node: LightBlue, AttrName: Salmon, AttrValue: Pink, Text: White, Comment: Green}
}

// withDefaults fills blank entries from the default palette.
func (p Palette) withDefaults() Palette {
	d := DefaultPalette()
	if p.Node == "" {
		p.Node = d.Node
	}
	if p.AttrName == "" {
		p.AttrName = d.AttrName
	}
	if p.AttrValue == "" {
		p.AttrValue = d.AttrValue
	}
	if p.Text == "" {
		p.Text = d.Text
	}
	if p.Comment == "" {
		p.Comment = d.Comment
	}
	return p
}

// ColorTheme renders each part with a lipgloss foreground color.
type ColorTheme struct {
	node, attrName, attrValue, text, comment lipgloss.Style
}

// NewColorTheme builds a ColorTheme from a palette; blank entries use the defaults.
func NewColorTheme(p Palette) ColorTheme {
	p = p.withDefaults()
	style := func(hex string) lipgloss.Style {
		return lipgloss.NewStyle().Foreground(lipgloss.Color(hex))
	}
	return ColorTheme{
		node:      style(p.Node),
		attrName:  style(p.AttrName),
		attrValue: style(p.AttrValue),
		text:      style(p.Text),
		comment:   style(p.Comment),
	}
}

func (t ColorTheme) Node(s string) string      { return t.node.Render(s) }
func (t ColorTheme) AttrName(s string) string  { return t.attrName.Render(s) }
func (t ColorTheme) AttrValue(s string) string { return t.attrValue.Render(s) }
func (t ColorTheme) Text(s string) string      { return t.text.Render(s) }
func (t ColorTheme) Comment(s string) string   { return t.comment.Render(s) }
