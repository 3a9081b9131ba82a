package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/atlas-foundry/xpatch-go/diagnose"
	"github.com/atlas-foundry/xpatch-go/export"
	"github.com/atlas-foundry/xpatch-go/report"
	"github.com/atlas-foundry/xpatch-go/session"
	"github.com/atlas-foundry/xpatch-go/summary"
	"github.com/atlas-foundry/xpatch-go/xmldoc"
)

// Output formats shared by the query, simulate and profile commands.
const (
	formatText     = "text"
	formatMarkdown = "markdown"
	formatOrg      = "org"
	formatHTML     = "html"
	formatDot      = "dot"
	formatJSON     = "json"
	formatXML      = "xml"
)

type queryFlags struct {
	format string
	pretty bool
}

func newQueryCmd(a *app) *cobra.Command {
	var f queryFlags
	cmd := &cobra.Command{
		Use:   "query <xpath>",
		Short: "Run an XPath query against the merged definitions",
		Long: `Runs the query, prints a bounded rendering of the matches, and suggests
corrected queries when nothing matched.

Formats: text (default), markdown, org, html, dot (Graphviz), json, xml.

Example:
  xpatch query -s ~/RimWorld/Data/Core '/Defs/ThingDef[defName="Gun_Revolver"]/label'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.loadSession(cmd.Context(), false)
			if err != nil {
				return err
			}
			return runQuery(cmd.OutOrStdout(), s, args[0], f, a.cfg.SummaryOptions())
		},
	}
	cmd.Flags().StringVarP(&f.format, "format", "f", formatText, "Output format")
	cmd.Flags().BoolVar(&f.pretty, "pretty", false, "Render markdown output for the terminal")
	return cmd
}

func runQuery(w io.Writer, s *session.Session, q string, f queryFlags, view summary.Options) error {
	res, err := s.Query(q)
	var invalid error
	if err != nil {
		if !errors.Is(err, xmldoc.ErrInvalidQuery) {
			return err
		}
		invalid = err
	}
	switch f.format {
	case formatText, "":
		return writeText(w, res, invalid, view)
	case formatMarkdown, "md", formatOrg:
		format, err := report.ParseFormat(f.format)
		if err != nil {
			return err
		}
		out, err := report.Diagnosis(res.Result, plainSummary(res, view), invalid).Render(format)
		if err != nil {
			return err
		}
		if f.pretty && format == report.FormatMarkdown {
			if out, err = renderTerminal(out); err != nil {
				return err
			}
		}
		_, err = io.WriteString(w, out)
		return err
	case formatHTML:
		html, err := report.Diagnosis(res.Result, plainSummary(res, view), invalid).HTML(report.FormatMarkdown)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, html)
		return err
	}
	if invalid != nil {
		return invalid
	}
	switch f.format {
	case formatDot:
		_, err = w.Write(report.Graph(res.Matches, report.GraphOptions{}))
	case formatJSON:
		var data []byte
		if data, err = export.JSON(res.Matches); err == nil {
			_, err = w.Write(append(data, '\n'))
		}
	case formatXML:
		var data []byte
		data, err = export.Matches(res.Matches, export.DefaultOptions())
		if errors.Is(err, export.ErrNothingToExport) {
			return nil
		}
		if err == nil {
			_, err = w.Write(data)
		}
	default:
		err = fmt.Errorf("unknown format %q", f.format)
	}
	return err
}

// writeText prints the console view: header comment, rendered matches, suggestions.
func writeText(w io.Writer, res session.QueryResult, invalid error, view summary.Options) error {
	var sb strings.Builder
	if invalid != nil {
		fmt.Fprintf(&sb, "%s: %v\n", diagnose.InvalidQueryMessage, invalid)
	} else {
		sb.WriteString(summary.Header(len(res.Matches), res.Elapsed, view))
		sb.WriteString(res.Summary)
	}
	if len(res.Suggestions) > 0 {
		sb.WriteString("\n" + diagnose.SuggestionHeading + "\n")
		for i, sg := range res.Suggestions {
			fmt.Fprintf(&sb, "  %d. %s\n", i+1, sg)
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// plainSummary re-renders the matches without color for document formats.
func plainSummary(res session.QueryResult, view summary.Options) string {
	view.Theme = summary.PlainTheme{}
	return summary.Summarize(res.Matches, view)
}

func renderTerminal(markdown string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return "", err
	}
	return r.Render(markdown)
}
