// Package report renders query, simulation and profiling results as Markdown or Org
// documents, and converts them to HTML.
package report

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atlas-foundry/xpatch-go/diagnose"
	"github.com/atlas-foundry/xpatch-go/patch"
	"github.com/atlas-foundry/xpatch-go/profile"
)

// Format enumerates the text targets.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatOrg      Format = "org"
)

// ErrUnknownFormat is returned for formats other than markdown and org.
var ErrUnknownFormat = errors.New("unknown report format")

// ParseFormat accepts "markdown", "md" and "org", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "markdown", "md", "":
		return FormatMarkdown, nil
	case "org":
		return FormatOrg, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

type blockKind int

const (
	blockHeading blockKind = iota
	blockPara
	blockList
	blockCode
	blockTable
)

type block struct {
	kind  blockKind
	level int
	text  string
	lang  string
	items []string
	rows  [][]string
}

// Report is an ordered list of blocks with a title.
type Report struct {
	Title  string
	blocks []block
}

// New starts a report.
func New(title string) *Report { return &Report{Title: title} }

func (r *Report) Heading(text string) *Report {
	r.blocks = append(r.blocks, block{kind: blockHeading, level: 2, text: text})
	return r
}

func (r *Report) Para(format string, args ...any) *Report {
	r.blocks = append(r.blocks, block{kind: blockPara, text: fmt.Sprintf(format, args...)})
	return r
}

func (r *Report) List(items ...string) *Report {
	if len(items) > 0 {
		r.blocks = append(r.blocks, block{kind: blockList, items: items})
	}
	return r
}

// Code adds a fenced block. Empty bodies are skipped.
func (r *Report) Code(lang, body string) *Report {
	if strings.TrimSpace(body) != "" {
		r.blocks = append(r.blocks, block{kind: blockCode, lang: lang, text: strings.TrimRight(body, "\n")})
	}
	return r
}

// Table adds a table; the first row is the header.
func (r *Report) Table(rows ...[]string) *Report {
	if len(rows) > 0 {
		r.blocks = append(r.blocks, block{kind: blockTable, rows: rows})
	}
	return r
}

// Render writes the report in format.
func (r *Report) Render(format Format) (string, error) {
	switch format {
	case FormatMarkdown:
		return renderMarkdown(r), nil
	case FormatOrg:
		return renderOrg(r)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Diagnosis reports a query with its rendered matches and any suggestions.
func Diagnosis(res diagnose.Result, rendered string, queryErr error) *Report {
	r := New("Query")
	r.Code("xpath", res.Query)
	if queryErr != nil {
		r.Para("%s: %v", diagnose.InvalidQueryMessage, queryErr)
		return r
	}
	r.Table(
		[]string{"Matches", "Elapsed"},
		[]string{fmt.Sprint(len(res.Matches)), formatDuration(res.Elapsed)},
	)
	if len(res.Matches) > 0 {
		r.Heading("Matches").Code("xml", rendered)
	}
	if len(res.Suggestions) > 0 {
		items := make([]string, len(res.Suggestions))
		for i, s := range res.Suggestions {
			items[i] = fmt.Sprintf("%s (%s)", inlineCode(s.CorrectedQuery), s.Heuristic)
		}
		r.Heading("Suggestions").Para("%s", diagnose.SuggestionHeading).List(items...)
	}
	return r
}

// Simulation reports a simulated operation with its before/after views and diff.
func Simulation(res patch.Result) *Report {
	r := New("Simulation: " + res.Kind)
	r.Table(
		[]string{"Query", "Matches", "Scope", "Applied", "Success"},
		[]string{res.Query, fmt.Sprint(res.Matches), fmt.Sprint(res.Scope), yesNo(res.Applied), yesNo(res.Success)},
	)
	if res.Err != nil {
		r.Para("Error: %v", res.Err)
	}
	r.Heading("Before").Code("xml", res.Before)
	r.Heading("After").Code("xml", res.After)
	if res.Changed() {
		r.Heading("Diff").Code("diff", res.FormatDiff())
	} else {
		r.Heading("Diff").Para("No changes.")
	}
	return r
}

// Profile reports one profiling run.
func Profile(res profile.Result) *Report {
	r := New("Profile")
	r.Code("text", res.Report())
	r.Table(
		[]string{"Samples", "Matches", "Average", "Total", "Stop"},
		[]string{
			fmt.Sprintf("%d/%d", res.SamplesRun, res.SampleSize),
			fmt.Sprint(res.MatchCount),
			formatDuration(res.Average),
			formatDuration(res.Total),
			string(res.StopReason),
		},
	)
	return r
}

// History reports saved profiling runs, newest first.
func History(runs []profile.Run) *Report {
	r := New("Profile history")
	if len(runs) == 0 {
		return r.Para("No runs recorded.")
	}
	rows := [][]string{{"When", "Query", "Samples", "Average", "Stop", "Run"}}
	for _, run := range runs {
		rows = append(rows, []string{
			run.CreatedAt.UTC().Format(time.RFC3339),
			run.Query,
			fmt.Sprintf("%d/%d", run.SamplesRun, run.SampleSize),
			formatDuration(run.Average),
			string(run.StopReason),
			run.ID,
		})
	}
	return r.Table(rows...)
}

func formatDuration(d time.Duration) string {
	return d.Round(time.Microsecond).String()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func inlineCode(s string) string {
	if strings.Contains(s, "`") {
		return "``" + s + "``"
	}
	return "`" + s + "`"
}
