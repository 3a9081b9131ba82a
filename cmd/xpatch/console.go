package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/atlas-foundry/xpatch-go/export"
	"github.com/atlas-foundry/xpatch-go/patch"
	"github.com/atlas-foundry/xpatch-go/profile"
	"github.com/atlas-foundry/xpatch-go/session"
	"github.com/atlas-foundry/xpatch-go/summary"
	"github.com/atlas-foundry/xpatch-go/task"
	"github.com/atlas-foundry/xpatch-go/xmldoc"
)

const consoleHelp = `Enter runs the query in the input line. Lines starting with ":" are commands.

  :kind <Kind>        stage an operation kind (Tab cycles kinds)
  :set <field>=<v>    set a field of the staged operation
  :op                 show the staged operation as patch XML
  :sim                simulate the staged operation (Ctrl+S)
  :use <n>            run suggestion n
  :profile            profile the query in the input line (Ctrl+P)
  :export [op]        export the last matches, or the staged operation
  :reload             reload definitions (Ctrl+R)
  :help               this text

Esc cancels a running profile. PgUp/PgDn scroll. Ctrl+C quits.`

// Messages delivered from background work.
type (
	loadedMsg       struct{ doc *xmldoc.Document }
	loadFailedMsg   struct{ err error }
	profiledMsg     struct{ res profile.Result }
	profileErrorMsg struct{ err error }
)

type consoleStyles struct {
	header  lipgloss.Style
	badge   lipgloss.Style
	ok      lipgloss.Style
	warn    lipgloss.Style
	err     lipgloss.Style
	muted   lipgloss.Style
	content lipgloss.Style
	input   lipgloss.Style
}

func defaultConsoleStyles() consoleStyles {
	accent := lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7D79F6"}
	return consoleStyles{
		header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(accent).Padding(0, 1),
		badge:   lipgloss.NewStyle().Foreground(accent).Bold(true),
		ok:      lipgloss.NewStyle().Foreground(lipgloss.Color("#43BF6D")),
		warn:    lipgloss.NewStyle().Foreground(lipgloss.Color("#E8B931")),
		err:     lipgloss.NewStyle().Foreground(lipgloss.Color("#E05252")),
		muted:   lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#8A8A8A", Dark: "#6C6C6C"}),
		content: lipgloss.NewStyle().Padding(0, 1),
		input:   lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(accent).Padding(0, 1),
	}
}

type consoleModel struct {
	ctx    context.Context
	s      *session.Session
	events chan tea.Msg
	logger *zap.Logger

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	styles   consoleStyles

	view     summary.Options
	profOpts profile.Options
	sink     func() (export.Sink, error)

	width, height int
	ready         bool
	status        string
	err           error
	output        string
}

func newConsoleCmd(a *app) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Interactive query console with patch simulation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("watch") {
				a.cfg.Watch.Enabled = watch
			}
			return runConsole(cmd.Context(), a)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Reload when definition files change")
	return cmd
}

func runConsole(ctx context.Context, a *app) error {
	// the TUI owns the terminal; keep logs off it unless a file is configured
	if a.cfg.Logging.File == "" {
		a.logger = zap.NewNop()
	}
	s, err := a.newSession(true)
	if err != nil {
		return err
	}
	opts, err := a.cfg.ProfileOptions()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := newConsoleModel(ctx, s, a.cfg.SummaryOptions(), opts, a.sink)
	m.logger = a.logger
	if a.cfg.Watch.Enabled {
		debounce, err := a.cfg.WatchDebounce()
		if err != nil {
			return err
		}
		w, err := session.NewWatcher(s, debounce)
		if err != nil {
			return err
		}
		w.OnReload = func(doc *xmldoc.Document, err error) {
			if err != nil {
				m.post(loadFailedMsg{err})
				return
			}
			m.post(loadedMsg{doc})
		}
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Warn("watcher stopped", zap.Error(err))
			}
		}()
	}

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	s.CancelProfile()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func newConsoleModel(ctx context.Context, s *session.Session, view summary.Options, profOpts profile.Options, sink func() (export.Sink, error)) consoleModel {
	styles := defaultConsoleStyles()

	ti := textinput.New()
	ti.Placeholder = `XPath query, e.g. /Defs/ThingDef[defName="Gun_Revolver"]  (:help for commands)`
	ti.Prompt = "│ "
	ti.CharLimit = 4096
	ti.Width = 80
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.warn

	vp := viewport.New(80, 20)

	return consoleModel{
		ctx:      ctx,
		s:        s,
		events:   make(chan tea.Msg, 16),
		logger:   zap.NewNop(),
		input:    ti,
		viewport: vp,
		spinner:  sp,
		styles:   styles,
		view:     view,
		profOpts: profOpts,
		sink:     sink,
		output:   consoleHelp,
	}
}

// post hands a background result to the event loop.
func (m consoleModel) post(msg tea.Msg) {
	select {
	case m.events <- msg:
	case <-m.ctx.Done():
	}
}

// listen waits for the next background result.
func (m consoleModel) listen() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-m.events:
			return msg
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m consoleModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.listen(), m.regenerate())
}

func (m consoleModel) regenerate() tea.Cmd {
	return func() tea.Msg {
		_, err := m.s.Regenerate(m.ctx,
			func(doc *xmldoc.Document) { m.post(loadedMsg{doc}) },
			func(err error) { m.post(loadFailedMsg{err}) },
		)
		if errors.Is(err, task.ErrBusy) {
			return nil
		}
		if err != nil {
			return loadFailedMsg{err}
		}
		return nil
	}
}

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.s.CancelProfile()
			return m, tea.Quit
		case tea.KeyEsc:
			if m.s.CancelProfile() {
				m.status = "profile cancelled"
			}
			return m, nil
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			if strings.HasPrefix(line, ":") {
				m.input.SetValue("")
				return m.command(strings.TrimSpace(line[1:]))
			}
			return m.runQuery(line), nil
		case tea.KeyCtrlR:
			m.status = "reloading definitions"
			return m, m.regenerate()
		case tea.KeyCtrlP:
			return m.startProfile(strings.TrimSpace(m.input.Value()))
		case tea.KeyCtrlS:
			return m.simulate(), nil
		case tea.KeyTab:
			return m.cycleKind(), nil
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		headerHeight, inputHeight, footerHeight := 2, 3, 2
		m.viewport.Width = max(msg.Width-2, 10)
		m.viewport.Height = max(msg.Height-headerHeight-inputHeight-footerHeight, 3)
		m.input.Width = max(msg.Width-6, 10)
		m.ready = true
		m.viewport.SetContent(m.output)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case loadedMsg:
		m.err = nil
		m.status = fmt.Sprintf("loaded %d nodes", msg.doc.Count())
		if q := strings.TrimSpace(m.input.Value()); q != "" && !strings.HasPrefix(q, ":") {
			m = m.runQuery(q)
		}
		cmds = append(cmds, m.listen())

	case loadFailedMsg:
		m.err = msg.err
		m.status = ""
		cmds = append(cmds, m.listen())

	case profiledMsg:
		m.err = nil
		m.status = fmt.Sprintf("profiled %d runs", msg.res.SamplesRun)
		m.setOutput(msg.res.Report())
		cmds = append(cmds, m.listen())

	case profileErrorMsg:
		m.err = msg.err
		m.status = ""
		cmds = append(cmds, m.listen())
	}

	return m, tea.Batch(cmds...)
}

func (m *consoleModel) setOutput(s string) {
	m.output = s
	m.viewport.SetContent(s)
	m.viewport.GotoTop()
}

func (m consoleModel) fail(err error) consoleModel {
	m.err = err
	m.status = ""
	return m
}

func (m consoleModel) runQuery(q string) consoleModel {
	if q == "" {
		return m
	}
	if !m.s.Ready() {
		m.status = "definitions are not loaded yet"
		return m
	}
	var sb strings.Builder
	if err := runQuery(&sb, m.s, q, queryFlags{format: formatText}, m.view); err != nil {
		return m.fail(err)
	}
	m.err = nil
	m.status = ""
	m.setOutput(sb.String())
	return m
}

func (m consoleModel) showQuery(res session.QueryResult) consoleModel {
	var sb strings.Builder
	if err := writeText(&sb, res, nil, m.view); err != nil {
		return m.fail(err)
	}
	m.err = nil
	m.status = ""
	m.setOutput(sb.String())
	return m
}

func (m consoleModel) startProfile(q string) (tea.Model, tea.Cmd) {
	if q == "" || strings.HasPrefix(q, ":") {
		m.status = "type a query to profile"
		return m, nil
	}
	_, err := m.s.ProfileAsync(m.ctx, q, m.profOpts,
		func(res profile.Result) { m.post(profiledMsg{res}) },
		func(err error) { m.post(profileErrorMsg{err}) },
	)
	if err != nil {
		return m.fail(err), nil
	}
	m.err = nil
	m.status = "profiling " + q
	return m, nil
}

func (m consoleModel) simulate() consoleModel {
	res, err := m.s.Simulate()
	if err != nil {
		return m.fail(err)
	}
	var sb strings.Builder
	if err := writeSimulation(&sb, res, formatText); err != nil {
		return m.fail(err)
	}
	if !res.Success {
		before, after := "", ""
		if res.Before != "" {
			before = "\nBefore:\n" + res.Before
		}
		if res.After != "" {
			after = "\nAfter:\n" + res.After
		}
		sb.WriteString(before + after)
	}
	m.err = nil
	m.status = "simulated " + res.Kind
	m.setOutput(sb.String())
	return m
}

func (m consoleModel) cycleKind() consoleModel {
	kinds := m.s.Kinds()
	if len(kinds) == 0 {
		return m
	}
	next := kinds[0]
	if op := m.s.Operation(); op != nil {
		for i, k := range kinds {
			if k == op.Kind() {
				next = kinds[(i+1)%len(kinds)]
				break
			}
		}
	}
	if err := m.s.SelectKind(next); err != nil {
		return m.fail(err)
	}
	return m.showOperation()
}

func (m consoleModel) showOperation() consoleModel {
	op := m.s.Operation()
	if op == nil {
		return m.fail(session.ErrNoOperation)
	}
	var sb strings.Builder
	if err := writeDescriptors(&sb, []patch.Descriptor{{Kind: op.Kind(), Fields: op.Fields()}}); err != nil {
		return m.fail(err)
	}
	if data, err := export.Operation(op, export.DefaultOptions()); err == nil {
		sb.WriteString("\n")
		sb.Write(data)
	}
	m.err = nil
	m.status = "staged " + op.Kind()
	m.setOutput(sb.String())
	return m
}

func (m consoleModel) command(line string) (tea.Model, tea.Cmd) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "help", "":
		m.setOutput(consoleHelp)
		return m, nil
	case "kind":
		if err := m.s.SelectKind(arg); err != nil {
			return m.fail(err), nil
		}
		return m.showOperation(), nil
	case "set":
		field, text, ok := strings.Cut(arg, "=")
		if !ok {
			return m.fail(fmt.Errorf("usage: :set field=value")), nil
		}
		field = strings.TrimSpace(field)
		if err := m.s.SetFieldText(field, text); err != nil {
			return m.fail(err), nil
		}
		if field == session.XPathField {
			// setting xpath already re-ran the query
			if res, ok := m.s.LastQuery(); ok && res.Query == text {
				m.input.SetValue(text)
				return m.showQuery(res), nil
			}
		}
		return m.showOperation(), nil
	case "op":
		return m.showOperation(), nil
	case "sim":
		return m.simulate(), nil
	case "use":
		return m.useSuggestion(arg), nil
	case "profile":
		q := arg
		if q == "" {
			if res, ok := m.s.LastQuery(); ok {
				q = res.Query
			}
		}
		return m.startProfile(q)
	case "export":
		return m.export(arg), nil
	case "reload":
		m.status = "reloading definitions"
		return m, m.regenerate()
	}
	return m.fail(fmt.Errorf("unknown command :%s", name)), nil
}

func (m consoleModel) useSuggestion(arg string) consoleModel {
	res, ok := m.s.LastQuery()
	if !ok || len(res.Suggestions) == 0 {
		m.status = "no suggestions"
		return m
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(res.Suggestions) {
		return m.fail(fmt.Errorf("suggestion must be 1-%d", len(res.Suggestions)))
	}
	q := res.Suggestions[n-1].CorrectedQuery
	m.input.SetValue(q)
	return m.runQuery(q)
}

func (m consoleModel) export(arg string) consoleModel {
	var (
		name string
		data []byte
		err  error
	)
	switch arg {
	case "op":
		op := m.s.Operation()
		if op == nil {
			return m.fail(session.ErrNoOperation)
		}
		name = export.DefaultOperationFile
		data, err = export.Operation(op, export.DefaultOptions())
	case "":
		res, ok := m.s.LastQuery()
		if !ok {
			return m.fail(export.ErrNothingToExport)
		}
		name = export.DefaultMatchesFile
		data, err = export.Matches(res.Matches, export.DefaultOptions())
	default:
		return m.fail(fmt.Errorf("usage: :export [op]"))
	}
	if err != nil {
		return m.fail(err)
	}
	sink, err := m.sink()
	if err != nil {
		return m.fail(err)
	}
	where, err := sink.Put(m.ctx, name, data)
	if err != nil {
		return m.fail(err)
	}
	m.logger.Info("exported", zap.String("name", name), zap.String("location", where))
	m.err = nil
	m.status = "exported to " + where
	return m
}

func (m consoleModel) View() string {
	if !m.ready {
		return "Initializing..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.styles.content.Render(m.viewport.View()),
		m.styles.input.Render(m.input.View()),
		m.renderFooter(),
	)
}

func (m consoleModel) renderHeader() string {
	var state string
	switch {
	case m.s.Regenerating():
		state = m.styles.warn.Render(m.spinner.View() + " Loading")
	case m.s.Ready():
		state = m.styles.ok.Render("● Ready")
	default:
		state = m.styles.err.Render("● Not loaded")
	}
	kind := "no operation"
	if op := m.s.Operation(); op != nil {
		kind = op.Kind()
	}
	line := lipgloss.JoinHorizontal(lipgloss.Center,
		m.styles.header.Render("xpatch"), "  ", state, "  ", m.styles.badge.Render(kind))
	if m.s.Profiling() {
		line += "  " + m.styles.warn.Render(m.spinner.View()+" Profiling")
	}
	return line + "\n"
}

func (m consoleModel) renderFooter() string {
	switch {
	case m.err != nil:
		return m.styles.err.Render("Error: " + m.err.Error())
	case m.status != "":
		return m.styles.muted.Render(m.status)
	}
	return m.styles.muted.Render("Enter: query • Ctrl+P: profile • Ctrl+S: simulate • Tab: next kind • Ctrl+R: reload • :help • Ctrl+C: quit")
}
