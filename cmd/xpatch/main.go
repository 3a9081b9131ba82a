// Command xpatch inspects merged definition XML and simulates patch operations
// against it.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/atlas-foundry/xpatch-go/diagnose"
	"github.com/atlas-foundry/xpatch-go/export"
	"github.com/atlas-foundry/xpatch-go/internal/config"
	"github.com/atlas-foundry/xpatch-go/internal/logging"
	"github.com/atlas-foundry/xpatch-go/loader"
	"github.com/atlas-foundry/xpatch-go/patch"
	"github.com/atlas-foundry/xpatch-go/profile"
	"github.com/atlas-foundry/xpatch-go/session"
	"github.com/atlas-foundry/xpatch-go/xmldoc"
)

// app carries what every subcommand shares once the root has run.
type app struct {
	cfgPath string
	envFile string
	dirs    []string
	verbose bool
	noColor bool
	timeout time.Duration

	cfg     *config.Config
	logger  *zap.Logger
	history *profile.Store
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(&app{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "xpatch",
		Short: "Inspect definition XML and simulate patch operations",
		Long: `xpatch merges the Defs folders of one or more content packages into a single
document, then lets you query it with XPath, profile queries, and preview what a
patch operation would do before shipping it.

Sources come from xpatch.yaml, XPATCH_SOURCES, or repeated --source flags.

Run "xpatch console" for the interactive view.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgPath, "config", "c", config.DefaultPath, "Config file")
	flags.StringVar(&a.envFile, "env-file", ".env", "Environment file loaded before the config")
	flags.StringSliceVarP(&a.dirs, "source", "s", nil, "Content package directory (repeatable, overrides config)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	flags.BoolVar(&a.noColor, "no-color", false, "Render XML without color")
	flags.DurationVar(&a.timeout, "timeout", 2*time.Minute, "Load timeout")

	root.AddCommand(
		newQueryCmd(a),
		newProfileCmd(a),
		newSimulateCmd(a),
		newOpsCmd(a),
		newExportCmd(a),
		newConsoleCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	if err := config.LoadEnvFile(a.envFile); err != nil {
		return err
	}
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	if len(a.dirs) > 0 {
		cfg.Sources = loader.SourcesFromDirs(a.dirs...)
	}
	if a.verbose {
		cfg.Logging.Level = "debug"
	}
	if a.noColor {
		cfg.Theme.Color = false
	}
	logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, JSON: cfg.Logging.JSON, File: cfg.Logging.File})
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	return nil
}

func (a *app) close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn("closing profile history", zap.Error(err))
		}
		a.history = nil
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// openHistory opens the profile database once. A blank path disables history.
func (a *app) openHistory() (*profile.Store, error) {
	if a.history != nil || a.cfg.Profile.HistoryDB == "" {
		return a.history, nil
	}
	store, err := profile.OpenStore(a.cfg.Profile.HistoryDB)
	if err != nil {
		return nil, err
	}
	a.history = store
	return store, nil
}

func (a *app) newSession(withHistory bool) (*session.Session, error) {
	if len(a.cfg.Sources) == 0 {
		return nil, fmt.Errorf("%w: pass --source or set sources in %s", loader.ErrNoSources, a.cfgPath)
	}
	var history *profile.Store
	if withHistory {
		var err error
		if history, err = a.openHistory(); err != nil {
			return nil, err
		}
	}
	return session.New(session.Config{
		Sources:  a.cfg.Sources,
		Loader:   &loader.Loader{Logger: a.logger, Strict: a.cfg.Strict},
		Registry: patch.DefaultRegistry,
		Engine:   diagnose.NewEngine(diagnose.WithLogger(a.logger), diagnose.WithFieldPairs(a.cfg.Diagnostics.FieldPairs)),
		Summary:  a.cfg.SummaryOptions(),
		History:  history,
		Logger:   a.logger,
	}), nil
}

// loadSession builds a session and blocks until its first regeneration finishes.
func (a *app) loadSession(ctx context.Context, withHistory bool) (*session.Session, error) {
	s, err := a.newSession(withHistory)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if _, err := s.Regenerate(ctx, nil, nil); err != nil {
		return nil, err
	}
	if err := s.Wait(ctx); err != nil {
		return nil, err
	}
	if err := s.LoadError(); err != nil {
		return nil, fmt.Errorf("load definitions: %w", err)
	}
	doc, err := s.Document()
	if err != nil {
		return nil, err
	}
	a.logger.Debug("definitions loaded", zap.Int("sources", len(a.cfg.Sources)), zap.Int("nodes", doc.Count()))
	return s, nil
}

// sink returns the S3 sink when configured and the export directory otherwise.
func (a *app) sink() (export.Sink, error) {
	if a.cfg.Export.S3.Enabled() {
		return export.NewS3Sink(a.cfg.Export.S3)
	}
	return export.FileSink{Dir: a.cfg.Export.Dir}, nil
}

// readOperation decodes the operation in an XML file, or stdin for "-". A <Patch>
// holding several operations becomes one Sequence over them.
func readOperation(path string, stdin io.Reader) (patch.Operation, error) {
	var (
		doc *xmldoc.Document
		err error
	)
	if path == "-" {
		doc, err = xmldoc.ParseReader(stdin)
	} else {
		doc, err = xmldoc.ParseFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read operation: %w", err)
	}
	ops, err := patch.DefaultRegistry.DecodeDocument(doc)
	if err != nil {
		return nil, err
	}
	switch len(ops) {
	case 0:
		return nil, fmt.Errorf("no operations found in %s", path)
	case 1:
		return ops[0], nil
	}
	seq := patch.NewSequence(patch.DefaultRegistry)
	c := xmldoc.ContainerOf(doc.DocumentElement().ElementChildren()...)
	if err := seq.Set("operations", patch.Fragment(c)); err != nil {
		return nil, err
	}
	return seq, nil
}

// buildOperation returns the operation in path, or a fresh kind with sets applied.
func buildOperation(path, kind string, sets []string, stdin io.Reader) (patch.Operation, error) {
	if path != "" {
		return readOperation(path, stdin)
	}
	if kind == "" {
		return nil, errors.New("either --op or --kind is required")
	}
	op, err := patch.DefaultRegistry.New(kind)
	if err != nil {
		return nil, err
	}
	for _, s := range sets {
		name, text, ok := strings.Cut(s, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("--set %q: want name=value", s)
		}
		if err := setFieldText(op, name, text); err != nil {
			return nil, err
		}
	}
	return op, nil
}

func setFieldText(op patch.Operation, name, text string) error {
	for _, f := range op.Fields() {
		if f.Name != name {
			continue
		}
		v, err := patch.ParseValue(f, text)
		if err != nil {
			return err
		}
		return op.Set(name, v)
	}
	return &patch.FieldError{Kind: op.Kind(), Field: name, Err: patch.ErrUnknownField}
}
