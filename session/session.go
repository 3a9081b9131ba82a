// Package session holds the live document and the staged patch operation behind an
// interactive surface, and runs loading and profiling as background tasks.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/atlas-foundry/xpatch-go/diagnose"
	"github.com/atlas-foundry/xpatch-go/loader"
	"github.com/atlas-foundry/xpatch-go/patch"
	"github.com/atlas-foundry/xpatch-go/profile"
	"github.com/atlas-foundry/xpatch-go/summary"
	"github.com/atlas-foundry/xpatch-go/task"
	"github.com/atlas-foundry/xpatch-go/xmldoc"
)

var (
	// ErrNotReady is returned while no document is published.
	ErrNotReady = errors.New("document not ready")
	// ErrNoOperation is returned when no operation kind is selected.
	ErrNoOperation = errors.New("no operation selected")
)

// XPathField is the field whose edits re-run the query.
const XPathField = "xpath"

// DocumentLoader produces the merged document. *loader.Loader satisfies it.
type DocumentLoader interface {
	Load(ctx context.Context, sources []loader.Source) (*xmldoc.Document, error)
}

// Config wires a Session. Nil collaborators get package defaults.
type Config struct {
	Sources   []loader.Source
	Loader    DocumentLoader
	Registry  *patch.Registry
	Engine    *diagnose.Engine
	Simulator *patch.Simulator
	Profiler  *profile.Profiler
	Summary   summary.Options
	// History, when set, records every finished profile run.
	History *profile.Store
	Logger  *zap.Logger
}

// QueryResult is a diagnosed query with its matches rendered.
type QueryResult struct {
	diagnose.Result
	Summary   string
	Truncated bool
}

// Session is safe for concurrent use through its methods. The published document is
// never mutated. The value returned by Operation is shared: change it through SetField
// or SetFieldText, or only from the goroutine that drives the session.
type Session struct {
	cfg    Config
	logger *zap.Logger

	regen *task.Slot[*xmldoc.Document]
	prof  *task.Slot[profile.Result]

	// opMu serializes field writes with simulation of the staged operation.
	opMu sync.Mutex

	mu        sync.RWMutex
	doc       *xmldoc.Document
	loadErr   error
	ops       map[string]patch.Operation
	kinds     []string
	current   string
	lastQuery *QueryResult
}

// New builds a session and creates one operation instance per registered kind.
func New(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Loader == nil {
		cfg.Loader = &loader.Loader{Logger: cfg.Logger}
	}
	if cfg.Registry == nil {
		cfg.Registry = patch.DefaultRegistry
	}
	if cfg.Engine == nil {
		cfg.Engine = diagnose.NewEngine(diagnose.WithLogger(cfg.Logger))
	}
	if cfg.Simulator == nil {
		cfg.Simulator = patch.NewSimulator(patch.WithSummaryOptions(cfg.Summary), patch.WithSimLogger(cfg.Logger))
	}
	if cfg.Profiler == nil {
		cfg.Profiler = profile.New(profile.WithLogger(cfg.Logger))
	}
	s := &Session{
		cfg:    cfg,
		logger: cfg.Logger,
		regen:  task.NewSlot[*xmldoc.Document]("regenerate", cfg.Logger),
		prof:   task.NewSlot[profile.Result]("profile", cfg.Logger),
		ops:    make(map[string]patch.Operation),
	}
	for _, op := range cfg.Registry.Instances() {
		s.ops[op.Kind()] = op
		s.kinds = append(s.kinds, op.Kind())
	}
	return s
}

// Sources returns the configured content packages.
func (s *Session) Sources() []loader.Source { return s.cfg.Sources }

// Ready reports whether a document is published and no regeneration is running.
func (s *Session) Ready() bool {
	if s.regen.InProgress() {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc != nil
}

// Regenerating reports whether a load is in flight.
func (s *Session) Regenerating() bool { return s.regen.InProgress() }

// LoadError is the error of the last failed regeneration, cleared on success.
func (s *Session) LoadError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadErr
}

// Document returns the published document.
func (s *Session) Document() (*xmldoc.Document, error) {
	if s.regen.InProgress() {
		return nil, ErrNotReady
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc == nil {
		return nil, ErrNotReady
	}
	return s.doc, nil
}

// Regenerate reloads every source in the background. On failure the previous document
// is withdrawn so the session stays not ready until a later load succeeds. The outcome
// is published before the load stops counting as in progress. Starting while a load is
// running returns task.ErrBusy.
func (s *Session) Regenerate(ctx context.Context, onDone func(*xmldoc.Document), onErr func(error)) (string, error) {
	return s.regen.Start(ctx,
		func(ctx context.Context) (*xmldoc.Document, error) {
			doc, err := s.cfg.Loader.Load(ctx, s.cfg.Sources)
			s.mu.Lock()
			if err != nil {
				s.doc, s.loadErr = nil, err
			} else {
				s.doc, s.loadErr = doc, nil
			}
			s.lastQuery = nil
			s.mu.Unlock()
			return doc, err
		},
		onDone,
		func(err error) {
			s.logger.Error("regeneration failed", zap.Error(err))
			if onErr != nil {
				onErr(err)
			}
		})
}

// Publish installs doc directly, bypassing the loader.
func (s *Session) Publish(doc *xmldoc.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc, s.loadErr, s.lastQuery = doc, nil, nil
}

// Query diagnoses q against the live document and renders its matches.
func (s *Session) Query(q string) (QueryResult, error) {
	doc, err := s.Document()
	if err != nil {
		return QueryResult{}, err
	}
	res, err := s.cfg.Engine.Diagnose(doc, q)
	if err != nil {
		return QueryResult{Result: res}, err
	}
	out := QueryResult{
		Result:    res,
		Summary:   summary.Summarize(res.Matches, s.cfg.Summary),
		Truncated: summary.Truncates(res.Matches, s.cfg.Summary),
	}
	s.mu.Lock()
	s.lastQuery = &out
	s.mu.Unlock()
	s.logger.Debug("query", zap.String("query", q), zap.Int("matches", len(res.Matches)),
		zap.Duration("elapsed", res.Elapsed), zap.Int("suggestions", len(res.Suggestions)))
	return out, nil
}

// LastQuery returns the most recent successful query, if any.
func (s *Session) LastQuery() (QueryResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastQuery == nil {
		return QueryResult{}, false
	}
	return *s.lastQuery, true
}

// Kinds lists the registered operation kinds in order.
func (s *Session) Kinds() []string {
	return append([]string(nil), s.kinds...)
}

// SelectKind makes kind the staged operation. Field values of each kind persist
// across selections.
func (s *Session) SelectKind(kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ops[kind]; !ok {
		return fmt.Errorf("%w: %s", patch.ErrUnknownKind, kind)
	}
	s.current = kind
	return nil
}

// Operation returns the staged operation, or nil.
func (s *Session) Operation() patch.Operation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ops[s.current]
}

// SetField assigns a field of the staged operation. Setting xpath re-runs the query
// when a document is ready; the query outcome does not affect the assignment.
func (s *Session) SetField(name string, v patch.Value) error {
	op := s.Operation()
	if op == nil {
		return ErrNoOperation
	}
	s.opMu.Lock()
	err := op.Set(name, v)
	s.opMu.Unlock()
	if err != nil {
		return err
	}
	if name == XPathField && s.Ready() {
		if _, err := s.Query(v.Text()); err != nil {
			s.logger.Debug("xpath field query failed", zap.String("query", v.Text()), zap.Error(err))
		}
	}
	return nil
}

// SetFieldText parses text for the named field and assigns it.
func (s *Session) SetFieldText(name, text string) error {
	op := s.Operation()
	if op == nil {
		return ErrNoOperation
	}
	for _, f := range op.Fields() {
		if f.Name != name {
			continue
		}
		v, err := patch.ParseValue(f, text)
		if err != nil {
			return err
		}
		return s.SetField(name, v)
	}
	return &patch.FieldError{Kind: op.Kind(), Field: name, Err: patch.ErrUnknownField}
}

// Simulate runs the staged operation against a copy of the live document.
func (s *Session) Simulate() (patch.Result, error) {
	doc, err := s.Document()
	if err != nil {
		return patch.Result{}, err
	}
	op := s.Operation()
	if op == nil {
		return patch.Result{}, ErrNoOperation
	}
	s.opMu.Lock()
	res := s.cfg.Simulator.Simulate(doc, op)
	s.opMu.Unlock()
	s.logger.Debug("simulated", zap.String("kind", res.Kind), zap.String("query", res.Query),
		zap.Bool("success", res.Success), zap.Int("scope", res.Scope))
	return res, nil
}

// ProfileAsync profiles q in the background. The query is checked up front so a
// malformed one is reported synchronously. Finished runs are saved to History.
func (s *Session) ProfileAsync(ctx context.Context, q string, opts profile.Options, onDone func(profile.Result), onErr func(error)) (string, error) {
	doc, err := s.Document()
	if err != nil {
		return "", err
	}
	if err := xmldoc.CheckQuery(q); err != nil {
		return "", err
	}
	return s.prof.Start(ctx,
		func(ctx context.Context) (profile.Result, error) {
			res, err := s.cfg.Profiler.Profile(ctx, doc, q, opts)
			if err != nil {
				return res, err
			}
			if s.cfg.History != nil {
				if _, herr := s.cfg.History.Save(context.WithoutCancel(ctx), res); herr != nil {
					s.logger.Warn("saving profile run", zap.String("query", q), zap.Error(herr))
				}
			}
			return res, nil
		}, onDone, onErr)
}

// Profiling reports whether a profile run is in flight.
func (s *Session) Profiling() bool { return s.prof.InProgress() }

// CancelProfile stops the in-flight profile run early.
func (s *Session) CancelProfile() bool { return s.prof.Cancel() }

// Wait blocks until background work and its callbacks have finished.
func (s *Session) Wait(ctx context.Context) error {
	if err := s.regen.Wait(ctx); err != nil {
		return err
	}
	return s.prof.Wait(ctx)
}
