// Package loader merges the Defs XML of several content packages into one document.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/atlas-foundry/xpatch-go/xmldoc"
)

// DefsDir is the folder inside each source that holds definition files.
const DefsDir = "Defs"

// RootName is the element wrapping every merged definition.
const RootName = "Defs"

// ErrNoSources is returned when Load is called with nothing to read.
var ErrNoSources = errors.New("no sources to load")

// Source is one content package. Files are read from Dir/Defs/**/*.xml.
type Source struct {
	Name string `yaml:"name"`
	Dir  string `yaml:"dir"`
}

// SourcesFromDirs names each directory by its base name.
func SourcesFromDirs(dirs ...string) []Source {
	out := make([]Source, 0, len(dirs))
	for _, d := range dirs {
		out = append(out, Source{Name: filepath.Base(filepath.Clean(d)), Dir: d})
	}
	return out
}

// FileError reports a definition file that could not be parsed.
type FileError struct {
	Source string
	Path   string
	Err    error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("load %s (%s): %v", e.Path, e.Source, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// Loader reads sources in parallel. The zero value is usable.
type Loader struct {
	Logger *zap.Logger
	// Strict fails the whole load on the first unreadable file instead of skipping it.
	Strict bool
	// Concurrency bounds parallel parses; zero means GOMAXPROCS.
	Concurrency int
	Parse       xmldoc.ParseOptions
}

type file struct {
	source string
	path   string
}

// Stats summarizes one load.
type Stats struct {
	Files   int
	Skipped int
	Nodes   int
}

// Load parses every definition file and merges each file's top-level children,
// in source order then path order, under a single <Defs> element. No document is
// returned when the load fails.
func (l *Loader) Load(ctx context.Context, sources []Source) (*xmldoc.Document, error) {
	doc, _, err := l.LoadWithStats(ctx, sources)
	return doc, err
}

// LoadWithStats is Load plus counts of what was read.
func (l *Loader) LoadWithStats(ctx context.Context, sources []Source) (*xmldoc.Document, Stats, error) {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(sources) == 0 {
		return nil, Stats{}, ErrNoSources
	}
	files, err := collect(sources, logger)
	if err != nil {
		return nil, Stats{}, err
	}

	parsed := make([]*xmldoc.Document, len(files))
	g, gctx := errgroup.WithContext(ctx)
	limit := l.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(limit)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			doc, err := parseFile(f.path, l.Parse)
			if err != nil {
				ferr := &FileError{Source: f.source, Path: f.path, Err: err}
				if l.Strict {
					return ferr
				}
				logger.Warn("skipping definition file", zap.String("source", f.source), zap.String("path", f.path), zap.Error(err))
				return nil
			}
			parsed[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Stats{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, Stats{}, err
	}

	root := xmldoc.NewElement(RootName)
	stats := Stats{Files: len(files)}
	for _, doc := range parsed {
		if doc == nil {
			stats.Skipped++
			continue
		}
		el := doc.DocumentElement()
		if el == nil {
			continue
		}
		for _, c := range append([]*xmldoc.Node(nil), el.Children...) {
			root.AppendChild(c)
			if c.Kind == xmldoc.ElementNode {
				stats.Nodes++
			}
		}
	}
	logger.Info("definitions loaded",
		zap.Int("sources", len(sources)),
		zap.Int("files", stats.Files),
		zap.Int("skipped", stats.Skipped),
		zap.Int("defs", stats.Nodes))
	return xmldoc.NewDocument(root), stats, nil
}

func parseFile(path string, opts xmldoc.ParseOptions) (*xmldoc.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return xmldoc.ParseReaderWithOptions(f, opts)
}

// collect lists definition files per source, sorted by path within each source.
func collect(sources []Source, logger *zap.Logger) ([]file, error) {
	var out []file
	for _, src := range sources {
		dir := filepath.Join(src.Dir, DefsDir)
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			logger.Debug("source has no Defs folder", zap.String("source", src.Name), zap.String("dir", dir))
			continue
		}
		var paths []string
		err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".xml") {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", dir, err)
		}
		sort.Strings(paths)
		for _, p := range paths {
			out = append(out, file{source: src.Name, path: p})
		}
	}
	return out, nil
}
