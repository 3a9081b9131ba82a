// Package config loads xpatch settings from YAML, a .env file and XPATCH_* variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/atlas-foundry/xpatch-go/diagnose"
	"github.com/atlas-foundry/xpatch-go/export"
	"github.com/atlas-foundry/xpatch-go/loader"
	"github.com/atlas-foundry/xpatch-go/profile"
	"github.com/atlas-foundry/xpatch-go/summary"
)

// DefaultPath is the config file looked up in the working directory.
const DefaultPath = "xpatch.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "XPATCH_"

// Config holds all settings.
type Config struct {
	Sources     []loader.Source   `yaml:"sources"`
	Strict      bool              `yaml:"strict"`
	Summary     SummaryConfig     `yaml:"summary"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Profile     ProfileConfig     `yaml:"profile"`
	Export      ExportConfig      `yaml:"export"`
	Theme       ThemeConfig       `yaml:"theme"`
	Logging     LoggingConfig     `yaml:"logging"`
	Watch       WatchConfig       `yaml:"watch"`
}

// SummaryConfig bounds rendered query results.
type SummaryConfig struct {
	MaxDisplayedNodes    int      `yaml:"max_displayed_nodes"`
	MaxDepth             int      `yaml:"max_depth"`
	MaxChildren          int      `yaml:"max_children"`
	TextLimit            int      `yaml:"text_limit"`
	FullRenderChildLimit int      `yaml:"full_render_child_limit"`
	RootNames            []string `yaml:"root_names"`
	Indent               string   `yaml:"indent"`
}

// DiagnosticsConfig tunes the suggestion heuristics.
type DiagnosticsConfig struct {
	FieldPairs []diagnose.FieldPair `yaml:"field_pairs"`
}

// ProfileConfig sets profiler defaults and where runs are recorded.
type ProfileConfig struct {
	SampleSize int    `yaml:"sample_size"`
	TimeBudget string `yaml:"time_budget"`
	Adaptive   bool   `yaml:"adaptive"`
	MinSamples int    `yaml:"min_samples"`
	// HistoryDB is a SQLite path; empty disables history.
	HistoryDB string `yaml:"history_db"`
}

// ExportConfig chooses where exports are written.
type ExportConfig struct {
	Dir string          `yaml:"dir"`
	S3  export.S3Config `yaml:"s3"`
}

// ThemeConfig colors rendered XML. Color off renders plain text.
type ThemeConfig struct {
	Color   bool           `yaml:"color"`
	Palette summary.Palette `yaml:"palette"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	// File, when set, receives log output instead of stderr.
	File string `yaml:"file"`
}

// WatchConfig controls reloading when definition files change.
type WatchConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Debounce string `yaml:"debounce"`
}

// Default returns the stock configuration.
func Default() *Config {
	s := summary.DefaultOptions()
	p := profile.DefaultOptions()
	return &Config{
		Summary: SummaryConfig{
			MaxDisplayedNodes:    s.MaxDisplayedNodes,
			MaxDepth:             s.MaxDepth,
			MaxChildren:          s.MaxChildren,
			TextLimit:            s.TextLimit,
			FullRenderChildLimit: s.FullRenderChildLimit,
			RootNames:            s.RootNames,
			Indent:               s.Indent,
		},
		Diagnostics: DiagnosticsConfig{FieldPairs: diagnose.DefaultFieldPairs()},
		Profile: ProfileConfig{
			SampleSize: p.SampleSize,
			TimeBudget: p.TimeBudget.String(),
			Adaptive:   p.Adaptive,
			MinSamples: p.MinSamples,
			HistoryDB:  filepath.Join(".xpatch", "profile.db"),
		},
		Export:  ExportConfig{Dir: "exports"},
		Theme:   ThemeConfig{Color: true, Palette: summary.DefaultPalette()},
		Logging: LoggingConfig{Level: "info"},
		Watch:   WatchConfig{Debounce: "500ms"},
	}
}

// Load reads path over the defaults and applies environment overrides. A missing
// file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFile loads variables from a .env file without overriding the process
// environment. A missing file is ignored.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) applyEnv(getenv func(string) string) error {
	get := func(name string) (string, bool) {
		v := strings.TrimSpace(getenv(EnvPrefix + name))
		return v, v != ""
	}
	if v, ok := get("SOURCES"); ok {
		c.Sources = loader.SourcesFromDirs(filepath.SplitList(v)...)
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	if v, ok := get("HISTORY_DB"); ok {
		c.Profile.HistoryDB = v
	}
	if v, ok := get("PROFILE_BUDGET"); ok {
		c.Profile.TimeBudget = v
	}
	if v, ok := get("EXPORT_DIR"); ok {
		c.Export.Dir = v
	}
	if v, ok := get("S3_ENDPOINT"); ok {
		c.Export.S3.Endpoint = v
	}
	if v, ok := get("S3_REGION"); ok {
		c.Export.S3.Region = v
	}
	if v, ok := get("S3_BUCKET"); ok {
		c.Export.S3.Bucket = v
	}
	if v, ok := get("S3_ACCESS_KEY"); ok {
		c.Export.S3.AccessKey = v
	}
	if v, ok := get("S3_SECRET_KEY"); ok {
		c.Export.S3.SecretKey = v
	}
	for name, dst := range map[string]*bool{
		"STRICT":     &c.Strict,
		"LOG_JSON":   &c.Logging.JSON,
		"S3_USE_SSL": &c.Export.S3.UseSSL,
		"COLOR":      &c.Theme.Color,
		"WATCH":      &c.Watch.Enabled,
	} {
		if v, ok := get(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = b
		}
	}
	if v, ok := get("PROFILE_SAMPLES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sPROFILE_SAMPLES: %w", EnvPrefix, err)
		}
		c.Profile.SampleSize = n
	}
	return nil
}

// Validate checks durations and bounds.
func (c *Config) Validate() error {
	if _, err := c.ProfileOptions(); err != nil {
		return err
	}
	if _, err := c.WatchDebounce(); err != nil {
		return err
	}
	if c.Profile.SampleSize < 0 {
		return fmt.Errorf("profile.sample_size must not be negative")
	}
	for i, s := range c.Sources {
		if strings.TrimSpace(s.Dir) == "" {
			return fmt.Errorf("sources[%d]: dir is required", i)
		}
	}
	return nil
}

// SummaryOptions converts the summary section; zero values fall back to defaults.
func (c *Config) SummaryOptions() summary.Options {
	opts := summary.Options{
		MaxDisplayedNodes:    c.Summary.MaxDisplayedNodes,
		MaxDepth:             c.Summary.MaxDepth,
		MaxChildren:          c.Summary.MaxChildren,
		TextLimit:            c.Summary.TextLimit,
		FullRenderChildLimit: c.Summary.FullRenderChildLimit,
		RootNames:            c.Summary.RootNames,
		Indent:               c.Summary.Indent,
		Theme:                summary.PlainTheme{},
	}
	if c.Theme.Color {
		opts.Theme = summary.NewColorTheme(c.Theme.Palette)
	}
	return opts
}

// ProfileOptions converts the profile section.
func (c *Config) ProfileOptions() (profile.Options, error) {
	opts := profile.DefaultOptions()
	opts.SampleSize = c.Profile.SampleSize
	opts.Adaptive = c.Profile.Adaptive
	if c.Profile.MinSamples > 0 {
		opts.MinSamples = c.Profile.MinSamples
	}
	if c.Profile.TimeBudget != "" {
		d, err := time.ParseDuration(c.Profile.TimeBudget)
		if err != nil {
			return opts, fmt.Errorf("profile.time_budget: %w", err)
		}
		opts.TimeBudget = d
	}
	return opts, nil
}

// WatchDebounce parses watch.debounce.
func (c *Config) WatchDebounce() (time.Duration, error) {
	if c.Watch.Debounce == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil {
		return 0, fmt.Errorf("watch.debounce: %w", err)
	}
	return d, nil
}
