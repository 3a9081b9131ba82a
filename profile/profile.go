// Package profile measures how long a query takes over repeated runs.
package profile

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-foundry/xpatch-go/xmldoc"
)

// StopReason records why sampling ended.
type StopReason string

const (
	StopComplete  StopReason = "complete"
	StopBudget    StopReason = "time budget exceeded"
	StopCeiling   StopReason = "average above ceiling"
	StopCancelled StopReason = "cancelled"
	StopNoSamples StopReason = "no samples"
)

// Early reports whether sampling stopped before SampleSize was reached.
func (r StopReason) Early() bool {
	return r == StopBudget || r == StopCeiling || r == StopCancelled
}

// Ceiling is the largest running average tolerated after n samples.
type Ceiling interface {
	Limit(n int) time.Duration
}

// DecayCeiling starts high and halves its distance to Floor every HalfLife samples.
type DecayCeiling struct {
	Start    time.Duration
	Floor    time.Duration
	HalfLife float64
}

// DefaultCeiling tolerates 50ms averages early on, decaying towards 1ms.
func DefaultCeiling() DecayCeiling {
	return DecayCeiling{Start: 50 * time.Millisecond, Floor: time.Millisecond, HalfLife: 50}
}

func (c DecayCeiling) Limit(n int) time.Duration {
	half := c.HalfLife
	if half <= 0 {
		half = 1
	}
	span := float64(c.Start - c.Floor)
	return c.Floor + time.Duration(span*math.Exp2(-float64(n)/half))
}

// Options bounds one profiling run. A zero TimeBudget means no budget.
type Options struct {
	SampleSize int
	TimeBudget time.Duration
	Adaptive   bool
	Ceiling    Ceiling
	// MinSamples is the number of samples taken before the ceiling is checked.
	MinSamples int
}

// DefaultOptions samples 100 runs within five seconds, adaptively.
func DefaultOptions() Options {
	return Options{
		SampleSize: 100,
		TimeBudget: 5 * time.Second,
		Adaptive:   true,
		Ceiling:    DefaultCeiling(),
		MinSamples: 5,
	}
}

func (o Options) normalized() Options {
	if o.Ceiling == nil {
		o.Ceiling = DefaultCeiling()
	}
	if o.MinSamples <= 0 {
		o.MinSamples = 5
	}
	return o
}

// Result holds whatever was gathered before sampling stopped.
type Result struct {
	Query        string
	SampleSize   int
	Average      time.Duration
	AverageTicks float64
	AverageMs    float64
	SamplesRun   int
	MatchCount   int
	Samples      []time.Duration
	Total        time.Duration
	StopReason   StopReason
}

// Report renders the result as the console prints it.
func (r Result) Report() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Matching: %s\n", r.Query)
	fmt.Fprintf(&sb, "Sample Size: %d\n", r.SampleSize)
	if r.StopReason.Early() {
		fmt.Fprintf(&sb, "Exited operation after %d iterations (%s). Operation will take too long to calculate.\n", r.SamplesRun, r.StopReason)
	}
	fmt.Fprintf(&sb, "Matched %d nodes\n", r.MatchCount)
	fmt.Fprintf(&sb, "Average: %s ticks (%sms)\n", trimFloat(r.AverageTicks), trimFloat(r.AverageMs))
	return sb.String()
}

// trimFloat prints at most two decimals and drops trailing zeros.
func trimFloat(f float64) string {
	return strconv.FormatFloat(math.Round(f*100)/100, 'f', -1, 64)
}

// Profiler runs queries against fresh document copies and times each run.
// Runs are sequential so samples do not compete for the scheduler.
type Profiler struct {
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Profiler.
type Option func(*Profiler)

// WithLogger reports each finished run at debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Profiler) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New returns a profiler using the wall clock.
func New(opts ...Option) *Profiler {
	p := &Profiler{logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Profile samples query up to opts.SampleSize times. Cloning the document is not timed.
// A malformed query returns an error wrapping xmldoc.ErrInvalidQuery; any other outcome,
// including zero samples, returns a Result.
func (p *Profiler) Profile(ctx context.Context, doc *xmldoc.Document, query string, opts Options) (Result, error) {
	opts = opts.normalized()
	if err := xmldoc.CheckQuery(query); err != nil {
		return Result{Query: query}, err
	}
	res := Result{Query: query, SampleSize: opts.SampleSize, StopReason: StopComplete}
	if opts.SampleSize <= 0 || doc == nil {
		res.StopReason = StopNoSamples
		return res, nil
	}
	res.Samples = make([]time.Duration, 0, min(opts.SampleSize, 4096))
	for i := 0; i < opts.SampleSize; i++ {
		if ctx.Err() != nil {
			res.StopReason = StopCancelled
			break
		}
		clone := doc.Clone()
		start := p.now()
		nodes, err := clone.Select(query)
		elapsed := p.now().Sub(start)
		if err != nil {
			res.finish()
			return res, err
		}
		res.Samples = append(res.Samples, elapsed)
		res.Total += elapsed
		res.MatchCount = len(nodes)

		if opts.TimeBudget > 0 && res.Total > opts.TimeBudget {
			res.StopReason = StopBudget
			break
		}
		n := len(res.Samples)
		if opts.Adaptive && n >= opts.MinSamples && n < opts.SampleSize {
			if limit := opts.Ceiling.Limit(n); res.Total/time.Duration(n) > limit {
				res.StopReason = StopCeiling
				break
			}
		}
	}
	res.finish()
	p.logger.Debug("profiled query",
		zap.String("query", query),
		zap.Int("samples", res.SamplesRun),
		zap.Duration("average", res.Average),
		zap.String("stop", string(res.StopReason)))
	return res, nil
}

func (r *Result) finish() {
	r.SamplesRun = len(r.Samples)
	if r.SamplesRun == 0 {
		r.Average, r.AverageTicks, r.AverageMs = 0, 0, 0
		return
	}
	r.Average = r.Total / time.Duration(r.SamplesRun)
	r.AverageTicks = float64(r.Total.Nanoseconds()) / float64(r.SamplesRun)
	r.AverageMs = r.AverageTicks / float64(time.Millisecond)
}
