package profile

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-foundry/xpatch-go/xmldoc"
)

const defs = `<Defs>
  <ThingDef><defName>A</defName></ThingDef>
  <ThingDef><defName>B</defName></ThingDef>
  <ThingDef><defName>C</defName></ThingDef>
</Defs>`

func load(t *testing.T) *xmldoc.Document {
	t.Helper()
	doc, err := xmldoc.ParseString(defs)
	require.NoError(t, err)
	return doc
}

// steppingClock makes every timed run last exactly step.
func steppingClock(step time.Duration) func() time.Time {
	calls := 0
	base := time.Unix(0, 0)
	return func() time.Time {
		calls++
		return base.Add(time.Duration(calls/2) * step)
	}
}

func profiler(step time.Duration) *Profiler {
	p := New()
	p.now = steppingClock(step)
	return p
}

func TestProfileRunsAtMostSampleSize(t *testing.T) {
	res, err := profiler(time.Millisecond).Profile(context.Background(), load(t), "//ThingDef", Options{SampleSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 10, res.SamplesRun)
	assert.Len(t, res.Samples, 10)
	assert.Equal(t, 3, res.MatchCount)
	assert.Equal(t, StopComplete, res.StopReason)
	assert.Equal(t, time.Millisecond, res.Average)
	assert.InDelta(t, 1e6, res.AverageTicks, 0.001)
	assert.InDelta(t, 1.0, res.AverageMs, 0.0001)
}

func TestProfileBudgetOvershootIsAtMostOneSample(t *testing.T) {
	step := 3 * time.Millisecond
	budget := 10 * time.Millisecond
	res, err := profiler(step).Profile(context.Background(), load(t), "//ThingDef", Options{SampleSize: 100, TimeBudget: budget})
	require.NoError(t, err)
	assert.Equal(t, StopBudget, res.StopReason)
	assert.Equal(t, 4, res.SamplesRun)
	assert.Greater(t, res.Total, budget)
	assert.LessOrEqual(t, res.Total-budget, step)
}

func TestProfileAdaptiveCeiling(t *testing.T) {
	res, err := profiler(40*time.Millisecond).Profile(context.Background(), load(t), "//ThingDef",
		Options{SampleSize: 100, Adaptive: true})
	require.NoError(t, err)
	assert.Equal(t, StopCeiling, res.StopReason)
	assert.Equal(t, 17, res.SamplesRun)
	assert.Contains(t, res.Report(), "Exited operation after 17 iterations")

	res, err = profiler(40*time.Millisecond).Profile(context.Background(), load(t), "//ThingDef",
		Options{SampleSize: 100, Adaptive: false})
	require.NoError(t, err)
	assert.Equal(t, 100, res.SamplesRun)
}

func TestDecayCeilingDecreases(t *testing.T) {
	c := DefaultCeiling()
	assert.Equal(t, 50*time.Millisecond, c.Limit(0))
	prev := c.Limit(0)
	for n := 1; n <= 1000; n++ {
		cur := c.Limit(n)
		require.LessOrEqual(t, cur, prev, "n=%d", n)
		require.GreaterOrEqual(t, cur, c.Floor, "n=%d", n)
		prev = cur
	}
	assert.InDelta(t, float64(c.Floor+(c.Start-c.Floor)/2), float64(c.Limit(50)), float64(time.Microsecond))
}

func TestProfileZeroSamples(t *testing.T) {
	res, err := New().Profile(context.Background(), load(t), "//ThingDef", Options{SampleSize: 0})
	require.NoError(t, err)
	assert.Equal(t, StopNoSamples, res.StopReason)
	assert.Zero(t, res.SamplesRun)
	assert.Zero(t, res.Average)
	assert.Zero(t, res.AverageMs)

	res, err = New().Profile(context.Background(), nil, "//ThingDef", Options{SampleSize: 5})
	require.NoError(t, err)
	assert.Zero(t, res.SamplesRun)
}

func TestProfileInvalidQuery(t *testing.T) {
	_, err := New().Profile(context.Background(), load(t), "//ThingDef[", DefaultOptions())
	require.ErrorIs(t, err, xmldoc.ErrInvalidQuery)
}

func TestProfileCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := New().Profile(ctx, load(t), "//ThingDef", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, StopCancelled, res.StopReason)
	assert.Zero(t, res.SamplesRun)
	assert.Zero(t, res.Average)
}

func TestProfileDoesNotTouchDocument(t *testing.T) {
	doc := load(t)
	before := doc.String()
	res, err := New().Profile(context.Background(), doc, "//defName", Options{SampleSize: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, res.SamplesRun)
	assert.Equal(t, 3, res.MatchCount)
	assert.Equal(t, before, doc.String())
}

func TestReport(t *testing.T) {
	res := Result{
		Query:        "//ThingDef",
		SampleSize:   50,
		SamplesRun:   50,
		MatchCount:   3,
		AverageTicks: 1234.5678,
		AverageMs:    0.0012345678,
		StopReason:   StopComplete,
	}
	lines := strings.Split(strings.TrimSpace(res.Report()), "\n")
	assert.Equal(t, []string{
		"Matching: //ThingDef",
		"Sample Size: 50",
		"Matched 3 nodes",
		"Average: 1234.57 ticks (0ms)",
	}, lines)
}
