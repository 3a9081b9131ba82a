package profile

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "runs", "profile.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreSaveAndRecent(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	clock := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	first, err := s.Save(ctx, Result{
		Query: "//ThingDef", SampleSize: 3, SamplesRun: 3, MatchCount: 2,
		Average: 2 * time.Millisecond, StopReason: StopComplete,
		Samples: []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond},
	})
	require.NoError(t, err)
	_, err = uuid.Parse(first.ID)
	require.NoError(t, err)

	second, err := s.Save(ctx, Result{Query: "//ThingDef", SampleSize: 10, SamplesRun: 1, StopReason: StopBudget,
		Samples: []time.Duration{time.Second}})
	require.NoError(t, err)
	_, err = s.Save(ctx, Result{Query: "//defName", StopReason: StopNoSamples})
	require.NoError(t, err)

	runs, err := s.Recent(ctx, "//ThingDef", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, first.ID, runs[1].ID)
	assert.Equal(t, StopBudget, runs[0].StopReason)
	assert.Equal(t, 2*time.Millisecond, runs[1].Average)
	assert.Equal(t, 2, runs[1].MatchCount)
	assert.True(t, runs[1].CreatedAt.Equal(first.CreatedAt))

	all, err := s.Recent(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := s.Recent(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "//defName", limited[0].Query)
}

func TestStoreWriteSamples(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	run, err := s.Save(ctx, Result{Query: "//a", Samples: []time.Duration{1500, 42, 7}})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, s.WriteSamples(ctx, &buf, run.ID))
	assert.Equal(t, "1500\n42\n7\n", buf.String())

	empty, err := s.Save(ctx, Result{Query: "//b"})
	require.NoError(t, err)
	buf.Reset()
	require.NoError(t, s.WriteSamples(ctx, &buf, empty.ID))
	assert.Empty(t, buf.String())

	err = s.WriteSamples(ctx, &buf, uuid.NewString())
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestStoreInMemory(t *testing.T) {
	s, err := OpenStore(":memory:")
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Save(context.Background(), Result{Query: "//x"})
	require.NoError(t, err)
	runs, err := s.Recent(context.Background(), "//x", 5)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
