package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSlotDelivers(t *testing.T) {
	s := NewSlot[int]("count", nil)
	got := make(chan int, 1)
	id, err := s.Start(context.Background(), func(context.Context) (int, error) { return 42, nil },
		func(v int) { got <- v },
		func(err error) { t.Errorf("unexpected error: %v", err) })
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	require.NoError(t, s.Wait(waitCtx(t)))
	assert.Equal(t, 42, <-got)
	assert.False(t, s.InProgress())
	assert.Empty(t, s.Current())
	v, err := s.Last()
	assert.Equal(t, 42, v)
	assert.NoError(t, err)
}

func TestSlotRejectsSecondStart(t *testing.T) {
	s := NewSlot[string]("load", nil)
	release := make(chan struct{})
	id, err := s.Start(context.Background(), func(context.Context) (string, error) {
		<-release
		return "ok", nil
	}, nil, nil)
	require.NoError(t, err)
	assert.True(t, s.InProgress())
	assert.Equal(t, id, s.Current())

	_, err = s.Start(context.Background(), func(context.Context) (string, error) { return "", nil }, nil, nil)
	require.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, s.Wait(waitCtx(t)))
	_, err = s.Start(context.Background(), func(context.Context) (string, error) { return "again", nil }, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Wait(waitCtx(t)))
	v, _ := s.Last()
	assert.Equal(t, "again", v)
}

func TestSlotErrorAndPanic(t *testing.T) {
	boom := errors.New("boom")
	s := NewSlot[int]("fail", nil)
	errs := make(chan error, 2)

	_, err := s.Start(context.Background(), func(context.Context) (int, error) { return 0, boom },
		func(int) { t.Error("onDone called on failure") },
		func(err error) { errs <- err })
	require.NoError(t, err)
	require.NoError(t, s.Wait(waitCtx(t)))
	assert.ErrorIs(t, <-errs, boom)

	_, err = s.Start(context.Background(), func(context.Context) (int, error) { panic("bad def") },
		nil, func(err error) { errs <- err })
	require.NoError(t, err)
	require.NoError(t, s.Wait(waitCtx(t)))
	perr := <-errs
	assert.ErrorIs(t, perr, ErrPanic)
	assert.Contains(t, perr.Error(), "bad def")
	assert.False(t, s.InProgress())
}

func TestSlotCancel(t *testing.T) {
	s := NewSlot[int]("cancel", nil)
	assert.False(t, s.Cancel())

	started := make(chan struct{})
	errs := make(chan error, 1)
	_, err := s.Start(context.Background(), func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	}, nil, func(err error) { errs <- err })
	require.NoError(t, err)
	<-started
	assert.True(t, s.Cancel())
	require.NoError(t, s.Wait(waitCtx(t)))
	assert.ErrorIs(t, <-errs, context.Canceled)
}

func TestSlotCallbackMayRestart(t *testing.T) {
	s := NewSlot[int]("chain", nil)
	restarted := make(chan error, 1)
	_, err := s.Start(context.Background(), func(context.Context) (int, error) { return 1, nil },
		func(int) {
			_, err := s.Start(context.Background(), func(context.Context) (int, error) { return 2, nil }, nil, nil)
			restarted <- err
		}, nil)
	require.NoError(t, err)
	require.NoError(t, <-restarted)
	require.NoError(t, s.Wait(waitCtx(t)))
	v, _ := s.Last()
	assert.Equal(t, 2, v)
}

func TestWaitIdleAndTimeout(t *testing.T) {
	s := NewSlot[int]("idle", nil)
	require.NoError(t, s.Wait(context.Background()))

	release := make(chan struct{})
	_, err := s.Start(context.Background(), func(context.Context) (int, error) {
		<-release
		return 0, nil
	}, nil, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)
	close(release)
	require.NoError(t, s.Wait(waitCtx(t)))
}
