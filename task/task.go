// Package task runs one long-lived background job at a time per slot.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrBusy is returned by Start while a previous run is still in flight.
	ErrBusy = errors.New("task already in progress")
	// ErrPanic wraps a panic raised by the task function.
	ErrPanic = errors.New("task panicked")
)

// Func is the work performed by a slot. It should return promptly once ctx is done.
type Func[T any] func(ctx context.Context) (T, error)

// Slot runs at most one Func at a time and reports through callbacks.
type Slot[T any] struct {
	name   string
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	id      string
	cancel  context.CancelFunc
	done    chan struct{}
	last    T
	lastErr error
}

// NewSlot returns an idle slot. name only labels log lines.
func NewSlot[T any](name string, logger *zap.Logger) *Slot[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Slot[T]{name: name, logger: logger}
}

// Start launches fn in the background and returns the run ID. Exactly one of onDone
// or onErr is called when fn returns; either may be nil. The in-progress flag is
// cleared before the callback runs, so a callback may start the next run.
func (s *Slot[T]) Start(ctx context.Context, fn Func[T], onDone func(T), onErr func(error)) (string, error) {
	s.mu.Lock()
	if s.running {
		id := s.id
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s run %s", ErrBusy, s.name, id)
	}
	id := uuid.NewString()
	cctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.running, s.id, s.cancel, s.done = true, id, cancel, done
	s.mu.Unlock()

	s.logger.Debug("task started", zap.String("task", s.name), zap.String("run", id))
	go func() {
		defer close(done)
		v, err := s.run(cctx, fn)
		cancel()

		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.last, s.lastErr = v, err
		s.mu.Unlock()

		if err != nil {
			s.logger.Warn("task failed", zap.String("task", s.name), zap.String("run", id), zap.Error(err))
			if onErr != nil {
				onErr(err)
			}
			return
		}
		s.logger.Debug("task finished", zap.String("task", s.name), zap.String("run", id))
		if onDone != nil {
			onDone(v)
		}
	}()
	return id, nil
}

func (s *Slot[T]) run(ctx context.Context, fn Func[T]) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v, err = zero, fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn(ctx)
}

// InProgress reports whether a run is in flight.
func (s *Slot[T]) InProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Current returns the ID of the in-flight run, or "".
func (s *Slot[T]) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ""
	}
	return s.id
}

// Cancel asks the in-flight run to stop. It reports whether there was one.
func (s *Slot[T]) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// Wait blocks until the most recent run and its callback have finished, or ctx is done.
func (s *Slot[T]) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Last returns the outcome of the most recently finished run.
func (s *Slot[T]) Last() (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastErr
}
