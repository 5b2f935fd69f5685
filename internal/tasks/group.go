package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// TaskError is a failure reported by a spawned task
type TaskError struct {
	Name string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s: %v", e.Name, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Group tracks spawned tasks. The zero value is not usable; call NewGroup.
type Group struct {
	ctx    context.Context
	errs   chan *TaskError
	logger *slog.Logger

	onChange func(inflight int)

	inflight int
	idle     chan struct{}
	mu       sync.Mutex
}

// NewGroup creates a group whose tasks receive ctx. errBuffer bounds the error channel;
// errors that do not fit are logged and dropped.
func NewGroup(ctx context.Context, errBuffer int, logger *slog.Logger) *Group {
	if logger == nil {
		logger = slog.Default()
	}
	if errBuffer <= 0 {
		errBuffer = 16
	}
	idle := make(chan struct{})
	close(idle)
	return &Group{
		ctx:    ctx,
		errs:   make(chan *TaskError, errBuffer),
		logger: logger,
		idle:   idle,
	}
}

// OnChange registers a callback invoked with the in-flight count after every change
func (g *Group) OnChange(fn func(inflight int)) {
	g.mu.Lock()
	g.onChange = fn
	g.mu.Unlock()
}

// Errors returns the channel on which task failures are delivered
func (g *Group) Errors() <-chan *TaskError {
	return g.errs
}

// Go starts fn in the background and returns immediately
func (g *Group) Go(name string, fn func(ctx context.Context) error) {
	g.add(1)

	go func() {
		defer g.add(-1)
		defer func() {
			if r := recover(); r != nil {
				g.report(name, fmt.Errorf("panic: %v", r))
			}
		}()

		if err := fn(g.ctx); err != nil {
			g.report(name, err)
		}
	}()
}

// Inflight returns the number of running tasks
func (g *Group) Inflight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inflight
}

// Wait blocks until every task has finished or timeout elapses and returns the number
// of tasks still running. It never blocks longer than timeout.
func (g *Group) Wait(timeout time.Duration) int {
	g.mu.Lock()
	idle := g.idle
	g.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-idle:
		return 0
	case <-timer.C:
		unresolved := g.Inflight()
		if unresolved > 0 {
			g.logger.Warn("Background tasks still running after drain timeout",
				slog.Int("unresolved", unresolved),
				slog.Duration("timeout", timeout))
		}
		return unresolved
	}
}

func (g *Group) add(delta int) {
	g.mu.Lock()
	wasIdle := g.inflight == 0
	g.inflight += delta
	switch {
	case wasIdle && g.inflight > 0:
		g.idle = make(chan struct{})
	case !wasIdle && g.inflight == 0:
		close(g.idle)
	}
	n, fn := g.inflight, g.onChange
	g.mu.Unlock()

	if fn != nil {
		fn(n)
	}
}

func (g *Group) report(name string, err error) {
	te := &TaskError{Name: name, Err: err}
	select {
	case g.errs <- te:
	default:
		g.logger.Warn("Task error dropped, channel full",
			slog.String("task", name),
			slog.String("error", err.Error()))
	}
}
