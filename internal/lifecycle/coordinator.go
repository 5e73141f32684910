package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// State of the process shutdown. It only moves forward.
type State int32

const (
	Running State = iota
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

const (
	ExitOK      = 0
	ExitFailure = 1
)

// Step is one stage of the drain sequence, e.g. stopping the HTTP server.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// Coordinator waits for a termination signal or a fatal background error and
// then runs the drain steps in order, once.
type Coordinator struct {
	log     *zap.Logger
	timeout time.Duration
	steps   []Step

	state     atomic.Int32
	fatalOnce sync.Once
	fatal     chan error
	wg        sync.WaitGroup
}

func NewCoordinator(log *zap.Logger, timeout time.Duration, steps ...Step) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Coordinator{
		log:     log,
		timeout: timeout,
		steps:   steps,
		fatal:   make(chan error, 1),
	}
}

func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Fatal reports an error that escaped a background task. While running it
// ends the process with ExitFailure; once draining has begun it is only
// logged.
func (c *Coordinator) Fatal(err error) {
	if err == nil {
		return
	}
	if c.State() != Running {
		c.log.Error("background failure during shutdown", zap.Error(err), zap.Stringer("state", c.State()))
		return
	}
	c.fatalOnce.Do(func() { c.fatal <- err })
}

// Go runs fn in a goroutine. A returned error or a panic is reported to Fatal.
func (c *Coordinator) Go(name string, fn func() error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				c.log.Error("background task panicked",
					zap.String("task", name),
					zap.Any("panic", rec),
					zap.ByteString("stack", debug.Stack()),
				)
				c.Fatal(fmt.Errorf("%s: panic: %v", name, rec))
			}
		}()
		if err := fn(); err != nil {
			c.Fatal(fmt.Errorf("%s: %w", name, err))
		}
	}()
}

// Wait blocks until a signal arrives, ctx ends or a fatal error is reported,
// then drains. It returns the process exit code.
func (c *Coordinator) Wait(ctx context.Context, signals <-chan os.Signal) int {
	code := ExitOK
	select {
	case sig := <-signals:
		c.log.Info("shutdown signal received", zap.Stringer("signal", sig))
	case <-ctx.Done():
		c.log.Info("context done, shutting down", zap.Error(ctx.Err()))
	case err := <-c.fatal:
		c.log.Error("fatal error, shutting down", zap.Error(err))
		code = ExitFailure
	}

	if err := c.Drain(); err != nil {
		code = ExitFailure
	}
	return code
}

// Drain moves to draining and runs every step under one deadline. A failed
// step is logged and the remaining steps still run. Only the first call does
// any work.
func (c *Coordinator) Drain() error {
	if !c.state.CompareAndSwap(int32(Running), int32(Draining)) {
		return nil
	}
	c.log.Info("draining", zap.Duration("timeout", c.timeout))

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var errs []error
	for _, step := range c.steps {
		start := time.Now()
		if err := runStep(ctx, step); err != nil {
			c.log.Error("shutdown step failed", zap.String("step", step.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", step.Name, err))
			continue
		}
		c.log.Info("shutdown step done", zap.String("step", step.Name), zap.Duration("took", time.Since(start)))
	}

	c.state.Store(int32(Closed))
	if err := errors.Join(errs...); err != nil {
		return err
	}
	c.log.Info("shutdown complete")
	return nil
}

// runStep bounds a step by ctx even if the step itself ignores it.
func runStep(ctx context.Context, step Step) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("panic: %v", rec)
			}
		}()
		done <- step.Run(ctx)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitTasks waits for goroutines started with Go, bounded by ctx.
func (c *Coordinator) WaitTasks(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
