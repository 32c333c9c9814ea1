package framework

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/golang/glog"
)

// Named is implemented by things with a name for logs and errors.
type Named interface {
	Name() string
}

// Runnable is a background task stopping when its context is done.
type Runnable interface {
	Run(context.Context) error
}

// RunnableFunc is the func form of Runnable.
type RunnableFunc func(context.Context) error

// Run implements Runnable.
func (f RunnableFunc) Run(ctx context.Context) error {
	return f(ctx)
}

type namedRunnable struct {
	Runnable
	name string
}

func (r *namedRunnable) Name() string {
	return r.name
}

// NamedRun attaches a name to a Runnable.
func NamedRun(name string, runnable Runnable) Runnable {
	return &namedRunnable{name: name, Runnable: runnable}
}

// ErrForcedExit is returned by Runner.Wait after a second stop signal.
var ErrForcedExit = errors.New("forced exit")

// Runner starts Runnables in goroutines and collects their errors.
type Runner struct {
	Context context.Context
	Runners []Runnable

	results chan runResult
	exitCh  chan struct{}
}

type runResult struct {
	name string
	err  error
}

// NewRunner creates a Runner on a background context.
func NewRunner() *Runner {
	return NewRunnerWith(context.Background())
}

// NewRunnerWith creates a Runner on ctx.
func NewRunnerWith(ctx context.Context) *Runner {
	return &Runner{
		Context: ctx,
		results: make(chan runResult, 1),
		exitCh:  make(chan struct{}),
	}
}

// HandleSignals cancels the context on SIGINT or SIGTERM, a second
// signal makes Wait return immediately.
func (r *Runner) HandleSignals() *Runner {
	ctx, cancel := context.WithCancel(r.Context)
	r.Context = ctx
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		glog.Infof("%v: stopping", sig)
		cancel()
		<-sigCh
		glog.Error("stop requested again, exiting")
		close(r.exitCh)
	}()
	return r
}

// Go starts runners on the Runner's context.
func (r *Runner) Go(runners ...Runnable) *Runner {
	return r.GoWith(r.Context, runners...)
}

// GoWith starts runners on ctx.
func (r *Runner) GoWith(ctx context.Context, runners ...Runnable) *Runner {
	for _, runner := range runners {
		name := strconv.Itoa(len(r.Runners))
		if named, ok := runner.(Named); ok {
			name = named.Name()
		}
		r.Runners = append(r.Runners, runner)
		go func(runner Runnable, name string) {
			glog.V(4).Infof("runner %s started", name)
			err := runner.Run(ctx)
			glog.V(4).Infof("runner %s stopped: %v", name, err)
			r.results <- runResult{name: name, err: err}
		}(runner, name)
	}
	return r
}

// Wait blocks until all started runners return. context.Canceled is not
// a failure, other errors are prefixed with the runner name when it has
// one and aggregated.
func (r *Runner) Wait() error {
	var errs AggregatedError
	for range r.Runners {
		select {
		case <-r.exitCh:
			return ErrForcedExit
		case res := <-r.results:
			switch {
			case res.err == nil || errors.Is(res.err, context.Canceled):
			case isIndex(res.name):
				errs.Add(res.err)
			default:
				errs.Add(fmt.Errorf("%s: %w", res.name, res.err))
			}
		}
	}
	return errs.Aggregate()
}

func isIndex(name string) bool {
	_, err := strconv.Atoi(name)
	return err == nil
}

// RunWithContextCancel runs fn which doesn't take a context. When ctx is
// done first, onCancel is expected to unblock fn, and context.Canceled
// is returned after fn returns.
func RunWithContextCancel(ctx context.Context, onCancel func(), fn func() error) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- fn()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	if onCancel != nil {
		onCancel()
	}
	<-errCh
	return context.Canceled
}

// RunWithContext is RunWithContextCancel without a cancel callback.
func RunWithContext(ctx context.Context, fn func() error) error {
	return RunWithContextCancel(ctx, nil, fn)
}

// RunWithContextCloser unblocks fn by closing closer when ctx is done.
// closer is closed exactly once either way.
func RunWithContextCloser(ctx context.Context, closer io.Closer, fn func() error) error {
	closed := false
	err := RunWithContextCancel(ctx, func() {
		closer.Close()
		closed = true
	}, fn)
	if !closed {
		closer.Close()
	}
	return err
}
