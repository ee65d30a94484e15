package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrInvalidState = errors.New("runner: invalid state transition")
	ErrDrainTimeout = errors.New("runner: drain timeout")
)

// LifecycleRunner starts a component, blocks until its context ends and then
// drains it within a bounded time.
type LifecycleRunner struct {
	state    atomic.Int32
	mu       sync.Mutex
	stopErr  error
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}

	hooks   Hooks
	drainer Drainer
	timeout time.Duration
	banner  io.Writer
	logger  *slog.Logger
}

func NewLifecycleRunner(drainer Drainer, hooks Hooks, timeout time.Duration, bannerOut io.Writer) *LifecycleRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	r := &LifecycleRunner{
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		hooks:   hooks,
		drainer: drainer,
		timeout: timeout,
		banner:  bannerOut,
		logger:  slog.Default(),
	}
	r.state.Store(int32(StateNew))
	return r
}

// WithLogger replaces the logger used for lifecycle events.
func (r *LifecycleRunner) WithLogger(l *slog.Logger) *LifecycleRunner {
	if l != nil {
		r.logger = l
	}
	return r
}

// Run starts the hooks and blocks until ctx ends or Stop is called, then
// drains. It may be called once.
func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.casState(StateNew, StateStarting) {
		return ErrInvalidState
	}
	if ctx == nil {
		ctx = context.Background()
	}
	PrintBanner(r.banner)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.quit:
			cancel()
		case <-runCtx.Done():
		}
	}()

	if r.hooks.OnStart != nil {
		if err := r.hooks.OnStart(runCtx); err != nil {
			r.logger.Error("lifecycle_start_failed", "error", err.Error())
			r.state.Store(int32(StateStopped))
			r.finish(err)
			return err
		}
	}
	r.state.Store(int32(StateRunning))
	r.logger.Info("lifecycle_running")

	<-runCtx.Done()
	return r.stop()
}

// Stop ends a running runner and waits for its drain. Before Run it only
// marks the runner stopped.
func (r *LifecycleRunner) Stop() error {
	if r.casState(StateNew, StateStopped) {
		r.finish(nil)
		return nil
	}
	r.quitOnce.Do(func() { close(r.quit) })
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopErr
}

func (r *LifecycleRunner) State() State {
	return State(r.state.Load())
}

func (r *LifecycleRunner) stop() error {
	r.state.Store(int32(StateDraining))
	start := time.Now()
	var err error
	if r.drainer != nil {
		done := make(chan error, 1)
		go func() { done <- r.drainer.Drain() }()
		select {
		case err = <-done:
		case <-time.After(r.timeout):
			err = ErrDrainTimeout
		}
	}
	if r.hooks.OnStop != nil {
		r.hooks.OnStop()
	}
	attrs := []any{"drain_ms", time.Since(start).Milliseconds()}
	if err != nil {
		attrs = append(attrs, "error", err.Error())
		r.logger.Warn("lifecycle_stopped", attrs...)
	} else {
		r.logger.Info("lifecycle_stopped", attrs...)
	}
	r.state.Store(int32(StateStopped))
	r.finish(err)
	return err
}

func (r *LifecycleRunner) finish(err error) {
	r.mu.Lock()
	r.stopErr = err
	r.mu.Unlock()
	close(r.done)
}

func (r *LifecycleRunner) casState(from, to State) bool {
	return r.state.CompareAndSwap(int32(from), int32(to))
}

var _ Runner = (*LifecycleRunner)(nil)
