// Package shutdown turns a termination signal into a bounded cleanup
// followed by a successful process exit.
//
// The sequence is fixed:
//
//	[runtime] SIGTERM received
//	[runtime] cleaning up
//	(cleanup functions, then the rest of the pause)
//	[runtime] exiting
//
// after which the exit function is called with status 0.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

type State int32

const (
	Running State = iota
	ShuttingDown
)

func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case ShuttingDown:
		return "ShuttingDown"
	default:
		return "Unknown"
	}
}

// Cleanup is work run once while shutting down. Errors are logged, never fatal.
type Cleanup func(ctx context.Context) error

type Coordinator struct {
	opts  *Options
	state atomic.Int32

	mu       sync.Mutex
	cleanups []Cleanup

	registerOnce sync.Once
	stop         func()

	done chan struct{}
}

func New(opts ...Option) *Coordinator {
	return &Coordinator{
		opts: NewOptions(opts...),
		done: make(chan struct{}),
	}
}

// AddCleanup queues f to run during shutdown, in registration order.
// Cleanups added after shutdown started are ignored.
func (c *Coordinator) AddCleanup(f Cleanup) {
	if f == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanups = append(c.cleanups, f)
}

// Register subscribes to the configured signals. The first delivered signal
// triggers shutdown. Calling Register again returns the same stop function.
func (c *Coordinator) Register() (stop func()) {
	c.registerOnce.Do(func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, c.opts.Signals...)

		quit := make(chan struct{})
		go func() {
			select {
			case sig := <-ch:
				c.Trigger(sig)
			case <-quit:
			}
		}()

		var once sync.Once
		c.stop = func() {
			once.Do(func() {
				signal.Stop(ch)
				close(quit)
			})
		}
	})
	return c.stop
}

func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Done is closed once the exit function has returned. With os.Exit it never is.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Trigger moves Running -> ShuttingDown and runs the terminal sequence on the
// calling goroutine. It returns false, doing nothing, if shutdown already began.
func (c *Coordinator) Trigger(sig os.Signal) bool {
	if !c.state.CompareAndSwap(int32(Running), int32(ShuttingDown)) {
		return false
	}
	defer close(c.done)

	ctx := context.Background()
	logger := c.opts.Logger

	logger.Info(ctx, signalName(sig)+" received")
	start := time.Now()
	logger.Info(ctx, "cleaning up")

	c.runCleanups(ctx)
	if rest := c.opts.Pause - time.Since(start); rest > 0 {
		time.Sleep(rest)
	}

	logger.Info(ctx, "exiting")
	c.opts.Exit(0)
	return true
}

// runCleanups returns when all cleanups finish or the cleanup timeout expires,
// whichever comes first. A stuck cleanup is abandoned, not waited on.
func (c *Coordinator) runCleanups(ctx context.Context) {
	c.mu.Lock()
	cleanups := append([]Cleanup(nil), c.cleanups...)
	c.mu.Unlock()
	if len(cleanups) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.CleanupTimeout)
	defer cancel()

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i, f := range cleanups {
			if err := safeRun(ctx, f); err != nil {
				c.opts.Logger.WithError(err).Error(ctx, "cleanup failed", "cleanup", i)
			}
		}
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		c.opts.Logger.Warn(context.Background(), "cleanup timed out", "timeout", c.opts.CleanupTimeout)
	}
}

func safeRun(ctx context.Context, f Cleanup) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v}
		}
	}()
	return f(ctx)
}

// PanicError wraps a value recovered from a panicking cleanup.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("cleanup panicked: %v", e.Value)
}

var signalNames = map[os.Signal]string{
	syscall.SIGTERM: "SIGTERM",
	syscall.SIGINT:  "SIGINT",
	syscall.SIGQUIT: "SIGQUIT",
	syscall.SIGHUP:  "SIGHUP",
}

func signalName(sig os.Signal) string {
	if sig == nil {
		return "shutdown"
	}
	if name, ok := signalNames[sig]; ok {
		return name
	}
	return sig.String()
}
