package shutdown

import (
	"os"
	"syscall"
	"time"

	"github.com/gurre/hello-lambda/log"
	"github.com/mohae/deepcopy"
)

const (
	// DefaultPause is the fixed cleanup window before exit.
	DefaultPause = 200 * time.Millisecond
	// DefaultCleanupTimeout bounds how long cleanup functions may run.
	DefaultCleanupTimeout = 2 * time.Second
)

type Option interface {
	Apply(o *Options)
}

type OptionFunc func(*Options)

func (f OptionFunc) Apply(o *Options) { f(o) }

type Options struct {
	Logger         log.Logger
	Pause          time.Duration
	CleanupTimeout time.Duration
	Signals        []os.Signal
	Exit           func(code int)
}

var defaultOptions = &Options{
	Logger:         nil,
	Pause:          DefaultPause,
	CleanupTimeout: DefaultCleanupTimeout,
	Signals:        []os.Signal{syscall.SIGTERM},
	Exit:           nil,
}

func NewOptions(opts ...Option) *Options {
	options := deepcopy.Copy(defaultOptions).(*Options)
	options.init(opts...)
	return options
}

func (o *Options) init(opts ...Option) {
	for _, opt := range opts {
		if opt != nil {
			opt.Apply(o)
		}
	}
	if o.Logger == nil {
		o.Logger = log.NewText(log.LevelInfo, os.Stdout, "[runtime]")
	}
	if o.Pause < 0 {
		o.Pause = 0
	}
	if o.CleanupTimeout <= 0 {
		o.CleanupTimeout = DefaultCleanupTimeout
	}
	// signal.Notify with no signals subscribes to everything.
	if len(o.Signals) == 0 {
		o.Signals = []os.Signal{syscall.SIGTERM}
	}
	if o.Exit == nil {
		o.Exit = os.Exit
	}
}

// WithLogger sets where the shutdown notices go. The default prints
// "[runtime] ..." lines to stdout.
func WithLogger(l log.Logger) Option {
	return OptionFunc(func(o *Options) {
		o.Logger = l
	})
}

func WithPause(d time.Duration) Option {
	return OptionFunc(func(o *Options) {
		o.Pause = d
	})
}

func WithCleanupTimeout(d time.Duration) Option {
	return OptionFunc(func(o *Options) {
		o.CleanupTimeout = d
	})
}

func WithSignals(sigs ...os.Signal) Option {
	return OptionFunc(func(o *Options) {
		o.Signals = append([]os.Signal(nil), sigs...)
	})
}

// WithExit replaces os.Exit, mainly for tests.
func WithExit(exit func(code int)) Option {
	return OptionFunc(func(o *Options) {
		o.Exit = exit
	})
}
