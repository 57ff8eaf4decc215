package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gurre/hello-lambda/log"
	"github.com/gurre/hello-lambda/runtimeapi"
	"github.com/gurre/hello-lambda/shutdown"
	jsoniter "github.com/json-iterator/go"
)

const (
	coldStartTimeout = 9 * time.Second
	nextRetryDelay   = 100 * time.Millisecond

	extensionRegisterTimeout = 2 * time.Second
)

// ErrorResponse is the body posted to /invocation/{id}/error and /init/error.
type ErrorResponse struct {
	ErrorMessage string `json:"errorMessage"`
	ErrorType    string `json:"errorType"`
}

// LoopOption customises an EventLoop.
type LoopOption func(*loopConfig)

type loopConfig struct {
	api        runtimeapi.RuntimeAPI
	logger     log.Logger
	retryDelay time.Duration
}

// WithRuntimeAPI replaces the client built from AWS_LAMBDA_RUNTIME_API.
func WithRuntimeAPI(api runtimeapi.RuntimeAPI) LoopOption {
	return func(c *loopConfig) { c.api = api }
}

func WithLogger(l log.Logger) LoopOption {
	return func(c *loopConfig) { c.logger = l }
}

// WithRetryDelay sets the back-off after a failed Next call.
func WithRetryDelay(d time.Duration) LoopOption {
	return func(c *loopConfig) { c.retryDelay = d }
}

type EventLoop[T, R any] struct {
	handler    Handler[T, R]
	api        runtimeapi.RuntimeAPI
	logger     log.Logger
	retryDelay time.Duration

	// Reused across invocations; environment metadata is filled once.
	requestContext RequestContext
	jsoniter       jsoniter.API
}

func NewEventLoop[T, R any](h Handler[T, R], opts ...LoopOption) *EventLoop[T, R] {
	cfg := loopConfig{retryDelay: nextRetryDelay}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = log.New(log.LevelInfo, os.Stdout)
	}

	e := &EventLoop[T, R]{
		handler:    h,
		api:        cfg.api,
		logger:     cfg.logger,
		retryDelay: cfg.retryDelay,
		jsoniter: jsoniter.Config{
			EscapeHTML:                    false,
			SortMapKeys:                   false,
			ValidateJsonRawMessage:        false,
			MarshalFloatWith6Digits:       true,
			ObjectFieldMustBeSimpleString: true,
		}.Froze(),
	}
	e.requestContext.PopulateFromEnvironment()
	return e
}

// Run initializes the handler and then serves invocations until ctx is done.
// It returns an error only when the client cannot be built or ColdStart fails.
func (e *EventLoop[T, R]) Run(ctx context.Context) error {
	if e.api == nil {
		api, err := runtimeapi.NewClient()
		if err != nil {
			return err
		}
		e.api = api
	}

	initCtx, cancelInit := context.WithTimeout(ctx, coldStartTimeout)
	err := e.handler.ColdStart(initCtx)
	cancelInit()
	if err != nil {
		e.emitInitError(ctx, err)
		return fmt.Errorf("cold start: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		nextStart := time.Now()
		inv, err := e.api.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.logger.WithError(err).Warn(ctx, "next invocation failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(e.retryDelay):
			}
			continue
		}

		e.invoke(ctx, inv, time.Since(nextStart))
	}
}

// invocationMetrics are logged once per invocation as "invocation.metrics".
type invocationMetrics struct {
	outcome   string
	errorType string
	next      time.Duration
	unmarshal time.Duration
	validate  time.Duration
	handler   time.Duration
	marshal   time.Duration
	post      time.Duration
}

func (e *EventLoop[T, R]) invoke(ctx context.Context, inv *runtimeapi.Invocation, nextDur time.Duration) {
	start := time.Now()
	m := invocationMetrics{outcome: "success", next: nextDur}

	// Stopping the loop cancels ctx; an invocation already received still
	// runs and posts its result, bounded only by its own deadline.
	base := context.WithoutCancel(ctx)
	var (
		invokeCtx context.Context
		cancel    context.CancelFunc
	)
	if !inv.Deadline.IsZero() {
		invokeCtx, cancel = context.WithDeadline(base, inv.Deadline)
	} else {
		invokeCtx, cancel = context.WithCancel(base)
	}
	defer cancel()

	rc := &e.requestContext
	rc.resetInvocation()
	rc.AwsRequestID = inv.RequestID
	rc.InvokedFunctionArn = inv.InvokedFunctionArn
	rc.Deadline = inv.Deadline
	rc.TraceID = inv.TraceID
	rc.decodeMobileHeaders(e.jsoniter, inv.CognitoIdentity, inv.ClientContext)
	invokeCtx = NewContext(invokeCtx, rc)

	fail := func(errType string, err error) {
		m.outcome = "error"
		m.errorType = errType
		body, _ := e.jsoniter.Marshal(ErrorResponse{ErrorMessage: err.Error(), ErrorType: errType})
		postStart := time.Now()
		if perr := e.api.Error(invokeCtx, inv.RequestID, body); perr != nil {
			e.logger.WithError(perr).Error(invokeCtx, "posting invocation error failed", "request_id", inv.RequestID)
		}
		m.post = time.Since(postStart)
	}
	defer func() { e.logMetrics(invokeCtx, inv.RequestID, m, time.Since(start)) }()

	var event T
	phase := time.Now()
	if len(inv.Payload) > 0 {
		if err := e.jsoniter.Unmarshal(inv.Payload, &event); err != nil {
			m.unmarshal = time.Since(phase)
			fail("UnmarshalError", err)
			return
		}
	}
	m.unmarshal = time.Since(phase)

	phase = time.Now()
	if err := e.handler.Validate(invokeCtx, event); err != nil {
		m.validate = time.Since(phase)
		fail("ValidationError", err)
		return
	}
	m.validate = time.Since(phase)

	phase = time.Now()
	result, err := e.handler.Handler(invokeCtx, event)
	m.handler = time.Since(phase)
	if err != nil {
		fail(errorType(err), err)
		return
	}

	phase = time.Now()
	respBody, err := e.jsoniter.Marshal(result)
	m.marshal = time.Since(phase)
	if err != nil {
		fail("MarshalError", err)
		return
	}

	phase = time.Now()
	if err := e.api.Response(invokeCtx, inv.RequestID, respBody); err != nil {
		m.outcome = "error"
		m.errorType = "PostError"
		e.logger.WithError(err).Error(invokeCtx, "posting invocation response failed", "request_id", inv.RequestID)
	}
	m.post = time.Since(phase)
}

func (e *EventLoop[T, R]) logMetrics(ctx context.Context, requestID string, m invocationMetrics, total time.Duration) {
	e.logger.Info(ctx, "invocation.metrics",
		"request_id", requestID,
		"outcome", m.outcome,
		"error_type", m.errorType,
		"next_ms", m.next.Milliseconds(),
		"unmarshal_ms", m.unmarshal.Milliseconds(),
		"validate_ms", m.validate.Milliseconds(),
		"handler_ms", m.handler.Milliseconds(),
		"marshal_ms", m.marshal.Milliseconds(),
		"post_ms", m.post.Milliseconds(),
		"total_ms", total.Milliseconds(),
	)
}

// errorType names a handler error for the Runtime API. Wrapped errors are
// reported by their innermost type.
func errorType(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	return fmt.Sprintf("%T", err)
}

func (e *EventLoop[T, R]) emitInitError(ctx context.Context, err error) {
	if perr := ReportInitError(ctx, e.api, err); perr != nil {
		e.logger.WithError(perr).Error(ctx, "posting init error failed")
	}
}

// ReportInitError posts err to the init error endpoint. main uses it for
// failures that happen before an event loop exists, such as bad configuration.
func ReportInitError(ctx context.Context, api runtimeapi.RuntimeAPI, err error) error {
	body, merr := jsoniter.ConfigFastest.Marshal(ErrorResponse{ErrorMessage: err.Error(), ErrorType: "InitError"})
	if merr != nil {
		return merr
	}
	return api.InitError(ctx, body)
}

// ExtensionName is the internal extension Start registers so that Lambda
// delivers SIGTERM to the runtime process.
const ExtensionName = "hello-lambda-sigterm"

// Start runs h on the custom runtime. The coordinator is registered for its
// signals; when one arrives the loop stops polling, the in-flight invocation
// finishes and posts its result, h.Shutdown runs, and the process exits.
// Start returns only if initialization fails.
//
// Inside Lambda (AWS_LAMBDA_RUNTIME_API set) Start first registers an
// internal extension; without one Lambda never sends SIGTERM.
//
// Example usage from main:
//
//	c := shutdown.New()
//	if err := runtime.Start(NewHandler(), c); err != nil {
//		os.Exit(1)
//	}
func Start[T, R any](h Handler[T, R], c *shutdown.Coordinator, opts ...LoopOption) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop := NewEventLoop(h, opts...)
	if host := os.Getenv("AWS_LAMBDA_RUNTIME_API"); host != "" {
		registerSIGTERMExtension(ctx, runtimeapi.NewClientWithHost(host), loop.logger)
	}

	loopDone := make(chan struct{})
	c.AddCleanup(func(cctx context.Context) error {
		cancel()
		select {
		case <-loopDone:
			return nil
		case <-cctx.Done():
			return fmt.Errorf("event loop still running: %w", cctx.Err())
		}
	})
	c.AddCleanup(h.Shutdown)
	stop := c.Register()
	defer stop()

	err := loop.Run(ctx)
	close(loopDone)
	if err != nil {
		return err
	}
	<-c.Done()
	return nil
}

// extensionRegistrar is implemented by *runtimeapi.Client.
type extensionRegistrar interface {
	RegisterExtension(ctx context.Context, name string) (string, error)
}

// registerSIGTERMExtension logs failures; the function still serves
// invocations without SIGTERM delivery.
func registerSIGTERMExtension(ctx context.Context, r extensionRegistrar, logger log.Logger) {
	ctx, cancel := context.WithTimeout(ctx, extensionRegisterTimeout)
	defer cancel()
	id, err := r.RegisterExtension(ctx, ExtensionName)
	if err != nil {
		logger.WithError(err).Warn(ctx, "extension registration failed; SIGTERM will not be delivered")
		return
	}
	logger.Debug(ctx, "extension registered", "extension_id", id)
}
