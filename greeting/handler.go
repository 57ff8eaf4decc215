// Package greeting implements the hello function: a pure mapping from an
// invocation event to a {statusCode, body} response.
package greeting

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gurre/hello-lambda/log"
	"github.com/gurre/hello-lambda/runtime"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Body keys. "node version " keeps its trailing space; existing consumers match on it.
const (
	keyMessage  = "message"
	keySourceIP = "source ip"
	keyArch     = "architecture"
	keyOS       = "operating system"
	keyVersion  = "node version "
)

// Response is the function result. Only these two keys go on the wire.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// MissingFieldError reports that a required event field is absent or not a string.
type MissingFieldError struct {
	Path string
}

func (e *MissingFieldError) Error() string {
	return "missing required event field: " + e.Path
}

// Handler implements runtime.Handler[json.RawMessage, Response].
type Handler struct {
	opts *Options
	log  log.Logger
}

var _ runtime.Handler[json.RawMessage, Response] = (*Handler)(nil)

func New(opts ...Option) *Handler {
	o := NewOptions(opts...)
	return &Handler{
		opts: o,
		log:  o.Logger.With("variant", string(o.Variant)),
	}
}

// Options returns the resolved options.
func (h *Handler) Options() Options {
	return *h.opts
}

// Handle maps an event to a Response. It has no side effects besides debug logging.
func (h *Handler) Handle(ctx context.Context, event json.RawMessage) (Response, error) {
	type field struct{ key, value string }

	fields := []field{{keyMessage, h.opts.Message}}
	if h.opts.Variant == VariantOrigin {
		ip, err := h.sourceIP(event)
		if err != nil {
			return Response{}, err
		}
		host := h.opts.Host
		fields = append(fields,
			field{keySourceIP, ip},
			field{keyArch, host.Architecture()},
			field{keyOS, host.OperatingSystem()},
			field{keyVersion, host.Version()},
		)
	}

	body := []byte("{}")
	for _, f := range fields {
		var err error
		if body, err = sjson.SetBytes(body, f.key, f.value); err != nil {
			return Response{}, fmt.Errorf("encode %q: %w", f.key, err)
		}
	}

	logger := h.log
	if rc, ok := runtime.FromContext(ctx); ok && rc.AwsRequestID != "" {
		logger = logger.With("aws_request_id", rc.AwsRequestID)
	}
	logger.Debug(ctx, "returning payload", "body", string(body))

	return Response{StatusCode: 200, Body: string(body)}, nil
}

func (h *Handler) sourceIP(event json.RawMessage) (string, error) {
	r := gjson.GetBytes(event, h.opts.SourceIPPath)
	if r.Type != gjson.String {
		return "", &MissingFieldError{Path: h.opts.SourceIPPath}
	}
	return r.Str, nil
}

func (h *Handler) ColdStart(ctx context.Context) error {
	h.log.Info(ctx, "handler ready", "message", h.opts.Message, "source_ip_path", h.opts.SourceIPPath)
	return nil
}

// Validate rejects events missing the source IP before Handler runs.
func (h *Handler) Validate(ctx context.Context, event json.RawMessage) error {
	if h.opts.Variant != VariantOrigin {
		return nil
	}
	_, err := h.sourceIP(event)
	return err
}

func (h *Handler) Handler(ctx context.Context, event json.RawMessage) (Response, error) {
	return h.Handle(ctx, event)
}

// Shutdown holds no resources; it only records that it ran.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.log.Debug(ctx, "handler shutdown")
	return nil
}
