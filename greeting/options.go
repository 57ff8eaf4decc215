package greeting

import (
	"fmt"
	"strings"

	"github.com/gurre/hello-lambda/hostinfo"
	"github.com/gurre/hello-lambda/log"
	"github.com/mohae/deepcopy"
)

// Variant selects which body the handler produces.
type Variant string

const (
	// VariantStatic answers {"message":"hello world"} for any event.
	VariantStatic Variant = "static"
	// VariantOrigin echoes the caller's source IP and reports host facts.
	VariantOrigin Variant = "origin"
)

// ParseVariant accepts the variant names case-insensitively.
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(strings.ToLower(strings.TrimSpace(s))); v {
	case VariantStatic, VariantOrigin:
		return v, nil
	default:
		return "", fmt.Errorf("unknown handler variant %q (want %q or %q)", s, VariantStatic, VariantOrigin)
	}
}

const (
	// SourceIPPathREST is where API Gateway REST (v1) events carry the caller address.
	SourceIPPathREST = "requestContext.identity.sourceIp"
	// SourceIPPathHTTP is where API Gateway HTTP API (v2) events carry it.
	SourceIPPathHTTP = "requestContext.http.sourceIp"
)

var defaultMessages = map[Variant]string{
	VariantStatic: "hello world",
	VariantOrigin: "hello golang",
}

type Option interface {
	Apply(o *Options)
}

type OptionFunc func(*Options)

func (f OptionFunc) Apply(o *Options) { f(o) }

type Options struct {
	Variant      Variant
	Message      string
	SourceIPPath string
	Host         hostinfo.HostInfo
	Logger       log.Logger
}

var defaultOptions = &Options{
	Variant:      VariantOrigin,
	Message:      "",
	SourceIPPath: SourceIPPathREST,
	Host:         nil,
	Logger:       nil,
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
	if o.Message == "" {
		o.Message = defaultMessages[o.Variant]
	}
	if o.SourceIPPath == "" {
		o.SourceIPPath = SourceIPPathREST
	}
	if o.Host == nil {
		o.Host = hostinfo.Host()
	}
	if o.Logger == nil {
		o.Logger = log.Discard()
	}
}

func WithVariant(v Variant) Option {
	return OptionFunc(func(o *Options) {
		o.Variant = v
	})
}

func WithMessage(msg string) Option {
	return OptionFunc(func(o *Options) {
		o.Message = msg
	})
}

func WithSourceIPPath(path string) Option {
	return OptionFunc(func(o *Options) {
		o.SourceIPPath = path
	})
}

func WithHost(h hostinfo.HostInfo) Option {
	return OptionFunc(func(o *Options) {
		o.Host = h
	})
}

func WithLogger(l log.Logger) Option {
	return OptionFunc(func(o *Options) {
		o.Logger = l
	})
}
