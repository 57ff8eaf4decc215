// Package runtimeapi is a client for the AWS Lambda Runtime API used by the
// custom runtime in package runtime.
//
// Environment Variables:
//
//	AWS_LAMBDA_RUNTIME_API - Required by NewClient. Set automatically by Lambda.
package runtimeapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"
)

// runtimeAPIPrefix is the versioned path prefix of every Runtime API call.
const runtimeAPIPrefix = "/2018-06-01/runtime"

// extensionAPIPrefix is the Extensions API path prefix, served on the same host.
const extensionAPIPrefix = "/2020-01-01/extension"

// Extensions API headers.
const (
	headerExtensionName       = "Lambda-Extension-Name"
	headerExtensionIdentifier = "Lambda-Extension-Identifier"
)

// Lambda Runtime API headers on /invocation/next responses.
const (
	// Example: "8476a536-e9f4-11e8-9739-2dfe598c3fcd"
	headerAWSRequestID = "Lambda-Runtime-Aws-Request-Id"
	// Unix milliseconds. Example: "1542409706888"
	headerDeadlineMS = "Lambda-Runtime-Deadline-Ms"
	// Example: "Root=1-5bef4de7-ad49b0e87f6ef6c87fc2e700;Parent=9a9197af755a6419;Sampled=1"
	headerTraceID            = "Lambda-Runtime-Trace-Id"
	headerCognitoIdentity    = "Lambda-Runtime-Cognito-Identity"
	headerClientContext      = "Lambda-Runtime-Client-Context"
	headerInvokedFunctionARN = "Lambda-Runtime-Invoked-Function-Arn"
)

// maxPreallocPayload caps the buffer preallocated from Content-Length.
const maxPreallocPayload = 10 << 20

// RuntimeAPI is the subset of the Runtime API the event loop needs.
type RuntimeAPI interface {
	// Next blocks until an invocation is available, ctx is cancelled, or an error occurs.
	Next(ctx context.Context) (*Invocation, error)
	// Response posts the JSON-encoded function result.
	Response(ctx context.Context, requestID string, payload []byte) error
	// Error posts a JSON-encoded {"errorMessage","errorType"} body for a failed invocation.
	Error(ctx context.Context, requestID string, errBody []byte) error
	// InitError reports a fatal initialization failure. Lambda tears the runtime down afterwards.
	InitError(ctx context.Context, errBody []byte) error
}

// lambdaTransport talks to the local Runtime API endpoint: plain HTTP/1.1 on
// loopback, no proxy, no compression, pooled connections.
var lambdaTransport = &http.Transport{
	Proxy:               nil,
	MaxIdleConns:        16,
	MaxIdleConnsPerHost: 16,
	IdleConnTimeout:     120 * time.Second,
	DisableCompression:  true,
	ForceAttemptHTTP2:   false,
	DialContext: (&net.Dialer{
		Timeout:   1 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	ExpectContinueTimeout: 0,
}

var (
	// nextClient long-polls /invocation/next, so it has no timeout.
	nextClient = &http.Client{Transport: lambdaTransport, Timeout: 0}
	// postClient posts responses and errors.
	postClient = &http.Client{Transport: lambdaTransport, Timeout: 5 * time.Second}
)

// Client implements RuntimeAPI.
type Client struct {
	// Format: http://$AWS_LAMBDA_RUNTIME_API/2018-06-01/runtime
	baseURL string

	nextURL     string
	initErrURL  string
	invoPrefix  string
	registerURL string

	next *http.Client
	post *http.Client
}

var _ RuntimeAPI = (*Client)(nil)

// NewClient builds a client for the endpoint in AWS_LAMBDA_RUNTIME_API.
func NewClient() (*Client, error) {
	host := os.Getenv("AWS_LAMBDA_RUNTIME_API")
	if host == "" {
		return nil, errors.New("AWS_LAMBDA_RUNTIME_API environment variable not set")
	}
	return NewClientWithHost(host), nil
}

// NewClientWithHost builds a client for host ("127.0.0.1:9001"), e.g. a local emulator.
func NewClientWithHost(host string) *Client {
	baseURL := "http://" + host + runtimeAPIPrefix
	return &Client{
		baseURL:     baseURL,
		nextURL:     baseURL + "/invocation/next",
		initErrURL:  baseURL + "/init/error",
		invoPrefix:  baseURL + "/invocation/",
		registerURL: "http://" + host + extensionAPIPrefix + "/register",
		next:        nextClient,
		post:        postClient,
	}
}

// Invocation is one event received from /invocation/next.
type Invocation struct {
	// RequestID must be echoed on Response or Error.
	RequestID string

	// Example: "arn:aws:lambda:us-east-2:123456789012:function:my-function"
	InvokedFunctionArn string

	// Deadline is when Lambda stops the invocation. Zero when the header is missing.
	Deadline time.Time

	TraceID string

	// CognitoIdentity and ClientContext are raw JSON, set only for mobile SDK invocations.
	CognitoIdentity string
	ClientContext   string

	// Payload is the raw JSON event.
	Payload []byte

	Headers http.Header
}

// drainAndClose reads the body to EOF so the connection can be reused.
func drainAndClose(b io.ReadCloser) {
	if b == nil {
		return
	}
	_, _ = io.Copy(io.Discard, b)
	_ = b.Close()
}

// parseDeadline converts the Unix-millisecond deadline header. Missing or bad headers yield zero time.
func parseDeadline(h http.Header) time.Time {
	if msStr := h.Get(headerDeadlineMS); msStr != "" {
		if ms, err := strconv.ParseInt(msStr, 10, 64); err == nil {
			return time.UnixMilli(ms)
		}
	}
	return time.Time{}
}

// parseInvocation turns an /invocation/next response into an Invocation.
func parseInvocation(resp *http.Response) (*Invocation, error) {
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("invocation/next failed: %s: %s", resp.Status, string(body))
	}

	var payload []byte
	if resp.ContentLength > 0 && resp.ContentLength <= maxPreallocPayload {
		bb := bytes.NewBuffer(make([]byte, 0, resp.ContentLength))
		if _, err := bb.ReadFrom(&io.LimitedReader{R: resp.Body, N: resp.ContentLength}); err != nil {
			return nil, fmt.Errorf("failed to read invocation payload: %w", err)
		}
		payload = bb.Bytes()
	} else {
		var err error
		if payload, err = io.ReadAll(resp.Body); err != nil {
			return nil, fmt.Errorf("failed to read invocation payload: %w", err)
		}
	}

	h := resp.Header
	return &Invocation{
		RequestID:          h.Get(headerAWSRequestID),
		InvokedFunctionArn: h.Get(headerInvokedFunctionARN),
		Deadline:           parseDeadline(h),
		TraceID:            h.Get(headerTraceID),
		CognitoIdentity:    h.Get(headerCognitoIdentity),
		ClientContext:      h.Get(headerClientContext),
		Payload:            payload,
		Headers:            h.Clone(),
	}, nil
}

// Next retrieves the next invocation. ctx cancels the long poll, e.g. on shutdown.
func (c *Client) Next(ctx context.Context) (*Invocation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.nextURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.next.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get next invocation: %w", err)
	}

	return parseInvocation(resp)
}

// Response posts payload as the result of requestID.
func (c *Client) Response(ctx context.Context, requestID string, payload []byte) error {
	if requestID == "" {
		return errors.New("requestID cannot be empty")
	}
	return c.postCommon(ctx, c.invoPrefix+requestID+"/response", payload)
}

// Error reports requestID as failed.
//
//	{"errorMessage":"missing required event field: requestContext.identity.sourceIp","errorType":"ValidationError"}
func (c *Client) Error(ctx context.Context, requestID string, errBody []byte) error {
	if requestID == "" {
		return errors.New("requestID cannot be empty")
	}
	return c.postCommon(ctx, c.invoPrefix+requestID+"/error", errBody)
}

// InitError reports a failure before the first Next, such as invalid configuration.
func (c *Client) InitError(ctx context.Context, errBody []byte) error {
	return c.postCommon(ctx, c.initErrURL, errBody)
}

// RegisterExtension registers an internal extension subscribed to no events
// and returns its identifier. Lambda sends SIGTERM to the runtime at shutdown
// only when at least one extension is registered. It must be called during
// init, before the first Next.
func (c *Client) RegisterExtension(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", errors.New("extension name cannot be empty")
	}
	body := []byte(`{"events":[]}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.registerURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(headerExtensionName, name)
	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = int64(len(body))

	resp, err := c.post.Do(req)
	if err != nil {
		return "", fmt.Errorf("extension register failed: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("extension register failed: %s: %s", resp.Status, string(b))
	}
	return resp.Header.Get(headerExtensionIdentifier), nil
}

// postCommon POSTs a JSON body with an explicit Content-Length and drains the reply.
func (c *Client) postCommon(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.ContentLength = int64(len(body))

	resp, err := c.post.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("POST %s failed: %s: %s", url, resp.Status, string(b))
	}

	return nil
}
