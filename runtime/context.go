package runtime

import (
	"context"
	"os"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// ClientApplication is metadata about the calling application.
type ClientApplication struct {
	InstallationID string `json:"installation_id"`
	AppTitle       string `json:"app_title"`
	AppVersionCode string `json:"app_version_code"`
	AppPackageName string `json:"app_package_name"`
}

// ClientContext contains information about the client application passed by the invoker.
type ClientContext struct {
	Client ClientApplication `json:"client"`
	Env    map[string]string `json:"env"`
	Custom map[string]string `json:"custom"`
}

// CognitoIdentity captures the Cognito identity used by the caller.
type CognitoIdentity struct {
	CognitoIdentityID     string `json:"cognitoIdentityId"`
	CognitoIdentityPoolID string `json:"cognitoIdentityPoolId"`
}

// RequestContext carries invocation metadata and AWS Lambda environment information.
type RequestContext struct {
	// Per-invocation fields
	AwsRequestID       string
	InvokedFunctionArn string
	Deadline           time.Time
	TraceID            string
	Identity           CognitoIdentity
	ClientContext      ClientContext

	// AWS Lambda environment metadata
	AWSRegion          string
	AWSDefaultRegion   string
	FunctionName       string
	FunctionVersion    string
	LogGroupName       string
	LogStreamName      string
	MemoryLimitInMB    int
	AWSExecutionEnv    string // e.g. AWS_Lambda_provided.al2023
	InitializationType string // on-demand, provisioned-concurrency or snap-start
}

type contextKey struct{}

var requestContextKey = contextKey{}

// NewContext returns a context carrying lc. The pointer is stored, so the
// event loop can refresh per-invocation fields without reallocating.
func NewContext(parent context.Context, lc *RequestContext) context.Context {
	return context.WithValue(parent, requestContextKey, lc)
}

// FromContext retrieves the RequestContext stored in ctx, if any.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	lc, ok := ctx.Value(requestContextKey).(*RequestContext)
	return lc, ok
}

// WithRequestContext stores a copy of lc; later changes to lc are not visible.
func WithRequestContext(parent context.Context, lc RequestContext) context.Context {
	copy := lc
	return NewContext(parent, &copy)
}

// PopulateFromEnvironment fills the environment metadata fields. Safe to call repeatedly.
func (rc *RequestContext) PopulateFromEnvironment() {
	rc.AWSRegion = os.Getenv("AWS_REGION")
	rc.AWSDefaultRegion = os.Getenv("AWS_DEFAULT_REGION")
	rc.FunctionName = os.Getenv("AWS_LAMBDA_FUNCTION_NAME")
	rc.FunctionVersion = os.Getenv("AWS_LAMBDA_FUNCTION_VERSION")
	rc.LogGroupName = os.Getenv("AWS_LAMBDA_LOG_GROUP_NAME")
	rc.LogStreamName = os.Getenv("AWS_LAMBDA_LOG_STREAM_NAME")
	rc.AWSExecutionEnv = os.Getenv("AWS_EXECUTION_ENV")
	rc.InitializationType = os.Getenv("AWS_LAMBDA_INITIALIZATION_TYPE")

	if limit, err := strconv.Atoi(os.Getenv("AWS_LAMBDA_FUNCTION_MEMORY_SIZE")); err == nil {
		rc.MemoryLimitInMB = limit
	}
}

// resetInvocation clears per-invocation fields, keeping environment metadata.
func (rc *RequestContext) resetInvocation() {
	rc.AwsRequestID = ""
	rc.InvokedFunctionArn = ""
	rc.Deadline = time.Time{}
	rc.TraceID = ""
	rc.Identity = CognitoIdentity{}
	rc.ClientContext = ClientContext{}
}

// decodeMobileHeaders fills Identity and ClientContext from the raw header JSON.
// Malformed headers are ignored; they never fail an invocation.
func (rc *RequestContext) decodeMobileHeaders(api jsoniter.API, cognito, clientContext string) {
	if cognito != "" {
		_ = api.UnmarshalFromString(cognito, &rc.Identity)
	}
	if clientContext != "" {
		_ = api.UnmarshalFromString(clientContext, &rc.ClientContext)
	}
}
