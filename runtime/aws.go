package runtime

import (
	"context"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/gurre/hello-lambda/shutdown"
)

// StartAWS runs h on github.com/aws/aws-lambda-go instead of the custom event
// loop. ColdStart runs before the runtime starts; SIGTERM is delivered to the
// coordinator through lambda.WithEnableSIGTERM, which also registers the
// no-op extension Lambda requires before it sends SIGTERM at all.
func StartAWS[T, R any](h Handler[T, R], c *shutdown.Coordinator) error {
	ctx, cancel := context.WithTimeout(context.Background(), coldStartTimeout)
	err := h.ColdStart(ctx)
	cancel()
	if err != nil {
		return err
	}

	c.AddCleanup(h.Shutdown)
	lambda.StartWithOptions(awsHandler(h), lambda.WithEnableSIGTERM(func() {
		c.Trigger(syscall.SIGTERM)
	}))
	return nil
}

// awsHandler adapts h to the func(ctx, T) (R, error) shape aws-lambda-go
// reflects on, bridging lambdacontext into RequestContext.
func awsHandler[T, R any](h Handler[T, R]) func(context.Context, T) (R, error) {
	var env RequestContext
	env.PopulateFromEnvironment()

	return func(ctx context.Context, event T) (R, error) {
		rc := env
		if lc, ok := lambdacontext.FromContext(ctx); ok {
			rc.AwsRequestID = lc.AwsRequestID
			rc.InvokedFunctionArn = lc.InvokedFunctionArn
			rc.Identity = CognitoIdentity{
				CognitoIdentityID:     lc.Identity.CognitoIdentityID,
				CognitoIdentityPoolID: lc.Identity.CognitoIdentityPoolID,
			}
			rc.ClientContext = ClientContext{
				Client: ClientApplication{
					InstallationID: lc.ClientContext.Client.InstallationID,
					AppTitle:       lc.ClientContext.Client.AppTitle,
					AppVersionCode: lc.ClientContext.Client.AppVersionCode,
					AppPackageName: lc.ClientContext.Client.AppPackageName,
				},
				Env:    lc.ClientContext.Env,
				Custom: lc.ClientContext.Custom,
			}
		}
		if deadline, ok := ctx.Deadline(); ok {
			rc.Deadline = deadline
		}
		ctx = NewContext(ctx, &rc)

		if err := h.Validate(ctx, event); err != nil {
			var zero R
			return zero, err
		}
		return h.Handler(ctx, event)
	}
}
