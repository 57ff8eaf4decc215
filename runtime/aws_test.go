package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/lambdacontext"
)

func TestAWSHandlerBridgesLambdaContext(t *testing.T) {
	// Test behavior: aws-lambda-go metadata reaches the handler as a RequestContext
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "hello")
	handler := newTestHandler()
	fn := awsHandler[TestEvent, TestResponse](handler)

	deadline := time.Now().Add(time.Minute)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	ctx = lambdacontext.NewContext(ctx, &lambdacontext.LambdaContext{
		AwsRequestID:       "aws-req-1",
		InvokedFunctionArn: "arn:aws:lambda:eu-north-1:123456789012:function:hello",
		Identity:           lambdacontext.CognitoIdentity{CognitoIdentityID: "id-9"},
	})

	resp, err := fn(ctx, TestEvent{Name: "aws"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Message != "Hello aws" {
		t.Errorf("unexpected response %+v", resp)
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.seen) != 1 {
		t.Fatalf("expected one recorded context, got %d", len(handler.seen))
	}
	rc := handler.seen[0]
	if rc.AwsRequestID != "aws-req-1" || rc.Identity.CognitoIdentityID != "id-9" || rc.FunctionName != "hello" {
		t.Errorf("unexpected request context %+v", rc)
	}
	if !rc.Deadline.Equal(deadline) {
		t.Errorf("expected deadline %v, got %v", deadline, rc.Deadline)
	}
}

func TestAWSHandlerValidatesFirst(t *testing.T) {
	handler := newTestHandler()
	fn := awsHandler[TestEvent, TestResponse](handler)

	if _, err := fn(context.Background(), TestEvent{}); err == nil {
		t.Fatal("expected validation error for an event without a name")
	}
	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.seen) != 0 {
		t.Error("Handler must not run when validation fails")
	}
}
