// Command invoke runs the hello handler once against an event file, without
// Lambda or a Runtime API emulator.
//
//	invoke --event testdata/apigw.json
//	echo '{}' | invoke --event - --variant static
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gurre/hello-lambda/greeting"
	"github.com/gurre/hello-lambda/hostinfo"
	"github.com/gurre/hello-lambda/log"
	"github.com/gurre/hello-lambda/runtime"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

type invokeFlags struct {
	event        string
	variant      string
	message      string
	sourceIPPath string
	timeout      time.Duration
	verbose      bool
}

func main() {
	if err := newRootCmd(os.Stdin).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdin io.Reader) *cobra.Command {
	var f invokeFlags

	cmd := &cobra.Command{
		Use:           "invoke",
		Short:         "Run the hello handler against a single event",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := invoke(cmd.Context(), f, stdin, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.event, "event", "e", "-", `event JSON file, "-" reads stdin`)
	flags.StringVar(&f.variant, "variant", string(greeting.VariantOrigin), "handler variant: origin or static")
	flags.StringVar(&f.message, "message", "", "greeting message (default depends on the variant)")
	flags.StringVar(&f.sourceIPPath, "source-ip-path", greeting.SourceIPPathREST, "gjson path of the caller address in the event")
	flags.DurationVar(&f.timeout, "timeout", 3*time.Second, "invocation deadline")
	flags.BoolVarP(&f.verbose, "verbose", "v", false, "log handler debug output to stderr")
	return cmd
}

func invoke(ctx context.Context, f invokeFlags, stdin io.Reader, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	variant, err := greeting.ParseVariant(f.variant)
	if err != nil {
		return err
	}
	event, err := readEvent(f.event, stdin)
	if err != nil {
		return err
	}

	// Warnings always reach stderr; --verbose adds the handler's debug output.
	logger := log.New(log.LevelWarn, stderr)
	if f.verbose {
		logger = log.New(log.LevelDebug, stderr)
	}
	h := greeting.New(
		greeting.WithVariant(variant),
		greeting.WithMessage(f.message),
		greeting.WithSourceIPPath(f.sourceIPPath),
		greeting.WithHost(hostinfo.Host()),
		greeting.WithLogger(logger),
	)

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return runOnce(ctx, h, event, stdout, logger)
}

// runOnce drives h through one full lifecycle and prints the response.
func runOnce(ctx context.Context, h runtime.Handler[json.RawMessage, greeting.Response], event json.RawMessage, stdout io.Writer, logger log.Logger) error {
	deadline, _ := ctx.Deadline()
	rc := runtime.RequestContext{AwsRequestID: uuid.NewString(), Deadline: deadline}
	rc.PopulateFromEnvironment()
	ctx = runtime.WithRequestContext(ctx, rc)

	if err := h.ColdStart(ctx); err != nil {
		return fmt.Errorf("cold start: %w", err)
	}
	defer func() {
		if err := h.Shutdown(ctx); err != nil {
			logger.WithError(err).Warn(ctx, "handler shutdown failed", "aws_request_id", rc.AwsRequestID)
		}
	}()

	if err := h.Validate(ctx, event); err != nil {
		return err
	}
	resp, err := h.Handler(ctx, event)
	if err != nil {
		return err
	}

	out, err := jsoniter.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, string(out))
	return err
}

func readEvent(path string, stdin io.Reader) (json.RawMessage, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read event: %w", err)
	}
	if len(b) == 0 {
		return nil, errors.New("read event: empty input")
	}
	if !jsoniter.Valid(b) {
		return nil, fmt.Errorf("read event %s: not valid JSON", path)
	}
	return b, nil
}
