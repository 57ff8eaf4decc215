// Command bootstrap is the function's entry point. Built for provided.al2023
// it is the "bootstrap" executable Lambda starts in the execution environment.
package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/gurre/hello-lambda/config"
	"github.com/gurre/hello-lambda/greeting"
	"github.com/gurre/hello-lambda/hostinfo"
	"github.com/gurre/hello-lambda/log"
	"github.com/gurre/hello-lambda/runtime"
	"github.com/gurre/hello-lambda/runtimeapi"
	"github.com/gurre/hello-lambda/shutdown"
)

const initErrorTimeout = 2 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		logger := log.New(log.LevelInfo, os.Stdout)
		logger.WithError(err).Error(ctx, "invalid configuration")
		reportInitError(ctx, logger, err)
		return 1
	}

	logger := log.New(cfg.LogLevel, os.Stdout)
	handler := greeting.New(append(cfg.GreetingOptions(),
		greeting.WithHost(hostinfo.Host()),
		greeting.WithLogger(logger),
	)...)
	coordinator := shutdown.New(shutdown.WithPause(cfg.ShutdownPause))

	switch cfg.RuntimeMode {
	case config.ModeAWS:
		err = runtime.StartAWS[json.RawMessage, greeting.Response](handler, coordinator)
	default:
		err = runtime.Start[json.RawMessage, greeting.Response](handler, coordinator, runtime.WithLogger(logger))
	}
	if err != nil {
		logger.WithError(err).Error(ctx, "runtime stopped")
		return 1
	}
	return 0
}

// reportInitError tells Lambda why initialization failed. Outside Lambda
// there is no Runtime API and the log line is all there is.
func reportInitError(ctx context.Context, logger log.Logger, cause error) {
	api, err := runtimeapi.NewClient()
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, initErrorTimeout)
	defer cancel()
	if err := runtime.ReportInitError(ctx, api, cause); err != nil {
		logger.WithError(err).Warn(ctx, "posting init error failed")
	}
}
