// Package config resolves the function's settings from the environment,
// an optional .env file and an optional hello.yaml.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gurre/hello-lambda/greeting"
	"github.com/gurre/hello-lambda/log"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// RuntimeMode selects which event loop drives the handler.
type RuntimeMode string

const (
	// ModeCustom uses the in-repo Runtime API event loop.
	ModeCustom RuntimeMode = "custom"
	// ModeAWS hands the handler to aws-lambda-go.
	ModeAWS RuntimeMode = "aws"
)

const (
	KeyHandlerVariant  = "HANDLER_VARIANT"
	KeyGreetingMessage = "GREETING_MESSAGE"
	KeySourceIPPath    = "SOURCE_IP_PATH"
	KeyShutdownPause   = "SHUTDOWN_PAUSE"
	KeyLogLevel        = "LOG_LEVEL"
	KeyRuntimeMode     = "RUNTIME_MODE"
)

// Config holds all configuration for the function.
type Config struct {
	Variant       greeting.Variant
	Message       string // empty selects the variant's default
	SourceIPPath  string
	ShutdownPause time.Duration
	LogLevel      log.Level
	RuntimeMode   RuntimeMode
}

// GreetingOptions converts the config into handler options.
func (c *Config) GreetingOptions() []greeting.Option {
	return []greeting.Option{
		greeting.WithVariant(c.Variant),
		greeting.WithMessage(c.Message),
		greeting.WithSourceIPPath(c.SourceIPPath),
	}
}

// Load reads configuration from .env, hello.yaml (working directory or
// LAMBDA_TASK_ROOT) and the environment, in increasing precedence.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("hello")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$LAMBDA_TASK_ROOT")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	v.SetDefault(KeyHandlerVariant, string(greeting.VariantOrigin))
	v.SetDefault(KeyGreetingMessage, "")
	v.SetDefault(KeySourceIPPath, greeting.SourceIPPathREST)
	v.SetDefault(KeyShutdownPause, "200ms")
	v.SetDefault(KeyLogLevel, "INFO")
	v.SetDefault(KeyRuntimeMode, string(ModeCustom))

	variant, err := greeting.ParseVariant(v.GetString(KeyHandlerVariant))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KeyHandlerVariant, err)
	}

	pause, err := time.ParseDuration(strings.TrimSpace(v.GetString(KeyShutdownPause)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KeyShutdownPause, err)
	}
	if pause < 0 {
		return nil, fmt.Errorf("%s: negative duration %s", KeyShutdownPause, pause)
	}

	mode, err := parseRuntimeMode(v.GetString(KeyRuntimeMode))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KeyRuntimeMode, err)
	}

	return &Config{
		Variant:       variant,
		Message:       v.GetString(KeyGreetingMessage),
		SourceIPPath:  v.GetString(KeySourceIPPath),
		ShutdownPause: pause,
		LogLevel:      log.ParseLevel(v.GetString(KeyLogLevel)),
		RuntimeMode:   mode,
	}, nil
}

func parseRuntimeMode(s string) (RuntimeMode, error) {
	switch m := RuntimeMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeCustom, ModeAWS:
		return m, nil
	default:
		return "", fmt.Errorf("unknown runtime mode %q", s)
	}
}
