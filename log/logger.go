package log

import (
	"context"
	"strings"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Pre-computed level strings to avoid allocations
var levelStrings = [...]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

func (l Level) String() string {
	if l >= 0 && int(l) < len(levelStrings) {
		return levelStrings[l]
	}
	return "INFO"
}

// ParseLevel maps LOG_LEVEL style strings to a Level. Unknown values fall back to info.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

type Logger interface {
	// With adds persistent fields to a derived logger.
	// Accepts either alternating "key", value pairs or a single map[string]any.
	With(args ...any) Logger

	// WithError adds a persistent "error" field to a derived logger.
	WithError(err error) Logger

	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
}

// Discard returns a logger that drops everything.
func Discard() Logger {
	return New(LevelError+1, nil)
}

// mergeFields returns a new map holding base overlaid with extra.
func mergeFields(base, extra map[string]any) map[string]any {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// parseArgs turns alternating key/value pairs (or a single map) into a field map.
// Non-string keys and a trailing key without value are dropped.
func parseArgs(args ...any) map[string]any {
	if len(args) == 0 {
		return nil
	}

	if len(args) == 1 {
		if m, ok := args[0].(map[string]any); ok {
			return m
		}
	}

	capacity := (len(args) + 1) / 2
	if capacity < 4 {
		capacity = 4
	}

	out := make(map[string]any, capacity)
	for i := 0; i+1 < len(args); i += 2 {
		if k, ok := args[i].(string); ok {
			out[k] = args[i+1]
		}
	}
	return out
}
