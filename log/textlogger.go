package log

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// textLogger writes one plain line per entry: "<prefix> <msg> key=value ...".
// Fields are sorted by key. Level is not printed; it only filters.
type textLogger struct {
	level  Level
	prefix string
	out    io.Writer
	mu     *sync.Mutex
	fields map[string]any
}

// NewText returns a logger that emits unstructured lines such as
// "[runtime] SIGTERM received". An empty prefix omits the leading token.
func NewText(level Level, w io.Writer, prefix string) Logger {
	if w == nil {
		w = io.Discard
	}
	return &textLogger{level: level, prefix: prefix, out: w, mu: &sync.Mutex{}}
}

func (l *textLogger) With(args ...any) Logger {
	return &textLogger{
		level:  l.level,
		prefix: l.prefix,
		out:    l.out,
		mu:     l.mu,
		fields: mergeFields(l.fields, parseArgs(args...)),
	}
}

func (l *textLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return l.With("error", err.Error())
}

func (l *textLogger) log(level Level, msg string, fields map[string]any) {
	if level < l.level {
		return
	}

	all := mergeFields(l.fields, fields)
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	if l.prefix != "" {
		b.WriteString(l.prefix)
		b.WriteByte(' ')
	}
	b.WriteString(msg)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, all[k])
	}
	b.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.out, b.String())
}

func (l *textLogger) Debug(_ context.Context, msg string, args ...any) {
	l.log(LevelDebug, msg, parseArgs(args...))
}

func (l *textLogger) Info(_ context.Context, msg string, args ...any) {
	l.log(LevelInfo, msg, parseArgs(args...))
}

func (l *textLogger) Warn(_ context.Context, msg string, args ...any) {
	l.log(LevelWarn, msg, parseArgs(args...))
}

func (l *textLogger) Error(_ context.Context, msg string, args ...any) {
	l.log(LevelError, msg, parseArgs(args...))
}
