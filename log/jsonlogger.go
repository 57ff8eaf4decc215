package log

import (
	"context"
	"io"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// JsoniterAPI is shared by all JSON loggers. Map keys are sorted so lines are stable for grepping.
var JsoniterAPI = jsoniter.Config{
	EscapeHTML:                    true,
	SortMapKeys:                   true,
	ValidateJsonRawMessage:        true,
	MarshalFloatWith6Digits:       true,
	ObjectFieldMustBeSimpleString: true,
}.Froze()

const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// Pool for reusing entry maps between log calls
var entryPool = sync.Pool{
	New: func() interface{} {
		return make(map[string]any, 16)
	},
}

type jsonLogger struct {
	level  Level
	out    io.Writer
	mu     *sync.Mutex
	fields map[string]any
	now    func() time.Time
}

// New returns a logger writing one JSON object per line to w.
// A nil writer discards output.
func New(level Level, w io.Writer) Logger {
	if w == nil {
		w = io.Discard
	}
	return &jsonLogger{level: level, out: w, mu: &sync.Mutex{}, now: time.Now}
}

func (l *jsonLogger) With(args ...any) Logger {
	return &jsonLogger{
		level:  l.level,
		out:    l.out,
		mu:     l.mu,
		fields: mergeFields(l.fields, parseArgs(args...)),
		now:    l.now,
	}
}

func (l *jsonLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return l.With("error", err.Error())
}

func (l *jsonLogger) log(_ context.Context, level Level, msg string, fields map[string]any) {
	if level < l.level {
		return
	}

	entry := entryPool.Get().(map[string]any)
	defer func() {
		for k := range entry {
			delete(entry, k)
		}
		entryPool.Put(entry)
	}()

	for k, v := range l.fields {
		entry[k] = v
	}
	for k, v := range fields {
		entry[k] = v
	}
	// Core fields win over user supplied ones.
	entry["timestamp"] = l.now().UTC().Format(timestampLayout)
	entry["level"] = level.String()
	entry["message"] = msg

	// Encode into the stream's buffer and hand the writer one complete line;
	// other loggers share stdout and must never see half an entry.
	stream := JsoniterAPI.BorrowStream(nil)
	defer JsoniterAPI.ReturnStream(stream)

	stream.WriteVal(entry)
	if stream.Error != nil {
		stream.Reset(nil)
		stream.Error = nil
		stream.WriteRaw(`{"level":"ERROR","message":"failed to marshal log entry","timestamp":"` +
			l.now().UTC().Format(timestampLayout) + `"}`)
	}
	stream.WriteRaw("\n")

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write(stream.Buffer())
}

func (l *jsonLogger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelDebug, msg, parseArgs(args...))
}

func (l *jsonLogger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelInfo, msg, parseArgs(args...))
}

func (l *jsonLogger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelWarn, msg, parseArgs(args...))
}

func (l *jsonLogger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelError, msg, parseArgs(args...))
}
