package logging

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Error(msg string, kv ...any)
	Fatal(msg string, kv ...any)
}

// Entry is a log record kept in the in-memory ring for the logs endpoint.
type Entry struct {
	Time   time.Time      `json:"time"`
	Level  string         `json:"level"`
	Msg    string         `json:"msg"`
	Fields map[string]any `json:"fields,omitempty"`
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

var (
	bufMu   sync.RWMutex
	recent  = make([]*Entry, 1000)
	nextIdx = 0
	// shared by every logger built by New
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	// live subscribers for streaming
	subMu       sync.RWMutex
	subscribers = map[chan *Entry]struct{}{}
)

// New creates a logger; honors env vars LOG_LEVEL (debug|info|error), LOG_JSON (true|false).
// env "dev" switches zap to its development encoder config.
func New(env string) Logger {
	lvl := os.Getenv("LOG_LEVEL")
	if lvl == "" {
		lvl = "info"
	}
	SetLevel(lvl)

	encCfg := zap.NewProductionEncoderConfig()
	if env == "dev" {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	var enc zapcore.Encoder = zapcore.NewJSONEncoder(encCfg)
	if os.Getenv("LOG_JSON") == "false" {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)
	return &zapLogger{sugar: zap.New(core).Sugar()}
}

// Nop returns a logger that discards output but still feeds the recent ring.
func Nop() Logger {
	return &zapLogger{sugar: zap.NewNop().Sugar()}
}

// SetLevel changes the level of every logger. Unknown values select info.
func SetLevel(lvl string) {
	switch lvl {
	case "debug":
		level.SetLevel(zapcore.DebugLevel)
	case "error":
		level.SetLevel(zapcore.ErrorLevel)
	case "fatal":
		level.SetLevel(zapcore.FatalLevel)
	default:
		level.SetLevel(zapcore.InfoLevel)
	}
}

func GetLevel() string { return level.Level().String() }

func broadcast(e *Entry) {
	subMu.RLock()
	defer subMu.RUnlock()
	for ch := range subscribers {
		select {
		case ch <- e:
		default: // drop if slow
		}
	}
}

func appendBuf(e *Entry) {
	bufMu.Lock()
	recent[nextIdx] = e
	nextIdx = (nextIdx + 1) % len(recent)
	bufMu.Unlock()
	broadcast(e)
}

func fieldsFromKV(kv []any) map[string]any {
	if len(kv) == 0 {
		return nil
	}
	m := map[string]any{}
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		m[k] = kv[i+1]
	}
	return m
}

func (l *zapLogger) record(lvl zapcore.Level, msg string, kv []any) bool {
	if !level.Enabled(lvl) {
		return false
	}
	appendBuf(&Entry{Time: time.Now(), Level: lvl.String(), Msg: msg, Fields: fieldsFromKV(kv)})
	return true
}

func (l *zapLogger) Debug(msg string, kv ...any) {
	if l.record(zapcore.DebugLevel, msg, kv) {
		l.sugar.Debugw(msg, kv...)
	}
}

func (l *zapLogger) Info(msg string, kv ...any) {
	if l.record(zapcore.InfoLevel, msg, kv) {
		l.sugar.Infow(msg, kv...)
	}
}

func (l *zapLogger) Error(msg string, kv ...any) {
	if l.record(zapcore.ErrorLevel, msg, kv) {
		l.sugar.Errorw(msg, kv...)
	}
}

func (l *zapLogger) Fatal(msg string, kv ...any) {
	l.record(zapcore.FatalLevel, msg, kv)
	l.sugar.Errorw(msg, kv...)
	_ = l.sugar.Sync()
	os.Exit(1)
}

// Recent returns up to n most recent log entries (newest-first).
func Recent(n int) []*Entry {
	bufMu.RLock()
	defer bufMu.RUnlock()
	if n <= 0 || n > len(recent) {
		n = len(recent)
	}
	out := make([]*Entry, 0, n)
	i := (nextIdx - 1 + len(recent)) % len(recent)
	for c := 0; c < len(recent) && len(out) < n; c++ {
		if recent[i] != nil {
			out = append(out, recent[i])
		}
		i = (i - 1 + len(recent)) % len(recent)
	}
	return out
}

// Subscribe returns a channel that will receive new log entries. Call the returned cancel func to unsubscribe.
func Subscribe() (<-chan *Entry, func()) {
	ch := make(chan *Entry, 100)
	subMu.Lock()
	subscribers[ch] = struct{}{}
	subMu.Unlock()
	cancel := func() {
		subMu.Lock()
		delete(subscribers, ch)
		close(ch)
		subMu.Unlock()
	}
	return ch, cancel
}
