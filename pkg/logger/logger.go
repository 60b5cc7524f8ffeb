// Package logger provides the process-wide structured JSON logger.
// All services log through InfoJ/ErrorJ with an event name and a flat
// field map so log lines stay grep-able across nodes.
package logger

import (
	"sort"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log = newDefault()
)

func newDefault() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.MessageKey = "event"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// Replace swaps the underlying zap logger (tests use a Nop logger).
func Replace(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l != nil {
		log = l
	}
}

func fieldsOf(kv map[string]any) []zap.Field {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, kv[k]))
	}
	return out
}

func Info(msg string)  { mu.RLock(); defer mu.RUnlock(); log.Info(msg) }
func Warn(msg string)  { mu.RLock(); defer mu.RUnlock(); log.Warn(msg) }
func Error(msg string) { mu.RLock(); defer mu.RUnlock(); log.Error(msg) }

// InfoJ emits a structured info event with the given fields.
func InfoJ(event string, kv map[string]any) {
	mu.RLock()
	defer mu.RUnlock()
	log.Info(event, fieldsOf(kv)...)
}

// ErrorJ emits a structured error event with the given fields.
func ErrorJ(event string, kv map[string]any) {
	mu.RLock()
	defer mu.RUnlock()
	log.Error(event, fieldsOf(kv)...)
}
