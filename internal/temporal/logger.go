// Package temporal holds the Temporal client plumbing shared by the worker
// and the HTTP launcher.
package temporal

import (
	"fmt"
	"reflect"

	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// Logger routes Temporal SDK logs into zap.
type Logger struct {
	zl *zap.Logger
}

var _ log.Logger = (*Logger)(nil)
var _ log.WithLogger = (*Logger)(nil)

func NewLogger(zl *zap.Logger) *Logger {
	if zl == nil {
		zl = zap.NewNop()
	}
	return &Logger{zl: zl.Named("temporal")}
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) { l.zl.Debug(msg, fields(keyvals)...) }
func (l *Logger) Info(msg string, keyvals ...interface{})  { l.zl.Info(msg, fields(keyvals)...) }
func (l *Logger) Warn(msg string, keyvals ...interface{})  { l.zl.Warn(msg, fields(keyvals)...) }
func (l *Logger) Error(msg string, keyvals ...interface{}) { l.zl.Error(msg, fields(keyvals)...) }

// With returns a logger carrying keyvals on every entry.
func (l *Logger) With(keyvals ...interface{}) log.Logger {
	return &Logger{zl: l.zl.With(fields(keyvals)...)}
}

// fields turns alternating key/value pairs into zap fields. A trailing key
// without value is kept under "extra".
func fields(keyvals []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(keyvals)/2+1)
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keyvals[i])
		}
		if i+1 >= len(keyvals) {
			out = append(out, field("extra", key))
			break
		}
		out = append(out, field(key, keyvals[i+1]))
	}
	return out
}

// field guards zap.Any against values it cannot encode.
func field(key string, val interface{}) (f zap.Field) {
	defer func() {
		if r := recover(); r != nil {
			f = zap.String(key, fmt.Sprintf("<unserializable: %v>", r))
		}
	}()
	if val == nil {
		return zap.String(key, "<nil>")
	}
	switch reflect.ValueOf(val).Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return zap.String(key, fmt.Sprintf("<%T>", val))
	}
	if err, ok := val.(error); ok {
		return zap.NamedError(key, err)
	}
	return zap.Any(key, val)
}
