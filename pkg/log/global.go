package log

import (
	"context"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap/zapcore"
)

func L() *otelzap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return gLogger
}

func S() *otelzap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return gSLogger
}

func Flush() {
	_ = L().Logger.Sync()
}

// Ctx 返回携带ctx的logger,ctx中若有span,日志会同时作为span事件记录
func Ctx(ctx context.Context) otelzap.LoggerWithCtx {
	return L().Ctx(ctx)
}

func Debug(msg string, fields ...zapcore.Field) {
	L().Debug(msg, fields...)
}

func Debugf(format string, v ...interface{}) {
	S().Debugf(format, v...)
}

func Debugw(msg string, kv ...interface{}) {
	S().Debugw(msg, kv...)
}

func Info(msg string, fields ...zapcore.Field) {
	L().Info(msg, fields...)
}

func Infof(format string, v ...interface{}) {
	S().Infof(format, v...)
}

func Infow(msg string, kv ...interface{}) {
	S().Infow(msg, kv...)
}

func InfofContext(ctx context.Context, format string, v ...interface{}) {
	S().InfofContext(ctx, format, v...)
}

func Warn(msg string, fields ...zapcore.Field) {
	L().Warn(msg, fields...)
}

func Warnf(format string, v ...interface{}) {
	S().Warnf(format, v...)
}

func Warnw(msg string, kv ...interface{}) {
	S().Warnw(msg, kv...)
}

func WarnfContext(ctx context.Context, format string, v ...interface{}) {
	S().WarnfContext(ctx, format, v...)
}

func Error(msg string, fields ...zapcore.Field) {
	L().Error(msg, fields...)
}

func Errorf(format string, v ...interface{}) {
	S().Errorf(format, v...)
}

func Errorw(msg string, kv ...interface{}) {
	S().Errorw(msg, kv...)
}

func ErrorfContext(ctx context.Context, format string, v ...interface{}) {
	S().ErrorfContext(ctx, format, v...)
}

func Fatalf(format string, v ...interface{}) {
	S().Fatalf(format, v...)
}
