package otel

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"

	"go.opentelemetry.io/otel/trace"
)

// Logger 日志接口
//
// 参数与 slog 一致，为交替出现的键值对。
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	// WithContext 附加上下文中 Span 的 trace_id 和 span_id
	WithContext(ctx context.Context) Logger
	// WithFields 附加固定字段
	WithFields(fields map[string]any) Logger
}

// SlogLogger 基于 slog 的日志
type SlogLogger struct {
	logger   *slog.Logger
	traceIDs bool
}

// NewSlogLogger 包装 slog.Logger，nil 时使用 slog.Default()
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger, traceIDs: true}
}

// NewLoggerFromConfig 按日志配置创建，w 为空时写到标准错误
func NewLoggerFromConfig(cfg LoggingConfig, w io.Writer) *SlogLogger {
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	}
	return &SlogLogger{logger: slog.New(handler), traceIDs: cfg.IncludeTraceID}
}

// parseLevel 未知级别按 info 处理
func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *SlogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *SlogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *SlogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *SlogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

// WithContext 附加追踪标识；关闭 IncludeTraceID 或上下文没有有效 Span 时原样返回
func (l *SlogLogger) WithContext(ctx context.Context) Logger {
	if !l.traceIDs || ctx == nil {
		return l
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return l
	}
	return &SlogLogger{
		logger:   l.logger.With("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String()),
		traceIDs: l.traceIDs,
	}
}

// WithFields 附加字段，按键排序以保证输出稳定
func (l *SlogLogger) WithFields(fields map[string]any) Logger {
	if len(fields) == 0 {
		return l
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, len(fields)*2)
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	return &SlogLogger{logger: l.logger.With(args...), traceIDs: l.traceIDs}
}

// NoopLogger 丢弃所有日志
type NoopLogger struct{}

// NewNoopLogger 创建空实现日志
func NewNoopLogger() *NoopLogger {
	return &NoopLogger{}
}

func (l *NoopLogger) Debug(string, ...any)               {}
func (l *NoopLogger) Info(string, ...any)                {}
func (l *NoopLogger) Warn(string, ...any)                {}
func (l *NoopLogger) Error(string, ...any)               {}
func (l *NoopLogger) WithContext(context.Context) Logger { return l }
func (l *NoopLogger) WithFields(map[string]any) Logger   { return l }

var (
	_ Logger = (*SlogLogger)(nil)
	_ Logger = (*NoopLogger)(nil)
)
