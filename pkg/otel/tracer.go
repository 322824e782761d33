// Package otel 提供 OpenTelemetry 可观测性支持
//
// 检索、组装和性能监控通过这里的 Tracer/Metrics/Logger 接口上报，
// 未启用时全部退化为空实现。
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer 追踪器
type Tracer interface {
	// Start 在 ctx 下开启子 Span，返回携带它的新上下文
	Start(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span)
	// SpanFromContext 取上下文中的当前 Span，没有时返回空 Span
	SpanFromContext(ctx context.Context) Span
}

// Span 一次被追踪的操作，End 之后不应再使用
type Span interface {
	End()
	SetAttributes(attrs ...attribute.KeyValue)
	AddEvent(name string, attrs ...attribute.KeyValue)
	RecordError(err error)
	SetStatus(code StatusCode, description string)
	SpanContext() SpanContext
}

// SpanContext 日志关联用的追踪标识，未采样时为空
type SpanContext struct {
	TraceID string
	SpanID  string
}

// StatusCode Span 状态
type StatusCode int

const (
	StatusUnset StatusCode = iota
	StatusOK
	StatusError
)

// SpanKind Span 类型
type SpanKind int

const (
	SpanKindInternal SpanKind = iota
	SpanKindServer
	SpanKindClient
	SpanKindProducer
	SpanKindConsumer
)

// SpanConfig Start 的可选参数
type SpanConfig struct {
	Kind       SpanKind
	Attributes []attribute.KeyValue
}

// SpanOption 配置 SpanConfig
type SpanOption func(*SpanConfig)

// WithSpanKind 设置 Span 类型
func WithSpanKind(kind SpanKind) SpanOption {
	return func(cfg *SpanConfig) { cfg.Kind = kind }
}

// WithAttributes 追加起始属性
func WithAttributes(attrs ...attribute.KeyValue) SpanOption {
	return func(cfg *SpanConfig) { cfg.Attributes = append(cfg.Attributes, attrs...) }
}

var spanKinds = map[SpanKind]trace.SpanKind{
	SpanKindInternal: trace.SpanKindInternal,
	SpanKindServer:   trace.SpanKindServer,
	SpanKindClient:   trace.SpanKindClient,
	SpanKindProducer: trace.SpanKindProducer,
	SpanKindConsumer: trace.SpanKindConsumer,
}

var statusCodes = map[StatusCode]codes.Code{
	StatusUnset: codes.Unset,
	StatusOK:    codes.Ok,
	StatusError: codes.Error,
}

// OTelTracer 包装 OpenTelemetry 的 trace.Tracer
type OTelTracer struct {
	tracer trace.Tracer
}

// NewTracer 创建 OpenTelemetry 追踪器
func NewTracer(tracer trace.Tracer) *OTelTracer {
	return &OTelTracer{tracer: tracer}
}

// Start 开启 Span
func (t *OTelTracer) Start(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	var cfg SpanConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	kind, ok := spanKinds[cfg.Kind]
	if !ok {
		kind = trace.SpanKindInternal
	}
	ctx, span := t.tracer.Start(ctx, name, trace.WithSpanKind(kind), trace.WithAttributes(cfg.Attributes...))
	return ctx, otelSpan{span}
}

// SpanFromContext 取当前 Span
func (t *OTelTracer) SpanFromContext(ctx context.Context) Span {
	return otelSpan{trace.SpanFromContext(ctx)}
}

// otelSpan 包装 trace.Span
type otelSpan struct {
	span trace.Span
}

func (s otelSpan) End()                                      { s.span.End() }
func (s otelSpan) SetAttributes(attrs ...attribute.KeyValue) { s.span.SetAttributes(attrs...) }
func (s otelSpan) RecordError(err error)                     { s.span.RecordError(err) }

func (s otelSpan) AddEvent(name string, attrs ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

func (s otelSpan) SetStatus(code StatusCode, description string) {
	s.span.SetStatus(statusCodes[code], description)
}

func (s otelSpan) SpanContext() SpanContext {
	sc := s.span.SpanContext()
	if !sc.IsValid() {
		return SpanContext{}
	}
	return SpanContext{TraceID: sc.TraceID().String(), SpanID: sc.SpanID().String()}
}

// NoopTracer 追踪关闭时使用
type NoopTracer struct{}

// NewNoopTracer 创建空实现追踪器
func NewNoopTracer() *NoopTracer {
	return &NoopTracer{}
}

func (*NoopTracer) Start(ctx context.Context, _ string, _ ...SpanOption) (context.Context, Span) {
	return ctx, noopSpan{}
}

func (*NoopTracer) SpanFromContext(context.Context) Span { return noopSpan{} }

type noopSpan struct{}

func (noopSpan) End()                                   {}
func (noopSpan) SetAttributes(...attribute.KeyValue)    {}
func (noopSpan) AddEvent(string, ...attribute.KeyValue) {}
func (noopSpan) RecordError(error)                      {}
func (noopSpan) SetStatus(StatusCode, string)           {}
func (noopSpan) SpanContext() SpanContext               { return SpanContext{} }

var (
	_ Tracer = (*OTelTracer)(nil)
	_ Tracer = (*NoopTracer)(nil)
	_ Span   = otelSpan{}
	_ Span   = noopSpan{}
)
