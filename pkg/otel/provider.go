package otel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Provider 可观测性提供者
//
// 构建后 Tracer/Metrics/Logger 不再变化；Shutdown 刷新并关闭导出器。
type Provider struct {
	config  Config
	tracer  Tracer
	metrics Metrics
	logger  Logger

	mu       sync.Mutex
	shutdown []func(context.Context) error
}

// NewProvider 创建可观测性提供者
//
// 日志总是按 Logging 配置创建；追踪和指标只有在 Enabled 时才会接入导出器，
// 并注册为 OpenTelemetry 的全局 Provider。
func NewProvider(cfg Config) (*Provider, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Provider{
		config:  cfg,
		tracer:  NewNoopTracer(),
		metrics: NewNoopMetrics(),
		logger:  NewLoggerFromConfig(cfg.Logging, nil),
	}
	if !cfg.Enabled {
		return p, nil
	}

	ctx := context.Background()
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		semconv.DeploymentEnvironmentKey.String(cfg.Environment),
	))
	if err != nil {
		return nil, err
	}

	if cfg.Tracing.Enabled {
		if err := p.initTracing(ctx, res); err != nil {
			return nil, err
		}
	}
	if cfg.Metrics.Enabled {
		if err := p.initMetrics(ctx, res); err != nil {
			_ = p.Shutdown(ctx)
			return nil, err
		}
	}
	return p, nil
}

// sampler 按采样率选择采样器
func (p *Provider) sampler() sdktrace.Sampler {
	switch rate := p.config.Tracing.SampleRate; {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

func (p *Provider) initTracing(ctx context.Context, res *resource.Resource) error {
	exporter, err := CreateTraceExporter(ctx, ExporterConfig{
		Type:        p.config.Tracing.Exporter,
		Endpoint:    p.config.Tracing.Endpoint,
		Insecure:    p.config.Tracing.Insecure,
		Headers:     p.config.Tracing.Headers,
		Timeout:     p.config.Tracing.Timeout,
		Compression: p.config.Tracing.Compression,
	})
	if err != nil {
		return err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(p.sampler()),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p.shutdown = append(p.shutdown, tp.Shutdown)
	p.tracer = NewTracer(tp.Tracer(p.config.ServiceName))
	return nil
}

func (p *Provider) initMetrics(ctx context.Context, res *resource.Resource) error {
	exporter, err := CreateMetricExporter(ctx, ExporterConfig{
		Type:        p.config.Metrics.Exporter,
		Endpoint:    p.config.Metrics.Endpoint,
		Insecure:    p.config.Metrics.Insecure,
		Headers:     p.config.Metrics.Headers,
		Compression: p.config.Metrics.Compression,
	})
	if err != nil {
		return err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(p.config.Metrics.Interval))),
	)
	otel.SetMeterProvider(mp)

	p.shutdown = append(p.shutdown, mp.Shutdown)
	p.metrics = NewOTelMetrics(mp.Meter(p.config.ServiceName))
	return nil
}

// Config 返回补全默认值后的配置
func (p *Provider) Config() Config { return p.config }

// Tracer 返回追踪器
func (p *Provider) Tracer() Tracer { return p.tracer }

// Metrics 返回指标
func (p *Provider) Metrics() Metrics { return p.metrics }

// Logger 返回日志
func (p *Provider) Logger() Logger { return p.logger }

// Shutdown 刷新并关闭导出器，重复调用无副作用
func (p *Provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	fns := p.shutdown
	p.shutdown = nil
	p.mu.Unlock()

	var errs []error
	for _, fn := range fns {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// global 进程级提供者，供没有显式注入依赖的代码使用
var global atomic.Pointer[Provider]

// SetGlobal 设置全局提供者
func SetGlobal(p *Provider) { global.Store(p) }

// Global 返回全局提供者，未设置时为 nil
func Global() *Provider { return global.Load() }

// GetTracer 全局追踪器，未设置时为空实现
func GetTracer() Tracer {
	if p := global.Load(); p != nil {
		return p.Tracer()
	}
	return NewNoopTracer()
}

// GetMetrics 全局指标，未设置时为空实现
func GetMetrics() Metrics {
	if p := global.Load(); p != nil {
		return p.Metrics()
	}
	return NewNoopMetrics()
}

// GetLogger 全局日志，未设置时为空实现
func GetLogger() Logger {
	if p := global.Load(); p != nil {
		return p.Logger()
	}
	return NewNoopLogger()
}

// MustInit 创建并设置全局提供者，失败时 panic
func MustInit(cfg Config) *Provider {
	p, err := NewProvider(cfg)
	if err != nil {
		panic(err)
	}
	SetGlobal(p)
	return p
}
