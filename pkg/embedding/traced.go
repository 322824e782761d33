package embedding

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/easyops/contextengine/pkg/core/errors"
	"github.com/easyops/contextengine/pkg/otel"
)

// TracedEmbedder 为嵌入器增加追踪与指标
type TracedEmbedder struct {
	inner    Embedder
	provider string
	model    string
	tracer   otel.Tracer
	metrics  otel.Metrics
}

// TracedOption 配置 TracedEmbedder
type TracedOption func(*TracedEmbedder)

// WithTracer 设置追踪器
func WithTracer(tracer otel.Tracer) TracedOption {
	return func(t *TracedEmbedder) {
		if tracer != nil {
			t.tracer = tracer
		}
	}
}

// WithMetrics 设置指标
func WithMetrics(metrics otel.Metrics) TracedOption {
	return func(t *TracedEmbedder) {
		if metrics != nil {
			t.metrics = metrics
		}
	}
}

// NewTracedEmbedder 包装嵌入器
func NewTracedEmbedder(inner Embedder, provider, model string, opts ...TracedOption) *TracedEmbedder {
	t := &TracedEmbedder{
		inner:    inner,
		provider: provider,
		model:    model,
		tracer:   otel.NewNoopTracer(),
		metrics:  otel.NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Embed 嵌入文本并记录耗时与结果
func (t *TracedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	attrs := otel.EmbeddingModel(t.provider, t.model)
	ctx, span := t.tracer.Start(ctx, "embedding.embed",
		otel.WithSpanKind(otel.SpanKindClient),
		otel.WithAttributes(append(attrs, attribute.Int(otel.AttrEmbeddingTexts, len(texts)))...),
	)
	defer span.End()

	start := time.Now()
	vectors, err := t.inner.Embed(ctx, texts)
	elapsed := time.Since(start)

	provider := otel.NewAttr(otel.AttrEmbeddingProvider, t.provider)
	t.metrics.Counter(otel.MetricEmbeddingRequests).Add(ctx, 1, provider)
	t.metrics.Histogram(otel.MetricEmbeddingDuration).Record(ctx, float64(elapsed.Milliseconds()), provider)

	if err != nil {
		t.metrics.Counter(otel.MetricEmbeddingErrors).Add(ctx, 1, provider)
		span.RecordError(err)
		span.SetAttributes(otel.ErrorAttrs(fmt.Sprintf("%T", err), err.Error(), errors.IsRetryable(err))...)
		span.SetStatus(otel.StatusError, err.Error())
		return nil, err
	}

	t.metrics.Counter(otel.MetricEmbeddingTexts).Add(ctx, int64(len(texts)), provider)
	span.SetStatus(otel.StatusOK, "")
	return vectors, nil
}

// Dimensions 返回向量维度
func (t *TracedEmbedder) Dimensions() int {
	return t.inner.Dimensions()
}

var _ Embedder = (*TracedEmbedder)(nil)
