// Package monitor 提供单轮请求的性能监控
//
// 每个阶段记录耗时直方图和一个 Span，超过阈值时输出一条结构化告警。
// 监控只做观测，不会改变或阻塞流水线。
package monitor

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/easyops/contextengine/pkg/core/config"
	"github.com/easyops/contextengine/pkg/otel"
)

// 流水线阶段
const (
	StageRetrieval   = "retrieval"
	StageSelection   = "selection"
	StageComposition = "composition"
	StageTotal       = "total"
)

// utterancePrefixRunes 告警中保留的话语前缀长度
const utterancePrefixRunes = 60

// Thresholds 各阶段耗时阈值，0 表示不检查
type Thresholds struct {
	Retrieval   time.Duration
	Selection   time.Duration
	Composition time.Duration
	Total       time.Duration
}

// DefaultThresholds 默认阈值
func DefaultThresholds() Thresholds {
	return ThresholdsFromConfig(config.MonitorConfig{})
}

// ThresholdsFromConfig 从配置读取阈值
func ThresholdsFromConfig(cfg config.MonitorConfig) Thresholds {
	cfg = cfg.WithDefaults()
	return Thresholds{
		Retrieval:   cfg.RetrievalThreshold,
		Selection:   cfg.SelectionThreshold,
		Composition: cfg.CompositionThreshold,
		Total:       cfg.TotalThreshold,
	}
}

// For 返回阶段阈值
func (t Thresholds) For(stage string) time.Duration {
	switch stage {
	case StageRetrieval:
		return t.Retrieval
	case StageSelection:
		return t.Selection
	case StageComposition:
		return t.Composition
	case StageTotal:
		return t.Total
	default:
		return 0
	}
}

// Anomaly 一次超阈值记录
type Anomaly struct {
	Stage           string
	Elapsed         time.Duration
	Threshold       time.Duration
	UtterancePrefix string
	Modules         []string
}

// Monitor 性能监控器
type Monitor struct {
	thresholds Thresholds
	logger     otel.Logger
	metrics    otel.Metrics
	tracer     otel.Tracer
	now        func() time.Time
}

// Option 配置 Monitor
type Option func(*Monitor)

// WithLogger 设置日志
func WithLogger(logger otel.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics 设置指标
func WithMetrics(metrics otel.Metrics) Option {
	return func(m *Monitor) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// WithTracer 设置追踪器
func WithTracer(tracer otel.Tracer) Option {
	return func(m *Monitor) {
		if tracer != nil {
			m.tracer = tracer
		}
	}
}

// WithClock 设置时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// New 创建监控器
func New(thresholds Thresholds, opts ...Option) *Monitor {
	m := &Monitor{
		thresholds: thresholds,
		logger:     otel.NewNoopLogger(),
		metrics:    otel.NewNoopMetrics(),
		tracer:     otel.NewNoopTracer(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Thresholds 返回阈值
func (m *Monitor) Thresholds() Thresholds {
	return m.thresholds
}

// Begin 开始一轮请求
func (m *Monitor) Begin(ctx context.Context, utterance string) *Trace {
	ctx, span := m.tracer.Start(ctx, "contextengine.process",
		otel.WithAttributes(attribute.String(otel.AttrUtterance, prefix(utterance))),
	)
	return &Trace{
		monitor:   m,
		ctx:       ctx,
		span:      span,
		utterance: prefix(utterance),
		start:     m.now(),
	}
}

// stageTiming 阶段耗时
type stageTiming struct {
	name    string
	elapsed time.Duration
}

// Trace 单轮请求的计时
type Trace struct {
	monitor   *Monitor
	ctx       context.Context
	span      otel.Span
	utterance string
	start     time.Time

	mu       sync.Mutex
	stages   []stageTiming
	finished bool
}

// Context 返回携带请求 Span 的上下文
func (t *Trace) Context() context.Context {
	return t.ctx
}

// SetAttributes 为请求 Span 增加属性
func (t *Trace) SetAttributes(attrs ...attribute.KeyValue) {
	t.span.SetAttributes(attrs...)
}

// Stage 开始一个阶段，返回结束函数
//
// 结束函数可以安全地多次调用，只有第一次生效。
func (t *Trace) Stage(name string) func() {
	m := t.monitor
	_, span := m.tracer.Start(t.ctx, "contextengine."+name, otel.WithAttributes(otel.Stage(name)))
	start := m.now()

	var once sync.Once
	return func() {
		once.Do(func() {
			elapsed := m.now().Sub(start)
			span.End()
			m.metrics.Histogram(otel.MetricStageDuration).Record(t.ctx, float64(elapsed.Milliseconds()),
				otel.NewAttr(otel.AttrStage, name))

			t.mu.Lock()
			t.stages = append(t.stages, stageTiming{name: name, elapsed: elapsed})
			t.mu.Unlock()
		})
	}
}

// Elapsed 返回某阶段已记录的耗时
func (t *Trace) Elapsed(stage string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.stages {
		if s.name == stage {
			return s.elapsed, true
		}
	}
	return 0, false
}

// Finish 结束本轮并检查阈值
//
// 每个超过阈值的阶段（包括总耗时）记一条告警日志并返回。重复调用返回 nil。
func (t *Trace) Finish(modules []string) []Anomaly {
	m := t.monitor

	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return nil
	}
	t.finished = true
	total := m.now().Sub(t.start)
	stages := append(append([]stageTiming(nil), t.stages...), stageTiming{name: StageTotal, elapsed: total})
	t.mu.Unlock()

	m.metrics.Counter(otel.MetricRequests).Add(t.ctx, 1)
	m.metrics.Histogram(otel.MetricRequestDuration).Record(t.ctx, float64(total.Milliseconds()))

	var anomalies []Anomaly
	for _, s := range stages {
		limit := m.thresholds.For(s.name)
		if limit <= 0 || s.elapsed <= limit {
			continue
		}
		a := Anomaly{
			Stage:           s.name,
			Elapsed:         s.elapsed,
			Threshold:       limit,
			UtterancePrefix: t.utterance,
			Modules:         append([]string(nil), modules...),
		}
		anomalies = append(anomalies, a)

		m.metrics.Counter(otel.MetricThresholdBreach).Add(t.ctx, 1, otel.NewAttr(otel.AttrStage, s.name))
		t.span.AddEvent("threshold.breach",
			otel.Stage(s.name),
			attribute.Int64(otel.AttrThresholdMS, limit.Milliseconds()),
		)
		m.logger.WithContext(t.ctx).Warn("stage exceeded latency threshold",
			"stage", a.Stage,
			"elapsed", a.Elapsed,
			"threshold", a.Threshold,
			"utterance", a.UtterancePrefix,
			"modules", a.Modules,
		)
	}

	t.span.End()
	return anomalies
}

// prefix 截取话语前缀
func prefix(s string) string {
	if utf8.RuneCountInString(s) <= utterancePrefixRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == utterancePrefixRunes {
			return s[:i]
		}
		n++
	}
	return s
}
