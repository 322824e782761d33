package engine

import (
	"time"

	"github.com/easyops/contextengine/pkg/knowledge"
	"github.com/easyops/contextengine/pkg/monitor"
	"github.com/easyops/contextengine/pkg/otel"
	"github.com/easyops/contextengine/pkg/prompt"
	"github.com/easyops/contextengine/pkg/topic"
)

// Option 引擎配置选项函数
type Option func(*Options)

// Options 引擎配置选项
type Options struct {
	DefaultLanguage knowledge.Language
	FragmentCap     int
	BroadRecall     bool
	Prompt          prompt.Config
	TokenCounter    prompt.TokenCounter
	Fallback        topic.VectorFallback
	Thresholds      monitor.Thresholds
	Logger          otel.Logger
	Metrics         otel.Metrics
	Tracer          otel.Tracer
	Clock           func() time.Time
}

// DefaultOptions 返回默认选项
func DefaultOptions() *Options {
	return &Options{
		DefaultLanguage: knowledge.LanguageEnglish,
		FragmentCap:     topic.DefaultFragmentCap,
		Prompt: prompt.Config{
			MaxChars:         prompt.DefaultMaxChars,
			MinFragmentChars: prompt.DefaultMinFragmentChars,
		},
		Thresholds: monitor.DefaultThresholds(),
		Logger:     otel.NewNoopLogger(),
		Metrics:    otel.NewNoopMetrics(),
		Tracer:     otel.NewNoopTracer(),
		Clock:      time.Now,
	}
}

// WithDefaultLanguage 设置默认语言
func WithDefaultLanguage(lang knowledge.Language) Option {
	return func(o *Options) {
		o.DefaultLanguage = lang
	}
}

// WithFragmentCap 设置每轮片段上限
func WithFragmentCap(n int) Option {
	return func(o *Options) {
		o.FragmentCap = n
	}
}

// WithBroadRecall 关键词命中时仍然执行向量检索
func WithBroadRecall(enabled bool) Option {
	return func(o *Options) {
		o.BroadRecall = enabled
	}
}

// WithPromptConfig 设置提示词预算
func WithPromptConfig(cfg prompt.Config) Option {
	return func(o *Options) {
		o.Prompt = cfg
	}
}

// WithTokenCounter 设置 token 计数器
func WithTokenCounter(counter prompt.TokenCounter) Option {
	return func(o *Options) {
		o.TokenCounter = counter
	}
}

// WithFallback 设置向量回退
func WithFallback(fallback topic.VectorFallback) Option {
	return func(o *Options) {
		o.Fallback = fallback
	}
}

// WithThresholds 设置性能阈值
func WithThresholds(t monitor.Thresholds) Option {
	return func(o *Options) {
		o.Thresholds = t
	}
}

// WithLogger 设置日志
func WithLogger(logger otel.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithMetrics 设置指标
func WithMetrics(metrics otel.Metrics) Option {
	return func(o *Options) {
		if metrics != nil {
			o.Metrics = metrics
		}
	}
}

// WithTracer 设置追踪器
func WithTracer(tracer otel.Tracer) Option {
	return func(o *Options) {
		if tracer != nil {
			o.Tracer = tracer
		}
	}
}

// WithClock 设置时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		if now != nil {
			o.Clock = now
		}
	}
}
