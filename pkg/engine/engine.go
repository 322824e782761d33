// Package engine 串联单轮请求的完整流水线
//
// 话语 -> 主题检测（关键词，必要时向量回退）-> 模块选择 -> 提示词组装，
// 每个阶段都由性能监控计时。Process 不会返回错误，所有运行期问题都变成告警。
//
// 使用示例:
//
//	eng, err := engine.New(index, registry, engine.WithFallback(fallback))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res := eng.Process(ctx, "what time do you close", knowledge.LanguageEnglish, session.Context{})
//	fmt.Println(res.Prompt.Text)
package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/easyops/contextengine/pkg/core/errors"
	"github.com/easyops/contextengine/pkg/knowledge"
	"github.com/easyops/contextengine/pkg/module"
	"github.com/easyops/contextengine/pkg/monitor"
	"github.com/easyops/contextengine/pkg/otel"
	"github.com/easyops/contextengine/pkg/prompt"
	"github.com/easyops/contextengine/pkg/session"
	"github.com/easyops/contextengine/pkg/topic"
)

// 告警标记
const (
	WarnUnsupportedLanguage = "unsupported_language"
	WarnSessionUnavailable  = "session_unavailable"
)

// Result 单轮处理结果
type Result struct {
	// RequestID 请求 ID
	RequestID string
	// Language 实际使用的语言
	Language knowledge.Language
	// Prompt 组装好的提示词，Warnings 汇总了本轮全部告警
	Prompt *prompt.ComposedPrompt
	// Update 建议的会话更新，由调用方决定是否写入
	Update session.Update
	// Detection 主题检测结果
	Detection *topic.Detection
	// Anomalies 超过性能阈值的阶段
	Anomalies []monitor.Anomaly
}

// Warnings 返回本轮全部告警
func (r *Result) Warnings() []string {
	if r.Prompt == nil {
		return nil
	}
	return r.Prompt.Warnings
}

// Engine 单轮提示词引擎
//
// 构建后只读，不保存跨请求的可变状态，可被并发调用。
type Engine struct {
	index    *knowledge.Index
	registry *module.Registry
	detector *topic.Detector
	composer *prompt.Composer
	monitor  *monitor.Monitor
	options  *Options
	sessions session.Store
	closers  []io.Closer
}

// New 创建引擎
//
// 只有配置问题会返回错误（ConfigurationError），例如提示词预算放不下
// 某个语言的总是包含模块。
func New(index *knowledge.Index, registry *module.Registry, opts ...Option) (*Engine, error) {
	if index == nil {
		return nil, errors.NewConfigurationError("engine", "knowledge index is required")
	}
	if registry == nil {
		return nil, errors.NewConfigurationError("engine", "module registry is required")
	}

	options := DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	if !options.DefaultLanguage.IsValid() {
		return nil, errors.NewConfigurationError("engine", "unsupported default language %q", options.DefaultLanguage)
	}
	if options.FragmentCap < 1 {
		return nil, errors.NewConfigurationError("engine", "fragment cap must be positive, got %d", options.FragmentCap)
	}

	composerOpts := []prompt.Option{prompt.WithMetrics(options.Metrics)}
	if options.TokenCounter != nil {
		composerOpts = append(composerOpts, prompt.WithTokenCounter(options.TokenCounter))
	}
	composer, err := prompt.NewComposer(registry, options.Prompt, composerOpts...)
	if err != nil {
		return nil, err
	}

	detectorOpts := []topic.Option{
		topic.WithFragmentCap(options.FragmentCap),
		topic.WithLogger(options.Logger),
	}
	if options.Fallback != nil {
		detectorOpts = append(detectorOpts, topic.WithFallback(options.Fallback))
	}

	return &Engine{
		index:    index,
		registry: registry,
		detector: topic.NewDetector(index, detectorOpts...),
		composer: composer,
		monitor: monitor.New(options.Thresholds,
			monitor.WithLogger(options.Logger),
			monitor.WithMetrics(options.Metrics),
			monitor.WithTracer(options.Tracer),
			monitor.WithClock(options.Clock),
		),
		options: options,
	}, nil
}

// Index 返回知识索引
func (e *Engine) Index() *knowledge.Index {
	return e.index
}

// Registry 返回模块注册表
func (e *Engine) Registry() *module.Registry {
	return e.registry
}

// Sessions 返回由配置创建的会话存储，直接用 New 构建时为 nil
func (e *Engine) Sessions() session.Store {
	return e.sessions
}

// Process 处理一句话并组装提示词
//
// lang 为空时使用会话语言，仍为空或不受支持时回退到默认语言并告警。
// 不会返回错误，也不会写会话；建议的更新放在 Result.Update 中。
func (e *Engine) Process(ctx context.Context, utterance string, lang knowledge.Language, snapshot session.Context) *Result {
	requestID := uuid.NewString()
	trace := e.monitor.Begin(ctx, utterance)
	ctx = trace.Context()
	trace.SetAttributes(otel.RequestID(requestID))
	if snapshot.SessionID != "" {
		trace.SetAttributes(otel.SessionID(snapshot.SessionID))
	}

	var warnings []string
	lang, warning := e.resolveLanguage(lang, snapshot)
	if warning != "" {
		warnings = append(warnings, warning)
	}
	trace.SetAttributes(otel.Language(string(lang)))

	end := trace.Stage(monitor.StageRetrieval)
	detection := e.detector.Detect(ctx, utterance, lang, topic.Options{BroadRecall: e.options.BroadRecall})
	end()
	trace.SetAttributes(otel.UsedFallback(detection.UsedFallback))
	warnings = append(warnings, detection.Warnings...)

	end = trace.Stage(monitor.StageSelection)
	modules := e.registry.Select(detection.Topics, lang, snapshot)
	end()

	end = trace.Stage(monitor.StageComposition)
	composed := e.composer.Compose(ctx, prompt.Input{
		Modules:   modules,
		Fragments: detection.Fragments,
		Language:  lang,
		Session:   snapshot,
	})
	end()
	composed.Warnings = append(warnings, composed.Warnings...)

	trace.SetAttributes(otel.PromptShape(len(composed.OrderedModules), len(composed.AttachedFragments), composed.TotalLength)...)
	anomalies := trace.Finish(composed.OrderedModules)

	update := session.Update{
		SessionID:  snapshot.SessionID,
		Language:   lang,
		ProposedAt: e.options.Clock(),
	}
	if len(detection.Topics) > 0 {
		update.LastTopic = detection.Topics[0]
	}

	e.options.Logger.WithContext(ctx).Debug("prompt composed",
		"request_id", requestID,
		"language", lang,
		"topics", detection.Topics,
		"modules", composed.OrderedModules,
		"fragments", len(composed.AttachedFragments),
		"length", composed.TotalLength,
		"warnings", len(composed.Warnings),
	)

	return &Result{
		RequestID: requestID,
		Language:  lang,
		Prompt:    composed,
		Update:    update,
		Detection: detection,
		Anomalies: anomalies,
	}
}

// Handle 从会话存储读取快照后处理一句话，并提交建议的更新
//
// 存储不可用时以空快照继续，并追加 session_unavailable 告警。
func (e *Engine) Handle(ctx context.Context, store session.Store, sessionID, utterance string, lang knowledge.Language) *Result {
	var warnings []string

	snapshot := session.Context{SessionID: sessionID}
	if store != nil {
		got, err := store.Get(ctx, sessionID)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: read session %s: %v", WarnSessionUnavailable, sessionID, err))
			e.options.Logger.WithContext(ctx).Warn("session read failed", "session_id", sessionID, "error", err)
		} else {
			snapshot = got
			snapshot.SessionID = sessionID
		}
	}
	snapshot = session.Derive(snapshot, e.options.Clock())

	res := e.Process(ctx, utterance, lang, snapshot)

	if store != nil {
		if err := store.Propose(ctx, sessionID, res.Update); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: write session %s: %v", WarnSessionUnavailable, sessionID, err))
			e.options.Logger.WithContext(ctx).Warn("session update failed", "session_id", sessionID, "error", err)
		}
	}

	if len(warnings) > 0 {
		res.Prompt.Warnings = append(res.Prompt.Warnings, warnings...)
	}
	return res
}

// Close 释放引擎持有的资源（向量存储、会话存储、遥测导出器）
func (e *Engine) Close() error {
	var firstErr error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.closers = nil
	return firstErr
}

// resolveLanguage 决定本轮语言
func (e *Engine) resolveLanguage(lang knowledge.Language, snapshot session.Context) (knowledge.Language, string) {
	if lang == "" {
		lang = snapshot.Language
	}
	if lang == "" {
		return e.options.DefaultLanguage, ""
	}
	if parsed, ok := knowledge.ParseLanguage(string(lang)); ok {
		return parsed, ""
	}
	return e.options.DefaultLanguage, fmt.Sprintf("%s: %q is not supported, using %s",
		WarnUnsupportedLanguage, lang, e.options.DefaultLanguage)
}

// closerFunc 把关闭函数适配为 io.Closer
type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// shutdownCloser 把带超时的关闭函数适配为 io.Closer
func shutdownCloser(fn func(context.Context) error, timeout time.Duration) io.Closer {
	return closerFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return fn(ctx)
	})
}
