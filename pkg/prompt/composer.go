// Package prompt 提供提示词组装
//
// Composer 把选中的指令模块、附加片段与会话上下文按固定顺序渲染成
// 一份系统提示词，并保证长度不超过预算。
package prompt

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/easyops/contextengine/pkg/core/errors"
	"github.com/easyops/contextengine/pkg/core/message"
	"github.com/easyops/contextengine/pkg/knowledge"
	"github.com/easyops/contextengine/pkg/module"
	"github.com/easyops/contextengine/pkg/otel"
	"github.com/easyops/contextengine/pkg/session"
)

// WarnBudgetExceeded 超出预算的告警标记
const WarnBudgetExceeded = "budget_exceeded"

const (
	knowledgeHeader = "[Knowledge]"
	sessionHeader   = "[Session]"
	blockSeparator  = "\n\n"
	truncationMark  = "…"
)

// 默认预算
const (
	DefaultMaxChars         = 8000
	DefaultMinFragmentChars = 200
	// MinFragmentCharsFloor 截断后的片段至少保留一个字符和截断标记
	MinFragmentCharsFloor = 2
)

// Config 组装配置
type Config struct {
	// MaxChars 提示词长度上限（字符数）
	MaxChars int
	// MinFragmentChars 至少为一个片段保留的字符数
	MinFragmentChars int
}

// Input 组装输入
type Input struct {
	// Modules 选中的模块
	Modules []*module.Descriptor
	// Fragments 附加片段（已去重限额）
	Fragments []knowledge.AttachedFragment
	// Language 请求语言
	Language knowledge.Language
	// Session 会话快照
	Session session.Context
}

// ComposedPrompt 组装结果
type ComposedPrompt struct {
	// OrderedModules 最终保留的模块 ID（按渲染顺序）
	OrderedModules []string
	// AttachedFragments 最终保留的片段
	AttachedFragments []knowledge.AttachedFragment
	// Language 请求语言
	Language knowledge.Language
	// SessionIncluded 是否渲染了会话块
	SessionIncluded bool
	// Text 提示词文本
	Text string
	// TotalLength 字符数
	TotalLength int
	// TokenCount token 估算
	TokenCount int
	// Warnings 告警
	Warnings []string
}

// Messages 转换为交给 LLM 的消息
//
// utterance 为空时只返回系统消息。
func (p *ComposedPrompt) Messages(utterance string) []message.Message {
	msgs := []message.Message{message.System(p.Text)}
	if utterance != "" {
		msgs = append(msgs, message.User(utterance))
	}
	return msgs
}

// Composer 提示词组装器
//
// 构建后只读，可被并发调用。
type Composer struct {
	cfg     Config
	counter TokenCounter
	metrics otel.Metrics
}

// Option 配置 Composer
type Option func(*Composer)

// WithTokenCounter 设置 token 计数器
func WithTokenCounter(counter TokenCounter) Option {
	return func(c *Composer) {
		if counter != nil {
			c.counter = counter
		}
	}
}

// WithMetrics 设置指标
func WithMetrics(metrics otel.Metrics) Option {
	return func(c *Composer) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

// NewComposer 创建组装器
//
// 校验每种语言的总是包含模块加上一个最短片段能放进预算，
// 否则返回 ConfigurationError。这保证了运行时总能满足预算。
func NewComposer(registry *module.Registry, cfg Config, opts ...Option) (*Composer, error) {
	if cfg.MaxChars == 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	if cfg.MinFragmentChars == 0 {
		cfg.MinFragmentChars = DefaultMinFragmentChars
	}
	if cfg.MaxChars < 0 || cfg.MinFragmentChars < 0 {
		return nil, errors.NewConfigurationError("prompt", "budget values must be positive")
	}
	if cfg.MinFragmentChars < MinFragmentCharsFloor {
		return nil, errors.NewConfigurationError("prompt",
			"min fragment chars must be at least %d, got %d", MinFragmentCharsFloor, cfg.MinFragmentChars)
	}

	c := &Composer{
		cfg:     cfg,
		counter: NewEstimatedCounter(),
		metrics: otel.NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if registry != nil {
		for _, lang := range knowledge.SupportedLanguages {
			always := registry.AlwaysIncluded(lang)
			if len(always) == 0 {
				continue
			}
			base := runeLen(render(lang, sortModules(always), nil, nil, session.Context{}, false))
			need := base + runeLen(blockSeparator+knowledgeHeader+"\n") + cfg.MinFragmentChars
			if need > cfg.MaxChars {
				return nil, errors.NewConfigurationError("prompt",
					"always-include modules for %s need %d chars with a minimal fragment, budget is %d",
					lang, need, cfg.MaxChars)
			}
		}
	}

	return c, nil
}

// Config 返回组装配置
func (c *Composer) Config() Config {
	return c.cfg
}

// Counter 返回 token 计数器
func (c *Composer) Counter() TokenCounter {
	return c.counter
}

// Compose 组装提示词
//
// 模块按 优先级 -> 类别 -> 注册顺序 排序。超出预算时依次：
//  1. 从最低的非总是包含模块开始丢弃
//  2. 按 vector -> combined -> keyword、低 PriorityHint 优先丢弃片段，保留最后一个
//  3. 丢弃会话块
//  4. 截断最后一个片段正文
//
// 每一步都会产生一条 budget_exceeded 告警。不会返回错误。
func (c *Composer) Compose(ctx context.Context, in Input) *ComposedPrompt {
	lang := in.Language

	modules := make([]*module.Descriptor, 0, len(in.Modules))
	for _, d := range in.Modules {
		if d == nil || !d.AllowsLanguage(lang) || d.Body(lang) == "" {
			continue
		}
		modules = append(modules, d)
	}
	modules = sortModules(dedupModules(modules))

	fragments := dedupFragments(in.Fragments)
	bodies := make([]string, len(fragments))
	for i, f := range fragments {
		bodies[i] = f.Fragment.Body()
	}

	withSession := hasSessionContent(in.Session)
	var warnings []string
	langAttr := otel.NewAttr(otel.AttrLanguage, string(lang))

	text := render(lang, modules, fragments, bodies, in.Session, withSession)

	// 1. 丢弃非总是包含模块（从最低开始）
	for i := len(modules) - 1; i >= 0 && runeLen(text) > c.cfg.MaxChars; i-- {
		if modules[i].AlwaysInclude() {
			continue
		}
		warnings = append(warnings, fmt.Sprintf("%s: dropped module %s", WarnBudgetExceeded, modules[i].ID))
		c.metrics.Counter(otel.MetricBudgetDrops).Add(ctx, 1, langAttr, otel.NewAttr(otel.AttrDropKind, "module"))
		modules = append(modules[:i:i], modules[i+1:]...)
		text = render(lang, modules, fragments, bodies, in.Session, withSession)
	}

	// 2. 丢弃片段，至少保留一个
	for runeLen(text) > c.cfg.MaxChars && len(fragments) > 1 {
		i := lowestFragment(fragments)
		warnings = append(warnings, fmt.Sprintf("%s: dropped fragment %s", WarnBudgetExceeded, fragments[i].Fragment.ID()))
		c.metrics.Counter(otel.MetricBudgetDrops).Add(ctx, 1, langAttr, otel.NewAttr(otel.AttrDropKind, "fragment"))
		fragments = append(fragments[:i:i], fragments[i+1:]...)
		bodies = append(bodies[:i:i], bodies[i+1:]...)
		text = render(lang, modules, fragments, bodies, in.Session, withSession)
	}

	// 3. 丢弃会话块
	if runeLen(text) > c.cfg.MaxChars && withSession {
		withSession = false
		warnings = append(warnings, fmt.Sprintf("%s: dropped session context", WarnBudgetExceeded))
		c.metrics.Counter(otel.MetricBudgetDrops).Add(ctx, 1, langAttr, otel.NewAttr(otel.AttrDropKind, "session"))
		text = render(lang, modules, fragments, bodies, in.Session, withSession)
	}

	// 4. 截断最后一个片段，至少保留一个字符
	if over := runeLen(text) - c.cfg.MaxChars; over > 0 && len(fragments) > 0 {
		last := len(fragments) - 1
		keep := max(runeLen(bodies[last])-over-runeLen(truncationMark), 1)
		bodies[last] = truncateRunes(bodies[last], keep) + truncationMark
		warnings = append(warnings, fmt.Sprintf("%s: truncated fragment %s", WarnBudgetExceeded, fragments[last].Fragment.ID()))
		c.metrics.Counter(otel.MetricBudgetDrops).Add(ctx, 1, langAttr, otel.NewAttr(otel.AttrDropKind, "truncate"))
		text = render(lang, modules, fragments, bodies, in.Session, withSession)
	}

	// 启动校验保证走不到这里，保险起见仍然硬截断
	if runeLen(text) > c.cfg.MaxChars {
		text = truncateRunes(text, c.cfg.MaxChars)
		warnings = append(warnings, fmt.Sprintf("%s: prompt hard-truncated to %d chars", WarnBudgetExceeded, c.cfg.MaxChars))
	}

	ids := make([]string, len(modules))
	for i, d := range modules {
		ids[i] = d.ID
	}

	c.metrics.Histogram(otel.MetricPromptLength).Record(ctx, float64(runeLen(text)), langAttr)

	return &ComposedPrompt{
		OrderedModules:    ids,
		AttachedFragments: fragments,
		Language:          lang,
		SessionIncluded:   withSession,
		Text:              text,
		TotalLength:       runeLen(text),
		TokenCount:        c.counter.Count(text),
		Warnings:          warnings,
	}
}

// sortModules 按 优先级 -> 类别 -> 注册顺序 稳定排序
func sortModules(modules []*module.Descriptor) []*module.Descriptor {
	out := append([]*module.Descriptor(nil), modules...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() < b.Priority.Rank()
		}
		if a.Category.Rank() != b.Category.Rank() {
			return a.Category.Rank() < b.Category.Rank()
		}
		return a.Order() < b.Order()
	})
	return out
}

// dedupModules 按 ID 去重
func dedupModules(modules []*module.Descriptor) []*module.Descriptor {
	seen := make(map[string]struct{}, len(modules))
	out := modules[:0:0]
	for _, d := range modules {
		if _, ok := seen[d.ID]; ok {
			continue
		}
		seen[d.ID] = struct{}{}
		out = append(out, d)
	}
	return out
}

// dedupFragments 按内容哈希去重
func dedupFragments(fragments []knowledge.AttachedFragment) []knowledge.AttachedFragment {
	seen := make(map[string]struct{}, len(fragments))
	out := make([]knowledge.AttachedFragment, 0, len(fragments))
	for _, f := range fragments {
		if f.Fragment == nil {
			continue
		}
		if _, ok := seen[f.Fragment.Hash()]; ok {
			continue
		}
		seen[f.Fragment.Hash()] = struct{}{}
		out = append(out, f)
	}
	return out
}

// lowestFragment 返回最先被丢弃的片段下标
func lowestFragment(fragments []knowledge.AttachedFragment) int {
	worst := 0
	for i := 1; i < len(fragments); i++ {
		a, w := fragments[i], fragments[worst]
		if ca, cw := a.Source.Confidence(), w.Source.Confidence(); ca != cw {
			if ca < cw {
				worst = i
			}
			continue
		}
		if pa, pw := a.Fragment.PriorityHint(), w.Fragment.PriorityHint(); pa != pw {
			if pa < pw {
				worst = i
			}
			continue
		}
		// 同等条件下后出现的先丢
		worst = i
	}
	return worst
}

// hasSessionContent 会话快照是否有可渲染的内容
func hasSessionContent(s session.Context) bool {
	return s.LastTopic != "" || s.SeasonalContext != "" || s.TimeContext != ""
}

// render 渲染提示词
func render(lang knowledge.Language, modules []*module.Descriptor, fragments []knowledge.AttachedFragment, bodies []string, sess session.Context, withSession bool) string {
	blocks := make([]string, 0, len(modules)+2)
	for _, d := range modules {
		blocks = append(blocks, d.Body(lang))
	}

	if len(fragments) > 0 {
		var b strings.Builder
		b.WriteString(knowledgeHeader)
		for i := range fragments {
			b.WriteString("\n")
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(bodies[i])
		}
		blocks = append(blocks, b.String())
	}

	if withSession {
		blocks = append(blocks, renderSession(sess))
	}

	return strings.Join(blocks, blockSeparator)
}

// renderSession 渲染会话块
func renderSession(s session.Context) string {
	var b strings.Builder
	b.WriteString(sessionHeader)
	if s.Language != "" {
		fmt.Fprintf(&b, "\nlanguage: %s", s.Language)
	}
	if s.LastTopic != "" {
		fmt.Fprintf(&b, "\nlast_topic: %s", s.LastTopic)
	}
	if s.SeasonalContext != "" {
		fmt.Fprintf(&b, "\nseason: %s", s.SeasonalContext)
	}
	if s.TimeContext != "" {
		fmt.Fprintf(&b, "\ntime_of_day: %s", s.TimeContext)
	}
	return b.String()
}

// runeLen 字符数
func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// truncateRunes 截取前 n 个字符
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
