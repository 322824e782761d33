package module

import (
	"sort"
	"strings"

	"github.com/easyops/contextengine/pkg/core/errors"
	"github.com/easyops/contextengine/pkg/knowledge"
	"github.com/easyops/contextengine/pkg/session"
)

// Registry 有序模块注册表
//
// 注册顺序就是切片顺序，构建后只读。
type Registry struct {
	descriptors []*Descriptor
	byID        map[string]*Descriptor
	languages   []knowledge.Language
}

// RegistryOption 配置 Registry
type RegistryOption func(*Registry)

// WithLanguages 设置必须被覆盖的语言
//
// 每种语言至少要有一个通过语言门控的总是包含模块。
func WithLanguages(langs ...knowledge.Language) RegistryOption {
	return func(r *Registry) {
		r.languages = langs
	}
}

// NewRegistry 创建模块注册表
//
// 配置不完整时返回 ConfigurationError，应在进程启动时处理。
func NewRegistry(descriptors []*Descriptor, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		descriptors: make([]*Descriptor, 0, len(descriptors)),
		byID:        make(map[string]*Descriptor, len(descriptors)),
		languages:   knowledge.SupportedLanguages,
	}

	for _, opt := range opts {
		opt(r)
	}

	for _, d := range descriptors {
		if d == nil {
			continue
		}
		if err := r.register(d); err != nil {
			return nil, err
		}
	}

	if err := r.validateAlwaysInclude(); err != nil {
		return nil, err
	}

	return r, nil
}

// register 校验并登记单个描述
func (r *Registry) register(d *Descriptor) error {
	id := strings.TrimSpace(d.ID)
	if id == "" {
		return errors.NewConfigurationError("module", "descriptor with empty id")
	}
	if _, exists := r.byID[id]; exists {
		return errors.NewConfigurationError("module", "duplicate descriptor id %q", id)
	}
	if !d.Priority.IsValid() {
		return errors.NewConfigurationError("module", "descriptor %q has unknown priority %d", id, d.Priority)
	}
	if !d.Category.IsValid() {
		return errors.NewConfigurationError("module", "descriptor %q references nonexistent category %d", id, d.Category)
	}

	switch d.LanguageGate.Kind {
	case GateAlways:
	case GateLanguageEquals:
		if len(d.LanguageGate.Languages) == 0 {
			return errors.NewConfigurationError("module", "descriptor %q has an empty language gate", id)
		}
		for _, l := range d.LanguageGate.Languages {
			if !l.IsValid() {
				return errors.NewConfigurationError("module", "descriptor %q gates on unsupported language %q", id, l)
			}
		}
	default:
		return errors.NewConfigurationError("module", "descriptor %q has invalid language gate kind %s", id, d.LanguageGate.Kind)
	}

	switch d.Inclusion.Kind {
	case GateAlways:
	case GateTopicOverlap:
		if len(d.Inclusion.Topics) == 0 {
			return errors.NewConfigurationError("module", "descriptor %q has no related topics", id)
		}
	default:
		return errors.NewConfigurationError("module", "descriptor %q has invalid inclusion kind %s", id, d.Inclusion.Kind)
	}

	c := d.clone()
	c.ID = id
	c.order = len(r.descriptors)

	for _, lang := range knowledge.SupportedLanguages {
		if c.AllowsLanguage(lang) && c.Body(lang) == "" {
			return errors.NewConfigurationError("module", "descriptor %q has no %s body", id, lang)
		}
	}

	r.descriptors = append(r.descriptors, c)
	r.byID[id] = c
	return nil
}

// validateAlwaysInclude 确保总是包含集合非空
func (r *Registry) validateAlwaysInclude() error {
	total := 0
	for _, d := range r.descriptors {
		if d.AlwaysInclude() {
			total++
		}
	}
	if total == 0 {
		return errors.NewConfigurationError("module", "registry has no always-include descriptors")
	}

	for _, lang := range r.languages {
		if len(r.AlwaysIncluded(lang)) == 0 {
			return errors.NewConfigurationError("module", "no always-include descriptor passes the %s language gate", lang)
		}
	}
	return nil
}

// Select 选择本轮适用的模块
//
// 规则依次为：
//  1. 所有总是包含且通过语言门控的模块
//  2. 相关主题与 topics 有交集且通过语言门控的模块
//  3. 按 ID 去重
//
// 返回结果按注册顺序排列。某个主题没有对应模块不算错误。
// lang 为空时使用会话语言。
func (r *Registry) Select(topics []string, lang knowledge.Language, sess session.Context) []*Descriptor {
	if lang == "" {
		lang = sess.Language
	}

	selected := make([]*Descriptor, 0, len(r.descriptors))
	seen := make(map[string]struct{}, len(r.descriptors))

	add := func(d *Descriptor) {
		if _, ok := seen[d.ID]; ok {
			return
		}
		seen[d.ID] = struct{}{}
		selected = append(selected, d)
	}

	for _, d := range r.descriptors {
		if d.AlwaysInclude() && d.AllowsLanguage(lang) {
			add(d)
		}
	}

	if len(topics) > 0 {
		for _, d := range r.descriptors {
			if d.AlwaysInclude() || !d.AllowsLanguage(lang) {
				continue
			}
			if d.Inclusion.Allows(lang, topics) {
				add(d)
			}
		}
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].order < selected[j].order
	})
	return selected
}

// AlwaysIncluded 返回指定语言下总是包含的模块
func (r *Registry) AlwaysIncluded(lang knowledge.Language) []*Descriptor {
	var out []*Descriptor
	for _, d := range r.descriptors {
		if d.AlwaysInclude() && d.AllowsLanguage(lang) {
			out = append(out, d)
		}
	}
	return out
}

// Get 按 ID 获取模块
func (r *Registry) Get(id string) (*Descriptor, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// All 返回所有模块（注册顺序）
func (r *Registry) All() []*Descriptor {
	return append([]*Descriptor(nil), r.descriptors...)
}

// Len 返回模块数量
func (r *Registry) Len() int {
	return len(r.descriptors)
}
