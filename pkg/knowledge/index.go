package knowledge

import (
	"strings"

	"github.com/easyops/contextengine/pkg/core/errors"
)

// Index 只读知识索引
//
// 由片段与声明式规则表构建；构建后不再修改，并发读取无需加锁。
type Index struct {
	fragments   []*Fragment
	byID        map[string]*Fragment
	byLanguage  map[Language][]*Fragment
	byTopic     map[string]map[Language][]*Fragment
	rules       []TopicRule
	enrichments map[string][]EnrichmentRule
	topics      []string
	topicOrder  map[string]int
}

// NewIndex 构建知识索引
//
// 校验失败返回 ConfigurationError。
func NewIndex(fragments []*Fragment, rules []TopicRule, enrichments []EnrichmentRule) (*Index, error) {
	idx := &Index{
		fragments:   make([]*Fragment, 0, len(fragments)),
		byID:        make(map[string]*Fragment, len(fragments)),
		byLanguage:  make(map[Language][]*Fragment),
		byTopic:     make(map[string]map[Language][]*Fragment),
		enrichments: make(map[string][]EnrichmentRule),
		topicOrder:  make(map[string]int),
	}

	// 规则中声明的主题优先确定顺序
	for i, rule := range rules {
		topic := strings.TrimSpace(rule.Topic)
		if topic == "" {
			return nil, errors.NewConfigurationError("knowledge", "rule %d has empty topic", i)
		}
		if len(rule.Conditions) == 0 {
			return nil, errors.NewConfigurationError("knowledge", "rule for topic %q has no conditions", topic)
		}
		for _, l := range rule.Languages {
			if !l.IsValid() {
				return nil, errors.NewConfigurationError("knowledge", "rule for topic %q has unsupported language %q", topic, l)
			}
		}

		normalized := TopicRule{
			Topic:      topic,
			Languages:  append([]Language(nil), rule.Languages...),
			Conditions: make([]Condition, 0, len(rule.Conditions)),
		}
		for _, cond := range rule.Conditions {
			cond = cond.normalized()
			if len(cond.Terms) == 0 {
				return nil, errors.NewConfigurationError("knowledge", "rule for topic %q has a condition without terms", topic)
			}
			normalized.Conditions = append(normalized.Conditions, cond)
		}

		idx.rules = append(idx.rules, normalized)
		idx.declareTopic(topic)
	}

	for _, f := range fragments {
		if f == nil {
			continue
		}
		if f.id == "" {
			return nil, errors.NewConfigurationError("knowledge", "fragment with empty id")
		}
		if _, exists := idx.byID[f.id]; exists {
			return nil, errors.NewConfigurationError("knowledge", "duplicate fragment id %q", f.id)
		}
		if !f.language.IsValid() {
			return nil, errors.NewConfigurationError("knowledge", "fragment %q has unsupported language %q", f.id, f.language)
		}
		if f.body == "" {
			return nil, errors.NewConfigurationError("knowledge", "fragment %q has empty body", f.id)
		}
		if len(f.topicTags) == 0 {
			return nil, errors.NewConfigurationError("knowledge", "fragment %q has no topic tags", f.id)
		}

		idx.fragments = append(idx.fragments, f)
		idx.byID[f.id] = f
		idx.byLanguage[f.language] = append(idx.byLanguage[f.language], f)

		for _, topic := range f.topicTags {
			idx.declareTopic(topic)
			if idx.byTopic[topic] == nil {
				idx.byTopic[topic] = make(map[Language][]*Fragment)
			}
			idx.byTopic[topic][f.language] = append(idx.byTopic[topic][f.language], f)
		}
	}

	for i, rule := range enrichments {
		topic := strings.TrimSpace(rule.Topic)
		dependent := strings.TrimSpace(rule.Dependent)
		if _, ok := idx.topicOrder[topic]; !ok {
			return nil, errors.NewConfigurationError("knowledge", "enrichment %d references unknown topic %q", i, rule.Topic)
		}
		if _, ok := idx.topicOrder[dependent]; !ok {
			return nil, errors.NewConfigurationError("knowledge", "enrichment %d references unknown dependent topic %q", i, rule.Dependent)
		}
		when := rule.When.normalized()
		if len(when.Terms) == 0 {
			return nil, errors.NewConfigurationError("knowledge", "enrichment %s -> %s has no terms", topic, dependent)
		}
		idx.enrichments[topic] = append(idx.enrichments[topic], EnrichmentRule{
			Topic:     topic,
			When:      when,
			Dependent: dependent,
		})
	}

	return idx, nil
}

// declareTopic 记录主题首次出现顺序
func (idx *Index) declareTopic(topic string) {
	if _, ok := idx.topicOrder[topic]; ok {
		return
	}
	idx.topicOrder[topic] = len(idx.topics)
	idx.topics = append(idx.topics, topic)
}

// Query 返回句子激活的主题及其片段
//
// 主题之间不互斥；主要主题按声明顺序排列，补充主题按补充规则求值顺序追加。
// 每个激活只携带与请求语言一致的片段。没有命中时返回空切片，从不报错。
func (idx *Index) Query(utterance string, lang Language) []Activation {
	lowered := strings.ToLower(utterance)
	if strings.TrimSpace(lowered) == "" {
		return nil
	}

	primary := make(map[string]struct{})

	// 1. 规则表
	for _, rule := range idx.rules {
		if _, done := primary[rule.Topic]; done {
			continue
		}
		if !rule.appliesTo(lang) {
			continue
		}
		for _, cond := range rule.Conditions {
			if cond.Holds(lowered) {
				primary[rule.Topic] = struct{}{}
				break
			}
		}
	}

	// 2. 片段自身的触发词
	for _, f := range idx.byLanguage[lang] {
		if !f.matches(lowered) {
			continue
		}
		for _, topic := range f.topicTags {
			primary[topic] = struct{}{}
		}
	}

	if len(primary) == 0 {
		return nil
	}

	ordered := make([]string, 0, len(primary))
	for _, topic := range idx.topics {
		if _, ok := primary[topic]; ok {
			ordered = append(ordered, topic)
		}
	}

	// 3. 补充规则，在主要激活之后求值，被补充的主题也可继续补充
	active := make(map[string]struct{}, len(ordered))
	for _, topic := range ordered {
		active[topic] = struct{}{}
	}
	for i := 0; i < len(ordered); i++ {
		for _, rule := range idx.enrichments[ordered[i]] {
			if _, ok := active[rule.Dependent]; ok {
				continue
			}
			if rule.When.Holds(lowered) {
				active[rule.Dependent] = struct{}{}
				ordered = append(ordered, rule.Dependent)
			}
		}
	}

	activations := make([]Activation, 0, len(ordered))
	for _, topic := range ordered {
		activations = append(activations, Activation{
			Topic:     topic,
			Fragments: idx.FragmentsForTopic(topic, lang),
			Source:    SourceKeyword,
		})
	}
	return activations
}

// Fragment 按 ID 查找片段
func (idx *Index) Fragment(id string) (*Fragment, bool) {
	f, ok := idx.byID[id]
	return f, ok
}

// Fragments 返回全部片段（索引顺序）
func (idx *Index) Fragments() []*Fragment {
	return append([]*Fragment(nil), idx.fragments...)
}

// FragmentsFor 返回指定语言的片段
func (idx *Index) FragmentsFor(lang Language) []*Fragment {
	return append([]*Fragment(nil), idx.byLanguage[lang]...)
}

// FragmentsForTopic 返回指定主题与语言的片段
func (idx *Index) FragmentsForTopic(topic string, lang Language) []*Fragment {
	return append([]*Fragment(nil), idx.byTopic[topic][lang]...)
}

// Topics 返回所有已声明主题（声明顺序）
func (idx *Index) Topics() []string {
	return append([]string(nil), idx.topics...)
}

// HasTopic 判断主题是否已声明
func (idx *Index) HasTopic(topic string) bool {
	_, ok := idx.topicOrder[topic]
	return ok
}

// Len 返回片段数量
func (idx *Index) Len() int {
	return len(idx.fragments)
}
