// Package knowledge 提供知识片段与关键词规则索引
//
// 索引在进程启动时构建一次，之后只读，可被任意数量的请求并发查询。
package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Language 请求与片段的语言
type Language string

const (
	// LanguageEnglish 英语
	LanguageEnglish Language = "en"
	// LanguageIcelandic 冰岛语
	LanguageIcelandic Language = "is"
)

// SupportedLanguages 支持的语言（顺序固定）
var SupportedLanguages = []Language{LanguageEnglish, LanguageIcelandic}

// IsValid 检查语言是否受支持
func (l Language) IsValid() bool {
	switch l {
	case LanguageEnglish, LanguageIcelandic:
		return true
	default:
		return false
	}
}

// ParseLanguage 解析语言代码（大小写不敏感）
func ParseLanguage(s string) (Language, bool) {
	l := Language(strings.ToLower(strings.TrimSpace(s)))
	return l, l.IsValid()
}

// Fragment 知识片段
//
// 构建后不可变；所有切片访问器都返回副本。
// 去重身份是内容哈希而不是 ID。
type Fragment struct {
	id           string
	language     Language
	topicTags    []string
	triggerTerms []string
	body         string
	priorityHint int
	hash         string
}

// FragmentSpec 创建片段的参数
type FragmentSpec struct {
	ID           string
	Language     Language
	TopicTags    []string
	TriggerTerms []string
	Body         string
	PriorityHint int
}

// NewFragment 创建片段
//
// 主题标签与触发词去重并保持声明顺序，触发词统一转为小写。
func NewFragment(spec FragmentSpec) *Fragment {
	body := strings.TrimSpace(spec.Body)
	return &Fragment{
		id:           strings.TrimSpace(spec.ID),
		language:     spec.Language,
		topicTags:    orderedSet(spec.TopicTags, false),
		triggerTerms: orderedSet(spec.TriggerTerms, true),
		body:         body,
		priorityHint: spec.PriorityHint,
		hash:         contentHash(spec.Language, body),
	}
}

// ID 返回片段 ID
func (f *Fragment) ID() string { return f.id }

// Language 返回片段语言
func (f *Fragment) Language() Language { return f.language }

// Body 返回片段正文
func (f *Fragment) Body() string { return f.body }

// PriorityHint 返回优先级提示（越大越重要）
func (f *Fragment) PriorityHint() int { return f.priorityHint }

// Hash 返回内容哈希
func (f *Fragment) Hash() string { return f.hash }

// TopicTags 返回主题标签副本
func (f *Fragment) TopicTags() []string {
	return append([]string(nil), f.topicTags...)
}

// TriggerTerms 返回触发词副本
func (f *Fragment) TriggerTerms() []string {
	return append([]string(nil), f.triggerTerms...)
}

// PrimaryTopic 返回第一个主题标签
func (f *Fragment) PrimaryTopic() string {
	if len(f.topicTags) == 0 {
		return ""
	}
	return f.topicTags[0]
}

// HasTopic 判断片段是否带有指定主题
func (f *Fragment) HasTopic(topic string) bool {
	for _, t := range f.topicTags {
		if t == topic {
			return true
		}
	}
	return false
}

// matches 判断任一触发词是否出现在已小写的文本中
func (f *Fragment) matches(lowered string) bool {
	for _, term := range f.triggerTerms {
		if strings.Contains(lowered, term) {
			return true
		}
	}
	return false
}

// contentHash 计算内容哈希（语言 + NUL + 正文）
func contentHash(lang Language, body string) string {
	sum := sha256.Sum256([]byte(string(lang) + "\x00" + body))
	return hex.EncodeToString(sum[:])
}

// orderedSet 去重并保留首次出现顺序
func orderedSet(items []string, lower bool) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if lower {
			item = strings.ToLower(item)
		}
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
