// Package module 提供指令模块目录与选择逻辑
//
// 模块描述在启动时注册一次，之后只读。是否包含某个模块由一个小的门控枚举决定，
// 通过 switch 求值，不使用闭包。
package module

import (
	"strings"

	"github.com/easyops/contextengine/pkg/knowledge"
)

// Priority 模块优先级
type Priority int

const (
	// PriorityCritical 关键
	PriorityCritical Priority = iota
	// PriorityHigh 高
	PriorityHigh
	// PriorityMedium 中
	PriorityMedium
	// PriorityLow 低
	PriorityLow
)

var priorityNames = []string{"critical", "high", "medium", "low"}

// String 返回优先级名称
func (p Priority) String() string {
	if p.IsValid() {
		return priorityNames[p]
	}
	return "unknown"
}

// IsValid 检查优先级是否有效
func (p Priority) IsValid() bool {
	return p >= PriorityCritical && p <= PriorityLow
}

// Rank 返回排序键（越小越靠前）
func (p Priority) Rank() int {
	return int(p)
}

// ParsePriority 解析优先级名称
func ParsePriority(s string) (Priority, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range priorityNames {
		if name == s {
			return Priority(i), true
		}
	}
	return 0, false
}

// Category 模块类别
type Category int

// 类别顺序即组装时的次级排序键
const (
	CategoryFoundation Category = iota
	CategorySeasonal
	CategoryServices
	CategoryPolicies
	CategoryLanguage
	CategoryFormatting
)

var categoryNames = []string{"foundation", "seasonal", "services", "policies", "language", "formatting"}

// String 返回类别名称
func (c Category) String() string {
	if c.IsValid() {
		return categoryNames[c]
	}
	return "unknown"
}

// IsValid 检查类别是否存在
func (c Category) IsValid() bool {
	return c >= CategoryFoundation && c <= CategoryFormatting
}

// Rank 返回排序键（越小越靠前）
func (c Category) Rank() int {
	return int(c)
}

// ParseCategory 解析类别名称
func ParseCategory(s string) (Category, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range categoryNames {
		if name == s {
			return Category(i), true
		}
	}
	return 0, false
}

// GateKind 门控类型
type GateKind int

const (
	// GateAlways 总是通过
	GateAlways GateKind = iota
	// GateLanguageEquals 请求语言在列表中时通过
	GateLanguageEquals
	// GateTopicOverlap 请求主题与列表有交集时通过
	GateTopicOverlap
)

// String 返回门控类型名称
func (k GateKind) String() string {
	switch k {
	case GateAlways:
		return "always"
	case GateLanguageEquals:
		return "language"
	case GateTopicOverlap:
		return "topics"
	default:
		return "unknown"
	}
}

// Gate 门控条件
type Gate struct {
	Kind      GateKind
	Languages []knowledge.Language
	Topics    []string
}

// Always 返回总是通过的门控
func Always() Gate {
	return Gate{Kind: GateAlways}
}

// LanguageIn 返回语言门控
func LanguageIn(langs ...knowledge.Language) Gate {
	return Gate{Kind: GateLanguageEquals, Languages: langs}
}

// TopicsAny 返回主题交集门控
func TopicsAny(topics ...string) Gate {
	return Gate{Kind: GateTopicOverlap, Topics: topics}
}

// Allows 求值门控
func (g Gate) Allows(lang knowledge.Language, topics []string) bool {
	switch g.Kind {
	case GateAlways:
		return true
	case GateLanguageEquals:
		for _, l := range g.Languages {
			if l == lang {
				return true
			}
		}
		return false
	case GateTopicOverlap:
		for _, want := range g.Topics {
			for _, have := range topics {
				if want == have {
					return true
				}
			}
		}
		return false
	default:
		return false
	}
}

// Descriptor 指令模块描述
type Descriptor struct {
	// ID 模块 ID
	ID string
	// Priority 优先级
	Priority Priority
	// Category 类别
	Category Category
	// LanguageGate 语言门控（GateAlways 或 GateLanguageEquals）
	LanguageGate Gate
	// Inclusion 包含条件（GateAlways 表示总是包含，GateTopicOverlap 表示按主题包含）
	Inclusion Gate
	// Bodies 各语言的指令正文
	Bodies map[knowledge.Language]string

	order int
}

// AlwaysInclude 是否总是包含
func (d *Descriptor) AlwaysInclude() bool {
	return d.Inclusion.Kind == GateAlways
}

// RelatedTopics 返回相关主题
func (d *Descriptor) RelatedTopics() []string {
	if d.Inclusion.Kind != GateTopicOverlap {
		return nil
	}
	return append([]string(nil), d.Inclusion.Topics...)
}

// Order 返回注册顺序
func (d *Descriptor) Order() int {
	return d.order
}

// Body 返回指定语言的正文
func (d *Descriptor) Body(lang knowledge.Language) string {
	return d.Bodies[lang]
}

// AllowsLanguage 语言门控是否放行
func (d *Descriptor) AllowsLanguage(lang knowledge.Language) bool {
	return d.LanguageGate.Allows(lang, nil)
}

// clone 复制描述，避免注册后被调用方修改
func (d *Descriptor) clone() *Descriptor {
	c := *d
	c.LanguageGate.Languages = append([]knowledge.Language(nil), d.LanguageGate.Languages...)
	c.Inclusion.Topics = append([]string(nil), d.Inclusion.Topics...)
	c.Bodies = make(map[knowledge.Language]string, len(d.Bodies))
	for k, v := range d.Bodies {
		c.Bodies[k] = strings.TrimSpace(v)
	}
	return &c
}
