package knowledge

import "strings"

// MatchMode 条件匹配方式
type MatchMode int

const (
	// MatchAny 任一词命中即成立（单词触发）
	MatchAny MatchMode = iota
	// MatchAll 所有词都须命中（复合触发，如 "age" 且 "12"）
	MatchAll
)

// String 返回匹配方式名称
func (m MatchMode) String() string {
	if m == MatchAll {
		return "all"
	}
	return "any"
}

// Condition 触发条件
//
// 匹配规则是对小写文本做无锚点子串包含测试，词可以命中更长单词的一部分。
// 这是有意保留的宽松召回行为，下游组装容忍误报但不容忍漏报。
type Condition struct {
	Mode  MatchMode
	Terms []string
}

// AnyOf 创建单词触发条件
func AnyOf(terms ...string) Condition {
	return Condition{Mode: MatchAny, Terms: terms}
}

// AllOf 创建复合触发条件
func AllOf(terms ...string) Condition {
	return Condition{Mode: MatchAll, Terms: terms}
}

// normalized 返回小写去重后的条件
func (c Condition) normalized() Condition {
	return Condition{Mode: c.Mode, Terms: orderedSet(c.Terms, true)}
}

// Holds 判断条件在已小写文本上是否成立
func (c Condition) Holds(lowered string) bool {
	if len(c.Terms) == 0 {
		return false
	}

	switch c.Mode {
	case MatchAll:
		for _, term := range c.Terms {
			if !strings.Contains(lowered, term) {
				return false
			}
		}
		return true
	default:
		for _, term := range c.Terms {
			if strings.Contains(lowered, term) {
				return true
			}
		}
		return false
	}
}

// TopicRule 主题触发规则
//
// 任一条件成立即激活主题。Languages 为空表示适用所有语言。
type TopicRule struct {
	Topic      string
	Languages  []Language
	Conditions []Condition
}

// appliesTo 判断规则是否适用于该语言
func (r TopicRule) appliesTo(lang Language) bool {
	if len(r.Languages) == 0 {
		return true
	}
	for _, l := range r.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// EnrichmentRule 跨主题补充规则
//
// Topic 激活且 When 在同一句话上成立时，Dependent 主题也被激活。
type EnrichmentRule struct {
	Topic     string
	When      Condition
	Dependent string
}

// Source 激活来源
type Source int

const (
	// SourceKeyword 关键词匹配
	SourceKeyword Source = iota
	// SourceVector 向量检索
	SourceVector
	// SourceCombined 两条路径都命中
	SourceCombined
)

// String 返回来源名称
func (s Source) String() string {
	switch s {
	case SourceVector:
		return "vector"
	case SourceCombined:
		return "combined"
	default:
		return "keyword"
	}
}

// Confidence 返回来源置信度排名（越大越可信）
//
// keyword > combined > vector，预算截断时低置信度先被丢弃。
func (s Source) Confidence() int {
	switch s {
	case SourceKeyword:
		return 2
	case SourceCombined:
		return 1
	default:
		return 0
	}
}

// Merge 合并两个来源
func (s Source) Merge(other Source) Source {
	if s == other {
		return s
	}
	return SourceCombined
}

// Activation 单次请求中一个主题的激活结果
type Activation struct {
	// Topic 主题
	Topic string
	// Fragments 已按请求语言过滤的片段
	Fragments []*Fragment
	// Source 激活来源
	Source Source
}

// AttachedFragment 附加到提示词中的片段
type AttachedFragment struct {
	// Fragment 片段
	Fragment *Fragment
	// Topic 首次出现时所属的主题
	Topic string
	// Source 来源
	Source Source
	// Score 向量相似度，纯关键词命中为 0
	Score float64
}
