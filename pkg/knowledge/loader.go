package knowledge

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/easyops/contextengine/pkg/core/errors"
)

// fileSchema 知识文件结构
//
//	fragments:
//	  - id: hours-en
//	    language: en
//	    topics: [hours]
//	    triggers: [open, close]
//	    priority: 5
//	    body: |
//	      ...
//	rules:
//	  - topic: hours
//	    any: [close, opening]
//	  - topic: kids
//	    all: [[age, "12"]]
//	enrichments:
//	  - topic: packages
//	    dependent: ritual
//	    any: [ritual]
type fileSchema struct {
	Fragments   []fragmentSchema   `yaml:"fragments"`
	Rules       []ruleSchema       `yaml:"rules"`
	Enrichments []enrichmentSchema `yaml:"enrichments"`
}

type fragmentSchema struct {
	ID       string   `yaml:"id"`
	Language string   `yaml:"language"`
	Topics   []string `yaml:"topics"`
	Triggers []string `yaml:"triggers"`
	Priority int      `yaml:"priority"`
	Body     string   `yaml:"body"`
}

type ruleSchema struct {
	Topic     string     `yaml:"topic"`
	Languages []string   `yaml:"languages"`
	Any       []string   `yaml:"any"`
	All       [][]string `yaml:"all"`
}

type enrichmentSchema struct {
	Topic     string   `yaml:"topic"`
	Dependent string   `yaml:"dependent"`
	Any       []string `yaml:"any"`
	All       []string `yaml:"all"`
}

// LoadFile 从 YAML 文件加载知识索引
func LoadFile(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewConfigurationError("knowledge", "open %s: %v", path, err)
	}
	defer f.Close()

	return Load(f)
}

// Load 从 YAML 读取知识索引
func Load(r io.Reader) (*Index, error) {
	var doc fileSchema
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, errors.NewConfigurationError("knowledge", "decode yaml: %v", err)
	}

	fragments := make([]*Fragment, 0, len(doc.Fragments))
	for _, fs := range doc.Fragments {
		lang, ok := ParseLanguage(fs.Language)
		if !ok {
			return nil, errors.NewConfigurationError("knowledge", "fragment %q has unsupported language %q", fs.ID, fs.Language)
		}
		fragments = append(fragments, NewFragment(FragmentSpec{
			ID:           fs.ID,
			Language:     lang,
			TopicTags:    fs.Topics,
			TriggerTerms: fs.Triggers,
			Body:         fs.Body,
			PriorityHint: fs.Priority,
		}))
	}

	rules := make([]TopicRule, 0, len(doc.Rules))
	for _, rs := range doc.Rules {
		rule, err := rs.toRule()
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	enrichments := make([]EnrichmentRule, 0, len(doc.Enrichments))
	for _, es := range doc.Enrichments {
		var when Condition
		switch {
		case len(es.All) > 0:
			when = AllOf(es.All...)
		default:
			when = AnyOf(es.Any...)
		}
		enrichments = append(enrichments, EnrichmentRule{
			Topic:     es.Topic,
			When:      when,
			Dependent: es.Dependent,
		})
	}

	return NewIndex(fragments, rules, enrichments)
}

// toRule 转换为 TopicRule
func (rs ruleSchema) toRule() (TopicRule, error) {
	rule := TopicRule{Topic: rs.Topic}

	for _, raw := range rs.Languages {
		lang, ok := ParseLanguage(raw)
		if !ok {
			return TopicRule{}, errors.NewConfigurationError("knowledge", "rule %q has unsupported language %q", rs.Topic, raw)
		}
		rule.Languages = append(rule.Languages, lang)
	}

	if len(rs.Any) > 0 {
		rule.Conditions = append(rule.Conditions, AnyOf(rs.Any...))
	}
	for i, group := range rs.All {
		if len(group) < 2 {
			return TopicRule{}, errors.NewConfigurationError("knowledge",
				"rule %q conjunction %d needs at least two terms, got %s", rs.Topic, i, fmt.Sprint(group))
		}
		rule.Conditions = append(rule.Conditions, AllOf(group...))
	}

	return rule, nil
}
