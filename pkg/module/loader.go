package module

import (
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/easyops/contextengine/pkg/core/errors"
	"github.com/easyops/contextengine/pkg/knowledge"
)

// fileSchema 模块目录文件结构
//
//	modules:
//	  - id: identity
//	    priority: critical
//	    category: foundation
//	    always: true
//	    bodies:
//	      en: You are the assistant for ...
//	      is: Þú ert aðstoðarmaður ...
//	  - id: icelandic-style
//	    priority: medium
//	    category: language
//	    languages: [is]
//	    topics: [greeting]
//	    bodies:
//	      is: ...
type fileSchema struct {
	Modules []descriptorSchema `yaml:"modules"`
}

type descriptorSchema struct {
	ID        string            `yaml:"id"`
	Priority  string            `yaml:"priority"`
	Category  string            `yaml:"category"`
	Always    bool              `yaml:"always"`
	Languages []string          `yaml:"languages"`
	Topics    []string          `yaml:"topics"`
	Bodies    map[string]string `yaml:"bodies"`
}

// LoadFile 从 YAML 文件加载模块注册表
func LoadFile(path string, opts ...RegistryOption) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewConfigurationError("module", "open %s: %v", path, err)
	}
	defer f.Close()

	return Load(f, opts...)
}

// Load 从 YAML 读取模块注册表
func Load(r io.Reader, opts ...RegistryOption) (*Registry, error) {
	var doc fileSchema
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, errors.NewConfigurationError("module", "decode yaml: %v", err)
	}

	descriptors := make([]*Descriptor, 0, len(doc.Modules))
	for _, ds := range doc.Modules {
		d, err := ds.toDescriptor()
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}

	return NewRegistry(descriptors, opts...)
}

// toDescriptor 转换为 Descriptor
func (ds descriptorSchema) toDescriptor() (*Descriptor, error) {
	priority, ok := ParsePriority(ds.Priority)
	if !ok {
		return nil, errors.NewConfigurationError("module", "descriptor %q has unknown priority %q", ds.ID, ds.Priority)
	}
	category, ok := ParseCategory(ds.Category)
	if !ok {
		return nil, errors.NewConfigurationError("module", "descriptor %q references nonexistent category %q", ds.ID, ds.Category)
	}

	d := &Descriptor{
		ID:           ds.ID,
		Priority:     priority,
		Category:     category,
		LanguageGate: Always(),
		Inclusion:    Always(),
		Bodies:       make(map[knowledge.Language]string, len(ds.Bodies)),
	}

	if len(ds.Languages) > 0 {
		langs := make([]knowledge.Language, 0, len(ds.Languages))
		for _, raw := range ds.Languages {
			lang, ok := knowledge.ParseLanguage(raw)
			if !ok {
				return nil, errors.NewConfigurationError("module", "descriptor %q gates on unsupported language %q", ds.ID, raw)
			}
			langs = append(langs, lang)
		}
		d.LanguageGate = LanguageIn(langs...)
	}

	switch {
	case ds.Always && len(ds.Topics) > 0:
		return nil, errors.NewConfigurationError("module", "descriptor %q is always-include and topic-gated", ds.ID)
	case !ds.Always:
		d.Inclusion = TopicsAny(ds.Topics...)
	}

	for raw, body := range ds.Bodies {
		lang, ok := knowledge.ParseLanguage(raw)
		if !ok {
			return nil, errors.NewConfigurationError("module", "descriptor %q has body for unsupported language %q", ds.ID, raw)
		}
		d.Bodies[lang] = body
	}

	return d, nil
}
