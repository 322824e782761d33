package module_test

import (
	"reflect"
	"strings"
	"testing"

	"github.com/easyops/contextengine/pkg/core/errors"
	"github.com/easyops/contextengine/pkg/knowledge"
	"github.com/easyops/contextengine/pkg/module"
	"github.com/easyops/contextengine/pkg/session"
)

const modulesYAML = `
modules:
  - id: identity
    priority: Critical
    category: foundation
    always: true
    bodies:
      en: You are the assistant.
      is: Þú ert aðstoðarmaðurinn.
  - id: icelandic-style
    priority: high
    category: language
    always: true
    languages: [is]
    bodies:
      is: Svaraðu á íslensku.
  - id: age-rules
    priority: critical
    category: policies
    topics: [age_policy]
    bodies:
      en: Age limits are strict.
      is: Aldurstakmörk eru ströng.
`

func TestLoad(t *testing.T) {
	r, err := module.Load(strings.NewReader(modulesYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d, ok := r.Get("identity")
	if !ok || d.Priority != module.PriorityCritical || d.Category != module.CategoryFoundation {
		t.Fatalf("unexpected identity descriptor %+v", d)
	}

	got := idsOf(r.Select([]string{"age_policy"}, knowledge.LanguageIcelandic, session.Context{}))
	if !reflect.DeepEqual(got, []string{"identity", "icelandic-style", "age-rules"}) {
		t.Fatalf("unexpected selection %v", got)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"malformed yaml", "modules: [\n"},
		{"unknown priority", "modules:\n  - {id: a, priority: urgent, category: foundation, always: true, bodies: {en: x, is: y}}\n"},
		{"unknown category", "modules:\n  - {id: a, priority: high, category: marketing, always: true, bodies: {en: x, is: y}}\n"},
		{"always and topics", "modules:\n  - {id: a, priority: high, category: foundation, always: true, topics: [x], bodies: {en: x, is: y}}\n"},
		{"unsupported gate language", "modules:\n  - {id: a, priority: high, category: foundation, always: true, languages: [de], bodies: {en: x, is: y}}\n"},
		{"unsupported body language", "modules:\n  - {id: a, priority: high, category: foundation, always: true, bodies: {en: x, is: y, fr: z}}\n"},
		{"empty catalog", "modules: []\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := module.Load(strings.NewReader(tt.doc))
			if !errors.IsConfigurationError(err) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestLoadFile_Example(t *testing.T) {
	r, err := module.LoadFile("../../../examples/basic/modules.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, lang := range knowledge.SupportedLanguages {
		if len(r.AlwaysIncluded(lang)) == 0 {
			t.Fatalf("expected always-include modules for %s", lang)
		}
	}
}

func TestParsePriorityAndCategory(t *testing.T) {
	if p, ok := module.ParsePriority(" LOW "); !ok || p != module.PriorityLow {
		t.Fatalf("expected low priority, got %v %t", p, ok)
	}
	if c, ok := module.ParseCategory("seasonal"); !ok || c != module.CategorySeasonal {
		t.Fatalf("expected seasonal category, got %v %t", c, ok)
	}
	if module.Priority(7).String() != "unknown" {
		t.Fatal("expected unknown priority name")
	}
	if module.PriorityCritical.Rank() >= module.PriorityLow.Rank() {
		t.Fatal("expected critical to sort before low")
	}
	if module.CategoryFoundation.Rank() >= module.CategoryFormatting.Rank() {
		t.Fatal("expected foundation to sort before formatting")
	}
}
