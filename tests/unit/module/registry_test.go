package module_test

import (
	"reflect"
	"strings"
	"testing"

	"github.com/easyops/contextengine/internal/testutil"
	"github.com/easyops/contextengine/pkg/core/errors"
	"github.com/easyops/contextengine/pkg/knowledge"
	"github.com/easyops/contextengine/pkg/module"
	"github.com/easyops/contextengine/pkg/session"
)

func idsOf(ds []*module.Descriptor) []string {
	var out []string
	for _, d := range ds {
		out = append(out, d.ID)
	}
	return out
}

func TestRegistry_Select(t *testing.T) {
	r := testutil.Registry(t)

	tests := []struct {
		name   string
		topics []string
		lang   knowledge.Language
		want   []string
	}{
		{"no topics english", nil, knowledge.LanguageEnglish, []string{"formatting", "identity"}},
		{"no topics icelandic", nil, knowledge.LanguageIcelandic, []string{"formatting", "identity", "icelandic-style"}},
		{"hours", []string{testutil.TopicHours}, knowledge.LanguageEnglish, []string{"formatting", "identity", "seasonal-hours"}},
		{"packages english", []string{testutil.TopicPackages}, knowledge.LanguageEnglish, []string{"formatting", "identity", "english-upsell", "sales"}},
		{"packages icelandic", []string{testutil.TopicPackages}, knowledge.LanguageIcelandic, []string{"formatting", "identity", "icelandic-style", "sales"}},
		{"overlapping topics deduplicated", []string{testutil.TopicPackages, testutil.TopicRitual}, knowledge.LanguageIcelandic, []string{"formatting", "identity", "icelandic-style", "sales"}},
		{"topic without module", []string{testutil.TopicTransport}, knowledge.LanguageEnglish, []string{"formatting", "identity"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := idsOf(r.Select(tt.topics, tt.lang, session.Context{}))
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRegistry_Select_AlwaysIncludeAndLanguageGate(t *testing.T) {
	r := testutil.Registry(t)
	all := []string{testutil.TopicHours, testutil.TopicPackages, testutil.TopicRitual, testutil.TopicAgePolicy}

	for _, lang := range knowledge.SupportedLanguages {
		selected := r.Select(all, lang, session.Context{})
		ids := make(map[string]bool, len(selected))
		for _, d := range selected {
			ids[d.ID] = true
			if !d.AllowsLanguage(lang) {
				t.Errorf("%s: module %s does not admit the language", lang, d.ID)
			}
		}
		for _, d := range r.AlwaysIncluded(lang) {
			if !ids[d.ID] {
				t.Errorf("%s: always-include module %s missing", lang, d.ID)
			}
		}
	}
}

func TestRegistry_Select_SessionLanguage(t *testing.T) {
	r := testutil.Registry(t)

	got := idsOf(r.Select(nil, "", session.Context{Language: knowledge.LanguageIcelandic}))
	if !reflect.DeepEqual(got, []string{"formatting", "identity", "icelandic-style"}) {
		t.Fatalf("expected session language to drive the gate, got %v", got)
	}
}

func TestRegistry_Accessors(t *testing.T) {
	r := testutil.Registry(t)

	if r.Len() != len(testutil.Descriptors()) {
		t.Fatalf("expected %d descriptors, got %d", len(testutil.Descriptors()), r.Len())
	}
	d, ok := r.Get("sales")
	if !ok {
		t.Fatal("expected sales descriptor")
	}
	if d.AlwaysInclude() {
		t.Fatal("expected sales to be topic-gated")
	}
	if got := d.RelatedTopics(); !reflect.DeepEqual(got, []string{testutil.TopicPackages, testutil.TopicRitual}) {
		t.Fatalf("unexpected related topics %v", got)
	}
	if d.Order() != 5 {
		t.Fatalf("expected registration order 5, got %d", d.Order())
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatal("expected missing lookup to fail")
	}
}

func TestRegistry_CopiesDescriptors(t *testing.T) {
	descs := testutil.Descriptors()
	r, err := module.NewRegistry(descs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	descs[1].Bodies[knowledge.LanguageEnglish] = "mutated"
	d, _ := r.Get("identity")
	if d.Body(knowledge.LanguageEnglish) == "mutated" {
		t.Fatal("expected registry to hold its own copy")
	}
}

func TestNewRegistry_Invalid(t *testing.T) {
	bodies := map[knowledge.Language]string{knowledge.LanguageEnglish: "en", knowledge.LanguageIcelandic: "is"}
	base := func() *module.Descriptor {
		return &module.Descriptor{
			ID: "identity", Priority: module.PriorityCritical, Category: module.CategoryFoundation,
			LanguageGate: module.Always(), Inclusion: module.Always(), Bodies: bodies,
		}
	}

	tests := []struct {
		name   string
		descs  func() []*module.Descriptor
		reason string
	}{
		{
			name:   "empty registry",
			descs:  func() []*module.Descriptor { return nil },
			reason: "no always-include",
		},
		{
			name: "no always-include",
			descs: func() []*module.Descriptor {
				d := base()
				d.Inclusion = module.TopicsAny("hours")
				return []*module.Descriptor{d}
			},
			reason: "no always-include",
		},
		{
			name: "language without always-include",
			descs: func() []*module.Descriptor {
				d := base()
				d.LanguageGate = module.LanguageIn(knowledge.LanguageEnglish)
				return []*module.Descriptor{d}
			},
			reason: "is language gate",
		},
		{
			name:   "duplicate id",
			descs:  func() []*module.Descriptor { return []*module.Descriptor{base(), base()} },
			reason: "duplicate",
		},
		{
			name: "empty id",
			descs: func() []*module.Descriptor {
				d := base()
				d.ID = " "
				return []*module.Descriptor{d}
			},
			reason: "empty id",
		},
		{
			name: "unknown priority",
			descs: func() []*module.Descriptor {
				d := base()
				d.Priority = module.Priority(9)
				return []*module.Descriptor{d}
			},
			reason: "priority",
		},
		{
			name: "nonexistent category",
			descs: func() []*module.Descriptor {
				d := base()
				d.Category = module.Category(42)
				return []*module.Descriptor{d}
			},
			reason: "nonexistent category",
		},
		{
			name: "missing body",
			descs: func() []*module.Descriptor {
				d := base()
				d.Bodies = map[knowledge.Language]string{knowledge.LanguageEnglish: "en"}
				return []*module.Descriptor{d}
			},
			reason: "no is body",
		},
		{
			name: "empty language gate",
			descs: func() []*module.Descriptor {
				d := base()
				d.LanguageGate = module.LanguageIn()
				return []*module.Descriptor{d}
			},
			reason: "empty language gate",
		},
		{
			name: "no related topics",
			descs: func() []*module.Descriptor {
				d := base()
				d.ID = "sales"
				d.Inclusion = module.TopicsAny()
				return []*module.Descriptor{base(), d}
			},
			reason: "no related topics",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := module.NewRegistry(tt.descs())
			if !errors.IsConfigurationError(err) {
				t.Fatalf("expected configuration error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.reason) {
				t.Fatalf("expected error to mention %q, got %v", tt.reason, err)
			}
		})
	}
}

func TestNewRegistry_WithLanguages(t *testing.T) {
	d := &module.Descriptor{
		ID: "identity", Priority: module.PriorityCritical, Category: module.CategoryFoundation,
		LanguageGate: module.LanguageIn(knowledge.LanguageEnglish), Inclusion: module.Always(),
		Bodies: map[knowledge.Language]string{knowledge.LanguageEnglish: "en"},
	}

	if _, err := module.NewRegistry([]*module.Descriptor{d}, module.WithLanguages(knowledge.LanguageEnglish)); err != nil {
		t.Fatalf("expected english-only registry to be valid, got %v", err)
	}
}
