package engine_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/easyops/contextengine/internal/testutil"
	"github.com/easyops/contextengine/pkg/core/errors"
	"github.com/easyops/contextengine/pkg/engine"
	"github.com/easyops/contextengine/pkg/knowledge"
	"github.com/easyops/contextengine/pkg/otel"
	"github.com/easyops/contextengine/pkg/prompt"
	"github.com/easyops/contextengine/pkg/retrieval"
	"github.com/easyops/contextengine/pkg/session"
	"github.com/easyops/contextengine/pkg/topic"
)

var fixedNow = time.Date(2025, time.July, 10, 9, 30, 0, 0, time.UTC)

func newEngine(t *testing.T, opts ...engine.Option) *engine.Engine {
	t.Helper()
	base := []engine.Option{
		engine.WithTokenCounter(prompt.NewEstimatedCounter()),
		engine.WithClock(func() time.Time { return fixedNow }),
	}
	eng, err := engine.New(testutil.Index(t), testutil.Registry(t), append(base, opts...)...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func hasPrefix(warnings []string, prefix string) bool {
	for _, w := range warnings {
		if strings.HasPrefix(w, prefix) {
			return true
		}
	}
	return false
}

func fragmentIDs(fs []knowledge.AttachedFragment) []string {
	ids := make([]string, len(fs))
	for i, f := range fs {
		ids[i] = f.Fragment.ID()
	}
	return ids
}

func TestProcess_ClosingTime(t *testing.T) {
	eng := newEngine(t)

	res := eng.Process(context.Background(), "What time do you close?", knowledge.LanguageEnglish, session.Context{})

	if got := strings.Join(res.Detection.Topics, ","); got != testutil.TopicHours {
		t.Fatalf("expected hours, got %s", got)
	}
	if got := strings.Join(res.Prompt.OrderedModules, ","); got != "identity,seasonal-hours,formatting" {
		t.Fatalf("unexpected modules %s", got)
	}
	if got := fragmentIDs(res.Prompt.AttachedFragments); len(got) != 1 || got[0] != "hours-en" {
		t.Fatalf("expected hours-en, got %v", got)
	}
	if len(res.Warnings()) != 0 {
		t.Fatalf("unexpected warnings %v", res.Warnings())
	}
	if !strings.Contains(res.Prompt.Text, "Open daily 09:00 to 22:00.") {
		t.Fatalf("expected fragment body in prompt:\n%s", res.Prompt.Text)
	}
	if res.Update.LastTopic != testutil.TopicHours || res.Update.Language != knowledge.LanguageEnglish {
		t.Fatalf("unexpected update %+v", res.Update)
	}
	if !res.Update.ProposedAt.Equal(fixedNow) {
		t.Fatalf("expected update stamped by the engine clock, got %s", res.Update.ProposedAt)
	}
	if res.RequestID == "" {
		t.Fatal("expected request id")
	}
}

func TestProcess_AgeConjunction(t *testing.T) {
	eng := newEngine(t)

	res := eng.Process(context.Background(), "Can my kid come, she is age 12?", knowledge.LanguageEnglish, session.Context{})
	if len(res.Detection.Topics) == 0 || res.Detection.Topics[0] != testutil.TopicAgePolicy {
		t.Fatalf("expected age_policy, got %v", res.Detection.Topics)
	}
	if res.Prompt.OrderedModules[0] != "identity" || res.Prompt.OrderedModules[1] != "age-rules" {
		t.Fatalf("expected critical modules first, got %v", res.Prompt.OrderedModules)
	}

	res = eng.Process(context.Background(), "what is the age limit", knowledge.LanguageEnglish, session.Context{})
	if len(res.Detection.Topics) != 0 {
		t.Fatalf("expected conjunction to need both terms, got %v", res.Detection.Topics)
	}
}

func TestProcess_VectorFallback(t *testing.T) {
	idx := testutil.Index(t)
	searcher := &testutil.FakeSearcher{SearchFunc: func(context.Context, string, knowledge.Language, int, float64) ([]retrieval.Match, error) {
		return []retrieval.Match{{FragmentID: "shuttle-en", Score: 0.91}}, nil
	}}
	eng := newEngine(t, engine.WithFallback(retrieval.NewFallback(searcher, idx)))

	res := eng.Process(context.Background(), "how do I get there from town", knowledge.LanguageEnglish, session.Context{})

	if searcher.Calls() != 1 {
		t.Fatalf("expected one vector search, got %d", searcher.Calls())
	}
	if len(res.Prompt.AttachedFragments) != 1 {
		t.Fatalf("expected the vector fragment, got %v", fragmentIDs(res.Prompt.AttachedFragments))
	}
	f := res.Prompt.AttachedFragments[0]
	if f.Fragment.ID() != "shuttle-en" || f.Source != knowledge.SourceVector {
		t.Fatalf("expected shuttle-en from vector, got %s from %s", f.Fragment.ID(), f.Source)
	}

	// keyword hits skip the vector path
	eng.Process(context.Background(), "opening hours", knowledge.LanguageEnglish, session.Context{})
	if searcher.Calls() != 1 {
		t.Fatal("expected keyword hit not to call the vector search")
	}
}

func TestProcess_RetrievalTimeout(t *testing.T) {
	metrics := otel.NewInMemoryMetrics()
	fallback := retrieval.NewFallback(testutil.BlockingSearcher(), testutil.Index(t), retrieval.WithTimeout(20*time.Millisecond))
	eng := newEngine(t, engine.WithFallback(fallback), engine.WithMetrics(metrics))

	start := time.Now()
	res := eng.Process(context.Background(), "tell me something nice", knowledge.LanguageEnglish, session.Context{})
	if time.Since(start) > time.Second {
		t.Fatal("expected the degraded turn to finish promptly")
	}

	if !hasPrefix(res.Warnings(), topic.WarnRetrievalDegraded) {
		t.Fatalf("expected retrieval_degraded warning, got %v", res.Warnings())
	}
	if got := strings.Join(res.Prompt.OrderedModules, ","); got != "identity,formatting" {
		t.Fatalf("expected always-include modules only, got %s", got)
	}
	if res.Prompt.Text == "" {
		t.Fatal("expected a usable prompt")
	}
	if metrics.GetCounterValue(otel.MetricRequests) != 1 {
		t.Fatal("expected the turn to be counted")
	}
}

func TestProcess_BudgetHolds(t *testing.T) {
	eng := newEngine(t, engine.WithPromptConfig(prompt.Config{MaxChars: 200, MinFragmentChars: 20}))

	utterances := []string{
		"premium package price and opening hours for age 12 before dinner",
		"what is the ritual",
		"",
		strings.Repeat("hours ", 200),
	}
	for _, u := range utterances {
		res := eng.Process(context.Background(), u, knowledge.LanguageEnglish, session.Context{LastTopic: "hours", SeasonalContext: "summer"})
		if res.Prompt.TotalLength > 200 {
			t.Errorf("budget exceeded for %q: %d", u, res.Prompt.TotalLength)
		}
		if !strings.Contains(res.Prompt.Text, "You are the lagoon guest assistant.") {
			t.Errorf("expected identity module to survive for %q", u)
		}
	}
}

func TestProcess_Idempotent(t *testing.T) {
	eng := newEngine(t)
	snap := session.Context{SessionID: "s1", LastTopic: "packages", SeasonalContext: "winter", TimeContext: "evening"}

	first := eng.Process(context.Background(), "premium package with robe", knowledge.LanguageEnglish, snap)
	second := eng.Process(context.Background(), "premium package with robe", knowledge.LanguageEnglish, snap)

	if first.Prompt.Text != second.Prompt.Text {
		t.Fatal("expected identical prompts for identical input")
	}
	if strings.Join(first.Detection.Topics, ",") != "packages,ritual" {
		t.Fatalf("expected enrichment to add ritual, got %v", first.Detection.Topics)
	}
}

func TestProcess_ModuleInvariants(t *testing.T) {
	eng := newEngine(t)
	utterances := []string{"", "hours", "premium package", "ritúal og verð", "age 12", "restaurant dinner", "shuttle"}

	for _, lang := range []knowledge.Language{knowledge.LanguageEnglish, knowledge.LanguageIcelandic} {
		for _, u := range utterances {
			t.Run(fmt.Sprintf("%s/%s", lang, u), func(t *testing.T) {
				res := eng.Process(context.Background(), u, lang, session.Context{})
				included := make(map[string]bool)
				for _, id := range res.Prompt.OrderedModules {
					included[id] = true
				}

				for _, d := range eng.Registry().All() {
					if !d.AllowsLanguage(lang) {
						if included[d.ID] {
							t.Errorf("module %s passed a gate that excludes %s", d.ID, lang)
						}
						continue
					}
					if d.AlwaysInclude() && !included[d.ID] {
						t.Errorf("always-include module %s missing", d.ID)
					}
				}
				for _, f := range res.Prompt.AttachedFragments {
					if f.Fragment.Language() != lang {
						t.Errorf("fragment %s has wrong language", f.Fragment.ID())
					}
				}
			})
		}
	}
}

func TestProcess_EmptyActivation(t *testing.T) {
	eng := newEngine(t)

	res := eng.Process(context.Background(), "hello there", knowledge.LanguageEnglish, session.Context{SessionID: "s1", LastTopic: "hours"})

	if !res.Detection.IsEmpty() || len(res.Prompt.AttachedFragments) != 0 {
		t.Fatalf("expected nothing activated, got %+v", res.Detection)
	}
	if len(res.Warnings()) != 0 {
		t.Fatalf("expected no warnings, got %v", res.Warnings())
	}
	if res.Update.LastTopic != "" || res.Update.SessionID != "s1" {
		t.Fatalf("expected last topic left unchanged, got %+v", res.Update)
	}
}

func TestProcess_Language(t *testing.T) {
	eng := newEngine(t)

	res := eng.Process(context.Background(), "hours", "de", session.Context{})
	if res.Language != knowledge.LanguageEnglish || !hasPrefix(res.Warnings(), engine.WarnUnsupportedLanguage) {
		t.Fatalf("expected english fallback with warning, got %s %v", res.Language, res.Warnings())
	}

	res = eng.Process(context.Background(), "opið", "", session.Context{Language: knowledge.LanguageIcelandic})
	if res.Language != knowledge.LanguageIcelandic {
		t.Fatalf("expected session language, got %s", res.Language)
	}
	if got := fragmentIDs(res.Prompt.AttachedFragments); len(got) != 1 || got[0] != "hours-is" {
		t.Fatalf("expected hours-is, got %v", got)
	}

	res = eng.Process(context.Background(), "hours", " IS ", session.Context{})
	if res.Language != knowledge.LanguageIcelandic || len(res.Warnings()) != 0 {
		t.Fatalf("expected normalized language tag, got %s %v", res.Language, res.Warnings())
	}
}

func TestHandle_Sessions(t *testing.T) {
	eng := newEngine(t)
	store := session.NewMemoryStore()
	ctx := context.Background()

	res := eng.Handle(ctx, store, "s1", "what is the price of a package", knowledge.LanguageEnglish)
	if len(res.Warnings()) != 0 {
		t.Fatalf("unexpected warnings %v", res.Warnings())
	}
	if !strings.Contains(res.Prompt.Text, "season: summer") || !strings.Contains(res.Prompt.Text, "time_of_day: morning") {
		t.Fatalf("expected derived session context in prompt:\n%s", res.Prompt.Text)
	}

	got, _ := store.Get(ctx, "s1")
	if got.LastTopic != testutil.TopicPackages || got.Language != knowledge.LanguageEnglish {
		t.Fatalf("expected stored update, got %+v", got)
	}

	res = eng.Handle(ctx, store, "s1", "hello", "")
	if !strings.Contains(res.Prompt.Text, "last_topic: packages") {
		t.Fatalf("expected last topic carried into next turn:\n%s", res.Prompt.Text)
	}
}

func TestHandle_SessionUnavailable(t *testing.T) {
	eng := newEngine(t)
	store := &testutil.FakeSessionStore{
		GetFunc: func(context.Context, string) (session.Context, error) {
			return session.Context{}, errors.ErrSessionStoreFailed
		},
		ProposeFunc: func(context.Context, string, session.Update) error {
			return errors.ErrSessionStoreFailed
		},
	}

	res := eng.Handle(context.Background(), store, "s1", "what time do you close", knowledge.LanguageEnglish)

	count := 0
	for _, w := range res.Warnings() {
		if strings.HasPrefix(w, engine.WarnSessionUnavailable) {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("expected read and write warnings, got %v", res.Warnings())
	}
	if len(res.Prompt.AttachedFragments) != 1 {
		t.Fatal("expected the turn to proceed without a session")
	}
	if proposed := store.Proposed(); len(proposed) != 1 || proposed[0].LastTopic != testutil.TopicHours {
		t.Fatalf("expected the update to be proposed, got %+v", proposed)
	}
}

func TestNew_Invalid(t *testing.T) {
	idx := testutil.Index(t)
	reg := testutil.Registry(t)

	tests := []struct {
		name string
		fn   func() error
	}{
		{"nil index", func() error { _, err := engine.New(nil, reg); return err }},
		{"nil registry", func() error { _, err := engine.New(idx, nil); return err }},
		{"bad default language", func() error { _, err := engine.New(idx, reg, engine.WithDefaultLanguage("fr")); return err }},
		{"zero fragment cap", func() error { _, err := engine.New(idx, reg, engine.WithFragmentCap(0)); return err }},
		{"budget too small", func() error {
			_, err := engine.New(idx, reg, engine.WithPromptConfig(prompt.Config{MaxChars: 40, MinFragmentChars: 10}))
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.IsConfigurationError(err) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestProcess_Concurrent(t *testing.T) {
	eng := newEngine(t)
	want := eng.Process(context.Background(), "ritual", knowledge.LanguageEnglish, session.Context{}).Prompt.Text

	done := make(chan string, 16)
	for i := 0; i < cap(done); i++ {
		go func() {
			done <- eng.Process(context.Background(), "ritual", knowledge.LanguageEnglish, session.Context{}).Prompt.Text
		}()
	}
	for i := 0; i < cap(done); i++ {
		if got := <-done; got != want {
			t.Fatal("expected concurrent turns to agree")
		}
	}
}
