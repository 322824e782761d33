package topic_test

import (
	"context"
	"strings"
	"testing"

	"github.com/easyops/contextengine/internal/testutil"
	"github.com/easyops/contextengine/pkg/core/errors"
	"github.com/easyops/contextengine/pkg/knowledge"
	"github.com/easyops/contextengine/pkg/retrieval"
	"github.com/easyops/contextengine/pkg/topic"
)

// mockFallback returns a fixed result and counts calls.
type mockFallback struct {
	SearchFunc func(ctx context.Context, utterance string, lang knowledge.Language) retrieval.Result
	calls      int
}

func (m *mockFallback) Search(ctx context.Context, utterance string, lang knowledge.Language) retrieval.Result {
	m.calls++
	if m.SearchFunc == nil {
		return retrieval.Result{}
	}
	return m.SearchFunc(ctx, utterance, lang)
}

func vectorResult(t *testing.T, idx *knowledge.Index, scores map[string]float64, topics ...string) retrieval.Result {
	t.Helper()
	res := retrieval.Result{Scores: scores}
	for _, tp := range topics {
		var frags []*knowledge.Fragment
		for id := range scores {
			f, ok := idx.Fragment(id)
			if !ok {
				t.Fatalf("unknown fragment %s", id)
			}
			if f.PrimaryTopic() == tp {
				frags = append(frags, f)
			}
		}
		res.Activations = append(res.Activations, knowledge.Activation{Topic: tp, Fragments: frags, Source: knowledge.SourceVector})
	}
	return res
}

func fragmentIDs(fs []knowledge.AttachedFragment) []string {
	ids := make([]string, len(fs))
	for i, f := range fs {
		ids[i] = f.Fragment.ID()
	}
	return ids
}

func TestDetect_KeywordSkipsFallback(t *testing.T) {
	fb := &mockFallback{}
	d := topic.NewDetector(testutil.Index(t), topic.WithFallback(fb))

	det := d.Detect(context.Background(), "What time do you close?", knowledge.LanguageEnglish, topic.Options{})

	if fb.calls != 0 || det.UsedFallback {
		t.Fatal("expected keyword hit to skip the vector fallback")
	}
	if len(det.Topics) != 1 || det.Topics[0] != testutil.TopicHours {
		t.Fatalf("expected hours, got %v", det.Topics)
	}
	if len(det.Fragments) != 1 || det.Fragments[0].Fragment.ID() != "hours-en" {
		t.Fatalf("expected hours-en, got %v", fragmentIDs(det.Fragments))
	}
	if det.Fragments[0].Source != knowledge.SourceKeyword {
		t.Fatalf("expected keyword source, got %s", det.Fragments[0].Source)
	}
}

func TestDetect_VectorFallback(t *testing.T) {
	idx := testutil.Index(t)
	fb := &mockFallback{SearchFunc: func(context.Context, string, knowledge.Language) retrieval.Result {
		return vectorResult(t, idx, map[string]float64{"shuttle-en": 0.88}, testutil.TopicTransport)
	}}
	d := topic.NewDetector(idx, topic.WithFallback(fb))

	det := d.Detect(context.Background(), "how do I get there from town", knowledge.LanguageEnglish, topic.Options{})

	if fb.calls != 1 || !det.UsedFallback {
		t.Fatal("expected vector fallback on keyword miss")
	}
	if len(det.Activations) != 1 || det.Activations[0].Source != knowledge.SourceVector {
		t.Fatalf("expected a single vector activation, got %+v", det.Activations)
	}
	if len(det.Fragments) != 1 || det.Fragments[0].Score != 0.88 {
		t.Fatalf("expected scored shuttle fragment, got %+v", det.Fragments)
	}
	if len(det.Warnings) != 0 {
		t.Fatalf("unexpected warnings %v", det.Warnings)
	}
}

func TestDetect_Degraded(t *testing.T) {
	fb := &mockFallback{SearchFunc: func(context.Context, string, knowledge.Language) retrieval.Result {
		return retrieval.Result{Degraded: true, Err: errors.ErrRetrievalDegraded}
	}}
	d := topic.NewDetector(testutil.Index(t), topic.WithFallback(fb))

	det := d.Detect(context.Background(), "hmm", knowledge.LanguageEnglish, topic.Options{})

	if !det.Degraded || !det.IsEmpty() {
		t.Fatalf("expected empty degraded detection, got %+v", det)
	}
	if len(det.Warnings) != 1 || !strings.HasPrefix(det.Warnings[0], topic.WarnRetrievalDegraded) {
		t.Fatalf("expected retrieval_degraded warning, got %v", det.Warnings)
	}
}

func TestDetect_BroadRecallCombines(t *testing.T) {
	idx := testutil.Index(t)
	fb := &mockFallback{SearchFunc: func(context.Context, string, knowledge.Language) retrieval.Result {
		return vectorResult(t, idx, map[string]float64{"hours-en": 0.9, "dining-en": 0.8}, testutil.TopicHours, testutil.TopicDining)
	}}
	d := topic.NewDetector(idx, topic.WithFallback(fb))

	det := d.Detect(context.Background(), "opening hours", knowledge.LanguageEnglish, topic.Options{BroadRecall: true})

	if fb.calls != 1 {
		t.Fatal("expected broad recall to call the fallback")
	}
	if want := []string{testutil.TopicHours, testutil.TopicDining}; strings.Join(det.Topics, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, det.Topics)
	}
	if det.Activations[0].Source != knowledge.SourceCombined {
		t.Fatalf("expected combined hours activation, got %s", det.Activations[0].Source)
	}
	if got := fragmentIDs(det.Fragments); strings.Join(got, ",") != "hours-en,dining-en" {
		t.Fatalf("expected each fragment once, got %v", got)
	}
	if det.Fragments[0].Source != knowledge.SourceCombined || det.Fragments[1].Source != knowledge.SourceVector {
		t.Fatalf("unexpected sources %s, %s", det.Fragments[0].Source, det.Fragments[1].Source)
	}
}

func TestDetect_FragmentCap(t *testing.T) {
	d := topic.NewDetector(testutil.Index(t), topic.WithFragmentCap(2))

	det := d.Detect(context.Background(), "premium package price, opening hours, age 12, dinner", knowledge.LanguageEnglish, topic.Options{})

	if len(det.Fragments) != 2 {
		t.Fatalf("expected 2 fragments, got %v", fragmentIDs(det.Fragments))
	}
	if det.Dropped != len(det.Topics)-2 {
		t.Fatalf("expected %d dropped, got %d", len(det.Topics)-2, det.Dropped)
	}
	// highest hints survive in their original order
	if got := fragmentIDs(det.Fragments); strings.Join(got, ",") != "hours-en,age-en" {
		t.Fatalf("expected hours-en and age-en, got %v", got)
	}
}

func TestDetect_NoFallbackConfigured(t *testing.T) {
	d := topic.NewDetector(testutil.Index(t))

	det := d.Detect(context.Background(), "tell me a joke", knowledge.LanguageEnglish, topic.Options{})
	if !det.IsEmpty() || det.UsedFallback || len(det.Warnings) != 0 {
		t.Fatalf("expected empty detection without warnings, got %+v", det)
	}
}

func TestDetect_Idempotent(t *testing.T) {
	d := topic.NewDetector(testutil.Index(t))
	first := d.Detect(context.Background(), "ritual package", knowledge.LanguageIcelandic, topic.Options{})
	second := d.Detect(context.Background(), "ritual package", knowledge.LanguageIcelandic, topic.Options{})

	if strings.Join(fragmentIDs(first.Fragments), ",") != strings.Join(fragmentIDs(second.Fragments), ",") {
		t.Fatal("expected identical detections for identical input")
	}
	for _, f := range first.Fragments {
		if f.Fragment.Language() != knowledge.LanguageIcelandic {
			t.Errorf("expected icelandic fragments only, got %s", f.Fragment.ID())
		}
	}
}
