package retrieval_test

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/easyops/contextengine/internal/testutil"
	"github.com/easyops/contextengine/pkg/core/config"
	"github.com/easyops/contextengine/pkg/core/errors"
	"github.com/easyops/contextengine/pkg/embedding"
	"github.com/easyops/contextengine/pkg/knowledge"
	"github.com/easyops/contextengine/pkg/otel"
	"github.com/easyops/contextengine/pkg/retrieval"
)

func staticSearcher(matches ...retrieval.Match) *testutil.FakeSearcher {
	return &testutil.FakeSearcher{
		SearchFunc: func(context.Context, string, knowledge.Language, int, float64) ([]retrieval.Match, error) {
			return matches, nil
		},
	}
}

func TestFallback_Defaults(t *testing.T) {
	f := retrieval.NewFallback(staticSearcher(), testutil.Index(t))
	if f.TopK() != 4 || f.MinScore() != 0.75 || f.Timeout() != 2*time.Second {
		t.Fatalf("unexpected defaults topK=%d min=%v timeout=%s", f.TopK(), f.MinScore(), f.Timeout())
	}

	f = retrieval.NewFallback(staticSearcher(), testutil.Index(t), retrieval.FallbackFromConfig(config.RetrievalConfig{TopK: 2, MinScore: 0.5, Timeout: time.Second})...)
	if f.TopK() != 2 || f.MinScore() != 0.5 || f.Timeout() != time.Second {
		t.Fatalf("expected config to apply, got topK=%d min=%v timeout=%s", f.TopK(), f.MinScore(), f.Timeout())
	}
}

func TestFallback_PassesParameters(t *testing.T) {
	var gotK int
	var gotMin float64
	var gotLang knowledge.Language
	searcher := &testutil.FakeSearcher{
		SearchFunc: func(_ context.Context, _ string, lang knowledge.Language, k int, minScore float64) ([]retrieval.Match, error) {
			gotK, gotMin, gotLang = k, minScore, lang
			return nil, nil
		},
	}

	f := retrieval.NewFallback(searcher, testutil.Index(t), retrieval.WithTopK(3), retrieval.WithMinScore(0.6))
	res := f.Search(context.Background(), "anything", knowledge.LanguageIcelandic)

	if gotK != 3 || gotMin != 0.6 || gotLang != knowledge.LanguageIcelandic {
		t.Fatalf("unexpected parameters k=%d min=%v lang=%s", gotK, gotMin, gotLang)
	}
	if res.Degraded || len(res.Activations) != 0 {
		t.Fatalf("expected empty healthy result, got %+v", res)
	}
}

func TestFallback_Grouping(t *testing.T) {
	searcher := staticSearcher(
		retrieval.Match{FragmentID: "dining-en", Score: 0.80},
		retrieval.Match{FragmentID: "hours-is", Score: 0.99},
		retrieval.Match{FragmentID: "missing", Score: 0.97},
		retrieval.Match{FragmentID: "ritual-en", Score: 0.91},
		retrieval.Match{FragmentID: "dining-en", Score: 0.79},
	)
	f := retrieval.NewFallback(searcher, testutil.Index(t))

	res := f.Search(context.Background(), "where can I eat", knowledge.LanguageEnglish)
	if res.Degraded {
		t.Fatalf("unexpected degradation: %v", res.Err)
	}
	if len(res.Activations) != 2 {
		t.Fatalf("expected unknown and wrong-language matches dropped, got %+v", res.Activations)
	}

	// groups ordered by best score
	if res.Activations[0].Topic != testutil.TopicRitual || res.Activations[1].Topic != testutil.TopicDining {
		t.Fatalf("unexpected group order %s, %s", res.Activations[0].Topic, res.Activations[1].Topic)
	}
	for _, a := range res.Activations {
		if a.Source != knowledge.SourceVector {
			t.Errorf("expected vector source for %s, got %s", a.Topic, a.Source)
		}
		if len(a.Fragments) != 1 {
			t.Errorf("expected duplicates collapsed for %s, got %d fragments", a.Topic, len(a.Fragments))
		}
	}
	if res.Scores["dining-en"] != 0.80 || len(res.Scores) != 2 {
		t.Fatalf("unexpected scores %v", res.Scores)
	}
}

func TestFallback_Degraded(t *testing.T) {
	tests := []struct {
		name     string
		searcher *testutil.FakeSearcher
		ctx      func() (context.Context, context.CancelFunc)
		opts     []retrieval.FallbackOption
		reason   string
	}{
		{
			name: "searcher error",
			searcher: &testutil.FakeSearcher{SearchFunc: func(context.Context, string, knowledge.Language, int, float64) ([]retrieval.Match, error) {
				return nil, fmt.Errorf("%w: connection refused", errors.ErrVectorStoreFailed)
			}},
			ctx:    func() (context.Context, context.CancelFunc) { return context.WithCancel(context.Background()) },
			reason: "error",
		},
		{
			name:     "timeout",
			searcher: testutil.BlockingSearcher(),
			ctx:      func() (context.Context, context.CancelFunc) { return context.WithCancel(context.Background()) },
			opts:     []retrieval.FallbackOption{retrieval.WithTimeout(10 * time.Millisecond)},
			reason:   "timeout",
		},
		{
			name:     "caller canceled",
			searcher: testutil.BlockingSearcher(),
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx, cancel
			},
			reason: "canceled",
		},
		{
			name:     "searcher ignores cancellation",
			searcher: staticSearcher(retrieval.Match{FragmentID: "hours-en", Score: 0.9}),
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx, cancel
			},
			reason: "canceled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := otel.NewInMemoryMetrics()
			opts := append([]retrieval.FallbackOption{retrieval.WithMetrics(metrics)}, tt.opts...)
			f := retrieval.NewFallback(tt.searcher, testutil.Index(t), opts...)

			ctx, cancel := tt.ctx()
			defer cancel()

			start := time.Now()
			res := f.Search(ctx, "hello", knowledge.LanguageEnglish)
			if time.Since(start) > time.Second {
				t.Fatal("expected search to return promptly")
			}
			if !res.Degraded || !errors.Is(res.Err, errors.ErrRetrievalDegraded) {
				t.Fatalf("expected degraded result, got %+v", res)
			}
			if len(res.Activations) != 0 {
				t.Fatal("expected no activations from degraded search")
			}
			if metrics.GetCounterValue(otel.MetricRetrievalDegraded) != 1 {
				t.Fatal("expected degraded counter to be incremented")
			}
		})
	}
}

func TestFallback_TimeoutBoundsUncooperativeSearcher(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	searcher := retrieval.SearcherFunc(func(context.Context, string, knowledge.Language, int, float64) ([]retrieval.Match, error) {
		// ignores ctx entirely
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
		return []retrieval.Match{{FragmentID: "hours-en", Score: 0.9}}, nil
	})
	f := retrieval.NewFallback(searcher, testutil.Index(t), retrieval.WithTimeout(20*time.Millisecond))

	start := time.Now()
	res := f.Search(context.Background(), "hello", knowledge.LanguageEnglish)
	elapsed := time.Since(start)

	if elapsed > 500*time.Millisecond {
		t.Fatalf("expected search bounded by the timeout, took %v", elapsed)
	}
	if !res.Degraded || !errors.Is(res.Err, errors.ErrRetrievalDegraded) {
		t.Fatalf("expected degraded result, got %+v", res)
	}
	if len(res.Activations) != 0 {
		t.Fatal("expected no activations from an abandoned search")
	}
}

func TestFallback_Metrics(t *testing.T) {
	metrics := otel.NewInMemoryMetrics()
	f := retrieval.NewFallback(staticSearcher(retrieval.Match{FragmentID: "hours-en", Score: 0.9}), testutil.Index(t), retrieval.WithMetrics(metrics))

	f.Search(context.Background(), "when", knowledge.LanguageEnglish)

	if metrics.GetCounterValue(otel.MetricRetrievalRequests) != 1 {
		t.Fatal("expected one retrieval request")
	}
	if got := metrics.GetHistogramValues(otel.MetricRetrievalMatches); len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected one recorded match count of 1, got %v", got)
	}
	if len(metrics.GetHistogramValues(otel.MetricRetrievalDuration)) != 1 {
		t.Fatal("expected retrieval duration to be recorded")
	}
}

func indexedSearcher(t *testing.T) (*retrieval.EmbeddingSearcher, *knowledge.Index) {
	t.Helper()
	idx := testutil.Index(t)

	corpus := make([]string, 0, idx.Len())
	for _, f := range idx.Fragments() {
		corpus = append(corpus, f.Body())
	}
	embedder := embedding.NewTFIDFEmbedder()
	embedder.Fit(corpus)

	store := retrieval.NewMemoryStore()
	if _, err := retrieval.NewIndexer(embedder, store, retrieval.WithBatchSize(3)).Index(context.Background(), idx); err != nil {
		t.Fatalf("index: %v", err)
	}
	return retrieval.NewEmbeddingSearcher(embedder, store), idx
}

func TestEmbeddingSearcher(t *testing.T) {
	searcher, _ := indexedSearcher(t)

	matches, err := searcher.SimilaritySearch(context.Background(), "how many minutes does the seven step ritual take", knowledge.LanguageEnglish, 3, 0.1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) == 0 || matches[0].FragmentID != "ritual-en" {
		t.Fatalf("expected ritual-en first, got %+v", matches)
	}
	for _, m := range matches {
		if m.Score < 0.1 || math.IsNaN(m.Score) {
			t.Errorf("match %s below threshold: %v", m.FragmentID, m.Score)
		}
	}
	if len(matches) > 3 {
		t.Fatalf("expected at most 3 matches, got %d", len(matches))
	}
}

func TestEmbeddingSearcher_OutOfVocabulary(t *testing.T) {
	searcher, _ := indexedSearcher(t)

	matches, err := searcher.SimilaritySearch(context.Background(), "zzz qqq", knowledge.LanguageEnglish, 3, 0)
	if err != nil || len(matches) != 0 {
		t.Fatalf("expected no matches for unknown words, got %v %v", matches, err)
	}
}

func TestEmbeddingSearcher_LanguageFilter(t *testing.T) {
	searcher, idx := indexedSearcher(t)

	matches, err := searcher.SimilaritySearch(context.Background(), "45 ritual minutes", knowledge.LanguageIcelandic, 5, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, m := range matches {
		f, _ := idx.Fragment(m.FragmentID)
		if f.Language() != knowledge.LanguageIcelandic {
			t.Errorf("expected only icelandic fragments, got %s", m.FragmentID)
		}
	}
}

func TestFallback_WithEmbeddingSearcher(t *testing.T) {
	searcher, idx := indexedSearcher(t)
	f := retrieval.NewFallback(searcher, idx, retrieval.WithMinScore(0.2))

	res := f.Search(context.Background(), "is there a shuttle bus from the city centre", knowledge.LanguageEnglish)
	if res.Degraded {
		t.Fatalf("unexpected degradation: %v", res.Err)
	}
	if len(res.Activations) == 0 || res.Activations[0].Topic != testutil.TopicTransport {
		t.Fatalf("expected transport first, got %+v", res.Activations)
	}
}
