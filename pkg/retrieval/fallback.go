package retrieval

import (
	"context"
	"sort"
	"time"

	"github.com/easyops/contextengine/pkg/core/errors"
	"github.com/easyops/contextengine/pkg/knowledge"
	"github.com/easyops/contextengine/pkg/otel"
)

// 默认参数
const (
	DefaultTopK     = 4
	DefaultMinScore = 0.75
	DefaultTimeout  = 2 * time.Second
)

// Result 回退检索结果
type Result struct {
	// Activations 按主题分组的激活（Source 为 vector）
	Activations []knowledge.Activation
	// Scores 片段 ID -> 相似度
	Scores map[string]float64
	// Degraded 检索是否因超时、取消或错误而降级
	Degraded bool
	// Err 降级原因
	Err error
	// Elapsed 耗时
	Elapsed time.Duration
}

// Fallback 向量回退
//
// 包装 SimilaritySearcher，负责超时、降级与结果分组。
// 任何失败都不会向上传播，只会把结果标记为降级。
type Fallback struct {
	searcher SimilaritySearcher
	index    *knowledge.Index
	topK     int
	minScore float64
	timeout  time.Duration
	logger   otel.Logger
	metrics  otel.Metrics
}

// FallbackOption 配置 Fallback
type FallbackOption func(*Fallback)

// WithTopK 设置返回数量
func WithTopK(k int) FallbackOption {
	return func(f *Fallback) {
		if k > 0 {
			f.topK = k
		}
	}
}

// WithMinScore 设置最低相似度
func WithMinScore(score float64) FallbackOption {
	return func(f *Fallback) {
		f.minScore = score
	}
}

// WithTimeout 设置超时
func WithTimeout(d time.Duration) FallbackOption {
	return func(f *Fallback) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithLogger 设置日志
func WithLogger(logger otel.Logger) FallbackOption {
	return func(f *Fallback) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithMetrics 设置指标
func WithMetrics(metrics otel.Metrics) FallbackOption {
	return func(f *Fallback) {
		if metrics != nil {
			f.metrics = metrics
		}
	}
}

// NewFallback 创建向量回退
func NewFallback(searcher SimilaritySearcher, index *knowledge.Index, opts ...FallbackOption) *Fallback {
	f := &Fallback{
		searcher: searcher,
		index:    index,
		topK:     DefaultTopK,
		minScore: DefaultMinScore,
		timeout:  DefaultTimeout,
		logger:   otel.NewNoopLogger(),
		metrics:  otel.NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// TopK 返回结果数量上限
func (f *Fallback) TopK() int { return f.topK }

// MinScore 返回最低相似度
func (f *Fallback) MinScore() float64 { return f.minScore }

// Timeout 返回超时
func (f *Fallback) Timeout() time.Duration { return f.timeout }

// Search 执行回退检索
//
// 命中的片段按第一个主题标签分组，分组顺序按组内最高分降序，
// 组内片段同样按分数降序。未知片段与语言不符的片段被丢弃。
func (f *Fallback) Search(ctx context.Context, utterance string, lang knowledge.Language) Result {
	start := time.Now()
	langAttr := otel.NewAttr(otel.AttrLanguage, string(lang))
	f.metrics.Counter(otel.MetricRetrievalRequests).Add(ctx, 1, langAttr)

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	matches, err := f.await(ctx, utterance, lang)

	elapsed := time.Since(start)
	f.metrics.Histogram(otel.MetricRetrievalDuration).Record(ctx, float64(elapsed.Milliseconds()), langAttr)

	if err != nil {
		reason := degradeReason(err)
		f.metrics.Counter(otel.MetricRetrievalDegraded).Add(ctx, 1, langAttr, otel.NewAttr(otel.AttrDegradeReason, reason))
		f.logger.WithContext(ctx).Warn("vector fallback degraded",
			"reason", reason,
			"language", string(lang),
			otel.AttrTopK, f.topK,
			otel.AttrMinScore, f.minScore,
			"elapsed_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return Result{
			Degraded: true,
			Err:      errors.WrapError(errors.ErrRetrievalDegraded, err.Error()),
			Elapsed:  elapsed,
		}
	}

	res := f.group(ctx, matches, lang)
	res.Elapsed = elapsed
	f.metrics.Histogram(otel.MetricRetrievalMatches).Record(ctx, float64(len(res.Scores)), langAttr)
	return res
}

// searchResult 检索协程的返回值
type searchResult struct {
	matches []Match
	err     error
}

// await 在协程中调用检索器，最多等到 ctx 结束
//
// 忽略取消的检索器会在后台跑完，结果写入带缓冲的通道后被丢弃。
func (f *Fallback) await(ctx context.Context, utterance string, lang knowledge.Language) ([]Match, error) {
	done := make(chan searchResult, 1)
	go func() {
		matches, err := f.searcher.SimilaritySearch(ctx, utterance, lang, f.topK, f.minScore)
		done <- searchResult{matches: matches, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil && ctx.Err() != nil {
			// 检索器忽略了取消，结果不可信
			return nil, ctx.Err()
		}
		return res.matches, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// group 解析片段引用并按主题分组
func (f *Fallback) group(ctx context.Context, matches []Match, lang knowledge.Language) Result {
	type group struct {
		topic     string
		best      float64
		first     int
		fragments []*knowledge.Fragment
		scores    []float64
	}

	res := Result{Scores: make(map[string]float64, len(matches))}
	groups := make(map[string]*group)
	var order []*group

	for _, m := range matches {
		frag, ok := f.index.Fragment(m.FragmentID)
		if !ok {
			f.logger.WithContext(ctx).Debug("dropping vector match", "error", errUnknownFragment(m.FragmentID))
			continue
		}
		if frag.Language() != lang {
			continue
		}
		if _, seen := res.Scores[frag.ID()]; seen {
			continue
		}
		topic := frag.PrimaryTopic()
		if topic == "" {
			continue
		}

		res.Scores[frag.ID()] = m.Score

		g, ok := groups[topic]
		if !ok {
			g = &group{topic: topic, best: m.Score, first: len(order)}
			groups[topic] = g
			order = append(order, g)
		}
		if m.Score > g.best {
			g.best = m.Score
		}
		g.fragments = append(g.fragments, frag)
		g.scores = append(g.scores, m.Score)
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].best != order[j].best {
			return order[i].best > order[j].best
		}
		return order[i].first < order[j].first
	})

	for _, g := range order {
		idx := make([]int, len(g.fragments))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool {
			return g.scores[idx[a]] > g.scores[idx[b]]
		})
		fragments := make([]*knowledge.Fragment, len(idx))
		for i, k := range idx {
			fragments[i] = g.fragments[k]
		}
		res.Activations = append(res.Activations, knowledge.Activation{
			Topic:     g.topic,
			Fragments: fragments,
			Source:    knowledge.SourceVector,
		})
	}

	return res
}

// degradeReason 归类降级原因
func degradeReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, errors.ErrTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled), errors.Is(err, errors.ErrContextCanceled):
		return "canceled"
	default:
		return "error"
	}
}
