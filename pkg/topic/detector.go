// Package topic 提供主题检测
//
// 先做关键词匹配，必要时调用向量回退，再合并、去重并限制片段数量。
package topic

import (
	"context"
	"fmt"
	"sort"

	"github.com/easyops/contextengine/pkg/knowledge"
	"github.com/easyops/contextengine/pkg/otel"
	"github.com/easyops/contextengine/pkg/retrieval"
)

// WarnRetrievalDegraded 向量检索降级的告警标记
const WarnRetrievalDegraded = "retrieval_degraded"

// DefaultFragmentCap 默认片段上限
const DefaultFragmentCap = 12

// VectorFallback 向量回退接口
type VectorFallback interface {
	Search(ctx context.Context, utterance string, lang knowledge.Language) retrieval.Result
}

// Options 单次检测选项
type Options struct {
	// BroadRecall 关键词命中时仍然执行向量检索
	BroadRecall bool
}

// Detection 检测结果
type Detection struct {
	// Activations 合并后的主题激活
	Activations []knowledge.Activation
	// Fragments 去重并限额后的片段
	Fragments []knowledge.AttachedFragment
	// Topics 激活主题（按激活顺序）
	Topics []string
	// UsedFallback 本轮是否调用了向量回退
	UsedFallback bool
	// Degraded 向量检索是否降级
	Degraded bool
	// Dropped 因上限被丢弃的片段数
	Dropped int
	// Warnings 告警
	Warnings []string
}

// IsEmpty 没有任何主题被激活
func (d *Detection) IsEmpty() bool {
	return len(d.Topics) == 0
}

// Detector 主题检测器
//
// 自身无状态，可被并发调用。
type Detector struct {
	index    *knowledge.Index
	fallback VectorFallback
	cap      int
	logger   otel.Logger
}

// Option 配置 Detector
type Option func(*Detector)

// WithFallback 设置向量回退
func WithFallback(fallback VectorFallback) Option {
	return func(d *Detector) {
		d.fallback = fallback
	}
}

// WithFragmentCap 设置片段上限
func WithFragmentCap(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.cap = n
		}
	}
}

// WithLogger 设置日志
func WithLogger(logger otel.Logger) Option {
	return func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDetector 创建主题检测器
func NewDetector(index *knowledge.Index, opts ...Option) *Detector {
	d := &Detector{
		index:  index,
		cap:    DefaultFragmentCap,
		logger: otel.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect 检测一句话涉及的主题
//
// 关键词没有命中或开启 BroadRecall 时才调用向量回退。
// 不会返回错误，检索失败只会产生降级告警。
func (d *Detector) Detect(ctx context.Context, utterance string, lang knowledge.Language, opts Options) *Detection {
	det := &Detection{}

	keyword := d.index.Query(utterance, lang)

	var vector retrieval.Result
	if d.fallback != nil && (len(keyword) == 0 || opts.BroadRecall) {
		det.UsedFallback = true
		vector = d.fallback.Search(ctx, utterance, lang)
		if vector.Degraded {
			det.Degraded = true
			det.Warnings = append(det.Warnings, fmt.Sprintf("%s: vector fallback unavailable, using keyword results only", WarnRetrievalDegraded))
		}
	}

	det.Activations = merge(keyword, vector.Activations)
	for _, a := range det.Activations {
		det.Topics = append(det.Topics, a.Topic)
	}

	attached := attach(keyword, det.Activations, vector.Scores)
	det.Fragments, det.Dropped = capFragments(attached, d.cap)
	if det.Dropped > 0 {
		d.logger.WithContext(ctx).Debug("fragment cap reached",
			"cap", d.cap,
			"dropped", det.Dropped,
		)
	}

	return det
}

// merge 合并关键词与向量激活
//
// 关键词主题在前，仅由向量命中的主题按向量顺序追加。
// 同一主题两边都命中时来源为 combined，关键词片段在前。
func merge(keyword, vector []knowledge.Activation) []knowledge.Activation {
	merged := make([]knowledge.Activation, 0, len(keyword)+len(vector))
	pos := make(map[string]int, len(keyword)+len(vector))

	for _, a := range keyword {
		pos[a.Topic] = len(merged)
		merged = append(merged, knowledge.Activation{
			Topic:     a.Topic,
			Fragments: append([]*knowledge.Fragment(nil), a.Fragments...),
			Source:    a.Source,
		})
	}

	for _, a := range vector {
		i, ok := pos[a.Topic]
		if !ok {
			pos[a.Topic] = len(merged)
			merged = append(merged, knowledge.Activation{
				Topic:     a.Topic,
				Fragments: append([]*knowledge.Fragment(nil), a.Fragments...),
				Source:    a.Source,
			})
			continue
		}

		existing := &merged[i]
		existing.Source = existing.Source.Merge(a.Source)
		seen := make(map[string]struct{}, len(existing.Fragments))
		for _, f := range existing.Fragments {
			seen[f.Hash()] = struct{}{}
		}
		for _, f := range a.Fragments {
			if _, dup := seen[f.Hash()]; dup {
				continue
			}
			seen[f.Hash()] = struct{}{}
			existing.Fragments = append(existing.Fragments, f)
		}
	}

	return merged
}

// attach 按首次出现顺序展开片段并按内容哈希去重
//
// 两条路径都命中同一片段时来源记为 combined。
func attach(keyword, merged []knowledge.Activation, scores map[string]float64) []knowledge.AttachedFragment {
	fromKeyword := make(map[string]struct{})
	for _, a := range keyword {
		for _, f := range a.Fragments {
			fromKeyword[f.Hash()] = struct{}{}
		}
	}

	var out []knowledge.AttachedFragment
	index := make(map[string]int)

	for _, a := range merged {
		for _, f := range a.Fragments {
			h := f.Hash()
			score, fromVector := scores[f.ID()]

			if i, seen := index[h]; seen {
				// 同一内容的不同片段 ID 也可能被向量命中
				if fromVector {
					out[i].Source = out[i].Source.Merge(knowledge.SourceVector)
					if score > out[i].Score {
						out[i].Score = score
					}
				}
				continue
			}

			_, kw := fromKeyword[h]
			var source knowledge.Source
			switch {
			case kw && fromVector:
				source = knowledge.SourceCombined
			case fromVector:
				source = knowledge.SourceVector
			default:
				source = knowledge.SourceKeyword
			}

			index[h] = len(out)
			out = append(out, knowledge.AttachedFragment{
				Fragment: f,
				Topic:    a.Topic,
				Source:   source,
				Score:    score,
			})
		}
	}

	return out
}

// capFragments 超过上限时丢弃最不重要的片段
//
// 丢弃顺序：PriorityHint 低的先丢；同优先级按来源置信度，vector 先于 combined
// 先于 keyword；再相同时后出现的先丢。保留的片段维持原有顺序。
func capFragments(fragments []knowledge.AttachedFragment, limit int) ([]knowledge.AttachedFragment, int) {
	if limit <= 0 || len(fragments) <= limit {
		return fragments, 0
	}

	order := make([]int, len(fragments))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		fa, fb := fragments[order[a]], fragments[order[b]]
		if pa, pb := fa.Fragment.PriorityHint(), fb.Fragment.PriorityHint(); pa != pb {
			return pa < pb
		}
		if ca, cb := fa.Source.Confidence(), fb.Source.Confidence(); ca != cb {
			return ca < cb
		}
		return order[a] > order[b]
	})

	dropped := len(fragments) - limit
	drop := make(map[int]struct{}, dropped)
	for _, i := range order[:dropped] {
		drop[i] = struct{}{}
	}

	kept := make([]knowledge.AttachedFragment, 0, limit)
	for i, f := range fragments {
		if _, ok := drop[i]; !ok {
			kept = append(kept, f)
		}
	}
	return kept, dropped
}
