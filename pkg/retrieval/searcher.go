package retrieval

import (
	"context"
	"fmt"

	"github.com/easyops/contextengine/pkg/core/errors"
	"github.com/easyops/contextengine/pkg/embedding"
	"github.com/easyops/contextengine/pkg/knowledge"
)

// Match 相似度检索命中
type Match struct {
	// FragmentID 片段 ID
	FragmentID string
	// Score 相似度分数
	Score float64
}

// SimilaritySearcher 相似度检索接口
//
// 返回不超过 k 条、分数不低于 minScore 的片段引用。
// 实现必须尊重 ctx 的取消与超时。
type SimilaritySearcher interface {
	SimilaritySearch(ctx context.Context, text string, lang knowledge.Language, k int, minScore float64) ([]Match, error)
}

// SearcherFunc 函数适配器
type SearcherFunc func(ctx context.Context, text string, lang knowledge.Language, k int, minScore float64) ([]Match, error)

// SimilaritySearch 实现 SimilaritySearcher
func (f SearcherFunc) SimilaritySearch(ctx context.Context, text string, lang knowledge.Language, k int, minScore float64) ([]Match, error) {
	return f(ctx, text, lang, k, minScore)
}

// EmbeddingSearcher 基于嵌入器与向量存储的检索实现
type EmbeddingSearcher struct {
	embedder embedding.Embedder
	store    VectorStore
}

// NewEmbeddingSearcher 创建检索器
func NewEmbeddingSearcher(embedder embedding.Embedder, store VectorStore) *EmbeddingSearcher {
	return &EmbeddingSearcher{embedder: embedder, store: store}
}

// SimilaritySearch 嵌入查询文本后按语言检索，丢弃低于 minScore 的结果
func (s *EmbeddingSearcher) SimilaritySearch(ctx context.Context, text string, lang knowledge.Language, k int, minScore float64) ([]Match, error) {
	vector, err := embedding.EmbedOne(ctx, s.embedder, text)
	if err != nil {
		return nil, err
	}

	// 零向量与任何文档都不相似（TF-IDF 下查询词全部不在词汇表中）
	if len(vector) == 0 || isZero(vector) {
		return nil, nil
	}

	hits, err := s.store.Search(ctx, vector, lang, k)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(hits))
	for _, h := range hits {
		// NaN 比较恒为 false，用取反写法一并过滤
		if !(h.Score >= minScore) {
			continue
		}
		matches = append(matches, Match{FragmentID: h.FragmentID, Score: h.Score})
	}

	if len(matches) > k && k > 0 {
		matches = matches[:k]
	}
	return matches, nil
}

// compile-time interface check
var _ SimilaritySearcher = (*EmbeddingSearcher)(nil)
var _ SimilaritySearcher = SearcherFunc(nil)

// errUnknownFragment 返回未知片段错误
func errUnknownFragment(id string) error {
	return fmt.Errorf("%w: %s", errors.ErrFragmentNotFound, id)
}
