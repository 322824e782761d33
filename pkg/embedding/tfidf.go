package embedding

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/easyops/contextengine/pkg/core/errors"
)

// TFIDFEmbedder TF-IDF 嵌入器
//
// 本地向量化实现，无需外部 API。必须先用片段语料调用 Fit，
// 词汇表之外的查询词被忽略。输出向量经过 L2 归一化，余弦相似度即点积。
type TFIDFEmbedder struct {
	vocabulary map[string]int // 词汇表：词 -> 索引
	idf        []float32      // 逆文档频率
	mu         sync.RWMutex
}

// NewTFIDFEmbedder 创建 TF-IDF 嵌入器
func NewTFIDFEmbedder() *TFIDFEmbedder {
	return &TFIDFEmbedder{
		vocabulary: make(map[string]int),
	}
}

// tokenize 分词
//
// 按字母与数字切分，其余字符视为分隔符。
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// Fit 训练嵌入器
//
// 根据文档集合构建词汇表和计算 IDF，重复调用会替换之前的结果。
func (e *TFIDFEmbedder) Fit(documents []string) {
	wordDocCount := make(map[string]int)

	for _, doc := range documents {
		seen := make(map[string]struct{})
		for _, token := range tokenize(doc) {
			if _, ok := seen[token]; !ok {
				wordDocCount[token]++
				seen[token] = struct{}{}
			}
		}
	}

	// 构建词汇表（按字母顺序排序以保证一致性）
	words := make([]string, 0, len(wordDocCount))
	for word := range wordDocCount {
		words = append(words, word)
	}
	sort.Strings(words)

	vocabulary := make(map[string]int, len(words))
	idf := make([]float32, len(words))
	n := float64(len(documents))
	for i, word := range words {
		vocabulary[word] = i
		df := float64(wordDocCount[word])
		idf[i] = float32(math.Log(n/df) + 1.0)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.vocabulary = vocabulary
	e.idf = idf
}

// Embed 将文本转换为 TF-IDF 向量
func (e *TFIDFEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.vocabulary) == 0 {
		return nil, fmt.Errorf("%w: tfidf embedder is not fitted", errors.ErrEmbeddingFailed)
	}

	result := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, contextError(ctx)
		}
		result[i] = e.transform(text)
	}
	return result, nil
}

// transform 计算单条文本的向量（调用者需持有读锁）
func (e *TFIDFEmbedder) transform(text string) []float32 {
	vector := make([]float32, len(e.vocabulary))

	tf := make(map[string]int)
	for _, token := range tokenize(text) {
		tf[token]++
	}

	for word, count := range tf {
		if idx, ok := e.vocabulary[word]; ok {
			// TF = log(1 + count)
			tfValue := float32(math.Log(1 + float64(count)))
			vector[idx] = tfValue * e.idf[idx]
		}
	}

	normalize(vector)
	return vector
}

// Dimensions 返回词汇表大小
func (e *TFIDFEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.vocabulary)
}

// normalize L2 归一化
func normalize(vector []float32) {
	var norm float32
	for _, val := range vector {
		norm += val * val
	}
	if norm > 0 {
		norm = float32(math.Sqrt(float64(norm)))
		for i := range vector {
			vector[i] /= norm
		}
	}
}

// compile-time interface check
var _ Embedder = (*TFIDFEmbedder)(nil)
