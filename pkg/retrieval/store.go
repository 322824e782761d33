// Package retrieval 提供向量回退检索
//
// 当关键词匹配没有结果时，通过相似度检索找到相关的知识片段。
// 这是每轮请求中唯一可能产生网络 I/O 的阶段，调用方需要设置超时。
package retrieval

import (
	"context"
	"math"

	"github.com/easyops/contextengine/pkg/knowledge"
)

// Record 向量记录
type Record struct {
	// ID 记录 ID（由片段内容哈希派生的 UUID）
	ID string
	// FragmentID 片段 ID
	FragmentID string
	// Language 片段语言，用于检索时过滤
	Language knowledge.Language
	// Vector 向量
	Vector []float32
}

// Hit 向量检索结果
type Hit struct {
	// FragmentID 片段 ID
	FragmentID string
	// Score 相似度分数
	Score float64
}

// VectorStore 向量存储接口
//
// 每个实例对应一个集合，检索时按语言过滤。
type VectorStore interface {
	// Upsert 批量写入或更新向量
	Upsert(ctx context.Context, records []Record) error
	// Search 返回与 vector 最相似的 topK 条记录（按分数降序）
	Search(ctx context.Context, vector []float32, lang knowledge.Language, topK int) ([]Hit, error)
	// Count 返回记录数量
	Count(ctx context.Context) (int, error)
	// Close 释放资源
	Close() error
}

// cosineSimilarity 计算余弦相似度
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64

	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// isZero 判断向量是否全为 0
func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
